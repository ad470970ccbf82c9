package migrate

import (
	"errors"
	"fmt"
)

var (
	// ErrNotStruct means a shape or an instance is not a struct.
	ErrNotStruct = errors.New("record is not a struct")

	// ErrBadDefault means a default tag cannot be parsed for its field.
	ErrBadDefault = errors.New("invalid default tag")

	// ErrDuplicateRecord means a record key was registered twice.
	ErrDuplicateRecord = errors.New("record already registered")

	// ErrUnknownRecord means no record is registered under the key.
	ErrUnknownRecord = errors.New("unknown record")

	// ErrColumnMismatch means the new shape stores under a different
	// component key than the record it replaces.
	ErrColumnMismatch = errors.New("new shape changes component key")
)

// ConvertError reports an instance that could not be converted.
type ConvertError struct {
	Record string
	Field  string // empty when the failure is not tied to one field
	Err    error
}

// Error implements the error interface.
func (e *ConvertError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("convert %s.%s: %v", e.Record, e.Field, e.Err)
	}
	return fmt.Sprintf("convert %s: %v", e.Record, e.Err)
}

// Unwrap returns the underlying error.
func (e *ConvertError) Unwrap() error {
	return e.Err
}
