package devserver

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformed means a frame is not valid JSON or does not match the
	// message schema.
	ErrMalformed = errors.New("malformed devserver message")

	// ErrFrameTooLarge means a frame exceeded the size limit and was
	// skipped.
	ErrFrameTooLarge = fmt.Errorf("%w: frame too large", ErrMalformed)

	// ErrUnknownSource means a source string names no supported transport.
	ErrUnknownSource = errors.New("unknown message source")
)
