package hotfn

import "errors"

var (
	// ErrUnknownIdentity means the identity was never registered.
	ErrUnknownIdentity = errors.New("unknown hot identity")

	// ErrUnknownSymbol means a jump table names a symbol its library does not export.
	ErrUnknownSymbol = errors.New("unknown symbol")

	// ErrUnknownLibrary means the loader has no library under the given name.
	ErrUnknownLibrary = errors.New("unknown patch library")

	// ErrUnsafePatch means a new body is not call-compatible with the body it
	// replaces. Applying it would make the next invocation panic.
	ErrUnsafePatch = errors.New("unsafe patch")

	// ErrEmptyJumpTable means the jump table has no library or no mappings.
	ErrEmptyJumpTable = errors.New("empty jump table")
)
