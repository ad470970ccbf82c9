package indirect

import "errors"

var (
	// ErrAlreadyOwned means a body or identity was adopted twice.
	ErrAlreadyOwned = errors.New("system already owned by arena")

	// ErrNotOwned means no body is registered under the identity.
	ErrNotOwned = errors.New("identity not owned by arena")

	// ErrArenaClosed means the arena has released its bodies.
	ErrArenaClosed = errors.New("arena closed")

	// ErrAlreadyInstalled means Install ran twice on the same installer.
	ErrAlreadyInstalled = errors.New("indirection already installed")
)
