package dispatch

import "errors"

// Sentinel errors for dispatcher operations.
var (
	// ErrNoSource indicates the dispatcher was configured without a source.
	ErrNoSource = errors.New("dispatch: no update source configured")

	// ErrAlreadyRegistered indicates a builder that already has an id.
	ErrAlreadyRegistered = errors.New("dispatch: builder already registered")

	// ErrUnknownBuilder indicates a builder id that is not registered.
	ErrUnknownBuilder = errors.New("dispatch: unknown builder")
)
