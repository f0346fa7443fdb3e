// Package session manages per-chat and per-user session state: builders
// that spawn sessions from updates, inactivity timeouts, flood monitors and
// the convenience methods handlers use to talk back to the chat.
package session

import "errors"

// Sentinel errors for session operations.
var (
	// ErrNoSpawner indicates a builder was configured without a spawner.
	ErrNoSpawner = errors.New("session: no spawner configured")

	// ErrAlreadyBound indicates a builder id was assigned twice.
	ErrAlreadyBound = errors.New("session: builder already has an id")

	// ErrClosed indicates the session has been closed and can no longer
	// send requests or schedule work.
	ErrClosed = errors.New("session: closed")

	// ErrNoSender indicates the host has no outbound sender.
	ErrNoSender = errors.New("session: no sender configured")
)
