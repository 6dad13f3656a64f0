package session

import "errors"

// Sentinel errors for session establishment. Use errors.Is for comparison.
var (
	// ErrMissingCredential indicates that no provider credential was
	// configured. Raised before any device is opened.
	ErrMissingCredential = errors.New("session: missing credential")

	// ErrCaptureUnavailable indicates that the microphone could not be
	// opened or started.
	ErrCaptureUnavailable = errors.New("session: capture unavailable")

	// ErrAlreadyStarted indicates that Start was called twice. A controller
	// runs one session; create a new controller for a new session.
	ErrAlreadyStarted = errors.New("session: already started")
)
