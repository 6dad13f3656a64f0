package live

import "errors"

// Connect-time and session error kinds. Providers wrap these so callers can
// classify failures with errors.Is without depending on provider internals.
var (
	// ErrAuth reports a missing or rejected credential. Terminal for the
	// connect attempt.
	ErrAuth = errors.New("live: authentication failed")

	// ErrNetwork reports an unreachable or unresponsive endpoint. Terminal
	// for the connect attempt.
	ErrNetwork = errors.New("live: network error")

	// ErrClosed reports an operation on a session that has been closed.
	ErrClosed = errors.New("live: session closed")
)
