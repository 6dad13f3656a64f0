package session

// State identifies a phase of the session lifecycle.
type State int

const (
	// StateIdle is the state before Start is called.
	StateIdle State = iota
	// StateConnecting covers device setup and transport establishment.
	StateConnecting
	// StateConnected means audio is flowing in both directions.
	StateConnected
	// StateDisconnected is the terminal state after a clean teardown.
	StateDisconnected
	// StateError is the terminal state after a failure; Status.Err holds
	// the reason.
	StateError
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Status is a snapshot of the session lifecycle, delivered to status
// observers on every transition.
type Status struct {
	State State
	// Err is the failure reason. Only set when State is StateError.
	Err error
}
