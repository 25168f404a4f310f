package connection

// State is the connection lifecycle state. Requests may only be sent while
// OPERATING.
type State int32

const (
	// StateDisconnected is the initial and final state.
	StateDisconnected State = iota

	// StateConnecting means the transport is being established.
	StateConnecting

	// StateInitializing means the transport is up and the handshake is in
	// flight.
	StateInitializing

	// StateOperating means the handshake completed; traffic may flow.
	StateOperating

	// StateShuttingDown means Disconnect is in progress.
	StateShuttingDown

	// StateError is reached from any state on unrecoverable I/O failure.
	StateError
)

// String returns the state's name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateInitializing:
		return "INITIALIZING"
	case StateOperating:
		return "OPERATING"
	case StateShuttingDown:
		return "SHUTTING_DOWN"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}
