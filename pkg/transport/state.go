package transport

// State is the connection lifecycle position of the transport session.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	// StatePermanentlyDisconnected is terminal: the sidecar reported a
	// logout, or the reconnect budget is spent. Operator re-pairing is
	// required.
	StatePermanentlyDisconnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StatePermanentlyDisconnected:
		return "permanently_disconnected"
	default:
		return "unknown"
	}
}
