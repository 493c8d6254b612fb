package channel

// State is the lifecycle state of a Channel.
type State int

const (
	// StateDisconnected is the initial state and the state after an
	// intentional Disconnect.
	StateDisconnected State = iota

	// StateConnecting covers the initial dial and handshake.
	StateConnecting

	// StateConnected means the channel is live and Send will attempt delivery.
	StateConnected

	// StateReconnecting means the connection dropped and the backoff loop is
	// trying to restore it.
	StateReconnecting

	// StateError is terminal: reconnection attempts were exhausted. Only a
	// fresh Connect leaves this state.
	StateError
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
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}
