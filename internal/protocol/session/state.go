package session

// State is the session lifecycle position.
type State uint8

const (
	StateIdle State = iota
	StateConnecting
	StateAwaitingVerification
	StateVerified
	StateDisconnected
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateAwaitingVerification:
		return "awaiting_verification"
	case StateVerified:
		return "verified"
	case StateDisconnected:
		return "disconnected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// sessionState is guarded by Client.mu.
type sessionState struct {
	clientID         string
	hasClientID      bool
	sessionID        string
	info             map[string]any
	verified         bool
	reconnectEnabled bool
}

// Snapshot is a consistent copy of the session fields.
type Snapshot struct {
	State            State
	ClientID         string
	HasClientID      bool
	SessionID        string
	Info             map[string]any
	Verified         bool
	ReconnectEnabled bool
	QueueLen         int
}
