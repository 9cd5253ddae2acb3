package conn

// State is the connectivity state machine of one channel:
//
//	Idle -> Connecting -> Connected -> (Reconnecting <-> Connected) -> Failed
//
// Closed is reached from anywhere via Close and is terminal. Failed is
// terminal too: the bounded reconnect budget is exhausted and only a new
// manager can connect again.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "reconnect_failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
