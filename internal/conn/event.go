package conn

import "estatechat/internal/chat"

// EventType discriminates the manager's event stream.
type EventType int

const (
	EventConnected EventType = iota
	EventDisconnected
	EventReconnecting
	EventReconnectFailed
	EventMessage
	EventAck
	EventReceipt
	EventServerError
)

func (t EventType) String() string {
	switch t {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventReconnecting:
		return "reconnecting"
	case EventReconnectFailed:
		return "reconnect_failed"
	case EventMessage:
		return "message"
	case EventAck:
		return "ack"
	case EventReceipt:
		return "receipt"
	case EventServerError:
		return "server_error"
	default:
		return "unknown"
	}
}

// Event is one entry in the typed stream surfaced by the manager. Only the
// fields relevant to the Type are populated.
type Event struct {
	Type    EventType
	Attempt int    // EventReconnecting
	Reason  string // EventDisconnected, EventServerError
	Message chat.Message
	Ack     chat.AckPayload
	Receipt chat.ReceiptPayload
}
