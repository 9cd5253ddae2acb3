package chat

import "encoding/json"

// Envelope frames every event on the websocket channel, both directions.
// Data holds the type-specific payload.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Event type names understood on the channel.
const (
	// client -> server
	EventJoin = "join"
	EventSend = "send"
	EventRead = "read"

	// server -> client
	EventMessage = "message"
	EventAck     = "ack"
	EventReceipt = "receipt"
	EventError   = "error"
)

// JoinPayload announces membership in a conversation.
type JoinPayload struct {
	ConversationID string `json:"conversation_id"`
	UserID         int    `json:"user_id"`
}

// SendPayload carries an outbound text message. TempID is the
// correlation id echoed back in the ack and in the confirmed message.
type SendPayload struct {
	ConversationID string `json:"conversation_id"`
	SenderID       int    `json:"sender_id"`
	Content        string `json:"content"`
	Kind           Kind   `json:"message_type"`
	TempID         string `json:"temp_id"`
}

// ReadPayload tells the server the reader has seen the conversation.
type ReadPayload struct {
	ConversationID string `json:"conversation_id"`
	ReaderUserID   int    `json:"reader_user_id"`
}

// AckPayload acknowledges a send attempt. A non-ok ack means the server
// rejected the message and it will never be echoed.
type AckPayload struct {
	TempID string `json:"temp_id"`
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
}

// ReceiptPayload reports that the non-sender has read a set of messages.
type ReceiptPayload struct {
	ConversationID string   `json:"conversation_id"`
	MessageIDs     []string `json:"message_ids"`
	IsRead         bool     `json:"is_read"`
}

// ErrorPayload carries a server-side chat error.
type ErrorPayload struct {
	Message string `json:"message"`
}

// NewEnvelope marshals payload into a framed event.
func NewEnvelope(typ string, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: typ, Data: data}, nil
}
