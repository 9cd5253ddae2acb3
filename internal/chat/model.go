package chat

import "time"

// ---------------------------------------------
// Delivery lifecycle
// ---------------------------------------------

// DeliveryState tracks how far a message has progressed towards the peer.
// It only moves forward: sending -> sent -> delivered -> read. Failed is
// reachable from sending alone and is left only when the server later
// confirms the message after all (a reconcile for its correlation id).
type DeliveryState string

const (
	DeliverySending   DeliveryState = "sending"
	DeliverySent      DeliveryState = "sent"
	DeliveryDelivered DeliveryState = "delivered"
	DeliveryRead      DeliveryState = "read"
	DeliveryFailed    DeliveryState = "failed"
)

var deliveryRank = map[DeliveryState]int{
	DeliverySending:   0,
	DeliverySent:      1,
	DeliveryDelivered: 1,
	DeliveryRead:      2,
}

// Kind mirrors the message_type field on the wire.
type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
	KindFile  Kind = "file"
	KindFiles Kind = "files"
)

// ---------------------------------------------
// Message model
// ---------------------------------------------

// Message is the atomic unit of conversation state.
//
// ID is the stable server identity and is empty until the send is
// confirmed. CorrelationID is the client-generated token that joins a
// local optimistic entry with its later server echo; it is never reused.
type Message struct {
	ID             string        `json:"id"`
	CorrelationID  string        `json:"temp_id,omitempty"`
	ConversationID string        `json:"conversation_id"`
	SenderID       int           `json:"sender_id"`
	Content        string        `json:"content"`
	Kind           Kind          `json:"message_type"`
	CreatedAt      time.Time     `json:"created_at"`
	DeliveryState  DeliveryState `json:"-"`
	IsReadByPeer   bool          `json:"is_read"`
}

// FileMeta describes one uploaded attachment inside a files message.
type FileMeta struct {
	URL         string `json:"url"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

// FilePayload is the structured content of a Kind == KindFiles message.
// It is carried JSON-encoded in Message.Content, the same shape the
// upload endpoint produces.
type FilePayload struct {
	Type    string     `json:"type"`
	Caption string     `json:"caption,omitempty"`
	Files   []FileMeta `json:"files"`
}
