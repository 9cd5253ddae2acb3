// Package outbound turns user intent into exactly one network effect: a
// channel event for text, or a single multipart upload for files.
package outbound

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/labstack/gommon/log"
	"github.com/nrednav/cuid2"

	"estatechat/internal/chat"
)

// DefaultSendTimeout bounds how long an optimistic send may wait for
// reconciliation before it is marked failed. The channel can silently
// drop events, so waiting forever would strand the message in sending.
const DefaultSendTimeout = 15 * time.Second

var (
	ErrEmptyMessage = errors.New("outbound: message body is empty")
	ErrNotConnected = errors.New("outbound: channel is not connected")
	ErrSendInFlight = errors.New("outbound: a send is already in flight")
)

// Channel is the slice of the connection manager the pipeline needs.
type Channel interface {
	Connected() bool
	Send(chat.Envelope) error
}

// Pipeline performs optimistic text sends for one conversation. It is
// single-flight: a second send is rejected locally until the previous one
// is confirmed, failed or timed out.
type Pipeline struct {
	ch             Channel
	store          *chat.Store
	conversationID string
	senderID       int
	timeout        time.Duration

	mu       sync.Mutex
	inFlight string // correlation id of the pending send, "" when idle
	timer    *time.Timer
}

// NewPipeline wires a pipeline to its channel and store. A non-positive
// timeout falls back to DefaultSendTimeout.
func NewPipeline(ch Channel, store *chat.Store, conversationID string, senderID int, timeout time.Duration) *Pipeline {
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}
	return &Pipeline{
		ch:             ch,
		store:          store,
		conversationID: conversationID,
		senderID:       senderID,
		timeout:        timeout,
	}
}

// SendText validates the body, inserts the optimistic message and emits
// one send event tagged with a fresh correlation id, which it returns.
// Nothing touches the network or the store when validation or the
// single-flight guard rejects the send.
func (p *Pipeline) SendText(body string) (string, error) {
	trimmed := strings.TrimSpace(body)
	if trimmed == "" {
		return "", ErrEmptyMessage
	}
	if !p.ch.Connected() {
		return "", ErrNotConnected
	}

	p.mu.Lock()
	if p.inFlight != "" {
		p.mu.Unlock()
		return "", ErrSendInFlight
	}
	correlationID := cuid2.Generate()
	p.inFlight = correlationID
	p.mu.Unlock()

	p.store.InsertOptimistic(chat.Message{
		CorrelationID:  correlationID,
		ConversationID: p.conversationID,
		SenderID:       p.senderID,
		Content:        trimmed,
		Kind:           chat.KindText,
		CreatedAt:      time.Now().UTC(),
	})

	env, err := chat.NewEnvelope(chat.EventSend, chat.SendPayload{
		ConversationID: p.conversationID,
		SenderID:       p.senderID,
		Content:        trimmed,
		Kind:           chat.KindText,
		TempID:         correlationID,
	})
	if err == nil {
		err = p.ch.Send(env)
	}
	if err != nil {
		p.store.MarkFailed(correlationID)
		p.clear(correlationID)
		return "", err
	}

	p.mu.Lock()
	// Confirm may have already landed between Send and here; a timer for a
	// settled send would only leak.
	if p.inFlight == correlationID {
		p.timer = time.AfterFunc(p.timeout, func() { p.expire(correlationID) })
	}
	p.mu.Unlock()
	return correlationID, nil
}

// Confirm releases the single-flight guard once the send with the given
// correlation id has been acknowledged or reconciled.
func (p *Pipeline) Confirm(correlationID string) {
	p.clear(correlationID)
}

// Fail marks the pending send failed after a server rejection. The
// message stays visible in its failed state; retrying means sending it
// again as a new message.
func (p *Pipeline) Fail(correlationID string, reason string) {
	if p.store.MarkFailed(correlationID) {
		log.Warnf("outbound: send %s rejected: %s", correlationID, reason)
	}
	p.clear(correlationID)
}

// InFlight reports whether a send is still awaiting confirmation.
func (p *Pipeline) InFlight() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inFlight != ""
}

func (p *Pipeline) expire(correlationID string) {
	if p.store.MarkFailed(correlationID) {
		log.Warnf("outbound: send %s not confirmed within %s, marked failed", correlationID, p.timeout)
	}
	p.clear(correlationID)
}

func (p *Pipeline) clear(correlationID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inFlight != correlationID {
		return
	}
	p.inFlight = ""
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}
