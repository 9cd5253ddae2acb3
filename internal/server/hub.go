package server

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/gommon/log"

	"estatechat/internal/chat"
)

type frame struct {
	client *Client
	env    chat.Envelope
}

type delivery struct {
	conversationID string
	env            chat.Envelope
}

// Hub routes envelopes between clients of the same conversation. A single
// goroutine owns the client set, so handlers never touch it directly.
type Hub struct {
	register   chan *Client
	unregister chan *Client
	inbound    chan frame
	deliver    chan delivery

	clients map[*Client]bool
	log     *Log
}

func NewHub(msgLog *Log) *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan frame, 64),
		deliver:    make(chan delivery, 64),
		clients:    make(map[*Client]bool),
		log:        msgLog,
	}
}

// Publish broadcasts an envelope to every member of a conversation. Used by
// HTTP handlers that create messages outside the socket path.
func (h *Hub) Publish(conversationID string, env chat.Envelope) {
	h.deliver <- delivery{conversationID: conversationID, env: env}
}

func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.clients[c] = true
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
		case f := <-h.inbound:
			h.handle(f)
		case d := <-h.deliver:
			h.broadcast(d.conversationID, d.env)
		}
	}
}

func (h *Hub) handle(f frame) {
	switch f.env.Type {
	case chat.EventJoin:
		var p chat.JoinPayload
		if err := json.Unmarshal(f.env.Data, &p); err != nil {
			h.sendError(f.client, "malformed join payload")
			return
		}
		f.client.conversationID = p.ConversationID
		log.Infof("user %d joined conversation %s", f.client.userID, p.ConversationID)
	case chat.EventSend:
		h.handleSend(f)
	case chat.EventRead:
		h.handleRead(f)
	default:
		h.sendError(f.client, "unknown event type "+f.env.Type)
	}
}

func (h *Hub) handleSend(f frame) {
	var p chat.SendPayload
	if err := json.Unmarshal(f.env.Data, &p); err != nil {
		h.sendError(f.client, "malformed send payload")
		return
	}
	if p.Content == "" {
		h.ack(f.client, chat.AckPayload{TempID: p.TempID, OK: false, Error: "empty message"})
		return
	}
	kind := p.Kind
	if kind == "" {
		kind = chat.KindText
	}
	msg := chat.Message{
		ID:             uuid.NewString(),
		CorrelationID:  p.TempID,
		ConversationID: p.ConversationID,
		SenderID:       f.client.userID,
		Content:        p.Content,
		Kind:           kind,
		CreatedAt:      time.Now().UTC(),
	}
	h.log.Append(msg)
	h.ack(f.client, chat.AckPayload{TempID: p.TempID, OK: true})

	env, err := chat.NewEnvelope(chat.EventMessage, msg)
	if err != nil {
		log.Errorf("encode message: %v", err)
		return
	}
	h.broadcast(p.ConversationID, env)
}

func (h *Hub) handleRead(f frame) {
	var p chat.ReadPayload
	if err := json.Unmarshal(f.env.Data, &p); err != nil {
		h.sendError(f.client, "malformed read payload")
		return
	}
	updated := h.log.MarkRead(p.ConversationID, f.client.userID)
	if len(updated) == 0 {
		return
	}
	env, err := chat.NewEnvelope(chat.EventReceipt, chat.ReceiptPayload{
		ConversationID: p.ConversationID,
		MessageIDs:     updated,
		IsRead:         true,
	})
	if err != nil {
		log.Errorf("encode receipt: %v", err)
		return
	}
	h.broadcast(p.ConversationID, env)
}

func (h *Hub) broadcast(conversationID string, env chat.Envelope) {
	for c := range h.clients {
		if c.conversationID != conversationID {
			continue
		}
		select {
		case c.send <- env:
		default:
			// Slow consumer, drop it like any stuck connection.
			delete(h.clients, c)
			close(c.send)
		}
	}
}

func (h *Hub) ack(c *Client, p chat.AckPayload) {
	env, err := chat.NewEnvelope(chat.EventAck, p)
	if err != nil {
		log.Errorf("encode ack: %v", err)
		return
	}
	select {
	case c.send <- env:
	default:
	}
}

func (h *Hub) sendError(c *Client, msg string) {
	env, err := chat.NewEnvelope(chat.EventError, chat.ErrorPayload{Message: msg})
	if err != nil {
		return
	}
	select {
	case c.send <- env:
	default:
	}
}
