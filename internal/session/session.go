// Package session owns one live conversation: it wires the message store,
// connection manager, history loader, outbound pipeline and read-receipt
// tracker together and runs the single event loop that mutates the store.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/gommon/log"

	"estatechat/internal/chat"
	"estatechat/internal/conn"
	"estatechat/internal/history"
	"estatechat/internal/outbound"
	"estatechat/internal/receipt"
)

var ErrMissingToken = errors.New("session: auth token is required")

// Config carries everything a session needs to reach the chat service.
type Config struct {
	ServerURL   string // http(s)://host:port
	Token       string // bearer token; the user id comes from its claims
	SendTimeout time.Duration
	MaxAttempts int // reconnect budget
}

// Severity classifies a notification for the hosting UI.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
)

// Notification is a transient, user-visible connectivity or protocol
// event: "reconnecting", "messaging unavailable", a server error. The
// store itself is never cleared by any of these.
type Notification struct {
	Severity Severity
	Message  string
}

type tokenClaims struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Session is the owned, injectable object behind one open conversation.
// It is created by Open and torn down by Close; a new conversation means
// a new session.
type Session struct {
	conversationID string
	userID         int

	store    *chat.Store
	proj     *chat.Projection
	manager  *conn.Manager
	loader   *history.Loader
	pipeline *outbound.Pipeline
	uploader *outbound.Uploader
	tracker  *receipt.Tracker

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once

	notes chan Notification
}

// Open starts a session for one conversation. It fails fast without a
// token, derives the local user id from the token claims, connects the
// channel and begins consuming events.
func Open(cfg Config, conversationID string) (*Session, error) {
	if cfg.Token == "" {
		return nil, ErrMissingToken
	}
	userID, err := userIDFromToken(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("session: reading user id from token: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		conversationID: conversationID,
		userID:         userID,
		ctx:            ctx,
		cancel:         cancel,
		notes:          make(chan Notification, 16),
	}
	s.store = chat.NewStore(userID)
	s.proj = chat.NewProjection(s.store)
	s.manager = conn.New(conn.Config{
		URL:         wsURL(cfg.ServerURL),
		MaxAttempts: cfg.MaxAttempts,
	})
	s.loader = history.New(cfg.ServerURL, cfg.Token)
	s.pipeline = outbound.NewPipeline(s.manager, s.store, conversationID, userID, cfg.SendTimeout)
	s.uploader = outbound.NewUploader(cfg.ServerURL, cfg.Token)
	s.tracker = receipt.NewTracker(s.store, s.announceRead)

	if err := s.manager.Open(conversationID, userID, cfg.Token); err != nil {
		cancel()
		return nil, err
	}
	go s.loop()
	return s, nil
}

// Close tears the session down: the channel is released and any in-flight
// history response is discarded. Safe to call multiple times.
func (s *Session) Close() {
	s.once.Do(func() {
		s.cancel()
		s.manager.Close()
	})
}

// UserID is the local participant derived from the token.
func (s *Session) UserID() int { return s.userID }

// State reports channel connectivity.
func (s *Session) State() conn.State { return s.manager.State() }

// Notifications surfaces transient banners for the hosting UI.
func (s *Session) Notifications() <-chan Notification { return s.notes }

// Snapshot is the visible ordered message sequence.
func (s *Session) Snapshot() []chat.Message { return s.store.Snapshot() }

// Version increments on every store mutation, so callers can poll for
// re-render without diffing snapshots.
func (s *Session) Version() uint64 { return s.store.Version() }

// Projection is the memoized day-grouped view of the conversation.
func (s *Session) Projection() []chat.DayGroup { return s.proj.Groups() }

// SendText sends one text message, optimistically visible immediately.
func (s *Session) SendText(body string) (string, error) {
	return s.pipeline.SendText(body)
}

// SendFiles uploads files with an optional caption as one request. The
// resulting message arrives back over the channel like any other.
func (s *Session) SendFiles(ctx context.Context, files []outbound.File, caption string) (*outbound.UploadResult, []outbound.FileError, error) {
	return s.uploader.SendFiles(ctx, s.conversationID, files, caption)
}

// loop is the session's single logical task queue: every store mutation
// originating from the network happens here, so local inserts and remote
// echoes interleave without shared-memory races.
func (s *Session) loop() {
	events := s.manager.Events()
	for {
		select {
		case <-s.ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				// Manager shut down; keep serving the store until Close.
				events = nil
				continue
			}
			s.handle(ev)
		case <-s.store.Changes():
			s.tracker.OnChange()
		}
	}
}

func (s *Session) handle(ev conn.Event) {
	switch ev.Type {
	case conn.EventConnected:
		// Messages sent during a disconnect window live in the durable
		// log, not on the channel; refresh on every (re)connect.
		go s.refreshHistory()
	case conn.EventMessage:
		if ev.Message.ConversationID != s.conversationID {
			log.Debugf("session: message for other conversation %s ignored", ev.Message.ConversationID)
			return
		}
		s.store.Reconcile(ev.Message)
		if ev.Message.SenderID == s.userID && ev.Message.CorrelationID != "" {
			s.pipeline.Confirm(ev.Message.CorrelationID)
		}
	case conn.EventAck:
		if !ev.Ack.OK {
			s.pipeline.Fail(ev.Ack.TempID, ev.Ack.Error)
			s.notify(SeverityError, "message could not be delivered")
		}
	case conn.EventReceipt:
		if ev.Receipt.ConversationID == s.conversationID && ev.Receipt.IsRead {
			s.store.MarkRead(ev.Receipt.MessageIDs)
		}
	case conn.EventServerError:
		log.Warnf("session: server error: %s", ev.Reason)
		s.notify(SeverityWarning, ev.Reason)
	case conn.EventDisconnected:
		s.notify(SeverityWarning, "connection lost, reconnecting")
	case conn.EventReconnecting:
		s.notify(SeverityInfo, fmt.Sprintf("reconnecting (attempt %d)", ev.Attempt))
	case conn.EventReconnectFailed:
		s.notify(SeverityError, "messaging unavailable")
	}
}

// refreshHistory seeds the store from the durable log. The session
// context guards against teardown races: a response that lands after
// Close is dropped on the floor.
func (s *Session) refreshHistory() {
	batch, err := s.loader.Load(s.ctx, s.conversationID)
	if err != nil {
		if s.ctx.Err() != nil {
			return
		}
		log.Warnf("session: history load failed: %v", err)
		s.notify(SeverityWarning, "could not load message history")
		return
	}
	if s.ctx.Err() != nil {
		return
	}
	s.store.Seed(batch)
}

// announceRead emits one read event for the whole unread batch.
func (s *Session) announceRead() error {
	env, err := chat.NewEnvelope(chat.EventRead, chat.ReadPayload{
		ConversationID: s.conversationID,
		ReaderUserID:   s.userID,
	})
	if err != nil {
		return err
	}
	return s.manager.Send(env)
}

func (s *Session) notify(sev Severity, msg string) {
	select {
	case s.notes <- Notification{Severity: sev, Message: msg}:
	default:
		// A stalled UI never blocks the engine.
	}
}

func userIDFromToken(token string) (int, error) {
	claims := &tokenClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return 0, err
	}
	if claims.ID == 0 {
		return 0, errors.New("token has no user id claim")
	}
	return claims.ID, nil
}

func wsURL(serverURL string) string {
	switch {
	case strings.HasPrefix(serverURL, "https://"):
		return "wss://" + strings.TrimPrefix(serverURL, "https://") + "/ws"
	case strings.HasPrefix(serverURL, "http://"):
		return "ws://" + strings.TrimPrefix(serverURL, "http://") + "/ws"
	default:
		return serverURL + "/ws"
	}
}
