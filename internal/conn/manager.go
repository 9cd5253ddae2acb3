package conn

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/labstack/gommon/log"

	"estatechat/internal/chat"
)

const (
	writeWait      = 10 * time.Second    // Time allowed to write a message to the server.
	pongWait       = 60 * time.Second    // Time allowed to read the next pong.
	pingPeriod     = (pongWait * 9) / 10 // Must be less than pongWait.
	maxMessageSize = 1 << 20             // Server messages can carry file payload JSON.
)

var (
	ErrMissingToken = errors.New("conn: auth token is required")
	ErrClosed       = errors.New("conn: manager is closed")
	ErrAlreadyOpen  = errors.New("conn: already open for another conversation")
	ErrNotConnected = errors.New("conn: not connected")
)

// Config tunes one Manager. Zero values fall back to the defaults below.
type Config struct {
	URL            string // websocket endpoint, e.g. ws://localhost:8080/ws
	MaxAttempts    int    // reconnect budget, default 5
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 10 * time.Second
	}
	return c
}

// Manager owns the lifecycle of one bidirectional channel for one
// conversation. It dials, announces membership on every (re)connect, pumps
// inbound frames into a typed event stream, and reconnects with capped
// exponential backoff up to a bounded number of attempts.
type Manager struct {
	cfg Config

	mu             sync.Mutex
	state          State
	started        bool
	conversationID string
	userID         int
	token          string
	send           chan chat.Envelope // current connection's outbound pump, nil while down
	cancel         context.CancelFunc

	events chan Event
}

// New creates an idle manager. Call Open to connect.
func New(cfg Config) *Manager {
	return &Manager{
		cfg:    cfg.withDefaults(),
		state:  StateIdle,
		events: make(chan Event, 64),
	}
}

// Events is the manager's typed stream. It is closed when the manager
// shuts down, after the reconnect budget is exhausted or Close is called.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// State reports the current connectivity state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connected reports whether the channel is currently live.
func (m *Manager) Connected() bool {
	return m.State() == StateConnected
}

// Open connects the channel for one conversation. It fails fast when the
// token is empty and is idempotent: re-opening the same conversation while
// the channel is up (or connecting) is a no-op.
func (m *Manager) Open(conversationID string, userID int, authToken string) error {
	if authToken == "" {
		return ErrMissingToken
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case StateClosed, StateFailed:
		// Failed is terminal; the owner builds a fresh manager to retry.
		return ErrClosed
	case StateIdle:
		// proceed
	default:
		if m.conversationID == conversationID {
			return nil
		}
		return ErrAlreadyOpen
	}
	m.conversationID = conversationID
	m.userID = userID
	m.token = authToken
	m.state = StateConnecting
	m.started = true
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	go m.run(ctx)
	return nil
}

// Close releases the channel and the event stream. Safe to call multiple
// times.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return
	}
	m.state = StateClosed
	started := m.started
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if !started {
		// No run loop ever owned the stream; close it here.
		close(m.events)
	}
}

// Send queues one envelope on the live connection. It fails immediately
// while the channel is down; callers decide whether to surface or retry.
func (m *Manager) Send(env chat.Envelope) error {
	m.mu.Lock()
	ch := m.send
	state := m.state
	m.mu.Unlock()
	if state != StateConnected || ch == nil {
		return ErrNotConnected
	}
	select {
	case ch <- env:
		return nil
	default:
		return errors.New("conn: outbound queue full")
	}
}

// run owns the connection from first dial to teardown. It is the only
// goroutine that touches the events channel, so closing it here is safe.
func (m *Manager) run(ctx context.Context) {
	defer close(m.events)

	c, err := m.dial(ctx)
	if err != nil {
		log.Warnf("conn: initial connect failed: %v", err)
		m.emit(ctx, Event{Type: EventDisconnected, Reason: err.Error()})
		c = m.reconnect(ctx)
		if c == nil {
			return
		}
	}

	for {
		m.setState(StateConnected)
		m.emit(ctx, Event{Type: EventConnected})
		reason := m.serve(ctx, c)
		if ctx.Err() != nil {
			return
		}
		log.Warnf("conn: disconnected: %v", reason)
		m.emit(ctx, Event{Type: EventDisconnected, Reason: reason.Error()})
		c = m.reconnect(ctx)
		if c == nil {
			return
		}
	}
}

// dial opens the websocket with the bearer token and announces membership
// in the conversation before anything else goes over the wire.
func (m *Manager) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+m.token)
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	c, _, err := websocket.DefaultDialer.DialContext(dialCtx, m.cfg.URL, header)
	if err != nil {
		return nil, err
	}
	join, err := chat.NewEnvelope(chat.EventJoin, chat.JoinPayload{
		ConversationID: m.conversationID,
		UserID:         m.userID,
	})
	if err != nil {
		c.Close()
		return nil, err
	}
	c.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.WriteJSON(join); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// reconnect retries the dial with capped exponential backoff until the
// budget is spent. It returns nil once the manager is closed or the budget
// is exhausted (after emitting EventReconnectFailed).
func (m *Manager) reconnect(ctx context.Context) *websocket.Conn {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = m.cfg.InitialBackoff
	bo.MaxInterval = m.cfg.MaxBackoff
	bo.MaxElapsedTime = 0
	bo.Reset()

	for attempt := 1; attempt <= m.cfg.MaxAttempts; attempt++ {
		m.setState(StateReconnecting)
		m.emit(ctx, Event{Type: EventReconnecting, Attempt: attempt})
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(bo.NextBackOff()):
		}
		c, err := m.dial(ctx)
		if err == nil {
			return c
		}
		log.Warnf("conn: reconnect attempt %d failed: %v", attempt, err)
	}
	m.setState(StateFailed)
	m.emit(ctx, Event{Type: EventReconnectFailed})
	return nil
}

// serve runs the write pump in the background and the read pump inline,
// returning the error that took the connection down.
func (m *Manager) serve(ctx context.Context, c *websocket.Conn) error {
	send := make(chan chat.Envelope, 256)
	m.mu.Lock()
	m.send = send
	m.mu.Unlock()

	done := make(chan struct{})
	go m.writePump(c, send, done)
	go func() {
		// Unblock the read pump when the manager is closed.
		select {
		case <-ctx.Done():
			c.Close()
		case <-done:
		}
	}()

	err := m.readPump(ctx, c)

	m.mu.Lock()
	m.send = nil
	m.mu.Unlock()
	close(done)
	c.Close()
	return err
}

// readPump pumps frames from the websocket into the event stream.
// Malformed payloads are logged and dropped; they never take the store or
// the connection down.
func (m *Manager) readPump(ctx context.Context, c *websocket.Conn) error {
	c.SetReadLimit(maxMessageSize)
	c.SetReadDeadline(time.Now().Add(pongWait))
	c.SetPongHandler(func(string) error {
		c.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, raw, err := c.ReadMessage()
		if err != nil {
			return err
		}
		var env chat.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			log.Warnf("conn: dropping unparseable frame: %v", err)
			continue
		}
		m.dispatch(ctx, env)
	}
}

func (m *Manager) dispatch(ctx context.Context, env chat.Envelope) {
	switch env.Type {
	case chat.EventMessage:
		var msg chat.Message
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			log.Warnf("conn: dropping malformed message payload: %v", err)
			return
		}
		if msg.Kind == "" {
			msg.Kind = chat.KindText
		}
		m.emit(ctx, Event{Type: EventMessage, Message: msg})
	case chat.EventAck:
		var ack chat.AckPayload
		if err := json.Unmarshal(env.Data, &ack); err != nil {
			log.Warnf("conn: dropping malformed ack payload: %v", err)
			return
		}
		m.emit(ctx, Event{Type: EventAck, Ack: ack})
	case chat.EventReceipt:
		var rcpt chat.ReceiptPayload
		if err := json.Unmarshal(env.Data, &rcpt); err != nil {
			log.Warnf("conn: dropping malformed receipt payload: %v", err)
			return
		}
		m.emit(ctx, Event{Type: EventReceipt, Receipt: rcpt})
	case chat.EventError:
		var e chat.ErrorPayload
		if err := json.Unmarshal(env.Data, &e); err != nil {
			log.Warnf("conn: dropping malformed error payload: %v", err)
			return
		}
		m.emit(ctx, Event{Type: EventServerError, Reason: e.Message})
	default:
		log.Debugf("conn: ignoring unknown event type %q", env.Type)
	}
}

// writePump drains the outbound queue onto the connection and keeps it
// alive with pings, with a write deadline on every frame.
func (m *Manager) writePump(c *websocket.Conn, send <-chan chat.Envelope, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case env := <-send:
			c.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.WriteJSON(env); err != nil {
				return
			}
		case <-ticker.C:
			c.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			c.SetWriteDeadline(time.Now().Add(writeWait))
			c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	if m.state != StateClosed {
		m.state = s
	}
	m.mu.Unlock()
}

// emit delivers one event, giving up only when the manager shuts down so
// no event is silently dropped on a momentarily slow consumer.
func (m *Manager) emit(ctx context.Context, ev Event) {
	select {
	case m.events <- ev:
	case <-ctx.Done():
	}
}
