package chat

import (
	"sort"
	"sync"

	"github.com/labstack/gommon/log"
)

// Store is the single source of truth for the visible message sequence of
// one conversation. All mutation goes through Seed, InsertOptimistic,
// Reconcile, MarkRead and MarkFailed; reads go through Snapshot, which
// sorts by creation time with arrival order breaking ties.
//
// Entries are indexed by server id and by correlation id so reconciling a
// server echo is an O(1) lookup regardless of conversation size.
type Store struct {
	mu      sync.Mutex
	selfID  int
	entries []*entry // arrival order
	byID    map[string]*entry
	byCorr  map[string]*entry
	version uint64
	changes chan struct{}
}

type entry struct {
	msg Message
}

// NewStore creates an empty store owned by the local user selfID.
func NewStore(selfID int) *Store {
	return &Store{
		selfID:  selfID,
		byID:    make(map[string]*entry),
		byCorr:  make(map[string]*entry),
		changes: make(chan struct{}, 1),
	}
}

// Changes delivers a coalesced signal every time the store mutates.
// A slow consumer sees at most one pending signal.
func (s *Store) Changes() <-chan struct{} {
	return s.changes
}

// Version increments on every mutation. The projection uses it to memoize.
func (s *Store) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// Seed merges a history batch into the store. Records are routed through
// the same matching logic as live echoes, so a reload after a disconnect
// collapses onto stale optimistic entries instead of duplicating them.
func (s *Store) Seed(batch []Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := false
	for _, m := range batch {
		if s.mergeServerLocked(m) {
			changed = true
		}
	}
	if changed {
		s.notifyLocked()
	}
}

// InsertOptimistic appends a locally-originated message before the server
// has confirmed it. The message must carry a fresh correlation id; its
// delivery state is forced to sending.
func (s *Store) InsertOptimistic(m Message) {
	if m.CorrelationID == "" {
		log.Warn("store: optimistic insert without correlation id dropped")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byCorr[m.CorrelationID]; exists {
		log.Warnf("store: duplicate optimistic insert for %s dropped", m.CorrelationID)
		return
	}
	m.ID = ""
	m.DeliveryState = DeliverySending
	m.SenderID = s.selfID
	e := &entry{msg: m}
	s.entries = append(s.entries, e)
	s.byCorr[m.CorrelationID] = e
	s.notifyLocked()
}

// Reconcile merges a server-confirmed message into the store:
// a correlation-id match replaces the optimistic entry in place, a
// server-id match is a duplicate echo and is ignored, anything else is
// appended as new. Reconciling then re-reconciling the same payload is
// idempotent.
func (s *Store) Reconcile(server Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mergeServerLocked(server) {
		s.notifyLocked()
	}
}

func (s *Store) mergeServerLocked(server Message) bool {
	if server.CorrelationID != "" {
		if e, ok := s.byCorr[server.CorrelationID]; ok {
			return s.confirmLocked(e, server)
		}
	}
	if server.ID != "" {
		if _, ok := s.byID[server.ID]; ok {
			// Duplicate echo for an id already visible.
			return false
		}
	}
	e := &entry{msg: server}
	e.msg.DeliveryState = s.confirmedState(server)
	s.entries = append(s.entries, e)
	if server.ID != "" {
		s.byID[server.ID] = e
	}
	if server.CorrelationID != "" {
		s.byCorr[server.CorrelationID] = e
	}
	return true
}

// confirmLocked folds a server echo onto the optimistic entry that carries
// the same correlation id: the server-assigned id and canonical timestamp
// win, the delivery state advances, and a failed flag is cleared.
func (s *Store) confirmLocked(e *entry, server Message) bool {
	if server.ID != "" && e.msg.ID == server.ID {
		// Same id already applied; only the read flag and state can move.
		changed := false
		if server.IsReadByPeer && !e.msg.IsReadByPeer {
			e.msg.IsReadByPeer = true
			changed = true
		}
		if e.advance(s.confirmedState(server)) {
			changed = true
		}
		return changed
	}
	if e.msg.ID != "" {
		delete(s.byID, e.msg.ID)
	}
	e.msg.ID = server.ID
	e.msg.ConversationID = server.ConversationID
	e.msg.Content = server.Content
	e.msg.Kind = server.Kind
	e.msg.CreatedAt = server.CreatedAt
	if server.IsReadByPeer {
		e.msg.IsReadByPeer = true
	}
	e.advance(s.confirmedState(server))
	if server.ID != "" {
		s.byID[server.ID] = e
	}
	return true
}

// MarkRead applies a read receipt. Ids that are not present locally are
// dropped silently; the conversation is small enough that no negative
// cache is needed. Only messages sent by the local user advance to read,
// but the read-by-peer flag flips for every referenced message.
func (s *Store) MarkRead(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := false
	for _, id := range ids {
		e, ok := s.byID[id]
		if !ok {
			log.Debugf("store: receipt for unknown message %s dropped", id)
			continue
		}
		if !e.msg.IsReadByPeer {
			e.msg.IsReadByPeer = true
			changed = true
		}
		if e.msg.SenderID == s.selfID && e.advance(DeliveryRead) {
			changed = true
		}
	}
	if changed {
		s.notifyLocked()
	}
}

// MarkFailed flips the optimistic message with the given correlation id to
// failed. It reports whether anything changed; a message that already left
// the sending state is not touched.
func (s *Store) MarkFailed(correlationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byCorr[correlationID]
	if !ok || e.msg.DeliveryState != DeliverySending {
		return false
	}
	e.msg.DeliveryState = DeliveryFailed
	s.notifyLocked()
	return true
}

// Snapshot returns the visible sequence: ascending creation time, arrival
// order for equal timestamps.
func (s *Store) Snapshot() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.msg
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Len reports the number of visible messages.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// HasUnreadFromPeer reports whether any message from the other participant
// has not been read locally yet.
func (s *Store) HasUnreadFromPeer() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.msg.SenderID != s.selfID && !e.msg.IsReadByPeer {
			return true
		}
	}
	return false
}

// confirmedState derives the delivery state of a server-confirmed message:
// sent when this client authored it, delivered when it came from the peer,
// read when the server already saw a receipt for it.
func (s *Store) confirmedState(m Message) DeliveryState {
	st := DeliveryDelivered
	if m.SenderID == s.selfID {
		st = DeliverySent
	}
	if m.IsReadByPeer {
		st = DeliveryRead
	}
	return st
}

// advance moves the delivery state forward, never backward. A failed entry
// leaves that state only here, on server confirmation.
func (e *entry) advance(to DeliveryState) bool {
	cur := e.msg.DeliveryState
	if cur == to {
		return false
	}
	if cur == DeliveryFailed || deliveryRank[to] > deliveryRank[cur] {
		e.msg.DeliveryState = to
		return true
	}
	return false
}

func (s *Store) notifyLocked() {
	s.version++
	select {
	case s.changes <- struct{}{}:
	default:
	}
}
