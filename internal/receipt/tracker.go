// Package receipt watches the message store for unread peer messages and
// announces them without flooding the channel.
package receipt

import (
	"sync"

	"estatechat/internal/chat"
)

// Tracker collapses any batch of newly-arrived unread peer messages into
// exactly one read announcement. The latch stays set while unread
// messages remain, and clears once they are all read so the next batch
// triggers exactly one more emission.
type Tracker struct {
	store *chat.Store
	emit  func() error // sends the read event over the channel

	mu        sync.Mutex
	announced bool
}

// NewTracker wires the tracker to its store. emit is called at most once
// per unread batch; it must not block. When emit fails (channel down) the
// latch stays clear so the next store change retries the announcement.
func NewTracker(store *chat.Store, emit func() error) *Tracker {
	return &Tracker{store: store, emit: emit}
}

// OnChange recomputes the unread predicate after a store mutation and
// drives the latch.
func (t *Tracker) OnChange() {
	hasUnread := t.store.HasUnreadFromPeer()

	t.mu.Lock()
	fire := hasUnread && !t.announced
	t.announced = hasUnread
	t.mu.Unlock()

	if fire && t.emit() != nil {
		t.mu.Lock()
		t.announced = false
		t.mu.Unlock()
	}
}
