package receipt

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"estatechat/internal/chat"
)

const selfID = 1

func peerMessage(id string) chat.Message {
	return chat.Message{
		ID:             id,
		ConversationID: "c1",
		SenderID:       2,
		Content:        "hi",
		Kind:           chat.KindText,
		CreatedAt:      time.Now().UTC(),
	}
}

func TestAnnouncesOnceForBurstOfUnread(t *testing.T) {
	assert := assert.New(t)
	store := chat.NewStore(selfID)
	emitted := 0
	tr := NewTracker(store, func() error {
		emitted++
		return nil
	})

	store.Reconcile(peerMessage("m-1"))
	tr.OnChange()
	store.Reconcile(peerMessage("m-2"))
	tr.OnChange()
	store.Reconcile(peerMessage("m-3"))
	tr.OnChange()

	assert.Equal(1, emitted)
}

func TestAnnouncesAgainAfterReceiptClears(t *testing.T) {
	assert := assert.New(t)
	store := chat.NewStore(selfID)
	emitted := 0
	tr := NewTracker(store, func() error {
		emitted++
		return nil
	})

	store.Reconcile(peerMessage("m-1"))
	tr.OnChange()
	assert.Equal(1, emitted)

	// Server confirmed the read, latch resets.
	store.MarkRead([]string{"m-1"})
	tr.OnChange()
	assert.Equal(1, emitted)

	store.Reconcile(peerMessage("m-2"))
	tr.OnChange()
	assert.Equal(2, emitted)
}

func TestNoAnnouncementWithoutPeerUnread(t *testing.T) {
	assert := assert.New(t)
	store := chat.NewStore(selfID)
	emitted := 0
	tr := NewTracker(store, func() error {
		emitted++
		return nil
	})

	own := peerMessage("m-1")
	own.SenderID = selfID
	store.Reconcile(own)
	tr.OnChange()

	assert.Equal(0, emitted)
}

func TestFailedEmitRetriesOnNextChange(t *testing.T) {
	assert := assert.New(t)
	store := chat.NewStore(selfID)
	calls := 0
	tr := NewTracker(store, func() error {
		calls++
		if calls == 1 {
			return errors.New("socket closed")
		}
		return nil
	})

	store.Reconcile(peerMessage("m-1"))
	tr.OnChange()
	assert.Equal(1, calls)

	// The latch reset on failure, so the next change tries again.
	store.Reconcile(peerMessage("m-2"))
	tr.OnChange()
	assert.Equal(2, calls)
}
