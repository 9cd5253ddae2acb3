package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"estatechat/internal/chat"
	"estatechat/internal/conn"
	"estatechat/internal/outbound"
	"estatechat/internal/server"
)

func startBackend(t *testing.T) (*server.Server, *httptest.Server) {
	t.Helper()
	srv := server.New("test-secret")
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return srv, ts
}

func openSession(t *testing.T, srv *server.Server, baseURL string, userID int, name, conversationID string) *Session {
	t.Helper()
	token, err := srv.Auth().Mint(userID, name)
	require.NoError(t, err)

	sess, err := Open(Config{
		ServerURL:   baseURL,
		Token:       token,
		SendTimeout: 5 * time.Second,
		MaxAttempts: 2,
	}, conversationID)
	require.NoError(t, err)
	t.Cleanup(sess.Close)

	require.Eventually(t, func() bool {
		return sess.State() == conn.StateConnected
	}, 3*time.Second, 10*time.Millisecond, "session never connected")
	return sess
}

func TestOpenRequiresToken(t *testing.T) {
	_, err := Open(Config{ServerURL: "http://localhost:0"}, "c1")
	assert.ErrorIs(t, err, ErrMissingToken)
}

func TestOpenRejectsMalformedToken(t *testing.T) {
	_, err := Open(Config{ServerURL: "http://localhost:0", Token: "not-a-jwt"}, "c1")
	assert.Error(t, err)
}

func TestUserIDComesFromToken(t *testing.T) {
	assert := assert.New(t)
	srv, ts := startBackend(t)
	sess := openSession(t, srv, ts.URL, 7, "alice", "c1")
	assert.Equal(7, sess.UserID())
}

func TestSendTextReconcilesToSent(t *testing.T) {
	assert := assert.New(t)
	srv, ts := startBackend(t)
	sess := openSession(t, srv, ts.URL, 1, "alice", "c1")

	corrID, err := sess.SendText("is the flat still available?")
	assert.NoError(err)
	assert.NotEmpty(corrID)

	assert.Eventually(func() bool {
		snap := sess.Snapshot()
		return len(snap) == 1 && snap[0].ID != "" && snap[0].DeliveryState == chat.DeliverySent
	}, 3*time.Second, 10*time.Millisecond)

	snap := sess.Snapshot()
	assert.Equal(1, len(snap))
	assert.Equal("is the flat still available?", snap[0].Content)
	assert.Equal(1, snap[0].SenderID)
}

func TestHistorySeedsOnOpen(t *testing.T) {
	assert := assert.New(t)
	srv, ts := startBackend(t)

	first := openSession(t, srv, ts.URL, 1, "alice", "c1")
	_, err := first.SendText("hello from the past")
	assert.NoError(err)
	assert.Eventually(func() bool {
		snap := first.Snapshot()
		return len(snap) == 1 && snap[0].ID != ""
	}, 3*time.Second, 10*time.Millisecond)
	first.Close()

	second := openSession(t, srv, ts.URL, 1, "alice", "c1")
	assert.Eventually(func() bool {
		snap := second.Snapshot()
		return len(snap) == 1 && snap[0].Content == "hello from the past"
	}, 3*time.Second, 10*time.Millisecond)
}

func TestPeerReadFlowsBackAsReceipt(t *testing.T) {
	assert := assert.New(t)
	srv, ts := startBackend(t)

	alice := openSession(t, srv, ts.URL, 1, "alice", "c1")
	_, err := alice.SendText("ping")
	assert.NoError(err)
	assert.Eventually(func() bool {
		snap := alice.Snapshot()
		return len(snap) == 1 && snap[0].DeliveryState == chat.DeliverySent
	}, 3*time.Second, 10*time.Millisecond)

	// Bob opening the conversation reads it, which must surface on Alice's
	// side as a read receipt.
	openSession(t, srv, ts.URL, 2, "bob", "c1")

	assert.Eventually(func() bool {
		snap := alice.Snapshot()
		return len(snap) == 1 && snap[0].DeliveryState == chat.DeliveryRead && snap[0].IsReadByPeer
	}, 3*time.Second, 10*time.Millisecond)
}

func TestUploadBroadcastsFileMessage(t *testing.T) {
	assert := assert.New(t)
	srv, ts := startBackend(t)

	alice := openSession(t, srv, ts.URL, 1, "alice", "c1")
	bob := openSession(t, srv, ts.URL, 2, "bob", "c1")

	result, rejected, err := alice.SendFiles(context.Background(), []outbound.File{{
		Name:        "floorplan.png",
		ContentType: "image/png",
		Size:        9,
		Data:        strings.NewReader("png-bytes"),
	}}, "third floor")
	assert.NoError(err)
	assert.Empty(rejected)
	assert.NotEmpty(result.MessageID)
	assert.False(result.Partial)

	assert.Eventually(func() bool {
		for _, m := range bob.Snapshot() {
			if m.ID == result.MessageID && m.Kind == chat.KindFiles {
				return true
			}
		}
		return false
	}, 3*time.Second, 10*time.Millisecond)
}

func TestLateHistoryResponseAfterCloseIsDiscarded(t *testing.T) {
	assert := assert.New(t)
	srv := server.New("test-secret")
	inner := srv.Router()

	fetching := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "/messages") {
			// Park the history response until the session is gone.
			once.Do(func() { close(fetching) })
			<-release
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{
				"messages": [{"id":"m-1","conversation_id":"c1","sender_id":2,"content":"stale","created_at":"2026-08-30T09:00:00Z"}],
				"total": 1,
				"has_more": false
			}`))
			return
		}
		inner.ServeHTTP(w, r)
	}))
	t.Cleanup(ts.Close)
	t.Cleanup(func() { close(release) })

	token, err := srv.Auth().Mint(1, "alice")
	require.NoError(t, err)
	sess, err := Open(Config{ServerURL: ts.URL, Token: token}, "c1")
	require.NoError(t, err)

	select {
	case <-fetching:
	case <-time.After(3 * time.Second):
		t.Fatal("history fetch never started")
	}

	sess.Close()
	release <- struct{}{}

	assert.Never(func() bool {
		return len(sess.Snapshot()) != 0
	}, 300*time.Millisecond, 20*time.Millisecond)
}

func TestProjectionGroupsLiveConversation(t *testing.T) {
	assert := assert.New(t)
	srv, ts := startBackend(t)
	sess := openSession(t, srv, ts.URL, 1, "alice", "c1")

	_, err := sess.SendText("one")
	assert.NoError(err)
	assert.Eventually(func() bool {
		groups := sess.Projection()
		return len(groups) == 1 && len(groups[0].Messages) == 1
	}, 3*time.Second, 10*time.Millisecond)
}
