package history

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"estatechat/internal/chat"
)

func TestLoadEmptyConversation(t *testing.T) {
	assert := assert.New(t)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal("/api/conversations/c1/messages", r.URL.Path)
		assert.Equal("Bearer tok", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"messages":[],"total":0,"has_more":false}`))
	}))
	defer ts.Close()

	msgs, err := New(ts.URL, "tok").Load(context.Background(), "c1")
	assert.NoError(err)
	assert.NotNil(msgs)
	assert.Empty(msgs)
}

func TestLoadNormalizesTimestampsAndKind(t *testing.T) {
	assert := assert.New(t)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"messages": [
				{"id":"m-1","conversation_id":"c1","sender_id":2,"content":"hi","created_at":"2026-08-30T14:30:00+05:30"},
				{"id":"m-2","conversation_id":"c1","sender_id":1,"content":"hello","message_type":"text","created_at":"2026-08-30T09:05:00Z","is_read":true}
			],
			"total": 2,
			"has_more": false
		}`))
	}))
	defer ts.Close()

	msgs, err := New(ts.URL, "tok").Load(context.Background(), "c1")
	assert.NoError(err)
	assert.Equal(2, len(msgs))

	assert.Equal(chat.KindText, msgs[0].Kind)
	assert.Equal(time.UTC, msgs[0].CreatedAt.Location())
	assert.Equal(time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC), msgs[0].CreatedAt)
	assert.True(msgs[1].IsReadByPeer)
}

func TestLoadUnauthorized(t *testing.T) {
	assert := assert.New(t)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer ts.Close()

	_, err := New(ts.URL, "expired").Load(context.Background(), "c1")
	assert.ErrorIs(err, ErrUnauthorized)
}

func TestLoadServerError(t *testing.T) {
	assert := assert.New(t)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	_, err := New(ts.URL, "tok").Load(context.Background(), "c1")
	assert.ErrorContains(err, "unexpected status 500")
}

func TestLoadMalformedBody(t *testing.T) {
	assert := assert.New(t)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	}))
	defer ts.Close()

	_, err := New(ts.URL, "tok").Load(context.Background(), "c1")
	assert.ErrorContains(err, "decoding response")
}
