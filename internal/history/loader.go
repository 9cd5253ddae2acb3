// Package history fetches the durable message log of a conversation and
// produces the ordered batch that seeds the message store.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"estatechat/internal/chat"
)

// ErrUnauthorized means the bearer token was rejected; this is an auth
// failure, not a chat-protocol failure, and retrying will not help.
var ErrUnauthorized = errors.New("history: unauthorized")

// Loader fetches message history over plain request/response. A
// conversation with zero messages is a successful empty load, not an
// error; every other failure is retryable.
type Loader struct {
	baseURL string
	token   string
	client  *http.Client
}

// New creates a loader for the chat service at baseURL (scheme://host).
func New(baseURL, authToken string) *Loader {
	return &Loader{
		baseURL: baseURL,
		token:   authToken,
		client:  http.DefaultClient,
	}
}

type listResponse struct {
	Messages []chat.Message `json:"messages"`
	Total    int            `json:"total"`
	HasMore  bool           `json:"has_more"`
}

// Load returns the conversation's messages with timestamps normalized to
// UTC. The slice order is whatever the server sent; the store sorts.
func (l *Loader) Load(ctx context.Context, conversationID string) ([]chat.Message, error) {
	url := fmt.Sprintf("%s/api/conversations/%s/messages", l.baseURL, conversationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("history: building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+l.token)

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("history: fetching messages: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, ErrUnauthorized
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("history: unexpected status %d", resp.StatusCode)
	}

	var body listResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("history: decoding response: %w", err)
	}

	out := make([]chat.Message, 0, len(body.Messages))
	for _, m := range body.Messages {
		m.CreatedAt = m.CreatedAt.UTC()
		if m.Kind == "" {
			m.Kind = chat.KindText
		}
		out = append(out, m)
	}
	return out, nil
}
