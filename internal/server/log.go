package server

import (
	"sync"

	"estatechat/internal/chat"
)

// Log is the dev server's in-memory message log, one ordered slice per
// conversation. It stands in for the durable store of the real chat
// service; nothing survives a restart.
type Log struct {
	mu             sync.Mutex
	byConversation map[string][]chat.Message
}

func NewLog() *Log {
	return &Log{byConversation: make(map[string][]chat.Message)}
}

// Append stores one confirmed message at the end of its conversation.
func (l *Log) Append(m chat.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.byConversation[m.ConversationID] = append(l.byConversation[m.ConversationID], m)
}

// Messages returns a copy of the conversation's log in append order.
func (l *Log) Messages(conversationID string) []chat.Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	src := l.byConversation[conversationID]
	out := make([]chat.Message, len(src))
	copy(out, src)
	return out
}

// MarkRead flips every unread message the reader did not send and returns
// the ids that changed, in log order.
func (l *Log) MarkRead(conversationID string, readerID int) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var updated []string
	msgs := l.byConversation[conversationID]
	for i := range msgs {
		if msgs[i].SenderID != readerID && !msgs[i].IsReadByPeer {
			msgs[i].IsReadByPeer = true
			updated = append(updated, msgs[i].ID)
		}
	}
	return updated
}
