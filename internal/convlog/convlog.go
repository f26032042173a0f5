// Package convlog keeps a bounded in-memory record of recent conversations
// for debugging through the HTTP surface. It is not a memory system: nothing
// persists, and old sessions fall off once the cap is reached.
package convlog

import (
	"sync"
	"time"
)

// Message is one logged utterance.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Conversation is the recorded history of one session.
type Conversation struct {
	StartedAt time.Time `json:"startedAt"`
	Messages  []Message `json:"messages"`
}

// Log is a concurrency-safe session->conversation map capped at a fixed
// number of sessions. Inserting a new session beyond the cap evicts the
// conversation that started earliest.
type Log struct {
	mu       sync.Mutex
	max      int
	sessions map[string]*Conversation

	now func() time.Time
}

// New returns a log holding at most max sessions.
func New(max int) *Log {
	return &Log{
		max:      max,
		sessions: make(map[string]*Conversation),
		now:      time.Now,
	}
}

// Append records one message for sessionID, creating the session on first
// use and evicting the oldest session if the cap is exceeded.
func (l *Log) Append(sessionID, role, content string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	conv, ok := l.sessions[sessionID]
	if !ok {
		if len(l.sessions) >= l.max {
			l.evictOldestLocked()
		}
		conv = &Conversation{StartedAt: now}
		l.sessions[sessionID] = conv
	}
	conv.Messages = append(conv.Messages, Message{Role: role, Content: content, Timestamp: now})
}

func (l *Log) evictOldestLocked() {
	var oldestID string
	var oldestAt time.Time
	for id, conv := range l.sessions {
		if oldestID == "" || conv.StartedAt.Before(oldestAt) {
			oldestID = id
			oldestAt = conv.StartedAt
		}
	}
	if oldestID != "" {
		delete(l.sessions, oldestID)
	}
}

// Snapshot returns a deep copy of every recorded conversation, keyed by
// session.
func (l *Log) Snapshot() map[string]Conversation {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make(map[string]Conversation, len(l.sessions))
	for id, conv := range l.sessions {
		msgs := make([]Message, len(conv.Messages))
		copy(msgs, conv.Messages)
		out[id] = Conversation{StartedAt: conv.StartedAt, Messages: msgs}
	}
	return out
}

// Clear drops every recorded conversation.
func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sessions = make(map[string]*Conversation)
}

// Len reports the number of recorded sessions.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.sessions)
}
