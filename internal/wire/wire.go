// Package wire holds the chat-completions wire types the proxy reads and
// produces. Parsing is deliberately shallow: only the fields the turn
// pipeline consults are typed, everything else stays in the raw body and is
// forwarded untouched.
package wire

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultSessionID is used when a request carries no user field.
const DefaultSessionID = "default"

// fingerprintContentLimit caps how much of each message content contributes
// to the dedup fingerprint.
const fingerprintContentLimit = 200

// Message is a single chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is the subset of an incoming completions body the pipeline needs.
type Request struct {
	User     string    `json:"user"`
	Messages []Message `json:"messages"`
}

// ParseRequest decodes the fields of body the pipeline reads.
func ParseRequest(body []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("wire: parse request: %w", err)
	}
	return &req, nil
}

// SessionID returns the user field, or [DefaultSessionID] when absent.
func (r *Request) SessionID() string {
	if r.User == "" {
		return DefaultSessionID
	}
	return r.User
}

// LastUserText returns the content of the most recent user message, or ""
// when there is none.
func (r *Request) LastUserText() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == "user" {
			return r.Messages[i].Content
		}
	}
	return ""
}

// Fingerprint identifies a turn for dedup purposes: the last three messages
// reduced to role plus the first 200 runes of content.
func (r *Request) Fingerprint() string {
	msgs := r.Messages
	if len(msgs) > 3 {
		msgs = msgs[len(msgs)-3:]
	}
	parts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		parts = append(parts, m.Role+":"+truncateRunes(m.Content, fingerprintContentLimit))
	}
	return strings.Join(parts, "|")
}

func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// chunk mirrors the chat.completion.chunk object on the wire.
type chunk struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Choices []choice `json:"choices"`
}

type choice struct {
	Index        int     `json:"index"`
	Delta        delta   `json:"delta"`
	FinishReason *string `json:"finish_reason"`
}

type delta struct {
	Content *string `json:"content,omitempty"`
}

// NewChunkPayload builds the JSON payload of a synthetic completion chunk
// carrying content, ready for framing with the sse package.
func NewChunkPayload(content string) []byte {
	c := chunk{
		ID:      "chatcmpl-" + uuid.NewString(),
		Object:  "chat.completion.chunk",
		Created: time.Now().Unix(),
		Choices: []choice{{Delta: delta{Content: &content}}},
	}
	payload, err := json.Marshal(c)
	if err != nil {
		// Marshaling a value of only basic types cannot fail.
		panic(fmt.Sprintf("wire: marshal chunk: %v", err))
	}
	return payload
}

// DeltaContent extracts the streamed content of a chunk payload. ok is false
// for payloads that are not chunks, carry no content, or carry empty content;
// such payloads still get forwarded, they just contribute no speech.
func DeltaContent(payload []byte) (text string, ok bool) {
	var c chunk
	if err := json.Unmarshal(payload, &c); err != nil {
		return "", false
	}
	if len(c.Choices) == 0 || c.Choices[0].Delta.Content == nil {
		return "", false
	}
	if *c.Choices[0].Delta.Content == "" {
		return "", false
	}
	return *c.Choices[0].Delta.Content, true
}
