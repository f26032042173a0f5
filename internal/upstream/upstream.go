// Package upstream implements the streaming client for the agent gateway.
//
// The proxy forwards chat-completion requests to a single gateway endpoint
// that multiplexes agents by model name and header. Before forwarding, the
// incoming body is rewritten: the caller's vendor extension is stripped, the
// model is pinned to the configured agent, streaming is forced on, and a
// voice hint is appended to the last user message so the agent keeps its
// answers speech-sized. Everything else in the body passes through
// untouched.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/voxgate/voxgate/internal/sse"
)

const (
	// extensionField is the vendor extension ElevenLabs attaches to its
	// outbound requests. It is meaningless to the gateway and stripped
	// before forwarding.
	extensionField = "elevenlabs_extra_body"

	// modelPrefix namespaces the agent id in the forwarded model field.
	modelPrefix = "openclaw:"

	// agentHeader tells the gateway which agent should handle the turn.
	agentHeader = "x-openclaw-agent-id"

	// voiceHint is appended to the last user message so the agent keeps its
	// replies speech-sized.
	voiceHint = " [Voice call — answer in at most 3-4 short sentences and get straight to the point, no filler openers.]"

	// errorBodyLimit caps how much of a failed gateway response is retained
	// for diagnostics.
	errorBodyLimit = 4096
)

// StatusError is returned by [Client.Stream] when the gateway answers with a
// non-2xx status. Body holds up to errorBodyLimit bytes of the response for
// logging. Callers detect it with errors.As.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream: gateway returned status %d", e.Code)
}

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client used for gateway requests. The
// default client carries no overall timeout because SSE responses stay open
// for the lifetime of a turn; cancellation happens through the request
// context instead.
func WithHTTPClient(httpc *http.Client) Option {
	return func(c *Client) {
		c.httpc = httpc
	}
}

// Client issues streaming chat-completion requests to the agent gateway.
// It is safe for concurrent use; each turn runs its own request.
type Client struct {
	url   string
	token string
	agent string
	httpc *http.Client
}

// New creates a Client that targets the gateway chat-completions endpoint at
// gatewayURL, authenticating with token (empty disables the Authorization
// header) on behalf of the named agent.
func New(gatewayURL, token, agent string, opts ...Option) (*Client, error) {
	if gatewayURL == "" {
		return nil, errors.New("upstream: gateway URL must not be empty")
	}
	if agent == "" {
		return nil, errors.New("upstream: agent must not be empty")
	}
	c := &Client{
		url:   gatewayURL,
		token: token,
		agent: agent,
		httpc: &http.Client{},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Close releases idle gateway connections. In-flight streams are unaffected.
func (c *Client) Close() {
	c.httpc.CloseIdleConnections()
}

// PrepareBody rewrites an incoming request body for the gateway: the vendor
// extension is dropped, model becomes "openclaw:<agent>", stream is forced
// true, and the voice hint is appended to the last user message. Fields the
// proxy does not know about are carried over byte-for-byte.
func (c *Client) PrepareBody(raw []byte) ([]byte, error) {
	var body map[string]json.RawMessage
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("upstream: parse request body: %w", err)
	}
	if body == nil {
		body = map[string]json.RawMessage{}
	}

	delete(body, extensionField)
	body["model"] = rawJSONString(modelPrefix + c.agent)
	body["stream"] = json.RawMessage("true")
	if msgs, ok := body["messages"]; ok {
		if rewritten, changed := appendVoiceHint(msgs); changed {
			body["messages"] = rewritten
		}
	}

	out, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("upstream: encode request body: %w", err)
	}
	return out, nil
}

// appendVoiceHint rewrites the last user message in msgs so its content ends
// with the voice hint. A last user message whose content is not a plain
// string (content-part arrays, missing content) is left alone. The bool
// reports whether a rewrite happened.
func appendVoiceHint(msgs json.RawMessage) (json.RawMessage, bool) {
	var list []json.RawMessage
	if err := json.Unmarshal(msgs, &list); err != nil {
		return msgs, false
	}
	for i := len(list) - 1; i >= 0; i-- {
		var msg map[string]json.RawMessage
		if err := json.Unmarshal(list[i], &msg); err != nil {
			continue
		}
		var role string
		if err := json.Unmarshal(msg["role"], &role); err != nil || role != "user" {
			continue
		}

		var content string
		if err := json.Unmarshal(msg["content"], &content); err != nil {
			return msgs, false
		}
		msg["content"] = rawJSONString(content + voiceHint)

		rewritten, err := json.Marshal(msg)
		if err != nil {
			return msgs, false
		}
		list[i] = rewritten
		out, err := json.Marshal(list)
		if err != nil {
			return msgs, false
		}
		return out, true
	}
	return msgs, false
}

// rawJSONString encodes s as a JSON string literal. Marshalling a string
// cannot fail, invalid UTF-8 is coerced to replacement runes.
func rawJSONString(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}

// Stream POSTs body to the gateway and returns the live SSE stream. The
// request inherits ctx: cancelling it aborts the fetch, closes the gateway
// socket, and surfaces context.Canceled from either Stream or Next.
func (c *Client) Stream(ctx context.Context, body []byte) (*Stream, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("upstream: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set(agentHeader, c.agent)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream: POST %s: %w", c.url, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		resp.Body.Close()
		return nil, &StatusError{Code: resp.StatusCode, Body: string(snippet)}
	}
	return &Stream{body: resp.Body, r: sse.NewReader(resp.Body)}, nil
}

// Stream is a live SSE response from the gateway.
type Stream struct {
	body io.ReadCloser
	r    *sse.Reader
}

// Next returns the next SSE data payload. It returns io.EOF once the gateway
// signals completion or the stream ends.
func (s *Stream) Next() ([]byte, error) {
	return s.r.Next()
}

// Close releases the underlying connection. It is safe to call after Next
// has returned an error.
func (s *Stream) Close() error {
	return s.body.Close()
}
