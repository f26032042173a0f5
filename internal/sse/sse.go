// Package sse implements the server-sent-events framing used by the
// streaming chat-completions contract: "data: <payload>" frames separated by
// blank lines, closed by a terminal "data: [DONE]" frame.
//
// The codec deals in raw payload bytes. Whether a payload is valid JSON is
// the caller's concern; malformed payloads are passed through untouched so
// upstream idiosyncrasies survive the relay.
package sse

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
)

// Done is the sentinel payload that terminates every stream.
const Done = "[DONE]"

const (
	// Initial and maximum line buffer sizes for [Reader]. Single deltas are
	// tiny, but gateways occasionally batch tool output into one frame.
	readBufInitial = 64 * 1024
	readBufMax     = 1024 * 1024
)

var dataPrefix = []byte("data:")

// WriteData writes a single data frame carrying payload.
func WriteData(w io.Writer, payload []byte) error {
	if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
		return fmt.Errorf("sse: write frame: %w", err)
	}
	return nil
}

// WriteDone writes the terminal frame.
func WriteDone(w io.Writer) error {
	if _, err := io.WriteString(w, "data: "+Done+"\n\n"); err != nil {
		return fmt.Errorf("sse: write done frame: %w", err)
	}
	return nil
}

// Reader yields the data payloads of an SSE byte stream. It buffers partial
// trailing lines across reads and skips blank lines, comments and any field
// other than "data".
type Reader struct {
	sc *bufio.Scanner
}

// NewReader wraps r. The reader does not close r.
func NewReader(r io.Reader) *Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, readBufInitial), readBufMax)
	return &Reader{sc: sc}
}

// Next returns the next data payload. It returns io.EOF when the stream ends
// or the terminal [DONE] frame is seen; the sentinel itself is swallowed.
// The returned slice is a copy and stays valid across calls.
func (r *Reader) Next() ([]byte, error) {
	for r.sc.Scan() {
		line := r.sc.Bytes()
		rest, ok := bytes.CutPrefix(line, dataPrefix)
		if !ok {
			continue
		}
		payload := bytes.TrimPrefix(rest, []byte(" "))
		if bytes.Equal(payload, []byte(Done)) {
			return nil, io.EOF
		}
		out := make([]byte, len(payload))
		copy(out, payload)
		return out, nil
	}
	if err := r.sc.Err(); err != nil {
		return nil, fmt.Errorf("sse: read stream: %w", err)
	}
	return nil, io.EOF
}
