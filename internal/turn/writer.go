package turn

import (
	"net/http"
	"sync"
	"time"

	"github.com/voxgate/voxgate/internal/sse"
	"github.com/voxgate/voxgate/internal/wire"
)

// turnWriter serializes every SSE frame of one turn. The main stream loop
// and the keep-alive goroutine write through the same instance; done latches
// after the terminal frame so nothing can write past the end of the stream.
//
// Two clocks are kept: lastWrite moves on every frame and gates keep-alives,
// lastFiller moves only on synthetic frames and anchors the speaking time
// granted to filler before model content may follow.
type turnWriter struct {
	mu         sync.Mutex
	w          http.ResponseWriter
	flusher    http.Flusher // nil when the writer cannot flush
	done       bool
	lastWrite  time.Time
	lastFiller time.Time
}

// newTurnWriter sets the SSE response headers and commits them, so the
// caller sees a live stream before the first frame.
func newTurnWriter(w http.ResponseWriter) *turnWriter {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")

	flusher, _ := w.(http.Flusher)
	now := time.Now()
	tw := &turnWriter{w: w, flusher: flusher, lastWrite: now, lastFiller: now}
	tw.flushLocked()
	return tw
}

// WriteContent wraps text in a synthetic completion chunk and emits it as
// one frame. It reports false once the stream has ended.
func (tw *turnWriter) WriteContent(text string) bool {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.done {
		return false
	}
	_ = sse.WriteData(tw.w, wire.NewChunkPayload(text))
	tw.flushLocked()
	now := time.Now()
	tw.lastWrite = now
	tw.lastFiller = now
	return true
}

// WriteRaw forwards an upstream payload verbatim.
func (tw *turnWriter) WriteRaw(payload []byte) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.done {
		return
	}
	_ = sse.WriteData(tw.w, payload)
	tw.flushLocked()
	tw.lastWrite = time.Now()
}

// WriteDone emits the terminal frame and seals the writer. Only the first
// call writes.
func (tw *turnWriter) WriteDone() {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.done {
		return
	}
	tw.done = true
	_ = sse.WriteDone(tw.w)
	tw.flushLocked()
}

// IdleFor reports how long ago the last frame of any kind went out.
func (tw *turnWriter) IdleFor() time.Duration {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	return time.Since(tw.lastWrite)
}

// SinceFiller reports how long ago the last synthetic frame went out.
func (tw *turnWriter) SinceFiller() time.Duration {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	return time.Since(tw.lastFiller)
}

// flushLocked pushes buffered frames to the client. The caller must hold mu,
// except in newTurnWriter before the writer escapes.
func (tw *turnWriter) flushLocked() {
	if tw.flusher != nil {
		tw.flusher.Flush()
	}
}
