// Package turn orchestrates one voice turn end to end: gating silence,
// debouncing barge-ins, deduplicating repeated prompts, speaking filler while
// the model thinks, and relaying the upstream stream to the caller. The
// [Coordinator] enforces the one-turn-per-session rule the pipeline relies
// on.
package turn

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/voxgate/voxgate/internal/convlog"
	"github.com/voxgate/voxgate/internal/dedup"
	"github.com/voxgate/voxgate/internal/observe"
	"github.com/voxgate/voxgate/internal/phrase"
	"github.com/voxgate/voxgate/internal/upstream"
	"github.com/voxgate/voxgate/internal/wire"
)

// apologyText is spoken instead of a raw error whenever the gateway cannot
// be reached or rejects the turn.
const apologyText = "Sorry, I'm having trouble reaching my tools right now. Give me a moment and try again. "

// maxBodyBytes caps incoming request bodies. Voice transcripts are small;
// anything past this is not a legitimate turn.
const maxBodyBytes = 1 << 20

// Turn outcomes as recorded on the turns counter.
const (
	outcomeNormal     = "normal"
	outcomeSilent     = "silent"
	outcomeSuperseded = "superseded"
	outcomeDedup      = "dedup"
	outcomeCancelled  = "cancelled"
	outcomeError      = "error"
)

// Timing bundles the pipeline's latency knobs.
type Timing struct {
	// Debounce is how long a turn waits for a newer transcript fragment
	// before it commits to the upstream fetch.
	Debounce time.Duration

	// KeepAliveInterval is the keep-alive ticker period.
	KeepAliveInterval time.Duration

	// KeepAliveIdle is the minimum wire silence before a ticker firing
	// actually speaks a keep-alive.
	KeepAliveIdle time.Duration

	// MinBufferSpeech is how much speaking time the filler is granted before
	// the first model content may follow it.
	MinBufferSpeech time.Duration
}

// Stream is the payload sequence of one upstream fetch.
type Stream interface {
	// Next returns the next SSE data payload, or io.EOF when the stream is
	// complete.
	Next() ([]byte, error)

	// Close releases the stream's connection.
	Close() error
}

// Streamer opens gateway streams. [*upstream.Client] satisfies it through
// [NewGateway]; tests substitute fakes.
type Streamer interface {
	// PrepareBody rewrites an incoming request body for the gateway.
	PrepareBody(raw []byte) ([]byte, error)

	// Stream POSTs a prepared body and returns the live response stream.
	Stream(ctx context.Context, body []byte) (Stream, error)
}

// PipelineConfig holds the dependencies for a [Pipeline].
type PipelineConfig struct {
	Upstream Streamer
	Coord    *Coordinator
	Picker   *phrase.Picker
	Dedup    *dedup.Cache
	Log      *convlog.Log
	Metrics  *observe.Metrics // nil selects the package default
	Timing   Timing
}

// Pipeline is the HTTP handler for the chat-completions endpoint. Every
// request is one voice turn; the response is always an SSE stream ending in
// a single [DONE] frame, regardless of how the turn went.
type Pipeline struct {
	upstream Streamer
	coord    *Coordinator
	picker   *phrase.Picker
	dedup    *dedup.Cache
	log      *convlog.Log
	metrics  *observe.Metrics
	timing   Timing
}

// NewPipeline creates a Pipeline from cfg.
func NewPipeline(cfg PipelineConfig) *Pipeline {
	m := cfg.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Pipeline{
		upstream: cfg.Upstream,
		coord:    cfg.Coord,
		picker:   cfg.Picker,
		dedup:    cfg.Dedup,
		log:      cfg.Log,
		metrics:  m,
		timing:   cfg.Timing,
	}
}

// ServeHTTP runs one turn.
func (p *Pipeline) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := observe.Logger(ctx)
	start := time.Now()
	outcome := outcomeNormal
	defer func() {
		p.metrics.RecordTurn(ctx, outcome, time.Since(start).Seconds())
	}()

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		log.Warn("unreadable request body", "err", err)
		outcome = outcomeError
		p.respondApology(w)
		return
	}

	req, err := wire.ParseRequest(raw)
	if err != nil {
		log.Warn("malformed request body", "err", err)
		outcome = outcomeError
		p.respondApology(w)
		return
	}

	sid := req.SessionID()
	userText := strings.TrimSpace(req.LastUserText())

	// Transcription noise never reaches the model: answer an empty-ish turn
	// with an empty-ish stream and leave all session state alone.
	if isSilence(userText) {
		log.Debug("silence gated", "session_id", sid)
		outcome = outcomeSilent
		p.respondSilent(w)
		return
	}

	p.log.Append(sid, "user", userText)

	// A newer turn always wins: kill the session's streaming fetch, then
	// race any concurrent debounce waits for the pending slot.
	p.coord.AbortInFlight(sid)

	turnCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	handle := NewHandle(cancel)

	if res := p.coord.ArmPending(ctx, sid, p.timing.Debounce, handle); res == Superseded {
		log.Info("turn superseded during debounce", "session_id", sid)
		outcome = outcomeSuperseded
		p.respondSilent(w)
		return
	}
	defer p.coord.ClearInFlight(sid, handle)

	p.metrics.ActiveTurns.Add(ctx, 1)
	defer p.metrics.ActiveTurns.Add(ctx, -1)

	prepared, err := p.upstream.PrepareBody(raw)
	if err != nil {
		log.Error("prepare gateway body", "session_id", sid, "err", err)
		outcome = outcomeError
		p.respondApology(w)
		return
	}

	fp := req.Fingerprint()
	if cached, ok := p.dedup.Lookup(fp); ok {
		log.Info("dedup hit", "session_id", sid)
		outcome = outcomeDedup
		tw := newTurnWriter(w)
		tw.WriteContent(cached)
		tw.WriteDone()
		return
	}

	// The buffer phrase goes on the wire before anything upstream-related
	// so the caller hears speech within the first round trip.
	tw := newTurnWriter(w)
	cat := phrase.Match(userText)
	tw.WriteContent(p.picker.Initial(cat))

	kaDone := make(chan struct{})
	var kaWG sync.WaitGroup
	kaWG.Add(1)
	go func() {
		defer kaWG.Done()
		p.keepAliveLoop(turnCtx, kaDone, tw, cat)
	}()
	defer func() {
		close(kaDone)
		kaWG.Wait()
	}()

	fetchStart := time.Now()
	stream, err := p.upstream.Stream(turnCtx, prepared)
	if err != nil {
		outcome = p.failTurn(ctx, sid, tw, err)
		return
	}
	defer stream.Close()

	var llmContent strings.Builder
	sawFirstByte := false
	heldForFiller := false
	var streamErr error

	for {
		payload, err := stream.Next()
		if err != nil {
			streamErr = err
			break
		}
		if !sawFirstByte {
			sawFirstByte = true
			p.metrics.UpstreamFirstByte.Record(ctx, time.Since(fetchStart).Seconds())
		}
		if content, ok := wire.DeltaContent(payload); ok {
			if !heldForFiller {
				heldForFiller = true
				p.holdForFiller(turnCtx, tw)
			}
			llmContent.WriteString(content)
		}
		tw.WriteRaw(payload)
	}

	switch {
	case errors.Is(streamErr, io.EOF):
		if llmContent.Len() > 0 {
			answer := llmContent.String()
			p.dedup.Store(fp, answer)
			p.log.Append(sid, "assistant", answer)
		}
		log.Info("turn completed",
			"session_id", sid,
			"chars", llmContent.Len(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	case errors.Is(streamErr, context.Canceled):
		log.Info("turn cancelled mid-stream", "session_id", sid)
		outcome = outcomeCancelled
	default:
		log.Error("gateway stream failed mid-turn", "session_id", sid, "err", streamErr)
		p.metrics.RecordUpstreamError(ctx, "stream")
		outcome = outcomeError
	}
	tw.WriteDone()
}

// failTurn maps a pre-stream fetch error to its wire behaviour: cancellation
// ends the stream quietly, anything else speaks the apology first. Either
// way the stream terminates cleanly.
func (p *Pipeline) failTurn(ctx context.Context, sid string, tw *turnWriter, err error) string {
	defer tw.WriteDone()
	log := observe.Logger(ctx)

	if errors.Is(err, context.Canceled) {
		log.Info("turn aborted before gateway response", "session_id", sid)
		return outcomeCancelled
	}

	var statusErr *upstream.StatusError
	if errors.As(err, &statusErr) {
		log.Error("gateway rejected turn",
			"session_id", sid,
			"status", statusErr.Code,
			"body", statusErr.Body,
		)
		p.metrics.RecordUpstreamError(ctx, "status")
	} else {
		log.Error("gateway unreachable", "session_id", sid, "err", err)
		p.metrics.RecordUpstreamError(ctx, "transport")
	}
	tw.WriteContent(apologyText)
	return outcomeError
}

// keepAliveLoop speaks a round-robin keep-alive for cat whenever the wire
// has been quiet for at least the idle threshold. It runs for the whole
// upstream lifetime, including the wait for the first byte, and exits when
// the turn finishes or the turn context dies.
func (p *Pipeline) keepAliveLoop(ctx context.Context, done <-chan struct{}, tw *turnWriter, cat *phrase.Category) {
	ticker := time.NewTicker(p.timing.KeepAliveInterval)
	defer ticker.Stop()
	log := observe.Logger(ctx)

	n := 0
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if tw.IdleFor() < p.timing.KeepAliveIdle {
				continue
			}
			text := cat.KeepAliveAt(n)
			n++
			if text != "" && tw.WriteContent(text) {
				log.Debug("keep-alive sent", "category", cat.Name, "n", n)
				p.metrics.RecordKeepAlive(ctx, cat.Name)
			}
		}
	}
}

// holdForFiller delays the first model content until the filler phrase has
// had its guaranteed speaking time. The reference point is the most recent
// synthetic frame, so a keep-alive spoken seconds ago restarts the clock.
func (p *Pipeline) holdForFiller(ctx context.Context, tw *turnWriter) {
	hold := p.timing.MinBufferSpeech - tw.SinceFiller()
	if hold <= 0 {
		return
	}
	select {
	case <-time.After(hold):
	case <-ctx.Done():
	}
}

// respondSilent answers a turn that never reaches the model: one space chunk
// keeps the voice platform's stream parser content, then the terminal frame.
func (p *Pipeline) respondSilent(w http.ResponseWriter) {
	tw := newTurnWriter(w)
	tw.WriteContent(" ")
	tw.WriteDone()
}

// respondApology answers a failed turn with the spoken apology.
func (p *Pipeline) respondApology(w http.ResponseWriter) {
	tw := newTurnWriter(w)
	tw.WriteContent(apologyText)
	tw.WriteDone()
}

// isSilence reports whether trimmed user text is a non-turn: empty input,
// the transcriber's ellipsis placeholder, or anything under three runes.
func isSilence(text string) bool {
	return text == "..." || utf8.RuneCountInString(text) < 3
}
