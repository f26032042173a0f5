package turn

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/voxgate/voxgate/internal/convlog"
	"github.com/voxgate/voxgate/internal/dedup"
	"github.com/voxgate/voxgate/internal/phrase"
	"github.com/voxgate/voxgate/internal/sse"
	"github.com/voxgate/voxgate/internal/upstream"
	"github.com/voxgate/voxgate/internal/wire"
)

// fastTiming shrinks every knob so pipeline tests finish in milliseconds.
// Individual tests override single fields where the scenario needs room.
var fastTiming = Timing{
	Debounce:          20 * time.Millisecond,
	KeepAliveInterval: 10 * time.Second,
	KeepAliveIdle:     9 * time.Second,
	MinBufferSpeech:   time.Millisecond,
}

// ---- fakes ----

// step is one scripted upstream event: wait, then yield a payload or fail.
type step struct {
	wait    time.Duration
	payload string
	err     error
}

// scriptedStream plays back steps one per Next call, honouring ctx while it
// sleeps, and records whether Close was called.
type scriptedStream struct {
	ctx       context.Context
	steps     []step
	closed    chan struct{}
	closeOnce sync.Once
}

func (s *scriptedStream) Next() ([]byte, error) {
	if len(s.steps) == 0 {
		return nil, io.EOF
	}
	st := s.steps[0]
	s.steps = s.steps[1:]
	if st.wait > 0 {
		select {
		case <-time.After(st.wait):
		case <-s.ctx.Done():
			return nil, s.ctx.Err()
		}
	}
	if st.err != nil {
		return nil, st.err
	}
	return []byte(st.payload), nil
}

func (s *scriptedStream) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func (s *scriptedStream) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// fakeGateway is a Streamer that records call bodies and plays one script
// per call. PrepareBody is the identity so tests can assert on the raw JSON.
type fakeGateway struct {
	mu      sync.Mutex
	bodies  []string
	streams []*scriptedStream

	// script builds the steps for the n-th Stream call (0-based).
	script func(call int) []step

	// openErr, when non-nil, can fail a Stream call before any payload.
	openErr func(call int) error
}

func (f *fakeGateway) PrepareBody(raw []byte) ([]byte, error) {
	return raw, nil
}

func (f *fakeGateway) Stream(ctx context.Context, body []byte) (Stream, error) {
	f.mu.Lock()
	call := len(f.bodies)
	f.bodies = append(f.bodies, string(body))
	f.mu.Unlock()

	if f.openErr != nil {
		if err := f.openErr(call); err != nil {
			return nil, err
		}
	}
	var steps []step
	if f.script != nil {
		steps = f.script(call)
	}
	s := &scriptedStream{ctx: ctx, steps: steps, closed: make(chan struct{})}
	f.mu.Lock()
	f.streams = append(f.streams, s)
	f.mu.Unlock()
	return s, nil
}

func (f *fakeGateway) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.bodies...)
}

func (f *fakeGateway) stream(i int) *scriptedStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i >= len(f.streams) {
		return nil
	}
	return f.streams[i]
}

// fixture bundles a pipeline with the state it mutates.
type fixture struct {
	p     *Pipeline
	gw    *fakeGateway
	coord *Coordinator
	cache *dedup.Cache
	clog  *convlog.Log
}

func newFixture(gw *fakeGateway, timing Timing) *fixture {
	f := &fixture{
		gw:    gw,
		coord: NewCoordinator(),
		cache: dedup.New(15 * time.Second),
		clog:  convlog.New(50),
	}
	f.p = NewPipeline(PipelineConfig{
		Upstream: gw,
		Coord:    f.coord,
		Picker:   phrase.NewPicker(),
		Dedup:    f.cache,
		Log:      f.clog,
		Timing:   timing,
	})
	return f
}

// ---- wire helpers ----

// chunkPayload builds an upstream-flavoured completion chunk carrying text.
func chunkPayload(text string) string {
	return fmt.Sprintf(`{"id":"gw-1","object":"chat.completion.chunk","created":1,"choices":[{"index":0,"delta":{"content":%q},"finish_reason":null}]}`, text)
}

func turnBody(session, text string) string {
	return fmt.Sprintf(`{"user":%q,"messages":[{"role":"user","content":%q}]}`, session, text)
}

func postTurn(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// frames splits an SSE body into its data payloads and fails the test unless
// the stream is well formed: data frames only, exactly one [DONE], last.
func frames(t *testing.T, body string) []string {
	t.Helper()
	var out []string
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		payload, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			t.Fatalf("non-data SSE line %q", line)
		}
		out = append(out, payload)
	}
	if len(out) == 0 || out[len(out)-1] != sse.Done {
		t.Fatalf("stream does not end with [DONE]: %q", out)
	}
	for _, p := range out[:len(out)-1] {
		if p == sse.Done {
			t.Fatalf("multiple [DONE] frames: %q", out)
		}
	}
	return out
}

// contentOf extracts the delta content of a synthetic or forwarded chunk.
func contentOf(t *testing.T, payload string) string {
	t.Helper()
	text, ok := wire.DeltaContent([]byte(payload))
	if !ok {
		t.Fatalf("payload carries no content: %s", payload)
	}
	return text
}

func isInitialOf(cat *phrase.Category, text string) bool {
	for _, ph := range cat.Initial {
		if ph == text {
			return true
		}
	}
	return false
}

func isKeepAliveOf(cat *phrase.Category, text string) bool {
	for _, ph := range cat.KeepAlive {
		if ph == text {
			return true
		}
	}
	return false
}

// timedFrame is one SSE payload with its wire arrival time.
type timedFrame struct {
	payload string
	at      time.Time
}

// streamTurn POSTs body to a live server and collects every frame with its
// arrival timestamp until the stream closes.
func streamTurn(t *testing.T, srv *httptest.Server, body string) []timedFrame {
	t.Helper()
	resp, err := http.Post(srv.URL+"/v1/chat/completions", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q, want text/event-stream", ct)
	}

	var got []timedFrame
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		payload, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			t.Fatalf("non-data SSE line %q", line)
		}
		got = append(got, timedFrame{payload: payload, at: time.Now()})
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("read stream: %v", err)
	}
	return got
}

// ---- silence gate ----

func TestServeHTTP_SilenceGate(t *testing.T) {
	inputs := []string{"", "...", "…", "hi", "  ..  "}
	for _, in := range inputs {
		t.Run(fmt.Sprintf("input=%q", in), func(t *testing.T) {
			fx := newFixture(&fakeGateway{}, fastTiming)

			rec := postTurn(t, fx.p, turnBody("u1", in))
			got := frames(t, rec.Body.String())
			if len(got) != 2 {
				t.Fatalf("frames = %q, want space chunk + [DONE]", got)
			}
			if c := contentOf(t, got[0]); c != " " {
				t.Errorf("chunk content = %q, want single space", c)
			}
			if calls := fx.gw.calls(); len(calls) != 0 {
				t.Errorf("upstream calls = %d, want 0", len(calls))
			}
			if fx.coord.Len() != 0 {
				t.Errorf("coordinator sessions = %d, want 0 (state untouched)", fx.coord.Len())
			}
			if fx.clog.Len() != 0 {
				t.Errorf("conversation log sessions = %d, want 0", fx.clog.Len())
			}
		})
	}
}

func TestServeHTTP_MalformedBody(t *testing.T) {
	fx := newFixture(&fakeGateway{}, fastTiming)

	rec := postTurn(t, fx.p, `{"messages": [`)
	got := frames(t, rec.Body.String())
	if len(got) != 2 {
		t.Fatalf("frames = %q, want apology + [DONE]", got)
	}
	if c := contentOf(t, got[0]); c != apologyText {
		t.Errorf("chunk content = %q, want apology", c)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 (errors never surface raw)", rec.Code)
	}
}

// ---- normal turn ----

func TestServeHTTP_NormalTurn(t *testing.T) {
	rolePayload := `{"id":"gw-1","object":"chat.completion.chunk","created":1,"choices":[{"index":0,"delta":{"role":"assistant"},"finish_reason":null}]}`
	gw := &fakeGateway{script: func(int) []step {
		return []step{
			{payload: rolePayload},
			{payload: chunkPayload("Ten past ")},
			{payload: chunkPayload("three.")},
		}
	}}
	fx := newFixture(gw, fastTiming)

	body := turnBody("u1", "check my inbox for anything from Dana")
	rec := postTurn(t, fx.p, body)
	got := frames(t, rec.Body.String())

	// Buffer phrase first, from the matched category, trailing space intact.
	emailCat := phrase.Match("check my inbox for anything from Dana")
	first := contentOf(t, got[0])
	if !isInitialOf(emailCat, first) {
		t.Errorf("first chunk %q is not an initial phrase of %s", first, emailCat.Name)
	}
	if !strings.HasSuffix(first, " ") {
		t.Errorf("buffer phrase %q lacks trailing space", first)
	}

	// Upstream payloads relayed verbatim, in order, after the buffer.
	rest := got[1 : len(got)-1]
	want := []string{rolePayload, chunkPayload("Ten past "), chunkPayload("three.")}
	if len(rest) != len(want) {
		t.Fatalf("relayed frames = %q, want %q", rest, want)
	}
	for i := range want {
		if rest[i] != want[i] {
			t.Errorf("frame %d = %s, want verbatim %s", i+1, rest[i], want[i])
		}
	}

	// The finished answer is cached under the request fingerprint, filler
	// excluded, and logged as the assistant turn.
	req, err := wire.ParseRequest([]byte(body))
	if err != nil {
		t.Fatalf("ParseRequest: %v", err)
	}
	cached, ok := fx.cache.Lookup(req.Fingerprint())
	if !ok || cached != "Ten past three." {
		t.Errorf("cached = %q, ok=%v, want LLM content only", cached, ok)
	}

	snap := fx.clog.Snapshot()
	msgs := snap["u1"].Messages
	if len(msgs) != 2 || msgs[0].Role != "user" || msgs[1].Role != "assistant" {
		t.Fatalf("logged messages = %+v, want user then assistant", msgs)
	}
	if msgs[1].Content != "Ten past three." {
		t.Errorf("assistant log = %q, want LLM content only", msgs[1].Content)
	}

	if fx.coord.Len() != 0 {
		t.Errorf("coordinator sessions = %d, want 0 after the turn", fx.coord.Len())
	}
	if s := gw.stream(0); s == nil || !s.isClosed() {
		t.Error("upstream stream not closed after the turn")
	}
}

func TestServeHTTP_ConsecutiveTurnsVaryInitialPhrase(t *testing.T) {
	gw := &fakeGateway{script: func(int) []step {
		return []step{{payload: chunkPayload("ok")}}
	}}
	fx := newFixture(gw, fastTiming)

	rec1 := postTurn(t, fx.p, turnBody("u1", "check my email please"))
	rec2 := postTurn(t, fx.p, turnBody("u1", "check my other email account"))

	first1 := contentOf(t, frames(t, rec1.Body.String())[0])
	first2 := contentOf(t, frames(t, rec2.Body.String())[0])
	if first1 == first2 {
		t.Errorf("back-to-back turns opened with the same phrase %q", first1)
	}
}

// ---- debounce ----

func TestServeHTTP_SpeculativeTurnSuperseded(t *testing.T) {
	gw := &fakeGateway{script: func(int) []step {
		return []step{{payload: chunkPayload("Plenty.")}}
	}}
	timing := fastTiming
	timing.Debounce = 150 * time.Millisecond
	fx := newFixture(gw, timing)

	firstDone := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		firstDone <- postTurn(t, fx.p, turnBody("u1", "Tell me what"))
	}()
	waitFor(t, func() bool { return fx.coord.Len() == 1 })

	second := postTurn(t, fx.p, turnBody("u1", "Tell me what you can do"))

	// The partial transcript closed with a bare space and never reached the
	// gateway; only the final transcript did.
	first := <-firstDone
	gotFirst := frames(t, first.Body.String())
	if len(gotFirst) != 2 || contentOf(t, gotFirst[0]) != " " {
		t.Fatalf("superseded response frames = %q, want space + [DONE]", gotFirst)
	}

	gotSecond := frames(t, second.Body.String())
	if len(gotSecond) < 3 {
		t.Fatalf("survivor frames = %q, want buffer + content + [DONE]", gotSecond)
	}

	calls := gw.calls()
	if len(calls) != 1 {
		t.Fatalf("upstream calls = %d, want exactly 1", len(calls))
	}
	if !strings.Contains(calls[0], "Tell me what you can do") {
		t.Errorf("upstream body = %s, want the final transcript", calls[0])
	}
}

func TestServeHTTP_BurstLeavesOneUpstreamCall(t *testing.T) {
	gw := &fakeGateway{script: func(int) []step {
		return []step{{payload: chunkPayload("done")}}
	}}
	timing := fastTiming
	timing.Debounce = 60 * time.Millisecond
	fx := newFixture(gw, timing)

	const n = 4
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := postTurn(t, fx.p, turnBody("u1", fmt.Sprintf("variant number %d", i)))
			frames(t, rec.Body.String())
		}()
		time.Sleep(10 * time.Millisecond)
	}
	wg.Wait()

	if calls := gw.calls(); len(calls) != 1 {
		t.Errorf("upstream calls = %d, want 1 survivor from the burst", len(calls))
	}
	if fx.coord.Len() != 0 {
		t.Errorf("coordinator sessions = %d, want 0 after the burst", fx.coord.Len())
	}
}

func TestServeHTTP_SessionsDoNotDebounceEachOther(t *testing.T) {
	gw := &fakeGateway{script: func(int) []step {
		return []step{{payload: chunkPayload("ok")}}
	}}
	fx := newFixture(gw, fastTiming)

	var wg sync.WaitGroup
	for _, sid := range []string{"alice", "bob"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := postTurn(t, fx.p, turnBody(sid, "what is the weather like"))
			got := frames(t, rec.Body.String())
			if len(got) < 3 {
				t.Errorf("session %s frames = %q, want a full turn", sid, got)
			}
		}()
	}
	wg.Wait()

	if calls := gw.calls(); len(calls) != 2 {
		t.Errorf("upstream calls = %d, want 2 independent turns", len(calls))
	}
}

// ---- dedup ----

func TestServeHTTP_DedupHitServesCachedAnswer(t *testing.T) {
	gw := &fakeGateway{script: func(int) []step {
		return []step{{payload: chunkPayload("Ten past three.")}}
	}}
	fx := newFixture(gw, fastTiming)

	body := turnBody("u1", "what is the time")
	frames(t, postTurn(t, fx.p, body).Body.String())

	rec := postTurn(t, fx.p, body)
	got := frames(t, rec.Body.String())
	if len(got) != 2 {
		t.Fatalf("replay frames = %q, want cached chunk + [DONE]", got)
	}
	if c := contentOf(t, got[0]); c != "Ten past three." {
		t.Errorf("cached chunk = %q, want the LLM answer without filler", c)
	}
	if calls := gw.calls(); len(calls) != 1 {
		t.Errorf("upstream calls = %d, want 1 (replay served from cache)", len(calls))
	}
}

func TestServeHTTP_MidStreamErrorNotCached(t *testing.T) {
	gw := &fakeGateway{script: func(int) []step {
		return []step{
			{payload: chunkPayload("Half an ")},
			{err: errors.New("connection reset")},
		}
	}}
	fx := newFixture(gw, fastTiming)

	body := turnBody("u1", "what is the time")
	rec := postTurn(t, fx.p, body)
	got := frames(t, rec.Body.String())

	// Chunks already sent stay on the wire, no apology follows, and the
	// truncated answer must not be replayable.
	if len(got) != 3 || got[1] != chunkPayload("Half an ") {
		t.Fatalf("frames = %q, want buffer + relayed chunk + [DONE]", got)
	}
	for _, p := range got[:len(got)-1] {
		if c, ok := wire.DeltaContent([]byte(p)); ok && c == apologyText {
			t.Error("apology emitted for a mid-stream failure")
		}
	}

	req, err := wire.ParseRequest([]byte(body))
	if err != nil {
		t.Fatalf("ParseRequest: %v", err)
	}
	if cached, ok := fx.cache.Lookup(req.Fingerprint()); ok {
		t.Errorf("truncated answer cached: %q", cached)
	}
}

// ---- upstream failures ----

func TestServeHTTP_GatewayStatusErrorSpeaksApology(t *testing.T) {
	gw := &fakeGateway{openErr: func(int) error {
		return &upstream.StatusError{Code: http.StatusServiceUnavailable, Body: "overloaded"}
	}}
	fx := newFixture(gw, fastTiming)

	rec := postTurn(t, fx.p, turnBody("u1", "check my email now"))
	got := frames(t, rec.Body.String())
	if len(got) != 3 {
		t.Fatalf("frames = %q, want buffer + apology + [DONE]", got)
	}
	if c := contentOf(t, got[1]); c != apologyText {
		t.Errorf("second chunk = %q, want apology", c)
	}
}

func TestServeHTTP_GatewayUnreachableSpeaksApology(t *testing.T) {
	gw := &fakeGateway{openErr: func(int) error {
		return errors.New("dial tcp: connection refused")
	}}
	fx := newFixture(gw, fastTiming)

	rec := postTurn(t, fx.p, turnBody("u1", "check my email now"))
	got := frames(t, rec.Body.String())
	if c := contentOf(t, got[len(got)-2]); c != apologyText {
		t.Errorf("last content = %q, want apology", c)
	}
}

// ---- cancellation ----

func TestServeHTTP_NewTurnAbortsStreamingPredecessor(t *testing.T) {
	gw := &fakeGateway{script: func(call int) []step {
		if call == 0 {
			return []step{{wait: 10 * time.Second, payload: chunkPayload("never")}}
		}
		return []step{{payload: chunkPayload("B answer")}}
	}}
	fx := newFixture(gw, fastTiming)
	srv := httptest.NewServer(fx.p)
	defer srv.Close()

	aDone := make(chan []timedFrame, 1)
	go func() {
		aDone <- streamTurn(t, srv, turnBody("u1", "look up the population of Iceland"))
	}()
	waitFor(t, func() bool { return len(gw.calls()) == 1 })

	bFrames := streamTurn(t, srv, turnBody("u1", "actually never mind, what time is it"))

	// A winds down quietly: buffer then [DONE], no apology, gateway socket
	// released. B streams normally.
	aFrames := <-aDone
	if last := aFrames[len(aFrames)-1].payload; last != sse.Done {
		t.Fatalf("aborted turn last frame = %q, want [DONE]", last)
	}
	for _, f := range aFrames {
		if c, ok := wire.DeltaContent([]byte(f.payload)); ok && c == apologyText {
			t.Error("aborted turn spoke the apology")
		}
	}
	waitFor(t, func() bool { s := gw.stream(0); return s != nil && s.isClosed() })

	var sawAnswer bool
	for _, f := range bFrames {
		if f.payload == chunkPayload("B answer") {
			sawAnswer = true
		}
	}
	if !sawAnswer {
		t.Errorf("successor frames = %v, want relayed answer", bFrames)
	}

	waitFor(t, func() bool { return fx.coord.Len() == 0 })
}

func TestServeHTTP_ClientDisconnectAbortsUpstream(t *testing.T) {
	gw := &fakeGateway{script: func(int) []step {
		return []step{{wait: 10 * time.Second, payload: chunkPayload("never")}}
	}}
	fx := newFixture(gw, fastTiming)
	srv := httptest.NewServer(fx.p)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		srv.URL+"/v1/chat/completions", strings.NewReader(turnBody("u1", "check my email")))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()
	waitFor(t, func() bool { return len(gw.calls()) == 1 })

	cancel()

	waitFor(t, func() bool { s := gw.stream(0); return s != nil && s.isClosed() })
	waitFor(t, func() bool { return fx.coord.Len() == 0 })
}

// ---- speech timing ----

func TestServeHTTP_SmartHoldDelaysFirstModelChunk(t *testing.T) {
	llm := chunkPayload("Sunny all day.")
	gw := &fakeGateway{script: func(int) []step {
		return []step{{wait: 5 * time.Millisecond, payload: llm}}
	}}
	timing := fastTiming
	timing.MinBufferSpeech = 150 * time.Millisecond
	fx := newFixture(gw, timing)
	srv := httptest.NewServer(fx.p)
	defer srv.Close()

	got := streamTurn(t, srv, turnBody("u1", "what is the weather today"))

	var bufferAt, llmAt time.Time
	for _, f := range got {
		switch {
		case f.payload == llm:
			llmAt = f.at
		case bufferAt.IsZero() && f.payload != sse.Done:
			bufferAt = f.at
		}
	}
	if bufferAt.IsZero() || llmAt.IsZero() {
		t.Fatalf("frames = %v, want buffer and model chunks", got)
	}
	// Allow scheduling slack on the read side; the hold itself sleeps the
	// full remainder on the write side.
	if gap := llmAt.Sub(bufferAt); gap < timing.MinBufferSpeech-30*time.Millisecond {
		t.Errorf("model chunk followed buffer after %v, want ≥ %v", gap, timing.MinBufferSpeech)
	}
}

func TestServeHTTP_KeepAliveCadenceWhileGatewayStalls(t *testing.T) {
	llm := chunkPayload("done.")
	gw := &fakeGateway{script: func(int) []step {
		return []step{{wait: 230 * time.Millisecond, payload: llm}}
	}}
	timing := Timing{
		Debounce:          10 * time.Millisecond,
		KeepAliveInterval: 60 * time.Millisecond,
		KeepAliveIdle:     40 * time.Millisecond,
		MinBufferSpeech:   time.Millisecond,
	}
	fx := newFixture(gw, timing)
	srv := httptest.NewServer(fx.p)
	defer srv.Close()

	userText := "search for the best sourdough recipe"
	got := streamTurn(t, srv, turnBody("u1", userText))
	cat := phrase.Match(userText)

	var keepAlives []string
	llmIdx := -1
	for i, f := range got {
		if f.payload == llm {
			llmIdx = i
			continue
		}
		if c, ok := wire.DeltaContent([]byte(f.payload)); ok && isKeepAliveOf(cat, c) {
			if llmIdx != -1 {
				t.Errorf("keep-alive %q after model content", c)
			}
			keepAlives = append(keepAlives, c)
		}
	}
	if llmIdx == -1 {
		t.Fatalf("model chunk never arrived: %v", got)
	}
	if len(keepAlives) < 2 {
		t.Fatalf("keep-alives = %q, want at least 2 while the gateway stalls", keepAlives)
	}
	// Round-robin order is deterministic.
	for i, ka := range keepAlives {
		if want := cat.KeepAliveAt(i); ka != want {
			t.Errorf("keep-alive %d = %q, want %q", i, ka, want)
		}
	}
}

func TestServeHTTP_SmartHoldCountsFromLastKeepAlive(t *testing.T) {
	llm := chunkPayload("done.")
	gw := &fakeGateway{script: func(int) []step {
		return []step{{wait: 200 * time.Millisecond, payload: llm}}
	}}
	timing := Timing{
		Debounce:          20 * time.Millisecond,
		KeepAliveInterval: 160 * time.Millisecond,
		KeepAliveIdle:     120 * time.Millisecond,
		MinBufferSpeech:   100 * time.Millisecond,
	}
	fx := newFixture(gw, timing)
	srv := httptest.NewServer(fx.p)
	defer srv.Close()

	userText := "search for yesterday's match result"
	got := streamTurn(t, srv, turnBody("u1", userText))
	cat := phrase.Match(userText)

	var lastFillerAt, llmAt time.Time
	for _, f := range got {
		if f.payload == llm {
			llmAt = f.at
			continue
		}
		if c, ok := wire.DeltaContent([]byte(f.payload)); ok &&
			(isInitialOf(cat, c) || isKeepAliveOf(cat, c)) {
			lastFillerAt = f.at
		}
	}
	if lastFillerAt.IsZero() || llmAt.IsZero() {
		t.Fatalf("frames = %v, want filler and model chunks", got)
	}
	// The keep-alive restarted the speaking clock, so the model chunk keeps
	// its distance from the keep-alive, not just from the initial buffer.
	if gap := llmAt.Sub(lastFillerAt); gap < timing.MinBufferSpeech-30*time.Millisecond {
		t.Errorf("model chunk followed last filler after %v, want ≥ %v", gap, timing.MinBufferSpeech)
	}
}
