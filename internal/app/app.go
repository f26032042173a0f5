// Package app wires all voxgate subsystems into a running proxy.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until the context is cancelled and drains
// in-flight turns on the way out, and Shutdown tears the rest down in order.
//
// For testing, inject doubles via functional options (WithStreamer,
// WithMetrics). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/voxgate/voxgate/internal/config"
	"github.com/voxgate/voxgate/internal/convlog"
	"github.com/voxgate/voxgate/internal/dedup"
	"github.com/voxgate/voxgate/internal/httpapi"
	"github.com/voxgate/voxgate/internal/observe"
	"github.com/voxgate/voxgate/internal/phrase"
	"github.com/voxgate/voxgate/internal/turn"
	"github.com/voxgate/voxgate/internal/upstream"
)

// drainTimeout bounds how long Run waits for in-flight turns once the run
// context is cancelled. Connections still open past it are dropped.
const drainTimeout = 10 * time.Second

// App owns all subsystem lifetimes and serves the voxgate HTTP surface.
type App struct {
	cfg *config.Config

	// Subsystems — initialised in New, torn down in Shutdown.
	streamer      turn.Streamer
	metrics       *observe.Metrics
	coord         *turn.Coordinator
	conversations *convlog.Log
	server        *http.Server

	mu   sync.Mutex
	addr string

	// closers are called in order during Shutdown.
	closers []func(context.Context) error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStreamer injects a gateway streamer instead of creating an upstream
// client from the config.
func WithStreamer(s turn.Streamer) Option {
	return func(a *App) { a.streamer = s }
}

// WithMetrics injects a metrics bundle instead of using the package default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together: the gateway client,
// the per-session turn coordinator, the dedup cache, the conversation log,
// the turn pipeline, and the HTTP server around them. Construction is pure;
// nothing touches the network until Run.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}

	// ── 1. Gateway client ────────────────────────────────────────────────
	if err := a.initUpstream(); err != nil {
		return nil, fmt.Errorf("app: init upstream: %w", err)
	}

	// ── 2. Metrics ───────────────────────────────────────────────────────
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 3. Turn state ────────────────────────────────────────────────────
	a.coord = turn.NewCoordinator()
	a.conversations = convlog.New(cfg.Conversations.Max)

	// ── 4. Pipeline + routes ─────────────────────────────────────────────
	pipeline := turn.NewPipeline(turn.PipelineConfig{
		Upstream: a.streamer,
		Coord:    a.coord,
		Picker:   phrase.NewPicker(),
		Dedup:    dedup.New(cfg.Timing.DedupWindow()),
		Log:      a.conversations,
		Metrics:  a.metrics,
		Timing: turn.Timing{
			Debounce:          cfg.Timing.Debounce(),
			KeepAliveInterval: cfg.Timing.KeepAliveInterval(),
			KeepAliveIdle:     cfg.Timing.KeepAliveIdle(),
			MinBufferSpeech:   cfg.Timing.MinBufferSpeech(),
		},
	})

	// ── 5. HTTP server ───────────────────────────────────────────────────
	// No WriteTimeout: SSE responses stay open for the lifetime of a turn.
	a.server = &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           httpapi.New(pipeline, a.conversations, a.metrics).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

// initUpstream creates the gateway client unless a streamer was injected.
func (a *App) initUpstream() error {
	if a.streamer != nil {
		return nil
	}
	client, err := upstream.New(a.cfg.Upstream.URL, a.cfg.Upstream.Token, a.cfg.Upstream.Agent)
	if err != nil {
		return err
	}
	a.streamer = turn.NewGateway(client)
	a.closers = append(a.closers, func(context.Context) error {
		client.Close()
		return nil
	})
	return nil
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run opens the listener and serves until ctx is cancelled, then drains
// in-flight turns for up to drainTimeout before returning. After a clean
// drain Run returns ctx.Err(); a listener or serve failure is returned as is.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		return fmt.Errorf("app: listen on %q: %w", a.server.Addr, err)
	}
	a.mu.Lock()
	a.addr = ln.Addr().String()
	a.mu.Unlock()

	slog.Info("proxy listening",
		"addr", a.addr,
		"upstream", a.cfg.Upstream.URL,
		"agent", a.cfg.Upstream.Agent,
	)

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		if err := a.server.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		<-egCtx.Done()
		drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		defer cancel()
		slog.Info("draining in-flight turns", "timeout", drainTimeout)
		if err := a.server.Shutdown(drainCtx); err != nil {
			slog.Warn("drain incomplete, dropping remaining connections", "err", err)
			return a.server.Close()
		}
		return nil
	})

	if err := eg.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// Addr returns the bound listen address once Run has opened the listener, or
// "" before that. Useful when the configured port is 0.
func (a *App) Addr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.addr
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down the remaining subsystems in order. Run's drain has
// already closed the listener by the time Shutdown is called; what is left
// are connection pools and exporters. Shutdown respects the context deadline:
// if ctx expires before all closers finish, the rest are skipped and the
// context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(ctx); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
