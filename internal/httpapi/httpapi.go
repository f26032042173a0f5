// Package httpapi assembles the proxy's HTTP surface: the chat-completions
// turn endpoint, health and conversation-log routes, and the Prometheus
// scrape target, all wrapped in the shared observability middleware.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voxgate/voxgate/internal/convlog"
	"github.com/voxgate/voxgate/internal/health"
	"github.com/voxgate/voxgate/internal/observe"
)

// Server owns the route table. The turn handler is injected so tests can
// substitute a stub for the full pipeline.
type Server struct {
	turns   http.Handler
	health  *health.Handler
	log     *convlog.Log
	metrics *observe.Metrics
}

// New creates a Server routing turn requests to turns and serving the
// conversation endpoints from log. A nil metrics selects the package default.
func New(turns http.Handler, log *convlog.Log, m *observe.Metrics) *Server {
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Server{
		turns:   turns,
		health:  health.New(),
		log:     log,
		metrics: m,
	}
}

// Handler returns the proxy's routes wrapped in the observability middleware:
//
//	POST   /v1/chat/completions                   — one voice turn, SSE response
//	POST   /v1/chat/completions/chat/completions  — same handler
//	GET    /health                                — liveness and uptime
//	GET    /conversations                         — conversation log snapshot
//	DELETE /conversations                         — drop all conversations
//	GET    /metrics                               — Prometheus scrape target
//
// The doubled completions path is load-bearing: voice platforms configured
// with the full endpoint URL as an OpenAI-style base URL append the standard
// suffix a second time, and those calls must land on the same handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("POST /v1/chat/completions", s.turns)
	mux.Handle("POST /v1/chat/completions/chat/completions", s.turns)
	s.health.Register(mux)
	mux.HandleFunc("GET /conversations", s.listConversations)
	mux.HandleFunc("DELETE /conversations", s.clearConversations)
	mux.Handle("GET /metrics", promhttp.Handler())
	return observe.Middleware(s.metrics)(mux)
}

// listConversations dumps the in-memory conversation log keyed by session.
func (s *Server) listConversations(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.log.Snapshot())
}

// clearConversations empties the conversation log.
func (s *Server) clearConversations(w http.ResponseWriter, _ *http.Request) {
	n := s.log.Len()
	s.log.Clear()
	slog.Info("conversation log cleared", "sessions", n)
	w.WriteHeader(http.StatusNoContent)
}

// writeJSON streams v onto the wire without an intermediate buffer, since a
// conversation snapshot can be sizeable. An encode error mid-body means the
// client went away; the status line is already out either way.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("response encode aborted", "err", err)
	}
}
