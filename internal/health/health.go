// Package health provides the HTTP health check handler.
//
// The proxy exposes a single /health endpoint returning a JSON object with
// "ok" and "uptimeSeconds" fields. The voice platform's supervisor polls it
// to decide whether the tunnel should keep routing calls here; a process
// that can serve HTTP is considered healthy, since the proxy has no
// dependencies worth probing without sending junk turns to the gateway.
package health

import (
	"encoding/json"
	"net/http"
	"time"
)

// status is the JSON response body for the health endpoint.
type status struct {
	OK            bool  `json:"ok"`
	UptimeSeconds int64 `json:"uptimeSeconds"`
}

// Handler serves the /health endpoint. It is safe for concurrent use.
type Handler struct {
	started time.Time
	now     func() time.Time
}

// New creates a [Handler] whose uptime starts counting now.
func New() *Handler {
	return &Handler{started: time.Now(), now: time.Now}
}

// Health reports liveness and process uptime in whole seconds.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	uptime := int64(h.now().Sub(h.started).Seconds())
	body, err := json.Marshal(status{OK: true, UptimeSeconds: uptime})
	if err != nil {
		http.Error(w, "encode health status", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Write(append(body, '\n'))
}

// Register adds the /health route to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)
}
