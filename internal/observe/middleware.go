package observe

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// responseTap captures the status code a handler writes while forwarding
// everything else to the real writer. Flush must pass through, or SSE turns
// would buffer behind the middleware; Unwrap keeps
// [http.NewResponseController] working on the wrapped writer.
type responseTap struct {
	http.ResponseWriter
	status int
}

func (t *responseTap) WriteHeader(code int) {
	t.status = code
	t.ResponseWriter.WriteHeader(code)
}

func (t *responseTap) Flush() {
	if f, ok := t.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (t *responseTap) Unwrap() http.ResponseWriter { return t.ResponseWriter }

// Middleware wraps a handler with the proxy's request instrumentation: it
// picks up W3C trace context from the caller (or opens a fresh trace),
// answers with an X-Correlation-ID header, times the request into
// [Metrics.HTTPRequestDuration], and writes one completion log line.
//
// The recorded duration covers the whole response body. For turn requests
// that means time to the terminal [DONE] of the SSE stream, not time to
// first byte.
func Middleware(m *Metrics) func(http.Handler) http.Handler {
	prop := propagation.TraceContext{}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ctx := prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := StartSpan(ctx, "HTTP "+r.Method+" "+r.URL.Path,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.URLPath(r.URL.Path),
				),
			)
			defer span.End()

			if cid := CorrelationID(ctx); cid != "" {
				w.Header().Set("X-Correlation-ID", cid)
			}
			prop.Inject(ctx, propagation.HeaderCarrier(w.Header()))

			tap := &responseTap{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(tap, r.WithContext(ctx))

			elapsed := time.Since(start)
			m.HTTPRequestDuration.Record(ctx, elapsed.Seconds(),
				metric.WithAttributes(
					attribute.String("method", r.Method),
					attribute.String("path", metricPath(r.URL.Path)),
				),
			)
			span.SetAttributes(semconv.HTTPResponseStatusCode(tap.status))

			Logger(ctx).LogAttrs(ctx, completionLevel(r.URL.Path), "request completed",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", tap.status),
				slog.Duration("duration", elapsed),
			)
		})
	}
}

// metricPath collapses the request path onto the proxy's fixed route set so
// the label cardinality stays bounded no matter what clients send. Turn
// requests with the doubled base-URL path land on the same label as clean
// ones.
func metricPath(p string) string {
	switch {
	case strings.HasPrefix(p, "/v1/chat/completions"):
		return "/v1/chat/completions"
	case p == "/health" || p == "/metrics":
		return p
	case strings.HasPrefix(p, "/conversations"):
		return "/conversations"
	}
	return "other"
}

// completionLevel demotes poll traffic: the voice platform's supervisor hits
// /health every few seconds and Prometheus scrapes /metrics, neither is worth
// an Info line per request.
func completionLevel(path string) slog.Level {
	switch path {
	case "/health", "/metrics":
		return slog.LevelDebug
	}
	return slog.LevelInfo
}
