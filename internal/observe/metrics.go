// Package observe carries the proxy's observability kit: OpenTelemetry
// metric instruments, span helpers for correlation IDs, trace-aware logging,
// and the HTTP middleware that ties the three together.
//
// Instruments are created through the OTel metrics API and surface on
// GET /metrics via the Prometheus bridge installed by [InitProvider]. Code on
// the request path records through a shared [Metrics] value ([DefaultMetrics]
// in production); tests build their own with [NewMetrics] and a manual reader
// so they never see each other's counts.
package observe

import (
	"context"
	"errors"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all voxgate metrics.
const meterName = "github.com/voxgate/voxgate"

// Metrics holds the proxy's metric instruments. The underlying OTel types
// are safe for concurrent use.
type Metrics struct {
	// TurnDuration tracks wall time of a whole turn, arrival to [DONE],
	// labelled by outcome.
	TurnDuration metric.Float64Histogram

	// UpstreamFirstByte tracks time from the upstream request leaving to
	// the first SSE payload arriving.
	UpstreamFirstByte metric.Float64Histogram

	// Turns counts finished turns, labelled by outcome: normal, silent,
	// superseded, dedup, cancelled, error.
	Turns metric.Int64Counter

	// KeepAlives counts keep-alive phrases spoken while waiting on the
	// model, labelled by phrase category.
	KeepAlives metric.Int64Counter

	// UpstreamErrors counts failed gateway calls, labelled by kind:
	// status or transport.
	UpstreamErrors metric.Int64Counter

	// ActiveTurns tracks turns currently streaming (past the debounce).
	ActiveTurns metric.Int64UpDownCounter

	// HTTPRequestDuration times whole HTTP exchanges, labelled by method
	// and route.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram boundaries in seconds. Turns legitimately
// run tens of seconds while the model sits inside a tool call, so the tail
// reaches a minute.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// NewMetrics creates every instrument on a meter from mp. Creation errors
// are joined and reported together, since a broken meter provider fails all
// of them at once.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(meterName)

	var (
		met  Metrics
		errs []error
	)
	histogram := func(name, desc string) metric.Float64Histogram {
		h, err := meter.Float64Histogram(name,
			metric.WithDescription(desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		)
		errs = append(errs, err)
		return h
	}
	counter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		errs = append(errs, err)
		return c
	}
	gauge := func(name, desc string) metric.Int64UpDownCounter {
		g, err := meter.Int64UpDownCounter(name, metric.WithDescription(desc))
		errs = append(errs, err)
		return g
	}

	met.TurnDuration = histogram("voxgate.turn.duration",
		"Wall time of a turn from arrival to terminal [DONE].")
	met.UpstreamFirstByte = histogram("voxgate.upstream.first_byte.duration",
		"Latency until the gateway's first SSE payload.")
	met.HTTPRequestDuration = histogram("voxgate.http.request.duration",
		"HTTP exchange latency by method and route.")

	met.Turns = counter("voxgate.turns",
		"Total finished turns by outcome.")
	met.KeepAlives = counter("voxgate.keepalives",
		"Total keep-alive phrases spoken, by phrase category.")
	met.UpstreamErrors = counter("voxgate.upstream.errors",
		"Total failed gateway calls by kind.")

	met.ActiveTurns = gauge("voxgate.active_turns",
		"Number of turns currently streaming.")

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return &met, nil
}

var (
	sharedMetrics *Metrics
	sharedOnce    sync.Once
)

// DefaultMetrics returns the shared [Metrics] built on the global meter
// provider, creating it on first call. It panics when instrument creation
// fails, which the global provider never does.
func DefaultMetrics() *Metrics {
	sharedOnce.Do(func() {
		m, err := NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
		sharedMetrics = m
	})
	return sharedMetrics
}

// RecordTurn records one finished turn: the outcome counter and the duration
// histogram in a single call.
func (m *Metrics) RecordTurn(ctx context.Context, outcome string, seconds float64) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.Turns.Add(ctx, 1, attrs)
	m.TurnDuration.Record(ctx, seconds, attrs)
}

// RecordKeepAlive counts one spoken keep-alive.
func (m *Metrics) RecordKeepAlive(ctx context.Context, category string) {
	m.KeepAlives.Add(ctx, 1,
		metric.WithAttributes(attribute.String("category", category)),
	)
}

// RecordUpstreamError counts one failed gateway call.
func (m *Metrics) RecordUpstreamError(ctx context.Context, kind string) {
	m.UpstreamErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}
