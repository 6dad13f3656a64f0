// Package observe provides application-wide observability primitives for
// Voxline: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Voxline metrics.
const meterName = "github.com/MrWong99/voxline"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Histograms ---

	// SessionDuration tracks how long voice sessions last, from connect to
	// teardown.
	SessionDuration metric.Float64Histogram

	// ConnectDuration tracks session establishment latency, from dial to
	// the provider's ready acknowledgment.
	ConnectDuration metric.Float64Histogram

	// --- Counters ---

	// FramesCaptured counts microphone frames delivered to the session.
	// Use with attribute: attribute.String("provider", ...).
	FramesCaptured metric.Int64Counter

	// FramesMuted counts microphone frames suppressed by the mute toggle.
	FramesMuted metric.Int64Counter

	// ChunksReceived counts model audio chunks received from the provider.
	// Use with attribute: attribute.String("provider", ...).
	ChunksReceived metric.Int64Counter

	// ChunksDropped counts model audio chunks discarded as malformed.
	// Use with attribute: attribute.String("provider", ...).
	ChunksDropped metric.Int64Counter

	// Interruptions counts barge-in events by provider.
	Interruptions metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live voice sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// connectBuckets defines histogram bucket boundaries (in seconds) for
// session establishment latency.
var connectBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// sessionBuckets defines histogram bucket boundaries (in seconds) for whole
// session lifetimes.
var sessionBuckets = []float64{
	1, 5, 15, 30, 60, 120, 300, 600, 900, 1800,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.SessionDuration, err = m.Float64Histogram("voxline.session.duration",
		metric.WithDescription("Lifetime of voice sessions from connect to teardown."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(sessionBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ConnectDuration, err = m.Float64Histogram("voxline.session.connect.duration",
		metric.WithDescription("Latency of session establishment."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(connectBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.FramesCaptured, err = m.Int64Counter("voxline.frames.captured",
		metric.WithDescription("Total microphone frames delivered to the session by provider."),
	); err != nil {
		return nil, err
	}
	if met.FramesMuted, err = m.Int64Counter("voxline.frames.muted",
		metric.WithDescription("Total microphone frames suppressed by the mute toggle."),
	); err != nil {
		return nil, err
	}
	if met.ChunksReceived, err = m.Int64Counter("voxline.chunks.received",
		metric.WithDescription("Total model audio chunks received by provider."),
	); err != nil {
		return nil, err
	}
	if met.ChunksDropped, err = m.Int64Counter("voxline.chunks.dropped",
		metric.WithDescription("Total malformed model audio chunks discarded by provider."),
	); err != nil {
		return nil, err
	}
	if met.Interruptions, err = m.Int64Counter("voxline.interruptions",
		metric.WithDescription("Total barge-in events by provider."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("voxline.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("voxline.active_sessions",
		metric.WithDescription("Number of live voice sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("voxline.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordFrameCaptured is a convenience method that increments the captured
// frame counter for a provider.
func (m *Metrics) RecordFrameCaptured(ctx context.Context, provider string) {
	m.FramesCaptured.Add(ctx, 1,
		metric.WithAttributes(attribute.String("provider", provider)),
	)
}

// RecordChunkReceived is a convenience method that increments the received
// chunk counter for a provider.
func (m *Metrics) RecordChunkReceived(ctx context.Context, provider string) {
	m.ChunksReceived.Add(ctx, 1,
		metric.WithAttributes(attribute.String("provider", provider)),
	)
}

// RecordChunkDropped is a convenience method that increments the dropped
// chunk counter for a provider.
func (m *Metrics) RecordChunkDropped(ctx context.Context, provider string) {
	m.ChunksDropped.Add(ctx, 1,
		metric.WithAttributes(attribute.String("provider", provider)),
	)
}

// RecordInterruption is a convenience method that increments the barge-in
// counter for a provider.
func (m *Metrics) RecordInterruption(ctx context.Context, provider string) {
	m.Interruptions.Add(ctx, 1,
		metric.WithAttributes(attribute.String("provider", provider)),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}
