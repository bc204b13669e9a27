// Package observe provides application-wide observability primitives for the
// limiter: OpenTelemetry metrics, tracing, trace-correlated logging, and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
//
// The audio callbacks never touch an instrument. Pipeline diagnostics are
// exported through observable instruments whose callback polls the atomic
// counters kept by the pipeline ([Metrics.ObservePipeline]).
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/MrWong99/audiolimiter"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	meter metric.Meter

	// --- Pipeline lifecycle ---

	// PipelineStartDuration tracks how long opening and starting both device
	// streams takes.
	PipelineStartDuration metric.Float64Histogram

	// PipelineStarts counts start attempts. Use with attribute:
	//   attribute.String("status", "ok"|"not_selected"|"format_mismatch"|"unavailable"|"already_running"|"error")
	PipelineStarts metric.Int64Counter

	// ActivePipelines is 1 while the pipeline is running, 0 otherwise.
	ActivePipelines metric.Int64UpDownCounter

	// ThresholdChanges counts threshold writes. Use with attribute:
	//   attribute.String("source", "api"|"tui"|"config")
	ThresholdChanges metric.Int64Counter

	// --- Pipeline diagnostics (observable) ---

	bridgeOverflows metric.Int64ObservableCounter
	bridgeUnderruns metric.Int64ObservableCounter
	droppedSamples  metric.Int64ObservableCounter
	missingSamples  metric.Int64ObservableCounter
	bufferedFrames  metric.Int64ObservableGauge
	gainReduction   metric.Float64ObservableGauge
	threshold       metric.Float64ObservableGauge

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// startBuckets defines histogram bucket boundaries (in seconds) for device
// stream start-up.
var startBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{meter: m}

	// Lifecycle.
	if met.PipelineStartDuration, err = m.Float64Histogram("audiolimiter.pipeline.start.duration",
		metric.WithDescription("Latency of opening and starting both device streams."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(startBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PipelineStarts, err = m.Int64Counter("audiolimiter.pipeline.starts",
		metric.WithDescription("Total pipeline start attempts by status."),
	); err != nil {
		return nil, err
	}
	if met.ActivePipelines, err = m.Int64UpDownCounter("audiolimiter.pipeline.active",
		metric.WithDescription("Number of running pipelines (0 or 1)."),
	); err != nil {
		return nil, err
	}
	if met.ThresholdChanges, err = m.Int64Counter("audiolimiter.threshold.changes",
		metric.WithDescription("Total threshold updates by source."),
	); err != nil {
		return nil, err
	}

	// Diagnostics.
	if met.bridgeOverflows, err = m.Int64ObservableCounter("audiolimiter.bridge.overflows",
		metric.WithDescription("Writes into the stream bridge that dropped frames."),
	); err != nil {
		return nil, err
	}
	if met.bridgeUnderruns, err = m.Int64ObservableCounter("audiolimiter.bridge.underruns",
		metric.WithDescription("Reads from the stream bridge padded with silence."),
	); err != nil {
		return nil, err
	}
	if met.droppedSamples, err = m.Int64ObservableCounter("audiolimiter.bridge.dropped_samples",
		metric.WithDescription("Samples discarded on bridge overflow."),
	); err != nil {
		return nil, err
	}
	if met.missingSamples, err = m.Int64ObservableCounter("audiolimiter.bridge.missing_samples",
		metric.WithDescription("Silent samples inserted on bridge underrun."),
	); err != nil {
		return nil, err
	}
	if met.bufferedFrames, err = m.Int64ObservableGauge("audiolimiter.bridge.buffered_frames",
		metric.WithDescription("Current stream bridge fill level."),
	); err != nil {
		return nil, err
	}
	if met.gainReduction, err = m.Float64ObservableGauge("audiolimiter.limiter.gain_reduction",
		metric.WithDescription("Deepest gain reduction applied in the last processed block."),
		metric.WithUnit("dB"),
	); err != nil {
		return nil, err
	}
	if met.threshold, err = m.Float64ObservableGauge("audiolimiter.limiter.threshold",
		metric.WithDescription("Current limiter threshold."),
		metric.WithUnit("dB"),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("audiolimiter.http.request.duration",
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

// PipelineSnapshot is the diagnostics view polled by the observable
// instruments. Counters are cumulative over the process lifetime.
type PipelineSnapshot struct {
	Overflows       uint64
	Underruns       uint64
	DroppedSamples  uint64
	MissingSamples  uint64
	BufferedFrames  int
	GainReductionDB float64
	ThresholdDB     float64
}

// ObservePipeline registers fn as the source of the pipeline diagnostics
// instruments. fn is called on every collection; it reports false when no
// pipeline is running, in which case only the cumulative counters are
// observed. Unregister the returned registration when the source goes away.
func (m *Metrics) ObservePipeline(fn func() (PipelineSnapshot, bool)) (metric.Registration, error) {
	return m.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		s, running := fn()
		o.ObserveInt64(m.bridgeOverflows, int64(s.Overflows))
		o.ObserveInt64(m.bridgeUnderruns, int64(s.Underruns))
		o.ObserveInt64(m.droppedSamples, int64(s.DroppedSamples))
		o.ObserveInt64(m.missingSamples, int64(s.MissingSamples))
		if running {
			o.ObserveInt64(m.bufferedFrames, int64(s.BufferedFrames))
			o.ObserveFloat64(m.gainReduction, s.GainReductionDB)
			o.ObserveFloat64(m.threshold, s.ThresholdDB)
		}
		return nil
	},
		m.bridgeOverflows, m.bridgeUnderruns, m.droppedSamples, m.missingSamples,
		m.bufferedFrames, m.gainReduction, m.threshold,
	)
}

// RecordPipelineStart is a convenience method that records a start attempt
// with the standard attribute set.
func (m *Metrics) RecordPipelineStart(ctx context.Context, status string) {
	m.PipelineStarts.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordThresholdChange is a convenience method that records a threshold
// update from source.
func (m *Metrics) RecordThresholdChange(ctx context.Context, source string) {
	m.ThresholdChanges.Add(ctx, 1,
		metric.WithAttributes(attribute.String("source", source)),
	)
}
