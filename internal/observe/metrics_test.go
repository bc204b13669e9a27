package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumWith returns the value of the int64 sum data point carrying key=value.
func sumWith(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not an int64 sum", name)
	}
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
			return dp.Value
		}
	}
	t.Fatalf("metric %q has no data point with %s=%s", name, key, value)
	return 0
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestPipelineStartDuration(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.PipelineStartDuration.Record(ctx, 0.012)
	m.PipelineStartDuration.Record(ctx, 0.3)

	rm := collect(t, reader)
	met := findMetric(rm, "audiolimiter.pipeline.start.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("metric is not a histogram")
	}
	if len(hist.DataPoints) == 0 {
		t.Fatal("no data points")
	}
	if got := hist.DataPoints[0].Count; got != 2 {
		t.Errorf("sample count = %d, want 2", got)
	}
}

func TestRecordPipelineStart(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordPipelineStart(ctx, "ok")
	m.RecordPipelineStart(ctx, "ok")
	m.RecordPipelineStart(ctx, "format_mismatch")

	rm := collect(t, reader)
	if got := sumWith(t, rm, "audiolimiter.pipeline.starts", "status", "ok"); got != 2 {
		t.Errorf("ok starts = %d, want 2", got)
	}
	if got := sumWith(t, rm, "audiolimiter.pipeline.starts", "status", "format_mismatch"); got != 1 {
		t.Errorf("format_mismatch starts = %d, want 1", got)
	}
}

func TestRecordThresholdChange(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordThresholdChange(ctx, "tui")
	m.RecordThresholdChange(ctx, "api")
	m.RecordThresholdChange(ctx, "api")

	rm := collect(t, reader)
	if got := sumWith(t, rm, "audiolimiter.threshold.changes", "source", "api"); got != 2 {
		t.Errorf("api changes = %d, want 2", got)
	}
}

func TestActivePipelines(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActivePipelines.Add(ctx, 1)
	m.ActivePipelines.Add(ctx, -1)
	m.ActivePipelines.Add(ctx, 1)

	rm := collect(t, reader)
	met := findMetric(rm, "audiolimiter.pipeline.active")
	if met == nil {
		t.Fatal("metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("metric is not a sum")
	}
	if len(sum.DataPoints) == 0 || sum.DataPoints[0].Value != 1 {
		t.Errorf("active pipelines = %v, want 1", sum.DataPoints)
	}
}

func TestObservePipeline(t *testing.T) {
	m, reader := newTestMetrics(t)

	snap := PipelineSnapshot{
		Overflows:       3,
		Underruns:       7,
		DroppedSamples:  96,
		MissingSamples:  480,
		BufferedFrames:  1440,
		GainReductionDB: 6.5,
		ThresholdDB:     -20,
	}
	running := true
	reg, err := m.ObservePipeline(func() (PipelineSnapshot, bool) { return snap, running })
	if err != nil {
		t.Fatalf("ObservePipeline: %v", err)
	}
	t.Cleanup(func() { _ = reg.Unregister() })

	rm := collect(t, reader)
	counters := []struct {
		name string
		want int64
	}{
		{"audiolimiter.bridge.overflows", 3},
		{"audiolimiter.bridge.underruns", 7},
		{"audiolimiter.bridge.dropped_samples", 96},
		{"audiolimiter.bridge.missing_samples", 480},
	}
	for _, tc := range counters {
		met := findMetric(rm, tc.name)
		if met == nil {
			t.Fatalf("metric %q not found", tc.name)
		}
		sum, ok := met.Data.(metricdata.Sum[int64])
		if !ok || len(sum.DataPoints) == 0 {
			t.Fatalf("metric %q has no sum data", tc.name)
		}
		if got := sum.DataPoints[0].Value; got != tc.want {
			t.Errorf("%s = %d, want %d", tc.name, got, tc.want)
		}
	}

	met := findMetric(rm, "audiolimiter.limiter.gain_reduction")
	if met == nil {
		t.Fatal("gain reduction gauge not found")
	}
	g, ok := met.Data.(metricdata.Gauge[float64])
	if !ok || len(g.DataPoints) == 0 {
		t.Fatal("gain reduction gauge has no data")
	}
	if got := g.DataPoints[0].Value; got != 6.5 {
		t.Errorf("gain reduction = %v, want 6.5", got)
	}

	// Idle: live gauges disappear, cumulative counters stay.
	running = false
	rm = collect(t, reader)
	if met := findMetric(rm, "audiolimiter.limiter.threshold"); met != nil {
		if g, ok := met.Data.(metricdata.Gauge[float64]); ok && len(g.DataPoints) > 0 {
			t.Errorf("threshold gauge observed while idle: %v", g.DataPoints)
		}
	}
	if findMetric(rm, "audiolimiter.bridge.underruns") == nil {
		t.Error("underrun counter missing while idle")
	}
}

func TestHTTPRequestDuration(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.HTTPRequestDuration.Record(ctx, 0.05,
		metric.WithAttributes(
			attribute.String("method", "GET"),
			attribute.String("path", "/healthz"),
		),
	)

	rm := collect(t, reader)
	met := findMetric(rm, "audiolimiter.http.request.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("metric is not a histogram")
	}
	if len(hist.DataPoints) == 0 {
		t.Fatal("no data points")
	}
	if got := hist.DataPoints[0].Count; got != 1 {
		t.Errorf("sample count = %d, want 1", got)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}
