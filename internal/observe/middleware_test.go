package observe

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// controlMux mimics the control surface: JSON endpoints, health probes and
// the scrape endpoint.
func controlMux() *http.ServeMux {
	mux := http.NewServeMux()
	ok := func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }
	mux.HandleFunc("GET /api/status", ok)
	mux.HandleFunc("GET /healthz", ok)
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	mux.HandleFunc("GET /metrics", ok)
	mux.HandleFunc("POST /api/start", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})
	mux.HandleFunc("PUT /api/threshold", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})
	return mux
}

type middlewareEnv struct {
	handler http.Handler
	reader  *sdkmetric.ManualReader
	spans   *tracetest.InMemoryExporter
	logs    *bytes.Buffer
}

// newMiddlewareEnv wires the middleware around controlMux with in-memory
// metrics, spans and a debug-level text log.
func newMiddlewareEnv(t *testing.T) middlewareEnv {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	origTP := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(origTP) })

	logs := &bytes.Buffer{}
	origLog := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(origLog) })

	return middlewareEnv{
		handler: Middleware(m)(controlMux()),
		reader:  reader,
		spans:   exp,
		logs:    logs,
	}
}

func (e middlewareEnv) do(method, path string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func TestMiddleware_CorrelationIDHeader(t *testing.T) {
	env := newMiddlewareEnv(t)

	t.Run("continues incoming trace", func(t *testing.T) {
		const traceID = "0af7651916cd43dd8448eb211c80319c"
		rec := env.do("GET", "/api/status", map[string]string{
			"traceparent": "00-" + traceID + "-b7ad6b7169203331-01",
		})
		if got := rec.Header().Get("X-Correlation-ID"); got != traceID {
			t.Errorf("X-Correlation-ID = %q, want %q", got, traceID)
		}
		if got := rec.Header().Get("traceparent"); !strings.Contains(got, traceID) {
			t.Errorf("traceparent = %q, want it to carry %s", got, traceID)
		}
	})

	t.Run("starts new trace", func(t *testing.T) {
		first := env.do("POST", "/api/start", nil).Header().Get("X-Correlation-ID")
		second := env.do("POST", "/api/start", nil).Header().Get("X-Correlation-ID")
		if len(first) != 32 || len(second) != 32 {
			t.Fatalf("correlation IDs %q, %q: want 32 hex chars each", first, second)
		}
		if first == second {
			t.Error("two requests without traceparent share a correlation ID")
		}
	})
}

func TestMiddleware_LogLevelByPath(t *testing.T) {
	tests := []struct {
		method, path string
		wantLevel    string
		wantStatus   int
	}{
		{"GET", "/healthz", "DEBUG", http.StatusOK},
		{"GET", "/readyz", "DEBUG", http.StatusServiceUnavailable},
		{"GET", "/metrics", "DEBUG", http.StatusOK},
		{"GET", "/api/status", "INFO", http.StatusOK},
		{"POST", "/api/start", "INFO", http.StatusConflict},
		{"PUT", "/api/threshold", "INFO", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			env := newMiddlewareEnv(t)
			rec := env.do(tt.method, tt.path, nil)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			line := env.logs.String()
			if !strings.Contains(line, "level="+tt.wantLevel) {
				t.Errorf("log line %q: want level=%s", line, tt.wantLevel)
			}
			if !strings.Contains(line, "path="+tt.path) {
				t.Errorf("log line %q: want path=%s", line, tt.path)
			}
		})
	}
}

func TestMiddleware_ThresholdRejectionIsTraced(t *testing.T) {
	env := newMiddlewareEnv(t)
	env.do("PUT", "/api/threshold", nil)

	spans := env.spans.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(spans))
	}
	if spans[0].Name != "HTTP PUT /api/threshold" {
		t.Errorf("span name = %q", spans[0].Name)
	}
	var status int64
	for _, a := range spans[0].Attributes {
		if a.Key == "http.response.status_code" {
			status = a.Value.AsInt64()
		}
	}
	if status != http.StatusBadRequest {
		t.Errorf("span status code attribute = %d, want 400", status)
	}

	var rm metricdata.ResourceMetrics
	if err := env.reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	met := findMetric(rm, "audiolimiter.http.request.duration")
	if met == nil {
		t.Fatal("request duration histogram not recorded")
	}
	hist := met.Data.(metricdata.Histogram[float64])
	want := attribute.NewSet(attribute.String("method", "PUT"), attribute.String("path", "/api/threshold"))
	if len(hist.DataPoints) != 1 || !hist.DataPoints[0].Attributes.Equals(&want) {
		t.Errorf("data points = %+v, want one with %v", hist.DataPoints, want.ToSlice())
	}
}

func TestMiddleware_HijackPassthrough(t *testing.T) {
	var hijackErr error
	handler := Middleware(DefaultMetrics())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hj, ok := w.(http.Hijacker)
		if !ok {
			t.Error("wrapped writer does not expose http.Hijacker")
			return
		}
		_, _, hijackErr = hj.Hijack()
	}))

	// httptest.ResponseRecorder cannot be hijacked; the error must surface
	// instead of a panic.
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/api/meter", nil))
	if hijackErr == nil {
		t.Error("expected hijack error from non-hijackable writer")
	}
}

func TestMiddleware_ResponseControllerUnwraps(t *testing.T) {
	var flushErr error
	handler := Middleware(DefaultMetrics())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		flushErr = http.NewResponseController(w).Flush()
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/api/meter", nil))
	if flushErr != nil {
		t.Errorf("Flush through middleware: %v", flushErr)
	}
	if !rec.Flushed {
		t.Error("underlying recorder was not flushed")
	}
}
