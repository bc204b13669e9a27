// Package control serves the HTTP control API for a running audiolimiter:
// device listing, pipeline start and stop, threshold changes and a live
// meter feed over websocket.
//
//	GET  /api/devices    input and output devices currently present
//	GET  /api/status     pipeline state, diagnostics and the current selection
//	POST /api/start      start with the current selection, optionally overridden
//	POST /api/stop       stop the pipeline
//	PUT  /api/threshold  change the threshold (stored even while stopped)
//	GET  /api/meter      websocket; one JSON meter frame per interval
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/MrWong99/audiolimiter/internal/observe"
	"github.com/MrWong99/audiolimiter/internal/pipeline"
	"github.com/MrWong99/audiolimiter/pkg/audio"
)

// DefaultMeterInterval is the meter push period when none is configured.
const DefaultMeterInterval = 100 * time.Millisecond

// maxBodyBytes bounds request bodies; every request is a small JSON object.
const maxBodyBytes = 4 << 10

// Pipeline is the pipeline control surface the API drives.
// [*pipeline.Controller] implements it.
type Pipeline interface {
	Devices(ctx context.Context) []audio.Device
	Start(ctx context.Context, inputName, outputName string, thresholdDB float64) error
	Stop() error
	SetThreshold(db float64) bool
	Status() pipeline.Status
}

var _ Pipeline = (*pipeline.Controller)(nil)

// Server implements the control API handlers.
type Server struct {
	pipe          Pipeline
	sel           *pipeline.SelectionStore
	metrics       *observe.Metrics
	meterInterval time.Duration
}

// Option configures a [Server].
type Option func(*Server)

// WithMetrics sets the metrics instance. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithMeterInterval sets the websocket meter push period.
func WithMeterInterval(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.meterInterval = d
		}
	}
}

// New returns a Server controlling pipe. Start requests fill missing fields
// from sel, and every accepted device or threshold choice is written back
// to it.
func New(pipe Pipeline, sel *pipeline.SelectionStore, opts ...Option) *Server {
	s := &Server{
		pipe:          pipe,
		sel:           sel,
		meterInterval: DefaultMeterInterval,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Register adds the API routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/devices", s.handleDevices)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("POST /api/start", s.handleStart)
	mux.HandleFunc("POST /api/stop", s.handleStop)
	mux.HandleFunc("PUT /api/threshold", s.handleThreshold)
	mux.HandleFunc("GET /api/meter", s.handleMeter)
}

// ─── Handlers ────────────────────────────────────────────────────────────────

type devicesResponse struct {
	Input  []audio.Device `json:"input"`
	Output []audio.Device `json:"output"`
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	res := devicesResponse{Input: []audio.Device{}, Output: []audio.Device{}}
	for _, d := range s.pipe.Devices(r.Context()) {
		if d.Direction.Has(audio.DirectionInput) {
			res.Input = append(res.Input, d)
		}
		if d.Direction.Has(audio.DirectionOutput) {
			res.Output = append(res.Output, d)
		}
	}
	writeJSON(w, http.StatusOK, res)
}

type statusResponse struct {
	Pipeline  pipeline.Status    `json:"pipeline"`
	Selection pipeline.Selection `json:"selection"`
}

func (s *Server) status() statusResponse {
	return statusResponse{Pipeline: s.pipe.Status(), Selection: s.sel.Get()}
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.status())
}

// startRequest overrides parts of the stored selection. Absent fields keep
// their stored values.
type startRequest struct {
	Input       *string  `json:"input"`
	Output      *string  `json:"output"`
	ThresholdDB *float64 `json:"threshold_db"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	sel := s.sel.Get()
	if req.Input != nil {
		sel.Input = *req.Input
	}
	if req.Output != nil {
		sel.Output = *req.Output
	}
	s.sel.SetDevices(sel.Input, sel.Output)
	if req.ThresholdDB != nil {
		sel.ThresholdDB = s.sel.SetThreshold(*req.ThresholdDB)
		s.metrics.RecordThresholdChange(r.Context(), "api")
	}

	if err := s.pipe.Start(r.Context(), sel.Input, sel.Output, sel.ThresholdDB); err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.pipe.Stop(); err != nil {
		observe.Logger(r.Context()).Warn("stop reported errors", "err", err)
	}
	writeJSON(w, http.StatusOK, s.status())
}

type thresholdRequest struct {
	ThresholdDB *float64 `json:"threshold_db"`
}

type thresholdResponse struct {
	ThresholdDB float64 `json:"threshold_db"`
	// Applied is false while no pipeline runs; the value is used at the
	// next start.
	Applied bool `json:"applied"`
}

func (s *Server) handleThreshold(w http.ResponseWriter, r *http.Request) {
	var req thresholdRequest
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.ThresholdDB == nil {
		writeError(w, http.StatusBadRequest, errors.New("threshold_db is required"))
		return
	}
	db := s.sel.SetThreshold(*req.ThresholdDB)
	applied := s.pipe.SetThreshold(db)
	s.metrics.RecordThresholdChange(r.Context(), "api")
	writeJSON(w, http.StatusOK, thresholdResponse{ThresholdDB: db, Applied: applied})
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// errorStatus maps pipeline errors to HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrDeviceNotSelected):
		return http.StatusBadRequest
	case errors.Is(err, pipeline.ErrFormatMismatch):
		return http.StatusUnprocessableEntity
	case errors.Is(err, pipeline.ErrDeviceUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, pipeline.ErrAlreadyRunning):
		return http.StatusConflict
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// decodeOptional decodes a JSON body into v. An empty body leaves v untouched.
func decodeOptional(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		observe.Logger(context.Background()).Debug("write response failed", "err", err)
	}
}
