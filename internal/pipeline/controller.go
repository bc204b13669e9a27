package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/audiolimiter/internal/observe"
	"github.com/MrWong99/audiolimiter/pkg/audio"
)

// State is the lifecycle state of a [Controller].
type State int

const (
	StateIdle State = iota
	StateStarting
	StateRunning
	StateStopping
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MarshalText encodes the state as its name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Status is a point-in-time view of the controller for presentation layers.
type Status struct {
	State       State        `json:"state"`
	Input       string       `json:"input,omitempty"`
	Output      string       `json:"output,omitempty"`
	Format      audio.Format `json:"format"`
	ThresholdDB float64      `json:"threshold_db"`
	StartedAt   time.Time    `json:"started_at,omitzero"`

	// Stats of the running pipeline; zero while idle.
	Stats Stats `json:"stats"`

	// Totals accumulates bridge diagnostics over every pipeline run by this
	// controller, including the current one.
	Totals Totals `json:"totals"`
}

// Running reports whether the pipeline is running.
func (s Status) Running() bool { return s.State == StateRunning }

// Totals are cumulative bridge counters across pipeline runs.
type Totals struct {
	Overflows      uint64 `json:"overflows"`
	Underruns      uint64 `json:"underruns"`
	DroppedSamples uint64 `json:"dropped_samples"`
	MissingSamples uint64 `json:"missing_samples"`
	Runs           uint64 `json:"runs"`
}

func (t Totals) plus(s Stats) Totals {
	t.Overflows += s.Bridge.Overflows
	t.Underruns += s.Bridge.Underruns
	t.DroppedSamples += s.Bridge.DroppedSamples
	t.MissingSamples += s.Bridge.MissingSamples
	return t
}

// Option configures a [Controller].
type Option func(*Controller)

// WithMetrics sets the metrics instance. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithOptions sets the pipeline options applied on every start. The
// threshold passed to [Controller.Start] overrides ThresholdDB.
func WithOptions(o Options) Option {
	return func(c *Controller) { c.opts = o }
}

// WithStateHook registers fn to run after every successful start (with
// [StateRunning]) and after every stop of a running pipeline (with
// [StateIdle]). fn runs while Start or Stop still holds the controller, so
// it must not call either.
func WithStateHook(fn func(State)) Option {
	return func(c *Controller) { c.hook = fn }
}

// Controller owns the device bindings and the single running pipeline.
//
// Start and Stop are serialised; Status, SetThreshold and Devices may be
// called concurrently from any goroutine.
type Controller struct {
	backend audio.Backend
	catalog *audio.Catalog
	metrics *observe.Metrics
	reg     metric.Registration
	hook    func(State)

	// op serialises Start and Stop so a Stop issued during a Start waits for
	// it to finish.
	op sync.Mutex

	mu     sync.Mutex
	state  State
	handle *Handle
	opts   Options
	totals Totals
}

// NewController returns an idle controller for backend. It registers the
// pipeline diagnostics instruments; call [Controller.Close] to unregister.
func NewController(backend audio.Backend, opts ...Option) (*Controller, error) {
	c := &Controller{
		backend: backend,
		catalog: audio.NewCatalog(backend),
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	reg, err := c.metrics.ObservePipeline(c.snapshot)
	if err != nil {
		return nil, fmt.Errorf("pipeline: register metrics: %w", err)
	}
	c.reg = reg
	return c, nil
}

// Catalog returns the device catalog the controller resolves names with.
func (c *Controller) Catalog() *audio.Catalog { return c.catalog }

// Devices enumerates the current devices. Enumeration failure yields an
// empty list.
func (c *Controller) Devices(ctx context.Context) []audio.Device {
	return c.catalog.List(ctx)
}

// SetOptions replaces the pipeline options used by the next Start. A running
// pipeline is not affected.
func (c *Controller) SetOptions(o Options) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opts = o
}

// Start resolves inputName and outputName against the current enumeration
// and starts a fresh pipeline limited at thresholdDB.
//
// Errors match [ErrAlreadyRunning], [ErrDeviceNotSelected],
// [ErrFormatMismatch] or [ErrDeviceUnavailable]. On error the controller
// stays idle and no stream is left open.
func (c *Controller) Start(ctx context.Context, inputName, outputName string, thresholdDB float64) (err error) {
	ctx, span := observe.StartSpan(ctx, "pipeline.start")
	defer func() { observe.EndSpan(span, err) }()
	log := observe.Logger(ctx)

	c.op.Lock()
	defer c.op.Unlock()

	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		c.metrics.RecordPipelineStart(ctx, startStatus(ErrAlreadyRunning))
		return ErrAlreadyRunning
	}
	c.state = StateStarting
	opts := c.opts
	c.mu.Unlock()

	start := time.Now()
	h, err := c.open(ctx, inputName, outputName, thresholdDB, opts)
	c.metrics.RecordPipelineStart(ctx, startStatus(err))

	c.mu.Lock()
	if err != nil {
		c.state = StateIdle
		c.mu.Unlock()
		log.Warn("pipeline start failed", "input", inputName, "output", outputName, "err", err)
		return err
	}
	c.handle = h
	c.state = StateRunning
	c.totals.Runs++
	c.mu.Unlock()

	c.metrics.PipelineStartDuration.Record(ctx, time.Since(start).Seconds())
	c.metrics.ActivePipelines.Add(ctx, 1)
	log.Info("pipeline started",
		"input", h.Input().Name,
		"output", h.Output().Name,
		"format", h.Format().String(),
		"threshold_db", h.ThresholdDB(),
	)
	c.notify(StateRunning)
	return nil
}

func (c *Controller) notify(s State) {
	if c.hook != nil {
		c.hook(s)
	}
}

func (c *Controller) open(ctx context.Context, inputName, outputName string, thresholdDB float64, opts Options) (*Handle, error) {
	devices := c.catalog.List(ctx)
	in, err := resolve(ctx, devices, inputName, audio.DirectionInput)
	if err != nil {
		return nil, err
	}
	out, err := resolve(ctx, devices, outputName, audio.DirectionOutput)
	if err != nil {
		return nil, err
	}
	opts.ThresholdDB = thresholdDB
	return Open(ctx, c.backend, in, out, opts)
}

// resolve maps a persisted display name to a device. Unmatched names are
// treated as "no device selected"; a close match is logged as a hint but
// never selected.
func resolve(ctx context.Context, devices []audio.Device, name string, dir audio.Direction) (audio.Device, error) {
	if name == "" {
		return audio.Device{}, fmt.Errorf("%w: no %s device configured", ErrDeviceNotSelected, dir)
	}
	if d, ok := audio.FindByName(devices, name, dir); ok {
		return d, nil
	}
	candidates := make([]audio.Device, 0, len(devices))
	for _, d := range devices {
		if d.Direction.Has(dir) {
			candidates = append(candidates, d)
		}
	}
	if hint, ok := audio.SuggestName(candidates, name); ok {
		observe.Logger(ctx).Info("configured device not found, similar device present",
			"direction", dir.String(), "configured", name, "suggestion", hint)
	}
	return audio.Device{}, fmt.Errorf("%w: %s device %q not present", ErrDeviceNotSelected, dir, name)
}

// Stop tears down the running pipeline. It is a no-op when idle. When Stop
// returns no audio callback is executing.
func (c *Controller) Stop() (err error) {
	ctx, span := observe.StartSpan(context.Background(), "pipeline.stop")
	defer func() { observe.EndSpan(span, err) }()

	c.op.Lock()
	defer c.op.Unlock()

	c.mu.Lock()
	if c.state != StateRunning {
		c.mu.Unlock()
		return nil
	}
	c.state = StateStopping
	h := c.handle
	c.mu.Unlock()

	err = h.Stop()
	stats := h.Stats()

	c.mu.Lock()
	c.totals = c.totals.plus(stats)
	c.handle = nil
	c.state = StateIdle
	c.mu.Unlock()

	c.metrics.ActivePipelines.Add(ctx, -1)
	log := observe.Logger(ctx)
	if err != nil {
		log.Warn("pipeline stopped with errors", "err", err)
	} else {
		log.Info("pipeline stopped",
			"uptime", time.Since(h.StartedAt()).Round(time.Millisecond),
			"overflows", stats.Bridge.Overflows,
			"underruns", stats.Bridge.Underruns,
		)
	}
	c.notify(StateIdle)
	return err
}

// SetThreshold updates the running pipeline's threshold and reports whether
// a pipeline was running. It is a no-op while idle.
func (c *Controller) SetThreshold(db float64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateRunning {
		return false
	}
	c.handle.SetThreshold(db)
	return true
}

// Status returns the current state and diagnostics.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{State: c.state, Totals: c.totals}
	if c.handle == nil {
		return st
	}
	h := c.handle
	st.Input = h.Input().Name
	st.Output = h.Output().Name
	st.Format = h.Format()
	st.ThresholdDB = h.ThresholdDB()
	st.StartedAt = h.StartedAt()
	st.Stats = h.Stats()
	st.Totals = c.totals.plus(st.Stats)
	return st
}

// Close stops any running pipeline and unregisters the metrics callback.
func (c *Controller) Close() error {
	err := c.Stop()
	if c.reg != nil {
		err = errors.Join(err, c.reg.Unregister())
	}
	return err
}

// snapshot feeds the observable pipeline instruments.
func (c *Controller) snapshot() (observe.PipelineSnapshot, bool) {
	st := c.Status()
	snap := observe.PipelineSnapshot{
		Overflows:      st.Totals.Overflows,
		Underruns:      st.Totals.Underruns,
		DroppedSamples: st.Totals.DroppedSamples,
		MissingSamples: st.Totals.MissingSamples,
	}
	if !st.Running() {
		return snap, false
	}
	snap.BufferedFrames = st.Stats.Bridge.BufferedFrames
	snap.GainReductionDB = st.Stats.GainReductionDB
	snap.ThresholdDB = st.ThresholdDB
	return snap, true
}

// startStatus maps a Start result to the status attribute value.
func startStatus(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrAlreadyRunning):
		return "already_running"
	case errors.Is(err, ErrDeviceNotSelected):
		return "not_selected"
	case errors.Is(err, ErrFormatMismatch):
		return "format_mismatch"
	case errors.Is(err, ErrDeviceUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}
