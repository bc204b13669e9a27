// Package app wires the audiolimiter subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates the pipeline controller,
// the shared device/threshold selection, the HTTP surface and the config
// watcher; Run serves until the context is cancelled; Shutdown stops the
// pipeline, persists the selection and tears everything down in order.
//
// For testing, inject doubles via functional options (WithMetrics,
// WithListener, etc.) and pass a mock [audio.Backend] to New.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/audiolimiter/internal/config"
	"github.com/MrWong99/audiolimiter/internal/control"
	"github.com/MrWong99/audiolimiter/internal/health"
	"github.com/MrWong99/audiolimiter/internal/observe"
	"github.com/MrWong99/audiolimiter/internal/pipeline"
	"github.com/MrWong99/audiolimiter/internal/resilience"
	"github.com/MrWong99/audiolimiter/pkg/audio"
)

// readHeaderTimeout bounds slow clients on the control server.
const readHeaderTimeout = 5 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	cfg     *config.Config
	cfgPath string

	metrics       *observe.Metrics
	level         *slog.LevelVar
	listener      net.Listener
	watchInterval time.Duration

	// Subsystems, initialised in New and torn down in Shutdown.
	ctrl    *pipeline.Controller
	sel     *pipeline.SelectionStore
	mux     *http.ServeMux
	server  *http.Server
	watcher *config.Watcher

	// closers are called in order during Shutdown.
	closers []func() error

	// persistMu serialises writes of the config file.
	persistMu sync.Mutex

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithConfigPath sets the config file that is watched for changes and that
// the selection is persisted to on shutdown. Without it nothing is watched
// or written.
func WithConfigPath(path string) Option {
	return func(a *App) { a.cfgPath = path }
}

// WithMetrics sets the metrics instance. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLevelVar hands the logger's level variable to the app so config reloads
// can change verbosity.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithListener serves the HTTP surface on l instead of listening on
// server.listen_addr.
func WithListener(l net.Listener) Option {
	return func(a *App) { a.listener = l }
}

// WithWatchInterval overrides the config watcher polling interval.
func WithWatchInterval(d time.Duration) Option {
	return func(a *App) { a.watchInterval = d }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App around backend. The backend is closed during Shutdown.
//
// New performs all initialisation synchronously but does not start audio;
// call [App.StartPipeline] or drive the controller through the control API.
func New(ctx context.Context, cfg *config.Config, backend audio.Backend, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.level == nil {
		a.level = new(slog.LevelVar)
		a.level.Set(cfg.LogLevel.Level())
	}
	a.closers = append(a.closers, backend.Close)

	// ── 1. Enumeration guard ─────────────────────────────────────────────
	guarded := resilience.Guard(backend, resilience.BreakerConfig{})

	// ── 2. Selection ─────────────────────────────────────────────────────
	a.sel = pipeline.NewSelectionStore(pipeline.Selection{
		Input:       cfg.Devices.Input,
		Output:      cfg.Devices.Output,
		ThresholdDB: float64(cfg.Limiter.ThresholdDB),
	})

	// ── 3. Pipeline controller ───────────────────────────────────────────
	ctrl, err := pipeline.NewController(guarded,
		pipeline.WithMetrics(a.metrics),
		pipeline.WithOptions(pipelineOptions(cfg)),
		pipeline.WithStateHook(a.persistOnTransition),
	)
	if err != nil {
		return nil, fmt.Errorf("app: init pipeline: %w", err)
	}
	a.ctrl = ctrl
	// Stop the pipeline before the backend goes away.
	a.closers = append([]func() error{ctrl.Close}, a.closers...)

	a.reportDevices(ctx)

	// ── 4. HTTP surface ──────────────────────────────────────────────────
	a.initHTTP()

	// ── 5. Config watcher ────────────────────────────────────────────────
	a.initWatcher()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// pipelineOptions maps the config onto the options used for every start.
func pipelineOptions(cfg *config.Config) pipeline.Options {
	return pipeline.Options{
		ThresholdDB: float64(cfg.Limiter.ThresholdDB),
		Latency:     cfg.Audio.Latency(),
		SampleRate:  cfg.Audio.SampleRate,
		AttackMs:    cfg.Limiter.AttackMs,
		ReleaseMs:   cfg.Limiter.ReleaseMs,
	}
}

// reportDevices logs whether the persisted device names still resolve and
// offers the closest present name when one does not.
func (a *App) reportDevices(ctx context.Context) {
	cat := a.ctrl.Catalog()
	check := func(name string, dir audio.Direction) {
		if name == "" {
			return
		}
		if _, ok := cat.Find(ctx, name, dir); ok {
			return
		}
		if hint, ok := cat.Suggest(ctx, name, dir); ok {
			slog.Warn("persisted device not present", "direction", dir, "device", name, "did_you_mean", hint)
			return
		}
		slog.Warn("persisted device not present", "direction", dir, "device", name)
	}
	sel := a.sel.Get()
	check(sel.Input, audio.DirectionInput)
	check(sel.Output, audio.DirectionOutput)
}

// initHTTP builds the mux with health, control and metrics endpoints. The
// server is only created when there is somewhere to listen.
func (a *App) initHTTP() {
	a.mux = http.NewServeMux()

	health.New(
		health.Pipeline(a.ctrl.Status),
		health.Devices(a.ctrl.Catalog()),
	).Register(a.mux)

	control.New(a.ctrl, a.sel,
		control.WithMetrics(a.metrics),
		control.WithMeterInterval(a.cfg.Server.MeterInterval),
	).Register(a.mux)

	a.mux.Handle("GET /metrics", promhttp.Handler())

	if a.listener == nil && a.cfg.Server.ListenAddr == "" {
		slog.Info("control server disabled")
		return
	}
	a.server = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           observe.Middleware(a.metrics)(a.mux),
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

// initWatcher starts watching the config file when one is set. A missing or
// invalid file only disables hot reload.
func (a *App) initWatcher() {
	if a.cfgPath == "" {
		return
	}
	var opts []config.WatcherOption
	if a.watchInterval > 0 {
		opts = append(opts, config.WithInterval(a.watchInterval))
	}
	w, err := config.NewWatcher(a.cfgPath, a.applyConfig, opts...)
	if err != nil {
		slog.Info("config hot reload disabled", "path", a.cfgPath, "err", err)
		return
	}
	a.watcher = w
	slog.Debug("watching config", "path", a.cfgPath)
}

// applyConfig hot-applies what changed between old and new.
func (a *App) applyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.Empty() {
		return
	}

	if d.LogLevelChanged {
		a.level.Set(d.NewLogLevel.Level())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.StartOptionsChanged {
		a.ctrl.SetOptions(pipelineOptions(new))
		slog.Info("pipeline options changed, effective on next start",
			"attack_ms", new.Limiter.AttackMs,
			"release_ms", new.Limiter.ReleaseMs,
			"latency_ms", new.Audio.LatencyMs,
			"sample_rate", new.Audio.SampleRate,
		)
	}
	// A file that already matches the selection changes nothing.
	sel := a.sel.Get()
	if d.DevicesChanged && (sel.Input != new.Devices.Input || sel.Output != new.Devices.Output) {
		a.sel.SetDevices(new.Devices.Input, new.Devices.Output)
		slog.Info("device selection changed, effective on next start",
			"input", new.Devices.Input, "output", new.Devices.Output)
	}
	if d.ThresholdChanged && sel.ThresholdDB != d.NewThresholdDB {
		db := a.sel.SetThreshold(d.NewThresholdDB)
		applied := a.ctrl.SetThreshold(db)
		a.metrics.RecordThresholdChange(context.Background(), "config")
		slog.Info("threshold changed", "threshold_db", db, "applied", applied)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config change requires restart", "settings", d.RestartRequired)
	}
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Controller returns the pipeline controller.
func (a *App) Controller() *pipeline.Controller { return a.ctrl }

// Selection returns the shared device and threshold selection.
func (a *App) Selection() *pipeline.SelectionStore { return a.sel }

// Metrics returns the metrics instance in use.
func (a *App) Metrics() *observe.Metrics { return a.metrics }

// StartPipeline starts the pipeline on the current selection.
func (a *App) StartPipeline(ctx context.Context) error {
	return a.ctrl.StartSelected(ctx, a.sel)
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves the control surface and blocks until ctx is cancelled or the
// server fails. On cancellation Run returns ctx.Err().
func (a *App) Run(ctx context.Context) error {
	if a.server == nil {
		slog.Info("app running", "server", false)
		<-ctx.Done()
		return ctx.Err()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if a.listener != nil {
			slog.Info("control server listening", "addr", a.listener.Addr().String())
			err = a.server.Serve(a.listener)
		} else {
			slog.Info("control server listening", "addr", a.server.Addr)
			err = a.server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), readHeaderTimeout)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the watcher and the pipeline, persists the selection and runs
// the closers. It respects the context deadline: if ctx expires before all
// closers finish, remaining closers are skipped and the context error is
// returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if a.watcher != nil {
			a.watcher.Stop()
		}
		if err := a.ctrl.Stop(); err != nil {
			slog.Warn("pipeline stop error", "err", err)
		}
		if err := a.Persist(); err != nil {
			slog.Warn("failed to persist selection", "path", a.cfgPath, "err", err)
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
