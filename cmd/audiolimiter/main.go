// Command audiolimiter runs a real-time peak limiter between an input and an
// output audio device.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"github.com/MrWong99/audiolimiter/internal/config"
	"github.com/MrWong99/audiolimiter/internal/observe"
	"github.com/MrWong99/audiolimiter/pkg/audio"
	"github.com/MrWong99/audiolimiter/pkg/audio/miniaudio"
	"github.com/MrWong99/audiolimiter/pkg/audio/synth"
)

// version is set at build time via -ldflags.
var version = "dev"

// shutdownTimeout bounds the graceful shutdown after a signal.
const shutdownTimeout = 15 * time.Second

// CLI is the command line interface.
type CLI struct {
	Config   string `short:"c" type:"path" default:"${default_config}" help:"Path to the YAML config file."`
	Backend  string `placeholder:"NAME" help:"Audio backend override (${backends})."`
	LogLevel string `enum:",debug,info,warn,error" default:"" help:"Log level override (debug, info, warn, error)."`

	Version kong.VersionFlag `short:"v" help:"Show version information."`

	Devices DevicesCmd `cmd:"" help:"List audio devices and their formats."`
	Run     RunCmd     `cmd:"" help:"Run headless and serve the control API."`
	TUI     TUICmd     `cmd:"" name:"tui" help:"Interactive terminal UI."`
}

// env is what every command needs after global flags are applied.
type env struct {
	cfg     *config.Config
	cfgPath string
	reg     *config.Registry
	level   *slog.LevelVar
}

func main() {
	os.Exit(run())
}

func run() int {
	reg := config.NewRegistry()
	registerBuiltinBackends(reg)

	// ── CLI flags ──────────────────────────────────────────────────────────────
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("audiolimiter"),
		kong.Description("Real-time duplex audio limiter"),
		kong.UsageOnError(),
		kong.Vars{
			"version":        version,
			"default_config": defaultConfigPath(),
			"backends":       strings.Join(reg.Backends(), ", "),
		},
	)

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.LoadOrDefault(cli.Config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "audiolimiter: %v\n", err)
		return 1
	}
	if cli.Backend != "" {
		cfg.Backend = cli.Backend
	}
	if cli.LogLevel != "" {
		cfg.LogLevel = config.LogLevel(cli.LogLevel)
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(cfg.LogLevel.Level())
	slog.SetDefault(newLogger(os.Stderr, level))

	slog.Debug("audiolimiter starting",
		"version", version,
		"config", cli.Config,
		"backend", cfg.Backend,
		"command", kctx.Command(),
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
		Backend:        cfg.Backend,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		tctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(tctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	e := &env{cfg: cfg, cfgPath: cli.Config, reg: reg, level: level}
	kctx.BindTo(ctx, (*context.Context)(nil))
	if err := kctx.Run(e); err != nil {
		slog.Error("command failed", "command", kctx.Command(), "err", err)
		return 1
	}
	return 0
}

// ── Backend wiring ────────────────────────────────────────────────────────────

// registerBuiltinBackends wires the backends that ship with audiolimiter into
// reg.
func registerBuiltinBackends(reg *config.Registry) {
	reg.RegisterBackend("miniaudio", func(*config.Config) (audio.Backend, error) {
		b, err := miniaudio.New()
		if err != nil {
			return nil, err
		}
		return b, nil
	})
	reg.RegisterBackend("synth", func(*config.Config) (audio.Backend, error) {
		return synth.New(), nil
	})
}

// defaultConfigPath is the per-user config file, or config.yaml in the working
// directory when the platform has no user config directory.
func defaultConfigPath() string {
	p, err := config.DefaultPath()
	if err != nil {
		return "config.yaml"
	}
	return p
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(w io.Writer, level *slog.LevelVar) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
