package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/MrWong99/audiolimiter/internal/app"
	"github.com/MrWong99/audiolimiter/internal/tui"
	"github.com/MrWong99/audiolimiter/pkg/audio"
)

// enumerateTimeout bounds the device listing of the devices command.
const enumerateTimeout = 10 * time.Second

// ─── devices ─────────────────────────────────────────────────────────────────

// DevicesCmd prints the device catalog.
type DevicesCmd struct{}

// Run implements the devices command.
func (c *DevicesCmd) Run(ctx context.Context, e *env) error {
	b, err := e.reg.CreateBackend(e.cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	ctx, cancel := context.WithTimeout(ctx, enumerateTimeout)
	defer cancel()
	devices := audio.NewCatalog(b).List(ctx)
	if len(devices) == 0 {
		fmt.Println("no audio devices found")
		return nil
	}
	fmt.Println(deviceTable(devices, e.cfg.Devices.Input, e.cfg.Devices.Output))
	return nil
}

// deviceTable renders devices with the persisted selection marked.
func deviceTable(devices []audio.Device, input, output string) string {
	header := lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cell := lipgloss.NewStyle().Padding(0, 1)
	marked := cell.Foreground(lipgloss.Color("#00AA00")).Bold(true)

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		Headers("", "DIRECTION", "NAME", "FORMATS")
	selectedRows := make(map[int]bool)
	for i, d := range devices {
		mark := ""
		if (d.Direction.Has(audio.DirectionInput) && d.Name == input) ||
			(d.Direction.Has(audio.DirectionOutput) && d.Name == output) {
			mark = "●"
			selectedRows[i] = true
		}
		t.Row(mark, d.Direction.String(), d.Name, audio.FormatList(d.Formats))
	}
	t.StyleFunc(func(row, _ int) lipgloss.Style {
		switch {
		case row == table.HeaderRow:
			return header
		case selectedRows[row]:
			return marked
		default:
			return cell
		}
	})
	return t.String()
}

// ─── run ─────────────────────────────────────────────────────────────────────

// RunCmd runs the limiter headless with the control API.
type RunCmd struct {
	Input     string   `placeholder:"NAME" help:"Input device name (overrides the persisted one)."`
	Output    string   `placeholder:"NAME" help:"Output device name (overrides the persisted one)."`
	Threshold *float64 `placeholder:"DB" help:"Limiter threshold in dBFS, -200 to 0."`
	Listen    string   `placeholder:"ADDR" help:"Control API listen address (overrides server.listen_addr)."`
	Start     bool     `default:"true" negatable:"" help:"Start the pipeline immediately."`
}

// Run implements the run command.
func (c *RunCmd) Run(ctx context.Context, e *env) error {
	if c.Listen != "" {
		e.cfg.Server.ListenAddr = c.Listen
	}
	a, err := newApp(ctx, e)
	if err != nil {
		return err
	}

	if c.Input != "" || c.Output != "" {
		sel := a.Selection().Get()
		in, out := sel.Input, sel.Output
		if c.Input != "" {
			in = c.Input
		}
		if c.Output != "" {
			out = c.Output
		}
		a.Selection().SetDevices(in, out)
	}
	if c.Threshold != nil {
		a.Selection().SetThreshold(*c.Threshold)
	}

	printStartupSummary(os.Stdout, e, a)

	if c.Start {
		if err := a.StartPipeline(ctx); err != nil {
			// Not fatal: the pipeline can still be started through the API.
			slog.Warn("pipeline not started", "err", err)
		}
	}

	slog.Info("audiolimiter ready, press Ctrl+C to shut down")
	runErr := a.Run(ctx)
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}

	slog.Info("shutdown signal received, stopping")
	return errors.Join(runErr, shutdownApp(a))
}

// ─── tui ─────────────────────────────────────────────────────────────────────

// TUICmd runs the interactive terminal UI.
type TUICmd struct {
	Serve   bool   `help:"Also serve the control API on server.listen_addr."`
	LogFile string `type:"path" placeholder:"PATH" help:"Write logs to this file; logs are discarded otherwise."`
}

// Run implements the tui command.
func (c *TUICmd) Run(ctx context.Context, e *env) error {
	// The alternate screen owns the terminal; stderr logging would tear it.
	var logOut io.Writer = io.Discard
	if c.LogFile != "" {
		f, err := os.OpenFile(c.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer f.Close()
		logOut = f
	}
	prev := slog.Default()
	slog.SetDefault(newLogger(logOut, e.level))
	defer slog.SetDefault(prev)

	if !c.Serve {
		e.cfg.Server.ListenAddr = ""
	}
	a, err := newApp(ctx, e)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	serveErr := make(chan error, 1)
	go func() { serveErr <- a.Run(ctx) }()

	model := tui.New(a.Controller(), a.Selection(), tui.WithMetrics(a.Metrics()))
	uiErr := tui.Run(ctx, model)

	cancel()
	if err := <-serveErr; err != nil && !errors.Is(err, context.Canceled) {
		uiErr = errors.Join(uiErr, err)
	}
	return errors.Join(uiErr, shutdownApp(a))
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func newApp(ctx context.Context, e *env) (*app.App, error) {
	b, err := e.reg.CreateBackend(e.cfg)
	if err != nil {
		return nil, err
	}
	a, err := app.New(ctx, e.cfg, b,
		app.WithConfigPath(e.cfgPath),
		app.WithLevelVar(e.level),
	)
	if err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("initialise application: %w", err)
	}
	return a, nil
}

// shutdownApp stops the pipeline and persists the selection.
func shutdownApp(a *app.App) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	slog.Info("goodbye")
	return nil
}

func printStartupSummary(w io.Writer, e *env, a *app.App) {
	sel := a.Selection().Get()
	listen := e.cfg.Server.ListenAddr
	if listen == "" {
		listen = "(disabled)"
	}
	fmt.Fprintln(w, "╔═══════════════════════════════════════════════╗")
	fmt.Fprintln(w, "║        audiolimiter · startup summary         ║")
	fmt.Fprintln(w, "╠═══════════════════════════════════════════════╣")
	printRow(w, "Backend", e.cfg.Backend)
	printRow(w, "Input", orNone(sel.Input))
	printRow(w, "Output", orNone(sel.Output))
	printRow(w, "Threshold", fmt.Sprintf("%.1f dBFS", sel.ThresholdDB))
	printRow(w, "Attack/Rel.", fmt.Sprintf("%g ms / %g ms", e.cfg.Limiter.AttackMs, e.cfg.Limiter.ReleaseMs))
	printRow(w, "Latency", e.cfg.Audio.Latency().String())
	printRow(w, "Listen addr", listen)
	printRow(w, "Config", e.cfgPath)
	fmt.Fprintln(w, "╚═══════════════════════════════════════════════╝")
}

func printRow(w io.Writer, label, value string) {
	const width = 31
	if r := []rune(value); len(r) > width {
		value = string(r[:width-1]) + "…"
	}
	fmt.Fprintf(w, "║  %-11s : %-31s║\n", label, value)
}

func orNone(name string) string {
	if name == "" {
		return "(not selected)"
	}
	return name
}
