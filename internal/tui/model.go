// Package tui provides the interactive terminal front end: device pickers, a
// threshold slider, start/stop and a live meter line.
package tui

import (
	"context"
	"errors"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/MrWong99/audiolimiter/internal/limiter"
	"github.com/MrWong99/audiolimiter/internal/observe"
	"github.com/MrWong99/audiolimiter/internal/pipeline"
	"github.com/MrWong99/audiolimiter/pkg/audio"
)

// Threshold slider steps in dB.
const (
	fineStep   = 1.0
	coarseStep = 10.0
)

// Pipeline is the pipeline control surface the TUI drives.
// [*pipeline.Controller] implements it.
type Pipeline interface {
	Devices(ctx context.Context) []audio.Device
	Start(ctx context.Context, inputName, outputName string, thresholdDB float64) error
	Stop() error
	SetThreshold(db float64) bool
	Status() pipeline.Status
}

// focus is the control receiving navigation keys.
type focus int

const (
	focusInput focus = iota
	focusOutput
	focusThreshold
	focusCount
)

// Model is the Bubbletea model for the limiter UI.
type Model struct {
	pipe    Pipeline
	sel     *pipeline.SelectionStore
	metrics *observe.Metrics

	inputs  []audio.Device
	outputs []audio.Device
	loaded  bool
	focus   focus

	status  pipeline.Status
	busy    bool // start or stop in flight
	lastErr error

	width int
}

// Option configures a [Model].
type Option func(*Model)

// WithMetrics sets the metrics instance. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(mod *Model) { mod.metrics = m }
}

// New returns a model driving pipe. Device choices and threshold changes are
// written to sel.
func New(pipe Pipeline, sel *pipeline.SelectionStore, opts ...Option) Model {
	m := Model{pipe: pipe, sel: sel}
	for _, o := range opts {
		o(&m)
	}
	if m.metrics == nil {
		m.metrics = observe.DefaultMetrics()
	}
	m.status = pipe.Status()
	return m
}

// Run runs the UI on the terminal until the user quits or ctx is done.
func Run(ctx context.Context, m Model) error {
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

// Init implements [tea.Model].
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.refreshDevices(), tick())
}

// Update implements [tea.Model].
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width

	case tickMsg:
		m.status = m.pipe.Status()
		return m, tick()

	case devicesMsg:
		m.inputs, m.outputs = splitDevices(msg)
		m.loaded = true

	case startedMsg:
		m.busy = false
		m.lastErr = msg.err
		m.status = m.pipe.Status()

	case stoppedMsg:
		m.busy = false
		m.lastErr = msg.err
		m.status = m.pipe.Status()
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c", "esc":
		return m, tea.Quit

	case "tab":
		m.focus = (m.focus + 1) % focusCount
	case "shift+tab":
		m.focus = (m.focus + focusCount - 1) % focusCount

	case "up", "k":
		if m.focus == focusThreshold {
			m.nudgeThreshold(fineStep)
		} else {
			m.moveCursor(-1)
		}
	case "down", "j":
		if m.focus == focusThreshold {
			m.nudgeThreshold(-fineStep)
		} else {
			m.moveCursor(1)
		}

	case "left", "h":
		m.nudgeThreshold(-fineStep)
	case "right", "l":
		m.nudgeThreshold(fineStep)
	case "shift+left", "pgdown":
		m.nudgeThreshold(-coarseStep)
	case "shift+right", "pgup":
		m.nudgeThreshold(coarseStep)

	case "r":
		return m, m.refreshDevices()

	case " ", "enter":
		if m.busy {
			return m, nil
		}
		m.busy = true
		m.lastErr = nil
		if m.status.State == pipeline.StateIdle {
			return m, m.start()
		}
		return m, m.stop()
	}
	return m, nil
}

// moveCursor selects the neighbouring device in the focused list. When the
// stored name is not present the first step lands on the first device.
func (m *Model) moveCursor(delta int) {
	var list []audio.Device
	sel := m.sel.Get()
	current := sel.Input
	switch m.focus {
	case focusInput:
		list = m.inputs
	case focusOutput:
		list, current = m.outputs, sel.Output
	default:
		return
	}
	if len(list) == 0 {
		return
	}
	i := indexOf(list, current)
	if i < 0 {
		i = 0
	} else {
		i = min(max(i+delta, 0), len(list)-1)
	}
	if m.focus == focusInput {
		m.sel.SetDevices(list[i].Name, sel.Output)
	} else {
		m.sel.SetDevices(sel.Input, list[i].Name)
	}
}

// nudgeThreshold moves the threshold by delta dB, applying it to a running
// pipeline immediately.
func (m *Model) nudgeThreshold(delta float64) {
	db := m.sel.SetThreshold(m.sel.Get().ThresholdDB + delta)
	m.pipe.SetThreshold(db)
	m.metrics.RecordThresholdChange(context.Background(), "tui")
}

// splitDevices partitions devices by direction; duplex devices appear in
// both lists.
func splitDevices(devices []audio.Device) (inputs, outputs []audio.Device) {
	for _, d := range devices {
		if d.Direction.Has(audio.DirectionInput) {
			inputs = append(inputs, d)
		}
		if d.Direction.Has(audio.DirectionOutput) {
			outputs = append(outputs, d)
		}
	}
	return inputs, outputs
}

func indexOf(devices []audio.Device, name string) int {
	if name == "" {
		return -1
	}
	for i, d := range devices {
		if d.Name == name {
			return i
		}
	}
	return -1
}

// sliderPos maps db onto [0, width].
func sliderPos(db float64, width int) int {
	db = limiter.ClampThreshold(db)
	frac := (db - limiter.MinThresholdDB) / (limiter.MaxThresholdDB - limiter.MinThresholdDB)
	return int(frac*float64(width) + 0.5)
}
