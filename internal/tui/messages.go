package tui

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/MrWong99/audiolimiter/pkg/audio"
)

// tickInterval is the status refresh period of the meter line.
const tickInterval = 100 * time.Millisecond

// enumerateTimeout bounds one device refresh.
const enumerateTimeout = 5 * time.Second

// tickMsg triggers a status refresh.
type tickMsg time.Time

// devicesMsg carries a fresh device enumeration.
type devicesMsg []audio.Device

// startedMsg reports the outcome of a start request.
type startedMsg struct{ err error }

// stoppedMsg reports the outcome of a stop request.
type stoppedMsg struct{ err error }

func tick() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) refreshDevices() tea.Cmd {
	pipe := m.pipe
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), enumerateTimeout)
		defer cancel()
		return devicesMsg(pipe.Devices(ctx))
	}
}

func (m Model) start() tea.Cmd {
	pipe, sel := m.pipe, m.sel.Get()
	return func() tea.Msg {
		return startedMsg{err: pipe.Start(context.Background(), sel.Input, sel.Output, sel.ThresholdDB)}
	}
}

func (m Model) stop() tea.Cmd {
	pipe := m.pipe
	return func() tea.Msg {
		return stoppedMsg{err: pipe.Stop()}
	}
}
