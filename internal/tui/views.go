package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/MrWong99/audiolimiter/internal/pipeline"
	"github.com/MrWong99/audiolimiter/pkg/audio"
)

const (
	sliderWidth  = 40
	sectionWidth = 60
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#A40000"))

	sectionStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#555555")).
			Padding(0, 1).
			Width(sectionWidth)

	focusedSectionStyle = sectionStyle.
				BorderForeground(lipgloss.Color("#A40000"))

	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	selectedStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00AA00"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5555"))
	runningStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#000000")).Background(lipgloss.Color("#00AA00")).Padding(0, 1)
	idleStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFFFFF")).Background(lipgloss.Color("#555555")).Padding(0, 1)
)

// View implements [tea.Model].
func (m Model) View() string {
	var b strings.Builder
	sel := m.sel.Get()

	b.WriteString(renderHeader(m.status))
	b.WriteString("\n\n")
	b.WriteString(m.section(focusInput, "Input", renderDevices(m.inputs, sel.Input, m.loaded)))
	b.WriteString("\n")
	b.WriteString(m.section(focusOutput, "Output", renderDevices(m.outputs, sel.Output, m.loaded)))
	b.WriteString("\n")
	b.WriteString(m.section(focusThreshold, "Threshold", renderSlider(sel.ThresholdDB)))
	b.WriteString("\n")
	b.WriteString(renderMeter(m.status))
	b.WriteString("\n")
	if m.lastErr != nil {
		b.WriteString(errorStyle.Render("✗ " + m.lastErr.Error()))
		b.WriteString("\n")
	}
	b.WriteString(dimStyle.Render("tab focus • ↑/↓ select • ←/→ threshold (shift ±10) • space start/stop • r refresh • q quit"))
	b.WriteString("\n")
	return b.String()
}

func (m Model) section(f focus, title, body string) string {
	style := sectionStyle
	if m.focus == f {
		style = focusedSectionStyle
	}
	if m.width > 4 && m.width-2 < sectionWidth {
		style = style.Width(m.width - 2)
	}
	return style.Render(lipgloss.NewStyle().Bold(true).Render(title) + "\n" + body)
}

func renderHeader(st pipeline.Status) string {
	badge := idleStyle.Render(strings.ToUpper(st.State.String()))
	if st.Running() {
		badge = runningStyle.Render("RUNNING")
	}
	line := titleStyle.Render("audiolimiter") + "  " + badge
	if st.Running() {
		line += dimStyle.Render(fmt.Sprintf("  %s → %s  %s", st.Input, st.Output, st.Format))
	}
	return line
}

func renderDevices(devices []audio.Device, selected string, loaded bool) string {
	if !loaded {
		return dimStyle.Render("enumerating…")
	}
	if len(devices) == 0 {
		return dimStyle.Render("no devices")
	}
	var b strings.Builder
	found := false
	for i, d := range devices {
		if i > 0 {
			b.WriteString("\n")
		}
		if d.Name == selected {
			found = true
			b.WriteString(selectedStyle.Render("● " + d.Name))
		} else {
			b.WriteString("  " + d.Name)
		}
		b.WriteString(dimStyle.Render("  " + audio.FormatList(d.Formats)))
	}
	if !found && selected != "" {
		b.WriteString("\n")
		b.WriteString(errorStyle.Render(fmt.Sprintf("  %s (not present)", selected)))
	}
	return b.String()
}

func renderSlider(db float64) string {
	pos := sliderPos(db, sliderWidth)
	bar := strings.Repeat("━", pos) + "●" + strings.Repeat("─", sliderWidth-pos)
	return fmt.Sprintf("%s %7.1f dB", bar, db)
}

func renderMeter(st pipeline.Status) string {
	if !st.Running() {
		return dimStyle.Render(fmt.Sprintf("stopped • runs %d • overflows %d • underruns %d",
			st.Totals.Runs, st.Totals.Overflows, st.Totals.Underruns))
	}
	s := st.Stats
	return fmt.Sprintf("GR %5.1f dB • in %6.1f dB • out %6.1f dB • buffer %d/%d • overflows %d • underruns %d",
		s.GainReductionDB, s.InputPeakDB, s.OutputPeakDB,
		s.Bridge.BufferedFrames, s.Bridge.CapacityFrames,
		st.Totals.Overflows, st.Totals.Underruns)
}
