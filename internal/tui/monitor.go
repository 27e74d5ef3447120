// SPDX-License-Identifier: MIT
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"spectra/internal/analysis"
	"spectra/internal/monitor"
	"spectra/internal/separator"
)

// Controller changes the processing state. The audio engine implements it.
type Controller interface {
	SetGateMode(separator.GateMode)
	GateMode() separator.GateMode
	SetSeparation(bool)
	Separation() bool
	LatencySamples() int32
	Recording() bool
}

// Snapshot exposes the analysis results. The monitor implements it.
type Snapshot interface {
	Status() monitor.Status
	Bands() []analysis.FrequencyBand
	BandsInto(levels []float64) int
	SetPaused(bool)
	Paused() bool
}

const (
	minBarWidth   = 10
	labelWidth    = 9
	levelWidth    = 10
	refreshPeriod = 50 * time.Millisecond
)

var (
	labelStyle = lipgloss.NewStyle().Width(labelWidth).Foreground(lipgloss.Color("#A8A8A8"))
	onStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#25A065")).Bold(true)
	offStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#D75F5F"))
)

type monitorKeys struct {
	Pass, Tonal, Noise key.Binding
	Separate           key.Binding
	Pause              key.Binding
	Quit               key.Binding
}

func (k monitorKeys) ShortHelp() []key.Binding {
	return []key.Binding{k.Pass, k.Tonal, k.Noise, k.Separate, k.Pause, k.Quit}
}

func (k monitorKeys) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}

var defaultMonitorKeys = monitorKeys{
	Pass:     key.NewBinding(key.WithKeys("p"), key.WithHelp("p", "pass")),
	Tonal:    key.NewBinding(key.WithKeys("t"), key.WithHelp("t", "tonal")),
	Noise:    key.NewBinding(key.WithKeys("n"), key.WithHelp("n", "noise")),
	Separate: key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "separator on/off")),
	Pause:    key.NewBinding(key.WithKeys(" ", "space"), key.WithHelp("space", "pause")),
	Quit:     key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
}

type refreshMsg time.Time

// MonitorModel is the live view: processing state, correlation and one
// level bar per band.
type MonitorModel struct {
	ctrl     Controller
	snap     Snapshot
	interval time.Duration

	keys monitorKeys
	help help.Model
	bar  progress.Model

	status monitor.Status
	bands  []analysis.FrequencyBand
	levels []float64
	width  int
}

// NewMonitorModel creates the live monitor view. The screen refreshes every
// interval; zero selects a default.
func NewMonitorModel(ctrl Controller, snap Snapshot, interval time.Duration) MonitorModel {
	if interval <= 0 {
		interval = refreshPeriod
	}
	bands := snap.Bands()
	return MonitorModel{
		ctrl:     ctrl,
		snap:     snap,
		interval: interval,
		keys:     defaultMonitorKeys,
		help:     help.New(),
		bar:      progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage()),
		bands:    bands,
		levels:   make([]float64, len(bands)),
		status:   snap.Status(),
	}
}

func (m MonitorModel) Init() tea.Cmd {
	return m.scheduleRefresh()
}

func (m MonitorModel) scheduleRefresh() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return refreshMsg(t) })
}

func (m MonitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width
		m.bar.Width = max(msg.Width-labelWidth-levelWidth-2, minBarWidth)

	case refreshMsg:
		m.refresh()
		return m, m.scheduleRefresh()

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Pass):
			m.ctrl.SetGateMode(separator.PassThrough)
		case key.Matches(msg, m.keys.Tonal):
			m.ctrl.SetGateMode(separator.TonalOnly)
		case key.Matches(msg, m.keys.Noise):
			m.ctrl.SetGateMode(separator.NoiseOnly)
		case key.Matches(msg, m.keys.Separate):
			m.ctrl.SetSeparation(!m.ctrl.Separation())
		case key.Matches(msg, m.keys.Pause):
			m.snap.SetPaused(!m.snap.Paused())
		}
		m.refresh()
	}
	return m, nil
}

func (m *MonitorModel) refresh() {
	m.status = m.snap.Status()
	if bands := m.snap.Bands(); len(bands) != len(m.bands) {
		m.bands = bands
		m.levels = make([]float64, len(bands))
	}
	m.snap.BandsInto(m.levels)
}

func (m MonitorModel) View() string {
	var sb strings.Builder
	sb.WriteString(titleStyle.Render("Spectrum Monitor"))
	sb.WriteString("\n\n")

	st := m.status
	latency := m.ctrl.LatencySamples()
	latencyMs := 0.0
	if st.SampleRate > 0 {
		latencyMs = 1000 * float64(latency) / st.SampleRate
	}

	row := func(label, value string) {
		sb.WriteString(labelStyle.Render(label))
		sb.WriteString(value)
		sb.WriteString("\n")
	}
	row("Separator", onOff(m.ctrl.Separation()))
	row("Gate", highlightStyle.Render(m.ctrl.GateMode().String()))
	row("Latency", fmt.Sprintf("%d samples (%.1f ms)", latency, latencyMs))
	row("Analysis", analysisState(st))
	row("Corr", fmt.Sprintf("%+.2f", st.Correlation))
	if m.ctrl.Recording() {
		row("Record", offStyle.Render("● REC"))
	}
	sb.WriteString("\n")

	for i, band := range m.bands {
		level := st.FloorDb
		if i < len(m.levels) {
			level = m.levels[i]
		}
		sb.WriteString(labelStyle.Render(band.Name))
		sb.WriteString(m.bar.ViewAs(levelFraction(level, st.FloorDb)))
		sb.WriteString(fmt.Sprintf(" %6.1f dB\n", level))
	}

	sb.WriteString("\n")
	sb.WriteString(m.help.View(m.keys))
	return sb.String()
}

func onOff(on bool) string {
	if on {
		return onStyle.Render("on")
	}
	return offStyle.Render("off")
}

func analysisState(st monitor.Status) string {
	state := fmt.Sprintf("%d bins @ %.2f Hz, frame %d", st.NumBins, st.BinHz, st.Sequence)
	if st.Paused {
		return offStyle.Render("paused") + dimStyle.Render(" ("+state+")")
	}
	return state
}

// levelFraction maps a dB level onto [0, 1] between floorDb and 0 dB.
func levelFraction(level, floorDb float64) float64 {
	if floorDb >= 0 {
		return 0
	}
	return max(0, min(1, (level-floorDb)/-floorDb))
}

// StartMonitorUI runs the live monitor until the user quits.
func StartMonitorUI(ctrl Controller, snap Snapshot, interval time.Duration) error {
	p := tea.NewProgram(NewMonitorModel(ctrl, snap, interval), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
