// SPDX-License-Identifier: MIT
package tui

import (
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"spectra/internal/analysis"
	"spectra/internal/audio"
	"spectra/internal/monitor"
	"spectra/internal/separator"
)

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

var testDevices = []audio.Device{
	{ID: 0, Name: "mic", MaxInputChannels: 2, DefaultSampleRate: 44100},
	{ID: 1, Name: "speakers", MaxOutputChannels: 2, DefaultSampleRate: 48000},
	{ID: 2, Name: "interface", MaxInputChannels: 8, MaxOutputChannels: 8, DefaultSampleRate: 96000},
}

func send(t *testing.T, m tea.Model, msgs ...tea.Msg) tea.Model {
	t.Helper()
	for _, msg := range msgs {
		m, _ = m.Update(msg)
	}
	return m
}

func TestDeviceList_Navigation(t *testing.T) {
	m := send(t, NewDeviceListModel(),
		tea.WindowSizeMsg{Width: 80, Height: 40},
		devicesMsg{testDevices},
	)
	view := m.View()
	for _, want := range []string{"Audio Devices", "[0] mic (Input)", "[1] speakers (Output)", "[2] interface (Input/Output)"} {
		if !strings.Contains(view, want) {
			t.Errorf("list view missing %q", want)
		}
	}

	// Navigation clamps at both ends.
	m = send(t, m, tea.KeyMsg{Type: tea.KeyUp}, runes("j"), runes("j"), runes("j"))
	if got := m.(DeviceListModel).selectedIndex; got != 2 {
		t.Fatalf("selectedIndex = %d, want 2", got)
	}

	m = send(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	dl := m.(DeviceListModel)
	if dl.activeScreen != DetailScreen {
		t.Fatal("enter did not open the detail screen")
	}
	if commonSampleRates[dl.sampleRateIndex] != 96000 {
		t.Errorf("detail preselected %.0f Hz, want the device default", commonSampleRates[dl.sampleRateIndex])
	}
	if view := m.View(); !strings.Contains(view, "Device Details") || !strings.Contains(view, "--device 2") {
		t.Errorf("detail view:\n%s", view)
	}

	m = send(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	if m.(DeviceListModel).activeScreen != ListScreen {
		t.Error("esc did not return to the list")
	}
}

func TestDeviceList_Select(t *testing.T) {
	m := send(t, NewDeviceListModel(),
		tea.WindowSizeMsg{Width: 80, Height: 40},
		devicesMsg{testDevices},
		tea.KeyMsg{Type: tea.KeyEnter},
		tea.KeyMsg{Type: tea.KeyDown},
	)
	if _, ok := m.(DeviceListModel).Selected(); ok {
		t.Fatal("selection made before enter")
	}

	m, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	sel, ok := m.(DeviceListModel).Selected()
	if !ok {
		t.Fatal("no selection after enter on the detail screen")
	}
	if sel.Device.Name != "mic" || sel.SampleRate != 48000 {
		t.Errorf("selection = %+v", sel)
	}
	if cmd == nil {
		t.Fatal("selecting should quit")
	}
	if _, quit := cmd().(tea.QuitMsg); !quit {
		t.Error("selecting should return tea.Quit")
	}
}

func TestDeviceList_FetchError(t *testing.T) {
	orig := hostDevices
	t.Cleanup(func() { hostDevices = orig })
	hostDevices = func() ([]audio.Device, error) { return nil, errors.New("no host") }

	m := NewDeviceListModel()
	msg := m.Init()()
	next := send(t, m, msg)
	if !strings.Contains(next.View(), "no host") {
		t.Errorf("error view = %q", next.View())
	}
	if _, cmd := next.Update(runes("x")); cmd == nil {
		t.Error("any key should quit after an error")
	}
}

func TestDeviceList_Empty(t *testing.T) {
	m := send(t, NewDeviceListModel(),
		tea.WindowSizeMsg{Width: 80, Height: 20},
		devicesMsg{},
		tea.KeyMsg{Type: tea.KeyEnter},
	)
	if m.(DeviceListModel).activeScreen != ListScreen {
		t.Error("enter with no devices opened the detail screen")
	}
	if !strings.Contains(m.View(), "No audio devices found") {
		t.Errorf("view = %q", m.View())
	}
}

type fakeController struct {
	mode      separator.GateMode
	separate  bool
	recording bool
}

func (c *fakeController) SetGateMode(m separator.GateMode) { c.mode = m }
func (c *fakeController) GateMode() separator.GateMode { return c.mode }
func (c *fakeController) SetSeparation(on bool) { c.separate = on }
func (c *fakeController) Separation() bool { return c.separate }
func (c *fakeController) Recording() bool { return c.recording }
func (c *fakeController) LatencySamples() int32 {
	if c.separate {
		return 2048
	}
	return 0
}

type fakeSnapshot struct {
	status monitor.Status
	levels []float64
	paused bool
}

func (s *fakeSnapshot) Status() monitor.Status {
	st := s.status
	st.Paused = s.paused
	return st
}
func (s *fakeSnapshot) Bands() []analysis.FrequencyBand { return analysis.DefaultBands(48000) }
func (s *fakeSnapshot) BandsInto(levels []float64) int { return copy(levels, s.levels) }
func (s *fakeSnapshot) SetPaused(p bool) { s.paused = p }
func (s *fakeSnapshot) Paused() bool { return s.paused }

func newFakes() (*fakeController, *fakeSnapshot) {
	return &fakeController{}, &fakeSnapshot{
		status: monitor.Status{
			Sequence:    7,
			Correlation: 0.5,
			NumBins:     4097,
			BinHz:       5.859375,
			SampleRate:  48000,
			FloorDb:     -90,
		},
		levels: []float64{-90, -45, -20, -10, -60, -3},
	}
}

func TestMonitorModel_Keys(t *testing.T) {
	ctrl, snap := newFakes()
	var m tea.Model = NewMonitorModel(ctrl, snap, 0)

	tests := []struct {
		key      tea.KeyMsg
		mode     separator.GateMode
		separate bool
		paused   bool
	}{
		{runes("t"), separator.TonalOnly, false, false},
		{runes("s"), separator.TonalOnly, true, false},
		{runes("n"), separator.NoiseOnly, true, false},
		{tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}}, separator.NoiseOnly, true, true},
		{runes("p"), separator.PassThrough, true, true},
		{runes("s"), separator.PassThrough, false, true},
		{tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}}, separator.PassThrough, false, false},
	}
	for i, tt := range tests {
		m = send(t, m, tt.key)
		if ctrl.mode != tt.mode || ctrl.separate != tt.separate || snap.paused != tt.paused {
			t.Errorf("step %d (%q): mode %v separate %v paused %v, want %v %v %v",
				i, tt.key, ctrl.mode, ctrl.separate, snap.paused, tt.mode, tt.separate, tt.paused)
		}
	}

	if _, cmd := m.Update(runes("q")); cmd == nil {
		t.Error("q should quit")
	}
}

func TestMonitorModel_View(t *testing.T) {
	ctrl, snap := newFakes()
	ctrl.mode = separator.TonalOnly
	ctrl.separate = true
	ctrl.recording = true

	m := send(t, NewMonitorModel(ctrl, snap, 0),
		tea.WindowSizeMsg{Width: 100, Height: 30},
		refreshMsg{},
	)
	view := m.View()
	for _, want := range []string{
		"Spectrum Monitor", "tonal", "2048 samples (42.7 ms)", "+0.50", "4097 bins", "REC",
		"sub", "bass", "treble", "-3.0 dB", "-45.0 dB",
	} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}

	snap.paused = true
	ctrl.separate = false
	m = send(t, m, refreshMsg{})
	view = m.View()
	if !strings.Contains(view, "paused") || !strings.Contains(view, "0 samples") {
		t.Errorf("paused view:\n%s", view)
	}
}

func TestMonitorModel_RefreshReschedules(t *testing.T) {
	ctrl, snap := newFakes()
	m := NewMonitorModel(ctrl, snap, 0)
	if m.Init() == nil {
		t.Fatal("Init should schedule a refresh")
	}
	if _, cmd := m.Update(refreshMsg{}); cmd == nil {
		t.Error("refresh should schedule the next one")
	}
}

func TestLevelFraction(t *testing.T) {
	tests := []struct {
		level, floor, want float64
	}{
		{-90, -90, 0},
		{-120, -90, 0},
		{-45, -90, 0.5},
		{0, -90, 1},
		{6, -90, 1},
		{-10, 0, 0},
	}
	for _, tt := range tests {
		if got := levelFraction(tt.level, tt.floor); got != tt.want {
			t.Errorf("levelFraction(%v, %v) = %v, want %v", tt.level, tt.floor, got, tt.want)
		}
	}
}
