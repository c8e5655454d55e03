// SPDX-License-Identifier: MIT
package tui

import (
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"hotswap/internal/audio"
	"hotswap/internal/transport"
)

func keyMsg(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	case "up":
		return tea.KeyMsg{Type: tea.KeyUp}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func isQuit(cmd tea.Cmd) bool {
	if cmd == nil {
		return false
	}
	_, ok := cmd().(tea.QuitMsg)
	return ok
}

var testDevices = []audio.Device{
	{ID: 0, Name: "Mic", MaxInputChannels: 1, DefaultSampleRate: 48000},
	{ID: 1, Name: "Speakers", MaxOutputChannels: 2, DefaultSampleRate: 48000},
}

func TestDeviceListSelect(t *testing.T) {
	var m tea.Model = NewDeviceListModel(func() ([]audio.Device, error) { return testDevices, nil })
	msg := m.Init()()
	m, _ = m.Update(tea.WindowSizeMsg{Width: 80, Height: 40})
	m, _ = m.Update(msg)

	view := m.View()
	if !strings.Contains(view, "Speakers") || !strings.Contains(view, "Output") {
		t.Errorf("device list view missing devices:\n%s", view)
	}

	// Input-only devices cannot be configured.
	m, _ = m.Update(keyMsg("enter"))
	if m.(DeviceListModel).activeScreen != ListScreen {
		t.Error("input-only device opened the configuration screen")
	}

	m, _ = m.Update(keyMsg("down"))
	m, _ = m.Update(keyMsg("enter"))
	if m.(DeviceListModel).activeScreen != ConfigScreen {
		t.Fatal("enter did not open the configuration screen")
	}
	if m.(DeviceListModel).sampleRateIndex != 1 {
		t.Errorf("default rate index = %d, want 1", m.(DeviceListModel).sampleRateIndex)
	}

	m, _ = m.Update(keyMsg("down"))
	m, cmd := m.Update(keyMsg("enter"))
	if !isQuit(cmd) {
		t.Error("confirming a selection should quit")
	}
	sel := m.(DeviceListModel).Selection()
	if sel == nil || sel.Device.Name != "Speakers" || sel.SampleRate != 88200 {
		t.Errorf("Selection() = %+v", sel)
	}
}

func TestDeviceListError(t *testing.T) {
	var m tea.Model = NewDeviceListModel(func() ([]audio.Device, error) { return nil, errors.New("no host") })
	m, _ = m.Update(tea.WindowSizeMsg{Width: 80, Height: 40})
	m, _ = m.Update(m.Init()())
	if !strings.Contains(m.View(), "no host") {
		t.Errorf("error not shown:\n%s", m.View())
	}
	if _, cmd := m.Update(keyMsg("q")); !isQuit(cmd) {
		t.Error("q should quit")
	}
}

type fakeController struct {
	reloads, unloads, resets int
	err                      error
}

func (f *fakeController) SetParameter(int32, float32) bool { return true }
func (f *fakeController) PushMidiPacket([]byte) bool        { return true }
func (f *fakeController) ResetParameters(bool)              { f.resets++ }
func (f *fakeController) SetNewLibrary(string) error        { return nil }
func (f *fakeController) LoadProject(string) error          { return nil }
func (f *fakeController) ReloadLibrary() error              { f.reloads++; return f.err }
func (f *fakeController) UnloadLibrary() error              { f.unloads++; return nil }

func TestStatusModel(t *testing.T) {
	polls := 0
	source := func() transport.StatusEvent {
		polls++
		return transport.StatusEvent{
			State:      "loaded",
			Library:    "/build/gain.so",
			Generation: uint64(polls),
			Peaks:      []float32{0.5, 1.2},
		}
	}
	c := &fakeController{}
	var m tea.Model = NewStatusModel(source, c)

	if m.Init() == nil {
		t.Error("Init should schedule a tick")
	}
	m, cmd := m.Update(tickMsg{})
	if cmd == nil || m.(StatusModel).Status().Generation != 2 {
		t.Error("tick should refresh the status and reschedule")
	}

	view := m.View()
	for _, want := range []string{"gain.so", "loaded", "Ch 2", "1.20"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}

	_, cmd = m.Update(keyMsg("r"))
	m, _ = m.Update(cmd())
	if c.reloads != 1 || !strings.Contains(m.View(), "reload done") {
		t.Errorf("reload not run: %d", c.reloads)
	}

	c.err = errors.New("missing")
	_, cmd = m.Update(keyMsg("r"))
	m, _ = m.Update(cmd())
	if !strings.Contains(m.View(), "reload failed: missing") {
		t.Errorf("failure not shown:\n%s", m.View())
	}

	_, cmd = m.Update(keyMsg("u"))
	cmd()
	_, cmd = m.Update(keyMsg("d"))
	cmd()
	if c.unloads != 1 || c.resets != 1 {
		t.Errorf("unloads=%d resets=%d", c.unloads, c.resets)
	}

	if _, cmd := m.Update(keyMsg("q")); !isQuit(cmd) {
		t.Error("q should quit")
	}
}

func TestStatusModelReadOnly(t *testing.T) {
	var m tea.Model = NewStatusModel(func() transport.StatusEvent { return transport.StatusEvent{} }, nil)
	if _, cmd := m.Update(keyMsg("r")); cmd != nil {
		t.Error("read-only model ran an action")
	}
	if !strings.Contains(m.View(), "none") {
		t.Errorf("empty library not shown:\n%s", m.View())
	}
}

func TestRenderMeter(t *testing.T) {
	if got := renderMeter(0); strings.Contains(got, "█") {
		t.Errorf("silent meter drew a bar: %q", got)
	}
	if got := renderMeter(0.5); strings.Count(got, "█") != meterWidth/2 {
		t.Errorf("half meter = %q", got)
	}
	if got := renderMeter(3); strings.Count(got, "█") != meterWidth {
		t.Errorf("over meter = %q", got)
	}
}
