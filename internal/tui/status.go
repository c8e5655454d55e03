// SPDX-License-Identifier: MIT
package tui

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"hotswap/internal/transport"
)

const (
	statusInterval = 250 * time.Millisecond
	meterWidth     = 40
)

var (
	keyReload   = key.NewBinding(key.WithKeys("r"))
	keyUnload   = key.NewBinding(key.WithKeys("u"))
	keyDefaults = key.NewBinding(key.WithKeys("d"))

	labelStyle = lipgloss.NewStyle().Width(12).Foreground(lipgloss.Color("#A0A0A0"))
	meterStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#25A065"))
	overStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#E05D5D")).Bold(true)
)

type tickMsg time.Time

type actionMsg struct {
	action string
	err    error
}

// StatusModel shows the live host status and offers reload, unload and
// parameter reset.
type StatusModel struct {
	source     func() transport.StatusEvent
	controller transport.Controller
	status     transport.StatusEvent
	last       string // outcome of the most recent action
	lastErr    bool
	width      int
}

func NewStatusModel(source func() transport.StatusEvent, controller transport.Controller) StatusModel {
	return StatusModel{source: source, controller: controller, status: source()}
}

func tick() tea.Cmd {
	return tea.Tick(statusInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m StatusModel) Init() tea.Cmd {
	return tick()
}

func (m StatusModel) run(action string, fn func() error) tea.Cmd {
	return func() tea.Msg {
		return actionMsg{action: action, err: fn()}
	}
}

func (m StatusModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width

	case tickMsg:
		m.status = m.source()
		return m, tick()

	case actionMsg:
		m.status = m.source()
		m.lastErr = msg.err != nil
		if msg.err != nil {
			m.last = fmt.Sprintf("%s failed: %v", msg.action, msg.err)
		} else {
			m.last = msg.action + " done"
		}

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keyQuit):
			return m, tea.Quit
		case m.controller == nil:
		case key.Matches(msg, keyReload):
			return m, m.run("reload", m.controller.ReloadLibrary)
		case key.Matches(msg, keyUnload):
			return m, m.run("unload", m.controller.UnloadLibrary)
		case key.Matches(msg, keyDefaults):
			c := m.controller
			return m, m.run("reset", func() error {
				c.ResetParameters(true)
				return nil
			})
		}
	}
	return m, nil
}

// Status returns the snapshot currently displayed.
func (m StatusModel) Status() transport.StatusEvent { return m.status }

func (m StatusModel) View() string {
	s := m.status
	var sb strings.Builder

	sb.WriteString(titleStyle.Render("hotswap"))
	sb.WriteString("\n\n")

	library := "none"
	if s.Library != "" {
		library = filepath.Base(s.Library)
	}
	row := func(label, value string) {
		sb.WriteString(labelStyle.Render(label))
		sb.WriteString(value)
		sb.WriteString("\n")
	}
	row("Module", fmt.Sprintf("%s (%s, gen %d)", library, s.State, s.Generation))
	row("Stream", fmt.Sprintf("%.0f Hz, %d frames", s.SampleRate, s.BlockSize))
	row("Blocks", fmt.Sprintf("%d (%d silent)", s.Blocks, s.SilentBlocks))
	row("Dropped", fmt.Sprintf("midi %d, params %d, stale %d, malformed %d",
		s.DroppedMidi, s.DroppedParams, s.StaleParams, s.MalformedMidi))
	if s.Error != "" {
		row("Error", errorStyle.Render(s.Error))
	}

	sb.WriteString("\n")
	for ch, peak := range s.Peaks {
		row(fmt.Sprintf("Ch %d", ch+1), renderMeter(peak))
	}

	if m.last != "" {
		sb.WriteString("\n")
		if m.lastErr {
			sb.WriteString(errorStyle.Render(m.last))
		} else {
			sb.WriteString(highlightStyle.Render(m.last))
		}
		sb.WriteString("\n")
	}

	sb.WriteString("\n")
	sb.WriteString(infoStyle.Render("r: Reload • u: Unload • d: Defaults • q: Quit"))
	return sb.String()
}

// renderMeter draws a peak level as a bar. Levels at or above full scale
// are drawn in the over style.
func renderMeter(peak float32) string {
	n := int(min(max(peak, 0), 1) * meterWidth)
	bar := strings.Repeat("█", n) + strings.Repeat("·", meterWidth-n)
	label := fmt.Sprintf(" %.2f", peak)
	if peak >= 1 {
		return overStyle.Render(bar + label)
	}
	return meterStyle.Render(bar) + label
}

// StartStatusUI runs the status screen until the user quits.
func StartStatusUI(source func() transport.StatusEvent, controller transport.Controller) error {
	p := tea.NewProgram(NewStatusModel(source, controller), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
