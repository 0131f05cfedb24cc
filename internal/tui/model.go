// Package tui renders a live status view of the experiment: lifecycle state,
// the latest sample per sensor, and recent safety events.
package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	"github.com/AI-Gruppe/ika-edge-control-API-sw/internal/control"
	"github.com/AI-Gruppe/ika-edge-control-API-sw/internal/interlock"
	"github.com/AI-Gruppe/ika-edge-control-API-sw/internal/telemetry"
)

// StatusProvider is the engine surface the view polls.
type StatusProvider interface {
	State() control.State
	Acknowledged() bool
	LatestSamples() []telemetry.Sample
	RecentEvents() []interlock.SafetyEvent
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("81"))
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	okStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	warnStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214"))
	faultStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	borderStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

type tickMsg time.Time

// Model is the bubbletea model for the status view.
type Model struct {
	provider StatusProvider
	title    string
	width    int
	interval time.Duration
}

// NewModel creates a status view refreshing at the given interval.
func NewModel(provider StatusProvider, title string, interval time.Duration) Model {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return Model{provider: provider, title: title, width: 80, interval: interval}
}

func (m Model) Init() tea.Cmd {
	return m.tick()
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case tickMsg:
		return m, m.tick()
	}
	return m, nil
}

func stateStyle(st control.State) lipgloss.Style {
	switch st {
	case control.StateFaulted:
		return faultStyle
	case control.StateShuttingDown, control.StatePaused:
		return warnStyle
	default:
		return okStyle
	}
}

func (m Model) View() string {
	st := m.provider.State()
	var b strings.Builder

	b.WriteString(titleStyle.Render(m.title))
	b.WriteString("\n\n")
	b.WriteString(labelStyle.Render("state "))
	b.WriteString(stateStyle(st).Render(strings.ToUpper(string(st))))
	if st == control.StateFaulted {
		if m.provider.Acknowledged() {
			b.WriteString(labelStyle.Render("  (acknowledged)"))
		} else {
			b.WriteString(warnStyle.Render("  awaiting acknowledgment"))
		}
	}
	b.WriteString("\n\n")

	samples := m.provider.LatestSamples()
	sort.Slice(samples, func(i, j int) bool { return samples[i].SensorID < samples[j].SensorID })
	var rows []string
	rows = append(rows, fmt.Sprintf("%-18s %12s %-5s %8s", "SENSOR", "VALUE", "UNIT", "SEQ"))
	for _, s := range samples {
		rows = append(rows, fmt.Sprintf("%-18s %12.3f %-5s %8d", s.SensorID, s.Value, s.Unit, s.Seq))
	}
	b.WriteString(borderStyle.Render(strings.Join(rows, "\n")))
	b.WriteString("\n\n")

	events := m.provider.RecentEvents()
	b.WriteString(labelStyle.Render("recent safety events"))
	b.WriteString("\n")
	if len(events) == 0 {
		b.WriteString(labelStyle.Render("  none"))
		b.WriteString("\n")
	}
	// newest first, capped to keep the view stable
	for i := len(events) - 1; i >= 0 && i >= len(events)-5; i-- {
		ev := events[i]
		line := fmt.Sprintf("[%s] rule=%d %s -> %s %s",
			ev.Timestamp.Format("15:04:05"), ev.RuleID, ev.StateBefore, ev.StateAfter, ev.Reason)
		b.WriteString(faultStyle.Render("  ! "))
		b.WriteString(wordwrap.String(line, max(20, m.width-6)))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(labelStyle.Render("q to quit"))
	b.WriteString("\n")
	return b.String()
}
