// Package watch is a live terminal view of a run: one row per host,
// updated as Tasks change state.
package watch

import (
	"fmt"
	"strings"
	"time"

	"charm.land/bubbles/v2/table"
	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"

	"github.com/agent462/sweep/internal/executor"
)

// EventMsg carries one Task transition into the program.
type EventMsg executor.TaskEvent

// DoneMsg ends the view once the run has returned.
type DoneMsg struct {
	Summary string
	Err     error
}

type entry struct {
	state    executor.TaskState
	kind     executor.ErrorKind
	message  string
	started  time.Time
	finished time.Time
}

// Model is the Bubble Tea model for the watch view.
type Model struct {
	hosts   []string
	index   map[string]int
	entries []entry
	table   table.Model

	interrupt func()
	stopping  bool
	done      bool
	summary   string
	err       error
	width     int
	now       func() time.Time
}

// New creates a Model for hosts. interrupt is called once when the user
// presses q or ctrl+c; it should cancel the run.
func New(hosts []string, interrupt func()) Model {
	index := make(map[string]int, len(hosts))
	for i, h := range hosts {
		index[h] = i
	}

	t := table.New(
		table.WithColumns(columns(80)),
		table.WithWidth(80),
		table.WithFocused(true),
		table.WithHeight(min(len(hosts), 20)+2),
	)
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(colorSubtle).
		BorderBottom(true).
		Bold(true)
	s.Selected = lipgloss.NewStyle()
	t.SetStyles(s)

	m := Model{
		hosts:     hosts,
		index:     index,
		entries:   make([]entry, len(hosts)),
		table:     t,
		interrupt: interrupt,
		width:     80,
		now:       time.Now,
	}
	m.refresh()
	return m
}

func columns(width int) []table.Column {
	hostW := 24
	stateW := 11
	timeW := 8
	msgW := width - hostW - stateW - timeW - 8
	if msgW < 10 {
		msgW = 10
	}
	return []table.Column{
		{Title: "Host", Width: hostW},
		{Title: "State", Width: stateW},
		{Title: "Time", Width: timeW},
		{Title: "Detail", Width: msgW},
	}
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.table.SetColumns(columns(msg.Width))
		m.table.SetWidth(msg.Width)
		// Leave room for the status line below the table.
		m.table.SetHeight(max(msg.Height-3, 3))
		return m, nil

	case tea.KeyPressMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			if !m.stopping && m.interrupt != nil {
				m.stopping = true
				m.interrupt()
			}
			return m, nil
		}
		var cmd tea.Cmd
		m.table, cmd = m.table.Update(msg)
		return m, cmd

	case EventMsg:
		m.apply(executor.TaskEvent(msg))
		m.refresh()
		return m, nil

	case DoneMsg:
		m.done = true
		m.summary = msg.Summary
		m.err = msg.Err
		m.refresh()
		return m, tea.Quit
	}
	return m, nil
}

func (m *Model) apply(ev executor.TaskEvent) {
	i, ok := m.index[ev.Host]
	if !ok {
		return
	}
	e := &m.entries[i]
	if e.state.Terminal() {
		return
	}
	e.state = ev.State
	switch {
	case ev.State == executor.StateRunning:
		e.started = ev.At
	case ev.State.Terminal():
		e.finished = ev.At
		e.kind = ev.Kind
		e.message = ev.Message
	}
}

func (m *Model) refresh() {
	rows := make([]table.Row, len(m.hosts))
	for i, h := range m.hosts {
		e := m.entries[i]
		rows[i] = table.Row{h, e.state.String(), m.elapsed(e), detail(e)}
	}
	m.table.SetRows(rows)
}

func (m Model) elapsed(e entry) string {
	switch {
	case e.started.IsZero():
		return ""
	case e.finished.IsZero():
		return m.now().Sub(e.started).Round(100 * time.Millisecond).String()
	}
	return e.finished.Sub(e.started).Round(time.Millisecond).String()
}

func detail(e entry) string {
	if e.kind == executor.KindNone {
		return e.message
	}
	if e.message == "" {
		return e.kind.String()
	}
	return e.kind.String() + ": " + e.message
}

// Counts tallies hosts per state.
func (m Model) Counts() map[executor.TaskState]int {
	counts := make(map[executor.TaskState]int)
	for _, e := range m.entries {
		counts[e.state]++
	}
	return counts
}

func (m Model) View() tea.View {
	var b strings.Builder
	b.WriteString(m.table.View())
	b.WriteString("\n")
	b.WriteString(m.statusLine())
	b.WriteString("\n")
	return tea.NewView(b.String())
}

func (m Model) statusLine() string {
	if m.done {
		if m.err != nil {
			return errorStyle.Render(m.err.Error())
		}
		return m.summary
	}

	c := m.Counts()
	finished := c[executor.StateCompleted] + c[executor.StateFailed] + c[executor.StateTimedOut] + c[executor.StateCancelled]
	line := fmt.Sprintf("%d/%d done, %d running, %d failed",
		finished, len(m.hosts), c[executor.StateRunning],
		c[executor.StateFailed]+c[executor.StateTimedOut]+c[executor.StateCancelled])
	if m.stopping {
		return line + warnStyle.Render("  stopping...")
	}
	return line + helpStyle.Render("  q: stop")
}

var (
	colorSubtle = lipgloss.Color("#626262")
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF4672")).Bold(true)
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FDFF90"))
	helpStyle   = lipgloss.NewStyle().Foreground(colorSubtle)
)
