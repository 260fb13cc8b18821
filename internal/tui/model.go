// Package tui renders watch states in the terminal with Bubble Tea.
//
// The model is fed [StatusMsg] values, usually forwarded from a
// pollwatch state callback with tea.Program.Send, and asks a [Refresher]
// to restart watches on key presses.
package tui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/jpalmerr/pollwatch"
	"github.com/jpalmerr/pollwatch/poll"
)

const maxNameWidth = 24

// StatusMsg carries a new watch state into the model.
type StatusMsg pollwatch.WatchState

// Refresher restarts a watch by name.
type Refresher interface {
	Refresh(name string) error
}

type refreshResultMsg struct {
	name string
	err  error
}

// Model is the root Bubble Tea model.
type Model struct {
	title     string
	refresher Refresher
	keys      KeyMap
	spinner   spinner.Model

	// order is configuration order; states is keyed by watch name
	order    []string
	states   map[string]pollwatch.WatchState
	selected int

	notice string
	width  int
	height int
}

// New creates a model showing the named watches, in order, before any
// state arrives. refresher may be nil, which disables refresh keys.
func New(title string, names []string, refresher Refresher) Model {
	if title == "" {
		title = "PollWatch"
	}

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = styleSpinner

	states := make(map[string]pollwatch.WatchState, len(names))
	order := make([]string, 0, len(names))
	for _, n := range names {
		if _, dup := states[n]; dup {
			continue
		}
		states[n] = pollwatch.WatchState{Name: n}
		order = append(order, n)
	}

	return Model{
		title:     title,
		refresher: refresher,
		keys:      DefaultKeyMap(),
		spinner:   s,
		order:     order,
		states:    states,
	}
}

// Init starts the spinner.
func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case StatusMsg:
		if _, ok := m.states[msg.Name]; !ok {
			m.order = append(m.order, msg.Name)
		}
		m.states[msg.Name] = pollwatch.WatchState(msg)
		return m, nil

	case refreshResultMsg:
		if msg.err != nil {
			m.notice = fmt.Sprintf("refresh %s failed: %v", msg.name, msg.err)
		} else {
			m.notice = "refreshed " + msg.name
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.Down):
		if len(m.order) > 0 {
			m.selected = (m.selected + 1) % len(m.order)
		}
		return m, nil

	case key.Matches(msg, m.keys.Up):
		if len(m.order) > 0 {
			m.selected = (m.selected - 1 + len(m.order)) % len(m.order)
		}
		return m, nil

	case key.Matches(msg, m.keys.Refresh):
		if m.refresher == nil || len(m.order) == 0 {
			return m, nil
		}
		return m, m.refresh(m.order[m.selected])

	case key.Matches(msg, m.keys.RefreshAll):
		if m.refresher == nil {
			return m, nil
		}
		cmds := make([]tea.Cmd, 0, len(m.order))
		for _, name := range m.order {
			cmds = append(cmds, m.refresh(name))
		}
		return m, tea.Batch(cmds...)
	}

	return m, nil
}

func (m Model) refresh(name string) tea.Cmd {
	r := m.refresher
	return func() tea.Msg {
		return refreshResultMsg{name: name, err: r.Refresh(name)}
	}
}

// Selected returns the name of the selected watch, or "" if there are none.
func (m Model) Selected() string {
	if len(m.order) == 0 {
		return ""
	}
	return m.order[m.selected]
}

// State returns the latest state of the named watch.
func (m Model) State(name string) (pollwatch.WatchState, bool) {
	s, ok := m.states[name]
	return s, ok
}

// View renders the watch table.
func (m Model) View() string {
	lines := []string{styleHeader.Render(m.title)}

	if len(m.order) == 0 {
		lines = append(lines, styleDimmed.Render("  No watches configured"))
	}
	for i, name := range m.order {
		lines = append(lines, m.renderRow(i == m.selected, m.states[name]))
		if err := m.states[name].Err; err != nil {
			lines = append(lines, "     "+styleError.Render(truncate(err.Error(), m.errorWidth())))
		}
	}

	lines = append(lines, "")
	if m.notice != "" {
		lines = append(lines, styleDimmed.Render("  "+m.notice))
	}
	lines = append(lines, styleDimmed.Render("  j/k:navigate  r:refresh  R:refresh all  q:quit"))

	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func (m Model) renderRow(selected bool, s pollwatch.WatchState) string {
	prefix := "  "
	name := fmt.Sprintf("%-*s", maxNameWidth, truncate(s.Name, maxNameWidth))
	if selected {
		prefix = "> "
		name = styleSelected.Render(name)
	}

	glyph := stateGlyph(s)
	if s.Busy() {
		glyph = m.spinner.View()
	}

	state := s.State.String()
	if s.State == poll.StateStopped && s.Err != nil {
		state = "failed"
	}
	stateStr := stateStyle(s.State.String(), s.Err != nil).Render(fmt.Sprintf("%-9s", state))

	detail := fmt.Sprintf("session %d  %d polls", s.Session, s.Invocations)
	if s.StatusCode != 0 {
		detail += fmt.Sprintf("  HTTP %d in %dms", s.StatusCode, s.Latency.Milliseconds())
	}

	return prefix + glyph + " " + name + "  " + stateStr + "  " + styleDimmed.Render(detail)
}

func (m Model) errorWidth() int {
	if m.width <= 10 {
		return 70
	}
	return m.width - 6
}

func stateGlyph(s pollwatch.WatchState) string {
	switch {
	case s.Err != nil:
		return "✗"
	case s.State == poll.StatePending:
		return "●"
	case s.State == poll.StateScheduled:
		return "◌"
	case s.State == poll.StateStopped:
		return "✓"
	default:
		return "·"
	}
}

func truncate(s string, maxLen int) string {
	if len([]rune(s)) <= maxLen {
		return s
	}
	r := []rune(s)
	return string(r[:maxLen-1]) + "…"
}
