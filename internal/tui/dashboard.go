// Package tui renders the terminal views of the lectern client: a live
// dashboard for the supervised backend and a spinner for article jobs.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/benaskins/lectern/internal/status"
	"github.com/benaskins/lectern/internal/supervisor"
)

const (
	defaultRefresh = time.Second
	logFetchLines  = 200
	minLogLines    = 5
)

// Controller is the backend lifecycle the dashboard drives.
type Controller interface {
	Snapshot() supervisor.Snapshot
	Start(ctx context.Context) error
	Stop() error
	Restart(ctx context.Context) error
	Logs(n int) []string
}

type (
	statusMsg     status.Update
	tickMsg       time.Time
	actionDoneMsg struct {
		action string
		err    error
	}
)

// Dashboard is the bubbletea model for `lectern run --tui`.
type Dashboard struct {
	ctx     context.Context
	ctrl    Controller
	updates <-chan status.Update
	keys    KeyMap
	spinner spinner.Model
	refresh time.Duration

	snap     supervisor.Snapshot
	logs     []string
	showLogs bool
	busy     string
	lastErr  error

	width    int
	height   int
	quitting bool
}

// NewDashboard creates the dashboard. updates is a subscription to the
// supervisor's status cell; the caller owns unsubscribing.
func NewDashboard(ctx context.Context, ctrl Controller, updates <-chan status.Update) Dashboard {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = checkingStyle

	return Dashboard{
		ctx:      ctx,
		ctrl:     ctrl,
		updates:  updates,
		keys:     DefaultKeyMap(),
		spinner:  sp,
		refresh:  defaultRefresh,
		snap:     ctrl.Snapshot(),
		logs:     ctrl.Logs(logFetchLines),
		showLogs: true,
	}
}

// RunDashboard shows the dashboard until the user quits or ctx is done.
func RunDashboard(ctx context.Context, ctrl Controller, cell *status.Cell) error {
	updates, unsubscribe := cell.Subscribe()
	defer unsubscribe()

	p := tea.NewProgram(NewDashboard(ctx, ctrl, updates), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func (m Dashboard) Init() tea.Cmd {
	return tea.Batch(waitForStatus(m.updates), m.tickCmd())
}

func waitForStatus(ch <-chan status.Update) tea.Cmd {
	return func() tea.Msg {
		u, ok := <-ch
		if !ok {
			return nil
		}
		return statusMsg(u)
	}
}

func (m Dashboard) tickCmd() tea.Cmd {
	return tea.Tick(m.refresh, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Dashboard) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case statusMsg:
		m.snap = m.ctrl.Snapshot()
		m.snap.Status = msg.Status
		return m, waitForStatus(m.updates)

	case tickMsg:
		m.snap = m.ctrl.Snapshot()
		m.logs = m.ctrl.Logs(logFetchLines)
		return m, m.tickCmd()

	case actionDoneMsg:
		m.busy = ""
		m.lastErr = msg.err
		m.snap = m.ctrl.Snapshot()
		m.logs = m.ctrl.Logs(logFetchLines)
		return m, nil

	case spinner.TickMsg:
		if m.busy == "" {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	return m, nil
}

func (m Dashboard) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.quitting = true
		return m, tea.Quit
	case key.Matches(msg, m.keys.Logs):
		m.showLogs = !m.showLogs
		return m, nil
	}

	// one lifecycle action at a time
	if m.busy != "" {
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Start):
		return m.runAction("starting", func() error { return m.ctrl.Start(m.ctx) })
	case key.Matches(msg, m.keys.Stop):
		return m.runAction("stopping", m.ctrl.Stop)
	case key.Matches(msg, m.keys.Restart):
		return m.runAction("restarting", func() error { return m.ctrl.Restart(m.ctx) })
	}
	return m, nil
}

func (m Dashboard) runAction(action string, fn func() error) (tea.Model, tea.Cmd) {
	m.busy = action
	m.lastErr = nil
	run := func() tea.Msg {
		return actionDoneMsg{action: action, err: fn()}
	}
	return m, tea.Batch(run, m.spinner.Tick)
}

func (m Dashboard) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString("\n")
	b.WriteString(m.renderStatus())
	b.WriteString("\n")
	if m.showLogs {
		b.WriteString(m.renderLogs())
		b.WriteString("\n")
	}
	b.WriteString(dimStyle.Render(" " + m.keys.help()))
	return b.String()
}

func (m Dashboard) renderHeader() string {
	title := " lectern "
	right := string(m.snap.State) + " "
	pad := m.width - lipgloss.Width(title) - lipgloss.Width(right)
	if pad < 1 {
		pad = 1
	}
	return headerStyle.Render(title + strings.Repeat(" ", pad) + right)
}

func (m Dashboard) renderStatus() string {
	snap := m.snap

	statusLine := statusStyle(snap.Status.Kind).Render(snap.Status.String())
	if m.busy != "" {
		statusLine = m.spinner.View() + " " + m.busy + "..."
	}

	rows := [][2]string{
		{"Status", statusLine},
		{"PID", orDash(snap.PID)},
		{"Port", orDash(snap.Port)},
	}
	if snap.Root != "" {
		rows = append(rows, [2]string{"Root", fmt.Sprintf("%s (%s)", snap.Root, snap.RootSource)})
	}
	if snap.Uptime != "" {
		rows = append(rows, [2]string{"Uptime", snap.Uptime})
	}
	if snap.LastCheck != nil {
		ago := time.Since(*snap.LastCheck).Truncate(time.Second)
		rows = append(rows, [2]string{"Last check", ago.String() + " ago"})
	}
	if snap.HealthFails > 0 {
		rows = append(rows, [2]string{"Health fails", strconv.Itoa(snap.HealthFails)})
	}

	var lines []string
	lines = append(lines, panelTitleStyle.Render("Backend"))
	for _, r := range rows {
		lines = append(lines, labelStyle.Render(r[0])+r[1])
	}

	errText := snap.LastError
	if m.lastErr != nil {
		errText = m.lastErr.Error()
	}
	if errText != "" {
		lines = append(lines, labelStyle.Render("Last error")+errorStyle.Render(errText))
	}

	return panelBorderStyle.Width(m.panelWidth()).Render(strings.Join(lines, "\n"))
}

func (m Dashboard) renderLogs() string {
	n := m.height - 16
	if n < minLogLines {
		n = minLogLines
	}
	logs := m.logs
	if len(logs) > n {
		logs = logs[len(logs)-n:]
	}

	lines := []string{panelTitleStyle.Render("Backend output")}
	if len(logs) == 0 {
		lines = append(lines, dimStyle.Render("no output yet"))
	}
	width := m.panelWidth() - 2
	for _, l := range logs {
		lines = append(lines, truncate(l, width))
	}
	return panelBorderStyle.Width(m.panelWidth()).Render(strings.Join(lines, "\n"))
}

func (m Dashboard) panelWidth() int {
	if m.width <= 4 {
		return 78
	}
	return m.width - 2
}

func truncate(s string, width int) string {
	if width <= 0 || lipgloss.Width(s) <= width {
		return s
	}
	r := []rune(s)
	if len(r) > width {
		r = r[:width]
	}
	return string(r)
}

func orDash(n int) string {
	if n == 0 {
		return "-"
	}
	return strconv.Itoa(n)
}
