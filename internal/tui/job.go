package tui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

const elapsedTick = 100 * time.Millisecond

// ProgressFunc reports the poll attempt a running job is on.
type ProgressFunc func(attempt int)

// JobFunc is the work behind a spinner. It reports progress through
// progress, which is safe to call from any goroutine.
type JobFunc func(ctx context.Context, progress ProgressFunc) error

type (
	jobTickMsg     time.Time
	jobAttemptMsg  int
	jobFinishedMsg struct{ err error }
)

// Job is the bubbletea model for a spinner that shows elapsed time while
// an article job runs.
type Job struct {
	title   string
	run     func() tea.Msg
	cancel  context.CancelFunc
	spinner spinner.Model

	started time.Time
	now     time.Time
	attempt int
	done    bool
	err     error
}

func newJob(title string, cancel context.CancelFunc, run func() tea.Msg, now time.Time) Job {
	sp := spinner.New()
	sp.Spinner = spinner.MiniDot
	sp.Style = checkingStyle
	return Job{
		title:   title,
		run:     run,
		cancel:  cancel,
		spinner: sp,
		started: now,
		now:     now,
	}
}

// RunJob runs fn behind a spinner written to out and returns fn's error.
// Ctrl+C cancels the job.
func RunJob(ctx context.Context, out io.Writer, title string, fn JobFunc) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var p *tea.Program
	progress := func(attempt int) {
		if p != nil {
			p.Send(jobAttemptMsg(attempt))
		}
	}
	run := func() tea.Msg {
		return jobFinishedMsg{err: fn(ctx, progress)}
	}

	p = tea.NewProgram(newJob(title, cancel, run, time.Now()), tea.WithOutput(out))
	final, err := p.Run()
	if err != nil {
		return err
	}
	return final.(Job).err
}

func (m Job) Init() tea.Cmd {
	return tea.Batch(m.run, m.spinner.Tick, jobTick())
}

func jobTick() tea.Cmd {
	return tea.Tick(elapsedTick, func(t time.Time) tea.Msg {
		return jobTickMsg(t)
	})
}

func (m Job) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case jobFinishedMsg:
		m.done = true
		m.err = msg.err
		m.now = time.Now()
		return m, tea.Quit

	case jobAttemptMsg:
		m.attempt = int(msg)
		return m, nil

	case jobTickMsg:
		if m.done {
			return m, nil
		}
		m.now = time.Time(msg)
		return m, jobTick()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" && m.cancel != nil {
			// the job returns context.Canceled and ends the program
			m.cancel()
		}
		return m, nil
	}
	return m, nil
}

func (m Job) elapsed() time.Duration {
	return m.now.Sub(m.started).Truncate(100 * time.Millisecond)
}

func (m Job) View() string {
	if m.done {
		switch {
		case m.err == nil:
			return healthyStyle.Render("✓") + fmt.Sprintf(" %s (%s)\n", m.title, m.elapsed())
		case errors.Is(m.err, context.Canceled):
			return dimStyle.Render(fmt.Sprintf("- %s cancelled after %s\n", m.title, m.elapsed()))
		default:
			return errorStyle.Render("✗") + fmt.Sprintf(" %s failed after %s\n", m.title, m.elapsed())
		}
	}

	line := fmt.Sprintf("%s %s %s", m.spinner.View(), m.title, dimStyle.Render(m.elapsed().String()))
	if m.attempt > 0 {
		line += dimStyle.Render(fmt.Sprintf(" · attempt %d", m.attempt))
	}
	return line + "\n"
}
