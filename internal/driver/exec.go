package driver

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/benaskins/lectern/internal/logbuf"
)

// killWait bounds how long Stop waits for exit after SIGKILL.
const killWait = 5 * time.Second

// Exec runs a Config with os/exec.
type Exec struct {
	cfg  Config
	sink *logbuf.Sink

	mu      sync.Mutex
	cmd     *exec.Cmd
	phase   Phase
	started time.Time
	code    int
	errText string
	exited  chan struct{}
}

func New(cfg Config) *Exec {
	sink := cfg.Sink
	if sink == nil {
		sink = logbuf.New(logbuf.DefaultLines)
	}
	return &Exec{cfg: cfg, sink: sink, phase: PhaseIdle}
}

func (e *Exec) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.phase == PhaseRunning || e.phase == PhaseStopping {
		return ErrRunning
	}

	// exec.Command, not CommandContext: the backend outlives ctx and ends
	// only through Stop.
	cmd := exec.Command(e.cfg.Command, e.cfg.Args...)
	cmd.Env = e.cfg.Env
	cmd.Dir = e.cfg.WorkingDir
	cmd.Stdout = e.sink
	cmd.Stderr = e.sink
	// a group of its own, so server workers are signalled with it
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		e.errText = err.Error()
		return fmt.Errorf("launching %s: %w", filepath.Base(e.cfg.Command), err)
	}

	e.cmd = cmd
	e.phase = PhaseRunning
	e.started = time.Now()
	e.code = 0
	e.errText = ""
	e.exited = make(chan struct{})
	go e.reap(cmd, e.exited)
	return nil
}

// reap waits for cmd and records how it ended.
func (e *Exec) reap(cmd *exec.Cmd, exited chan struct{}) {
	err := cmd.Wait()
	e.sink.Flush()

	e.mu.Lock()
	if e.phase == PhaseStopping {
		e.phase = PhaseStopped
	} else {
		e.phase = PhaseExited
	}
	e.code = exitCode(err)
	if err != nil {
		e.errText = err.Error()
	}
	e.mu.Unlock()

	close(exited)
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ee.ExitCode()
	}
	return -1
}

func (e *Exec) Stop(ctx context.Context, grace time.Duration) error {
	e.mu.Lock()
	if e.phase != PhaseRunning {
		e.mu.Unlock()
		return nil
	}
	e.phase = PhaseStopping
	pid := e.cmd.Process.Pid
	exited := e.exited
	e.mu.Unlock()

	signalGroup(pid, unix.SIGTERM)

	timer := time.NewTimer(grace)
	defer timer.Stop()

	var cause error
	select {
	case <-exited:
		return nil
	case <-timer.C:
	case <-ctx.Done():
		cause = ctx.Err()
	}

	signalGroup(pid, unix.SIGKILL)
	select {
	case <-exited:
		return cause
	case <-time.After(killWait):
		return fmt.Errorf("backend pid %d survived SIGKILL", pid)
	}
}

func (e *Exec) Info() Info {
	e.mu.Lock()
	defer e.mu.Unlock()

	info := Info{
		Phase:     e.phase,
		StartedAt: e.started,
		ExitCode:  e.code,
		Err:       e.errText,
	}
	if e.cmd != nil {
		info.PID = e.cmd.Process.Pid
	}
	return info
}

func (e *Exec) Wait() (int, error) {
	exited := e.Exited()
	if exited == nil {
		return -1, ErrNotStarted
	}
	<-exited

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.code, nil
}

func (e *Exec) Exited() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.exited
}

func (e *Exec) Output(n int) []string {
	return e.sink.Last(n)
}
