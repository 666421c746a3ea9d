// Package driver launches the backend interpreter as a child process in its
// own process group and reports how it ended.
package driver

import (
	"context"
	"errors"
	"time"

	"github.com/benaskins/lectern/internal/logbuf"
)

var (
	ErrRunning    = errors.New("process already running")
	ErrNotStarted = errors.New("process not started")
)

// Phase is where a launched process is in its life.
type Phase string

const (
	PhaseIdle     Phase = "idle" // never started, or failed to start
	PhaseRunning  Phase = "running"
	PhaseStopping Phase = "stopping"
	PhaseStopped  Phase = "stopped" // exited after Stop
	PhaseExited   Phase = "exited"  // exited on its own
)

// Info is a point-in-time view of a process.
type Info struct {
	PID       int
	Phase     Phase
	StartedAt time.Time
	ExitCode  int
	Err       string
}

// Process is the handle the supervisor owns for one launch.
type Process interface {
	// Start spawns the process and returns without waiting for it.
	Start(ctx context.Context) error

	// Stop sends SIGTERM to the process group and escalates to SIGKILL
	// after grace, or as soon as ctx is done.
	Stop(ctx context.Context, grace time.Duration) error

	Info() Info

	// Wait blocks until the process exits and returns its exit code.
	Wait() (int, error)

	// Exited is closed when the process exits. Nil before Start.
	Exited() <-chan struct{}

	// Output returns the last n lines of combined stdout and stderr.
	Output(n int) []string
}

// Config is the command line and environment of a launch.
type Config struct {
	Command    string
	Args       []string
	Env        []string // complete environment; nil means empty
	WorkingDir string
	Sink       *logbuf.Sink // nil gets a private sink
}
