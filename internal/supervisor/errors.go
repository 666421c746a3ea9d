package supervisor

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/benaskins/lectern/internal/locator"
)

// ErrProjectNotFound is returned when no backend project can be located.
var ErrProjectNotFound = locator.ErrProjectNotFound

// ErrStartAborted is returned by a start that Stop interrupted.
var ErrStartAborted = errors.New("backend start aborted by stop")

// ExecutableNotFoundError reports a missing backend interpreter.
type ExecutableNotFoundError struct {
	Path string
}

func (e *ExecutableNotFoundError) Error() string {
	return fmt.Sprintf("backend interpreter not found: %s", e.Path)
}

// ServerScriptNotFoundError reports a missing backend entry script.
type ServerScriptNotFoundError struct {
	Path string
}

func (e *ServerScriptNotFoundError) Error() string {
	return fmt.Sprintf("backend entry script not found: %s", e.Path)
}

// StartupTimeoutError is returned when the backend did not report healthy
// within the startup ceiling.
type StartupTimeoutError struct {
	Timeout time.Duration
	Reason  string // last unhealthy reason seen
}

func (e *StartupTimeoutError) Error() string {
	msg := fmt.Sprintf("backend did not become healthy within %s", e.Timeout)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// Seconds returns the timeout in whole seconds, for messages.
func (e *StartupTimeoutError) Seconds() int {
	return int(e.Timeout / time.Second)
}

// ProcessExitedError is returned when the backend exits before it becomes
// healthy, or is recorded when it exits while running.
type ProcessExitedError struct {
	ExitCode int
	Output   []string // last lines of output
}

func (e *ProcessExitedError) Error() string {
	msg := fmt.Sprintf("backend exited with code %d", e.ExitCode)
	if len(e.Output) > 0 {
		msg += ": " + strings.TrimSpace(e.Output[len(e.Output)-1])
	}
	return msg
}
