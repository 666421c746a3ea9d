package driver

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

// Alive reports whether pid names an existing process.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// Matches reports whether pid is alive and running command. Only base
// names are compared, so a recycled PID belonging to another program does
// not match.
func Matches(pid int, command string) bool {
	if !Alive(pid) {
		return false
	}
	name, err := commandName(pid)
	if err != nil {
		return false
	}
	want := filepath.Base(command)
	// the kernel truncates names (15 bytes on linux, 16 on darwin)
	if len(want) > len(name) {
		want = want[:len(name)]
	}
	// a venv "python" symlink shows up as "python3.12"
	return strings.HasPrefix(name, want)
}

// Terminate stops a process this client did not spawn, such as a backend
// left behind by a crash: SIGTERM to its group, then SIGKILL once timeout
// passes.
func Terminate(pid int, timeout time.Duration) error {
	if !Alive(pid) {
		return nil
	}
	if err := signalGroup(pid, unix.SIGTERM); err != nil {
		return fmt.Errorf("signalling %d: %w", pid, err)
	}

	for deadline := time.Now().Add(timeout); time.Now().Before(deadline); {
		if !Alive(pid) {
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	signalGroup(pid, unix.SIGKILL)
	return nil
}

// signalGroup signals the process group led by pid, falling back to pid
// alone when it does not lead a group.
func signalGroup(pid int, sig unix.Signal) error {
	if err := unix.Kill(-pid, sig); err == nil {
		return nil
	}
	if err := unix.Kill(pid, sig); err != nil && !errors.Is(err, unix.ESRCH) {
		return err
	}
	return nil
}

func nonEmptyName(pid int, name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("no command name for pid %d", pid)
	}
	return name, nil
}
