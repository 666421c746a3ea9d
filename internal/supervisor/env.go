package supervisor

import (
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/benaskins/lectern/internal/config"
	"github.com/benaskins/lectern/internal/keychain"
)

// resolveInterpreter finds the interpreter binary. Relative paths with a
// separator are taken from the backend directory; bare names are looked up
// on PATH.
func resolveInterpreter(interp, backendDir string) (string, error) {
	var path string
	switch {
	case filepath.IsAbs(interp):
		path = interp
	case strings.ContainsRune(interp, filepath.Separator):
		path = filepath.Join(backendDir, interp)
	default:
		found, err := exec.LookPath(interp)
		if err != nil {
			return "", &ExecutableNotFoundError{Path: interp}
		}
		return found, nil
	}

	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", &ExecutableNotFoundError{Path: path}
	}
	return path, nil
}

// buildEnv returns the backend's environment: the client's own environment,
// then configured variables, then secrets, then the unbuffered-output switch.
// Later entries win.
func buildEnv(b config.Backend, secrets keychain.Store) ([]string, error) {
	env := os.Environ()

	names := make([]string, 0, len(b.Env))
	for name := range b.Env {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		env = append(env, name+"="+b.Env[name])
	}

	if len(b.Secrets) > 0 && secrets != nil {
		resolved, err := keychain.Environ(secrets, b.Secrets)
		if err != nil {
			return nil, err
		}
		env = append(env, resolved...)
	}

	if b.UnbufferedEnv != "" {
		env = append(env, b.UnbufferedEnv+"=1")
	}
	return dedupEnv(env), nil
}

// dedupEnv keeps the last value for each name, preserving first-seen order.
func dedupEnv(env []string) []string {
	index := make(map[string]int, len(env))
	out := make([]string, 0, len(env))
	for _, kv := range env {
		name, _, _ := strings.Cut(kv, "=")
		if i, ok := index[name]; ok {
			out[i] = kv
			continue
		}
		index[name] = len(out)
		out = append(out, kv)
	}
	return out
}

// launchArgs returns the interpreter arguments serving the app on host:port.
func launchArgs(b config.Backend, port int) []string {
	return []string{"-m", b.Module, b.App, "--host", b.Host, "--port", strconv.Itoa(port)}
}
