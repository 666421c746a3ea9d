package supervisor

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Record describes the backend this client last launched. It survives a
// client crash so the next start can reap the orphan.
type Record struct {
	PID       int       `yaml:"pid"`
	Port      int       `yaml:"port"`
	Root      string    `yaml:"root,omitempty"`
	StartedAt time.Time `yaml:"started_at,omitempty"`
	Command   string    `yaml:"command,omitempty"` // guards against PID reuse
}

type stateFile struct {
	mu   sync.Mutex
	path string
}

func newStateFile(dir string) *stateFile {
	return &stateFile{path: filepath.Join(dir, "backend.state")}
}

// load returns a nil record when nothing was launched or the last backend
// was stopped cleanly.
func (f *stateFile) load() (*Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	raw, err := os.ReadFile(f.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("reading %s: %w", f.path, err)
	}

	rec := new(Record)
	if err := yaml.Unmarshal(raw, rec); err != nil {
		return nil, fmt.Errorf("%s is corrupt: %w", f.path, err)
	}
	if rec.PID <= 0 {
		return nil, nil
	}
	return rec, nil
}

// save writes rec next to the final path and renames it into place.
func (f *stateFile) save(rec Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	raw, err := yaml.Marshal(rec)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return err
	}
	next := f.path + ".next"
	if err := os.WriteFile(next, raw, 0o600); err != nil {
		return err
	}
	if err := os.Rename(next, f.path); err != nil {
		os.Remove(next)
		return err
	}
	return nil
}

func (f *stateFile) clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	err := os.Remove(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
