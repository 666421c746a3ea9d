package keychain

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"
)

// table implements Store over a whole-map load and save.
type table struct {
	mu   sync.Mutex
	load func() (map[string]string, error)
	save func(map[string]string) error
}

func (t *table) Set(key, value string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, err := t.load()
	if err != nil {
		return err
	}
	m[key] = value
	return t.save(m)
}

func (t *table) Get(key string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, err := t.load()
	if err != nil {
		return "", err
	}
	if v, ok := m[key]; ok {
		return v, nil
	}
	return "", fmt.Errorf("%w: %s", ErrNotFound, key)
}

func (t *table) List() ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, err := t.load()
	if err != nil {
		return nil, err
	}
	return slices.Sorted(maps.Keys(m)), nil
}

func (t *table) Delete(key string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, err := t.load()
	if err != nil {
		return err
	}
	if _, ok := m[key]; !ok {
		return nil
	}
	delete(m, key)
	return t.save(m)
}

// MemoryStore holds secrets in process memory. Tests use it.
type MemoryStore struct{ table }

func NewMemoryStore() *MemoryStore {
	current := map[string]string{}
	return &MemoryStore{table{
		load: func() (map[string]string, error) { return maps.Clone(current), nil },
		save: func(m map[string]string) error { current = m; return nil },
	}}
}

// FileStore holds secrets in an owner-only JSON file, replaced atomically on
// every write.
type FileStore struct{ table }

func NewFileStore(path string) *FileStore {
	return &FileStore{table{
		load: func() (map[string]string, error) { return readSecrets(path) },
		save: func(m map[string]string) error { return writeSecrets(path, m) },
	}}
}

func readSecrets(path string) (map[string]string, error) {
	m := map[string]string{}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading secrets: %w", err)
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("secrets file %s is corrupt: %w", path, err)
	}
	return m, nil
}

func writeSecrets(path string, m map[string]string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}

	f, err := os.CreateTemp(filepath.Dir(path), ".secrets-*")
	if err != nil {
		return fmt.Errorf("writing secrets: %w", err)
	}
	defer os.Remove(f.Name())
	if err := f.Chmod(0o600); err != nil {
		f.Close()
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("writing secrets: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(f.Name(), path)
}
