// Package locator finds the backend project on disk.
//
// An explicit root always wins. Without one, a fixed list of guesses is
// probed in order and the first directory containing the backend entry
// script is used. The guesses exist for development checkouts; installed
// setups should configure the root.
package locator

import (
	"errors"
	"os"
	"path/filepath"
)

// ErrProjectNotFound is returned when no candidate directory holds the backend.
var ErrProjectNotFound = errors.New("backend project not found")

// Source names where a candidate came from.
type Source string

const (
	SourceConfig     Source = "config"
	SourceWorkingDir Source = "working-dir"
	SourceParentDir  Source = "parent-dir"
	SourceExecutable Source = "executable"
	SourceHomeParent Source = "home-parent"
	SourceHome       Source = "home"
)

// Candidate is one directory that may be the project root.
type Candidate struct {
	Path   string
	Source Source
}

// Root is a resolved backend project.
type Root struct {
	Path   string // project root
	Source Source
}

// BackendDir returns the backend's own subdirectory under the root.
func (r Root) BackendDir(dir string) string {
	return filepath.Join(r.Path, dir)
}

// Options configures candidate generation.
type Options struct {
	Root          string   // explicit root; skips the heuristic
	ProjectName   string   // directory name of the project checkout
	SearchParents []string // directories under $HOME that may contain ProjectName
	BackendDir    string   // backend subdirectory under the root
	EntryScript   string   // marker file under BackendDir

	// Lookup hooks, overridable in tests.
	Getwd       func() (string, error)
	Executable  func() (string, error)
	UserHomeDir func() (string, error)
	Stat        func(string) (os.FileInfo, error)
}

// Locator resolves the backend project root.
type Locator struct {
	opts Options
}

// New creates a Locator, filling unset hooks with the os package.
func New(opts Options) *Locator {
	if opts.Getwd == nil {
		opts.Getwd = os.Getwd
	}
	if opts.Executable == nil {
		opts.Executable = os.Executable
	}
	if opts.UserHomeDir == nil {
		opts.UserHomeDir = os.UserHomeDir
	}
	if opts.Stat == nil {
		opts.Stat = os.Stat
	}
	return &Locator{opts: opts}
}

// Locate returns the first valid candidate, or ErrProjectNotFound.
func (l *Locator) Locate() (Root, error) {
	if l.opts.Root != "" {
		if info, err := l.opts.Stat(l.opts.Root); err == nil && info.IsDir() {
			return Root{Path: l.opts.Root, Source: SourceConfig}, nil
		}
		return Root{}, ErrProjectNotFound
	}

	for _, c := range l.Candidates() {
		if l.valid(c.Path) {
			return Root{Path: c.Path, Source: c.Source}, nil
		}
	}
	return Root{}, ErrProjectNotFound
}

// Candidates returns the ordered list of directories Locate probes.
// Lookups that fail are skipped.
func (l *Locator) Candidates() []Candidate {
	if l.opts.Root != "" {
		return []Candidate{{Path: l.opts.Root, Source: SourceConfig}}
	}

	var out []Candidate
	seen := make(map[string]bool)
	add := func(path string, src Source) {
		if path == "" {
			return
		}
		path = filepath.Clean(path)
		if seen[path] {
			return
		}
		seen[path] = true
		out = append(out, Candidate{Path: path, Source: src})
	}

	if wd, err := l.opts.Getwd(); err == nil {
		add(wd, SourceWorkingDir)
		add(filepath.Dir(wd), SourceParentDir)
	}

	if exe, err := l.opts.Executable(); err == nil {
		if resolved, err := filepath.EvalSymlinks(exe); err == nil {
			exe = resolved
		}
		// binaries usually live in <root>/bin or <root>/cmd/<name>
		dir := filepath.Dir(exe)
		add(dir, SourceExecutable)
		add(filepath.Dir(dir), SourceExecutable)
		add(filepath.Dir(filepath.Dir(dir)), SourceExecutable)
	}

	if home, err := l.opts.UserHomeDir(); err == nil && l.opts.ProjectName != "" {
		for _, parent := range l.opts.SearchParents {
			add(filepath.Join(home, parent, l.opts.ProjectName), SourceHomeParent)
		}
		add(filepath.Join(home, l.opts.ProjectName), SourceHome)
	}

	return out
}

// Marker returns the marker path for a candidate root.
func (l *Locator) Marker(root string) string {
	return filepath.Join(root, l.opts.BackendDir, l.opts.EntryScript)
}

func (l *Locator) valid(root string) bool {
	info, err := l.opts.Stat(l.Marker(root))
	return err == nil && !info.IsDir()
}
