package supervisor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benaskins/lectern/internal/backend"
	"github.com/benaskins/lectern/internal/config"
	"github.com/benaskins/lectern/internal/driver"
	"github.com/benaskins/lectern/internal/health"
	"github.com/benaskins/lectern/internal/keychain"
	"github.com/benaskins/lectern/internal/locator"
	"github.com/benaskins/lectern/internal/status"
)

// fakeProc is a process handle that never forks.
type fakeProc struct {
	cfg        driver.Config
	exitOnRun  bool
	exitCode   int
	onStop     func()
	stops      atomic.Int32
	done       chan struct{}
	once       sync.Once
	mu         sync.Mutex
	stateValue driver.Phase
}

func (p *fakeProc) Start(ctx context.Context) error {
	p.mu.Lock()
	p.stateValue = driver.PhaseRunning
	p.mu.Unlock()
	p.cfg.Sink.Write([]byte("INFO: Uvicorn running on http://127.0.0.1\n"))
	if p.exitOnRun {
		p.cfg.Sink.Write([]byte("ModuleNotFoundError: No module named 'feedparser'\n"))
		p.exit(p.exitCode)
	}
	return nil
}

func (p *fakeProc) exit(code int) {
	p.once.Do(func() {
		p.mu.Lock()
		p.exitCode = code
		if p.stateValue == driver.PhaseStopping {
			p.stateValue = driver.PhaseStopped
		} else {
			p.stateValue = driver.PhaseExited
		}
		p.mu.Unlock()
		close(p.done)
	})
}

func (p *fakeProc) Stop(ctx context.Context, timeout time.Duration) error {
	p.stops.Add(1)
	p.mu.Lock()
	p.stateValue = driver.PhaseStopping
	p.mu.Unlock()
	if p.onStop != nil {
		p.onStop()
	}
	p.exit(-1)
	return nil
}

func (p *fakeProc) Info() driver.Info {
	p.mu.Lock()
	defer p.mu.Unlock()
	return driver.Info{PID: 1 << 22, Phase: p.stateValue, ExitCode: p.exitCode}
}

func (p *fakeProc) Wait() (int, error) {
	<-p.done
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode, nil
}

func (p *fakeProc) Exited() <-chan struct{} { return p.done }

func (p *fakeProc) Output(n int) []string { return p.cfg.Sink.Last(n) }

// fakeLauncher records every launch.
type fakeLauncher struct {
	mu        sync.Mutex
	procs     []*fakeProc
	exitOnRun bool
	exitCode  int
	onStop    func()
}

func (l *fakeLauncher) launch(cfg driver.Config) driver.Process {
	l.mu.Lock()
	defer l.mu.Unlock()
	p := &fakeProc{cfg: cfg, exitOnRun: l.exitOnRun, exitCode: l.exitCode, onStop: l.onStop, done: make(chan struct{})}
	l.procs = append(l.procs, p)
	return p
}

func (l *fakeLauncher) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.procs)
}

func (l *fakeLauncher) last() *fakeProc {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.procs[len(l.procs)-1]
}

type fakeChecker struct {
	calls atomic.Int32
	fn    func() (*backend.HealthResponse, error)
}

func (c *fakeChecker) Health(ctx context.Context) (*backend.HealthResponse, error) {
	c.calls.Add(1)
	return c.fn()
}

func healthyChecker(summarization bool) *fakeChecker {
	return &fakeChecker{fn: func() (*backend.HealthResponse, error) {
		ok := true
		return &backend.HealthResponse{IsHealthy: &ok, SummarizationEnabled: summarization}, nil
	}}
}

func refusingChecker() *fakeChecker {
	return &fakeChecker{fn: func() (*backend.HealthResponse, error) {
		return nil, &backend.TransportError{Op: "health", Err: errors.New("connection refused")}
	}}
}

// project creates a backend checkout with an entry script and interpreter.
func project(t *testing.T, withScript, withInterp bool) string {
	t.Helper()
	root := t.TempDir()
	serverDir := filepath.Join(root, "server")
	if err := os.MkdirAll(filepath.Join(serverDir, "venv", "bin"), 0755); err != nil {
		t.Fatal(err)
	}
	if withScript {
		os.WriteFile(filepath.Join(serverDir, "main.py"), []byte("app = None\n"), 0644)
	}
	if withInterp {
		os.WriteFile(filepath.Join(serverDir, "venv", "bin", "python"), []byte("#!/bin/sh\n"), 0755)
	}
	return root
}

func testConfig(root string) *config.Config {
	cfg := config.Default()
	cfg.Backend.Root = root
	p := 0
	cfg.Backend.Port = &p
	cfg.Timing.StartupTimeout.Duration = 300 * time.Millisecond
	cfg.Timing.StartupPollInterval.Duration = 10 * time.Millisecond
	cfg.Timing.HealthInterval.Duration = time.Hour
	cfg.Timing.StopTimeout.Duration = time.Second
	return cfg
}

func newTestSupervisor(cfg *config.Config, l *fakeLauncher, c health.Checker) *Supervisor {
	return New(Options{
		Config:  cfg,
		Launch:  l.launch,
		Checker: func(int) health.Checker { return c },
	})
}

func TestStartScriptNotFoundNeverSpawns(t *testing.T) {
	root := project(t, false, true)
	l := &fakeLauncher{}
	s := newTestSupervisor(testConfig(root), l, healthyChecker(true))

	err := s.Start(context.Background())
	var snf *ServerScriptNotFoundError
	if !errors.As(err, &snf) {
		t.Fatalf("expected ServerScriptNotFoundError, got %v", err)
	}
	if want := filepath.Join(root, "server", "main.py"); snf.Path != want {
		t.Errorf("Path = %q, want %q", snf.Path, want)
	}
	if l.count() != 0 {
		t.Errorf("process spawned %d times", l.count())
	}
	if s.State() != StateStopped || s.Running() {
		t.Errorf("state = %s", s.State())
	}
	if got := s.Status().Get(); got.Kind != status.KindUnhealthy {
		t.Errorf("status = %+v", got)
	}
	if !errors.As(s.LastError(), &snf) {
		t.Errorf("LastError = %v", s.LastError())
	}
}

func TestStartProjectNotFound(t *testing.T) {
	empty := t.TempDir()
	loc := locator.New(locator.Options{
		ProjectName:   "lectern",
		SearchParents: []string{"Developer"},
		BackendDir:    "server",
		EntryScript:   "main.py",
		Getwd:         func() (string, error) { return filepath.Join(empty, "cwd"), nil },
		Executable:    func() (string, error) { return filepath.Join(empty, "bin", "lectern"), nil },
		UserHomeDir:   func() (string, error) { return filepath.Join(empty, "home"), nil },
	})
	l := &fakeLauncher{}
	s := New(Options{
		Config:  testConfig(""),
		Locator: loc,
		Launch:  l.launch,
		Checker: func(int) health.Checker { return healthyChecker(true) },
	})

	if err := s.Start(context.Background()); !errors.Is(err, ErrProjectNotFound) {
		t.Fatalf("expected ErrProjectNotFound, got %v", err)
	}
	if l.count() != 0 {
		t.Error("no process may be spawned")
	}
}

func TestStartExecutableNotFound(t *testing.T) {
	root := project(t, true, false)
	l := &fakeLauncher{}
	s := newTestSupervisor(testConfig(root), l, healthyChecker(true))

	err := s.Start(context.Background())
	var enf *ExecutableNotFoundError
	if !errors.As(err, &enf) {
		t.Fatalf("expected ExecutableNotFoundError, got %v", err)
	}
	if want := filepath.Join(root, "server", "venv", "bin", "python"); enf.Path != want {
		t.Errorf("Path = %q, want %q", enf.Path, want)
	}
	if l.count() != 0 {
		t.Error("no process may be spawned")
	}
}

func TestStartHealthy(t *testing.T) {
	root := project(t, true, true)
	l := &fakeLauncher{}
	s := newTestSupervisor(testConfig(root), l, healthyChecker(false))

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	if !s.Running() {
		t.Error("expected running")
	}
	if got := s.Status().Get(); got != status.Healthy(false) {
		t.Errorf("status = %+v, want healthy without summarization", got)
	}

	p := l.last()
	serverDir := filepath.Join(root, "server")
	if p.cfg.Command != filepath.Join(serverDir, "venv", "bin", "python") {
		t.Errorf("Command = %q", p.cfg.Command)
	}
	if p.cfg.WorkingDir != serverDir {
		t.Errorf("WorkingDir = %q", p.cfg.WorkingDir)
	}
	wantArgs := []string{"-m", "uvicorn", "main:app", "--host", "127.0.0.1", "--port"}
	if len(p.cfg.Args) != 7 || !slices.Equal(p.cfg.Args[:6], wantArgs) {
		t.Errorf("Args = %v", p.cfg.Args)
	}
	if !slices.Contains(p.cfg.Env, "PYTHONUNBUFFERED=1") {
		t.Error("unbuffered output not enabled")
	}

	snap := s.Snapshot()
	if snap.State != StateRunning || snap.Port == 0 || snap.Root != root || snap.RootSource != locator.SourceConfig {
		t.Errorf("snapshot = %+v", snap)
	}
	if logs := s.Logs(10); len(logs) == 0 || !strings.Contains(logs[0], "Uvicorn running") {
		t.Errorf("Logs = %v", logs)
	}
}

func TestStartIsNoopWhenRunning(t *testing.T) {
	root := project(t, true, true)
	l := &fakeLauncher{}
	s := newTestSupervisor(testConfig(root), l, healthyChecker(true))

	s.Start(context.Background())
	defer s.Stop()
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if l.count() != 1 {
		t.Errorf("launched %d times", l.count())
	}
}

func TestStartTimeoutLeavesNoLoop(t *testing.T) {
	root := project(t, true, true)
	l := &fakeLauncher{}
	c := refusingChecker()
	s := newTestSupervisor(testConfig(root), l, c)

	err := s.Start(context.Background())
	var timeout *StartupTimeoutError
	if !errors.As(err, &timeout) {
		t.Fatalf("expected StartupTimeoutError, got %v", err)
	}
	if timeout.Timeout != 300*time.Millisecond || timeout.Reason != "connection refused" {
		t.Errorf("got %+v", timeout)
	}
	if l.last().stops.Load() != 1 {
		t.Error("spawned process must be terminated after a failed start")
	}
	if s.Running() {
		t.Error("must not be running")
	}

	calls := c.calls.Load()
	time.Sleep(60 * time.Millisecond)
	if c.calls.Load() != calls {
		t.Error("health checks continued after startup timeout")
	}
}

func TestStartProcessExitsEarly(t *testing.T) {
	root := project(t, true, true)
	l := &fakeLauncher{exitOnRun: true, exitCode: 1}
	s := newTestSupervisor(testConfig(root), l, refusingChecker())

	err := s.Start(context.Background())
	var exited *ProcessExitedError
	if !errors.As(err, &exited) {
		t.Fatalf("expected ProcessExitedError, got %v", err)
	}
	if exited.ExitCode != 1 {
		t.Errorf("ExitCode = %d", exited.ExitCode)
	}
	if !strings.Contains(exited.Error(), "feedparser") {
		t.Errorf("error should carry the last output line: %v", exited)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	root := project(t, true, true)
	l := &fakeLauncher{}
	s := newTestSupervisor(testConfig(root), l, healthyChecker(true))

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop before start: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("first Stop: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}

	if s.State() != StateStopped {
		t.Errorf("state = %s", s.State())
	}
	if got := s.Status().Get(); got.Kind != status.KindUnknown {
		t.Errorf("status = %+v", got)
	}
	if l.last().stops.Load() != 1 {
		t.Errorf("process stopped %d times", l.last().stops.Load())
	}
}

func TestStopCancelsHealthLoopBeforeTerminating(t *testing.T) {
	root := project(t, true, true)
	cfg := testConfig(root)
	cfg.Timing.HealthInterval.Duration = 5 * time.Millisecond

	c := healthyChecker(true)
	var checksDuringStop atomic.Int32
	l := &fakeLauncher{}
	l.onStop = func() {
		before := c.calls.Load()
		time.Sleep(30 * time.Millisecond)
		checksDuringStop.Store(c.calls.Load() - before)
	}
	s := newTestSupervisor(cfg, l, c)

	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	time.Sleep(30 * time.Millisecond)
	s.Stop()

	if n := checksDuringStop.Load(); n != 0 {
		t.Errorf("%d health checks ran while the process was terminating", n)
	}
}

func TestRestart(t *testing.T) {
	root := project(t, true, true)
	l := &fakeLauncher{}
	s := newTestSupervisor(testConfig(root), l, healthyChecker(true))

	s.Start(context.Background())
	if err := s.Restart(context.Background()); err != nil {
		t.Fatalf("Restart: %v", err)
	}
	defer s.Stop()

	if l.count() != 2 || l.procs[0].stops.Load() != 1 {
		t.Errorf("launches=%d first stops=%d", l.count(), l.procs[0].stops.Load())
	}
	if !s.Running() {
		t.Error("expected running after restart")
	}
}

func TestRestartSurfacesStartErrors(t *testing.T) {
	root := project(t, true, true)
	l := &fakeLauncher{}
	s := newTestSupervisor(testConfig(root), l, healthyChecker(true))
	s.Start(context.Background())

	os.Remove(filepath.Join(root, "server", "main.py"))
	err := s.Restart(context.Background())
	var snf *ServerScriptNotFoundError
	if !errors.As(err, &snf) {
		t.Fatalf("expected ServerScriptNotFoundError, got %v", err)
	}
}

func TestUnexpectedExitRecorded(t *testing.T) {
	root := project(t, true, true)
	l := &fakeLauncher{}
	s := newTestSupervisor(testConfig(root), l, healthyChecker(true))

	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	l.last().exit(3)

	deadline := time.Now().Add(2 * time.Second)
	for s.Running() {
		if time.Now().After(deadline) {
			t.Fatal("supervisor did not notice the exit")
		}
		time.Sleep(5 * time.Millisecond)
	}
	var exited *ProcessExitedError
	if !errors.As(s.LastError(), &exited) || exited.ExitCode != 3 {
		t.Errorf("LastError = %v", s.LastError())
	}
	if got := s.Status().Get(); got.Kind != status.KindUnhealthy {
		t.Errorf("status = %+v", got)
	}
	if err := s.Stop(); err != nil {
		t.Errorf("Stop after exit: %v", err)
	}
}

func TestSecretsInjected(t *testing.T) {
	root := project(t, true, true)
	cfg := testConfig(root)
	cfg.Backend.Secrets = map[string]string{"OPENAI_API_KEY": "openai"}
	cfg.Backend.Env = map[string]string{"LOG_LEVEL": "debug"}

	store := keychain.NewMemoryStore()
	store.Set("openai", "sk-test")

	l := &fakeLauncher{}
	s := New(Options{
		Config:  cfg,
		Secrets: store,
		Launch:  l.launch,
		Checker: func(int) health.Checker { return healthyChecker(true) },
	})
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	env := l.last().cfg.Env
	for _, want := range []string{"OPENAI_API_KEY=sk-test", "LOG_LEVEL=debug", "PYTHONUNBUFFERED=1"} {
		if !slices.Contains(env, want) {
			t.Errorf("env missing %s", want)
		}
	}
}

func TestMissingSecretPreventsLaunch(t *testing.T) {
	root := project(t, true, true)
	cfg := testConfig(root)
	cfg.Backend.Secrets = map[string]string{"OPENAI_API_KEY": "openai"}

	l := &fakeLauncher{}
	s := New(Options{
		Config:  cfg,
		Secrets: keychain.NewMemoryStore(),
		Launch:  l.launch,
		Checker: func(int) health.Checker { return healthyChecker(true) },
	})
	if err := s.Start(context.Background()); !errors.Is(err, keychain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if l.count() != 0 {
		t.Error("no process may be spawned without its secrets")
	}
}

func TestOrphanReaped(t *testing.T) {
	orphan := driver.New(driver.Config{Command: "sleep", Args: []string{"60"}})
	if err := orphan.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer orphan.Stop(context.Background(), time.Second)

	stateDir := t.TempDir()
	sf := newStateFile(stateDir)
	if err := sf.save(Record{PID: orphan.Info().PID, Port: 5005, Command: "/bin/sleep"}); err != nil {
		t.Fatal(err)
	}

	root := project(t, true, true)
	l := &fakeLauncher{}
	s := New(Options{
		Config:   testConfig(root),
		StateDir: stateDir,
		Launch:   l.launch,
		Checker:  func(int) health.Checker { return healthyChecker(true) },
	})
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	select {
	case <-orphan.Exited():
	case <-time.After(5 * time.Second):
		t.Fatal("orphaned backend was not terminated")
	}

	rec, err := sf.load()
	if err != nil || rec == nil || rec.PID != 1<<22 {
		t.Errorf("state should record the new backend, got %+v, %v", rec, err)
	}

	s.Stop()
	if rec, _ := sf.load(); rec != nil {
		t.Errorf("state should be cleared after Stop, got %+v", rec)
	}
}

func TestReconfigure(t *testing.T) {
	root := project(t, true, true)
	l := &fakeLauncher{}
	cfg := testConfig(root)
	s := newTestSupervisor(cfg, l, healthyChecker(true))

	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	same := *cfg
	same.Timing.PollMaxAttempts = 10
	restarted, err := s.Reconfigure(context.Background(), &same)
	if err != nil || restarted {
		t.Errorf("poll-only change: restarted=%v err=%v", restarted, err)
	}

	changed := *cfg
	changed.Backend.Env = map[string]string{"FEATURE": "on"}
	restarted, err = s.Reconfigure(context.Background(), &changed)
	if err != nil || !restarted {
		t.Fatalf("backend change: restarted=%v err=%v", restarted, err)
	}
	if l.count() != 2 || !slices.Contains(l.last().cfg.Env, "FEATURE=on") {
		t.Errorf("expected relaunch with new env, launches=%d", l.count())
	}
	if s.Config() != &changed {
		t.Error("Config should return the new configuration")
	}
}

func TestBackendChanged(t *testing.T) {
	a := config.Default()
	b := config.Default()
	if backendChanged(a, b) {
		t.Error("defaults should compare equal")
	}
	p := 6006
	b.Backend.Port = &p
	if !backendChanged(a, b) {
		t.Error("port change should require restart")
	}
	c := config.Default()
	c.Timing.HealthInterval.Duration = time.Minute
	if !backendChanged(a, c) {
		t.Error("health interval change should require restart")
	}
}

func TestDedupEnv(t *testing.T) {
	got := dedupEnv([]string{"A=1", "B=2", "A=3", "C"})
	want := []string{"A=3", "B=2", "C"}
	if !slices.Equal(got, want) {
		t.Errorf("dedupEnv = %v, want %v", got, want)
	}
}

func TestResolveInterpreterOnPath(t *testing.T) {
	if _, err := resolveInterpreter("sh", t.TempDir()); err != nil {
		t.Errorf("sh should be found on PATH: %v", err)
	}
	_, err := resolveInterpreter("definitely-not-a-python", t.TempDir())
	var enf *ExecutableNotFoundError
	if !errors.As(err, &enf) || enf.Path != "definitely-not-a-python" {
		t.Errorf("expected ExecutableNotFoundError, got %v", err)
	}
}

func TestStateFileRoundTrip(t *testing.T) {
	sf := newStateFile(t.TempDir())
	if rec, err := sf.load(); rec != nil || err != nil {
		t.Fatalf("empty load = %+v, %v", rec, err)
	}
	if err := sf.save(Record{PID: 77, Port: 5005, Root: "/srv/lectern"}); err != nil {
		t.Fatal(err)
	}
	rec, err := sf.load()
	if err != nil || rec.PID != 77 || rec.Root != "/srv/lectern" {
		t.Errorf("load = %+v, %v", rec, err)
	}
	if err := sf.clear(); err != nil {
		t.Fatal(err)
	}
	if err := sf.clear(); err != nil {
		t.Errorf("second clear: %v", err)
	}
}

func TestErrorMessages(t *testing.T) {
	e := &StartupTimeoutError{Timeout: 30 * time.Second}
	if e.Seconds() != 30 || e.Error() != "backend did not become healthy within 30s" {
		t.Errorf("StartupTimeoutError = %q", e.Error())
	}
	if (&ExecutableNotFoundError{Path: "/x/python"}).Error() != "backend interpreter not found: /x/python" {
		t.Error("ExecutableNotFoundError message")
	}
}

func TestWatchConfigRestartsOnBackendChange(t *testing.T) {
	root := project(t, true, true)
	l := &fakeLauncher{}
	cfg := testConfig(root)
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := config.Save(path, cfg); err != nil {
		t.Fatal(err)
	}

	s := newTestSupervisor(cfg, l, healthyChecker(true))
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.WatchConfig(ctx, path) }()
	time.Sleep(100 * time.Millisecond)

	// a broken file is ignored
	os.WriteFile(path, []byte("backend: ["), 0o600)
	time.Sleep(800 * time.Millisecond)
	if l.count() != 1 {
		t.Fatalf("invalid config relaunched the backend, launches=%d", l.count())
	}

	changed := *cfg
	changed.Backend.Env = map[string]string{"FEATURE": "on"}
	if err := config.Save(path, &changed); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for l.count() < 2 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if l.count() != 2 || !slices.Contains(l.last().cfg.Env, "FEATURE=on") {
		t.Errorf("expected a relaunch with the new env, launches=%d", l.count())
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("WatchConfig: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Error("WatchConfig did not return after cancel")
	}
}

func TestStopAbortsPendingStart(t *testing.T) {
	root := project(t, true, true)
	l := &fakeLauncher{}
	cfg := testConfig(root)
	cfg.Timing.StartupTimeout.Duration = 30 * time.Second
	s := newTestSupervisor(cfg, l, refusingChecker())

	started := make(chan error, 1)
	go func() { started <- s.Start(context.Background()) }()

	deadline := time.Now().Add(2 * time.Second)
	for l.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if l.count() == 0 {
		t.Fatal("backend was never launched")
	}

	begin := time.Now()
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if waited := time.Since(begin); waited > 5*time.Second {
		t.Errorf("Stop waited %s for the startup ceiling", waited)
	}

	select {
	case err := <-started:
		if !errors.Is(err, ErrStartAborted) {
			t.Errorf("Start err = %v, want ErrStartAborted", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Start did not return after Stop")
	}
	if l.last().stops.Load() != 1 {
		t.Error("the half-started process must be terminated")
	}
	if s.State() != StateStopped || s.Status().Get().Kind != status.KindUnknown {
		t.Errorf("state = %s, status = %s", s.State(), s.Status().Get())
	}
	if s.LastError() != nil {
		t.Errorf("an aborted start is not a failure, LastError = %v", s.LastError())
	}
}
