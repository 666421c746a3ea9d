// Package supervisor owns the backend process: it locates the project,
// launches the server, waits for it to become healthy, runs the periodic
// health loop, and terminates the process on stop.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/benaskins/lectern/internal/backend"
	"github.com/benaskins/lectern/internal/config"
	"github.com/benaskins/lectern/internal/driver"
	"github.com/benaskins/lectern/internal/health"
	"github.com/benaskins/lectern/internal/keychain"
	"github.com/benaskins/lectern/internal/locator"
	"github.com/benaskins/lectern/internal/logbuf"
	"github.com/benaskins/lectern/internal/metrics"
	"github.com/benaskins/lectern/internal/port"
	"github.com/benaskins/lectern/internal/status"
)

// State is the supervisor's lifecycle state.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
)

// exitOutputLines is how much backend output a ProcessExitedError carries.
const exitOutputLines = 20

// Launcher creates the process handle for a launch.
type Launcher func(driver.Config) driver.Process

// CheckerFactory returns the health checker for a backend on port.
type CheckerFactory func(port int) health.Checker

// Options configures a Supervisor. Only Config is required.
type Options struct {
	Config   *config.Config
	StateDir string // where backend.state lives; empty disables orphan tracking
	Secrets  keychain.Store
	Locator  *locator.Locator
	Launch   Launcher
	Checker  CheckerFactory
	Logger   *slog.Logger
}

// Snapshot is the externally visible state of the supervisor.
type Snapshot struct {
	State       State               `json:"state"`
	Running     bool                `json:"running"`
	Status      status.ServerStatus `json:"status"`
	PID         int                 `json:"pid,omitempty"`
	Port        int                 `json:"port,omitempty"`
	Root        string              `json:"root,omitempty"`
	RootSource  locator.Source      `json:"root_source,omitempty"`
	Uptime      string              `json:"uptime,omitempty"`
	LastError   string              `json:"last_error,omitempty"`
	HealthFails int                 `json:"health_fails,omitempty"`
	LastCheck   *time.Time          `json:"last_check,omitempty"`
}

// Supervisor manages exactly one backend process.
type Supervisor struct {
	cell    *status.Cell
	writer  *status.Writer
	secrets keychain.Store
	state   *stateFile
	launch  Launcher
	checker CheckerFactory
	base    *slog.Logger
	logger  *slog.Logger

	// lifecycle serializes Start, Stop and Restart.
	lifecycle sync.Mutex

	mu        sync.RWMutex
	cfg       *config.Config
	locator   *locator.Locator
	fixedLoc  bool
	st        State
	proc      driver.Process
	sink      *logbuf.Sink
	logFile   io.Closer
	monitor   *health.Monitor
	port      int
	root      locator.Root
	startedAt time.Time
	lastErr   error

	// abortStart cancels the readiness wait of a start in progress.
	abortStart context.CancelCauseFunc
}

// New creates a stopped supervisor and the status cell it publishes to.
func New(opts Options) *Supervisor {
	cell, writer := status.New()

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Supervisor{
		cell:    cell,
		writer:  writer,
		secrets: opts.Secrets,
		launch:  opts.Launch,
		checker: opts.Checker,
		base:    logger,
		logger:  logger.With("component", "supervisor"),
		cfg:     opts.Config,
		st:      StateStopped,
	}
	if s.cfg == nil {
		s.cfg = config.Default()
	}
	if opts.StateDir != "" {
		s.state = newStateFile(opts.StateDir)
	}
	if s.launch == nil {
		s.launch = func(c driver.Config) driver.Process { return driver.New(c) }
	}
	if s.checker == nil {
		s.checker = func(p int) health.Checker { return backend.ForPort(p) }
	}
	if opts.Locator != nil {
		s.locator = opts.Locator
		s.fixedLoc = true
	} else {
		s.locator = newLocator(s.cfg.Backend)
	}
	return s
}

func newLocator(b config.Backend) *locator.Locator {
	return locator.New(locator.Options{
		Root:          b.Root,
		ProjectName:   b.ProjectName,
		SearchParents: b.SearchParents,
		BackendDir:    b.Dir,
		EntryScript:   b.EntryScript,
	})
}

// Status returns the cell holding the current ServerStatus.
func (s *Supervisor) Status() *status.Cell { return s.cell }

// Config returns the active configuration.
func (s *Supervisor) Config() *config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Running reports whether the backend is up and has passed a health check.
func (s *Supervisor) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st == StateRunning
}

func (s *Supervisor) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st
}

// LastError returns the error of the last failed start, or of an
// unexpected exit. It is cleared by a successful start.
func (s *Supervisor) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// Port returns the port of the running backend, or 0.
func (s *Supervisor) Port() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.port
}

// Logs returns the last n lines of backend output. The output of the most
// recent process stays available after it stops.
func (s *Supervisor) Logs(n int) []string {
	s.mu.RLock()
	sink := s.sink
	s.mu.RUnlock()
	if sink == nil {
		return nil
	}
	return sink.Last(n)
}

func (s *Supervisor) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		State:   s.st,
		Running: s.st == StateRunning,
		Status:  s.cell.Get(),
		Port:    s.port,
	}
	if s.root.Path != "" {
		snap.Root = s.root.Path
		snap.RootSource = s.root.Source
	}
	if s.proc != nil {
		snap.PID = s.proc.Info().PID
	}
	if s.st == StateRunning && !s.startedAt.IsZero() {
		snap.Uptime = time.Since(s.startedAt).Truncate(time.Second).String()
	}
	if s.lastErr != nil {
		snap.LastError = s.lastErr.Error()
	}
	if s.monitor != nil {
		fails, last, _ := s.monitor.Stats()
		snap.HealthFails = fails
		if !last.IsZero() {
			snap.LastCheck = &last
		}
	}
	return snap
}

// Start launches the backend and blocks until it is healthy or startup
// fails. It is a no-op while running.
func (s *Supervisor) Start(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	return s.startLocked(ctx)
}

// Stop cancels the health loop, terminates the process and releases it.
// A start still waiting for readiness is aborted with ErrStartAborted.
// Calling Stop when already stopped does nothing.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	if s.abortStart != nil {
		s.abortStart(ErrStartAborted)
	}
	s.mu.Unlock()

	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	return s.stopLocked()
}

// Restart stops then starts the backend.
func (s *Supervisor) Restart(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	if err := s.stopLocked(); err != nil {
		s.logger.Warn("error stopping backend for restart", "error", err)
	}
	return s.startLocked(ctx)
}

func (s *Supervisor) startLocked(ctx context.Context) error {
	s.mu.Lock()
	if s.st == StateRunning {
		s.mu.Unlock()
		return nil
	}
	s.st = StateStarting
	cfg := s.cfg
	startCtx, abort := context.WithCancelCause(ctx)
	s.abortStart = abort
	s.mu.Unlock()

	s.writer.Publish(status.Checking())
	begin := time.Now()

	err := s.launchAndWait(startCtx, cfg)

	s.mu.Lock()
	s.abortStart = nil
	s.mu.Unlock()
	aborted := errors.Is(context.Cause(startCtx), ErrStartAborted)
	abort(nil)

	if err != nil && aborted {
		s.mu.Lock()
		s.st = StateStopped
		s.mu.Unlock()

		s.writer.Publish(status.Unknown())
		metrics.IncStart("aborted")
		s.logger.Info("backend start aborted by stop")
		return ErrStartAborted
	}
	if err != nil {
		s.mu.Lock()
		s.st = StateStopped
		s.lastErr = err
		s.mu.Unlock()

		s.writer.Publish(status.Unhealthy(err.Error()))
		metrics.IncStart(startResult(err))
		s.logger.Error("backend failed to start", "error", err)
		return err
	}

	metrics.IncStart("ok")
	metrics.ObserveStartDuration(time.Since(begin).Seconds())
	metrics.SetUp(true)
	return nil
}

// launchAndWait runs one start attempt. On failure everything it created is
// torn down before returning.
func (s *Supervisor) launchAndWait(ctx context.Context, cfg *config.Config) error {
	b := cfg.Backend
	t := cfg.Timing

	root, err := s.currentLocator().Locate()
	if err != nil {
		return err
	}
	backendDir := root.BackendDir(b.Dir)

	script := filepath.Join(backendDir, b.EntryScript)
	if info, err := os.Stat(script); err != nil || info.IsDir() {
		return &ServerScriptNotFoundError{Path: script}
	}
	interp, err := resolveInterpreter(b.Interpreter, backendDir)
	if err != nil {
		return err
	}

	s.reapOrphan()

	p, err := port.Resolve(cfg.PortValue())
	if err != nil {
		return err
	}

	env, err := buildEnv(b, s.secrets)
	if err != nil {
		return fmt.Errorf("resolving backend secrets: %w", err)
	}

	sinkOpts := []logbuf.Option{logbuf.WithLogger(s.base.With("component", "backend"), slog.LevelDebug)}
	var logFile io.WriteCloser
	if b.LogFile != "" {
		logFile = logbuf.RotatingFile(b.LogFile)
		sinkOpts = append(sinkOpts, logbuf.WithFile(logFile))
	}
	sink := logbuf.New(logbuf.DefaultLines, sinkOpts...)

	args := launchArgs(b, p)
	proc := s.launch(driver.Config{
		Command:    interp,
		Args:       args,
		Env:        env,
		WorkingDir: backendDir,
		Sink:       sink,
	})

	s.mu.Lock()
	s.root = root
	s.port = p
	s.sink = sink
	s.mu.Unlock()

	s.logger.Info("starting backend", "root", root.Path, "source", root.Source, "port", p,
		"command", interp+" "+strings.Join(args, " "))

	if err := proc.Start(ctx); err != nil {
		closeQuietly(logFile)
		return fmt.Errorf("launching backend: %w", err)
	}
	pid := proc.Info().PID

	if s.state != nil {
		rec := Record{PID: pid, Port: p, Root: root.Path, StartedAt: time.Now(), Command: interp}
		if err := s.state.save(rec); err != nil {
			s.logger.Warn("failed to persist backend state", "error", err)
		}
	}

	monitor := health.NewMonitor(health.Config{
		Interval: t.HealthInterval.Duration,
		Timeout:  t.HealthTimeout.Duration,
	}, s.checker(p), s.writer, s.base)

	// Abort the readiness wait as soon as the process exits.
	waitCtx, cancelWait := context.WithCancel(ctx)
	go func() {
		select {
		case <-proc.Exited():
			cancelWait()
		case <-waitCtx.Done():
		}
	}()
	healthy, err := monitor.WaitHealthy(waitCtx, t.StartupPollInterval.Duration, t.StartupTimeout.Duration)
	cancelWait()

	if err != nil {
		select {
		case <-proc.Exited():
			code, _ := proc.Wait()
			err = &ProcessExitedError{ExitCode: code, Output: sink.Last(exitOutputLines)}
		default:
			var ce *health.CheckError
			if errors.As(err, &ce) {
				err = &StartupTimeoutError{Timeout: t.StartupTimeout.Duration, Reason: ce.Reason}
			}
			if stopErr := proc.Stop(context.Background(), t.StopTimeout.Duration); stopErr != nil {
				s.logger.Warn("error stopping backend after failed start", "error", stopErr)
			}
		}
		s.clearState()
		closeQuietly(logFile)
		return err
	}

	s.writer.Publish(healthy)
	s.mu.Lock()
	s.st = StateRunning
	s.proc = proc
	s.logFile = logFile
	s.monitor = monitor
	s.startedAt = time.Now()
	s.lastErr = nil
	s.mu.Unlock()

	s.logger.Info("backend ready", "pid", pid, "port", p, "summarization_enabled", healthy.SummarizationEnabled)

	monitor.StartLoop(context.WithoutCancel(ctx))
	go s.watchExit(proc)
	return nil
}

// watchExit records an unexpected exit of a running backend.
func (s *Supervisor) watchExit(proc driver.Process) {
	<-proc.Exited()

	s.mu.Lock()
	if s.proc != proc || s.st != StateRunning {
		s.mu.Unlock()
		return
	}
	code, _ := proc.Wait()
	err := &ProcessExitedError{ExitCode: code, Output: s.sink.Last(exitOutputLines)}
	monitor := s.monitor
	s.st = StateStopped
	s.proc = nil
	s.monitor = nil
	s.lastErr = err
	logFile := s.logFile
	s.logFile = nil
	s.mu.Unlock()

	if monitor != nil {
		monitor.Stop()
	}
	s.writer.Publish(status.Unhealthy(err.Error()))
	s.clearState()
	closeQuietly(logFile)
	metrics.SetUp(false)
	s.logger.Error("backend exited unexpectedly", "exit_code", code)
}

func (s *Supervisor) stopLocked() error {
	s.mu.Lock()
	proc := s.proc
	monitor := s.monitor
	if proc == nil && s.st == StateStopped {
		s.mu.Unlock()
		return nil
	}
	s.st = StateStopping
	stopTimeout := s.cfg.Timing.StopTimeout.Duration
	s.mu.Unlock()

	// The health loop goes first so no check races the dying process.
	if monitor != nil {
		monitor.Stop()
	}

	var err error
	if proc != nil {
		s.logger.Info("stopping backend", "pid", proc.Info().PID)
		if err = proc.Stop(context.Background(), stopTimeout); err != nil {
			s.logger.Warn("error stopping backend", "error", err)
		}
	}
	s.clearState()

	s.mu.Lock()
	logFile := s.logFile
	s.logFile = nil
	s.proc = nil
	s.monitor = nil
	s.st = StateStopped
	s.startedAt = time.Time{}
	s.mu.Unlock()

	closeQuietly(logFile)
	s.writer.Publish(status.Unknown())
	metrics.IncStop()
	metrics.SetUp(false)
	return err
}

// reapOrphan terminates a backend left running by a previous client that
// did not shut down cleanly.
func (s *Supervisor) reapOrphan() {
	if s.state == nil {
		return
	}
	rec, err := s.state.load()
	if err != nil {
		s.logger.Warn("ignoring unreadable state file", "error", err)
		s.clearState()
		return
	}
	if rec == nil {
		return
	}
	if driver.Matches(rec.PID, rec.Command) {
		s.logger.Warn("terminating orphaned backend", "pid", rec.PID, "port", rec.Port)
		if err := driver.Terminate(rec.PID, s.Config().Timing.StopTimeout.Duration); err != nil {
			s.logger.Warn("failed to terminate orphaned backend", "pid", rec.PID, "error", err)
		}
	}
	s.clearState()
}

func (s *Supervisor) clearState() {
	if s.state == nil {
		return
	}
	if err := s.state.clear(); err != nil {
		s.logger.Warn("failed to clear state file", "error", err)
	}
}

func (s *Supervisor) currentLocator() *locator.Locator {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.locator
}

// Reconfigure swaps in cfg and restarts a running backend when a setting
// that affects the process changed. It reports whether a restart happened.
func (s *Supervisor) Reconfigure(ctx context.Context, cfg *config.Config) (bool, error) {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	changed := backendChanged(s.cfg, cfg)
	s.cfg = cfg
	if !s.fixedLoc {
		s.locator = newLocator(cfg.Backend)
	}
	running := s.st == StateRunning
	s.mu.Unlock()

	if !changed || !running {
		return false, nil
	}
	s.logger.Info("backend configuration changed, restarting")
	if err := s.stopLocked(); err != nil {
		s.logger.Warn("error stopping backend for reconfigure", "error", err)
	}
	return true, s.startLocked(ctx)
}

func startResult(err error) string {
	var (
		exe  *ExecutableNotFoundError
		scr  *ServerScriptNotFoundError
		tmo  *StartupTimeoutError
		exit *ProcessExitedError
	)
	switch {
	case errors.Is(err, ErrProjectNotFound):
		return "project_not_found"
	case errors.As(err, &exe):
		return "executable_not_found"
	case errors.As(err, &scr):
		return "script_not_found"
	case errors.As(err, &tmo):
		return "timeout"
	case errors.As(err, &exit):
		return "exited"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "error"
	}
}

func closeQuietly(c io.Closer) {
	if c != nil {
		c.Close()
	}
}
