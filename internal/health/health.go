package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benaskins/lectern/internal/backend"
	"github.com/benaskins/lectern/internal/metrics"
	"github.com/benaskins/lectern/internal/status"
)

// ReasonReportedUnhealthy is used for negative or malformed health responses.
const ReasonReportedUnhealthy = "server reported unhealthy"

// Checker issues one health request to the backend.
type Checker interface {
	Health(ctx context.Context) (*backend.HealthResponse, error)
}

// CheckError is returned by WaitHealthy when the ceiling elapses. Reason is
// the last unhealthy reason observed.
type CheckError struct {
	Reason  string
	Timeout time.Duration
}

func (e *CheckError) Error() string {
	return fmt.Sprintf("backend not healthy after %s: %s", e.Timeout, e.Reason)
}

// Config holds health check timing.
type Config struct {
	Interval time.Duration // time between loop checks
	Timeout  time.Duration // max time per check
}

// Monitor runs periodic health checks and publishes the result.
type Monitor struct {
	cfg     Config
	checker Checker
	writer  *status.Writer
	logger  *slog.Logger

	mu               sync.Mutex
	gen              uint64
	cancel           context.CancelFunc
	done             chan struct{}
	consecutiveFails int
	lastCheck        time.Time
	checks           int
}

// NewMonitor creates a monitor that publishes through w.
func NewMonitor(cfg Config, checker Checker, w *status.Writer, logger *slog.Logger) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		cfg:     cfg,
		checker: checker,
		writer:  w,
		logger:  logger.With("component", "health"),
	}
}

// CheckOnce issues a single health request and maps the outcome to a status.
// It never returns an error; every failure becomes Unhealthy.
func (m *Monitor) CheckOnce(ctx context.Context) status.ServerStatus {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	start := time.Now()
	s := Classify(m.checker.Health(ctx))
	metrics.ObserveHealthCheck(string(s.Kind), time.Since(start).Seconds())
	return s
}

// Classify maps a health response and error to a ServerStatus.
func Classify(resp *backend.HealthResponse, err error) status.ServerStatus {
	if err != nil {
		var te *backend.TransportError
		if errors.As(err, &te) {
			return status.Unhealthy(te.Err.Error())
		}
		return status.Unhealthy(ReasonReportedUnhealthy)
	}
	if resp == nil || resp.IsHealthy == nil || !*resp.IsHealthy {
		return status.Unhealthy(ReasonReportedUnhealthy)
	}
	return status.Healthy(resp.SummarizationEnabled)
}

// StartLoop checks immediately, publishes, then repeats every interval until
// Stop or ctx is cancelled. A loop already running is cancelled first.
func (m *Monitor) StartLoop(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	m.mu.Lock()
	if m.cancel != nil {
		m.cancel()
	}
	m.gen++
	gen := m.gen
	m.cancel = cancel
	m.done = done
	m.consecutiveFails = 0
	m.mu.Unlock()

	go m.run(ctx, gen, done)
}

// Stop cancels the loop without waiting for it. After Stop returns no new
// check is started, and a check already in flight is not published.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.gen++
}

// Wait blocks until the most recently started loop has exited.
func (m *Monitor) Wait() {
	m.mu.Lock()
	done := m.done
	m.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Running reports whether a loop is active.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancel != nil
}

// Stats returns the consecutive failure count, the time of the last
// published check and the number of published checks.
func (m *Monitor) Stats() (consecutiveFails int, lastCheck time.Time, checks int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.consecutiveFails, m.lastCheck, m.checks
}

func (m *Monitor) run(ctx context.Context, gen uint64, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	// Run first check immediately
	if !m.check(ctx, gen) {
		return
	}

	for {
		select {
		case <-ticker.C:
			if !m.check(ctx, gen) {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// check reports false when the loop has been superseded or stopped.
func (m *Monitor) check(ctx context.Context, gen uint64) bool {
	m.mu.Lock()
	current := m.gen == gen && ctx.Err() == nil
	m.mu.Unlock()
	if !current {
		return false
	}

	s := m.CheckOnce(ctx)

	m.mu.Lock()
	if m.gen != gen || ctx.Err() != nil {
		// Don't record results from a cancelled loop
		m.mu.Unlock()
		return false
	}
	prev := m.writer.Cell().Get()
	m.writer.Publish(s)
	m.lastCheck = time.Now()
	m.checks++
	if s.IsHealthy() {
		m.consecutiveFails = 0
	} else {
		m.consecutiveFails++
	}
	fails := m.consecutiveFails
	m.mu.Unlock()

	switch {
	case !s.IsHealthy():
		m.logger.Warn("health check failed", "reason", s.Reason, "consecutive_fails", fails)
	case !prev.IsHealthy():
		m.logger.Info("backend healthy", "summarization_enabled", s.SummarizationEnabled)
	case prev != s:
		m.logger.Info("backend capabilities changed", "summarization_enabled", s.SummarizationEnabled)
	}
	return true
}

// WaitHealthy polls CheckOnce every interval until a Healthy result, the
// ceiling elapses (*CheckError), or ctx is cancelled (ctx.Err()). It does
// not publish.
func (m *Monitor) WaitHealthy(ctx context.Context, interval, ceiling time.Duration) (status.ServerStatus, error) {
	deadline := time.NewTimer(ceiling)
	defer deadline.Stop()

	checkCtx, cancel := context.WithTimeout(ctx, ceiling)
	defer cancel()

	last := status.Unhealthy("no health check completed")
	for {
		s := m.CheckOnce(checkCtx)
		if s.IsHealthy() {
			return s, nil
		}
		if ctx.Err() == nil && checkCtx.Err() == nil {
			last = s
		}
		m.logger.Debug("waiting for backend", "reason", s.Reason)

		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-deadline.C:
			return last, &CheckError{Reason: last.Reason, Timeout: ceiling}
		case <-time.After(interval):
		}
	}
}
