// Package poller waits for server-side jobs that complete asynchronously.
//
// The backend has no job status endpoint. A job is submitted, then the
// resource it writes into is re-fetched until a client-side predicate over
// its fields holds or the attempt budget runs out. Running out is not an
// error: the caller gets the freshest snapshot with TimedOut set.
package poller

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/benaskins/lectern/internal/metrics"
)

const (
	DefaultInterval    = time.Second
	DefaultMaxAttempts = 60
)

// FetchFunc re-reads the resource identified by id.
type FetchFunc[K comparable, R any] func(ctx context.Context, id K) (R, error)

// Options tune a single poll. Interval is used as given, so zero means no
// delay between attempts; use Defaults for the standard timing.
type Options struct {
	Interval    time.Duration
	MaxAttempts int // <= 0 means DefaultMaxAttempts

	// Kind labels logs and metrics, e.g. "summary" or "related".
	Kind string

	// Limiter, when set, bounds the aggregate fetch rate of every poll
	// sharing it.
	Limiter *rate.Limiter

	// OnAttempt is called after every fetch, including the final one.
	OnAttempt func(attempt int, elapsed time.Duration)

	Logger *slog.Logger
}

// Defaults returns options with a 1s interval and 60 attempts.
func Defaults() Options {
	return Options{Interval: DefaultInterval, MaxAttempts: DefaultMaxAttempts}
}

// Result is the outcome of a poll that was not cancelled.
type Result[R any] struct {
	JobID    string
	Value    R
	Complete bool // isComplete held for Value
	TimedOut bool // attempts exhausted; Value is the best-effort snapshot
	Attempts int  // fetch calls made, including the final one
	Elapsed  time.Duration
}

// Poll repeats up to MaxAttempts times: sleep Interval, then fetch. It
// returns as soon as isComplete holds. After the last attempt it fetches once
// more and returns that value with TimedOut set. Fetch errors while waiting
// are logged and retried on the next attempt; an error is returned only if
// ctx is cancelled, or if no fetch ever succeeded.
func Poll[K comparable, R any](ctx context.Context, id K, fetch FetchFunc[K, R], isComplete func(R) bool, opts Options) (Result[R], error) {
	return run(ctx, uuid.NewString(), id, fetch, isComplete, opts, nil)
}

func run[K comparable, R any](ctx context.Context, jobID string, id K, fetch FetchFunc[K, R], isComplete func(R) bool, opts Options, onFetch func()) (Result[R], error) {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Kind == "" {
		opts.Kind = "job"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "poller", "kind", opts.Kind, "job", jobID, "resource", id)

	res := Result[R]{JobID: jobID}
	start := time.Now()
	var last R
	var haveLast bool
	var lastErr error

	metrics.AddActivePolls(opts.Kind, 1)
	defer metrics.AddActivePolls(opts.Kind, -1)

	doFetch := func() (R, error) {
		if opts.Limiter != nil {
			if err := opts.Limiter.Wait(ctx); err != nil {
				var zero R
				return zero, err
			}
		}
		v, err := fetch(ctx, id)
		res.Attempts++
		res.Elapsed = time.Since(start)
		metrics.IncPollAttempt(opts.Kind)
		if onFetch != nil {
			onFetch()
		}
		if opts.OnAttempt != nil {
			opts.OnAttempt(res.Attempts, res.Elapsed)
		}
		return v, err
	}

	cancelled := func() (Result[R], error) {
		res.Elapsed = time.Since(start)
		metrics.IncPollJob(opts.Kind, "cancelled")
		logger.Debug("poll cancelled", "attempts", res.Attempts)
		return res, ctx.Err()
	}

	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return cancelled()
		}
		if err := sleep(ctx, opts.Interval); err != nil {
			return cancelled()
		}

		v, err := doFetch()
		if err != nil {
			if ctx.Err() != nil {
				return cancelled()
			}
			lastErr = err
			logger.Warn("poll fetch failed, retrying", "attempt", attempt, "error", err)
			continue
		}
		last, haveLast = v, true
		if isComplete(v) {
			res.Value = v
			res.Complete = true
			metrics.IncPollJob(opts.Kind, "complete")
			logger.Debug("poll complete", "attempts", res.Attempts, "elapsed", res.Elapsed)
			return res, nil
		}
	}

	if ctx.Err() != nil {
		return cancelled()
	}

	// Final best-effort fetch so the caller ends with the freshest snapshot.
	res.TimedOut = true
	v, err := doFetch()
	switch {
	case err == nil:
		res.Value = v
		res.Complete = isComplete(v)
	case ctx.Err() != nil:
		return cancelled()
	case haveLast:
		logger.Warn("final poll fetch failed, using last snapshot", "error", err)
		res.Value = last
	default:
		metrics.IncPollJob(opts.Kind, "error")
		logger.Warn("poll gave up without a snapshot", "attempts", res.Attempts, "error", err, "previous_error", lastErr)
		return res, err
	}

	metrics.IncPollJob(opts.Kind, "timed_out")
	logger.Info("poll attempts exhausted", "attempts", res.Attempts, "elapsed", res.Elapsed, "complete", res.Complete)
	return res, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
