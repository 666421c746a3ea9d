package poller

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Job is a poll running in the background.
type Job[R any] struct {
	id       string
	started  time.Time
	cancel   context.CancelFunc
	done     chan struct{}
	attempts atomic.Int64

	mu     sync.Mutex
	result Result[R]
	err    error
	ended  time.Time
}

// Start runs Poll in a goroutine. The job stops when ctx is cancelled or
// Cancel is called.
func Start[K comparable, R any](ctx context.Context, id K, fetch FetchFunc[K, R], isComplete func(R) bool, opts Options) *Job[R] {
	ctx, cancel := context.WithCancel(ctx)
	j := &Job[R]{
		id:      uuid.NewString(),
		started: time.Now(),
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	go func() {
		defer cancel()
		res, err := run(ctx, j.id, id, fetch, isComplete, opts, func() { j.attempts.Add(1) })

		j.mu.Lock()
		j.result, j.err = res, err
		j.ended = time.Now()
		j.mu.Unlock()
		close(j.done)
	}()
	return j
}

// ID returns the job's unique id.
func (j *Job[R]) ID() string { return j.id }

// Cancel stops the job. It does not block and may be called repeatedly.
func (j *Job[R]) Cancel() { j.cancel() }

// Done is closed when the job has finished.
func (j *Job[R]) Done() <-chan struct{} { return j.done }

// Result blocks until the job finishes and returns its outcome.
func (j *Job[R]) Result() (Result[R], error) {
	<-j.done
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.result, j.err
}

// Attempts returns the number of fetches made so far.
func (j *Job[R]) Attempts() int { return int(j.attempts.Load()) }

// Elapsed returns the time since the job started, or its total run time
// once finished.
func (j *Job[R]) Elapsed() time.Duration {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.ended.IsZero() {
		return j.ended.Sub(j.started)
	}
	return time.Since(j.started)
}
