// Package articles drives the backend's long-running article jobs.
//
// Summaries, related links and authenticated content are produced on the
// server after a submit request returns. Each operation here submits once
// and then polls the article until the field it is waiting for appears.
package articles

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/benaskins/lectern/internal/backend"
	"github.com/benaskins/lectern/internal/poller"
	"github.com/benaskins/lectern/internal/status"
)

var (
	// ErrServerUnavailable is returned when the backend is not healthy.
	ErrServerUnavailable = errors.New("backend server is not available")
	// ErrSummarizationDisabled is returned when the backend reports that
	// summarization is turned off.
	ErrSummarizationDisabled = errors.New("summarization is disabled on the backend")
)

// Gateway is the subset of the backend client the service uses.
type Gateway interface {
	Article(ctx context.Context, id int64) (*backend.Article, error)
	Summarize(ctx context.Context, id int64) error
	FindRelated(ctx context.Context, id int64) error
	FetchContent(ctx context.Context, id int64) error
	Chat(ctx context.Context, id int64, message string) (*backend.ChatReply, error)
}

// Completion predicates, one per job kind.
func SummaryReady(a *backend.Article) bool { return a != nil && a.FullSummary != "" }

func RelatedReady(a *backend.Article) bool {
	return a != nil && (len(a.RelatedLinks) > 0 || a.RelatedLinksError != "")
}

func ContentReady(a *backend.Article) bool {
	return a != nil && (a.Content != "" || a.ContentError != "")
}

// Result is the outcome of a job. Article is the freshest snapshot; when
// TimedOut is set the job may still finish on the server later.
type Result = poller.Result[*backend.Article]

// Service runs article jobs, sharing one poll per (kind, article).
type Service struct {
	gw      Gateway
	status  *status.Cell
	opts    poller.Options
	optsFn  func() poller.Options
	logger  *slog.Logger
	jobs    poller.Group[jobKey, Result]
	focus   poller.Focus[int64]
	onTick  func(kind string, id int64, attempt int)
	limiter *rate.Limiter
}

type jobKey struct {
	kind string
	id   int64
}

// Option configures a Service.
type Option func(*Service)

// WithPollOptions sets interval and attempt bounds for every job.
func WithPollOptions(o poller.Options) Option {
	return func(s *Service) { s.opts = o }
}

// WithPollSettings reads interval and attempt bounds when each job starts,
// so a reloaded configuration applies to the next job.
func WithPollSettings(fn func() poller.Options) Option {
	return func(s *Service) { s.optsFn = fn }
}

// WithLimiter shares a fetch rate limit across all jobs.
func WithLimiter(l *rate.Limiter) Option {
	return func(s *Service) { s.limiter = l }
}

// WithProgress reports every poll attempt.
func WithProgress(fn func(kind string, id int64, attempt int)) Option {
	return func(s *Service) { s.onTick = fn }
}

// New creates a Service. cell may be nil to skip availability checks.
func New(gw Gateway, cell *status.Cell, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		gw:     gw,
		status: cell,
		opts:   poller.Defaults(),
		logger: logger.With("component", "articles"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Summarize requests a full summary and waits for it.
func (s *Service) Summarize(ctx context.Context, id int64) (Result, error) {
	if err := s.requireSummarization(); err != nil {
		return Result{}, err
	}
	return s.run(ctx, "summary", id, s.gw.Summarize, SummaryReady)
}

// FindRelated requests related-link discovery and waits for links or an
// error message.
func (s *Service) FindRelated(ctx context.Context, id int64) (Result, error) {
	if err := s.requireSummarization(); err != nil {
		return Result{}, err
	}
	return s.run(ctx, "related", id, s.gw.FindRelated, RelatedReady)
}

// FetchContent requests an authenticated fetch of the article body and waits
// for the content or an error message.
func (s *Service) FetchContent(ctx context.Context, id int64) (Result, error) {
	if err := s.requireHealthy(); err != nil {
		return Result{}, err
	}
	return s.run(ctx, "content", id, s.gw.FetchContent, ContentReady)
}

// Focus scopes ctx to article id: the returned context is cancelled as soon
// as another article is focused, so jobs for an article the reader left stop
// polling.
func (s *Service) Focus(ctx context.Context, id int64) context.Context {
	if prev, ok := s.focus.Current(); ok && prev != id {
		s.logger.Debug("focus moved", "from", prev, "to", id)
	}
	return s.focus.Enter(ctx, id)
}

// Chat sends a message about an article. The backend answers synchronously.
func (s *Service) Chat(ctx context.Context, id int64, message string) (*backend.ChatReply, error) {
	if err := s.requireSummarization(); err != nil {
		return nil, err
	}
	return s.gw.Chat(ctx, id, message)
}

func (s *Service) requireHealthy() error {
	if s.status == nil {
		return nil
	}
	if !s.status.Get().IsHealthy() {
		return ErrServerUnavailable
	}
	return nil
}

func (s *Service) requireSummarization() error {
	if err := s.requireHealthy(); err != nil {
		return err
	}
	if s.status != nil && !s.status.Get().SummarizationEnabled {
		return ErrSummarizationDisabled
	}
	return nil
}

// run submits once, then polls. Submit errors are returned unchanged;
// errors while polling are absorbed by the poller.
func (s *Service) run(ctx context.Context, kind string, id int64, submit func(context.Context, int64) error, done func(*backend.Article) bool) (Result, error) {
	res, shared, err := s.jobs.Do(ctx, jobKey{kind, id}, func(ctx context.Context) (Result, error) {
		if err := submit(ctx, id); err != nil {
			return Result{}, err
		}

		opts := s.opts
		if s.optsFn != nil {
			opts = s.optsFn()
		}
		opts.Kind = kind
		opts.Logger = s.logger
		if s.limiter != nil {
			opts.Limiter = s.limiter
		}
		if s.onTick != nil {
			opts.OnAttempt = func(attempt int, _ time.Duration) { s.onTick(kind, id, attempt) }
		}
		return poller.Poll[int64, *backend.Article](ctx, id, s.gw.Article, done, opts)
	})
	if shared {
		s.logger.Debug("joined in-flight job", "kind", kind, "article", id)
	}
	return res, err
}
