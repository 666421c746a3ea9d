package articles

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benaskins/lectern/internal/backend"
	"github.com/benaskins/lectern/internal/poller"
	"github.com/benaskins/lectern/internal/status"
)

// fakeGateway builds articles from the per-id fetch count.
type fakeGateway struct {
	mu        sync.Mutex
	fetches   map[int64]int
	submits   atomic.Int32
	submitErr error
	fetchErr  error
	article   func(id int64, n int) *backend.Article
}

func newFakeGateway(article func(id int64, n int) *backend.Article) *fakeGateway {
	return &fakeGateway{fetches: map[int64]int{}, article: article}
}

func (f *fakeGateway) Article(ctx context.Context, id int64) (*backend.Article, error) {
	f.mu.Lock()
	f.fetches[id]++
	n := f.fetches[id]
	f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.article(id, n), nil
}

func (f *fakeGateway) submit(ctx context.Context, id int64) error {
	f.submits.Add(1)
	return f.submitErr
}

func (f *fakeGateway) Summarize(ctx context.Context, id int64) error    { return f.submit(ctx, id) }
func (f *fakeGateway) FindRelated(ctx context.Context, id int64) error  { return f.submit(ctx, id) }
func (f *fakeGateway) FetchContent(ctx context.Context, id int64) error { return f.submit(ctx, id) }

func (f *fakeGateway) Chat(ctx context.Context, id int64, message string) (*backend.ChatReply, error) {
	return &backend.ChatReply{Reply: "re: " + message}, nil
}

func (f *fakeGateway) fetchCount(id int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches[id]
}

func healthyCell(summarization bool) *status.Cell {
	cell, w := status.New()
	w.Publish(status.Healthy(summarization))
	return cell
}

func fast() Option {
	return WithPollOptions(poller.Options{Interval: time.Millisecond, MaxAttempts: 10})
}

func TestPredicates(t *testing.T) {
	if SummaryReady(&backend.Article{}) || !SummaryReady(&backend.Article{FullSummary: "x"}) {
		t.Error("SummaryReady")
	}
	if RelatedReady(&backend.Article{}) ||
		!RelatedReady(&backend.Article{RelatedLinks: []backend.RelatedLink{{URL: "u"}}}) ||
		!RelatedReady(&backend.Article{RelatedLinksError: "search failed"}) {
		t.Error("RelatedReady")
	}
	if ContentReady(&backend.Article{}) || !ContentReady(&backend.Article{ContentError: "403"}) {
		t.Error("ContentReady")
	}
	if SummaryReady(nil) || RelatedReady(nil) || ContentReady(nil) {
		t.Error("nil article must not be complete")
	}
}

func TestSummarize(t *testing.T) {
	gw := newFakeGateway(func(id int64, n int) *backend.Article {
		a := &backend.Article{ID: id}
		if n >= 3 {
			a.FullSummary = "The gist."
		}
		return a
	})
	svc := New(gw, healthyCell(true), nil, fast())

	res, err := svc.Summarize(context.Background(), 11)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if !res.Complete || res.Value.FullSummary != "The gist." {
		t.Errorf("got %+v", res)
	}
	if gw.submits.Load() != 1 || gw.fetchCount(11) != 3 {
		t.Errorf("submits=%d fetches=%d", gw.submits.Load(), gw.fetchCount(11))
	}
}

func TestSubmitErrorPropagates(t *testing.T) {
	boom := &backend.StatusError{Op: "summarize", Code: 500}
	gw := newFakeGateway(func(id int64, n int) *backend.Article { return &backend.Article{ID: id} })
	gw.submitErr = boom
	svc := New(gw, healthyCell(true), nil, fast())

	_, err := svc.Summarize(context.Background(), 1)
	if err != boom {
		t.Fatalf("expected the submit error unchanged, got %v", err)
	}
	if gw.fetchCount(1) != 0 {
		t.Error("no polling should happen after a failed submit")
	}
}

func TestFindRelatedTimesOutWithSnapshot(t *testing.T) {
	gw := newFakeGateway(func(id int64, n int) *backend.Article {
		return &backend.Article{ID: id, Title: "still working"}
	})
	svc := New(gw, healthyCell(true), nil,
		WithPollOptions(poller.Options{Interval: 0, MaxAttempts: 5}))

	res, err := svc.FindRelated(context.Background(), 4)
	if err != nil {
		t.Fatalf("timeout must not be an error: %v", err)
	}
	if !res.TimedOut || res.Value == nil || res.Value.Title != "still working" {
		t.Errorf("got %+v", res)
	}
	if gw.fetchCount(4) != 6 {
		t.Errorf("fetches = %d, want 6", gw.fetchCount(4))
	}
}

func TestFetchContentErrorField(t *testing.T) {
	gw := newFakeGateway(func(id int64, n int) *backend.Article {
		return &backend.Article{ID: id, ContentError: "paywalled"}
	})
	// content fetch only needs a healthy server
	svc := New(gw, healthyCell(false), nil, fast())

	res, err := svc.FetchContent(context.Background(), 2)
	if err != nil {
		t.Fatalf("FetchContent: %v", err)
	}
	if !res.Complete || res.Value.ContentError != "paywalled" {
		t.Errorf("got %+v", res)
	}
}

func TestAvailabilityGates(t *testing.T) {
	gw := newFakeGateway(func(id int64, n int) *backend.Article { return &backend.Article{} })

	cell, _ := status.New()
	svc := New(gw, cell, nil, fast())
	if _, err := svc.Summarize(context.Background(), 1); !errors.Is(err, ErrServerUnavailable) {
		t.Errorf("unknown status: %v", err)
	}

	svc = New(gw, healthyCell(false), nil, fast())
	if _, err := svc.Summarize(context.Background(), 1); !errors.Is(err, ErrSummarizationDisabled) {
		t.Errorf("summarization disabled: %v", err)
	}
	if _, err := svc.Chat(context.Background(), 1, "hi"); !errors.Is(err, ErrSummarizationDisabled) {
		t.Errorf("chat with summarization disabled: %v", err)
	}
	if gw.submits.Load() != 0 {
		t.Error("gated calls must not submit")
	}
}

func TestConcurrentSummarizeSharesOneJob(t *testing.T) {
	gw := newFakeGateway(func(id int64, n int) *backend.Article {
		a := &backend.Article{ID: id}
		if n >= 5 {
			a.FullSummary = "shared"
		}
		return a
	})
	svc := New(gw, healthyCell(true), nil,
		WithPollOptions(poller.Options{Interval: 10 * time.Millisecond, MaxAttempts: 20}))

	var wg sync.WaitGroup
	for range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.Summarize(context.Background(), 8)
			if err != nil || res.Value.FullSummary != "shared" {
				t.Errorf("got %+v, %v", res, err)
			}
		}()
	}
	wg.Wait()

	if gw.submits.Load() != 1 {
		t.Errorf("expected one submit, got %d", gw.submits.Load())
	}
	if gw.fetchCount(8) != 5 {
		t.Errorf("expected one poll of 5 fetches, got %d", gw.fetchCount(8))
	}
}

func TestProgressCallback(t *testing.T) {
	gw := newFakeGateway(func(id int64, n int) *backend.Article {
		a := &backend.Article{ID: id}
		if n >= 2 {
			a.RelatedLinks = []backend.RelatedLink{{URL: "https://example.com"}}
		}
		return a
	})
	var ticks atomic.Int32
	svc := New(gw, healthyCell(true), nil, fast(), WithProgress(func(kind string, id int64, attempt int) {
		if kind != "related" || id != 3 {
			t.Errorf("unexpected tick %s/%d", kind, id)
		}
		ticks.Add(1)
	}))

	if _, err := svc.FindRelated(context.Background(), 3); err != nil {
		t.Fatal(err)
	}
	if ticks.Load() != 2 {
		t.Errorf("ticks = %d", ticks.Load())
	}
}

func TestCancelStopsPolling(t *testing.T) {
	gw := newFakeGateway(func(id int64, n int) *backend.Article { return &backend.Article{ID: id} })
	svc := New(gw, healthyCell(true), nil,
		WithPollOptions(poller.Options{Interval: time.Hour, MaxAttempts: 60}))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := svc.Summarize(ctx, 5)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestChat(t *testing.T) {
	gw := newFakeGateway(nil)
	svc := New(gw, nil, nil)

	reply, err := svc.Chat(context.Background(), 1, "why?")
	if err != nil || reply.Reply != "re: why?" {
		t.Errorf("Chat = %+v, %v", reply, err)
	}
}

func TestFocusMoveCancelsJob(t *testing.T) {
	gw := newFakeGateway(func(id int64, n int) *backend.Article { return &backend.Article{ID: id} })
	svc := New(gw, healthyCell(true), nil,
		WithPollOptions(poller.Options{Interval: 10 * time.Millisecond, MaxAttempts: 1000}))

	errc := make(chan error, 1)
	go func() {
		_, err := svc.Summarize(svc.Focus(context.Background(), 1), 1)
		errc <- err
	}()
	time.Sleep(50 * time.Millisecond)

	// refocusing the same article keeps the job alive
	svc.Focus(context.Background(), 1)
	select {
	case err := <-errc:
		t.Fatalf("job ended early: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	svc.Focus(context.Background(), 2)
	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("job kept polling after focus moved")
	}
}

func TestPollSettingsReadPerJob(t *testing.T) {
	gw := newFakeGateway(func(id int64, n int) *backend.Article { return &backend.Article{ID: id} })
	var attempts atomic.Int32
	attempts.Store(2)
	svc := New(gw, healthyCell(true), nil, WithPollSettings(func() poller.Options {
		return poller.Options{MaxAttempts: int(attempts.Load())}
	}))

	if res, err := svc.Summarize(context.Background(), 1); err != nil || !res.TimedOut {
		t.Fatalf("first job: %+v, %v", res, err)
	}
	// a config reload between jobs
	attempts.Store(4)
	if res, err := svc.Summarize(context.Background(), 2); err != nil || !res.TimedOut {
		t.Fatalf("second job: %+v, %v", res, err)
	}

	// each job polls MaxAttempts times plus one final fetch
	if gw.fetchCount(1) != 3 || gw.fetchCount(2) != 5 {
		t.Errorf("fetches = %d, %d; want 3, 5", gw.fetchCount(1), gw.fetchCount(2))
	}
}
