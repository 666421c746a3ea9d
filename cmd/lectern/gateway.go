package main

import (
	"context"
	"sync"

	"github.com/benaskins/lectern/internal/backend"
	"github.com/benaskins/lectern/internal/config"
	"github.com/benaskins/lectern/internal/keychain"
	"github.com/benaskins/lectern/internal/poller"
)

// portGateway is a backend client that follows the supervised backend's
// port, which may change across restarts when ports are allocated.
type portGateway struct {
	port func() int
	opts []backend.Option

	mu     sync.Mutex
	client *backend.Client
	at     int
}

func newPortGateway(port func() int, opts ...backend.Option) *portGateway {
	return &portGateway{port: port, opts: opts}
}

func (g *portGateway) current() *backend.Client {
	p := g.port()
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.client == nil || g.at != p {
		g.client = backend.ForPort(p, g.opts...)
		g.at = p
	}
	return g.client
}

func (g *portGateway) Article(ctx context.Context, id int64) (*backend.Article, error) {
	return g.current().Article(ctx, id)
}

func (g *portGateway) Summarize(ctx context.Context, id int64) error {
	return g.current().Summarize(ctx, id)
}

func (g *portGateway) FindRelated(ctx context.Context, id int64) error {
	return g.current().FindRelated(ctx, id)
}

func (g *portGateway) FetchContent(ctx context.Context, id int64) error {
	return g.current().FetchContent(ctx, id)
}

func (g *portGateway) Chat(ctx context.Context, id int64, message string) (*backend.ChatReply, error) {
	return g.current().Chat(ctx, id, message)
}

// clientOptions returns the backend client options the configuration asks
// for: the request rate limit and, when configured, a keychain-backed token.
func clientOptions(cfg *config.Config, secrets keychain.Store) []backend.Option {
	opts := []backend.Option{backend.WithRateLimit(cfg.Timing.RequestRate)}
	if cfg.Backend.TokenSecret != "" && secrets != nil {
		opts = append(opts, backend.WithToken(keychain.Token(secrets, cfg.Backend.TokenSecret)))
	}
	return opts
}

func pollOptions(cfg *config.Config) poller.Options {
	return poller.Options{
		Interval:    cfg.Timing.PollInterval.Duration,
		MaxAttempts: cfg.Timing.PollMaxAttempts,
	}
}
