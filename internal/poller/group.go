package poller

import (
	"context"
	"sync"
)

// Group collapses concurrent work for the same key into one execution.
// A caller arriving while work for its key is in flight waits for that
// work's result instead of starting another. The shared work keeps running
// while at least one caller is still waiting; it is cancelled once every
// caller has gone.
type Group[K comparable, V any] struct {
	mu    sync.Mutex
	calls map[K]*call[V]
}

type call[V any] struct {
	cancel  context.CancelFunc
	done    chan struct{}
	waiters int
	val     V
	err     error
}

// Do runs fn for key unless a call for key is already in flight, in which
// case it joins that call. shared reports whether the result came from a
// call started by another caller. fn receives a context that keeps ctx's
// values but is cancelled only when all waiters have left.
func (g *Group[K, V]) Do(ctx context.Context, key K, fn func(context.Context) (V, error)) (v V, shared bool, err error) {
	g.mu.Lock()
	if g.calls == nil {
		g.calls = make(map[K]*call[V])
	}
	c, ok := g.calls[key]
	if ok {
		c.waiters++
		shared = true
	} else {
		runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		c = &call[V]{cancel: cancel, done: make(chan struct{}), waiters: 1}
		g.calls[key] = c
		go g.exec(runCtx, key, c, fn)
	}
	g.mu.Unlock()

	select {
	case <-c.done:
		return c.val, shared, c.err
	case <-ctx.Done():
		g.mu.Lock()
		c.waiters--
		if c.waiters == 0 {
			c.cancel()
			if g.calls[key] == c {
				delete(g.calls, key)
			}
		}
		g.mu.Unlock()
		var zero V
		return zero, shared, ctx.Err()
	}
}

func (g *Group[K, V]) exec(ctx context.Context, key K, c *call[V], fn func(context.Context) (V, error)) {
	defer c.cancel()
	c.val, c.err = fn(ctx)

	g.mu.Lock()
	if g.calls[key] == c {
		delete(g.calls, key)
	}
	g.mu.Unlock()
	close(c.done)
}

// InFlight reports whether work for key is currently running.
func (g *Group[K, V]) InFlight(key K) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.calls[key]
	return ok
}
