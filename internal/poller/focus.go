package poller

import (
	"context"
	"sync"
)

// Focus scopes work to the resource the user is currently looking at.
// Moving focus to a different resource cancels every context handed out for
// the previous one.
type Focus[K comparable] struct {
	mu      sync.Mutex
	id      K
	focused bool
	next    uint64
	live    map[uint64]context.CancelFunc // contexts handed out for id
}

// Enter focuses id and returns a context derived from parent that is also
// cancelled when focus moves elsewhere or Leave is called. Callers entering
// the same id keep their own parents, so one finishing does not cancel the
// others.
func (f *Focus[K]) Enter(parent context.Context, id K) context.Context {
	ctx, cancel := context.WithCancel(parent)

	f.mu.Lock()
	if !f.focused || f.id != id {
		f.cancelLocked()
		f.id, f.focused = id, true
	}
	if f.live == nil {
		f.live = make(map[uint64]context.CancelFunc)
	}
	key := f.next
	f.next++
	f.live[key] = cancel
	f.mu.Unlock()

	context.AfterFunc(ctx, func() {
		f.mu.Lock()
		delete(f.live, key)
		f.mu.Unlock()
	})
	return ctx
}

// Leave clears focus and cancels its contexts.
func (f *Focus[K]) Leave() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelLocked()
	var zero K
	f.id, f.focused = zero, false
}

// Current returns the focused id, if any.
func (f *Focus[K]) Current() (K, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.id, f.focused
}

func (f *Focus[K]) cancelLocked() {
	for key, cancel := range f.live {
		cancel()
		delete(f.live, key)
	}
}
