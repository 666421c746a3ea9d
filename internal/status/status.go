// Package status holds the process-wide ServerStatus value.
//
// A Cell has many readers and exactly one Writer. The Writer is returned
// once, from New, and is owned by the supervisor, which lends it to its
// health monitor. Nothing else can change the status.
package status

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Kind discriminates the ServerStatus variants.
type Kind string

const (
	KindUnknown   Kind = "unknown"
	KindChecking  Kind = "checking"
	KindHealthy   Kind = "healthy"
	KindUnhealthy Kind = "unhealthy"
)

// ServerStatus is a tagged value. SummarizationEnabled is meaningful only for
// KindHealthy and Reason only for KindUnhealthy.
type ServerStatus struct {
	Kind                 Kind   `json:"kind"`
	SummarizationEnabled bool   `json:"summarization_enabled,omitempty"`
	Reason               string `json:"reason,omitempty"`
}

func Unknown() ServerStatus  { return ServerStatus{Kind: KindUnknown} }
func Checking() ServerStatus { return ServerStatus{Kind: KindChecking} }

func Healthy(summarizationEnabled bool) ServerStatus {
	return ServerStatus{Kind: KindHealthy, SummarizationEnabled: summarizationEnabled}
}

func Unhealthy(reason string) ServerStatus {
	return ServerStatus{Kind: KindUnhealthy, Reason: reason}
}

func (s ServerStatus) IsHealthy() bool { return s.Kind == KindHealthy }

func (s ServerStatus) String() string {
	switch s.Kind {
	case KindHealthy:
		if s.SummarizationEnabled {
			return "healthy (summarization enabled)"
		}
		return "healthy (summarization disabled)"
	case KindUnhealthy:
		return fmt.Sprintf("unhealthy: %s", s.Reason)
	case "":
		return string(KindUnknown)
	default:
		return string(s.Kind)
	}
}

// UnmarshalJSON rejects unknown kinds so a bad control-API response is not
// mistaken for a real state.
func (s *ServerStatus) UnmarshalJSON(data []byte) error {
	type raw ServerStatus
	var r raw
	if err := json.Unmarshal(data, &r); err != nil {
		return err
	}
	switch r.Kind {
	case KindUnknown, KindChecking, KindHealthy, KindUnhealthy:
	default:
		return fmt.Errorf("unknown server status kind %q", r.Kind)
	}
	*s = ServerStatus(r)
	return nil
}

// Update is delivered to subscribers on every change.
type Update struct {
	Status  ServerStatus
	Changed time.Time
}

// Cell stores the current status and notifies subscribers.
type Cell struct {
	mu      sync.RWMutex
	current ServerStatus
	changed time.Time
	nextID  int
	subs    map[int]chan Update
}

// Writer is the only handle that can publish to a Cell.
type Writer struct {
	cell *Cell
}

// New creates a Cell in the Unknown state and its Writer.
func New() (*Cell, *Writer) {
	c := &Cell{
		current: Unknown(),
		changed: time.Now(),
		subs:    make(map[int]chan Update),
	}
	return c, &Writer{cell: c}
}

// Get returns the current status.
func (c *Cell) Get() ServerStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// Changed returns when the status last changed.
func (c *Cell) Changed() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.changed
}

// Subscribe returns a channel that receives the current status immediately
// and every later change. Slow subscribers only ever see the newest value:
// the channel holds one pending update which is replaced, never queued.
// Call the returned func to unsubscribe; it closes the channel.
func (c *Cell) Subscribe() (<-chan Update, func()) {
	ch := make(chan Update, 1)

	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.subs[id] = ch
	ch <- Update{Status: c.current, Changed: c.changed}
	c.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			close(ch)
			c.mu.Unlock()
		})
	}
}

// Publish sets the status. Publishing an equal value is a no-op and does not
// notify subscribers.
func (w *Writer) Publish(s ServerStatus) {
	c := w.cell
	c.mu.Lock()
	defer c.mu.Unlock()

	if s == c.current {
		return
	}
	c.current = s
	c.changed = time.Now()

	u := Update{Status: s, Changed: c.changed}
	for _, ch := range c.subs {
		select {
		case ch <- u:
		default:
			// drop the stale pending update and deliver the newest
			select {
			case <-ch:
			default:
			}
			ch <- u
		}
	}
}

// Cell returns the cell this writer publishes to.
func (w *Writer) Cell() *Cell {
	return w.cell
}
