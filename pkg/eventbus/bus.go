// Package eventbus is the in-process notification channel the orchestrator
// uses to announce state transitions to external observers (UI, metrics,
// persistence). Delivery is fire-and-forget: events for one transfer id
// arrive in the order they were published, a slow subscriber drops events
// rather than blocking the orchestrator.
package eventbus

import (
	"sync"
	"time"

	"github.com/swapall/bridge-orchestrator/pkg/registry"
)

// Event describes one applied state transition. Previous == New for
// informational events that do not move the machine (quote ready, re-quote).
type Event struct {
	TransferID string         `json:"transfer_id"`
	Previous   registry.State `json:"previous_state"`
	New        registry.State `json:"new_state"`
	Error      string         `json:"error,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Subscription receives events on C until detached.
type Subscription struct {
	C      <-chan Event
	bus    *Bus
	id     int
	ch     chan Event
	closed bool
}

// Detach removes the subscription and closes its channel. Safe to call
// more than once.
func (s *Subscription) Detach() {
	s.bus.detach(s)
}

// Bus fans published events out to all current subscribers.
type Bus struct {
	mu      sync.Mutex
	subs    map[int]*Subscription
	next    int
	dropped uint64
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[int]*Subscription)}
}

// Subscribe registers a new observer. buffer bounds how far the subscriber
// may lag before events are dropped; <= 0 uses a default of 64.
func (b *Bus) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = 64
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, buffer)
	sub := &Subscription{C: ch, ch: ch, bus: b, id: b.next}
	b.subs[b.next] = sub
	b.next++
	return sub
}

// Publish delivers ev to every subscriber without blocking.
func (b *Bus) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs {
		select {
		case sub.ch <- ev:
		default:
			b.dropped++
		}
	}
}

// Dropped returns how many events were discarded because a subscriber
// lagged behind its buffer.
func (b *Bus) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

func (b *Bus) detach(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	delete(b.subs, s.id)
	close(s.ch)
}
