package events

import (
	"context"
	"sync"
	"sync/atomic"
)

// Hub fans events out to in-process subscribers. Delivery never blocks
// the publisher: when a subscriber's buffer is full the event is dropped
// for that subscriber.
type Hub struct {
	mutex   sync.RWMutex
	subs    map[*Subscription]struct{}
	buffer  int
	kinds   map[Kind]bool
	dropped atomic.Int64
}

// Subscription receives events on C until Close is called.
type Subscription struct {
	C    <-chan Event
	ch   chan Event
	hub  *Hub
	once sync.Once
}

// NewHub creates a hub. When kinds is non-empty only those kinds are
// delivered.
func NewHub(buffer int, kinds ...Kind) *Hub {
	if buffer < 1 {
		buffer = 1
	}
	h := &Hub{
		subs:   make(map[*Subscription]struct{}),
		buffer: buffer,
	}
	if len(kinds) > 0 {
		h.kinds = make(map[Kind]bool, len(kinds))
		for _, k := range kinds {
			h.kinds[k] = true
		}
	}
	return h
}

func (h *Hub) Subscribe() *Subscription {
	ch := make(chan Event, h.buffer)
	s := &Subscription{C: ch, ch: ch, hub: h}

	h.mutex.Lock()
	h.subs[s] = struct{}{}
	h.mutex.Unlock()

	return s
}

// Close unregisters the subscription and closes C. It is idempotent.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.mutex.Lock()
		delete(s.hub.subs, s)
		close(s.ch)
		s.hub.mutex.Unlock()
	})
}

func (h *Hub) Publish(_ context.Context, event Event) error {
	if h.kinds != nil && !h.kinds[event.Kind] {
		return nil
	}

	h.mutex.RLock()
	defer h.mutex.RUnlock()

	for s := range h.subs {
		select {
		case s.ch <- event:
		default:
			h.dropped.Add(1)
		}
	}
	return nil
}

// Subscribers returns the number of active subscriptions.
func (h *Hub) Subscribers() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.subs)
}

// Dropped returns how many deliveries were skipped because a subscriber
// was not keeping up.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}
