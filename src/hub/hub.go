// Package hub fans connection state changes out to subscribers such as
// a UI, the status surface or the Redis bridge.
package hub

import (
	"sync"
	"time"

	"github.com/orchestra-mcp/wearlink/src/types"
	"github.com/rs/zerolog"
)

const subscriberBuffer = 64

type subscriber struct {
	id string
	ch chan types.StateEvent
}

// Hub delivers every published StateEvent to all current subscribers.
// Publish never blocks: a subscriber whose buffer is full misses the
// event and can recover the current value from Latest.
type Hub struct {
	mu        sync.RWMutex
	subs      map[*subscriber]struct{}
	latest    types.StateEvent
	hasLatest bool
	logger    zerolog.Logger
}

// New creates an empty Hub.
func New(logger zerolog.Logger) *Hub {
	return &Hub{
		subs:   make(map[*subscriber]struct{}),
		logger: logger.With().Str("component", "hub").Logger(),
	}
}

// Subscribe registers a subscriber identified by id (used in logs). The
// returned function unregisters it and closes the channel; calling it
// more than once is safe.
func (h *Hub) Subscribe(id string) (<-chan types.StateEvent, func()) {
	s := &subscriber{id: id, ch: make(chan types.StateEvent, subscriberBuffer)}
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug().Str("subscriber", id).Msg("subscriber registered")

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, s)
			close(s.ch)
			h.mu.Unlock()
			h.logger.Debug().Str("subscriber", id).Msg("subscriber unregistered")
		})
	}
}

// Publish records e as the latest event and sends it to subscribers.
func (h *Hub) Publish(e types.StateEvent) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.latest = e
	h.hasLatest = true
	for s := range h.subs {
		select {
		case s.ch <- e:
		default:
			h.logger.Warn().Str("subscriber", s.id).Stringer("state", e.State).Msg("subscriber buffer full, dropping")
		}
	}
}

// Latest returns the most recently published event.
func (h *Hub) Latest() (types.StateEvent, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.latest, h.hasLatest
}

// Len returns the current subscriber count.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
