package peertest

import (
	"sync"
	"testing"
	"time"

	"github.com/orchestra-mcp/wearlink/src/sensor"
	"github.com/orchestra-mcp/wearlink/src/types"
)

// Sensor is a Registrar whose values are pushed by the test.
type Sensor struct {
	mu           sync.Mutex
	listeners    map[int]func(float64)
	next         int
	registered   int
	unregistered int
}

// NewFeed returns a manually driven sensor and a Feed over it.
func NewFeed(signal types.Signal) (*Sensor, sensor.Feed) {
	s := &Sensor{listeners: make(map[int]func(float64))}
	return s, sensor.NewCallbackFeed(signal, s)
}

func (s *Sensor) Register(fn func(float64)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.next
	s.next++
	s.listeners[id] = fn
	s.registered++
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
		s.unregistered++
	}
}

// Emit delivers v to every current listener.
func (s *Sensor) Emit(v float64) {
	s.mu.Lock()
	fns := make([]func(float64), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(v)
	}
}

// Active returns the number of live listeners.
func (s *Sensor) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners)
}

// Counts returns total registrations and unregistrations.
func (s *Sensor) Counts() (registered, unregistered int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registered, s.unregistered
}

// WaitActive blocks until at least one listener is registered.
func (s *Sensor) WaitActive(tb testing.TB, timeout time.Duration) {
	tb.Helper()
	deadline := time.Now().Add(timeout)
	for s.Active() == 0 {
		if time.Now().After(deadline) {
			tb.Fatalf("sensor not subscribed within %s", timeout)
		}
		time.Sleep(2 * time.Millisecond)
	}
}
