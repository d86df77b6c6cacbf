package sensor

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/orchestra-mcp/wearlink/src/types"
)

// DefaultHRVInterval is the cadence of the simulated HRV feed.
const DefaultHRVInterval = 2 * time.Second

// NewSyntheticHRV returns a feed of pseudo-random HRV values in
// [30.00, 80.99] ms. Real HRV needs raw PPG access.
func NewSyntheticHRV(interval time.Duration) *PollingFeed {
	if interval <= 0 {
		interval = DefaultHRVInterval
	}
	return NewPollingFeed(types.SignalHRV, interval, func() float64 {
		v := float64(30+rand.Intn(51)) + float64(rand.Intn(100))/100
		return math.Round(v*100) / 100
	})
}

// SimulatedHeartRate stands in for a hardware heart-rate sensor. Every
// registered listener receives a value in [55, 100] bpm per interval.
type SimulatedHeartRate struct {
	interval time.Duration

	mu        sync.Mutex
	listeners map[int]func(float64)
	nextID    int
	stop      chan struct{}
}

// NewSimulatedHeartRate creates a simulated sensor ticking at interval.
func NewSimulatedHeartRate(interval time.Duration) *SimulatedHeartRate {
	if interval <= 0 {
		interval = time.Second
	}
	return &SimulatedHeartRate{
		interval:  interval,
		listeners: make(map[int]func(float64)),
	}
}

// Register starts the sensor on the first listener and stops it when
// the last one leaves.
func (s *SimulatedHeartRate) Register(onValue func(float64)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.listeners[id] = onValue
	if s.stop == nil {
		s.stop = make(chan struct{})
		go s.run(s.stop)
	}

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.listeners[id]; !ok {
			return
		}
		delete(s.listeners, id)
		if len(s.listeners) == 0 && s.stop != nil {
			close(s.stop)
			s.stop = nil
		}
	}
}

// Listeners returns the number of registered listeners.
func (s *SimulatedHeartRate) Listeners() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners)
}

func (s *SimulatedHeartRate) run(stop <-chan struct{}) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	bpm := 72.0
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		bpm = math.Max(55, math.Min(100, bpm+rand.Float64()*6-3))

		s.mu.Lock()
		fns := make([]func(float64), 0, len(s.listeners))
		for _, fn := range s.listeners {
			fns = append(fns, fn)
		}
		s.mu.Unlock()
		for _, fn := range fns {
			fn(math.Round(bpm))
		}
	}
}
