// Package sensor adapts live or simulated signal sources into cancelable
// streams of timestamped samples.
package sensor

import (
	"context"
	"sync"
	"time"

	"github.com/orchestra-mcp/wearlink/src/types"
)

const sampleBuffer = 16

// Feed produces samples for one signal. Each Samples call starts a new
// sequence; the channel is closed once ctx is cancelled and any
// underlying subscription has been released.
type Feed interface {
	Signal() types.Signal
	Samples(ctx context.Context) <-chan types.Sample
}

// Registrar is a hardware-style listener registration. The callback may
// be invoked from any goroutine until unregister returns.
type Registrar interface {
	Register(onValue func(value float64)) (unregister func())
}

// CallbackFeed turns a Registrar into a Feed. The listener is registered
// when Samples is called and unregistered exactly once on cancellation.
type CallbackFeed struct {
	signal    types.Signal
	registrar Registrar
	now       func() time.Time
}

// NewCallbackFeed wraps r as a Feed for signal.
func NewCallbackFeed(signal types.Signal, r Registrar) *CallbackFeed {
	return &CallbackFeed{signal: signal, registrar: r, now: time.Now}
}

func (f *CallbackFeed) Signal() types.Signal { return f.signal }

// Samples registers a listener and forwards its values. Values that
// arrive while the consumer is behind are dropped rather than blocking
// the callback.
func (f *CallbackFeed) Samples(ctx context.Context) <-chan types.Sample {
	out := make(chan types.Sample, sampleBuffer)

	var (
		mu     sync.Mutex
		closed bool
	)
	unregister := f.registrar.Register(func(v float64) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case out <- types.Sample{Value: v, Timestamp: f.now()}:
		default:
		}
	})

	var once sync.Once
	go func() {
		<-ctx.Done()
		once.Do(func() {
			unregister()
			mu.Lock()
			closed = true
			close(out)
			mu.Unlock()
		})
	}()
	return out
}

// PollingFeed calls read at a fixed interval. The first sample is
// emitted immediately.
type PollingFeed struct {
	signal   types.Signal
	interval time.Duration
	read     func() float64
	now      func() time.Time
}

// DefaultPollInterval replaces a non-positive polling interval.
const DefaultPollInterval = time.Second

// NewPollingFeed creates a fixed-cadence Feed backed by read. A
// non-positive interval falls back to DefaultPollInterval.
func NewPollingFeed(signal types.Signal, interval time.Duration, read func() float64) *PollingFeed {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &PollingFeed{signal: signal, interval: interval, read: read, now: time.Now}
}

func (f *PollingFeed) Signal() types.Signal { return f.signal }

func (f *PollingFeed) Samples(ctx context.Context) <-chan types.Sample {
	out := make(chan types.Sample)
	go func() {
		defer close(out)
		ticker := time.NewTicker(f.interval)
		defer ticker.Stop()
		for {
			s := types.Sample{Value: f.read(), Timestamp: f.now()}
			select {
			case out <- s:
			case <-ctx.Done():
				return
			}
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
