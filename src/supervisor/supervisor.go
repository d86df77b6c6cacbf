// Package supervisor owns the outer reconnect loop and the single source
// of truth for the client's connection state.
package supervisor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/orchestra-mcp/wearlink/src/hub"
	"github.com/orchestra-mcp/wearlink/src/types"
	"github.com/rs/zerolog"
)

const (
	DefaultRetryDelay          = 3 * time.Second
	DefaultDiscoveryRetryDelay = 5 * time.Second
)

// Resolver finds the peer endpoint. discovery.Prober implements it.
type Resolver interface {
	Probe(ctx context.Context) (types.Endpoint, bool)
}

// Runner performs one connection attempt. session.Session implements it.
type Runner interface {
	Run(ctx context.Context, ep types.Endpoint, onConnected func()) error
}

// Config controls the retry cadence.
type Config struct {
	DeviceID string
	// Endpoint skips discovery when set.
	Endpoint            types.Endpoint
	RetryDelay          time.Duration
	DiscoveryRetryDelay time.Duration
}

// Supervisor re-runs discovery and sessions until stopped.
type Supervisor struct {
	cfg      Config
	resolver Resolver
	runner   Runner
	hub      *hub.Hub
	logger   zerolog.Logger

	active        atomic.Bool // a Start loop is executing
	running       atomic.Bool // cleared by Stop
	everConnected atomic.Bool
	state         atomic.Int32
	attempts      atomic.Int64

	mu       sync.Mutex
	cancel   context.CancelFunc
	endpoint types.Endpoint
}

// New creates a Supervisor publishing state changes to h. A nil hub gets
// a private one.
func New(cfg Config, resolver Resolver, runner Runner, h *hub.Hub, logger zerolog.Logger) *Supervisor {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.DiscoveryRetryDelay <= 0 {
		cfg.DiscoveryRetryDelay = DefaultDiscoveryRetryDelay
	}
	if h == nil {
		h = hub.New(logger)
	}
	return &Supervisor{
		cfg:      cfg,
		resolver: resolver,
		runner:   runner,
		hub:      h,
		logger:   logger.With().Str("component", "supervisor").Logger(),
		endpoint: cfg.Endpoint,
	}
}

// Start runs the discovery and reconnect loop until Stop is called or
// ctx is cancelled. Calling Start while a loop is already running is a
// no-op. It returns nil after Stop and ctx.Err() after cancellation.
func (s *Supervisor) Start(ctx context.Context) error {
	// The loop is marked active and its cancel installed in one critical
	// section so a concurrent Stop either precedes Start or cancels it.
	s.mu.Lock()
	if s.active.Load() {
		s.mu.Unlock()
		s.logger.Debug().Msg("start ignored, already running")
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.active.Store(true)
	s.running.Store(true)
	s.cancel = cancel
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running.Store(false)
		s.active.Store(false)
		s.cancel = nil
		s.mu.Unlock()
		cancel()
	}()

	ep, ok := s.resolve(runCtx)
	if !ok {
		return ctx.Err()
	}

	for attempt := 1; s.running.Load(); attempt++ {
		s.attempts.Store(int64(attempt))
		if attempt == 1 {
			s.publish(types.StateConnecting, attempt)
		} else {
			s.publish(types.StateReconnecting, attempt)
		}

		err := s.runner.Run(runCtx, ep, func() {
			s.everConnected.Store(true)
			s.publish(types.StateConnected, attempt)
		})

		switch {
		case runCtx.Err() != nil:
		case err != nil:
			s.logger.Warn().Err(err).Int("attempt", attempt).Str("peer", ep.Addr()).Msg("connection attempt failed")
		default:
			s.logger.Info().Int("attempt", attempt).Msg("connection ended by peer")
		}

		if !s.running.Load() || runCtx.Err() != nil {
			break
		}
		s.logger.Info().Dur("delay", s.cfg.RetryDelay).Msg("retrying")
		if !sleep(runCtx, s.cfg.RetryDelay) {
			break
		}
	}

	s.logger.Info().Msg("supervisor stopped")
	return ctx.Err()
}

// Stop ends the running loop and closes the live connection, if any. The
// loop exits instead of reconnecting. Stop has no effect on a later Start.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running.Store(false)
	if s.cancel != nil {
		s.cancel()
	}
	s.logger.Info().Msg("client stopped by user")
}

// State returns the current connection state.
func (s *Supervisor) State() types.ConnectionState {
	return types.ConnectionState(s.state.Load())
}

// Running reports whether a Start loop is executing.
func (s *Supervisor) Running() bool { return s.active.Load() }

// WasEverConnected reports whether any handshake has succeeded.
func (s *Supervisor) WasEverConnected() bool { return s.everConnected.Load() }

// Attempts returns the number of connection attempts in the current run.
func (s *Supervisor) Attempts() int { return int(s.attempts.Load()) }

// Endpoint returns the resolved peer endpoint, if any.
func (s *Supervisor) Endpoint() (types.Endpoint, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endpoint, !s.endpoint.IsZero()
}

// Subscribe registers for state changes.
func (s *Supervisor) Subscribe(id string) (<-chan types.StateEvent, func()) {
	return s.hub.Subscribe(id)
}

// resolve returns the pinned endpoint or probes until one is heard.
func (s *Supervisor) resolve(ctx context.Context) (types.Endpoint, bool) {
	if ctx.Err() != nil {
		return types.Endpoint{}, false
	}
	if ep, ok := s.Endpoint(); ok {
		return ep, true
	}
	for s.running.Load() {
		if ep, ok := s.resolver.Probe(ctx); ok {
			s.mu.Lock()
			s.endpoint = ep
			s.mu.Unlock()
			return ep, true
		}
		if ctx.Err() != nil {
			return types.Endpoint{}, false
		}
		s.logger.Debug().Dur("delay", s.cfg.DiscoveryRetryDelay).Msg("no peer found, retrying discovery")
		if !sleep(ctx, s.cfg.DiscoveryRetryDelay) {
			return types.Endpoint{}, false
		}
	}
	return types.Endpoint{}, false
}

func (s *Supervisor) publish(state types.ConnectionState, attempt int) {
	s.state.Store(int32(state))
	s.logger.Info().Stringer("state", state).Int("attempt", attempt).Msg("connection state changed")
	s.hub.Publish(types.StateEvent{
		DeviceID:  s.cfg.DeviceID,
		State:     state,
		Attempt:   attempt,
		Timestamp: time.Now().UTC(),
	})
}

// sleep waits for d or until ctx is done. It reports whether the full
// delay elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
