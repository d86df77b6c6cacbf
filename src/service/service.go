package service

import (
	"context"
	"sync"

	"github.com/orchestra-mcp/wearlink/config"
	"github.com/orchestra-mcp/wearlink/src/bridge"
	"github.com/orchestra-mcp/wearlink/src/discovery"
	"github.com/orchestra-mcp/wearlink/src/hub"
	"github.com/orchestra-mcp/wearlink/src/sensor"
	"github.com/orchestra-mcp/wearlink/src/session"
	"github.com/orchestra-mcp/wearlink/src/supervisor"
	"github.com/orchestra-mcp/wearlink/src/types"
	"github.com/rs/zerolog"
)

// Service assembles the client: discovery, session, supervisor, state hub
// and optional state bridges.
type Service struct {
	cfg        *config.ClientConfig
	hub        *hub.Hub
	session    *session.Session
	supervisor *supervisor.Supervisor
	bridges    []bridge.Bridge
	logger     zerolog.Logger

	mu      sync.Mutex
	stopped bool
	cancel  context.CancelFunc
}

// New creates a client service streaming the given feeds.
func New(cfg *config.ClientConfig, feeds []sensor.Feed, logger zerolog.Logger) *Service {
	h := hub.New(logger)
	sess := session.New(session.Config{
		DeviceID:         cfg.DeviceID,
		DialTimeout:      cfg.DialTimeout,
		HandshakeTimeout: cfg.HandshakeTimeout,
		WriteTimeout:     cfg.WriteTimeout,
	}, feeds, logger)
	prober := discovery.NewProber(cfg.DiscoveryPort, cfg.DiscoveryTimeout, logger)

	var pinned types.Endpoint
	if cfg.Host != "" {
		pinned = types.Endpoint{Host: cfg.Host, Port: cfg.Port}
	}
	sup := supervisor.New(supervisor.Config{
		DeviceID:            cfg.DeviceID,
		Endpoint:            pinned,
		RetryDelay:          cfg.RetryDelay,
		DiscoveryRetryDelay: cfg.DiscoveryRetryDelay,
	}, prober, sess, h, logger)

	return &Service{
		cfg:        cfg,
		hub:        h,
		session:    sess,
		supervisor: sup,
		logger:     logger.With().Str("component", "service").Logger(),
	}
}

// Hub returns the state hub.
func (s *Service) Hub() *hub.Hub { return s.hub }

// AddBridge attaches a state bridge that is started and stopped with Run.
// It must be called before Run.
func (s *Service) AddBridge(b bridge.Bridge) { s.bridges = append(s.bridges, b) }

// Run starts the bridges and blocks in the supervisor loop until Stop is
// called or ctx is cancelled. A bridge that fails to start stays
// unavailable and the client runs without it. Once Stop has been called,
// Run returns nil without connecting.
func (s *Service) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()
	defer cancel()

	for _, b := range s.bridges {
		if err := b.Start(); err != nil {
			s.logger.Warn().Err(err).Msg("state bridge unavailable, running without it")
			continue
		}
		defer func(b bridge.Bridge) {
			if err := b.Stop(); err != nil {
				s.logger.Error().Err(err).Msg("bridge stop error")
			}
		}(b)
	}

	s.logger.Info().
		Str("device_id", s.cfg.DeviceID).
		Bool("discovery", s.cfg.Host == "").
		Msg("client starting")
	err := s.supervisor.Start(runCtx)
	if ctx.Err() == nil && s.isStopped() {
		return nil
	}
	return err
}

// Stop ends the reconnect loop and closes the live connection. It also
// applies to a Run that is still starting its bridges.
func (s *Service) Stop() {
	s.mu.Lock()
	s.stopped = true
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	s.supervisor.Stop()
}

func (s *Service) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// Subscribe registers for state changes.
func (s *Service) Subscribe(id string) (<-chan types.StateEvent, func()) {
	return s.supervisor.Subscribe(id)
}

// Latest returns the most recent state event, if any.
func (s *Service) Latest() (types.StateEvent, bool) { return s.hub.Latest() }

// Status returns a snapshot of the client.
func (s *Service) Status() types.Status {
	state := s.supervisor.State()
	st := types.Status{
		DeviceID:      s.cfg.DeviceID,
		State:         state,
		Label:         state.Label(),
		EverConnected: s.supervisor.WasEverConnected(),
		Streaming:     s.session.Streaming(),
		Attempts:      s.supervisor.Attempts(),
		Sent:          s.session.Sent(),
	}
	for _, b := range s.bridges {
		if b.Available() {
			st.Bridge = true
		}
	}
	if ep, ok := s.supervisor.Endpoint(); ok {
		st.Endpoint = ep.Addr()
	}
	return st
}
