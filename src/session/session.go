// Package session runs one connection attempt against the peer:
// connect, handshake, then concurrent command listening and telemetry
// streaming until the connection ends.
package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/orchestra-mcp/wearlink/src/codec"
	"github.com/orchestra-mcp/wearlink/src/sensor"
	"github.com/orchestra-mcp/wearlink/src/types"
	"github.com/rs/zerolog"
)

const (
	DefaultDialTimeout      = 5 * time.Second
	DefaultHandshakeTimeout = 3 * time.Second
	DefaultWriteTimeout     = 10 * time.Second

	readBufferSize = 4096
)

var (
	// ErrConnect is returned when the stream connection cannot be opened.
	ErrConnect = errors.New("session: connect failed")
	// ErrHandshakeTimeout is returned when handshake_success does not
	// arrive within the handshake window.
	ErrHandshakeTimeout = errors.New("session: handshake not acknowledged")
	// ErrPeerClosed is returned when the peer hangs up mid-handshake.
	ErrPeerClosed = errors.New("session: peer closed connection during handshake")
)

// Config holds per-attempt parameters.
type Config struct {
	DeviceID         string
	DialTimeout      time.Duration
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
}

func (c Config) withDefaults() Config {
	if c.DialTimeout <= 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	return c
}

// Session owns the streaming flag and drives connection attempts. Run
// must not be called concurrently; the Supervisor calls it in a loop.
type Session struct {
	cfg    Config
	feeds  []sensor.Feed
	logger zerolog.Logger
	dial   func(ctx context.Context, network, addr string) (net.Conn, error)

	streaming atomic.Bool
	sent      atomic.Int64
}

// New creates a Session that streams the given feeds once connected.
func New(cfg Config, feeds []sensor.Feed, logger zerolog.Logger) *Session {
	cfg = cfg.withDefaults()
	d := &net.Dialer{Timeout: cfg.DialTimeout}
	return &Session{
		cfg:   cfg,
		feeds: feeds,
		dial:  d.DialContext,
		logger: logger.With().
			Str("component", "session").
			Str("device_id", cfg.DeviceID).
			Logger(),
	}
}

// Streaming reports whether the peer has enabled telemetry.
func (s *Session) Streaming() bool { return s.streaming.Load() }

// Sent returns the number of telemetry messages written so far.
func (s *Session) Sent() int64 { return s.sent.Load() }

// Run performs one attempt against ep. onConnected is called once the
// handshake succeeds. A nil return means the peer ended an established
// connection; every error is retryable.
func (s *Session) Run(ctx context.Context, ep types.Endpoint, onConnected func()) error {
	l, err := s.connect(ctx, ep)
	if err != nil {
		return err
	}
	defer s.teardown(l)

	// Cancelling ctx closes the socket, unblocking any pending read.
	stop := context.AfterFunc(ctx, l.close)
	defer stop()

	var lines codec.LineBuffer
	pending, err := s.handshake(ctx, l, &lines)
	if err != nil {
		return err
	}

	s.logger.Info().
		Str("peer", ep.Addr()).
		Int("pending", len(pending)).
		Msg("handshake acknowledged")
	if onConnected != nil {
		onConnected()
	}

	return s.active(ctx, l, &lines, pending)
}

func (s *Session) connect(ctx context.Context, ep types.Endpoint) (*link, error) {
	s.logger.Debug().Str("peer", ep.Addr()).Msg("connecting")

	conn, err := s.dial(ctx, "tcp", ep.Addr())
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrConnect, ep.Addr(), err)
	}
	s.logger.Debug().Str("peer", ep.Addr()).Msg("connected")
	return newLink(conn, s.cfg.WriteTimeout, s.logger), nil
}

// active runs the listener until it ends, then cancels the streamer and
// waits for it before the socket is released.
func (s *Session) active(ctx context.Context, l *link, lines *codec.LineBuffer, pending [][]byte) error {
	streamCtx, cancelStream := context.WithCancel(ctx)
	defer cancelStream()

	var (
		wg        sync.WaitGroup
		streamErr error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		streamErr = s.stream(streamCtx, l)
	}()

	listenErr := s.listen(ctx, l, lines, pending)

	cancelStream()
	wg.Wait()

	switch {
	case streamErr != nil:
		return streamErr
	case listenErr != nil:
		return listenErr
	default:
		return ctx.Err()
	}
}

func (s *Session) teardown(l *link) {
	s.streaming.Store(false)
	l.close()
}
