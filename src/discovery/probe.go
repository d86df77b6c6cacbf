// Package discovery listens for the peer's UDP broadcast announcement.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/orchestra-mcp/wearlink/src/codec"
	"github.com/orchestra-mcp/wearlink/src/types"
	"github.com/rs/zerolog"
)

const (
	DefaultPort    = 8888
	DefaultTimeout = 5 * time.Second

	maxDatagram = 1024
)

// Prober performs one-shot, timeout-bounded discovery receives.
type Prober struct {
	port    int
	timeout time.Duration
	logger  zerolog.Logger
}

// NewProber creates a Prober bound to port. Non-positive values fall
// back to the defaults.
func NewProber(port int, timeout time.Duration, logger zerolog.Logger) *Prober {
	if port <= 0 {
		port = DefaultPort
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Prober{
		port:    port,
		timeout: timeout,
		logger:  logger.With().Str("component", "discovery").Logger(),
	}
}

// Probe waits for a single announcement. It returns false when nothing
// usable arrived within the timeout; the socket is always released.
func (p *Prober) Probe(ctx context.Context) (types.Endpoint, bool) {
	lc := net.ListenConfig{Control: broadcastControl}
	pc, err := lc.ListenPacket(ctx, "udp4", fmt.Sprintf(":%d", p.port))
	if err != nil {
		p.logger.Error().Err(err).Int("port", p.port).Msg("bind discovery socket")
		return types.Endpoint{}, false
	}
	defer pc.Close()

	// Unblock the receive if the caller gives up first.
	stop := context.AfterFunc(ctx, func() { pc.Close() })
	defer stop()

	if err := pc.SetReadDeadline(time.Now().Add(p.timeout)); err != nil {
		p.logger.Error().Err(err).Msg("set discovery deadline")
		return types.Endpoint{}, false
	}

	buf := make([]byte, maxDatagram)
	n, from, err := pc.ReadFrom(buf)
	if err != nil {
		switch {
		case ctx.Err() != nil:
		case errors.Is(err, os.ErrDeadlineExceeded):
			p.logger.Debug().Dur("timeout", p.timeout).Msg("no discovery announcement, retrying")
		default:
			p.logger.Error().Err(err).Msg("discovery receive")
		}
		return types.Endpoint{}, false
	}

	return p.decode(buf[:n], from)
}

func (p *Prober) decode(payload []byte, from net.Addr) (types.Endpoint, bool) {
	msg, err := codec.Parse(payload)
	if err != nil {
		p.logger.Warn().Err(err).Stringer("from", from).Msg("discarding discovery payload")
		return types.Endpoint{}, false
	}
	// The discriminator is matched exactly here, unlike session commands.
	if msg.Type != types.TypeDiscovery {
		p.logger.Warn().Str("type", msg.Type).Stringer("from", from).Msg("unexpected discovery message type")
		return types.Endpoint{}, false
	}
	if msg.IP == "" || msg.Port <= 0 || msg.Port > 65535 {
		p.logger.Warn().Str("ip", msg.IP).Int("port", msg.Port).Msg("discovery announcement without usable endpoint")
		return types.Endpoint{}, false
	}

	ep := types.Endpoint{Host: msg.IP, Port: msg.Port}
	p.logger.Info().Str("host", ep.Host).Int("port", ep.Port).Msg("peer discovered")
	return ep, true
}
