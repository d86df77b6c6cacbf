package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/orchestra-mcp/wearlink/src/codec"
	"github.com/orchestra-mcp/wearlink/src/types"
)

// handshake sends the handshake message and waits for handshake_success.
// The window is measured from the start of the handshake, not per read.
// Other well-formed lines are returned in receipt order for replay.
func (s *Session) handshake(ctx context.Context, l *link, lines *codec.LineBuffer) ([][]byte, error) {
	start := time.Now()
	if err := l.send(types.NewHandshake(s.cfg.DeviceID)); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("session: send handshake: %w", err)
	}
	s.logger.Debug().Msg("handshake sent")

	if err := l.conn.SetReadDeadline(start.Add(s.cfg.HandshakeTimeout)); err != nil {
		return nil, fmt.Errorf("session: handshake deadline: %w", err)
	}

	var (
		pending  [][]byte
		complete bool
		buf      = make([]byte, readBufferSize)
	)
	for !complete {
		n, err := l.conn.Read(buf)
		for _, line := range lines.Feed(buf[:n]) {
			msg, perr := codec.Parse(line)
			if perr != nil {
				s.logger.Warn().Err(perr).Bytes("line", line).Msg("dropping malformed handshake line")
				continue
			}
			if msg.Kind() == types.TypeHandshakeSuccess {
				complete = true
				continue
			}
			pending = append(pending, line)
		}
		if complete {
			break
		}
		if err != nil {
			switch {
			case ctx.Err() != nil:
				return nil, ctx.Err()
			case errors.Is(err, os.ErrDeadlineExceeded):
				return nil, fmt.Errorf("%w within %s", ErrHandshakeTimeout, s.cfg.HandshakeTimeout)
			case errors.Is(err, io.EOF):
				return nil, ErrPeerClosed
			default:
				return nil, fmt.Errorf("session: handshake read: %w", err)
			}
		}
	}

	if err := l.conn.SetReadDeadline(time.Time{}); err != nil {
		return nil, fmt.Errorf("session: clear read deadline: %w", err)
	}
	return pending, nil
}
