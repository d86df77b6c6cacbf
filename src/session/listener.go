package session

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/orchestra-mcp/wearlink/src/codec"
	"github.com/orchestra-mcp/wearlink/src/types"
)

// listen replays the handshake backlog, then dispatches commands until
// the stream ends. The socket is closed on return so the streamer cannot
// keep writing to a dead connection.
func (s *Session) listen(ctx context.Context, l *link, lines *codec.LineBuffer, pending [][]byte) error {
	defer l.close()

	for _, line := range pending {
		s.handleCommand(line)
	}

	buf := make([]byte, readBufferSize)
	for {
		n, err := l.conn.Read(buf)
		for _, line := range lines.Feed(buf[:n]) {
			s.handleCommand(line)
		}
		if err == nil {
			continue
		}

		switch {
		case errors.Is(err, io.EOF):
			s.logger.Info().Msg("peer closed connection")
			return nil
		case ctx.Err() != nil:
			return ctx.Err()
		case isExpectedClose(err):
			s.logger.Debug().Err(err).Msg("listener ending")
		default:
			s.logger.Error().Err(err).Msg("error while listening for commands")
		}
		return fmt.Errorf("session: read: %w", err)
	}
}

func (s *Session) handleCommand(line []byte) {
	msg, err := codec.Parse(line)
	if err != nil {
		s.logger.Warn().Err(err).Bytes("line", line).Msg("ignoring malformed message")
		return
	}

	switch msg.Kind() {
	case types.TypeStart:
		s.streaming.Store(true)
		s.logger.Info().Msg("streaming enabled by peer")
	case types.TypeStop:
		s.streaming.Store(false)
		s.logger.Info().Msg("streaming disabled by peer")
	default:
		s.logger.Debug().Str("type", msg.Type).Msg("ignoring unknown command")
	}
}
