package session

import (
	"errors"
	"io"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/orchestra-mcp/wearlink/src/codec"
	"github.com/orchestra-mcp/wearlink/src/types"
	"github.com/rs/zerolog"
)

// link wraps the stream connection. Writes are serialized; close is
// idempotent and safe from any goroutine.
type link struct {
	conn         net.Conn
	writeTimeout time.Duration
	logger       zerolog.Logger

	wmu    sync.Mutex
	once   sync.Once
	closed chan struct{}
}

func newLink(conn net.Conn, writeTimeout time.Duration, logger zerolog.Logger) *link {
	return &link{
		conn:         conn,
		writeTimeout: writeTimeout,
		logger:       logger,
		closed:       make(chan struct{}),
	}
}

// send encodes msg and writes it as one line.
func (l *link) send(msg types.Message) error {
	data, err := codec.Encode(msg)
	if err != nil {
		return err
	}

	l.wmu.Lock()
	defer l.wmu.Unlock()
	if l.writeTimeout > 0 {
		if err := l.conn.SetWriteDeadline(time.Now().Add(l.writeTimeout)); err != nil {
			return err
		}
	}
	_, err = l.conn.Write(data)
	return err
}

func (l *link) isClosed() bool {
	select {
	case <-l.closed:
		return true
	default:
		return false
	}
}

func (l *link) close() {
	l.once.Do(func() {
		close(l.closed)
		if err := l.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			l.logger.Warn().Err(err).Msg("error closing socket")
			return
		}
		l.logger.Debug().Msg("socket closed")
	})
}

// isExpectedClose reports whether err is an ordinary connection
// termination rather than a fault worth logging at error level.
func isExpectedClose(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EPIPE || errno == syscall.ECONNRESET
	}
	return false
}
