package providers

import (
	"time"

	"github.com/orchestra-mcp/wearlink/src/types"
	"github.com/rs/zerolog"
)

const watcherWriteTimeout = 10 * time.Second

// Conn is the subset of a WebSocket connection a watcher uses.
type Conn interface {
	WriteJSON(v any) error
	ReadMessage() (messageType int, p []byte, err error)
	SetWriteDeadline(t time.Time) error
	Close() error
}

// watcher streams state events to one WebSocket peer.
type watcher struct {
	id     string
	conn   Conn
	events <-chan types.StateEvent
	done   chan struct{}
	logger zerolog.Logger
}

// serveWatcher blocks until the peer disconnects or the subscription ends.
func (p *StatusProvider) serveWatcher(id string, conn Conn) {
	events, unsub := p.client.Subscribe("ws-" + id)
	w := &watcher{
		id:     id,
		conn:   conn,
		events: events,
		done:   make(chan struct{}),
		logger: p.logger.With().Str("watcher_id", id).Logger(),
	}
	p.watchers.Add(1)
	defer p.watchers.Add(-1)
	defer unsub()

	w.logger.Debug().Msg("watcher connected")
	go w.readPump()

	if latest, ok := p.client.Latest(); ok {
		if err := w.write(latest); err != nil {
			w.conn.Close()
			<-w.done
			return
		}
	}
	w.writePump()
	<-w.done
	w.logger.Debug().Msg("watcher disconnected")
}

// readPump discards inbound frames and reports when the peer goes away.
func (w *watcher) readPump() {
	defer close(w.done)
	defer w.conn.Close()
	for {
		if _, _, err := w.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump forwards events until the peer disconnects or the
// subscription is closed.
func (w *watcher) writePump() {
	defer w.conn.Close()
	for {
		select {
		case e, ok := <-w.events:
			if !ok {
				return
			}
			if err := w.write(e); err != nil {
				w.logger.Debug().Err(err).Msg("watcher write failed")
				return
			}
		case <-w.done:
			return
		}
	}
}

func (w *watcher) write(e types.StateEvent) error {
	if err := w.conn.SetWriteDeadline(time.Now().Add(watcherWriteTimeout)); err != nil {
		return err
	}
	return w.conn.WriteJSON(e)
}
