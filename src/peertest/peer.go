// Package peertest provides an in-process peer server and a manually
// driven sensor for exercising the client over loopback TCP.
package peertest

import (
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/orchestra-mcp/wearlink/src/codec"
	"github.com/orchestra-mcp/wearlink/src/types"
	"github.com/stretchr/testify/require"
)

// Peer accepts client connections on a loopback listener.
type Peer struct {
	tb    testing.TB
	ln    net.Listener
	conns chan *Conn

	mu       sync.Mutex
	accepted int
	open     []*Conn
}

// NewPeer starts a listener that is closed when the test ends.
func NewPeer(tb testing.TB) *Peer {
	tb.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(tb, err)

	p := &Peer{tb: tb, ln: ln, conns: make(chan *Conn, 256)}
	go p.acceptLoop()
	tb.Cleanup(func() {
		ln.Close()
		p.mu.Lock()
		defer p.mu.Unlock()
		for _, c := range p.open {
			c.Close()
		}
	})
	return p
}

// Endpoint returns the address clients should dial.
func (p *Peer) Endpoint() types.Endpoint {
	addr := p.ln.Addr().(*net.TCPAddr)
	return types.Endpoint{Host: addr.IP.String(), Port: addr.Port}
}

// Accepted returns how many connections have been accepted so far.
func (p *Peer) Accepted() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.accepted
}

// Close stops accepting connections.
func (p *Peer) Close() error { return p.ln.Close() }

// Accept waits for the next client connection.
func (p *Peer) Accept(timeout time.Duration) *Conn {
	p.tb.Helper()
	select {
	case c := <-p.conns:
		return c
	case <-time.After(timeout):
		p.tb.Fatalf("no client connection within %s", timeout)
		return nil
	}
}

func (p *Peer) acceptLoop() {
	for {
		nc, err := p.ln.Accept()
		if err != nil {
			return
		}
		c := newConn(p.tb, nc)
		p.mu.Lock()
		p.accepted++
		p.open = append(p.open, c)
		p.mu.Unlock()
		p.conns <- c
	}
}

// Conn is the peer side of one client connection.
type Conn struct {
	tb       testing.TB
	nc       net.Conn
	messages chan types.Message
	eof      chan struct{}
	once     sync.Once
}

func newConn(tb testing.TB, nc net.Conn) *Conn {
	c := &Conn{
		tb:       tb,
		nc:       nc,
		messages: make(chan types.Message, 1024),
		eof:      make(chan struct{}),
	}
	go c.readLoop()
	return c
}

func (c *Conn) readLoop() {
	defer close(c.eof)
	var lb codec.LineBuffer
	buf := make([]byte, 4096)
	for {
		n, err := c.nc.Read(buf)
		for _, line := range lb.Feed(buf[:n]) {
			if msg, perr := codec.Parse(line); perr == nil {
				c.messages <- msg
			}
		}
		if err != nil {
			return
		}
	}
}

// SendRaw writes s to the client verbatim.
func (c *Conn) SendRaw(s string) {
	c.tb.Helper()
	_, err := c.nc.Write([]byte(s))
	require.NoError(c.tb, err)
}

// Send writes one encoded message.
func (c *Conn) Send(msg types.Message) {
	c.tb.Helper()
	data, err := codec.Encode(msg)
	require.NoError(c.tb, err)
	c.SendRaw(string(data))
}

// SendType writes a message carrying only a type discriminator.
func (c *Conn) SendType(typ string) { c.Send(types.Message{Type: typ}) }

// Next returns the next message from the client.
func (c *Conn) Next(timeout time.Duration) (types.Message, bool) {
	select {
	case msg := <-c.messages:
		return msg, true
	case <-time.After(timeout):
		return types.Message{}, false
	}
}

// Expect fails the test unless a message arrives within timeout.
func (c *Conn) Expect(timeout time.Duration) types.Message {
	c.tb.Helper()
	msg, ok := c.Next(timeout)
	if !ok {
		c.tb.Fatalf("no message from client within %s", timeout)
	}
	return msg
}

// Drain discards every message received so far and returns the count.
func (c *Conn) Drain() int {
	n := 0
	for {
		select {
		case <-c.messages:
			n++
		default:
			return n
		}
	}
}

// Done is closed when the client side closes the connection.
func (c *Conn) Done() <-chan struct{} { return c.eof }

// Close closes the peer side of the connection.
func (c *Conn) Close() {
	c.once.Do(func() {
		if err := c.nc.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			c.tb.Logf("peertest: close: %v", err)
		}
	})
}
