package providers

import (
	"encoding/json"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/gofiber/fiber/v3"
	"github.com/orchestra-mcp/wearlink/src/hub"
	"github.com/orchestra-mcp/wearlink/src/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
)

type fakeClient struct {
	*hub.Hub
	status types.Status
	stops  atomic.Int32
}

func (f *fakeClient) Status() types.Status { return f.status }
func (f *fakeClient) Stop()                { f.stops.Add(1) }

type testServer struct {
	ln     *fasthttputil.InmemoryListener
	client *fasthttp.Client
}

func newTestServer(t *testing.T, p *StatusProvider) *testServer {
	t.Helper()
	app := fiber.New()
	p.RegisterRoutes(app)

	ln := fasthttputil.NewInmemoryListener()
	srv := &fasthttp.Server{Handler: p.Handler(app)}
	go srv.Serve(ln) //nolint:errcheck
	t.Cleanup(func() { ln.Close() })

	return &testServer{
		ln: ln,
		client: &fasthttp.Client{
			Dial: func(string) (net.Conn, error) { return ln.Dial() },
		},
	}
}

func (s *testServer) do(t *testing.T, method, path string) (int, []byte) {
	t.Helper()
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.Header.SetMethod(method)
	req.SetRequestURI("http://status" + path)
	require.NoError(t, s.client.DoTimeout(req, resp, 2*time.Second))
	return resp.StatusCode(), append([]byte(nil), resp.Body()...)
}

func (s *testServer) dialWS(t *testing.T) *websocket.Conn {
	t.Helper()
	dialer := websocket.Dialer{
		NetDial:          func(string, string) (net.Conn, error) { return s.ln.Dial() },
		HandshakeTimeout: 2 * time.Second,
	}
	conn, _, err := dialer.Dial("ws://status"+WebSocketPath, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) types.StateEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var e types.StateEvent
	require.NoError(t, conn.ReadJSON(&e))
	return e
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		Hub: hub.New(zerolog.Nop()),
		status: types.Status{
			DeviceID:      "watch-7",
			State:         types.StateConnected,
			Label:         types.StateConnected.Label(),
			EverConnected: true,
			Streaming:     true,
			Endpoint:      "192.168.1.10:9000",
			Attempts:      2,
		},
	}
}

func TestStatusRoute(t *testing.T) {
	fc := newFakeClient()
	srv := newTestServer(t, NewStatusProvider(fc, zerolog.Nop()))

	code, body := srv.do(t, fasthttp.MethodGet, "/status")
	require.Equal(t, fasthttp.StatusOK, code)

	var got map[string]any
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "watch-7", got["device_id"])
	assert.Equal(t, "connected", got["state"])
	assert.Equal(t, "Connected!", got["label"])
	assert.Equal(t, true, got["ever_connected"])
	assert.Equal(t, true, got["streaming"])
	assert.Equal(t, "192.168.1.10:9000", got["endpoint"])
}

func TestStopRoute(t *testing.T) {
	fc := newFakeClient()
	srv := newTestServer(t, NewStatusProvider(fc, zerolog.Nop()))

	code, _ := srv.do(t, fasthttp.MethodPost, "/stop")
	assert.Equal(t, fasthttp.StatusAccepted, code)
	assert.EqualValues(t, 1, fc.stops.Load())
}

func TestWebSocketRequiresUpgrade(t *testing.T) {
	srv := newTestServer(t, NewStatusProvider(newFakeClient(), zerolog.Nop()))

	code, body := srv.do(t, fasthttp.MethodGet, WebSocketPath)
	assert.Equal(t, fasthttp.StatusUpgradeRequired, code)
	assert.Contains(t, string(body), "upgrade_required")
}

func TestWebSocketStreamsLatestThenUpdates(t *testing.T) {
	fc := newFakeClient()
	p := NewStatusProvider(fc, zerolog.Nop())
	srv := newTestServer(t, p)

	fc.Publish(types.StateEvent{DeviceID: "watch-7", State: types.StateConnecting, Attempt: 1})
	conn := srv.dialWS(t)

	first := readEvent(t, conn)
	assert.Equal(t, types.StateConnecting, first.State)
	assert.Equal(t, 1, first.Attempt)

	require.Eventually(t, func() bool { return fc.Len() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, p.Watchers())

	fc.Publish(types.StateEvent{DeviceID: "watch-7", State: types.StateConnected, Attempt: 1})
	next := readEvent(t, conn)
	assert.Equal(t, types.StateConnected, next.State)
	assert.Equal(t, "watch-7", next.DeviceID)
}

func TestWebSocketWatcherReleasedOnClose(t *testing.T) {
	fc := newFakeClient()
	p := NewStatusProvider(fc, zerolog.Nop())
	srv := newTestServer(t, p)

	conn := srv.dialWS(t)
	require.Eventually(t, func() bool { return p.Watchers() == 1 }, 2*time.Second, 5*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return p.Watchers() == 0 }, 2*time.Second, 5*time.Millisecond)
	assert.Zero(t, fc.Len(), "subscription released")
}

func TestWebSocketInfoRoute(t *testing.T) {
	srv := newTestServer(t, NewStatusProvider(newFakeClient(), zerolog.Nop()))

	code, body := srv.do(t, fasthttp.MethodGet, "/ws/info")
	require.Equal(t, fasthttp.StatusOK, code)

	var got map[string]any
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, WebSocketPath, got["endpoint"])
	assert.Equal(t, float64(0), got["watchers"])
}
