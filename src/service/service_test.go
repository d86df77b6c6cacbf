package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/orchestra-mcp/wearlink/config"
	"github.com/orchestra-mcp/wearlink/src/peertest"
	"github.com/orchestra-mcp/wearlink/src/sensor"
	"github.com/orchestra-mcp/wearlink/src/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubBridge records lifecycle calls.
type stubBridge struct {
	onStart   func()
	startErr  error
	available atomic.Bool
	stopped   atomic.Bool
}

func (b *stubBridge) Publish(types.StateEvent) error { return nil }

func (b *stubBridge) Start() error {
	if b.onStart != nil {
		b.onStart()
	}
	if b.startErr != nil {
		return b.startErr
	}
	b.available.Store(true)
	return nil
}

func (b *stubBridge) Stop() error {
	b.available.Store(false)
	b.stopped.Store(true)
	return nil
}

func (b *stubBridge) Available() bool { return b.available.Load() }

func testConfig(peer *peertest.Peer) *config.ClientConfig {
	cfg := config.DefaultConfig()
	ep := peer.Endpoint()
	cfg.DeviceID = "watch-svc"
	cfg.Host = ep.Host
	cfg.Port = ep.Port
	cfg.HandshakeTimeout = time.Second
	cfg.RetryDelay = 20 * time.Millisecond
	return cfg
}

func runService(t *testing.T, svc *Service) chan error {
	t.Helper()
	errc := make(chan error, 1)
	go func() { errc <- svc.Run(context.Background()) }()
	t.Cleanup(func() {
		svc.Stop()
		select {
		case <-errc:
		case <-time.After(3 * time.Second):
			t.Error("service did not stop")
		}
	})
	return errc
}

func waitState(t *testing.T, events <-chan types.StateEvent, want types.ConnectionState) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case e := <-events:
			if e.State == want {
				return
			}
		case <-deadline:
			t.Fatalf("state %s never published", want)
		}
	}
}

func TestServiceStatusFollowsConnection(t *testing.T) {
	peer := peertest.NewPeer(t)
	hr, feed := peertest.NewFeed(types.SignalHeartRate)
	svc := New(testConfig(peer), []sensor.Feed{feed}, zerolog.Nop())

	st := svc.Status()
	assert.Equal(t, "watch-svc", st.DeviceID)
	assert.Equal(t, types.StateConnecting, st.State)
	assert.False(t, st.EverConnected)
	assert.Equal(t, peer.Endpoint().Addr(), st.Endpoint, "pinned endpoint is known before start")

	events, unsub := svc.Subscribe("test")
	defer unsub()
	runService(t, svc)

	conn := peer.Accept(2 * time.Second)
	hs := conn.Expect(time.Second)
	assert.Equal(t, "watch-svc", hs.DeviceID)
	conn.SendType(types.TypeHandshakeSuccess)

	waitState(t, events, types.StateConnected)

	conn.SendType(types.TypeStart)
	require.Eventually(t, func() bool { return svc.Status().Streaming }, 2*time.Second, 5*time.Millisecond)
	hr.WaitActive(t, time.Second)
	hr.Emit(80)
	msg := conn.Expect(time.Second)
	assert.Equal(t, types.TypeHeartRate, msg.Type)

	st = svc.Status()
	assert.Equal(t, types.StateConnected, st.State)
	assert.Equal(t, "Connected!", st.Label)
	assert.True(t, st.EverConnected)
	assert.Equal(t, 1, st.Attempts)
	assert.EqualValues(t, 1, st.Sent)

	latest, ok := svc.Latest()
	require.True(t, ok)
	assert.Equal(t, types.StateConnected, latest.State)
}

func TestServiceRunsStandaloneWhenBridgeFails(t *testing.T) {
	peer := peertest.NewPeer(t)
	_, feed := peertest.NewFeed(types.SignalHRV)
	svc := New(testConfig(peer), []sensor.Feed{feed}, zerolog.Nop())
	b := &stubBridge{startErr: errors.New("connection refused")}
	svc.AddBridge(b)

	runService(t, svc)
	conn := peer.Accept(2 * time.Second)
	conn.Expect(time.Second)

	assert.False(t, svc.Status().Bridge)
}

func TestServiceStopsBridgeOnExit(t *testing.T) {
	peer := peertest.NewPeer(t)
	_, feed := peertest.NewFeed(types.SignalHRV)
	svc := New(testConfig(peer), []sensor.Feed{feed}, zerolog.Nop())
	b := &stubBridge{}
	svc.AddBridge(b)

	errc := make(chan error, 1)
	go func() { errc <- svc.Run(context.Background()) }()
	peer.Accept(2 * time.Second)
	require.Eventually(t, func() bool { return svc.Status().Bridge }, time.Second, 5*time.Millisecond)

	svc.Stop()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("service did not stop")
	}
	assert.True(t, b.stopped.Load())
	assert.False(t, svc.Status().Bridge)
}

func TestServiceStopDuringBridgeStartup(t *testing.T) {
	peer := peertest.NewPeer(t)
	_, feed := peertest.NewFeed(types.SignalHRV)
	svc := New(testConfig(peer), []sensor.Feed{feed}, zerolog.Nop())
	b := &stubBridge{}
	b.onStart = svc.Stop
	svc.AddBridge(b)

	errc := make(chan error, 1)
	go func() { errc <- svc.Run(context.Background()) }()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("stop during startup was lost")
	}
	assert.Zero(t, peer.Accepted())
	assert.True(t, b.stopped.Load())
}

func TestServiceRunAfterStop(t *testing.T) {
	peer := peertest.NewPeer(t)
	_, feed := peertest.NewFeed(types.SignalHRV)
	svc := New(testConfig(peer), []sensor.Feed{feed}, zerolog.Nop())

	svc.Stop()
	assert.NoError(t, svc.Run(context.Background()))
	assert.Zero(t, peer.Accepted())
}
