package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTelemetry(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 30, 0, 500_000_000, time.FixedZone("CEST", 2*3600))

	hr := NewTelemetry("w1", SignalHeartRate, Sample{Value: 72.9, Timestamp: at})
	assert.Equal(t, TypeHeartRate, hr.Type)
	assert.Equal(t, "w1", hr.DeviceID)
	require.NotNil(t, hr.HeartRate)
	assert.Equal(t, 72, *hr.HeartRate)
	assert.Nil(t, hr.HRV)
	assert.Equal(t, "2024-05-01T10:30:00.5Z", hr.Timestamp)

	hrv := NewTelemetry("w1", SignalHRV, Sample{Value: 41.37, Timestamp: at})
	assert.Equal(t, TypeHRV, hrv.Type)
	require.NotNil(t, hrv.HRV)
	assert.InDelta(t, 41.37, *hrv.HRV, 1e-9)
	assert.Nil(t, hrv.HeartRate)
}

func TestTelemetryWireFields(t *testing.T) {
	msg := NewTelemetry("w1", SignalHeartRate, Sample{Value: 64, Timestamp: time.Unix(0, 0)})
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"heartrate","deviceId":"w1","heartRate":64,"timestamp":"1970-01-01T00:00:00Z"}`, string(data))

	hs, err := json.Marshal(NewHandshake("Watch_001"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"handshake","deviceId":"Watch_001"}`, string(hs))
}

func TestMessageKind(t *testing.T) {
	assert.Equal(t, TypeHandshakeSuccess, Message{Type: " HandShake_Success "}.Kind())
	assert.Equal(t, TypeStart, Message{Type: "START"}.Kind())
}

func TestEndpoint(t *testing.T) {
	assert.True(t, Endpoint{}.IsZero())
	assert.Equal(t, "192.168.1.4:9000", Endpoint{Host: "192.168.1.4", Port: 9000}.Addr())
	assert.Equal(t, "[fe80::1]:9000", Endpoint{Host: "fe80::1", Port: 9000}.Addr())
}

func TestConnectionStateText(t *testing.T) {
	for _, s := range []ConnectionState{StateConnecting, StateConnected, StateReconnecting} {
		text, err := s.MarshalText()
		require.NoError(t, err)
		var back ConnectionState
		require.NoError(t, back.UnmarshalText(text))
		assert.Equal(t, s, back)
	}

	var s ConnectionState
	assert.Error(t, s.UnmarshalText([]byte("closed")))
}

func TestConnectionStateLabel(t *testing.T) {
	assert.Equal(t, "Connecting...", StateConnecting.Label())
	assert.Equal(t, "Connected!", StateConnected.Label())
	assert.Equal(t, "Reconnecting...", StateReconnecting.Label())
}
