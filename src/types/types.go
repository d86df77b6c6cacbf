package types

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// Message type discriminators used on the wire.
const (
	TypeDiscovery        = "discovery"
	TypeHandshake        = "handshake"
	TypeHandshakeSuccess = "handshake_success"
	TypeStart            = "start"
	TypeStop             = "stop"
	TypeHeartRate        = "heartrate"
	TypeHRV              = "hrv"
)

// Message is one newline-delimited JSON record exchanged with the peer.
type Message struct {
	Type      string   `json:"type"`
	DeviceID  string   `json:"deviceId,omitempty"`
	IP        string   `json:"ip,omitempty"`
	Port      int      `json:"port,omitempty"`
	HeartRate *int     `json:"heartRate,omitempty"`
	HRV       *float64 `json:"hrv,omitempty"`
	Timestamp string   `json:"timestamp,omitempty"`
}

// Kind returns the lower-cased type discriminator.
func (m Message) Kind() string {
	return strings.ToLower(strings.TrimSpace(m.Type))
}

// NewHandshake builds the first message sent on every connection.
func NewHandshake(deviceID string) Message {
	return Message{Type: TypeHandshake, DeviceID: deviceID}
}

// NewTelemetry builds the outbound message for one sensor sample.
// Heart rate is carried as an integer, HRV as a number.
func NewTelemetry(deviceID string, signal Signal, s Sample) Message {
	msg := Message{
		Type:      string(signal),
		DeviceID:  deviceID,
		Timestamp: FormatTimestamp(s.Timestamp),
	}
	switch signal {
	case SignalHeartRate:
		hr := int(s.Value)
		msg.HeartRate = &hr
	default:
		v := s.Value
		msg.HRV = &v
	}
	return msg
}

// FormatTimestamp renders t as an ISO-8601 instant in UTC.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// Endpoint is a peer address announced over discovery.
type Endpoint struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// Addr returns the endpoint in host:port form.
func (e Endpoint) Addr() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// IsZero reports whether the endpoint is unset.
func (e Endpoint) IsZero() bool { return e.Host == "" && e.Port == 0 }

// ConnectionState is the three-state indicator rendered by a UI.
type ConnectionState int

const (
	StateConnecting ConnectionState = iota
	StateConnected
	StateReconnecting
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "connecting"
	}
}

// Label is the indicator text shown to the wearer.
func (s ConnectionState) Label() string {
	switch s {
	case StateConnected:
		return "Connected!"
	case StateReconnecting:
		return "Reconnecting..."
	default:
		return "Connecting..."
	}
}

// MarshalText lets the state appear by name in JSON payloads.
func (s ConnectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name produced by MarshalText.
func (s *ConnectionState) UnmarshalText(b []byte) error {
	switch string(b) {
	case "connecting":
		*s = StateConnecting
	case "connected":
		*s = StateConnected
	case "reconnecting":
		*s = StateReconnecting
	default:
		return fmt.Errorf("unknown connection state %q", b)
	}
	return nil
}

// StateEvent is published on every connection state change.
type StateEvent struct {
	DeviceID  string          `json:"device_id"`
	State     ConnectionState `json:"state"`
	Attempt   int             `json:"attempt"`
	Timestamp time.Time       `json:"timestamp"`
}

// Signal names a measured quantity. The value doubles as the
// telemetry message type.
type Signal string

const (
	SignalHeartRate Signal = TypeHeartRate
	SignalHRV       Signal = TypeHRV
)

// Sample is one timestamped sensor reading.
type Sample struct {
	Value     float64
	Timestamp time.Time
}

// Status is a point-in-time snapshot of the client for observers.
type Status struct {
	DeviceID      string          `json:"device_id"`
	State         ConnectionState `json:"state"`
	Label         string          `json:"label"`
	EverConnected bool            `json:"ever_connected"`
	Streaming     bool            `json:"streaming"`
	Endpoint      string          `json:"endpoint,omitempty"`
	Attempts      int             `json:"attempts"`
	Sent          int64           `json:"sent"`
	Bridge        bool            `json:"bridge"`
}
