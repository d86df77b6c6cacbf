package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// ClientConfig holds every tunable of the wearable client.
type ClientConfig struct {
	DeviceID string `json:"device_id"`

	// Host and Port pin the peer endpoint. When Host is empty the peer
	// is found through broadcast discovery.
	Host string `json:"host"`
	Port int    `json:"port"`

	DiscoveryPort       int           `json:"discovery_port"`
	DiscoveryTimeout    time.Duration `json:"discovery_timeout"`
	DiscoveryRetryDelay time.Duration `json:"discovery_retry_delay"`

	DialTimeout      time.Duration `json:"dial_timeout"`
	HandshakeTimeout time.Duration `json:"handshake_timeout"`
	WriteTimeout     time.Duration `json:"write_timeout"`
	RetryDelay       time.Duration `json:"retry_delay"`

	HeartRateInterval time.Duration `json:"heart_rate_interval"`
	HRVInterval       time.Duration `json:"hrv_interval"`

	// StatusAddr is the listen address of the status surface; empty
	// disables it.
	StatusAddr string `json:"status_addr"`

	Redis RedisSettings `json:"redis"`
	MQTT  MQTTSettings  `json:"mqtt"`
}

// RedisSettings locates the broker the Redis state bridge mirrors to.
type RedisSettings struct {
	Addr     string `json:"addr"`
	Password string `json:"-"`
	DB       int    `json:"db"`
	// Prefix namespaces the state channel and per-device keys.
	Prefix string `json:"prefix"`
}

// StateChannel is the pub/sub channel state events are published on.
func (r RedisSettings) StateChannel() string { return r.Prefix + "state" }

// DeviceKey holds the latest event for one device.
func (r RedisSettings) DeviceKey(deviceID string) string {
	return r.Prefix + "device:" + deviceID
}

// MQTTSettings locates the broker the MQTT state bridge publishes to.
type MQTTSettings struct {
	Host        string `json:"host"`
	Port        int    `json:"port"`
	TopicPrefix string `json:"topic_prefix"`
}

// BrokerURL is the tcp:// URL of the broker.
func (m MQTTSettings) BrokerURL() string {
	return fmt.Sprintf("tcp://%s:%d", m.Host, m.Port)
}

// StateTopic is the retained topic holding a device's latest state.
func (m MQTTSettings) StateTopic(deviceID string) string {
	return m.TopicPrefix + deviceID + "/state"
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() *ClientConfig {
	return &ClientConfig{
		DiscoveryPort:       8888,
		DiscoveryTimeout:    5 * time.Second,
		DiscoveryRetryDelay: 5 * time.Second,
		DialTimeout:         5 * time.Second,
		HandshakeTimeout:    3 * time.Second,
		WriteTimeout:        10 * time.Second,
		RetryDelay:          3 * time.Second,
		HeartRateInterval:   time.Second,
		HRVInterval:         2 * time.Second,
		StatusAddr:          "127.0.0.1:8090",
		Redis: RedisSettings{
			Addr:   "localhost:6379",
			Prefix: "wearlink:",
		},
		MQTT: MQTTSettings{
			Host:        "localhost",
			Port:        1883,
			TopicPrefix: "wearlink/",
		},
	}
}

// FromEnv loads configuration from WEARLINK_* environment variables and
// the REDIS_* / MQTT_* broker variables. Missing or unparsable values
// keep their defaults.
func FromEnv() *ClientConfig {
	cfg := DefaultConfig()

	envString("WEARLINK_DEVICE_ID", &cfg.DeviceID)
	envString("WEARLINK_HOST", &cfg.Host)
	envString("WEARLINK_STATUS_ADDR", &cfg.StatusAddr)
	envInt("WEARLINK_PORT", &cfg.Port)
	envInt("WEARLINK_DISCOVERY_PORT", &cfg.DiscoveryPort)
	envDuration("WEARLINK_DISCOVERY_TIMEOUT", &cfg.DiscoveryTimeout)
	envDuration("WEARLINK_DISCOVERY_RETRY_DELAY", &cfg.DiscoveryRetryDelay)
	envDuration("WEARLINK_DIAL_TIMEOUT", &cfg.DialTimeout)
	envDuration("WEARLINK_HANDSHAKE_TIMEOUT", &cfg.HandshakeTimeout)
	envDuration("WEARLINK_WRITE_TIMEOUT", &cfg.WriteTimeout)
	envDuration("WEARLINK_RETRY_DELAY", &cfg.RetryDelay)
	envDuration("WEARLINK_HEART_RATE_INTERVAL", &cfg.HeartRateInterval)
	envDuration("WEARLINK_HRV_INTERVAL", &cfg.HRVInterval)

	// Bridge brokers keep the conventional unprefixed names.
	envString("REDIS_ADDR", &cfg.Redis.Addr)
	envString("REDIS_PASSWORD", &cfg.Redis.Password)
	envInt("REDIS_DB", &cfg.Redis.DB)
	envString("REDIS_STATE_PREFIX", &cfg.Redis.Prefix)
	envString("MQTT_BROKER_HOST", &cfg.MQTT.Host)
	envInt("MQTT_BROKER_PORT", &cfg.MQTT.Port)
	envString("MQTT_TOPIC_PREFIX", &cfg.MQTT.TopicPrefix)
	return cfg
}

// Validate reports the first invalid field.
func (c *ClientConfig) Validate() error {
	if c.DeviceID == "" {
		return errors.New("config: device id is required")
	}
	if c.Host != "" && !validPort(c.Port) {
		return fmt.Errorf("config: port %d out of range", c.Port)
	}
	if !validPort(c.DiscoveryPort) {
		return fmt.Errorf("config: discovery port %d out of range", c.DiscoveryPort)
	}
	durations := map[string]time.Duration{
		"discovery_timeout":     c.DiscoveryTimeout,
		"discovery_retry_delay": c.DiscoveryRetryDelay,
		"dial_timeout":          c.DialTimeout,
		"handshake_timeout":     c.HandshakeTimeout,
		"write_timeout":         c.WriteTimeout,
		"retry_delay":           c.RetryDelay,
		"heart_rate_interval":   c.HeartRateInterval,
		"hrv_interval":          c.HRVInterval,
	}
	for name, d := range durations {
		if d <= 0 {
			return fmt.Errorf("config: %s must be positive, got %s", name, d)
		}
	}
	return nil
}

func validPort(p int) bool { return p > 0 && p <= 65535 }

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
