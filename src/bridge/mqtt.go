package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/orchestra-mcp/wearlink/config"
	"github.com/orchestra-mcp/wearlink/src/types"
	"github.com/rs/zerolog"
)

const (
	// DefaultMQTTQoS is the delivery level for state messages.
	DefaultMQTTQoS byte = 1
	// DefaultMQTTTimeout bounds connect and publish.
	DefaultMQTTTimeout = 5 * time.Second
)

// mqttClient is the subset of mqtt.Client the bridge uses.
type mqttClient interface {
	Connect() mqtt.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTTBridge publishes each state event as a retained message so that a
// dashboard subscribing later still sees the current state.
type MQTTBridge struct {
	client  mqttClient
	cfg     config.MQTTSettings
	qos     byte
	timeout time.Duration
	source  StateSource
	logger  zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.RWMutex
	active bool
	unsub  func()
}

// NewMQTTBridge creates a bridge that relays events from source to an
// MQTT broker.
func NewMQTTBridge(cfg config.MQTTSettings, source StateSource, logger zerolog.Logger) *MQTTBridge {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.BrokerURL())
	opts.SetClientID("wearlink-" + uuid.NewString()[:8])
	opts.SetConnectTimeout(DefaultMQTTTimeout)
	opts.SetAutoReconnect(true)
	return newMQTTBridge(mqtt.NewClient(opts), cfg, source, logger)
}

func newMQTTBridge(client mqttClient, cfg config.MQTTSettings, source StateSource, logger zerolog.Logger) *MQTTBridge {
	ctx, cancel := context.WithCancel(context.Background())
	return &MQTTBridge{
		client:  client,
		cfg:     cfg,
		qos:     DefaultMQTTQoS,
		timeout: DefaultMQTTTimeout,
		source:  source,
		logger:  logger.With().Str("component", "mqtt-bridge").Logger(),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start connects to the broker and begins relaying state events.
func (b *MQTTBridge) Start() error {
	if err := b.wait(b.client.Connect()); err != nil {
		return fmt.Errorf("mqtt bridge: connect %s: %w", b.cfg.BrokerURL(), err)
	}

	events, unsub := b.source.Subscribe("mqtt-bridge")

	b.mu.Lock()
	b.active = true
	b.unsub = unsub
	b.mu.Unlock()

	b.wg.Add(1)
	go b.relay(events)

	b.logger.Info().Str("broker", b.cfg.BrokerURL()).Msg("mqtt bridge started")
	return nil
}

// Publish sends one event to the device's state topic.
func (b *MQTTBridge) Publish(e types.StateEvent) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	topic := b.cfg.StateTopic(e.DeviceID)
	if err := b.wait(b.client.Publish(topic, b.qos, true, data)); err != nil {
		return fmt.Errorf("mqtt bridge: publish %s: %w", topic, err)
	}
	return nil
}

// Stop unsubscribes from the source and disconnects from the broker.
func (b *MQTTBridge) Stop() error {
	b.mu.Lock()
	wasActive := b.active
	b.active = false
	unsub := b.unsub
	b.unsub = nil
	b.mu.Unlock()

	b.cancel()
	if unsub != nil {
		unsub()
	}
	b.wg.Wait()
	if wasActive {
		b.client.Disconnect(250)
	}
	return nil
}

// Available reports whether the bridge is connected.
func (b *MQTTBridge) Available() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.active
}

func (b *MQTTBridge) relay(events <-chan types.StateEvent) {
	defer b.wg.Done()
	for {
		select {
		case e, ok := <-events:
			if !ok {
				return
			}
			if err := b.Publish(e); err != nil {
				b.logger.Error().Err(err).Stringer("state", e.State).Msg("failed to mirror state")
			}
		case <-b.ctx.Done():
			return
		}
	}
}

// wait blocks on a token for at most the configured timeout.
func (b *MQTTBridge) wait(tok mqtt.Token) error {
	if !tok.WaitTimeout(b.timeout) {
		return fmt.Errorf("timed out after %s", b.timeout)
	}
	return tok.Error()
}
