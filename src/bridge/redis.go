package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/orchestra-mcp/wearlink/config"
	"github.com/orchestra-mcp/wearlink/src/types"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultStateTTL bounds how long a device key outlives its last update.
const DefaultStateTTL = 10 * time.Minute

// redisClient is the subset of *redis.Client the bridge uses.
type redisClient interface {
	Ping(ctx context.Context) *redis.StatusCmd
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Close() error
}

// redisEnvelope wraps an event with the originating instance ID so that
// consumers can tell several clients on one broker apart.
type redisEnvelope struct {
	InstanceID string           `json:"instance_id"`
	Event      types.StateEvent `json:"event"`
}

// RedisBridge mirrors state transitions to Redis pub/sub and keeps the
// latest event per device under a key.
type RedisBridge struct {
	client     redisClient
	cfg        config.RedisSettings
	instanceID string
	source     StateSource
	logger     zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.RWMutex
	active bool
	unsub  func()
}

// NewRedisBridge creates a bridge that relays events from source to Redis.
func NewRedisBridge(cfg config.RedisSettings, source StateSource, logger zerolog.Logger) *RedisBridge {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return newRedisBridge(client, cfg, source, logger)
}

func newRedisBridge(client redisClient, cfg config.RedisSettings, source StateSource, logger zerolog.Logger) *RedisBridge {
	ctx, cancel := context.WithCancel(context.Background())
	return &RedisBridge{
		client:     client,
		cfg:        cfg,
		instanceID: uuid.New().String(),
		source:     source,
		logger:     logger.With().Str("component", "redis-bridge").Logger(),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start checks connectivity and begins relaying state events.
func (b *RedisBridge) Start() error {
	if err := b.client.Ping(b.ctx).Err(); err != nil {
		return fmt.Errorf("redis bridge: ping %s: %w", b.cfg.Addr, err)
	}

	events, unsub := b.source.Subscribe("redis-bridge-" + b.instanceID)

	b.mu.Lock()
	b.active = true
	b.unsub = unsub
	b.mu.Unlock()

	b.wg.Add(1)
	go b.relay(events)

	b.logger.Info().
		Str("instance_id", b.instanceID).
		Str("channel", b.cfg.StateChannel()).
		Msg("redis bridge started")
	return nil
}

// Publish sends one event to the state channel and records it as the
// device's latest state.
func (b *RedisBridge) Publish(e types.StateEvent) error {
	data, err := json.Marshal(redisEnvelope{
		InstanceID: b.instanceID,
		Event:      e,
	})
	if err != nil {
		return err
	}
	if err := b.client.Publish(b.ctx, b.cfg.StateChannel(), data).Err(); err != nil {
		return fmt.Errorf("redis bridge: publish: %w", err)
	}
	if e.DeviceID != "" {
		if err := b.client.Set(b.ctx, b.cfg.DeviceKey(e.DeviceID), data, DefaultStateTTL).Err(); err != nil {
			return fmt.Errorf("redis bridge: set: %w", err)
		}
	}
	return nil
}

// Stop unsubscribes from the source and closes the Redis connection.
func (b *RedisBridge) Stop() error {
	b.mu.Lock()
	b.active = false
	unsub := b.unsub
	b.unsub = nil
	b.mu.Unlock()

	b.cancel()
	if unsub != nil {
		unsub()
	}
	b.wg.Wait()
	return b.client.Close()
}

// Available reports whether the bridge is connected.
func (b *RedisBridge) Available() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.active
}

// relay forwards hub events to Redis until the subscription closes.
func (b *RedisBridge) relay(events <-chan types.StateEvent) {
	defer b.wg.Done()
	for {
		select {
		case e, ok := <-events:
			if !ok {
				return
			}
			if err := b.Publish(e); err != nil {
				if b.ctx.Err() != nil {
					return
				}
				b.logger.Error().Err(err).Stringer("state", e.State).Msg("failed to mirror state")
				continue
			}
			b.logger.Debug().Stringer("state", e.State).Int("attempt", e.Attempt).Msg("state mirrored to redis")
		case <-b.ctx.Done():
			return
		}
	}
}
