// wearlink streams wearable sensor telemetry to a peer discovered on the
// local network.
//
// The peer announces itself by UDP broadcast; wearlink connects over
// TCP, performs a handshake, and sends heart rate and HRV readings while
// the peer has streaming enabled. Connection state is served locally at
// --status-addr and optionally mirrored to Redis (--redis) or MQTT
// (--mqtt).
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/orchestra-mcp/wearlink/config"
	"github.com/orchestra-mcp/wearlink/providers"
	"github.com/orchestra-mcp/wearlink/src/bridge"
	"github.com/orchestra-mcp/wearlink/src/sensor"
	"github.com/orchestra-mcp/wearlink/src/service"
	"github.com/orchestra-mcp/wearlink/src/types"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/valyala/fasthttp"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.FromEnv()
	var (
		logLevel string
		useRedis bool
		useMQTT  bool
	)

	flagSet := pflag.NewFlagSet("wearlink", pflag.ContinueOnError)
	flagSet.StringVar(&cfg.DeviceID, "device-id", cfg.DeviceID, "device identifier sent in the handshake (default: generated)")
	flagSet.StringVar(&cfg.Host, "host", cfg.Host, "peer host; skips discovery when set")
	flagSet.IntVar(&cfg.Port, "port", cfg.Port, "peer TCP port, used with --host")
	flagSet.IntVar(&cfg.DiscoveryPort, "discovery-port", cfg.DiscoveryPort, "UDP port to listen on for peer announcements")
	flagSet.DurationVar(&cfg.HandshakeTimeout, "handshake-timeout", cfg.HandshakeTimeout, "time allowed for the peer to acknowledge the handshake")
	flagSet.DurationVar(&cfg.RetryDelay, "retry-delay", cfg.RetryDelay, "delay between connection attempts")
	flagSet.DurationVar(&cfg.HRVInterval, "hrv-interval", cfg.HRVInterval, "HRV sampling interval")
	flagSet.StringVar(&cfg.StatusAddr, "status-addr", cfg.StatusAddr, "listen address for the status endpoint; empty disables it")
	flagSet.BoolVar(&useRedis, "redis", false, "mirror connection state to Redis (REDIS_ADDR, REDIS_PASSWORD, REDIS_DB, REDIS_STATE_PREFIX)")
	flagSet.BoolVar(&useMQTT, "mqtt", false, "publish connection state as retained MQTT messages (MQTT_BROKER_HOST, MQTT_BROKER_PORT, MQTT_TOPIC_PREFIX)")
	flagSet.StringVar(&logLevel, "log-level", "info", "log level: trace, debug, info, warn, error")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if args := flagSet.Args(); len(args) > 0 {
		return fmt.Errorf("unexpected argument: %s", args[0])
	}

	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("invalid --log-level: %w", err)
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		Level(level).
		With().Timestamp().
		Logger()

	if cfg.DeviceID == "" {
		cfg.DeviceID = "wear-" + uuid.NewString()[:8]
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	heartRate := sensor.NewSimulatedHeartRate(cfg.HeartRateInterval)
	feeds := []sensor.Feed{
		sensor.NewCallbackFeed(types.SignalHeartRate, heartRate),
		sensor.NewSyntheticHRV(cfg.HRVInterval),
	}

	svc := service.New(cfg, feeds, logger)
	if useRedis {
		svc.AddBridge(bridge.NewRedisBridge(cfg.Redis, svc.Hub(), logger))
	}
	if useMQTT {
		svc.AddBridge(bridge.NewMQTTBridge(cfg.MQTT, svc.Hub(), logger))
	}

	if cfg.StatusAddr != "" {
		srv := serveStatus(cfg.StatusAddr, svc, logger)
		defer func() {
			if err := srv.Shutdown(); err != nil {
				logger.Error().Err(err).Msg("status server shutdown")
			}
		}()
	}

	err = svc.Run(ctx)
	if errors.Is(err, context.Canceled) {
		logger.Info().Msg("shutting down")
		return nil
	}
	return err
}

// serveStatus starts the status surface in the background.
func serveStatus(addr string, svc *service.Service, logger zerolog.Logger) *fasthttp.Server {
	app := fiber.New()
	status := providers.NewStatusProvider(svc, logger)
	status.RegisterRoutes(app)

	srv := &fasthttp.Server{
		Handler: status.Handler(app),
		Name:    "wearlink",
	}
	go func() {
		logger.Info().Str("addr", addr).Msg("status endpoint listening")
		if err := srv.ListenAndServe(addr); err != nil {
			logger.Error().Err(err).Msg("status server stopped")
		}
	}()
	return srv
}
