package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"codeberg.org/mutker/hubctl/internal/api"
	"codeberg.org/mutker/hubctl/internal/broadcast"
	"codeberg.org/mutker/hubctl/internal/config"
	"codeberg.org/mutker/hubctl/internal/errors"
	"codeberg.org/mutker/hubctl/internal/hub"
	"codeberg.org/mutker/hubctl/internal/inlet"
	"codeberg.org/mutker/hubctl/internal/logger"
	"codeberg.org/mutker/hubctl/internal/metrics"
	"codeberg.org/mutker/hubctl/internal/mqtt"
	"codeberg.org/mutker/hubctl/internal/pid"
	"codeberg.org/mutker/hubctl/internal/telemetry"
	"codeberg.org/mutker/hubctl/internal/thresholds"
)

const shutdownTimeout = 10 * time.Second

var cfg *config.Config

func init() {
	var err error
	cfg, err = config.Load()
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Level(), logger.IsService())
	logger.Debug().Interface("config", redacted(cfg)).Msg("Config loaded")
}

func main() {
	pidFile := pid.New(cfg.PIDFile)
	if err := pidFile.Write(); err != nil {
		if coded, ok := err.(errors.Error); ok {
			logger.FatalWithCode(coded).Str("path", pidFile.Path()).Msg("Failed to write PID file")
		}
		logger.Fatal().Err(err).Msg("Failed to write PID file")
	}
	defer func() {
		if err := pidFile.Remove(); err != nil {
			logger.Error().Err(err).Msg("Failed to remove PID file")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel)

	if err := run(ctx); err != nil {
		if coded, ok := err.(errors.Error); ok {
			logger.ErrorWithCode(coded).Msg("Exiting with error")
		} else {
			logger.Error().Err(err).Msg("Exiting with error")
		}
		_ = pidFile.Remove()
		os.Exit(1)
	}

	logger.Info().Msg("Exiting...")
}

func handleSignals(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigs
	logger.Info().Str("signal", sig.String()).Msg("Received termination signal")
	cancel()
}

// app holds everything that needs an orderly shutdown.
type app struct {
	metrics     *metrics.Metrics
	broadcaster *broadcast.Broadcaster
	websocket   *broadcast.WebSocket
	hub         *hub.Hub
	device      *inlet.Device
	relay       *inlet.Relay
	closers     []func() error
}

func run(ctx context.Context) error {
	a, err := build(ctx)
	if err != nil {
		a.close()
		return errors.New().Wrap(errors.ErrInitApp, err)
	}
	defer a.close()

	// The broadcaster outlives the loop so the final events still go out.
	bctx, stopBroadcast := context.WithCancel(context.Background())
	var bwg sync.WaitGroup
	bwg.Add(1)
	go func() {
		defer bwg.Done()
		_ = a.broadcaster.Run(bctx)
	}()
	defer func() {
		stopBroadcast()
		bwg.Wait()
	}()

	srv := &http.Server{
		Addr: cfg.Listen,
		Handler: api.NewRouter(api.Options{
			Hub:       a.hub,
			WebSocket: a.websocket,
			Metrics:   a.metrics,
			Logger:    logger.New("api"),
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	srvErr := make(chan error, 1)
	go func() {
		logger.Info().Str("listen", cfg.Listen).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			srvErr <- err
		}
		close(srvErr)
	}()

	var wg sync.WaitGroup
	if a.relay != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = a.relay.Run(ctx)
		}()
	}

	loopCtx, stopLoop := context.WithCancel(ctx)
	loopDone := make(chan error, 1)
	go func() { loopDone <- a.hub.Run(loopCtx) }()

	var runErr error
	select {
	case <-ctx.Done():
	case err, ok := <-srvErr:
		if ok && err != nil {
			runErr = errors.New().Wrap(errors.ErrUnavailable, err)
		}
	}

	stopLoop()
	if err := <-loopDone; err != nil && runErr == nil {
		runErr = errors.New().Wrap(errors.ErrControlLoop, err)
	}

	if a.device != nil {
		if err := a.device.Stop(); err != nil {
			logger.Warn().Err(err).Msg("Failed to unsubscribe device inlet")
		}
	}
	wg.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	a.websocket.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.ErrorWithCode(errors.New().Wrap(errors.ErrShutdownFailed, err)).Msg("HTTP server shutdown failed")
	}

	return runErr
}

func build(ctx context.Context) (*app, error) {
	a := &app{
		metrics:   metrics.New(),
		websocket: broadcast.NewWebSocket(logger.New("websocket")),
	}

	a.broadcaster = broadcast.New(broadcast.Options{
		Counter: a.metrics,
		Logger:  logger.New("broadcast"),
	})
	a.broadcaster.Register(a.websocket)

	store := thresholds.NewStore(cfg.ThresholdsFile, logger.New("thresholds"))

	collector, err := telemetry.NewService(telemetry.Config{
		Enabled:      cfg.Telemetry,
		DBPath:       cfg.TelemetryDB,
		BatchSize:    cfg.TelemetryBatch,
		BatchTimeout: cfg.TelemetryFlush,
	}, logger.New("telemetry"))
	if err != nil {
		return a, err
	}
	a.closers = append(a.closers, collector.Close)

	a.hub = hub.New(hub.Options{
		Interval:    cfg.Interval,
		Staleness:   cfg.Staleness,
		HistorySize: cfg.HistorySize,
		Thresholds:  store.Load(),
		Sink:        a.broadcaster,
		Persister:   store,
		Recorder:    collector,
		Instruments: a.metrics,
		Simulator:   hub.NewSimulator(cfg.Seed),
		Logger:      logger.New("hub"),
	})
	a.websocket.Greeting = a.greeting

	if cfg.MQTT.Enabled {
		client, err := mqtt.Connect(mqtt.Config{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
		}, logger.New("mqtt"))
		if err != nil {
			return a, err
		}
		a.closers = append(a.closers, func() error { client.Disconnect(); return nil })

		a.broadcaster.Register(broadcast.NewMQTT(client, cfg.MQTT.TopicPrefix))

		a.device = inlet.NewDevice(client, cfg.MQTT.TopicPrefix, a.hub, logger.New("inlet.device"))
		if err := a.device.Start(); err != nil {
			return a, err
		}
	}

	if cfg.Redis.Enabled {
		client, err := broadcast.DialRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password)
		if err != nil {
			return a, err
		}
		a.closers = append(a.closers, client.Close)
		a.broadcaster.Register(broadcast.NewRedis(client, cfg.Redis.Channel, cfg.Redis.Key))
	}

	if cfg.Kafka.Enabled {
		w := broadcast.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		a.closers = append(a.closers, w.Close)
		a.broadcaster.Register(broadcast.NewKafka(w))
	}

	if cfg.Relay.Enabled {
		a.relay = inlet.NewRelay(cfg.Relay.URL, a.hub, logger.New("inlet.relay"))
	}

	return a, nil
}

// greeting is what a dashboard receives on connect: the full current state.
func (a *app) greeting() []broadcast.Event {
	snap := a.hub.Snapshot()
	return []broadcast.Event{
		broadcast.NewEvent(broadcast.SensorUpdate, snap),
		broadcast.NewEvent(broadcast.ControlUpdate, snap.Actuators),
		broadcast.NewEvent(broadcast.ManualModeUpdate, snap.ManualOverride),
		broadcast.NewEvent(broadcast.ThresholdUpdate, a.hub.Thresholds()),
	}
}

// close releases resources in reverse order of acquisition.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logger.Warn().Err(err).Msg("Failed to release resource")
		}
	}
	a.closers = nil
}

func redacted(c *config.Config) config.Config {
	out := *c
	if out.MQTT.Password != "" {
		out.MQTT.Password = "***"
	}
	if out.Redis.Password != "" {
		out.Redis.Password = "***"
	}
	return out
}
