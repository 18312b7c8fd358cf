package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"drowsyguard/internal/alarm"
	"drowsyguard/internal/alerts"
	"drowsyguard/internal/api"
	"drowsyguard/internal/capture"
	"drowsyguard/internal/config"
	"drowsyguard/internal/detector"
	"drowsyguard/internal/logging"
	"drowsyguard/internal/metrics"
	"drowsyguard/internal/monitor"
	"drowsyguard/internal/notify"
	"drowsyguard/internal/snapshot"
	"drowsyguard/internal/storage"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to YAML or JSON config file")
	envFile := flag.String("env", ".env", "dotenv file loaded before the config")
	flag.Parse()

	if err := run(*configPath, *envFile); err != nil {
		fmt.Fprintln(os.Stderr, "drowsyguard:", err)
		os.Exit(1)
	}
}

func run(configPath, envFile string) error {
	if err := config.LoadDotEnv(envFile); err != nil {
		return fmt.Errorf("load env: %w", err)
	}
	cfgManager, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	cfg := cfgManager.Get()
	logger := logging.NewLogger(cfg.LogLevel)
	instanceID := config.InstanceID(cfg)
	logger.Info("starting drowsyguard", "version", version, "instance_id", instanceID, "config_path", cfgManager.Path())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	device, err := capture.NewDevice(cfg.Capture)
	if err != nil {
		return fmt.Errorf("capture: %w", err)
	}
	det, err := detector.NewGRPCDetector(cfg.Detector, logger)
	if err != nil {
		return fmt.Errorf("detector: %w", err)
	}
	defer det.Close()
	if !det.HealthCheck(ctx) {
		logger.Warn("landmark detector not healthy yet", "addr", cfg.Detector.Addr)
	}

	var actuator alarm.Actuator = alarm.Nop{}
	if cfg.Alarm.Enabled {
		actuator = alarm.NewSoundActuator(cfg.Alarm.Command, logger)
	}
	guard := alarm.NewGuard(actuator, logger)
	defer guard.Silence()

	var mirror *storage.MirrorWriter
	if cfg.Storage.Enabled {
		store, err := storage.NewStore(cfg.Storage)
		if err != nil {
			return fmt.Errorf("storage: %w", err)
		}
		if err := store.Init(ctx); err != nil {
			return fmt.Errorf("storage init: %w", err)
		}
		defer store.Close()
		logPreviousStatus(ctx, store, instanceID, logger)
		mirror = storage.NewMirrorWriter(store, cfg.Storage.QueueSize, cfg.Storage.WriteTimeout, logger)
		mirror.Start(ctx)
		defer mirror.Wait()
	}

	var (
		notifier monitor.Notifier
		kafka    *notify.KafkaNotifier
	)
	if cfg.Notify.Kafka.Enabled {
		kafka = notify.NewKafkaNotifier(cfg.Notify.Kafka, logger)
		kafka.Start(ctx)
		defer kafka.Close()
		notifier = kafka
	}

	snaps := snapshot.NewStore()
	metricsStore := metrics.NewStore()
	alertsStore := alerts.NewStore(cfg.Alerts.StoreLimit)

	deps := monitor.Deps{
		Device:     device,
		Detector:   det,
		Guard:      guard,
		Snapshots:  snaps,
		Metrics:    metricsStore,
		Alerts:     alertsStore,
		Notifier:   notifier,
		Logger:     logger,
		InstanceID: instanceID,
	}
	if mirror != nil {
		deps.Mirror = mirror
	}
	loop := monitor.NewLoop(cfg, deps)

	server := api.NewServer(cfgManager, snaps, metricsStore, alertsStore, loop, logger, version)
	if kafka != nil {
		server.AddStats("notify", func() any { return kafka.Stats() })
	}
	if mirror != nil {
		server.AddStats("mirror", func() any { return mirror.Stats() })
	}
	api.Start(ctx, server)

	stopWatch := make(chan struct{})
	defer close(stopWatch)
	go cfgManager.Watch(3*time.Second, func(next *config.Config) {
		logger.Info("config reloaded", "path", cfgManager.Path())
		loop.UpdateConfig(next)
	}, func(err error) {
		logger.Warn("config reload failed", "error", err)
	}, stopWatch)

	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	select {
	case err = <-done:
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		err = <-done
	}
	logger.Info("drowsyguard stopped")
	return err
}

func loadConfig(path string) (*config.Manager, error) {
	if path != "" {
		m, err := config.NewManager(config.ResolvePath(path))
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		return m, nil
	}
	cfg := config.DefaultConfig()
	config.ApplyEnv(cfg)
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return config.NewStaticManager(cfg), nil
}

// logPreviousStatus reports how the last run of this instance ended.
func logPreviousStatus(ctx context.Context, store storage.Store, instanceID string, logger *slog.Logger) {
	prev, ok, err := store.LoadStatus(ctx, instanceID)
	switch {
	case err != nil:
		logger.Warn("previous status unavailable", "error", err)
	case !ok:
		logger.Info("no previous status for instance", "instance_id", instanceID)
	default:
		logger.Info("previous status found",
			"instance_id", instanceID,
			"status", prev.Status,
			"alert_active", prev.AlertActive,
			"seq", prev.Seq,
			"updated_at", prev.UpdatedAt,
		)
		if prev.AlertActive {
			logger.Warn("previous run ended with an active alert", "status", prev.Status)
		}
	}
}
