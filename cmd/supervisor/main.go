package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"gcbbot/internal/alert"
	"gcbbot/internal/config"
	"gcbbot/internal/exchange"
	"gcbbot/internal/logging"
	"gcbbot/internal/marketdata"
	"gcbbot/internal/store"
	"gcbbot/internal/supervisor"
	"gcbbot/internal/telemetry"
	"gcbbot/pkg/concurrency"
	"gcbbot/pkg/httpx"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "supervisor: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	logger, err := logging.New(cfg.System.LogLevel)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()
	logger.Info("configuration loaded", "venue", cfg.Supervisor.Venue)

	db, err := store.Open(cfg.Storage.DatabasePath, cfg.Supervisor.ActivityLogRetention)
	if err != nil {
		// Storage unreachable at boot is fatal by contract.
		return fmt.Errorf("storage: %w", err)
	}
	defer db.Close()

	metrics := telemetry.New()

	venueCfg, err := cfg.ActiveVenue()
	if err != nil {
		return err
	}
	instruments := httpx.Instruments{Requests: metrics.HTTPRequests, Seconds: metrics.HTTPSeconds}
	timeout := time.Duration(venueCfg.TimeoutSeconds) * time.Second

	venue := exchange.NewVenueA(venueCfg.BaseURL, timeout, venueCfg.RequestsPerSec, logger, instruments)
	if cfg.Supervisor.Venue == "venue-b" {
		venue = exchange.NewVenueB(venueCfg.BaseURL, timeout, venueCfg.RequestsPerSec, logger, instruments)
	}

	notifier := alert.NewManager(logger)
	if cfg.Alerts.Enabled {
		notifier.AddChannel(alert.NewTelegramChannel(cfg.Alerts.TelegramBotToken, cfg.Alerts.TelegramChatID))
	}

	pool := concurrency.NewWorkerPool(concurrency.PoolConfig{
		Name:        "engine",
		MaxWorkers:  cfg.Concurrency.EnginePoolSize,
		MaxCapacity: cfg.Concurrency.EnginePoolBuffer,
		NonBlocking: true,
	}, logger)

	sup := supervisor.New(supervisor.Deps{
		Venue:        venue,
		Market:       marketdata.NewProvider(venue, cfg.SnapshotTTL()),
		Repo:         store.NewBotRepo(db),
		Creds:        store.NewCredentials(db),
		Notifier:     notifier,
		Metrics:      metrics,
		Logger:       logger,
		Pool:         pool,
		DrainTimeout: cfg.DrainTimeout(),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := sup.Boot(ctx); err != nil {
		return fmt.Errorf("boot: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	if cfg.Telemetry.EnableMetrics {
		g.Go(func() error {
			addr := fmt.Sprintf(":%d", cfg.Telemetry.MetricsPort)
			logger.Info("metrics listening", "addr", addr)
			if err := metrics.Run(ctx, addr); err != nil {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutdown signal received")
		sup.Shutdown()
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("supervisor shut down gracefully")
	return nil
}
