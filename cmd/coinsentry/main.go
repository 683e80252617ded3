package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dkrylov/coinsentry/internal/anomaly"
	"github.com/dkrylov/coinsentry/internal/config"
	"github.com/dkrylov/coinsentry/internal/delivery"
	"github.com/dkrylov/coinsentry/internal/engine"
	"github.com/dkrylov/coinsentry/internal/feed"
	"github.com/dkrylov/coinsentry/internal/logger"
	"github.com/dkrylov/coinsentry/internal/models"
	"github.com/dkrylov/coinsentry/internal/notify"
	"github.com/dkrylov/coinsentry/internal/storage"
)

var configPath = flag.String("config", "configs/config.yaml", "Path to configuration file")

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	defer logger.Sync()
	logger.Info("Configuration loaded from %s", *configPath)

	store, err := storage.New(cfg.Storage.MaxAlerts, cfg.Storage.DBPath)
	if err != nil {
		logger.Fatal("Failed to initialize storage: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close storage: %v", err)
		}
	}()

	var sinks []delivery.Sink
	var telegramSink *notify.TelegramSink
	if cfg.Telegram.Enabled {
		telegramSink, err = notify.NewTelegramSink(cfg.Telegram.BotToken, cfg.Telegram.ChatID,
			cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase)
		if err != nil {
			logger.Fatal("Failed to initialize Telegram sink: %v", err)
		}
		sinks = append(sinks, telegramSink)
		logger.Info("Telegram sink initialized successfully")
	}
	if cfg.Webhook.Enabled {
		sinks = append(sinks, notify.NewWebhookSink(cfg.Webhook.URL, cfg.Webhook.Timeout))
		logger.Info("Webhook sink initialized: %s", cfg.Webhook.URL)
	}
	if len(sinks) == 0 {
		logger.Warn("No notification sinks enabled; alerts are persisted only")
	}

	controller := delivery.New(delivery.Config{
		Cooldown:           cfg.Delivery.Cooldown,
		MaxAlertsPerSymbol: cfg.Delivery.MaxAlertsPerSymbol,
		BatchWindow:        cfg.Delivery.BatchWindow,
	}, sinks)

	detector := anomaly.New(anomaly.Config{
		MinHistoryLength:  cfg.Anomaly.MinHistoryLength,
		EMAPeriod:         cfg.Anomaly.EMAPeriod,
		MinPriceChangePct: cfg.Anomaly.MinPriceChangePct,
		M5:                thresholds(cfg.Anomaly.M5),
		M15:               thresholds(cfg.Anomaly.M15),
	})

	marketFeed := feed.New(cfg.Feed.Symbols)
	if telegramSink != nil {
		marketFeed.SetNotifier(telegramSink)
	}

	eng, err := engine.New(engine.Config{
		MarketMode:         models.MarketMode(cfg.Engine.MarketMode),
		CheckpointInterval: cfg.Engine.CheckpointInterval,
		MaxBubbles:         cfg.Engine.MaxBubbles,
	}, detector, controller, store, marketFeed.StartTimes)
	if err != nil {
		logger.Fatal("Failed to initialize engine: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, cleaning up...")
		cancel()
	}()

	if cfg.Telegram.Enabled && telegramSink != nil {
		telegramSink.ListenForCommands(ctx)
	}

	if err := marketFeed.Start(); err != nil {
		if telegramSink != nil {
			if sendErr := telegramSink.SendError(err); sendErr != nil {
				logger.Warn("Failed to send error notification to Telegram: %v", sendErr)
			}
		}
		logger.Fatal("Failed to start market feed: %v", err)
	}
	logger.Info("Screening started (mode: %s, cooldown: %v, batch window: %v)",
		eng.MarketMode(), cfg.Delivery.Cooldown, cfg.Delivery.BatchWindow)

	warmupTicker := time.NewTicker(time.Minute)
	defer warmupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			marketFeed.Stop()
			eng.Shutdown()
			logger.Info("Service stopped")
			return

		case batch, ok := <-marketFeed.Snapshots():
			if !ok {
				eng.Shutdown()
				logger.Info("Feed closed, service stopping")
				return
			}
			eng.OnSnapshots(batch)

		case <-warmupTicker.C:
			status := eng.WarmupStatus()
			logger.Info("Warm-up: %d symbols, overall %.1f%% (1h ready: %d/%d)",
				status.TotalSymbols, status.OverallProgress,
				status.Timeframes["1h"].Ready, status.Timeframes["1h"].Total)
		}
	}
}

func thresholds(tf config.TimeframeThresholdsConfig) anomaly.TimeframeThresholds {
	return anomaly.TimeframeThresholds{
		LargeZScore:  tf.LargeZScore,
		MediumZScore: tf.MediumZScore,
		SmallZScore:  tf.SmallZScore,
		HistoryCap:   tf.HistoryCap,
	}
}
