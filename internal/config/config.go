// Package config loads and validates the application configuration.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete application configuration.
type Config struct {
	Feed     FeedConfig     `mapstructure:"feed"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Anomaly  AnomalyConfig  `mapstructure:"anomaly"`
	Delivery DeliveryConfig `mapstructure:"delivery"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Webhook  WebhookConfig  `mapstructure:"webhook"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// FeedConfig holds market-data feed configuration.
type FeedConfig struct {
	// Symbols whitelists tracked pairs; empty means every pair on the
	// stream.
	Symbols []string `mapstructure:"symbols"`
}

// EngineConfig holds evaluation-engine configuration.
type EngineConfig struct {
	MarketMode         string `mapstructure:"market_mode"`
	CheckpointInterval int    `mapstructure:"checkpoint_interval"`
	MaxBubbles         int    `mapstructure:"max_bubbles"`
}

// TimeframeThresholdsConfig holds anomaly z-score tiers for one timeframe.
type TimeframeThresholdsConfig struct {
	LargeZScore  float64 `mapstructure:"large_z_score"`
	MediumZScore float64 `mapstructure:"medium_z_score"`
	SmallZScore  float64 `mapstructure:"small_z_score"`
	HistoryCap   int     `mapstructure:"history_cap"`
}

// AnomalyConfig holds volume-anomaly detector configuration.
type AnomalyConfig struct {
	MinHistoryLength  int                       `mapstructure:"min_history_length"`
	EMAPeriod         int                       `mapstructure:"ema_period"`
	MinPriceChangePct float64                   `mapstructure:"min_price_change_pct"`
	M5                TimeframeThresholdsConfig `mapstructure:"m5"`
	M15               TimeframeThresholdsConfig `mapstructure:"m15"`
}

// DeliveryConfig holds alert throttling and batching configuration.
type DeliveryConfig struct {
	Cooldown           time.Duration `mapstructure:"cooldown"`
	MaxAlertsPerSymbol int           `mapstructure:"max_alerts_per_symbol"`
	BatchWindow        time.Duration `mapstructure:"batch_window"`
}

// TelegramConfig holds Telegram notification configuration.
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	Enabled        bool          `mapstructure:"enabled"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// WebhookConfig holds webhook notification configuration.
type WebhookConfig struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
	Enabled bool          `mapstructure:"enabled"`
}

// StorageConfig holds persistence configuration.
type StorageConfig struct {
	MaxAlerts int    `mapstructure:"max_alerts"`
	DBPath    string `mapstructure:"db_path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	v.SetEnvPrefix("COINSENTRY")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Engine defaults
	v.SetDefault("engine.market_mode", "bull")
	v.SetDefault("engine.checkpoint_interval", 12)
	v.SetDefault("engine.max_bubbles", 256)

	// Anomaly defaults (tuned production thresholds)
	v.SetDefault("anomaly.min_history_length", 20)
	v.SetDefault("anomaly.ema_period", 20)
	v.SetDefault("anomaly.min_price_change_pct", 0.1)
	v.SetDefault("anomaly.m5.large_z_score", 3.5)
	v.SetDefault("anomaly.m5.medium_z_score", 2.5)
	v.SetDefault("anomaly.m5.small_z_score", 1.5)
	v.SetDefault("anomaly.m5.history_cap", 60)
	v.SetDefault("anomaly.m15.large_z_score", 3.0)
	v.SetDefault("anomaly.m15.medium_z_score", 2.0)
	v.SetDefault("anomaly.m15.small_z_score", 1.2)
	v.SetDefault("anomaly.m15.history_cap", 80)

	// Delivery defaults
	v.SetDefault("delivery.cooldown", "60s")
	v.SetDefault("delivery.max_alerts_per_symbol", 3)
	v.SetDefault("delivery.batch_window", "60s")

	// Telegram defaults
	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")

	// Webhook defaults
	v.SetDefault("webhook.enabled", false)
	v.SetDefault("webhook.timeout", "10s")

	// Storage defaults
	v.SetDefault("storage.max_alerts", 10000)
	v.SetDefault("storage.db_path", "./data/coinsentry.db")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are valid. Out-of-range
// values are rejected, never clamped.
func (c *Config) Validate() error {
	switch c.Engine.MarketMode {
	case "bull", "bear":
	default:
		return fmt.Errorf("engine.market_mode must be one of: bull, bear")
	}
	if c.Engine.CheckpointInterval < 1 {
		return fmt.Errorf("engine.checkpoint_interval must be at least 1")
	}
	if c.Engine.MaxBubbles < 1 {
		return fmt.Errorf("engine.max_bubbles must be at least 1")
	}

	if c.Anomaly.MinHistoryLength < 2 {
		return fmt.Errorf("anomaly.min_history_length must be at least 2")
	}
	if c.Anomaly.EMAPeriod < 2 {
		return fmt.Errorf("anomaly.ema_period must be at least 2")
	}
	if c.Anomaly.MinPriceChangePct < 0 {
		return fmt.Errorf("anomaly.min_price_change_pct must not be negative")
	}
	for name, tf := range map[string]TimeframeThresholdsConfig{"m5": c.Anomaly.M5, "m15": c.Anomaly.M15} {
		if tf.HistoryCap < c.Anomaly.MinHistoryLength {
			return fmt.Errorf("anomaly.%s.history_cap must be at least min_history_length", name)
		}
		if !(tf.SmallZScore > 0 && tf.SmallZScore <= tf.MediumZScore && tf.MediumZScore <= tf.LargeZScore) {
			return fmt.Errorf("anomaly.%s z-score tiers must satisfy 0 < small <= medium <= large", name)
		}
	}

	if c.Delivery.Cooldown < time.Second {
		return fmt.Errorf("delivery.cooldown must be at least 1 second")
	}
	if c.Delivery.MaxAlertsPerSymbol < 1 {
		return fmt.Errorf("delivery.max_alerts_per_symbol must be at least 1")
	}
	if c.Delivery.BatchWindow < 10*time.Second || c.Delivery.BatchWindow > 300*time.Second {
		return fmt.Errorf("delivery.batch_window must be between 10s and 300s")
	}

	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}
	if c.Webhook.Enabled && c.Webhook.URL == "" {
		return fmt.Errorf("webhook.url is required when webhook is enabled")
	}

	if c.Storage.MaxAlerts < 1 {
		return fmt.Errorf("storage.max_alerts must be at least 1")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, console")
	}

	return nil
}
