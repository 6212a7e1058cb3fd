package config

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Scheduling SchedulingConfig `mapstructure:"scheduling"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Log        LogConfig        `mapstructure:"log"`
}

// SchedulingConfig holds JIT scheduling configuration.
type SchedulingConfig struct {
	// ShippingBuffer is subtracted from an order's need date for its last operation.
	ShippingBuffer time.Duration `mapstructure:"shipping_buffer"`
	// Clock is the simulation start, RFC 3339. Empty means the earliest need date minus Horizon.
	Clock   string        `mapstructure:"clock"`
	Horizon time.Duration `mapstructure:"horizon"`
}

// StorageConfig holds storage allocation configuration.
type StorageConfig struct {
	// MaxRetries bounds how often one activity is re-attempted after an infeasible result.
	MaxRetries int `mapstructure:"max_retries"`
	// Disposal enables the threshold disposal policy.
	Disposal bool `mapstructure:"disposal"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ClockTime parses Scheduling.Clock; ok is false when it is empty.
func (c SchedulingConfig) ClockTime() (t time.Time, ok bool, err error) {
	if c.Clock == "" {
		return time.Time{}, false, nil
	}
	t, err = time.Parse(time.RFC3339, c.Clock)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("invalid scheduling.clock %q: %w", c.Clock, err)
	}
	return t, true, nil
}

// LoadConfig loads configuration from file and environment.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("scheduling.shipping_buffer", "0s")
	v.SetDefault("scheduling.clock", "")
	v.SetDefault("scheduling.horizon", "720h")
	v.SetDefault("storage.max_retries", 10)
	v.SetDefault("storage.disposal", true)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// a missing file falls back to defaults
			if _, ok := err.(viper.ConfigParseError); ok {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	v.SetEnvPrefix("APS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if cfg.Storage.MaxRetries < 0 {
		return nil, fmt.Errorf("storage.max_retries cannot be negative, got %d", cfg.Storage.MaxRetries)
	}
	if cfg.Scheduling.ShippingBuffer < 0 {
		return nil, fmt.Errorf("scheduling.shipping_buffer cannot be negative, got %s", cfg.Scheduling.ShippingBuffer)
	}

	return &cfg, nil
}

// SetupLogger creates a logger with the configured level and format writing to w.
func SetupLogger(cfg *Config, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Log.Format) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}
