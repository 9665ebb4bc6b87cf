// Package config loads the load generator's configuration from
// environment variables (with optional .env file support), grounded
// on ws/config.go's caarlos0/env + godotenv approach.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds all load generator configuration.
//
// Tags:
//
//	env: Environment variable name
//	envDefault: Default value if not set
type Config struct {
	// Broker basics
	KafkaBrokers  string `env:"RMST_KAFKA_BROKERS" envDefault:"localhost:9092"`
	ConsumerGroup string `env:"RMST_CONSUMER_GROUP" envDefault:"rmst-loadgen"`
	Topics        string `env:"RMST_TOPICS" envDefault:"rmst.loadtest"`

	// Workload shape
	ProduceRate     int           `env:"RMST_PRODUCE_RATE" envDefault:"100"` // messages/sec
	RampSeconds     int           `env:"RMST_RAMP_SECONDS" envDefault:"10"`
	SustainSeconds  int           `env:"RMST_SUSTAIN_SECONDS" envDefault:"60"`
	CycleCount      int64         `env:"RMST_CYCLE_COUNT" envDefault:"0"` // 0 = unbounded; else advertises sequence_tgt_max
	MetricsInterval time.Duration `env:"RMST_METRICS_INTERVAL" envDefault:"15s"`

	// Resource limits
	CPULimit    float64 `env:"RMST_CPU_LIMIT" envDefault:"1.0"`
	MemoryLimit int64   `env:"RMST_MEMORY_LIMIT" envDefault:"536870912"` // 512MB

	// Safety thresholds: the pause threshold backs off consumption
	// (resource.Guard.AllowConsume); the reject threshold feeds
	// resource.Guard.ShouldReject
	CPURejectThreshold float64 `env:"RMST_CPU_REJECT_THRESHOLD" envDefault:"75.0"`
	CPUPauseThreshold  float64 `env:"RMST_CPU_PAUSE_THRESHOLD" envDefault:"80.0"`

	// Telemetry control-plane (optional)
	NATSURL string `env:"RMST_NATS_URL" envDefault:""`

	// Dashboard
	DashboardAddr string `env:"RMST_DASHBOARD_ADDR" envDefault:":9102"`

	// Metrics HTTP surface
	MetricsAddr string `env:"RMST_METRICS_ADDR" envDefault:":9101"`

	// Logging
	LogLevel  string `env:"RMST_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"RMST_LOG_FORMAT" envDefault:"json"`
}

// Load reads configuration from a .env file (if present) and the
// environment. Priority: env vars > .env file > defaults.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		// OK if missing: in production we rely on real env vars only.
		_ = err
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks configuration for errors.
func (c *Config) Validate() error {
	if c.KafkaBrokers == "" {
		return fmt.Errorf("RMST_KAFKA_BROKERS is required")
	}
	if c.ConsumerGroup == "" {
		return fmt.Errorf("RMST_CONSUMER_GROUP is required")
	}
	if c.ProduceRate < 0 {
		return fmt.Errorf("RMST_PRODUCE_RATE must be >= 0, got %d", c.ProduceRate)
	}
	if c.CPURejectThreshold < 0 || c.CPURejectThreshold > 100 {
		return fmt.Errorf("RMST_CPU_REJECT_THRESHOLD must be 0-100, got %.1f", c.CPURejectThreshold)
	}
	if c.CPUPauseThreshold < 0 || c.CPUPauseThreshold > 100 {
		return fmt.Errorf("RMST_CPU_PAUSE_THRESHOLD must be 0-100, got %.1f", c.CPUPauseThreshold)
	}
	if c.CPUPauseThreshold < c.CPURejectThreshold {
		return fmt.Errorf("RMST_CPU_PAUSE_THRESHOLD (%.1f) must be >= RMST_CPU_REJECT_THRESHOLD (%.1f)",
			c.CPUPauseThreshold, c.CPURejectThreshold)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("RMST_LOG_LEVEL must be one of: debug, info, warn, error (got: %s)", c.LogLevel)
	}
	validLogFormats := map[string]bool{"json": true, "console": true}
	if !validLogFormats[c.LogFormat] {
		return fmt.Errorf("RMST_LOG_FORMAT must be one of: json, console (got: %s)", c.LogFormat)
	}
	return nil
}

// LogConfig emits the loaded configuration via structured logging.
func (c *Config) LogConfig(logger zerolog.Logger) {
	logger.Info().
		Str("kafka_brokers", c.KafkaBrokers).
		Str("consumer_group", c.ConsumerGroup).
		Str("topics", c.Topics).
		Int("produce_rate", c.ProduceRate).
		Int("ramp_seconds", c.RampSeconds).
		Int("sustain_seconds", c.SustainSeconds).
		Int64("cycle_count", c.CycleCount).
		Dur("metrics_interval", c.MetricsInterval).
		Float64("cpu_reject_threshold", c.CPURejectThreshold).
		Float64("cpu_pause_threshold", c.CPUPauseThreshold).
		Str("nats_url", c.NATSURL).
		Str("log_level", c.LogLevel).
		Str("log_format", c.LogFormat).
		Msg("configuration loaded")
}
