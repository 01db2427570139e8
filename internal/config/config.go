// Package config loads metered-server settings from the environment and an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/flowgraph/metered/internal/core/channel"
	"github.com/flowgraph/metered/internal/infrastructure/logging"
	"github.com/flowgraph/metered/pkg/validation"
)

// Config holds all configuration for the metered server
type Config struct {
	Server   ServerConfig
	Log      LogConfig
	Channels ChannelConfig
}

type ServerConfig struct {
	Addr            string        `env:"METERED_ADDR" envDefault:":8080" validate:"required,hostname_port"`
	ShutdownTimeout time.Duration `env:"METERED_SHUTDOWN_TIMEOUT" envDefault:"10s" validate:"min=0"`
}

type LogConfig struct {
	Level  string `env:"METERED_LOG_LEVEL" envDefault:"info" validate:"oneof=trace debug info warn warning error"`
	Format string `env:"METERED_LOG_FORMAT" envDefault:"console" validate:"oneof=console json"`
}

type ChannelConfig struct {
	QueueCapacity     int           `env:"METERED_QUEUE_CAPACITY" envDefault:"1024" validate:"min=1"`
	BroadcastCapacity int           `env:"METERED_BROADCAST_CAPACITY" envDefault:"256" validate:"min=1"`
	MetricsPrefix     string        `env:"METERED_METRICS_PREFIX" envDefault:"metered" validate:"required,metric_name"`
	WorkloadRate      time.Duration `env:"METERED_WORKLOAD_RATE" envDefault:"50ms" validate:"min=1ms"`
}

// Load reads the given .env files (".env" when none are named), then the
// process environment, and validates the result. Missing .env files are
// ignored; variables already set in the environment win over file values.
func Load(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load env file: %w", err)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	return validation.Struct(c)
}

// Logger builds the root logger described by the log settings.
func (c *Config) Logger() zerolog.Logger {
	return logging.New(logging.Stdout(), c.Log.Level, logging.Format(c.Log.Format))
}

// Runtime returns the channel constructor defaults, logging through log.
func (c *Config) Runtime(log zerolog.Logger) channel.RuntimeConfig {
	return channel.RuntimeConfig{
		QueueCapacity:     c.Channels.QueueCapacity,
		BroadcastCapacity: c.Channels.BroadcastCapacity,
		Logger:            &log,
	}
}
