// Package config loads hub server configuration from the environment,
// grounded field-for-field on ws/config.go's caarlos0/env + godotenv
// pattern.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds the hub server's runtime configuration.
type Config struct {
	// Identity
	HubName string `env:"HUB_NAME" envDefault:"default-hub"`

	// HTTP listener (cmd/hubserver demonstration transport only)
	Addr string `env:"HUB_ADDR" envDefault:":8080"`

	// Bus. Empty NATSURL means: use the in-process bus instead.
	NATSURL string `env:"HUB_NATS_URL" envDefault:""`

	// Group mutation ack timeout
	AckTimeout time.Duration `env:"HUB_ACK_TIMEOUT" envDefault:"5s"`

	// Auth (cmd/hubserver demonstration transport only)
	JWTSecret       string        `env:"HUB_JWT_SECRET" envDefault:"dev-secret-change-me"`
	TokenExpiration time.Duration `env:"HUB_TOKEN_EXPIRATION" envDefault:"24h"`

	// Logging
	LogLevel  string `env:"HUB_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"HUB_LOG_FORMAT" envDefault:"json"`

	// Metrics
	MetricsAddr string `env:"HUB_METRICS_ADDR" envDefault:":9090"`
}

// Load reads configuration from an optional .env file and the process
// environment. ENV vars take priority over the .env file, which takes
// priority over struct defaults.
func Load() (*Config, error) {
	// Optional: OK if no .env file is present (e.g. in production).
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	return cfg, nil
}

// Validate checks configuration for obviously invalid values.
func (c *Config) Validate() error {
	if c.HubName == "" {
		return fmt.Errorf("HUB_NAME must not be empty")
	}
	if c.AckTimeout <= 0 {
		return fmt.Errorf("HUB_ACK_TIMEOUT must be > 0, got %s", c.AckTimeout)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("HUB_LOG_LEVEL must be one of debug/info/warn/error, got %q", c.LogLevel)
	}

	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[c.LogFormat] {
		return fmt.Errorf("HUB_LOG_FORMAT must be one of json/console, got %q", c.LogFormat)
	}

	return nil
}
