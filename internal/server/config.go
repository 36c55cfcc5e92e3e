// Package server provides configuration loading with runtime defaults and a
// sanitize pass for the ChatRelay service.
package server

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds the server configuration settings including security
// controls. All fields can be overridden from the environment.
type Config struct {
	Port                    string        `envconfig:"SERVER_PORT" default:":8080"`
	AllowedOrigins          []string      `envconfig:"ALLOWED_ORIGINS" default:"http://localhost:8080"`
	MaxMessageSize          int64         `envconfig:"MAX_MESSAGE_SIZE" default:"4096"`
	RateLimitBurst          int           `envconfig:"RATE_LIMIT_BURST" default:"20"`
	RateLimitRefillInterval time.Duration `envconfig:"RATE_LIMIT_REFILL_INTERVAL" default:"1s"`
}

// NewConfig creates a Config populated with default values for all settings.
func NewConfig() *Config {
	cfg := &Config{
		Port:                    ":8080",
		AllowedOrigins:          []string{"http://localhost:8080"},
		MaxMessageSize:          4096,
		RateLimitBurst:          20,
		RateLimitRefillInterval: time.Second,
	}
	return cfg.sanitize()
}

// NewConfigFromEnv creates a Config from environment variables, falling back
// to defaults for anything unset.
func NewConfigFromEnv() (*Config, error) {
	cfg := &Config{}
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("load config from environment: %w", err)
	}
	return cfg.sanitize(), nil
}

func (c *Config) sanitize() *Config {
	if c.Port == "" {
		c.Port = ":8080"
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 4096
	}
	if c.RateLimitBurst <= 0 {
		c.RateLimitBurst = 20
	}
	if c.RateLimitRefillInterval <= 0 {
		c.RateLimitRefillInterval = time.Second
	}
	return c
}
