package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all service configuration.
type Config struct {
	Server  ServerConfig
	Logging LogConfig
	Cache   CacheConfig
	Fetch   FetchConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// CacheConfig holds image cache configuration.
type CacheConfig struct {
	// MaxBytes bounds the decoded-image cache. Zero or negative disables
	// the bound.
	MaxBytes int `envconfig:"CACHE_MAX_BYTES" default:"67108864"`
}

// FetchConfig holds outbound fetch configuration.
type FetchConfig struct {
	// Timeout is the fixed per-load deadline. A fetch that outlives it
	// fails as a network error, not a cancellation.
	Timeout          time.Duration `envconfig:"FETCH_TIMEOUT" default:"3s"`
	UserAgent        string        `envconfig:"FETCH_USER_AGENT" default:"tilefetch/1.0"`
	RatePerSecond    float64       `envconfig:"FETCH_RPS" default:"0"` // 0 = unlimited
	RateBurst        int           `envconfig:"FETCH_BURST" default:"0"`
	BreakerThreshold int           `envconfig:"FETCH_BREAKER_THRESHOLD" default:"10"`
	BreakerCooldown  time.Duration `envconfig:"FETCH_BREAKER_COOLDOWN" default:"30s"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns defaults.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8080",
			Host: "0.0.0.0",
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		Cache: CacheConfig{
			MaxBytes: 64 << 20,
		},
		Fetch: FetchConfig{
			Timeout:          3 * time.Second,
			UserAgent:        "tilefetch/1.0",
			BreakerThreshold: 10,
			BreakerCooldown:  30 * time.Second,
		},
	}
}
