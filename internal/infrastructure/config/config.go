package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Store     StoreConfig
	Broker    BrokerConfig
	Upstream  UpstreamConfig
	Caller    CallerConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8000"`
	Host string `envconfig:"HOST" default:"127.0.0.1"`
}

// StoreConfig holds permission storage configuration.
type StoreConfig struct {
	DSN      string `envconfig:"STORE_DSN" default:"corsbroker.db"`
	SeedFile string `envconfig:"STORE_SEED_FILE"`
}

// BrokerConfig holds reply chunking and consent prompt settings.
type BrokerConfig struct {
	ChunkSize      int           `envconfig:"CHUNK_SIZE" default:"1048576"`
	ChunkThreshold int           `envconfig:"CHUNK_THRESHOLD" default:"2097152"`
	ChunkGrace     time.Duration `envconfig:"CHUNK_GRACE" default:"1s"`
	ChunkTTL       time.Duration `envconfig:"CHUNK_TTL" default:"5m"`
	PromptTTL      time.Duration `envconfig:"PROMPT_TTL" default:"2m"`
}

// UpstreamConfig holds outgoing HTTP client settings.
type UpstreamConfig struct {
	Timeout           time.Duration `envconfig:"UPSTREAM_TIMEOUT" default:"60s"`
	RequestsPerSecond float64       `envconfig:"UPSTREAM_RPS" default:"0"`
	MaxRedirects      int           `envconfig:"UPSTREAM_MAX_REDIRECTS" default:"20"`
}

// CallerConfig holds settings for the caller side of the message channel.
type CallerConfig struct {
	BrokerURL     string        `envconfig:"BROKER_URL" default:"ws://127.0.0.1:8000/stream"`
	Origin        string        `envconfig:"CALLER_ORIGIN" default:"http://localhost"`
	ReplyTimeout  time.Duration `envconfig:"CALLER_REPLY_TIMEOUT" default:"90s"`
	PromptTimeout time.Duration `envconfig:"CALLER_PROMPT_TIMEOUT" default:"0"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
	File        string `envconfig:"LOG_FILE"`
	MaxSizeMB   int    `envconfig:"LOG_MAX_SIZE_MB" default:"100"`
	MaxBackups  int    `envconfig:"LOG_MAX_BACKUPS" default:"3"`
	MaxAgeDays  int    `envconfig:"LOG_MAX_AGE_DAYS" default:"28"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Validate rejects settings the broker cannot run with.
func (c *Config) Validate() error {
	if c.Broker.ChunkSize <= 0 {
		return fmt.Errorf("invalid config: CHUNK_SIZE must be positive, got %d", c.Broker.ChunkSize)
	}
	if c.Broker.ChunkThreshold < c.Broker.ChunkSize {
		return fmt.Errorf("invalid config: CHUNK_THRESHOLD (%d) below CHUNK_SIZE (%d)",
			c.Broker.ChunkThreshold, c.Broker.ChunkSize)
	}
	if c.Upstream.MaxRedirects < 0 {
		return fmt.Errorf("invalid config: UPSTREAM_MAX_REDIRECTS must not be negative")
	}
	return nil
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8000",
			Host: "127.0.0.1",
		},
		Store: StoreConfig{
			DSN: "corsbroker.db",
		},
		Broker: BrokerConfig{
			ChunkSize:      1 << 20,
			ChunkThreshold: 2 << 20,
			ChunkGrace:     time.Second,
			ChunkTTL:       5 * time.Minute,
			PromptTTL:      2 * time.Minute,
		},
		Upstream: UpstreamConfig{
			Timeout:      60 * time.Second,
			MaxRedirects: 20,
		},
		Caller: CallerConfig{
			BrokerURL:    "ws://127.0.0.1:8000/stream",
			Origin:       "http://localhost",
			ReplyTimeout: 90 * time.Second,
		},
		Logging: LogConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
	}
}
