package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

const (
	StoreModeRedis  = "redis"
	StoreModeMemory = "memory"
)

type Config struct {
	AppEnv         string `env:"APP_ENV" default:"development"`
	Port           string `env:"PORT" default:"8080"`
	AppURL         string `env:"APP_URL"`
	StoreMode      string `env:"STORE_MODE" default:"redis"`
	RedisURL       string `env:"REDIS_URL"`
	KeyPrefix      string `env:"KEY_PREFIX" default:"ws"`
	RelayChannel   string `env:"RELAY_CHANNEL" default:"ws:topic-messages"`
	NodeID         string `env:"NODE_ID"`
	InternalAPIKey string `env:"INTERNAL_API_KEY"`
	LogLevel       string `env:"LOG_LEVEL" default:"info"`
	LogFormat      string `env:"LOG_FORMAT" default:"text"`

	SendBufferSize          int     `env:"SEND_BUFFER_SIZE" default:"16"`
	MaxWebSocketConnections int     `env:"MAX_WEBSOCKET_CONNECTIONS" default:"10000"`
	MaxConnectionsPerIP     int     `env:"MAX_CONNECTIONS_PER_IP" default:"50"`
	ConnectionRate          float64 `env:"CONNECTION_RATE" default:"10"`
	ConnectionBurst         int     `env:"CONNECTION_BURST" default:"20"`

	SubscriptionTTL     time.Duration `env:"SUBSCRIPTION_TTL" default:"1h"`
	HeartbeatInterval   time.Duration `env:"HEARTBEAT_INTERVAL" default:"30s"`
	TopicSweepInterval  time.Duration `env:"TOPIC_SWEEP_INTERVAL" default:"5m"`
	DemoPublishInterval time.Duration `env:"DEMO_PUBLISH_INTERVAL" default:"0s"`
}

func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if cfg.NodeID == "" {
		cfg.NodeID = defaultNodeID()
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func defaultNodeID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "node"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

func validate(cfg *Config) error {
	switch cfg.StoreMode {
	case StoreModeRedis:
		if cfg.RedisURL == "" {
			return errors.New("REDIS_URL is required")
		}
	case StoreModeMemory:
	default:
		return fmt.Errorf("STORE_MODE must be %q or %q, got %q", StoreModeRedis, StoreModeMemory, cfg.StoreMode)
	}

	if strings.TrimSpace(cfg.KeyPrefix) == "" {
		return errors.New("KEY_PREFIX must not be empty")
	}
	if strings.ContainsAny(cfg.KeyPrefix, "{}") {
		return errors.New("KEY_PREFIX must not contain braces")
	}
	if cfg.RelayChannel == "" {
		return errors.New("RELAY_CHANNEL must not be empty")
	}

	if cfg.SubscriptionTTL < time.Second {
		return fmt.Errorf("SUBSCRIPTION_TTL must be at least 1s, got %s", cfg.SubscriptionTTL)
	}
	if cfg.HeartbeatInterval <= 0 {
		return fmt.Errorf("HEARTBEAT_INTERVAL must be positive, got %s", cfg.HeartbeatInterval)
	}
	if cfg.TopicSweepInterval < 0 {
		return fmt.Errorf("TOPIC_SWEEP_INTERVAL must not be negative, got %s", cfg.TopicSweepInterval)
	}
	if cfg.DemoPublishInterval < 0 {
		return fmt.Errorf("DEMO_PUBLISH_INTERVAL must not be negative, got %s", cfg.DemoPublishInterval)
	}

	if cfg.SendBufferSize < 1 {
		return fmt.Errorf("SEND_BUFFER_SIZE must be at least 1, got %d", cfg.SendBufferSize)
	}
	if cfg.MaxWebSocketConnections < 1 {
		return fmt.Errorf("MAX_WEBSOCKET_CONNECTIONS must be at least 1, got %d", cfg.MaxWebSocketConnections)
	}
	if cfg.MaxConnectionsPerIP < 1 {
		return fmt.Errorf("MAX_CONNECTIONS_PER_IP must be at least 1, got %d", cfg.MaxConnectionsPerIP)
	}
	if cfg.ConnectionRate <= 0 || cfg.ConnectionBurst < 1 {
		return errors.New("CONNECTION_RATE must be positive and CONNECTION_BURST at least 1")
	}

	if !cfg.IsDevelopment() && cfg.InternalAPIKey != "" && len(cfg.InternalAPIKey) < 16 {
		return errors.New("INTERNAL_API_KEY must be at least 16 characters outside development")
	}

	return nil
}
