// Package config loads and validates application configuration from the environment.
package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

// minHeartbeatInterval is the lower bound the open platform accepts for the
// project heartbeat. Shorter intervals are clamped, not rejected.
const minHeartbeatInterval = 5 * time.Second

type Config struct {
	AppEnv    string `env:"APP_ENV" default:"development"`
	Port      string `env:"PORT" default:"8080"`
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`

	// bilibili open platform credentials
	BiliAccessKey    string `env:"BILI_ACCESS_KEY"`
	BiliAccessSecret string `env:"BILI_ACCESS_SECRET"`
	BiliAppID        int64  `env:"BILI_APP_ID"`
	BiliIdentityCode string `env:"BILI_IDENTITY_CODE"`
	BiliAPIHost      string `env:"BILI_API_HOST"`

	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL" default:"20s"`

	EventQueueSize int `env:"EVENT_QUEUE_SIZE" default:"256"`

	// optional integrations
	RedisURL    string `env:"REDIS_URL"`
	DatabaseURL string `env:"DATABASE_URL"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	if cfg.HeartbeatInterval < minHeartbeatInterval {
		slog.Warn("Heartbeat interval below minimum, clamping",
			"requested", cfg.HeartbeatInterval,
			"minimum", minHeartbeatInterval,
		)
		cfg.HeartbeatInterval = minHeartbeatInterval
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	required := map[string]string{
		"BILI_ACCESS_KEY":    cfg.BiliAccessKey,
		"BILI_ACCESS_SECRET": cfg.BiliAccessSecret,
	}
	for name, value := range required {
		if value == "" {
			return fmt.Errorf("%s is required", name)
		}
	}

	if cfg.BiliAppID == 0 {
		return fmt.Errorf("BILI_APP_ID is required")
	}

	if cfg.EventQueueSize < 1 {
		return fmt.Errorf("EVENT_QUEUE_SIZE must be at least 1, got %d", cfg.EventQueueSize)
	}

	return nil
}
