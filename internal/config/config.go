package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
)

type Config struct {
	NotificationAPIURL string `env:"NOTIFICATION_API_URL,required=true"`
	NotificationWSURL  string `env:"NOTIFICATION_WS_URL"`
	SessionToken       string `env:"SESSION_TOKEN"`
	DatabaseDSN        string `env:"DATABASE_DSN"`
	RedisURL           string `env:"REDIS_URL"`
	RabbitMQURL        string `env:"RABBITMQ_URL"`
	InstanceID         string `env:"INSTANCE_ID"`

	ListStaleAfterSec      int `env:"LIST_STALE_AFTER_SEC,default=30"`
	CountStaleAfterSec     int `env:"COUNT_STALE_AFTER_SEC,default=0"`
	CountPollIntervalSec   int `env:"COUNT_POLL_INTERVAL_SEC,default=30"`
	FetchMaxAttempts       int `env:"FETCH_MAX_ATTEMPTS,default=2"`
	GatewayTimeoutSec      int `env:"GATEWAY_TIMEOUT_SEC,default=10"`
	GatewayRateLimitPerSec int `env:"GATEWAY_RATE_LIMIT_PER_SEC,default=20"`
	PreviewLimit           int `env:"PREVIEW_LIMIT,default=5"`

	APIPort  int    `env:"API_PORT,default=8080"`
	LogLevel string `env:"LOG_LEVEL,default=info"`
}

// Load reads an optional .env file from the working directory and then the
// process environment. Variables already set take precedence over the file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.ListStaleAfterSec < 0 || c.CountStaleAfterSec < 0 {
		return fmt.Errorf("stale thresholds must not be negative")
	}
	if c.CountPollIntervalSec < 1 {
		return fmt.Errorf("COUNT_POLL_INTERVAL_SEC must be >= 1")
	}
	if c.FetchMaxAttempts < 1 {
		return fmt.Errorf("FETCH_MAX_ATTEMPTS must be >= 1")
	}
	if c.PreviewLimit < 1 {
		return fmt.Errorf("PREVIEW_LIMIT must be >= 1")
	}
	return nil
}

func (c *Config) ListStaleAfter() time.Duration {
	return time.Duration(c.ListStaleAfterSec) * time.Second
}

func (c *Config) CountStaleAfter() time.Duration {
	return time.Duration(c.CountStaleAfterSec) * time.Second
}

func (c *Config) CountPollInterval() time.Duration {
	return time.Duration(c.CountPollIntervalSec) * time.Second
}

func (c *Config) GatewayTimeout() time.Duration {
	return time.Duration(c.GatewayTimeoutSec) * time.Second
}
