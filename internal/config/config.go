package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Port                       int    `env:"PORT" envDefault:"8080"`
	DatabaseURL                string `env:"DATABASE_URL,required"`
	RedisURL                   string `env:"REDIS_URL,required"`
	LogLevel                   string `env:"LOG_LEVEL" envDefault:"info"`
	Environment                string `env:"APP_ENV" envDefault:"development"`
	ServiceAPIKey              string `env:"SERVICE_API_KEY"`
	TimerTickMs                int    `env:"TIMER_TICK_MS" envDefault:"1000"`
	WarningThresholdSeconds    int64  `env:"WARNING_THRESHOLD_SECONDS" envDefault:"60"`
	PausedFallbackSeconds      int64  `env:"PAUSED_FALLBACK_SECONDS" envDefault:"60"`
	RecoveryPlaceholderSeconds int64  `env:"RECOVERY_PLACEHOLDER_SECONDS" envDefault:"1"`
	DefaultGracePeriodSeconds  int64  `env:"DEFAULT_GRACE_PERIOD_SECONDS" envDefault:"300"`
	TimerLeaseEnabled          bool   `env:"TIMER_LEASE_ENABLED" envDefault:"true"`
	TimerConcurrency           int    `env:"TIMER_CONCURRENCY" envDefault:"8"`
	RoomServiceURL             string `env:"ROOM_SERVICE_URL" envDefault:""`
	RoomServiceAPIKey          string `env:"ROOM_SERVICE_API_KEY"`
	RoomRequestTimeoutSeconds  int    `env:"ROOM_REQUEST_TIMEOUT_SECONDS" envDefault:"10"`
	MetricsEnabled             bool   `env:"METRICS_ENABLED" envDefault:"true"`
}

func (c *Config) TimerTick() time.Duration {
	return time.Duration(c.TimerTickMs) * time.Millisecond
}

func (c *Config) RoomRequestTimeout() time.Duration {
	return time.Duration(c.RoomRequestTimeoutSeconds) * time.Second
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) Validate(isProduction bool) error {
	if c.TimerTickMs <= 0 {
		return fmt.Errorf("TIMER_TICK_MS must be positive")
	}
	if c.WarningThresholdSeconds <= 0 {
		return fmt.Errorf("WARNING_THRESHOLD_SECONDS must be positive")
	}
	if c.RecoveryPlaceholderSeconds <= 0 {
		return fmt.Errorf("RECOVERY_PLACEHOLDER_SECONDS must be positive")
	}
	if c.PausedFallbackSeconds < 0 || c.DefaultGracePeriodSeconds < 0 {
		return fmt.Errorf("PAUSED_FALLBACK_SECONDS and DEFAULT_GRACE_PERIOD_SECONDS must not be negative")
	}

	if isProduction {
		if len(c.ServiceAPIKey) < 32 {
			return fmt.Errorf("SERVICE_API_KEY must be at least 32 characters in production (generate with: openssl rand -base64 32)")
		}
		if c.RoomServiceURL == "" {
			log.Warn().Msg("ROOM_SERVICE_URL is empty in production: rooms will not be torn down")
		}
		if strings.HasPrefix(c.RedisURL, "redis://") {
			log.Warn().Msg("REDIS_URL uses redis:// (not TLS) in production: consider using rediss://")
		}
	}

	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
