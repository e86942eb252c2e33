package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigMethods(t *testing.T) {
	t.Run("Addr returns formatted port", func(t *testing.T) {
		cfg := &Config{Port: 3000}
		assert.Equal(t, ":3000", cfg.Addr())
	})

	t.Run("TimerTick converts milliseconds to duration", func(t *testing.T) {
		cfg := &Config{TimerTickMs: 1000}
		assert.Equal(t, time.Second, cfg.TimerTick())
	})

	t.Run("RoomRequestTimeout converts seconds to duration", func(t *testing.T) {
		cfg := &Config{RoomRequestTimeoutSeconds: 10}
		assert.Equal(t, 10*time.Second, cfg.RoomRequestTimeout())
	})
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			RedisURL:                   "rediss://cache:6379",
			TimerTickMs:                1000,
			WarningThresholdSeconds:    60,
			RecoveryPlaceholderSeconds: 1,
			ServiceAPIKey:              "0123456789abcdef0123456789abcdef",
			RoomServiceURL:             "https://rooms.internal",
		}
	}

	t.Run("accepts defaults", func(t *testing.T) {
		assert.NoError(t, valid().Validate(true))
	})

	t.Run("rejects non-positive tick", func(t *testing.T) {
		cfg := valid()
		cfg.TimerTickMs = 0
		assert.Error(t, cfg.Validate(false))
	})

	t.Run("rejects zero placeholder", func(t *testing.T) {
		cfg := valid()
		cfg.RecoveryPlaceholderSeconds = 0
		assert.Error(t, cfg.Validate(false))
	})

	t.Run("short api key only fails in production", func(t *testing.T) {
		cfg := valid()
		cfg.ServiceAPIKey = "short"
		assert.NoError(t, cfg.Validate(false))
		assert.Error(t, cfg.Validate(true))
	})
}

func TestLoad(t *testing.T) {
	keys := []string{
		"PORT", "DATABASE_URL", "REDIS_URL", "LOG_LEVEL", "TIMER_TICK_MS",
		"WARNING_THRESHOLD_SECONDS", "PAUSED_FALLBACK_SECONDS", "TIMER_LEASE_ENABLED",
		"TIMER_CONCURRENCY", "APP_ENV",
	}
	originalEnv := make(map[string]string, len(keys))
	for _, k := range keys {
		originalEnv[k] = os.Getenv(k)
	}

	defer func() {
		for k, v := range originalEnv {
			if v == "" {
				os.Unsetenv(k)
			} else {
				os.Setenv(k, v)
			}
		}
	}()

	t.Run("loads config with defaults", func(t *testing.T) {
		os.Setenv("DATABASE_URL", "postgres://localhost/test")
		os.Setenv("REDIS_URL", "redis://localhost:6379")
		for _, k := range keys[3:] {
			os.Unsetenv(k)
		}
		os.Unsetenv("PORT")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 8080, cfg.Port)
		assert.Equal(t, "postgres://localhost/test", cfg.DatabaseURL)
		assert.Equal(t, "redis://localhost:6379", cfg.RedisURL)
		assert.Equal(t, 1000, cfg.TimerTickMs)
		assert.Equal(t, int64(60), cfg.WarningThresholdSeconds)
		assert.Equal(t, int64(60), cfg.PausedFallbackSeconds)
		assert.Equal(t, int64(1), cfg.RecoveryPlaceholderSeconds)
		assert.Equal(t, int64(300), cfg.DefaultGracePeriodSeconds)
		assert.True(t, cfg.TimerLeaseEnabled)
		assert.Equal(t, 8, cfg.TimerConcurrency)
		assert.Equal(t, "info", cfg.LogLevel)
		assert.False(t, cfg.IsProduction())
	})

	t.Run("loads custom values", func(t *testing.T) {
		os.Setenv("DATABASE_URL", "postgres://localhost/test")
		os.Setenv("REDIS_URL", "redis://localhost:6379")
		os.Setenv("PORT", "3000")
		os.Setenv("TIMER_TICK_MS", "500")
		os.Setenv("TIMER_LEASE_ENABLED", "false")
		os.Setenv("LOG_LEVEL", "debug")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 3000, cfg.Port)
		assert.Equal(t, 500*time.Millisecond, cfg.TimerTick())
		assert.False(t, cfg.TimerLeaseEnabled)
		assert.Equal(t, "debug", cfg.LogLevel)
	})

	t.Run("fails without required DATABASE_URL", func(t *testing.T) {
		os.Unsetenv("DATABASE_URL")
		os.Setenv("REDIS_URL", "redis://localhost:6379")

		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("fails without required REDIS_URL", func(t *testing.T) {
		os.Setenv("DATABASE_URL", "postgres://localhost/test")
		os.Unsetenv("REDIS_URL")

		_, err := Load()
		assert.Error(t, err)
	})
}
