package app

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/aussiebroadwan/walletkit/pkg/httpx"
)

type Config struct {
	BaseURL             string                // Required: wallet service URL
	CallbackAddr        string                // Optional: loopback address for completion messages (default: 127.0.0.1:0)
	ActionTimeout       time.Duration         // Optional: bound on out-of-band actions, 0 waits forever (default: 5m)
	HTTPTimeout         time.Duration         // Optional: per-request timeout (default: 10s)
	RefreshSkew         time.Duration         // Optional: refresh this long before the access token expires (default: 30s)
	AccessToken         string                // Optional: access token from a previous login
	RefreshToken        string                // Optional: refresh token from a previous login
	MetricsAddr         string                // Optional: serve /metrics on this address while running
	CallbackRateLimit   httpx.RateLimitConfig // Optional: limits on the callback listener (default: 30/min, burst 10)
	Env                 string                // Environment (dev, staging, prod) (default: prod)
	LogLevel            string                // Log level (debug, info, warn, error) (default: warn)
	LogFormat           string                // Log format (json, text) (default: text)
	ShutdownGracePeriod time.Duration         // Graceful shutdown timeout (default: 5s)
}

func LoadConfig() Config {
	return Config{
		BaseURL:             os.Getenv("WALLET_BASE_URL"),
		CallbackAddr:        getEnvOrDefault("WALLET_CALLBACK_ADDR", "127.0.0.1:0"),
		ActionTimeout:       getEnvDurationOrDefault("WALLET_ACTION_TIMEOUT", 5*time.Minute),
		HTTPTimeout:         getEnvDurationOrDefault("WALLET_HTTP_TIMEOUT", 10*time.Second),
		RefreshSkew:         getEnvDurationOrDefault("WALLET_REFRESH_SKEW", 30*time.Second),
		AccessToken:         os.Getenv("WALLET_ACCESS_TOKEN"),
		RefreshToken:        os.Getenv("WALLET_REFRESH_TOKEN"),
		MetricsAddr:         os.Getenv("METRICS_ADDR"),
		CallbackRateLimit:   httpx.ParseRateLimitFromEnv("CALLBACK", httpx.CallbackLimit),
		Env:                 getEnvOrDefault("ENV", "prod"),
		LogLevel:            getEnvOrDefault("LOG_LEVEL", "warn"),
		LogFormat:           getEnvOrDefault("LOG_FORMAT", "text"),
		ShutdownGracePeriod: getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 5*time.Second),
	}
}

// Validate reports missing required settings.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return errors.New("WALLET_BASE_URL is required")
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	// Try parsing as duration (e.g., "1h", "30m", "90s")
	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// Bare integers are seconds
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}

	return defaultValue
}
