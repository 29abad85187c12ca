// Package config loads and validates application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Server settings.
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Event log settings. Empty DatabaseURL runs the server purely
	// in-memory (no durable event log, broker falls back to in-process
	// fan-out).
	DatabaseURL string // Postgres URL for the event log.
	NotifyURL   string // Direct Postgres URL for LISTEN/NOTIFY; defaults to DatabaseURL.

	// Engine settings.
	Debounce  time.Duration // completion debounce window
	RulesPath string        // optional override for the embedded rule tables

	// Snapshot settings.
	SnapshotPath     string        // SQLite file; empty disables snapshots
	SnapshotMaxAge   time.Duration // age ceiling past which a snapshot is discarded
	SnapshotInterval time.Duration // how often the server persists a snapshot

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string

	// Rate limiting for the ingest endpoint (per client IP).
	RateLimitEnabled bool
	RateLimitRPS     float64
	RateLimitBurst   int

	// Operational settings.
	LogLevel            string
	MaxRequestBodyBytes int64
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (Config, error) {
	cfg := Config{
		Port:                envInt("ORDERSIGHT_PORT", 8080),
		ReadTimeout:         envDuration("ORDERSIGHT_READ_TIMEOUT", 30*time.Second),
		WriteTimeout:        envDuration("ORDERSIGHT_WRITE_TIMEOUT", 30*time.Second),
		DatabaseURL:         envStr("DATABASE_URL", ""),
		NotifyURL:           envStr("NOTIFY_URL", ""),
		Debounce:            envDuration("ORDERSIGHT_DEBOUNCE", time.Second),
		RulesPath:           envStr("ORDERSIGHT_RULES_PATH", ""),
		SnapshotPath:        envStr("ORDERSIGHT_SNAPSHOT_PATH", "ordersight-snapshot.db"),
		SnapshotMaxAge:      envDuration("ORDERSIGHT_SNAPSHOT_MAX_AGE", 24*time.Hour),
		SnapshotInterval:    envDuration("ORDERSIGHT_SNAPSHOT_INTERVAL", 30*time.Second),
		OTELEndpoint:        envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELInsecure:        envBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		ServiceName:         envStr("OTEL_SERVICE_NAME", "ordersight"),
		RateLimitEnabled:    envBool("ORDERSIGHT_RATE_LIMIT_ENABLED", false),
		RateLimitRPS:        envFloat("ORDERSIGHT_RATE_LIMIT_RPS", 50),
		RateLimitBurst:      envInt("ORDERSIGHT_RATE_LIMIT_BURST", 100),
		LogLevel:            envStr("ORDERSIGHT_LOG_LEVEL", "info"),
		MaxRequestBodyBytes: int64(envInt("ORDERSIGHT_MAX_REQUEST_BODY_BYTES", 1*1024*1024)),
	}

	if cfg.NotifyURL == "" {
		cfg.NotifyURL = cfg.DatabaseURL
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that the configuration is internally consistent.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: ORDERSIGHT_PORT must be in (0, 65535], got %d", c.Port)
	}
	if c.Debounce <= 0 {
		return fmt.Errorf("config: ORDERSIGHT_DEBOUNCE must be positive")
	}
	if c.SnapshotMaxAge <= 0 {
		return fmt.Errorf("config: ORDERSIGHT_SNAPSHOT_MAX_AGE must be positive")
	}
	if c.MaxRequestBodyBytes <= 0 {
		return fmt.Errorf("config: ORDERSIGHT_MAX_REQUEST_BODY_BYTES must be positive")
	}
	if c.RateLimitEnabled {
		if c.RateLimitRPS <= 0 {
			return fmt.Errorf("config: ORDERSIGHT_RATE_LIMIT_RPS must be positive")
		}
		if c.RateLimitBurst <= 0 {
			return fmt.Errorf("config: ORDERSIGHT_RATE_LIMIT_BURST must be positive")
		}
	}
	return nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func envFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
