package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, time.Second, cfg.Debounce)
	assert.Equal(t, "ordersight-snapshot.db", cfg.SnapshotPath)
	assert.Equal(t, 24*time.Hour, cfg.SnapshotMaxAge)
	assert.Equal(t, 30*time.Second, cfg.SnapshotInterval)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, int64(1024*1024), cfg.MaxRequestBodyBytes)
	assert.False(t, cfg.RateLimitEnabled)
	assert.Equal(t, 50.0, cfg.RateLimitRPS)
	assert.Equal(t, 100, cfg.RateLimitBurst)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ORDERSIGHT_PORT", "9090")
	t.Setenv("ORDERSIGHT_DEBOUNCE", "250ms")
	t.Setenv("DATABASE_URL", "postgres://localhost/ordersight")
	t.Setenv("ORDERSIGHT_LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 250*time.Millisecond, cfg.Debounce)
	assert.Equal(t, "postgres://localhost/ordersight", cfg.DatabaseURL)
	assert.Equal(t, "postgres://localhost/ordersight", cfg.NotifyURL,
		"notify URL defaults to the pool URL")
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadNotifyURLOverride(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://pgbouncer:6432/ordersight")
	t.Setenv("NOTIFY_URL", "postgres://direct:5432/ordersight")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres://direct:5432/ordersight", cfg.NotifyURL)
}

func TestLoadInvalidValuesFallBack(t *testing.T) {
	// Unparseable env values keep the defaults rather than failing.
	t.Setenv("ORDERSIGHT_DEBOUNCE", "not-a-duration")
	t.Setenv("ORDERSIGHT_SNAPSHOT_MAX_AGE", "soon")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, time.Second, cfg.Debounce)
	assert.Equal(t, 24*time.Hour, cfg.SnapshotMaxAge)
}

func TestValidate(t *testing.T) {
	t.Setenv("ORDERSIGHT_PORT", "99999")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ORDERSIGHT_PORT")

	t.Setenv("ORDERSIGHT_PORT", "8080")
	t.Setenv("ORDERSIGHT_MAX_REQUEST_BODY_BYTES", "-1")
	_, err = Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MAX_REQUEST_BODY_BYTES")
}

func TestValidateRateLimit(t *testing.T) {
	t.Setenv("ORDERSIGHT_RATE_LIMIT_ENABLED", "true")
	t.Setenv("ORDERSIGHT_RATE_LIMIT_RPS", "-5")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RATE_LIMIT_RPS")

	// Invalid settings are ignored entirely when the limiter is off.
	t.Setenv("ORDERSIGHT_RATE_LIMIT_ENABLED", "false")
	_, err = Load()
	require.NoError(t, err)
}
