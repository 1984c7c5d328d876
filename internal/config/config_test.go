package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 86400*time.Second, cfg.JWT.AccessTTL)
	assert.Equal(t, 604800*time.Second, cfg.JWT.RefreshTTL)
	assert.Equal(t, 604800*time.Second, cfg.JWT.RefreshWindow)
	assert.Equal(t, 3, cfg.Broker.MaxRetry)
	assert.Equal(t, PoolConfig{Core: 10, Max: 20, QueueCapacity: 200, KeepAlive: time.Minute}, cfg.Pools.Article)
	assert.Equal(t, PoolConfig{Core: 3, Max: 8, QueueCapacity: 50, KeepAlive: time.Minute}, cfg.Pools.Notification)
	assert.Equal(t, 60*time.Second, cfg.Pools.AwaitTermination)
	assert.Equal(t, 30*time.Second, cfg.Context.RequestTimeout)
	assert.Equal(t, "http://localhost:3000", cfg.HTTP.CORSOrigins)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("JWT_REFRESH_WINDOW", "3600")
	t.Setenv("POOL_STATS_CORE", "2")
	t.Setenv("POOL_STATS_KEEP_ALIVE", "5s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, time.Hour, cfg.JWT.RefreshWindow)
	assert.Equal(t, 2, cfg.Pools.Stats.Core)
	assert.Equal(t, 5*time.Second, cfg.Pools.Stats.KeepAlive)
	assert.Equal(t, 10, cfg.Pools.Stats.Max)
}

func TestLoadRejectsMissingSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	_, err := Load()
	require.Error(t, err)
}

func TestLoadRejectsUnknownBroker(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("BROKER_KIND", "carrier-pigeon")
	_, err := Load()
	require.Error(t, err)
}

func TestLoadRejectsRefreshNotOutlivingAccess(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("JWT_ACCESS_TTL", "7200")
	t.Setenv("JWT_REFRESH_TTL", "7200")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_REFRESH_TTL")

	t.Setenv("JWT_REFRESH_TTL", "7201")
	_, err = Load()
	require.NoError(t, err)
}
