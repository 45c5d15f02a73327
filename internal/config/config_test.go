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

	assert.Equal(t, ":8081", cfg.ListenAddr)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Empty(t, cfg.DatabaseURL)
	assert.Empty(t, cfg.BoltPath)
	assert.Equal(t, 10*time.Second, cfg.FlushInterval)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("LISTEN_ADDR", ":9090")
	t.Setenv("REDIS_ADDR", "cache.internal:6380")
	t.Setenv("DATABASE_URL", "postgres://relay@db/boards")
	t.Setenv("BOLT_PATH", "/var/lib/relay/boards.db")
	t.Setenv("FLUSH_INTERVAL", "2s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.ListenAddr)
	assert.Equal(t, "cache.internal:6380", cfg.RedisAddr)
	assert.Equal(t, "postgres://relay@db/boards", cfg.DatabaseURL)
	assert.Equal(t, "/var/lib/relay/boards.db", cfg.BoltPath)
	assert.Equal(t, 2*time.Second, cfg.FlushInterval)
}

func TestLoadRejectsBadFlushInterval(t *testing.T) {
	t.Setenv("FLUSH_INTERVAL", "not-a-duration")

	_, err := Load()
	assert.Error(t, err)
}
