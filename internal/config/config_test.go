package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWithEnvOverrides(t *testing.T) {
	t.Setenv("IDENTITY_JWT_SECRET", "s3cret")
	t.Setenv("DATABASE_DRIVER", "sqlite3")
	t.Setenv("DATABASE_DSN", "file::memory:?cache=shared")
	t.Setenv("REALTIME_TYPING_TTL", "2s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite3", cfg.Database.Driver)
	assert.Equal(t, 2*time.Second, cfg.Realtime.TypingTTL)
	assert.Equal(t, 60*time.Second, cfg.Realtime.PresenceTTL)
	assert.Equal(t, 256, cfg.Realtime.SessionQueueSize)
	assert.Equal(t, "none", cfg.Events.Broker)
}

func TestLoadRejectsMissingSecret(t *testing.T) {
	t.Setenv("IDENTITY_MODE", "jwt")
	t.Setenv("IDENTITY_JWT_SECRET", "")

	_, err := Load()
	require.Error(t, err)
}

func TestLoadRejectsHeartbeatLongerThanTTL(t *testing.T) {
	t.Setenv("IDENTITY_JWT_SECRET", "s3cret")
	t.Setenv("REALTIME_HEARTBEAT_INTERVAL", "90s")

	_, err := Load()
	require.Error(t, err)
}
