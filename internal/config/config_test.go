package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Empty(t, cfg.AuthSecret)
}

// unsetEnv clears keys for the test and restores them afterwards.
func unsetEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, key := range keys {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
}

func TestLoadDefaults(t *testing.T) {
	unsetEnv(t, "PORT", "DB_LOCK_TIMEOUT", "ACCESS_TOKEN_TTL", "NOTIFY_QUEUE")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Address())
	assert.Equal(t, 5*time.Second, cfg.DBLockTimeout)
	assert.Equal(t, 8*time.Hour, cfg.AccessTokenTTL)
	assert.False(t, cfg.NotifyQueue)
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DATABASE_URL", "  postgres://localhost/sareebill  ")
	t.Setenv("DB_LOCK_TIMEOUT", "750ms")
	t.Setenv("BILL_CACHE_TTL", "1m")
	t.Setenv("SMTP_HOST", "smtp.example.com")
	t.Setenv("SMTP_PORT", "2525")
	t.Setenv("NOTIFY_QUEUE", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Address())
	assert.Equal(t, "postgres://localhost/sareebill", cfg.DatabaseURL)
	assert.Equal(t, 750*time.Millisecond, cfg.DBLockTimeout)
	assert.Equal(t, time.Minute, cfg.BillCacheTTL)
	assert.Equal(t, "smtp.example.com:2525", cfg.SMTPAddress())
	assert.True(t, cfg.NotifyQueue)
}

func TestLoadRejectsMalformedDuration(t *testing.T) {
	t.Setenv("DB_LOCK_TIMEOUT", "soon")

	_, err := Load()
	require.Error(t, err)
}
