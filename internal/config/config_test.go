package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("CRON_SECRET", "cron-secret-0123456789")
	t.Setenv("JWT_SECRET", "jwt-secret-0123456789-0123456789-abcdef")
	t.Setenv("CREDENTIAL_KEY", "MDEyMzQ1Njc4OWFiY2RlZjAxMjM0NTY3ODlhYmNkZWY=")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, BackendPostgres, cfg.StoreBackend)
	assert.Equal(t, SealerSecretbox, cfg.CredentialSealer)
	assert.Equal(t, 5, cfg.PollWorkers)
	assert.Equal(t, 45*time.Second, cfg.PollConnectionTimeout)
	assert.Equal(t, 4*time.Minute, cfg.PollDeadline)
	assert.Equal(t, 100, cfg.PollFetchLimit)
	assert.Empty(t, cfg.RedisURL)
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("PORT", "9090")
	t.Setenv("POLL_WORKERS", "8")
	t.Setenv("POLL_CONNECTION_TIMEOUT", "30s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 8, cfg.PollWorkers)
	assert.Equal(t, 30*time.Second, cfg.PollConnectionTimeout)
}

func TestLoadRequiresCronSecret(t *testing.T) {
	setRequired(t)
	t.Setenv("CRON_SECRET", "")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadFirestoreNeedsProject(t *testing.T) {
	setRequired(t)
	t.Setenv("STORE_BACKEND", BackendFirestore)

	_, err := Load()
	require.Error(t, err)

	t.Setenv("FIRESTORE_PROJECT_ID", "solebook-prod")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "solebook-prod", cfg.FirestoreProjectID)
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	setRequired(t)
	t.Setenv("STORE_BACKEND", "sqlite")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRejectsBadNumbers(t *testing.T) {
	setRequired(t)
	t.Setenv("POLL_WORKERS", "five")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRejectsDeadlineShorterThanConnectionTimeout(t *testing.T) {
	setRequired(t)
	t.Setenv("POLL_DEADLINE", "10s")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRejectsLockTTLNotCoveringDeadline(t *testing.T) {
	setRequired(t)
	t.Setenv("POLL_DEADLINE", "10m")

	_, err := Load()
	require.Error(t, err)

	t.Setenv("POLL_LOCK_TTL", "15m")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 15*time.Minute, cfg.PollLockTTL)
}
