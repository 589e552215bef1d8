package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("CSRF_SECRET", "csrf-secret")
	t.Setenv("TOKEN_SECRET", "token-secret")
}

func TestLoadConfigDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.AppAddr)
	assert.Equal(t, 168*time.Hour, cfg.SessionTTL)
	assert.Equal(t, 15*time.Minute, cfg.GuardRevalidateAfter)
	assert.Equal(t, 5*time.Second, cfg.VerifyTimeout)
	assert.Equal(t, 30*time.Second, cfg.IdentityCacheTTL)
	assert.Equal(t, ":9091", cfg.WorkerMetricsAddr)
	assert.False(t, cfg.IsProduction())
}

func TestLoadConfigOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("APP_ENV", "production")
	t.Setenv("GUARD_REVALIDATE_AFTER", "0s")
	t.Setenv("LOGIN_RATE_LIMIT", "3")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
	assert.Zero(t, cfg.GuardRevalidateAfter)
	assert.Equal(t, 3, cfg.LoginRateLimit)
}

func TestLoadConfigRequiresSecrets(t *testing.T) {
	t.Setenv("CSRF_SECRET", "")
	t.Setenv("TOKEN_SECRET", "token-secret")

	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestValidateRejectsSharedSecret(t *testing.T) {
	cfg := Config{CSRFSecret: "same", TokenSecret: "same", SessionTTL: time.Hour, TokenTTL: time.Hour}
	assert.Error(t, cfg.Validate())
}

func TestInTestMode(t *testing.T) {
	t.Setenv(testModeEnv, "1")
	RefreshTestMode()
	assert.True(t, InTestMode())
}
