package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tadast/signonotron2/internal/config"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/signon_test")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, "signon", cfg.ServiceName)
	assert.Equal(t, 7, cfg.MaxFailedAttempts)
	assert.Equal(t, 90*24*time.Hour, cfg.PassphraseMaxAge)
	assert.Equal(t, 10, cfg.PassphraseMinLength)
	assert.Equal(t, 12*time.Hour, cfg.SessionTTL)
	assert.Equal(t, 24*time.Hour, cfg.ResetTokenTTL)
	assert.Equal(t, []string{"*"}, cfg.CORSAllowedOrigins)
}

func TestLoadRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/signon_test")
	t.Setenv("MAX_FAILED_ATTEMPTS", "3")
	t.Setenv("PASSPHRASE_MAX_AGE", "720h")
	t.Setenv("SESSION_TTL", "30m")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "false")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.MaxFailedAttempts)
	assert.Equal(t, 720*time.Hour, cfg.PassphraseMaxAge)
	assert.Equal(t, 30*time.Minute, cfg.SessionTTL)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.CORSAllowedOrigins)
	assert.False(t, cfg.TelemetryInsecure)
}

func TestLoadClampsNonsenseValues(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/signon_test")
	t.Setenv("MAX_FAILED_ATTEMPTS", "0")
	t.Setenv("PASSPHRASE_MIN_LENGTH", "-5")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 1, cfg.MaxFailedAttempts)
	assert.Equal(t, 1, cfg.PassphraseMinLength)
}
