package domain_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tadast/signonotron2/internal/domain"
)

func TestEventTypeByID(t *testing.T) {
	for _, want := range []domain.EventType{
		domain.EventSuccessfulLogin,
		domain.EventAccountLocked,
		domain.EventPassphraseExpired,
	} {
		got, ok := domain.EventTypeByID(want.ID)
		require.True(t, ok)
		assert.Equal(t, want, got)
	}

	_, ok := domain.EventTypeByID(0)
	assert.False(t, ok)
	_, ok = domain.EventTypeByID(99)
	assert.False(t, ok)
}

func TestFullDescription(t *testing.T) {
	entry := domain.EventLogEntry{Event: domain.EventUnsuccessfulLogin}
	assert.Equal(t, "unsuccessful login", entry.FullDescription())

	initiatorID := int64(42)
	entry = domain.EventLogEntry{
		Event:         domain.EventManualAccountUnlock,
		InitiatorID:   &initiatorID,
		InitiatorName: "Admin User",
	}
	assert.Equal(t, "manual account unlock by Admin User", entry.FullDescription())
}

func TestPassphraseExpired(t *testing.T) {
	maxAge := 90 * 24 * time.Hour
	now := mustParse(t, "2025-06-01T00:00:00Z")

	fresh := domain.User{PassphraseChangedAt: mustParse(t, "2025-05-01T00:00:00Z")}
	assert.False(t, fresh.PassphraseExpired(now, maxAge))

	stale := domain.User{PassphraseChangedAt: mustParse(t, "2025-01-01T00:00:00Z")}
	assert.True(t, stale.PassphraseExpired(now, maxAge))

	assert.False(t, stale.PassphraseExpired(now, 0))
	assert.False(t, domain.User{}.PassphraseExpired(now, maxAge))
}

func mustParse(t *testing.T, value string) time.Time {
	t.Helper()
	parsed, err := time.Parse(time.RFC3339, value)
	require.NoError(t, err)
	return parsed
}
