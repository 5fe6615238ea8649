package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/openshelf/engage/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testLimiter(cfg config.RateLimitConfig) *EventIngestLimiter {
	return NewEventIngestLimiter(Params{
		Config: config.Config{RateLimit: cfg},
		Log:    zap.NewNop(),
	})
}

func TestEventIngestLimiter_DisabledAllowsEverything(t *testing.T) {
	l := testLimiter(config.RateLimitConfig{})

	assert.True(t, l.AllowUser(context.Background(), 42).Allowed)
	assert.True(t, l.AllowEndpoint(context.Background()).Allowed)

	token, acquired, err := l.TryLockUser(context.Background(), 42)
	require.NoError(t, err)
	assert.True(t, acquired)
	assert.Empty(t, token)
	assert.NoError(t, l.ReleaseUser(context.Background(), 42, token))
}

func TestEventIngestLimiter_EnabledWithoutRedisFailsOpen(t *testing.T) {
	// enabled but no bucket or locker wired, as when redis is not configured
	l := testLimiter(config.RateLimitConfig{
		Enabled:        true,
		EventUserRate:  5,
		EventUserBurst: 10,
		EventLockTTL:   5 * time.Second,
	})

	assert.True(t, l.AllowUser(context.Background(), 42).Allowed)
	assert.True(t, l.AllowEndpoint(context.Background()).Allowed)

	_, acquired, err := l.TryLockUser(context.Background(), 42)
	require.NoError(t, err)
	assert.True(t, acquired)
	assert.NoError(t, l.ReleaseUser(context.Background(), 42, ""))
}
