package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/dojopay/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilLimiterAllows(t *testing.T) {
	var l *ChargeLimiter
	ctx := context.Background()

	res, err := l.AllowPayer(ctx, "42")
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	token, ok, err := l.TryLockPayer(ctx, "42")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, token)
	assert.NoError(t, l.ReleasePayer(ctx, "42", token))
}

func TestNewChargeLimiter(t *testing.T) {
	l, err := NewChargeLimiter(config.Config{}, nil)
	require.NoError(t, err)
	assert.Nil(t, l)

	_, err = NewChargeLimiter(config.Config{RateLimit: config.RateLimitConfig{Enabled: true, ChargeRate: 1, ChargeBurst: 1}}, nil)
	assert.Error(t, err)
}

func TestNilLocker(t *testing.T) {
	l := NewLocker(nil)
	assert.Nil(t, l)

	_, ok, err := l.TryLock(context.Background(), "sweep:x", time.Minute)
	assert.ErrorIs(t, err, ErrLockNotConfigured)
	assert.False(t, ok)
	assert.NoError(t, l.Release(context.Background(), "sweep:x", "t"))
}

func TestRetryAfter(t *testing.T) {
	assert.Zero(t, retryAfter(true, 0, 1))
	assert.Equal(t, 500*time.Millisecond, retryAfter(false, 0.5, 1))
	assert.Equal(t, 4*time.Second, retryAfter(false, 0, 0.25))
}

func TestDefaultBucketTTL(t *testing.T) {
	assert.Equal(t, 50*time.Second, defaultBucketTTL(0.2, 5))
	assert.Equal(t, time.Second, defaultBucketTTL(100, 1))
	assert.Equal(t, time.Second, defaultBucketTTL(0, 0))
}

func TestCastToFloat(t *testing.T) {
	assert.Equal(t, 2.5, castToFloat("2.5"))
	assert.Equal(t, 3.0, castToFloat(int64(3)))
	assert.Zero(t, castToFloat("nope"))
}
