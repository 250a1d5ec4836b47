package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/entitlements/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T) *redis.Client {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestBucketDeniesAfterBurst(t *testing.T) {
	bucket := NewBucket(newClient(t))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := bucket.Take(ctx, "k", 0.001, 3)
		require.NoError(t, err)
		assert.True(t, d.Allowed, "request %d", i)
		assert.Equal(t, 2-i, d.Remaining)
	}

	d, err := bucket.Take(ctx, "k", 0.001, 3)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 3, d.Limit)
	assert.Greater(t, d.RetryAfter, time.Second)
}

func TestBucketKeysAreIndependent(t *testing.T) {
	bucket := NewBucket(newClient(t))
	ctx := context.Background()

	d, err := bucket.Take(ctx, "a", 0.001, 1)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	d, err = bucket.Take(ctx, "b", 0.001, 1)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestBucketRejectsBadInput(t *testing.T) {
	bucket := NewBucket(newClient(t))

	_, err := bucket.Take(context.Background(), "", 1, 1)
	assert.ErrorIs(t, err, ErrInvalidBucket)
	_, err = bucket.Take(context.Background(), "k", 0, 1)
	assert.ErrorIs(t, err, ErrInvalidBucket)

	var unset *Bucket
	_, err = unset.Take(context.Background(), "k", 1, 1)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestIdleTTL(t *testing.T) {
	assert.Equal(t, time.Second, idleTTL(1000, 1))
	assert.Equal(t, 200*time.Second, idleTTL(1, 100))
}

func TestUsageLimiterDisabledAllows(t *testing.T) {
	limiter, err := NewUsageLimiter(config.Config{}, nil)
	require.NoError(t, err)
	assert.False(t, limiter.Enabled())

	d, err := limiter.AllowOrg(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestUsageLimiterPerOrganization(t *testing.T) {
	cfg := config.Config{RateLimit: config.RateLimitConfig{Enabled: true, UsageOrgRate: 0.001, UsageOrgBurst: 1}}
	_, err := NewUsageLimiter(cfg, nil)
	assert.ErrorIs(t, err, ErrRedisRequired)

	bad := cfg
	bad.RateLimit.UsageOrgBurst = 0
	_, err = NewUsageLimiter(bad, newClient(t))
	assert.ErrorIs(t, err, ErrInvalidUsageCap)

	limiter, err := NewUsageLimiter(cfg, newClient(t))
	require.NoError(t, err)
	ctx := context.Background()

	first, err := limiter.AllowOrg(ctx, 42)
	require.NoError(t, err)
	assert.True(t, first.Allowed)
	second, err := limiter.AllowOrg(ctx, 42)
	require.NoError(t, err)
	assert.False(t, second.Allowed)
	other, err := limiter.AllowOrg(ctx, 43)
	require.NoError(t, err)
	assert.True(t, other.Allowed)
}
