package rate

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisLimiter(t *testing.T, limit int, window time.Duration) *RedisLimiter {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedis(client, limit, window)
}

func TestRedisLimiterAllowsUpToLimit(t *testing.T) {
	l := newRedisLimiter(t, 2, time.Minute)
	ctx := context.Background()

	ok, _, err := l.Allow(ctx, "1.2.3.4", time.Now())
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _, err = l.Allow(ctx, "1.2.3.4", time.Now())
	require.NoError(t, err)
	assert.True(t, ok)

	ok, retry, err := l.Allow(ctx, "1.2.3.4", time.Now())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Greater(t, retry, time.Duration(0))
}

func TestRedisLimiterKeysAreIndependent(t *testing.T) {
	l := newRedisLimiter(t, 1, time.Minute)
	ctx := context.Background()

	ok, _, err := l.Allow(ctx, "a", time.Now())
	require.NoError(t, err)
	require.True(t, ok)

	ok, _, err = l.Allow(ctx, "b", time.Now())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLimiterRejectsBadWindow(t *testing.T) {
	l := newRedisLimiter(t, 1, 0)
	_, _, err := l.Allow(context.Background(), "k", time.Now())
	assert.Error(t, err)
}
