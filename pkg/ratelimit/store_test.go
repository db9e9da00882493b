package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborhq/aigateway/pkg/cache"
)

func newRedisStore(t *testing.T) (*RedisCounterStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewRedisCounterStore(cache.NewFromRedis(rdb)), mr
}

func TestRedisIncrByAccumulatesAndPinsTTL(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()

	v, err := store.IncrBy(ctx, "rl:test", 3, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(3), v)
	firstTTL := mr.TTL("rl:test")
	assert.Equal(t, time.Minute, firstTTL)

	// A later increment must not refresh the window's expiry.
	mr.FastForward(30 * time.Second)
	v, err = store.IncrBy(ctx, "rl:test", 2, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(5), v)
	assert.Equal(t, 30*time.Second, mr.TTL("rl:test"))
}

func TestRedisGetMissingKeyReturnsZero(t *testing.T) {
	store, _ := newRedisStore(t)

	v, err := store.Get(context.Background(), "rl:absent")
	require.NoError(t, err)
	assert.Equal(t, int64(0), v)
}

func TestRedisCounterExpiresWithWindow(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()

	_, err := store.IncrBy(ctx, "rl:win", 10, time.Minute)
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)
	v, err := store.Get(ctx, "rl:win")
	require.NoError(t, err)
	assert.Equal(t, int64(0), v)
}

func TestRedisSetNXClaimsOnce(t *testing.T) {
	store, _ := newRedisStore(t)
	ctx := context.Background()

	first, err := store.SetNX(ctx, "rl:recorded:req-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, first)

	again, err := store.SetNX(ctx, "rl:recorded:req-1", time.Minute)
	require.NoError(t, err)
	assert.False(t, again)
}

func TestMemoryCountersExpire(t *testing.T) {
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	clock := base
	store := NewMemoryCounterStore()
	store.SetClock(func() time.Time { return clock })
	ctx := context.Background()

	_, err := store.IncrBy(ctx, "rl:mem", 4, time.Minute)
	require.NoError(t, err)

	clock = base.Add(2 * time.Minute)
	v, err := store.Get(ctx, "rl:mem")
	require.NoError(t, err)
	assert.Equal(t, int64(0), v)
}
