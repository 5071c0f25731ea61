package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisCacheWithClient(client, DefaultConfig()), mr
}

func TestRedisCache_SetAndGet(t *testing.T) {
	c, mr := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	assert.True(t, mr.Exists("populate:k"), "keys are prefixed")

	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	mr.FastForward(2 * time.Minute)
	_, err = c.Get(ctx, "k")
	assert.True(t, IsCacheMiss(err))
}

func TestRedisCache_ClearOnlyPrefixed(t *testing.T) {
	c, mr := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", []byte("1"), 0))
	require.NoError(t, mr.Set("other", "x"))
	require.NoError(t, c.Clear(ctx))

	ok, err := c.Exists(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, mr.Exists("other"))
}

func TestNewRedisCacheWithConfig(t *testing.T) {
	mr := miniredis.RunT(t)
	c, err := NewRedisCacheWithConfig(RedisConfig{Addr: mr.Addr(), CacheConfig: DefaultConfig()})
	require.NoError(t, err)
	defer c.Close()

	_, err = NewRedisCacheWithConfig(RedisConfig{Addr: "localhost:99999"})
	assert.Error(t, err)
}

func TestNew_RedisUnreachable(t *testing.T) {
	c, err := New(Options{Backend: BackendRedis, Config: DefaultConfig(), Redis: RedisConfig{Addr: "localhost:99999"}})
	assert.Error(t, err)
	assert.True(t, c == nil, "a failed backend must not be a typed nil")
}
