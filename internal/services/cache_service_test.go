// internal/services/cache_service_test.go
package services

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jbn434/lambda/internal/config"
)

func disabledRedisConfig() config.RedisConfig {
	return config.RedisConfig{Enabled: false}
}

func newTestCache(t *testing.T) (*CacheService, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewCacheServiceWithClient(client, time.Minute), mr
}

func TestCacheRoundTrip(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	type payload struct {
		Count int    `json:"count"`
		Name  string `json:"name"`
	}

	var got payload
	assert.False(t, cache.Get(ctx, "stats:summary", &got))

	cache.Set(ctx, "stats:summary", payload{Count: 42, Name: "submitted"})

	require.True(t, cache.Get(ctx, "stats:summary", &got))
	assert.Equal(t, 42, got.Count)
	assert.Equal(t, "submitted", got.Name)
}

func TestCacheInvalidate(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	cache.Set(ctx, "stats:summary", map[string]int{"a": 1})
	cache.Set(ctx, "stats:distribution", map[string]int{"b": 2})

	cache.Invalidate(ctx, "stats:summary", "stats:distribution")

	var got map[string]int
	assert.False(t, cache.Get(ctx, "stats:summary", &got))
	assert.False(t, cache.Get(ctx, "stats:distribution", &got))
}

func TestCacheExpiry(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	cache.Set(ctx, "stats:summary", map[string]int{"a": 1})
	mr.FastForward(2 * time.Minute)

	var got map[string]int
	assert.False(t, cache.Get(ctx, "stats:summary", &got))
}

func TestCacheCorruptEntryDiscarded(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, mr.Set("stats:summary", "{not json"))

	var got map[string]int
	assert.False(t, cache.Get(ctx, "stats:summary", &got))
	// The bad entry is dropped so the next read repopulates cleanly.
	assert.False(t, mr.Exists("stats:summary"))
}

func TestCacheDisabledIsNoop(t *testing.T) {
	cache := NewCacheService(disabledRedisConfig())
	ctx := context.Background()

	cache.Set(ctx, "k", map[string]int{"a": 1})
	var got map[string]int
	assert.False(t, cache.Get(ctx, "k", &got))
	cache.Invalidate(ctx, "k")
	assert.NoError(t, cache.Close())
}
