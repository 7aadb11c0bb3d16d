// internal/services/cache_service.go
package services

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/jbn434/lambda/internal/config"
)

// CacheService is a read-through JSON cache over redis for the dashboard
// aggregates. Every method is a no-op when redis is disabled, so callers
// never branch on availability. Cache failures degrade to a miss.
type CacheService struct {
	client *redis.Client
	ttl    time.Duration
}

func NewCacheService(cfg config.RedisConfig) *CacheService {
	if !cfg.Enabled {
		return &CacheService{}
	}
	return &CacheService{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		ttl: 5 * time.Minute,
	}
}

// NewCacheServiceWithClient wires an existing client, used by tests.
func NewCacheServiceWithClient(client *redis.Client, ttl time.Duration) *CacheService {
	return &CacheService{client: client, ttl: ttl}
}

// Get unmarshals a cached value into dest, reporting whether it was found.
func (c *CacheService) Get(ctx context.Context, key string, dest interface{}) bool {
	if c.client == nil {
		return false
	}
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logrus.WithError(err).WithField("key", key).Warn("Cache read failed")
		}
		return false
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		logrus.WithError(err).WithField("key", key).Warn("Cache entry corrupt; discarding")
		c.client.Del(ctx, key)
		return false
	}
	return true
}

// Set stores a value under the default TTL.
func (c *CacheService) Set(ctx context.Context, key string, value interface{}) {
	if c.client == nil {
		return
	}
	raw, err := json.Marshal(value)
	if err != nil {
		logrus.WithError(err).WithField("key", key).Warn("Cache marshal failed")
		return
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		logrus.WithError(err).WithField("key", key).Warn("Cache write failed")
	}
}

// Invalidate drops cached entries, typically after a write that changes the
// aggregates they were computed from.
func (c *CacheService) Invalidate(ctx context.Context, keys ...string) {
	if c.client == nil || len(keys) == 0 {
		return
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		logrus.WithError(err).Warn("Cache invalidation failed")
	}
}

// Close releases the underlying connection pool.
func (c *CacheService) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}
