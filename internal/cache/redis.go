// Package cache provides the Redis-backed flow view cache.
package cache

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// RedisFlowCache implements services.FlowCache over a Redis client.
// Constructed once at process start and injected; callers treat every
// operation as best-effort.
type RedisFlowCache struct {
	client *redis.Client
}

// NewRedisFlowCache creates a new RedisFlowCache.
func NewRedisFlowCache(addr, password string, db int) *RedisFlowCache {
	return &RedisFlowCache{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
	}
}

// Delete removes a cached entry. A missing key is not an error.
func (c *RedisFlowCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

// Ping verifies connectivity, used at startup.
func (c *RedisFlowCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close releases the underlying client.
func (c *RedisFlowCache) Close() error {
	return c.client.Close()
}
