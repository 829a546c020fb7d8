// Package cache adapts Redis for the short-TTL entries the dispatch path
// uses: health snapshots, summary results, and correlation lookups. Every
// operation degrades transparently to a per-replica in-memory store when
// Redis is unreachable; that fallback is lossy across replicas.
package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// Key families. Summary keys are purged in bulk after every successful
// payment write.
const (
	KeyHealthCache     = "health:cache"
	KeyHealthLastCheck = "health:last_check"

	HealthResponseTimesPrefix = "health:response_times:"
	SummaryPrefix             = "payment:summary:"
	CorrelationPrefix         = "payment:correlation:"

	SummaryPattern = SummaryPrefix + "*"

	HealthTTL      = time.Hour
	CorrelationTTL = 10 * time.Minute
)

// Cache is the Redis-backed adapter with memory fallback.
type Cache struct {
	rdb    *redis.Client
	mem    *memoryStore
	logger *slog.Logger

	mu       sync.Mutex
	degraded bool
}

// New connects to Redis at redisURL. A failed connection is not fatal:
// the cache starts degraded and serves from memory until Redis answers.
func New(redisURL string, logger *slog.Logger) *Cache {
	c := &Cache{
		mem:    newMemoryStore(),
		logger: logger,
	}
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		logger.Warn("cache degraded: invalid redis url, using memory fallback", "error", err)
		return c
	}
	c.rdb = redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		logger.Warn("cache degraded: redis unreachable at startup, using memory fallback", "error", err)
		c.setDegraded(true)
	}
	return c
}

// NewMemory creates a cache with no Redis client at all. Used by tests
// and by deployments without a cache service.
func NewMemory(logger *slog.Logger) *Cache {
	return &Cache{mem: newMemoryStore(), logger: logger}
}

func (c *Cache) setDegraded(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v && !c.degraded {
		c.logger.Warn("cache degraded: falling back to in-memory store")
	}
	c.degraded = v
}

// Degraded reports whether the cache is serving from memory: there is no
// Redis client, or the last Redis operation failed.
func (c *Cache) Degraded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rdb == nil || c.degraded
}

// fallback records a Redis failure and returns true when the memory path
// should serve the operation.
func (c *Cache) fallback(err error) bool {
	if err == nil || err == redis.Nil {
		c.setDegraded(false)
		return false
	}
	c.setDegraded(true)
	return true
}

// Get fetches a plain key. The second return is false on a miss.
func (c *Cache) Get(ctx context.Context, key string) (string, bool) {
	if c.rdb != nil {
		val, err := c.rdb.Get(ctx, key).Result()
		if err == nil {
			c.setDegraded(false)
			return val, true
		}
		if !c.fallback(err) {
			return "", false
		}
	}
	return c.mem.get(key)
}

// Set writes a plain key with a TTL.
func (c *Cache) Set(ctx context.Context, key, value string, ttl time.Duration) {
	if c.rdb != nil {
		if err := c.rdb.Set(ctx, key, value, ttl).Err(); !c.fallback(err) {
			c.mem.set(key, value, ttl)
			return
		}
	}
	c.mem.set(key, value, ttl)
}

// Del removes keys.
func (c *Cache) Del(ctx context.Context, keys ...string) {
	if len(keys) == 0 {
		return
	}
	if c.rdb != nil {
		c.fallback(c.rdb.Del(ctx, keys...).Err())
	}
	c.mem.del(keys...)
}

// Keys lists keys matching a glob pattern. Only the summary purge uses
// this; the pattern space is small by construction.
func (c *Cache) Keys(ctx context.Context, pattern string) []string {
	if c.rdb != nil {
		keys, err := c.rdb.Keys(ctx, pattern).Result()
		if !c.fallback(err) {
			mem := c.mem.keys(pattern)
			return mergeKeys(keys, mem)
		}
	}
	return c.mem.keys(pattern)
}

// HGet fetches one hash field.
func (c *Cache) HGet(ctx context.Context, key, field string) (string, bool) {
	if c.rdb != nil {
		val, err := c.rdb.HGet(ctx, key, field).Result()
		if err == nil {
			c.setDegraded(false)
			return val, true
		}
		if !c.fallback(err) {
			return "", false
		}
	}
	return c.mem.hget(key, field)
}

// HSet writes one hash field.
func (c *Cache) HSet(ctx context.Context, key, field, value string) {
	if c.rdb != nil {
		if err := c.rdb.HSet(ctx, key, field, value).Err(); !c.fallback(err) {
			c.mem.hset(key, field, value)
			return
		}
	}
	c.mem.hset(key, field, value)
}

// Expire sets a TTL on an existing key.
func (c *Cache) Expire(ctx context.Context, key string, ttl time.Duration) {
	if c.rdb != nil {
		c.fallback(c.rdb.Expire(ctx, key, ttl).Err())
	}
	c.mem.expire(key, ttl)
}

// LPush prepends a value to a list.
func (c *Cache) LPush(ctx context.Context, key, value string) {
	if c.rdb != nil {
		if err := c.rdb.LPush(ctx, key, value).Err(); !c.fallback(err) {
			c.mem.lpush(key, value)
			return
		}
	}
	c.mem.lpush(key, value)
}

// LTrim caps a list to the given range.
func (c *Cache) LTrim(ctx context.Context, key string, start, stop int64) {
	if c.rdb != nil {
		c.fallback(c.rdb.LTrim(ctx, key, start, stop).Err())
	}
	c.mem.ltrim(key, start, stop)
}

// LRange reads a slice of a list.
func (c *Cache) LRange(ctx context.Context, key string, start, stop int64) []string {
	if c.rdb != nil {
		vals, err := c.rdb.LRange(ctx, key, start, stop).Result()
		if !c.fallback(err) {
			return vals
		}
	}
	return c.mem.lrange(key, start, stop)
}

// FlushPattern deletes every key matching the pattern. Used for the
// summary purge after a ledger write and by the admin reset endpoints.
func (c *Cache) FlushPattern(ctx context.Context, pattern string) int {
	keys := c.Keys(ctx, pattern)
	c.Del(ctx, keys...)
	return len(keys)
}

// Close releases the Redis connection.
func (c *Cache) Close() error {
	if c.rdb != nil {
		return c.rdb.Close()
	}
	return nil
}

func mergeKeys(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, k := range append(a, b...) {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
