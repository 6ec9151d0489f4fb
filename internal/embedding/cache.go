package embedding

import (
	"context"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gomodule/redigo/redis"
	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"
)

// Cache stores embedding results by fingerprint.
type Cache interface {
	Get(ctx context.Context, key string) ([]float32, bool)
	Set(ctx context.Context, key string, vec []float32)
	Flush(ctx context.Context) error
}

// MemoryCache is an in-process TTL cache bounded by entry count.
type MemoryCache struct {
	items      *gocache.Cache
	maxEntries int
}

// NewMemoryCache creates a cache whose entries expire after ttl.
// maxEntries <= 0 means unbounded.
func NewMemoryCache(ttl time.Duration, maxEntries int) *MemoryCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &MemoryCache{
		items:      gocache.New(ttl, 2*ttl),
		maxEntries: maxEntries,
	}
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]float32, bool) {
	v, ok := c.items.Get(key)
	if !ok {
		return nil, false
	}
	vec, ok := v.([]float32)
	return vec, ok
}

// Set stores vec. When the cache is full, expired items are evicted first and
// the write is dropped if no room was freed.
func (c *MemoryCache) Set(_ context.Context, key string, vec []float32) {
	if c.maxEntries > 0 && c.items.ItemCount() >= c.maxEntries {
		c.items.DeleteExpired()
		if c.items.ItemCount() >= c.maxEntries {
			return
		}
	}
	c.items.SetDefault(key, vec)
}

func (c *MemoryCache) Flush(_ context.Context) error {
	c.items.Flush()
	return nil
}

// Len returns the number of cached items, including expired ones not yet evicted.
func (c *MemoryCache) Len() int {
	return c.items.ItemCount()
}

// RedisCache shares embeddings between processes through Redis.
type RedisCache struct {
	pool   *redis.Pool
	prefix string
	ttl    time.Duration
}

// NewRedisCache creates a cache backed by the Redis server at addr.
func NewRedisCache(addr string, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisCache{
		pool: &redis.Pool{
			MaxIdle:     4,
			IdleTimeout: 4 * time.Minute,
			DialContext: func(ctx context.Context) (redis.Conn, error) {
				return redis.DialContext(ctx, "tcp", addr,
					redis.DialConnectTimeout(2*time.Second),
					redis.DialReadTimeout(2*time.Second),
					redis.DialWriteTimeout(2*time.Second),
				)
			},
		},
		prefix: "engram:emb:",
		ttl:    ttl,
	}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]float32, bool) {
	conn, err := c.pool.GetContext(ctx)
	if err != nil {
		log.Debug().Err(err).Msg("Redis embedding cache unavailable")
		return nil, false
	}
	defer conn.Close()

	data, err := redis.Bytes(redis.DoContext(conn, ctx, "GET", c.prefix+key))
	if err != nil {
		if err != redis.ErrNil {
			log.Debug().Err(err).Msg("Redis embedding cache get failed")
		}
		return nil, false
	}
	var vec []float32
	if err := json.Unmarshal(data, &vec); err != nil {
		return nil, false
	}
	return vec, true
}

func (c *RedisCache) Set(ctx context.Context, key string, vec []float32) {
	data, err := json.Marshal(vec)
	if err != nil {
		return
	}
	conn, err := c.pool.GetContext(ctx)
	if err != nil {
		return
	}
	defer conn.Close()

	if _, err := redis.DoContext(conn, ctx, "SET", c.prefix+key, data, "PX", c.ttl.Milliseconds()); err != nil {
		log.Debug().Err(err).Msg("Redis embedding cache set failed")
	}
}

// Flush deletes every key under the cache prefix.
func (c *RedisCache) Flush(ctx context.Context) error {
	conn, err := c.pool.GetContext(ctx)
	if err != nil {
		return fmt.Errorf("redis connect: %w", err)
	}
	defer conn.Close()

	cursor := 0
	for {
		values, err := redis.Values(redis.DoContext(conn, ctx, "SCAN", cursor, "MATCH", c.prefix+"*", "COUNT", 100))
		if err != nil {
			return fmt.Errorf("redis scan: %w", err)
		}
		var keys []string
		if _, err := redis.Scan(values, &cursor, &keys); err != nil {
			return fmt.Errorf("redis scan reply: %w", err)
		}
		if len(keys) > 0 {
			args := redis.Args{}.AddFlat(keys)
			if _, err := redis.DoContext(conn, ctx, "DEL", args...); err != nil {
				return fmt.Errorf("redis del: %w", err)
			}
		}
		if cursor == 0 {
			return nil
		}
	}
}

// Close releases pooled connections.
func (c *RedisCache) Close() error {
	return c.pool.Close()
}
