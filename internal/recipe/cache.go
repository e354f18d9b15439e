package recipe

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
)

// Cache stores successful resolutions. Cached Results are shared and must
// be treated as read-only.
type Cache interface {
	Get(ctx context.Context, key string) (*Result, bool)
	Set(ctx context.Context, key string, res *Result)
}

// MemoryCache is an in-process expirable LRU.
type MemoryCache struct {
	lru *expirable.LRU[string, *Result]
}

func NewMemoryCache(size int, ttl time.Duration) *MemoryCache {
	if size <= 0 {
		size = 256
	}
	return &MemoryCache{lru: expirable.NewLRU[string, *Result](size, nil, ttl)}
}

func (m *MemoryCache) Get(_ context.Context, key string) (*Result, bool) {
	return m.lru.Get(key)
}

func (m *MemoryCache) Set(_ context.Context, key string, res *Result) {
	m.lru.Add(key, res)
}

// redisClient is the subset of go-redis used here.
type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// RedisCache shares resolutions between gateway replicas.
type RedisCache struct {
	client redisClient
	prefix string
	ttl    time.Duration
}

// NewRedisCache wraps a go-redis client. Keys are namespaced with prefix.
func NewRedisCache(client redisClient, prefix string, ttl time.Duration) *RedisCache {
	if prefix == "" {
		prefix = "agentgate:recipe:"
	}
	return &RedisCache{client: client, prefix: prefix, ttl: ttl}
}

// NewRedisCacheFromURL parses a redis:// URL.
func NewRedisCacheFromURL(url string, ttl time.Duration) (*RedisCache, *redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, nil, err
	}
	client := redis.NewClient(opts)
	return NewRedisCache(client, "", ttl), client, nil
}

func (r *RedisCache) Get(ctx context.Context, key string) (*Result, bool) {
	data, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.Warn("recipe.cache.redis_get", "error", err)
		}
		return nil, false
	}
	var res Result
	if err := json.Unmarshal(data, &res); err != nil {
		slog.Warn("recipe.cache.redis_decode", "error", err)
		return nil, false
	}
	return &res, true
}

func (r *RedisCache) Set(ctx context.Context, key string, res *Result) {
	data, err := json.Marshal(res)
	if err != nil {
		return
	}
	if err := r.client.Set(ctx, r.prefix+key, data, r.ttl).Err(); err != nil {
		slog.Warn("recipe.cache.redis_set", "error", err)
	}
}

// CachingResolver memoizes successful resolutions across one or more cache
// tiers, checked in order. Failures always reach the wrapped resolver.
type CachingResolver struct {
	next  Resolver
	tiers []Cache
}

func NewCachingResolver(next Resolver, tiers ...Cache) *CachingResolver {
	return &CachingResolver{next: next, tiers: tiers}
}

func (c *CachingResolver) Resolve(ctx context.Context, req Request) *Result {
	key, err := CacheKey(req)
	if err != nil {
		return c.next.Resolve(ctx, req)
	}
	for i, tier := range c.tiers {
		if res, ok := tier.Get(ctx, key); ok {
			for _, earlier := range c.tiers[:i] {
				earlier.Set(ctx, key, res)
			}
			return res
		}
	}
	res := c.next.Resolve(ctx, req)
	if res != nil && res.Success {
		for _, tier := range c.tiers {
			tier.Set(ctx, key, res)
		}
	}
	return res
}

// CacheKey hashes the canonical JSON form of req (map keys are sorted by encoding/json).
func CacheKey(req Request) (string, error) {
	req.AgentID = NormalizeID(req.AgentID)
	data, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
