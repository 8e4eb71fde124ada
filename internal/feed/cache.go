package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/redis/go-redis/v9"
)

// Cache stores composed feeds. A miss returns (nil, false, nil).
type Cache interface {
	Get(ctx context.Context, key string) (*Feed, bool, error)
	Set(ctx context.Context, key string, f *Feed, ttl time.Duration) error
}

// CacheKey builds the cache key for a catalog version and viewer. Anonymous
// and cold-path requests share the "anon" key.
func CacheKey(version int64, viewerKey string) string {
	if viewerKey == "" {
		viewerKey = "anon"
	}
	return fmt.Sprintf("bento:feed:v%d:%s", version, viewerKey)
}

// cacheEncMode keeps sub-second timestamps.
var cacheEncMode = func() cbor.EncMode {
	em, err := cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// RedisCache stores feeds in Redis as CBOR.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a Redis-backed feed cache.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Get implements Cache.
func (c *RedisCache) Get(ctx context.Context, key string) (*Feed, bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}

	var f Feed
	if err := cbor.Unmarshal(data, &f); err != nil {
		return nil, false, fmt.Errorf("decode cached feed: %w", err)
	}
	return &f, true, nil
}

// Set implements Cache.
func (c *RedisCache) Set(ctx context.Context, key string, f *Feed, ttl time.Duration) error {
	data, err := cacheEncMode.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode feed: %w", err)
	}
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

type memoryEntry struct {
	data    []byte
	expires time.Time
}

// MemoryCache is an in-process TTL cache. Entries are stored CBOR-encoded so
// callers never share mutable state with the cache.
type MemoryCache struct {
	mu         sync.Mutex
	entries    map[string]memoryEntry
	maxEntries int
	now        func() time.Time
}

// NewMemoryCache creates an in-memory cache holding at most maxEntries feeds.
// When full, expired entries are swept and, if still full, the whole cache is
// reset.
func NewMemoryCache(maxEntries int) *MemoryCache {
	if maxEntries <= 0 {
		maxEntries = 1024
	}
	return &MemoryCache{
		entries:    make(map[string]memoryEntry),
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// Get implements Cache.
func (c *MemoryCache) Get(ctx context.Context, key string) (*Feed, bool, error) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if ok && !c.now().Before(e.expires) {
		delete(c.entries, key)
		ok = false
	}
	c.mu.Unlock()
	if !ok {
		return nil, false, nil
	}

	var f Feed
	if err := cbor.Unmarshal(e.data, &f); err != nil {
		return nil, false, fmt.Errorf("decode cached feed: %w", err)
	}
	return &f, true, nil
}

// Set implements Cache.
func (c *MemoryCache) Set(ctx context.Context, key string, f *Feed, ttl time.Duration) error {
	data, err := cacheEncMode.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode feed: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		for k, e := range c.entries {
			if !now.Before(e.expires) {
				delete(c.entries, k)
			}
		}
		if len(c.entries) >= c.maxEntries {
			c.entries = make(map[string]memoryEntry)
		}
	}
	c.entries[key] = memoryEntry{data: data, expires: now.Add(ttl)}
	return nil
}

// Len returns the number of stored entries, expired or not.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
