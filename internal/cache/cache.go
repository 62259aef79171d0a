// Package cache provides the shared gateway cache: an exact-match response
// cache plus the keyspace used for sessions, provider health verdicts, and
// rate-limit mirrors. Backends are in-memory and Redis (caches/redis).
package cache

import (
	"context"
	"time"
)

// Cache defines the interface for all cache backends.
type Cache interface {
	// Get retrieves a value from the cache.
	// Returns nil, nil if the key doesn't exist.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in the cache with the given TTL.
	// If TTL is 0, the default TTL is used.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a key from the cache.
	Delete(ctx context.Context, key string) error

	// Clear removes all keys matching the glob pattern ('*' wildcard)
	// and reports how many were removed.
	Clear(ctx context.Context, pattern string) (int, error)

	// SetPipeline performs batch set operations for efficiency.
	SetPipeline(ctx context.Context, entries []CacheEntry) error

	// GetMulti retrieves multiple keys at once.
	// Returns a map of key -> value, missing keys are not included.
	GetMulti(ctx context.Context, keys []string) (map[string][]byte, error)

	// Ping checks if the cache is healthy.
	Ping(ctx context.Context) error

	// Close releases any resources held by the cache.
	Close() error

	// Stats returns cache statistics.
	Stats() CacheStats
}

// TTLGetter is implemented by backends that can report a key's remaining
// TTL. The response layer uses it to bump hit counts without extending
// entry lifetimes.
type TTLGetter interface {
	GetWithTTL(ctx context.Context, key string) ([]byte, time.Duration, error)
}

// KeyLister is implemented by backends that can enumerate live keys
// matching a glob pattern. The session store uses it to list active
// sessions.
type KeyLister interface {
	Keys(ctx context.Context, pattern string) ([]string, error)
}

// CacheEntry represents a single cache entry for pipeline operations.
type CacheEntry struct {
	Key   string
	Value []byte
	TTL   time.Duration
}

// CacheStats holds cache statistics for monitoring.
type CacheStats struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	Sets    int64   `json:"sets"`
	Deletes int64   `json:"deletes"`
	Errors  int64   `json:"errors"`
	HitRate float64 `json:"hit_rate"`
}
