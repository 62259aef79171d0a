package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghostkellz/omen/internal/cache"
)

func newTestCache(t *testing.T) (*miniredis.Miniredis, *Cache) {
	t.Helper()
	s := miniredis.RunT(t)

	cfg := DefaultConfig()
	cfg.Addr = s.Addr()
	c, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	return s, c
}

func TestRedisCache_BasicOperations(t *testing.T) {
	_, c := newTestCache(t)
	ctx := context.Background()

	val, err := c.Get(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, val)

	require.NoError(t, c.Set(ctx, "key1", []byte("value1"), time.Minute))

	val, err = c.Get(ctx, "key1")
	require.NoError(t, err)
	assert.Equal(t, []byte("value1"), val)

	require.NoError(t, c.Delete(ctx, "key1"))

	val, err = c.Get(ctx, "key1")
	require.NoError(t, err)
	assert.Nil(t, val)
}

func TestRedisCache_Namespace(t *testing.T) {
	s, c := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "resp:tenant:abc", []byte("v"), time.Minute))

	// Stored under the namespace so replicas of other deployments
	// sharing the instance do not collide.
	assert.True(t, s.Exists("omen:resp:tenant:abc"))
	assert.False(t, s.Exists("resp:tenant:abc"))
}

func TestRedisCache_TTLExpiry(t *testing.T) {
	s, c := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "short", []byte("v"), 10*time.Second))

	s.FastForward(11 * time.Second)

	val, err := c.Get(ctx, "short")
	require.NoError(t, err)
	assert.Nil(t, val)
}

func TestRedisCache_GetWithTTL(t *testing.T) {
	_, c := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "ttl-key", []byte("v"), time.Minute))

	val, ttl, err := c.GetWithTTL(ctx, "ttl-key")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), val)
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, time.Minute)

	val, ttl, err = c.GetWithTTL(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, val)
	assert.Equal(t, time.Duration(0), ttl)
}

func TestRedisCache_Clear(t *testing.T) {
	_, c := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "resp:a:1", []byte("v"), time.Minute))
	require.NoError(t, c.Set(ctx, "resp:b:2", []byte("v"), time.Minute))
	require.NoError(t, c.Set(ctx, "session:1", []byte("v"), time.Minute))

	removed, err := c.Clear(ctx, "resp:*")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	val, err := c.Get(ctx, "session:1")
	require.NoError(t, err)
	assert.NotNil(t, val)

	removed, err = c.Clear(ctx, "resp:*")
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
}

func TestRedisCache_Keys(t *testing.T) {
	_, c := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "session:1", []byte("v"), time.Minute))
	require.NoError(t, c.Set(ctx, "session:2", []byte("v"), time.Minute))
	require.NoError(t, c.Set(ctx, "resp:a:1", []byte("v"), time.Minute))

	keys, err := c.Keys(ctx, "session:*")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"session:1", "session:2"}, keys, "namespace prefix is stripped")

	keys, err = c.Keys(ctx, "health:*")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestRedisCache_Increment(t *testing.T) {
	s, c := newTestCache(t)
	ctx := context.Background()

	n, err := c.Increment(ctx, "rl:tenant-1", 1, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = c.Increment(ctx, "rl:tenant-1", 3, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	// The window TTL is set once when the counter appears.
	ttl := s.TTL("omen:rl:tenant-1")
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, time.Minute)
}

func TestRedisCache_SetNX(t *testing.T) {
	_, c := newTestCache(t)
	ctx := context.Background()

	ok, err := c.SetNX(ctx, "lock", []byte("owner-1"), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.SetNX(ctx, "lock", []byte("owner-2"), time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	val, err := c.Get(ctx, "lock")
	require.NoError(t, err)
	assert.Equal(t, []byte("owner-1"), val)
}

func TestRedisCache_PipelineAndMulti(t *testing.T) {
	_, c := newTestCache(t)
	ctx := context.Background()

	entries := []cache.CacheEntry{
		{Key: "health:openai", Value: []byte("a"), TTL: time.Minute},
		{Key: "health:anthropic", Value: []byte("b"), TTL: time.Minute},
		{Key: "health:ollama", Value: []byte("c"), TTL: time.Minute},
	}
	require.NoError(t, c.SetPipeline(ctx, entries))

	got, err := c.GetMulti(ctx, []string{"health:openai", "health:ollama", "health:missing"})
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, []byte("a"), got["health:openai"])
	assert.Equal(t, []byte("c"), got["health:ollama"])
	assert.NotContains(t, got, "health:missing")
}

func TestRedisCache_JSON(t *testing.T) {
	_, c := newTestCache(t)
	ctx := context.Background()

	record := cache.HealthRecord{Healthy: true, LatencyMs: 42, CheckedAt: time.Now().Unix()}
	require.NoError(t, c.SetJSON(ctx, cache.HealthKey("openai"), record, time.Minute))

	var got cache.HealthRecord
	found, err := c.GetJSON(ctx, cache.HealthKey("openai"), &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, record, got)

	found, err = c.GetJSON(ctx, cache.HealthKey("missing"), &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedisCache_Stats(t *testing.T) {
	_, c := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	_, _ = c.Get(ctx, "k")
	_, _ = c.Get(ctx, "missing")

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Sets)
	assert.InDelta(t, 0.5, stats.HitRate, 0.001)
}

func TestNewFromURL(t *testing.T) {
	s := miniredis.RunT(t)

	c, err := NewFromURL("redis://"+s.Addr(), "", 0)
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "k", []byte("v"), 0))
	assert.True(t, s.Exists("omen:k"))

	_, err = NewFromURL("://not-a-url", "", 0)
	assert.Error(t, err)
}
