package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghostkellz/omen/internal/cache"
)

// brokenCache fails every operation.
type brokenCache struct{}

var errBackendDown = errors.New("backend down")

func (brokenCache) Get(context.Context, string) ([]byte, error) { return nil, errBackendDown }
func (brokenCache) Set(context.Context, string, []byte, time.Duration) error {
	return errBackendDown
}
func (brokenCache) Delete(context.Context, string) error       { return errBackendDown }
func (brokenCache) Clear(context.Context, string) (int, error) { return 0, errBackendDown }
func (brokenCache) SetPipeline(context.Context, []cache.CacheEntry) error {
	return errBackendDown
}
func (brokenCache) GetMulti(context.Context, []string) (map[string][]byte, error) {
	return nil, errBackendDown
}
func (brokenCache) Ping(context.Context) error { return errBackendDown }
func (brokenCache) Close() error               { return nil }
func (brokenCache) Stats() cache.CacheStats    { return cache.CacheStats{} }

func newTestStore(t *testing.T) (*Store, *cache.MemoryCache) {
	t.Helper()
	backend := cache.NewMemoryCache(cache.DefaultMemoryCacheConfig())
	t.Cleanup(func() { _ = backend.Close() })
	return NewStore(backend, time.Hour, nil), backend
}

func TestStore_RecordCreatesOnFirstUse(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	assert.Nil(t, store.Get(ctx, "sess-1"), "unknown session misses")

	sess := store.Record(ctx, "sess-1", Activity{
		Service:  "zeke",
		User:     "dev@example.com",
		Provider: "anthropic",
		CostUSD:  0.0042,
	})
	require.NotNil(t, sess)
	assert.Equal(t, "sess-1", sess.ID)
	assert.Equal(t, "zeke", sess.Service)
	assert.Equal(t, "anthropic", sess.Provider)
	assert.Equal(t, 1, sess.RequestCount)
	assert.InDelta(t, 0.0042, sess.TotalCostUSD, 1e-9)
	assert.False(t, sess.CreatedAt.IsZero())

	got := store.Get(ctx, "sess-1")
	require.NotNil(t, got)
	assert.Equal(t, sess.RequestCount, got.RequestCount)
}

func TestStore_RecordBumpsExisting(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	first := store.Record(ctx, "sess-2", Activity{Service: "ghostflow", Provider: "openai", CostUSD: 0.001})
	second := store.Record(ctx, "sess-2", Activity{Provider: "anthropic", CostUSD: 0.002})

	require.NotNil(t, second)
	assert.Equal(t, 2, second.RequestCount)
	assert.InDelta(t, 0.003, second.TotalCostUSD, 1e-9)
	assert.Equal(t, "anthropic", second.Provider, "affinity follows the last committed provider")
	assert.Equal(t, "ghostflow", second.Service, "first writer tags the session")
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.False(t, second.LastActivity.Before(first.LastActivity))
}

func TestStore_RecordKeepsAffinityWithoutProvider(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	store.Record(ctx, "sess-3", Activity{Provider: "ollama"})
	sess := store.Record(ctx, "sess-3", Activity{})

	require.NotNil(t, sess)
	assert.Equal(t, "ollama", sess.Provider)
	assert.Equal(t, "ollama", store.StickyProvider(ctx, "sess-3"))
}

func TestStore_StickyProviderUnknownSession(t *testing.T) {
	store, _ := newTestStore(t)
	assert.Empty(t, store.StickyProvider(context.Background(), "nope"))
	assert.Empty(t, store.StickyProvider(context.Background(), ""))
}

func TestStore_ListSortsByActivity(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	store.Record(ctx, "old", Activity{Provider: "openai"})
	time.Sleep(5 * time.Millisecond)
	store.Record(ctx, "recent", Activity{Provider: "anthropic"})

	sessions, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "recent", sessions[0].ID)
	assert.Equal(t, "old", sessions[1].ID)
}

func TestStore_ListWithoutKeyLister(t *testing.T) {
	store := NewStore(brokenCache{}, time.Hour, nil)

	sessions, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestStore_Delete(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	store.Record(ctx, "sess-4", Activity{Provider: "xai"})
	require.NotNil(t, store.Get(ctx, "sess-4"))

	require.NoError(t, store.Delete(ctx, "sess-4"))
	assert.Nil(t, store.Get(ctx, "sess-4"))

	sessions, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestStore_CorruptEntryDropsToMiss(t *testing.T) {
	store, backend := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, backend.Set(ctx, cache.SessionKey("bad"), []byte("{not json"), time.Hour))

	assert.Nil(t, store.Get(ctx, "bad"))
	data, err := backend.Get(ctx, cache.SessionKey("bad"))
	require.NoError(t, err)
	assert.Nil(t, data, "corrupt entry is evicted")
}

func TestStore_BackendFailuresDegrade(t *testing.T) {
	store := NewStore(brokenCache{}, time.Hour, nil)
	ctx := context.Background()

	assert.Nil(t, store.Get(ctx, "sess-5"))
	sess := store.Record(ctx, "sess-5", Activity{Provider: "openai", CostUSD: 0.01})
	require.NotNil(t, sess, "record still reports the session it could not persist")
	assert.Equal(t, 1, sess.RequestCount)
	assert.Error(t, store.Delete(ctx, "sess-5"))
}

func TestStore_EmptySessionID(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	assert.Nil(t, store.Get(ctx, ""))
	assert.Nil(t, store.Record(ctx, "", Activity{Provider: "openai"}))
	assert.NoError(t, store.Delete(ctx, ""))
}
