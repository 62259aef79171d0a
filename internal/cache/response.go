package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/goccy/go-json"

	"github.com/ghostkellz/omen/pkg/types"
)

// CachedResponse is the stored form of a cacheable completion.
type CachedResponse struct {
	Response json.RawMessage `json:"response"`
	Provider string          `json:"provider"`
	CostUSD  float64         `json:"cost_usd"`
	CachedAt int64           `json:"cached_at"`
	HitCount int             `json:"hit_count"`
}

// ChatResponse decodes the stored response body.
func (c *CachedResponse) ChatResponse() (*types.ChatResponse, error) {
	var resp types.ChatResponse
	if err := json.Unmarshal(c.Response, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ResponseCache caches complete non-streamed responses under deterministic
// request keys. Backend failures are logged and treated as misses; they
// never fail the request.
type ResponseCache struct {
	backend Cache
	logger  *slog.Logger
	ttl     time.Duration
}

// NewResponseCache creates a response cache on the given backend. A nil
// backend yields a disabled cache where Get always misses.
func NewResponseCache(backend Cache, ttl time.Duration, logger *slog.Logger) *ResponseCache {
	if ttl <= 0 {
		ttl = DefaultResponseTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ResponseCache{
		backend: backend,
		logger:  logger,
		ttl:     ttl,
	}
}

// Enabled reports whether the cache has a live backend.
func (rc *ResponseCache) Enabled() bool {
	return rc != nil && rc.backend != nil
}

// Get looks up a cached response for the request. On a hit the stored hit
// count is bumped and re-written with the entry's remaining TTL so the hit
// does not extend its lifetime.
func (rc *ResponseCache) Get(ctx context.Context, tenant string, req *types.ChatRequest) *CachedResponse {
	if !rc.Enabled() {
		return nil
	}

	key := ResponseKey(tenant, req)

	var (
		data []byte
		ttl  time.Duration
		err  error
	)
	if getter, ok := rc.backend.(TTLGetter); ok {
		data, ttl, err = getter.GetWithTTL(ctx, key)
	} else {
		data, err = rc.backend.Get(ctx, key)
	}
	if err != nil {
		rc.logger.Warn("response cache get failed", "error", err)
		return nil
	}
	if data == nil {
		return nil
	}

	var cached CachedResponse
	if err := json.Unmarshal(data, &cached); err != nil {
		// Corrupt entry, drop it and miss.
		_ = rc.backend.Delete(ctx, key)
		return nil
	}

	cached.HitCount++
	if ttl <= 0 {
		ttl = rc.ttl
	}
	if updated, err := json.Marshal(&cached); err == nil {
		if err := rc.backend.Set(ctx, key, updated, ttl); err != nil {
			rc.logger.Warn("response cache hit-count update failed", "error", err)
		}
	}

	return &cached
}

// Put stores a completed response. Failures are logged and swallowed.
func (rc *ResponseCache) Put(ctx context.Context, tenant string, req *types.ChatRequest, resp *types.ChatResponse, provider string, costUSD float64) {
	if !rc.Enabled() || resp == nil {
		return
	}

	raw, err := json.Marshal(resp)
	if err != nil {
		rc.logger.Warn("response cache marshal failed", "error", err)
		return
	}

	cached := CachedResponse{
		Response: raw,
		Provider: provider,
		CostUSD:  costUSD,
		CachedAt: time.Now().Unix(),
	}

	data, err := json.Marshal(&cached)
	if err != nil {
		rc.logger.Warn("response cache marshal failed", "error", err)
		return
	}

	key := ResponseKey(tenant, req)
	if err := rc.backend.Set(ctx, key, data, rc.ttl); err != nil {
		rc.logger.Warn("response cache set failed", "error", err)
	}
}

// Clear drops every cached response and reports how many entries went.
func (rc *ResponseCache) Clear(ctx context.Context) (int, error) {
	if !rc.Enabled() {
		return 0, nil
	}
	return rc.backend.Clear(ctx, PrefixResponse+"*")
}

// Stats returns the backend's statistics.
func (rc *ResponseCache) Stats() CacheStats {
	if !rc.Enabled() {
		return CacheStats{}
	}
	return rc.backend.Stats()
}
