package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/ghostkellz/omen/pkg/types"
)

// Shared keyspace prefixes. Every gateway replica pointed at the same
// backend reads and writes these.
const (
	PrefixResponse  = "resp:"
	PrefixSession   = "session:"
	PrefixHealth    = "health:"
	PrefixRateLimit = "rl:"
)

// Default TTLs for the shared keyspace.
const (
	DefaultTTL          = time.Hour
	DefaultResponseTTL  = 30 * time.Minute
	DefaultSessionTTL   = 2 * time.Hour
	DefaultHealthTTL    = 5 * time.Minute
	DefaultRateLimitTTL = time.Minute
)

// HealthKey returns the cache key for a provider's health verdict.
func HealthKey(providerID string) string {
	return PrefixHealth + providerID
}

// SessionKey returns the cache key for a session.
func SessionKey(sessionID string) string {
	return PrefixSession + sessionID
}

// RateLimitKey returns the cache key for a tenant's rate-limit mirror.
func RateLimitKey(tenant string) string {
	return PrefixRateLimit + tenant
}

// HealthRecord is the cached provider health verdict written by the prober
// and read by the router and the status endpoint.
type HealthRecord struct {
	Healthy   bool   `json:"healthy"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
	CheckedAt int64  `json:"checked_at"`
}

// ResponseKey builds the deterministic response-cache key for a request.
// The digest covers model, effective temperature, ordered role:content
// pairs, and image URLs in order, so logically identical requests collide
// regardless of field layout.
func ResponseKey(tenant string, req *types.ChatRequest) string {
	var sb strings.Builder
	sb.WriteString(req.Model)

	temp := 0.7
	if req.Temperature != nil {
		temp = *req.Temperature
	}
	fmt.Fprintf(&sb, "|%.2f", temp)

	for _, msg := range req.Messages {
		sb.WriteString("|")
		sb.WriteString(msg.Role)
		sb.WriteString(":")
		sb.WriteString(msg.Text())
		for _, img := range msg.Images() {
			sb.WriteString("|")
			sb.WriteString(img.URL)
		}
	}

	sum := sha256.Sum256([]byte(sb.String()))
	return PrefixResponse + tenant + ":" + hex.EncodeToString(sum[:])
}

// warmProviders are the providers whose health keys Warm seeds.
var warmProviders = []string{"ollama", "openai", "anthropic", "google"}

// Warm seeds optimistic health records so a cold start does not exclude
// every provider before the first probe sweep completes.
func Warm(ctx context.Context, c Cache, ttl time.Duration) error {
	if c == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = DefaultHealthTTL
	}

	now := time.Now().Unix()
	entries := make([]CacheEntry, 0, len(warmProviders))
	for _, p := range warmProviders {
		record := HealthRecord{Healthy: true, CheckedAt: now}
		data, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("marshal health record: %w", err)
		}
		entries = append(entries, CacheEntry{
			Key:   HealthKey(p),
			Value: data,
			TTL:   ttl,
		})
	}

	return c.SetPipeline(ctx, entries)
}
