// Package caches builds the shared cache backend the gateway runs on.
// The backend carries the response, session, health, and rate-limit
// keyspaces; Redis is used when configured so replicas share state.
package caches

import (
	"log/slog"

	"github.com/ghostkellz/omen/caches/redis"
	"github.com/ghostkellz/omen/internal/cache"
	"github.com/ghostkellz/omen/internal/config"
)

// New builds the cache backend from config. With caching enabled and a
// Redis URL present the backend is Redis; otherwise, or when the
// connection fails, the gateway degrades to an in-process cache so a
// missing Redis never takes requests down.
func New(cfg config.CacheConfig, logger *slog.Logger) cache.Cache {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.Enabled && cfg.RedisURL != "" {
		c, err := redis.NewFromURL(cfg.RedisURL, "", cfg.DefaultTTL)
		if err == nil {
			logger.Info("cache backend ready", "backend", "redis")
			return c
		}
		logger.Warn("redis unavailable, falling back to in-process cache", "error", err)
	}

	mem := cache.DefaultMemoryCacheConfig()
	if cfg.DefaultTTL > 0 {
		mem.DefaultTTL = cfg.DefaultTTL
	}
	if cfg.MaxSizeMB > 0 {
		// Items are capped at 1MB, so the budget bounds the item count.
		mem.MaxSize = cfg.MaxSizeMB
	}
	return cache.NewMemoryCache(mem)
}
