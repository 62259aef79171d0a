// Package healthcheck provides proactive provider probing. Verdicts go
// to the shared health: keyspace, where the router and every other
// gateway replica read them, and into the router's availability metric.
package healthcheck

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"

	"github.com/ghostkellz/omen/internal/cache"
	"github.com/ghostkellz/omen/pkg/provider"
)

const (
	defaultProbeInterval = 30 * time.Second
	defaultProbeTimeout  = 10 * time.Second
)

// Config controls the probe loop behavior.
type Config struct {
	Enabled bool
	// Interval between sweeps. Defaults to 30s.
	Interval time.Duration
	// Timeout bounds each provider probe. Defaults to 10s.
	Timeout time.Duration
	// RecordTTL is how long a healthy verdict stays live in the cache.
	// Defaults to the shared health-key TTL.
	RecordTTL time.Duration
	// Cooldown is how long a failing verdict keeps a provider out of
	// selection. Zero falls back to RecordTTL.
	Cooldown time.Duration
}

// Recorder receives probe verdicts for the routing layer. The router
// implements it.
type Recorder interface {
	ObserveHealth(providerID string, healthy bool)
}

// Prober periodically checks provider health and publishes the verdicts.
type Prober struct {
	cfg      Config
	registry *provider.Registry
	backend  cache.Cache
	recorder Recorder
	logger   *slog.Logger
	started  atomic.Bool

	// lastHealthy remembers the previous verdict per provider so
	// recoveries are logged exactly once.
	lastMu      sync.Mutex
	lastHealthy map[string]bool
}

// NewProber creates a health prober over the given registry. The backend
// and recorder may be nil; nil sinks are skipped.
func NewProber(cfg Config, registry *provider.Registry, backend cache.Cache, recorder Recorder, logger *slog.Logger) *Prober {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultProbeInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultProbeTimeout
	}
	if cfg.RecordTTL <= 0 {
		cfg.RecordTTL = cache.DefaultHealthTTL
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Prober{
		cfg:         cfg,
		registry:    registry,
		backend:     backend,
		recorder:    recorder,
		logger:      logger,
		lastHealthy: make(map[string]bool),
	}
}

// Start begins the probe loop until the context is canceled. Calling
// Start twice or with the prober disabled is a no-op.
func (p *Prober) Start(ctx context.Context) {
	if p == nil || !p.cfg.Enabled {
		return
	}
	if p.registry == nil {
		p.logger.Warn("healthcheck prober missing registry")
		return
	}
	if !p.started.CompareAndSwap(false, true) {
		return
	}

	go p.run(ctx)
}

func (p *Prober) run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.Sweep(ctx)

	for {
		select {
		case <-ticker.C:
			p.Sweep(ctx)
		case <-ctx.Done():
			p.logger.Info("healthcheck prober stopped")
			return
		}
	}
}

// Sweep probes every registered provider once and publishes the
// verdicts. The loop calls it on each tick; tests and admin handlers
// may call it directly to force a fresh sweep.
func (p *Prober) Sweep(ctx context.Context) {
	for _, prov := range p.registry.All() {
		if ctx.Err() != nil {
			return
		}
		p.probe(ctx, prov)
	}
}

func (p *Prober) probe(ctx context.Context, prov provider.Provider) {
	probeCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	start := time.Now()
	err := prov.Health(probeCtx)
	latencyMs := time.Since(start).Milliseconds()

	record := cache.HealthRecord{
		Healthy:   err == nil,
		LatencyMs: latencyMs,
		CheckedAt: time.Now().Unix(),
	}
	if err != nil {
		record.Error = err.Error()
	}

	p.publish(ctx, prov.ID(), record)
}

func (p *Prober) publish(ctx context.Context, providerID string, record cache.HealthRecord) {
	if p.backend != nil {
		ttl := p.cfg.RecordTTL
		if !record.Healthy && p.cfg.Cooldown > 0 {
			ttl = p.cfg.Cooldown
		}
		data, err := json.Marshal(record)
		if err == nil {
			err = p.backend.Set(ctx, cache.HealthKey(providerID), data, ttl)
		}
		if err != nil {
			p.logger.Warn("health record write failed",
				"provider", providerID,
				"error", err,
			)
		}
	}

	if p.recorder != nil {
		p.recorder.ObserveHealth(providerID, record.Healthy)
	}

	p.lastMu.Lock()
	last, seen := p.lastHealthy[providerID]
	p.lastHealthy[providerID] = record.Healthy
	p.lastMu.Unlock()

	switch {
	case !record.Healthy:
		p.logger.Warn("provider probe failed",
			"provider", providerID,
			"latency_ms", record.LatencyMs,
			"error", record.Error,
		)
	case seen && !last:
		p.logger.Info("provider recovered",
			"provider", providerID,
			"latency_ms", record.LatencyMs,
		)
	}
}
