package admission

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/goccy/go-json"

	"github.com/ghostkellz/omen/internal/cache"
	"github.com/ghostkellz/omen/internal/config"
	"github.com/ghostkellz/omen/internal/metrics"
	"github.com/ghostkellz/omen/internal/observability"
	"github.com/ghostkellz/omen/pkg/errors"
)

// alertThreshold is the daily-budget fraction at which a webhook alert
// fires.
const alertThreshold = 0.8

// incrementer is the optional backend capability used to mirror window
// counters across replicas.
type incrementer interface {
	Increment(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error)
}

// Controller is the admission gate in front of the pipeline: window
// rate limiting, daily ledger limits, and spend recording.
type Controller struct {
	limiter   *Limiter
	ledger    *Ledger
	backend   cache.Cache
	collector *metrics.Collector
	alerts    *observability.AlertNotifier
	logger    *slog.Logger
	enabled   bool
	mirrorTTL time.Duration
}

// New builds the admission controller from config. The backend is
// optional; when present, window state is mirrored under rl: keys.
func New(cfg config.AdmissionConfig, backend cache.Cache, collector *metrics.Collector, alerts *observability.AlertNotifier, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	if collector == nil {
		collector = metrics.NewCollector()
	}

	tiers := TiersFromConfig(cfg)
	return &Controller{
		limiter:   NewLimiter(DefaultWindow),
		ledger:    NewLedger(tiers, cfg.DefaultTier, logger),
		backend:   backend,
		collector: collector,
		alerts:    alerts,
		logger:    logger,
		enabled:   cfg.Enabled,
		mirrorTTL: cache.DefaultRateLimitTTL,
	}
}

// Ledger exposes the billing ledger for the admin surface.
func (c *Controller) Ledger() *Ledger {
	return c.ledger
}

// Check admits or denies one request for the tenant. Denials map to 429
// for window and daily count limits and 403 once the daily budget is
// spent. An empty tenant (anonymous caller) is admitted; anonymous rate
// limiting happens at the transport layer.
func (c *Controller) Check(ctx context.Context, tenant, service string, estimatedTokens int) error {
	if !c.enabled || tenant == "" {
		return nil
	}

	tier := c.ledger.TierOf(tenant)

	if ok, reason := c.ledger.CanMakeRequest(tenant); !ok {
		c.collector.RecordAdmissionDenial(tier.Name, reason)
		c.logger.Warn("admission denied", "tenant", tenant, "tier", tier.Name, "reason", reason)
		if reason == "daily_budget" {
			return errors.NewBudgetExceededError("", "daily budget exhausted")
		}
		return errors.NewRateLimitError("", "", fmt.Sprintf("daily limit reached (%s)", reason))
	}

	multiplier := limitMultiplier(ServicePriority(service))
	res := c.limiter.Allow(tenant, tier, estimatedTokens, multiplier)
	if !res.Allowed {
		c.collector.RecordAdmissionDenial(tier.Name, res.Reason)
		c.logger.Warn("rate limit exceeded",
			"tenant", tenant,
			"tier", tier.Name,
			"reason", res.Reason)
		return errors.NewRateLimitError("", "",
			fmt.Sprintf("rate limit exceeded (%s/min)", res.Reason)).
			WithRetryAfter(int(res.RetryAfter.Seconds()) + 1)
	}

	c.mirror(ctx, tenant, tier, multiplier)
	return nil
}

// Record books a completed request into the ledger and returns the
// actual cost charged. Budget alerts fire when the daily budget crosses
// the warning threshold.
func (c *Controller) Record(ctx context.Context, tenant string, inputTokens, outputTokens int, providerCostUSD float64) float64 {
	if tenant == "" {
		return 0
	}

	actual := c.ledger.Record(tenant, inputTokens, outputTokens, providerCostUSD)

	stats := c.ledger.UsageStats(tenant)
	if budget := stats.DailyLimits.BudgetUSD; budget != nil && *budget > 0 {
		used := stats.DailyCostUSD / *budget
		if used >= alertThreshold {
			remaining := *budget - stats.DailyCostUSD
			if remaining < 0 {
				remaining = 0
			}
			if err := c.alerts.BudgetAlert(ctx, "tenant", tenant, remaining, *budget, used*100); err != nil {
				c.logger.Warn("budget alert failed", "tenant", tenant, "error", err)
			}
		}
	}

	return actual
}

// RateLimitStatus reports the tenant's current window.
func (c *Controller) RateLimitStatus(tenant string) WindowStatus {
	tier := c.ledger.TierOf(tenant)
	return c.limiter.Status(tenant, tier, 1.0)
}

// ServiceStatus reports the window as seen by a priority-elevated
// service caller.
type ServiceStatus struct {
	Service    string       `json:"service_name"`
	Priority   uint8        `json:"priority"`
	Multiplier float64      `json:"enhanced_multiplier"`
	Window     WindowStatus `json:"standard_limits"`
}

// ServiceWindow reports the effective window for a service calling on
// behalf of a tenant.
func (c *Controller) ServiceWindow(service, tenant string) ServiceStatus {
	priority := ServicePriority(service)
	multiplier := limitMultiplier(priority)
	tier := c.ledger.TierOf(tenant)

	return ServiceStatus{
		Service:    service,
		Priority:   priority,
		Multiplier: multiplier,
		Window:     c.limiter.Status(tenant, tier, multiplier),
	}
}

// Run sweeps idle buckets until the context ends.
func (c *Controller) Run(ctx context.Context) {
	ticker := time.NewTicker(c.limiter.window)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			active := c.limiter.Sweep()
			c.logger.Debug("rate limit buckets swept", "active", active)
		}
	}
}

// mirror writes the tenant's window snapshot into the shared cache so
// other replicas and the status surface can read it. Failures are
// logged at debug and otherwise ignored.
func (c *Controller) mirror(ctx context.Context, tenant string, tier Tier, multiplier float64) {
	if c.backend == nil {
		return
	}

	key := cache.RateLimitKey(tenant)

	if inc, ok := c.backend.(incrementer); ok {
		if _, err := inc.Increment(ctx, key+":requests", 1, c.mirrorTTL); err != nil {
			c.logger.Debug("rate limit mirror increment failed", "tenant", tenant, "error", err)
		}
	}

	status := c.limiter.Status(tenant, tier, multiplier)
	data, err := json.Marshal(status)
	if err != nil {
		return
	}
	if err := c.backend.Set(ctx, key, data, c.mirrorTTL); err != nil {
		c.logger.Debug("rate limit mirror write failed", "tenant", tenant, "error", err)
	}
}
