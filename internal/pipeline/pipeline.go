// Package pipeline orchestrates one request end to end: intent
// classification, cache lookup, admission, candidate routing, provider
// execution (direct or multiplexed), and the accounting fan-out into
// billing, router metrics, and observability sinks.
package pipeline

import (
	"log/slog"
	"time"

	"github.com/ghostkellz/omen/internal/admission"
	"github.com/ghostkellz/omen/internal/cache"
	"github.com/ghostkellz/omen/internal/config"
	"github.com/ghostkellz/omen/internal/intent"
	"github.com/ghostkellz/omen/internal/metrics"
	"github.com/ghostkellz/omen/internal/mux"
	"github.com/ghostkellz/omen/internal/observability"
	"github.com/ghostkellz/omen/internal/resilience"
	"github.com/ghostkellz/omen/internal/router"
	"github.com/ghostkellz/omen/internal/session"
	"github.com/ghostkellz/omen/pkg/errors"
	"github.com/ghostkellz/omen/pkg/provider"
	"github.com/ghostkellz/omen/pkg/types"
)

// Deps are the collaborators a pipeline runs over. Registry, Router and
// Mux are required; the rest may be nil and their step is skipped.
type Deps struct {
	Registry  *provider.Registry
	Router    *router.Router
	Admission *admission.Controller
	Responses *cache.ResponseCache
	Sessions  *session.Store
	Mux       *mux.Multiplexer

	Classifier intent.Classifier
	Breakers   *resilience.Set
	Collector  *metrics.Collector

	OTelMetrics *observability.OTelMetricsProvider
	SpendLog    *observability.SpendLogger

	Logger *slog.Logger
}

// Pipeline runs requests through the gateway stages in order. It is
// safe for concurrent use; all mutable state lives in the collaborators.
type Pipeline struct {
	registry  *provider.Registry
	router    *router.Router
	admission *admission.Controller
	responses *cache.ResponseCache
	sessions  *session.Store
	mux       *mux.Multiplexer

	classifier intent.Classifier
	breakers   *resilience.Set
	collector  *metrics.Collector

	otel     *observability.OTelMetricsProvider
	spendLog *observability.SpendLogger

	logger *slog.Logger
	cfg    config.MuxConfig
}

// New assembles a pipeline. The mux config supplies gateway-wide
// ceilings that per-request directives may lower but never raise.
func New(deps Deps, cfg config.MuxConfig) *Pipeline {
	if deps.Classifier == nil {
		deps.Classifier = intent.NewKeywordClassifier()
	}
	if deps.Breakers == nil {
		deps.Breakers = resilience.NewSet(resilience.DefaultBreakerConfig())
	}
	if deps.Collector == nil {
		deps.Collector = metrics.NewCollector()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Mux == nil {
		deps.Mux = mux.New(deps.Collector, deps.Logger)
	}

	p := &Pipeline{
		registry:   deps.Registry,
		router:     deps.Router,
		admission:  deps.Admission,
		responses:  deps.Responses,
		sessions:   deps.Sessions,
		mux:        deps.Mux,
		classifier: deps.Classifier,
		breakers:   deps.Breakers,
		collector:  deps.Collector,
		otel:       deps.OTelMetrics,
		spendLog:   deps.SpendLog,
		logger:     deps.Logger,
		cfg:        cfg,
	}

	p.breakers.OnStateChange(func(name string, from, to resilience.CircuitState) {
		p.logger.Warn("provider circuit transition", "provider", name, "from", from.String(), "to", to.String())
	})

	return p
}

// Router exposes the routing engine for status surfaces.
func (p *Pipeline) Router() *router.Router { return p.router }

// Breakers exposes the per-provider circuit state for status surfaces.
func (p *Pipeline) Breakers() *resilience.Set { return p.breakers }

// directive merges the request's routing directive with defaults and
// clamps it to the gateway ceilings.
func (p *Pipeline) directive(req *types.ChatRequest) types.RoutingDirective {
	d := req.Omen.Normalize()

	if p.cfg.MaxBudgetUSD > 0 && d.BudgetUSD > p.cfg.MaxBudgetUSD {
		d.BudgetUSD = p.cfg.MaxBudgetUSD
	}
	if p.cfg.Deadline > 0 {
		ceiling := int(p.cfg.Deadline.Milliseconds())
		if d.MaxLatencyMS > ceiling {
			d.MaxLatencyMS = ceiling
		}
	}
	if p.cfg.MinUsefulTokens > 0 && (req.Omen == nil || req.Omen.MinUsefulTokens == 0) {
		d.MinUsefulTokens = p.cfg.MinUsefulTokens
	}
	return d
}

// streamStrategy picks the multiplexing strategy for a streaming
// request. An explicit directive wins; otherwise the configured default
// applies, and with no configuration auto-model requests race while
// fixed-model requests stream a single provider.
func (p *Pipeline) streamStrategy(req *types.ChatRequest, d types.RoutingDirective) string {
	if req.Omen != nil && req.Omen.Strategy != "" {
		return d.Strategy
	}
	if p.cfg.DefaultStrategy != "" {
		return p.cfg.DefaultStrategy
	}
	if req.Model == types.ModelAuto {
		return types.StrategyRace
	}
	return types.StrategySingle
}

// resolve produces the scored candidate list for a request, applies
// circuit-breaker shedding, and pins the sticky session provider to the
// front when the directive asks for session affinity.
func (p *Pipeline) resolve(ctx reqContext, req *types.ChatRequest, intentLabel string, d types.RoutingDirective) ([]provider.Provider, *router.Decision, error) {
	candidates, decision, err := p.router.Candidates(ctx.ctx, req, intentLabel, ctx.tenant)
	if err != nil {
		return nil, nil, err
	}

	kept := candidates[:0:0]
	for _, c := range candidates {
		if p.breakers.For(c.ID()).Allow() {
			kept = append(kept, c)
		}
	}
	if len(kept) == 0 {
		return nil, nil, errors.NewProviderUnavailableError(req.Model, "all candidate providers are cooling down")
	}

	if d.Stickiness == types.StickinessSession && ctx.sessionID != "" && p.sessions != nil {
		if sticky := p.sessions.StickyProvider(ctx.ctx, ctx.sessionID); sticky != "" {
			kept = moveToFront(kept, sticky)
		}
	}
	return kept, decision, nil
}

// moveToFront reorders providers so the given id leads, preserving the
// relative order of the rest.
func moveToFront(providers []provider.Provider, id string) []provider.Provider {
	for i, p := range providers {
		if p.ID() == id {
			if i == 0 {
				return providers
			}
			reordered := make([]provider.Provider, 0, len(providers))
			reordered = append(reordered, providers[i])
			reordered = append(reordered, providers[:i]...)
			reordered = append(reordered, providers[i+1:]...)
			return reordered
		}
	}
	return providers
}

// touchSession books the committed provider and cost into the session
// so later turns can stick to the same backend.
func (p *Pipeline) touchSession(ctx reqContext, providerID string, costUSD float64) {
	if p.sessions == nil || ctx.sessionID == "" {
		return
	}
	p.sessions.Record(ctx.ctx, ctx.sessionID, session.Activity{
		Service:  ctx.service,
		User:     ctx.tenant,
		Provider: providerID,
		CostUSD:  costUSD,
	})
}

// account fans the finished request out to Prometheus, the OTel bridge,
// and the spend log. Sink failures never affect the response.
func (p *Pipeline) account(ctx reqContext, ev *observability.UsageEvent, rm *metrics.RequestMetrics) {
	p.collector.RecordRequest(rm)
	if p.otel != nil {
		p.otel.RecordUsage(ctx.ctx, ev)
	}
	if p.spendLog != nil {
		p.spendLog.Record(*ev)
	}
}

// completionCost prices a finished request from the provider's smoothed
// per-1k-token rate. Local providers price at zero.
func (p *Pipeline) completionCost(providerID string, totalTokens int) float64 {
	if totalTokens <= 0 {
		return 0
	}
	m := p.router.MetricsFor(providerID)
	return float64(totalTokens) / 1000 * m.CostPer1kTokens
}

// deadline bounds a provider call by the directive's latency ceiling.
func deadline(d types.RoutingDirective) time.Duration {
	ms := d.MaxLatencyMS
	if ms <= 0 {
		ms = types.DefaultMaxLatencyMS
	}
	return time.Duration(ms) * time.Millisecond
}
