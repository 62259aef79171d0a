package router

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/goccy/go-json"

	"github.com/ghostkellz/omen/internal/cache"
	"github.com/ghostkellz/omen/internal/config"
	"github.com/ghostkellz/omen/internal/metrics"
	"github.com/ghostkellz/omen/pkg/errors"
	"github.com/ghostkellz/omen/pkg/provider"
	"github.com/ghostkellz/omen/pkg/types"
)

// ModelAuto is the sentinel model id that delegates model choice to the
// router.
const ModelAuto = "auto"

// defaultTopK is the candidate set width when neither the directive nor
// the configuration names one.
const defaultTopK = 2

// defaultOutputTokens is the assumed completion length for cost
// estimates when the request does not cap max_tokens.
const defaultOutputTokens = 500

// degradedSuccessRate is the smoothed success rate below which a
// reachable provider is reported as degraded.
const degradedSuccessRate = 0.8

// cloudOrder is the preference order for known cloud providers when
// assembling an auto-model candidate set. Providers registered under
// other ids are appended in registration order.
var cloudOrder = []string{"anthropic", "openai", "google", "gemini", "azure", "xai"}

// Decision describes how a candidate set was chosen. It is logged and
// surfaced to admin endpoints, never to completion responses.
type Decision struct {
	Providers          []string `json:"providers"`
	Source             string   `json:"source"`
	Intent             string   `json:"intent"`
	EstimatedCostUSD   float64  `json:"estimated_cost_usd"`
	EstimatedLatencyMs int64    `json:"estimated_latency_ms"`
	Confidence         float64  `json:"confidence"`
}

// Candidate set sources reported in Decision.
const (
	SourceExplicit = "explicit"
	SourceIntent   = "intent"
	SourceModel    = "model"
)

// Router resolves candidate providers for requests and orders them by
// intent-weighted score. Health verdicts come from the prober via the
// shared cache; metrics accumulate locally per process.
type Router struct {
	registry  *provider.Registry
	store     *Store
	backend   cache.Cache
	collector *metrics.Collector
	logger    *slog.Logger

	preferLocal map[string]bool
	topK        int

	budgetMu sync.Mutex
	budgets  map[string]float64
}

// New creates a router over the given provider registry. The backend
// carries prober health verdicts and may be nil, in which case every
// provider counts as healthy. Soft limits from the routing config seed
// the per-user budget map.
func New(reg *provider.Registry, backend cache.Cache, collector *metrics.Collector, cfg config.RoutingConfig, logger *slog.Logger) *Router {
	if collector == nil {
		collector = metrics.NewCollector()
	}
	if logger == nil {
		logger = slog.Default()
	}

	prefer := make(map[string]bool, len(cfg.PreferLocalFor))
	for _, intent := range cfg.PreferLocalFor {
		prefer[intent] = true
	}

	topK := cfg.TopK
	if topK <= 0 {
		topK = defaultTopK
	}

	budgets := make(map[string]float64, len(cfg.SoftLimits))
	for user, limit := range cfg.SoftLimits {
		if user != "" {
			budgets[user] = limit
		}
	}

	return &Router{
		registry:    reg,
		store:       NewStore(),
		backend:     backend,
		collector:   collector,
		logger:      logger,
		preferLocal: prefer,
		topK:        topK,
		budgets:     budgets,
	}
}

// Candidates resolves the provider set for a request in preference
// order. An explicit directive allowlist wins; the sentinel model
// "auto" selects by intent; otherwise the catalogue decides which
// providers serve the model. The result is ordered by score and
// truncated to the directive's k (or the configured width).
func (r *Router) Candidates(ctx context.Context, req *types.ChatRequest, intent, userID string) ([]provider.Provider, *Decision, error) {
	var (
		pool   []provider.Provider
		source string
	)

	switch {
	case req.Omen != nil && len(req.Omen.Providers) > 0:
		pool = r.explicitCandidates(ctx, req.Omen.Providers)
		source = SourceExplicit
	case req.Model == ModelAuto:
		pool = r.intentCandidates(ctx, intent)
		source = SourceIntent
	default:
		pool = r.modelCandidates(ctx, req.Model)
		source = SourceModel
	}

	if len(pool) == 0 {
		return nil, nil, errors.NewProviderUnavailableError(req.Model, "no suitable providers available")
	}

	k := r.topK
	var boost map[string]float64
	if req.Omen != nil {
		if req.Omen.K > 0 {
			k = req.Omen.K
		}
		boost = req.Omen.PriorityWeights
	}

	selected := r.Select(ctx, pool, intent, k, boost)
	if len(selected) == 0 {
		return nil, nil, errors.NewProviderUnavailableError(req.Model, "no suitable providers available")
	}

	selected, err := r.applyBudget(userID, selected, pool, req)
	if err != nil {
		return nil, nil, err
	}

	decision := r.decide(selected, source, intent, req)
	r.collector.RecordRouterSelection(selected[0].ID(), intent)
	r.logger.Debug("routing decision",
		"source", decision.Source,
		"intent", intent,
		"providers", decision.Providers,
		"estimated_cost_usd", decision.EstimatedCostUSD,
		"estimated_latency_ms", decision.EstimatedLatencyMs,
		"confidence", decision.Confidence,
	)

	return selected, decision, nil
}

// Select orders candidates by descending intent score and returns the
// top k. Ties keep input order. Providers with an unexpired unhealthy
// verdict are excluded before scoring. Boost weights multiply
// individual scores; absent entries mean 1.
func (r *Router) Select(ctx context.Context, candidates []provider.Provider, intent string, k int, boost map[string]float64) []provider.Provider {
	if k <= 0 {
		k = 1
	}

	type scoredProvider struct {
		p provider.Provider
		s float64
	}

	kept := make([]scoredProvider, 0, len(candidates))
	for _, p := range candidates {
		if !r.Healthy(ctx, p.ID()) {
			continue
		}
		s := score(r.store.Get(p.ID()), intent)
		if w, ok := boost[p.ID()]; ok {
			s *= w
		}
		kept = append(kept, scoredProvider{p: p, s: s})
	}

	sort.SliceStable(kept, func(i, j int) bool { return kept[i].s > kept[j].s })

	if len(kept) > k {
		kept = kept[:k]
	}
	out := make([]provider.Provider, len(kept))
	for i, sp := range kept {
		out[i] = sp.p
	}
	return out
}

// Record folds a finished request into the provider's metrics and
// refreshes its gauges.
func (r *Router) Record(ctx context.Context, providerID string, latencyMs int64, success bool, costUSD float64, tokens int) {
	r.store.Record(providerID, latencyMs, success, costUSD, tokens)

	m := r.store.Get(providerID)
	state := metrics.ProviderStateHealthy
	switch {
	case !r.Healthy(ctx, providerID):
		state = metrics.ProviderStateFailed
	case m.SuccessRate < degradedSuccessRate:
		state = metrics.ProviderStateDegraded
	}
	r.collector.UpdateProviderGauges(providerID, state, m.AvgLatencyMs, m.SuccessRate, m.CurrentLoad, score(m, "general"))
}

// ObserveHealth folds a probe verdict into the provider's availability
// and refreshes its gauges, so state flips even when no traffic flows.
func (r *Router) ObserveHealth(providerID string, healthy bool) {
	r.store.ObserveHealth(providerID, healthy)

	m := r.store.Get(providerID)
	state := metrics.ProviderStateHealthy
	switch {
	case !healthy:
		state = metrics.ProviderStateFailed
	case m.SuccessRate < degradedSuccessRate:
		state = metrics.ProviderStateDegraded
	}
	r.collector.UpdateProviderGauges(providerID, state, m.AvgLatencyMs, m.SuccessRate, m.CurrentLoad, score(m, "general"))
}

// BeginRequest marks a request in flight on a provider for load
// tracking.
func (r *Router) BeginRequest(providerID string) { r.store.BeginRequest(providerID) }

// EndRequest marks a request finished on a provider.
func (r *Router) EndRequest(providerID string) { r.store.EndRequest(providerID) }

// Snapshot returns the current metrics for every tracked provider.
func (r *Router) Snapshot() []ProviderMetrics { return r.store.All() }

// MetricsFor returns the current metrics view for one provider.
func (r *Router) MetricsFor(providerID string) ProviderMetrics { return r.store.Get(providerID) }

// Healthy reports whether a provider is currently selectable. Only an
// unexpired unhealthy verdict from the prober excludes a provider.
func (r *Router) Healthy(ctx context.Context, providerID string) bool {
	record, ok := r.healthRecord(ctx, providerID)
	if !ok {
		return true
	}
	return record.Healthy
}

// healthRecord fetches the prober's cached verdict for a provider.
func (r *Router) healthRecord(ctx context.Context, providerID string) (cache.HealthRecord, bool) {
	var record cache.HealthRecord
	if r.backend == nil {
		return record, false
	}
	data, err := r.backend.Get(ctx, cache.HealthKey(providerID))
	if err != nil || data == nil {
		return record, false
	}
	if err := json.Unmarshal(data, &record); err != nil {
		return record, false
	}
	return record, true
}

// SetUserBudget replaces the remaining spend allowance for a user.
// Users without an entry are not budget-gated.
func (r *Router) SetUserBudget(userID string, remainingUSD float64) {
	if userID == "" {
		return
	}
	r.budgetMu.Lock()
	defer r.budgetMu.Unlock()
	r.budgets[userID] = remainingUSD
}

// Charge deducts spend from a tracked user's remaining budget.
func (r *Router) Charge(userID string, costUSD float64) {
	if userID == "" {
		return
	}
	r.budgetMu.Lock()
	defer r.budgetMu.Unlock()
	if remaining, ok := r.budgets[userID]; ok {
		r.budgets[userID] = remaining - costUSD
	}
}

// RemainingBudget returns a user's remaining budget and whether the
// user is tracked at all.
func (r *Router) RemainingBudget(userID string) (float64, bool) {
	r.budgetMu.Lock()
	defer r.budgetMu.Unlock()
	remaining, ok := r.budgets[userID]
	return remaining, ok
}

// applyBudget gates a selection on the user's remaining budget: an
// exhausted budget blocks the request, and one too small for the top
// candidate forces the cheapest healthy candidate instead.
func (r *Router) applyBudget(userID string, selected, pool []provider.Provider, req *types.ChatRequest) ([]provider.Provider, error) {
	remaining, tracked := r.RemainingBudget(userID)
	if !tracked {
		return selected, nil
	}
	if remaining <= 0 {
		return nil, errors.NewBudgetExceededError(req.Model, "user budget exhausted")
	}

	top := r.store.Get(selected[0].ID())
	if estimateRequestCost(top, req) <= remaining {
		return selected, nil
	}

	cheapest := selected[0]
	cheapestCost := top.CostPer1kTokens
	for _, p := range pool {
		if c := r.store.Get(p.ID()).CostPer1kTokens; c < cheapestCost {
			cheapest = p
			cheapestCost = c
		}
	}

	r.logger.Info("budget fallback to cheapest provider",
		"user_id", userID,
		"remaining_usd", remaining,
		"api_provider", cheapest.ID(),
	)
	return []provider.Provider{cheapest}, nil
}

// explicitCandidates keeps the allowlisted providers that are
// registered and healthy, preserving the given order.
func (r *Router) explicitCandidates(ctx context.Context, ids []string) []provider.Provider {
	out := make([]provider.Provider, 0, len(ids))
	for _, id := range ids {
		p, ok := r.registry.Get(id)
		if !ok {
			continue
		}
		if r.Healthy(ctx, p.ID()) {
			out = append(out, p)
		}
	}
	return out
}

// intentCandidates assembles the auto-model candidate set: local
// providers first when the intent prefers them, then cloud providers in
// the default order, then any remaining cloud providers.
func (r *Router) intentCandidates(ctx context.Context, intent string) []provider.Provider {
	var out []provider.Provider
	seen := make(map[string]bool)

	if r.preferLocal[intent] {
		for _, p := range r.registry.All() {
			if p.Type() == provider.TypeLocal && r.Healthy(ctx, p.ID()) {
				out = append(out, p)
				seen[p.ID()] = true
			}
		}
	}

	for _, id := range cloudOrder {
		if seen[id] {
			continue
		}
		p, ok := r.registry.Get(id)
		if !ok {
			continue
		}
		if r.Healthy(ctx, p.ID()) {
			out = append(out, p)
			seen[id] = true
		}
	}

	for _, p := range r.registry.All() {
		if seen[p.ID()] || p.Type() == provider.TypeLocal {
			continue
		}
		if r.Healthy(ctx, p.ID()) {
			out = append(out, p)
			seen[p.ID()] = true
		}
	}

	return out
}

// modelCandidates returns the healthy providers listing the model.
func (r *Router) modelCandidates(ctx context.Context, model string) []provider.Provider {
	ids := r.registry.ProvidersForModel(ctx, model)
	out := make([]provider.Provider, 0, len(ids))
	for _, id := range ids {
		p, ok := r.registry.Get(id)
		if !ok {
			continue
		}
		if r.Healthy(ctx, p.ID()) {
			out = append(out, p)
		}
	}
	return out
}

// decide summarizes a selection. The cost estimate assumes the first
// candidate streams the full completion and later ones are cancelled
// after roughly a fifth of it, matching race accounting.
func (r *Router) decide(selected []provider.Provider, source, intent string, req *types.ChatRequest) *Decision {
	d := &Decision{
		Providers:        make([]string, len(selected)),
		Source:           source,
		Intent:           intent,
		EstimatedCostUSD: r.EstimateCost(selected, req),
	}

	var reliability float64
	minLatency := 0.0
	for i, p := range selected {
		m := r.store.Get(p.ID())
		d.Providers[i] = p.ID()
		reliability += m.SuccessRate * m.Availability
		if i == 0 || m.AvgLatencyMs < minLatency {
			minLatency = m.AvgLatencyMs
		}
	}
	d.EstimatedLatencyMs = int64(minLatency)

	reliability /= float64(len(selected))
	if len(selected) > 1 {
		reliability += 0.1
	}
	if reliability > 1 {
		reliability = 1
	}
	d.Confidence = reliability

	return d
}

// EstimateCost predicts the total spend for running a request across
// the selected candidates.
func (r *Router) EstimateCost(selected []provider.Provider, req *types.ChatRequest) float64 {
	inputTokens, outputTokens := estimateTokenSplit(req)

	var total float64
	for i, p := range selected {
		m := r.store.Get(p.ID())
		total += float64(inputTokens) / 1000 * m.CostPer1kTokens
		out := float64(outputTokens)
		if i > 0 {
			out *= 0.2
		}
		total += out / 1000 * m.CostPer1kTokens
	}
	return total
}

// estimateRequestCost predicts the spend for one candidate from prompt
// size and the expected completion length.
func estimateRequestCost(m ProviderMetrics, req *types.ChatRequest) float64 {
	inputTokens, outputTokens := estimateTokenSplit(req)
	return float64(inputTokens+outputTokens) / 1000 * m.CostPer1kTokens
}

func estimateTokenSplit(req *types.ChatRequest) (int, int) {
	inputTokens := 0
	for _, msg := range req.Messages {
		inputTokens += len(msg.Text()) / 4
	}
	outputTokens := req.MaxTokens
	if outputTokens <= 0 {
		outputTokens = defaultOutputTokens
	}
	return inputTokens, outputTokens
}
