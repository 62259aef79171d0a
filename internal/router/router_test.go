package router

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/ghostkellz/omen/internal/cache"
	"github.com/ghostkellz/omen/internal/config"
	"github.com/ghostkellz/omen/pkg/errors"
	"github.com/ghostkellz/omen/pkg/provider"
	"github.com/ghostkellz/omen/pkg/types"
)

type fakeProvider struct {
	id     string
	ptype  provider.Type
	models []string
}

func newFakeProvider(id string, ptype provider.Type, models ...string) *fakeProvider {
	return &fakeProvider{id: id, ptype: ptype, models: models}
}

func (f *fakeProvider) ID() string                  { return f.id }
func (f *fakeProvider) Name() string                { return f.id }
func (f *fakeProvider) Type() provider.Type         { return f.ptype }
func (f *fakeProvider) Health(context.Context) error { return nil }

func (f *fakeProvider) ListModels(context.Context) ([]types.Model, error) {
	out := make([]types.Model, len(f.models))
	for i, m := range f.models {
		out[i] = types.Model{ID: m, Object: "model", Provider: f.id}
	}
	return out, nil
}

func (f *fakeProvider) Complete(context.Context, *types.ChatRequest) (*types.ChatResponse, error) {
	return nil, fmt.Errorf("fake provider does not complete")
}

func (f *fakeProvider) StreamComplete(context.Context, *types.ChatRequest) (provider.ChunkStream, error) {
	return nil, fmt.Errorf("fake provider does not stream")
}

func newTestRouter(t *testing.T, backend cache.Cache, cfg config.RoutingConfig, providers ...provider.Provider) *Router {
	t.Helper()

	reg := provider.NewRegistry()
	for _, p := range providers {
		reg.Add(p)
	}
	return New(reg, backend, nil, cfg, nil)
}

func chatRequest(model, content string) *types.ChatRequest {
	return &types.ChatRequest{
		Model: model,
		Messages: []types.ChatMessage{
			{Role: types.RoleUser, Content: types.TextContent(content)},
		},
	}
}

func markUnhealthy(t *testing.T, backend cache.Cache, providerID string) {
	t.Helper()

	record := cache.HealthRecord{Healthy: false, Error: "probe failed", CheckedAt: time.Now().Unix()}
	data, err := json.Marshal(record)
	if err != nil {
		t.Fatalf("marshal health record: %v", err)
	}
	if err := backend.Set(context.Background(), cache.HealthKey(providerID), data, time.Minute); err != nil {
		t.Fatalf("seed health record: %v", err)
	}
}

func selectedIDs(providers []provider.Provider) []string {
	out := make([]string, len(providers))
	for i, p := range providers {
		out[i] = p.ID()
	}
	return out
}

func TestCandidates_ExplicitAllowlist(t *testing.T) {
	r := newTestRouter(t, nil, config.RoutingConfig{TopK: 2},
		newFakeProvider("ollama", provider.TypeLocal, "llama3"),
		newFakeProvider("openai", provider.TypeCloud, "gpt-4"),
	)

	req := chatRequest("gpt-4", "hello")
	req.Omen = &types.RoutingDirective{Providers: []string{"openai", "ollama", "ghost"}}

	selected, decision, err := r.Candidates(context.Background(), req, "general", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Source != SourceExplicit {
		t.Errorf("source = %q, want %q", decision.Source, SourceExplicit)
	}
	if len(selected) != 2 {
		t.Fatalf("selected = %v, want 2 providers", selectedIDs(selected))
	}
	// The free local backend outscores openai for general intent.
	if selected[0].ID() != "ollama" || selected[1].ID() != "openai" {
		t.Errorf("selected = %v, want [ollama openai]", selectedIDs(selected))
	}
}

func TestCandidates_AutoPrefersLocalForIntent(t *testing.T) {
	cfg := config.RoutingConfig{PreferLocalFor: []string{"code"}, TopK: 3}
	r := newTestRouter(t, nil, cfg,
		newFakeProvider("anthropic", provider.TypeCloud, "claude-sonnet"),
		newFakeProvider("ollama", provider.TypeLocal, "llama3"),
		newFakeProvider("openai", provider.TypeCloud, "gpt-4"),
	)
	ctx := context.Background()

	selected, decision, err := r.Candidates(ctx, chatRequest("auto", "implement a parser"), "code", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Source != SourceIntent {
		t.Errorf("source = %q, want %q", decision.Source, SourceIntent)
	}
	if len(selected) != 3 {
		t.Fatalf("selected = %v, want 3 providers", selectedIDs(selected))
	}
	if selected[0].ID() != "ollama" {
		t.Errorf("selected = %v, want ollama first for code intent", selectedIDs(selected))
	}

	// Intents outside the prefer-local list never route to local backends.
	selected, _, err = r.Candidates(ctx, chatRequest("auto", "hello"), "general", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, p := range selected {
		if p.ID() == "ollama" {
			t.Errorf("selected = %v, local backend routed for general intent", selectedIDs(selected))
		}
	}
	if len(selected) != 2 {
		t.Errorf("selected = %v, want the 2 cloud providers", selectedIDs(selected))
	}
}

func TestCandidates_ModelLookup(t *testing.T) {
	r := newTestRouter(t, nil, config.RoutingConfig{TopK: 2},
		newFakeProvider("openai", provider.TypeCloud, "gpt-4", "gpt-4o-mini"),
		newFakeProvider("anthropic", provider.TypeCloud, "claude-sonnet"),
	)
	ctx := context.Background()

	selected, decision, err := r.Candidates(ctx, chatRequest("claude-sonnet", "hi"), "general", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Source != SourceModel {
		t.Errorf("source = %q, want %q", decision.Source, SourceModel)
	}
	if len(selected) != 1 || selected[0].ID() != "anthropic" {
		t.Errorf("selected = %v, want [anthropic]", selectedIDs(selected))
	}

	_, _, err = r.Candidates(ctx, chatRequest("does-not-exist", "hi"), "general", "")
	gerr, ok := errors.AsGatewayError(err)
	if !ok {
		t.Fatalf("error = %v, want a gateway error", err)
	}
	if gerr.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", gerr.StatusCode)
	}
}

func TestCandidates_ExcludesUnhealthy(t *testing.T) {
	backend := cache.NewMemoryCache(cache.DefaultMemoryCacheConfig())
	defer backend.Close()

	r := newTestRouter(t, backend, config.RoutingConfig{TopK: 2},
		newFakeProvider("openai", provider.TypeCloud, "gpt-4"),
		newFakeProvider("azure", provider.TypeCloud, "gpt-4"),
	)
	ctx := context.Background()
	markUnhealthy(t, backend, "openai")

	selected, _, err := r.Candidates(ctx, chatRequest("gpt-4", "hi"), "general", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(selected) != 1 || selected[0].ID() != "azure" {
		t.Errorf("selected = %v, want [azure]", selectedIDs(selected))
	}

	markUnhealthy(t, backend, "azure")
	_, _, err = r.Candidates(ctx, chatRequest("gpt-4", "hi"), "general", "")
	if gerr, ok := errors.AsGatewayError(err); !ok || gerr.Type != errors.TypeProviderUnavailable {
		t.Errorf("error = %v, want provider unavailable", err)
	}
}

func TestCandidates_DirectiveKLimitsWidth(t *testing.T) {
	r := newTestRouter(t, nil, config.RoutingConfig{TopK: 3},
		newFakeProvider("openai", provider.TypeCloud, "gpt-4"),
		newFakeProvider("azure", provider.TypeCloud, "gpt-4"),
		newFakeProvider("xai", provider.TypeCloud, "gpt-4"),
	)

	req := chatRequest("gpt-4", "hi")
	req.Omen = &types.RoutingDirective{K: 1}

	selected, _, err := r.Candidates(context.Background(), req, "general", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(selected) != 1 {
		t.Errorf("selected = %v, want exactly 1 provider", selectedIDs(selected))
	}
}

func TestSelect_TiesKeepInputOrder(t *testing.T) {
	r := newTestRouter(t, nil, config.RoutingConfig{})
	ctx := context.Background()

	// Unknown providers share identical seed metrics and tie exactly.
	p1 := newFakeProvider("backend-one", provider.TypeCloud)
	p2 := newFakeProvider("backend-two", provider.TypeCloud)

	selected := r.Select(ctx, []provider.Provider{p1, p2}, "general", 2, nil)
	if selected[0].ID() != "backend-one" || selected[1].ID() != "backend-two" {
		t.Errorf("selected = %v, want input order preserved", selectedIDs(selected))
	}

	selected = r.Select(ctx, []provider.Provider{p2, p1}, "general", 2, nil)
	if selected[0].ID() != "backend-two" || selected[1].ID() != "backend-one" {
		t.Errorf("selected = %v, want input order preserved", selectedIDs(selected))
	}
}

func TestSelect_BoostWeights(t *testing.T) {
	r := newTestRouter(t, nil, config.RoutingConfig{})
	ctx := context.Background()

	ollama := newFakeProvider("ollama", provider.TypeLocal)
	openai := newFakeProvider("openai", provider.TypeCloud)
	pool := []provider.Provider{ollama, openai}

	selected := r.Select(ctx, pool, "general", 2, nil)
	if selected[0].ID() != "ollama" {
		t.Fatalf("selected = %v, want ollama first without boost", selectedIDs(selected))
	}

	selected = r.Select(ctx, pool, "general", 2, map[string]float64{"openai": 2.0})
	if selected[0].ID() != "openai" {
		t.Errorf("selected = %v, want boosted openai first", selectedIDs(selected))
	}
}

func TestBudget_ExhaustedBlocks(t *testing.T) {
	r := newTestRouter(t, nil, config.RoutingConfig{TopK: 2},
		newFakeProvider("openai", provider.TypeCloud, "gpt-4"),
	)
	r.SetUserBudget("alice", 0)

	_, _, err := r.Candidates(context.Background(), chatRequest("gpt-4", "hi"), "general", "alice")
	gerr, ok := errors.AsGatewayError(err)
	if !ok {
		t.Fatalf("error = %v, want a gateway error", err)
	}
	if gerr.StatusCode != http.StatusForbidden || gerr.Type != errors.TypeBudgetExceeded {
		t.Errorf("error = %d %s, want 403 budget exceeded", gerr.StatusCode, gerr.Type)
	}
}

func TestBudget_ForcesCheapestProvider(t *testing.T) {
	r := newTestRouter(t, nil, config.RoutingConfig{TopK: 2},
		newFakeProvider("anthropic", provider.TypeCloud, "shared-model"),
		newFakeProvider("openai", provider.TypeCloud, "shared-model"),
	)
	ctx := context.Background()

	req := chatRequest("shared-model", "hi")
	req.MaxTokens = 4000

	// Plenty of budget keeps the scored order.
	r.SetUserBudget("bob", 100)
	selected, _, err := r.Candidates(ctx, req, "general", "bob")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(selected) != 2 {
		t.Errorf("selected = %v, want both providers", selectedIDs(selected))
	}

	// A budget below the top candidate's estimate forces the cheapest.
	// 4000 output tokens at anthropic's 0.015 per 1k estimate to 0.06.
	r.SetUserBudget("bob", 0.02)
	selected, _, err = r.Candidates(ctx, req, "general", "bob")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(selected) != 1 || selected[0].ID() != "anthropic" {
		t.Errorf("selected = %v, want [anthropic] (cheapest)", selectedIDs(selected))
	}

	// Untracked users are never budget-gated.
	selected, _, err = r.Candidates(ctx, req, "general", "carol")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(selected) != 2 {
		t.Errorf("selected = %v, want both providers for untracked user", selectedIDs(selected))
	}
}

func TestBudget_ChargeDeducts(t *testing.T) {
	r := newTestRouter(t, nil, config.RoutingConfig{SoftLimits: map[string]float64{"alice": 10}})

	remaining, tracked := r.RemainingBudget("alice")
	if !tracked || remaining != 10 {
		t.Fatalf("remaining = %v tracked=%v, want 10 from soft limits", remaining, tracked)
	}

	r.Charge("alice", 2.5)
	if remaining, _ := r.RemainingBudget("alice"); remaining != 7.5 {
		t.Errorf("remaining after charge = %v, want 7.5", remaining)
	}

	// Charges for untracked users are dropped, not recorded.
	r.Charge("mallory", 5)
	if _, tracked := r.RemainingBudget("mallory"); tracked {
		t.Error("charge created a budget entry for an untracked user")
	}
}

func TestRecord_UpdatesStore(t *testing.T) {
	r := newTestRouter(t, nil, config.RoutingConfig{})
	ctx := context.Background()

	r.Record(ctx, "openai", 500, true, 0.01, 1000)

	m := r.MetricsFor("openai")
	if !floatNear(m.AvgLatencyMs, 1400) {
		t.Errorf("latency = %v, want 1400", m.AvgLatencyMs)
	}
	if len(r.Snapshot()) != 1 {
		t.Errorf("snapshot = %d providers, want 1", len(r.Snapshot()))
	}
}
