package provider

import (
	"context"
	"fmt"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/ghostkellz/omen/pkg/types"
)

// catalogueTTL bounds how long a model listing is trusted before the
// backend is asked again.
const catalogueTTL = 5 * time.Minute

// Registry manages provider factories and instances.
// It allows dynamic registration of new provider drivers and keeps a
// TTL-cached catalogue of which provider serves which model.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	providers map[string]Provider
	order     []string

	catalogue *gocache.Cache
}

// NewRegistry creates a new provider registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		providers: make(map[string]Provider),
		catalogue: gocache.New(catalogueTTL, 10*time.Minute),
	}
}

// RegisterFactory registers a factory function for a provider driver.
// This should be called during initialization to register all supported drivers.
func (r *Registry) RegisterFactory(driver string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[driver] = factory
}

// CreateProvider creates a new provider instance using the registered factory
// and adds it to the registry.
func (r *Registry) CreateProvider(cfg Config) (Provider, error) {
	r.mu.RLock()
	factory, ok := r.factories[cfg.Driver]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown provider driver: %s", cfg.Driver)
	}

	if cfg.ID == "" {
		cfg.ID = cfg.Driver
	}

	p, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("create provider %s: %w", cfg.ID, err)
	}

	r.Add(p)
	return p, nil
}

// Add registers an already-constructed provider. Registration order is
// preserved so candidate iteration stays deterministic.
func (r *Registry) Add(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.providers[p.ID()]; !exists {
		r.order = append(r.order, p.ID())
	}
	r.providers[p.ID()] = p
}

// Get returns a provider by id.
func (r *Registry) Get(id string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	return p, ok
}

// All returns all providers in registration order.
func (r *Registry) All() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Provider, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.providers[id])
	}
	return out
}

// IDs returns all registered provider ids in registration order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Len returns the number of registered providers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers)
}

// ProvidersForModel returns the ids of providers currently listing the
// model, in registration order. Listings are cached; a cache miss asks
// every backend and tolerates individual failures.
func (r *Registry) ProvidersForModel(ctx context.Context, model string) []string {
	if ids, ok := r.catalogue.Get(model); ok {
		return ids.([]string)
	}

	r.RefreshCatalogue(ctx)

	if ids, ok := r.catalogue.Get(model); ok {
		return ids.([]string)
	}

	// Negative entry, so an unknown model cannot trigger a refresh storm.
	r.catalogue.Set(model, []string(nil), gocache.DefaultExpiration)
	return nil
}

// RefreshCatalogue re-indexes model listings from every provider.
// Backends that fail to answer simply contribute nothing this round.
func (r *Registry) RefreshCatalogue(ctx context.Context) {
	index := make(map[string][]string)
	for _, p := range r.All() {
		models, err := p.ListModels(ctx)
		if err != nil {
			continue
		}
		for _, m := range models {
			index[m.ID] = append(index[m.ID], p.ID())
		}
	}

	r.catalogue.Flush()
	for model, ids := range index {
		r.catalogue.Set(model, ids, gocache.DefaultExpiration)
	}
}

// Models returns the merged catalogue across all providers. Duplicate
// model ids keep the first provider's entry.
func (r *Registry) Models(ctx context.Context) []types.Model {
	seen := make(map[string]struct{})
	var out []types.Model
	for _, p := range r.All() {
		models, err := p.ListModels(ctx)
		if err != nil {
			continue
		}
		for _, m := range models {
			if _, dup := seen[m.ID]; dup {
				continue
			}
			seen[m.ID] = struct{}{}
			if m.Provider == "" {
				m.Provider = p.ID()
			}
			out = append(out, m)
		}
	}
	return out
}
