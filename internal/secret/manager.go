package secret

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Manager routes secret references to registered providers by scheme prefix.
// References look like "env:OPENAI_API_KEY" or "vault:secret/data/openai#key".
// A reference without a registered scheme prefix is a literal value.
type Manager struct {
	providers map[string]Provider
	mu        sync.RWMutex
}

// NewManager creates a new secret manager.
func NewManager() *Manager {
	return &Manager{
		providers: make(map[string]Provider),
	}
}

// Register registers a provider for a specific scheme (e.g., "vault", "env").
func (m *Manager) Register(scheme string, provider Provider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providers[scheme] = provider
}

// Get resolves a secret reference. An unrecognized or missing scheme prefix
// returns the reference unchanged, so raw API keys pass through even when
// they contain colons.
func (m *Manager) Get(ctx context.Context, ref string) (string, error) {
	scheme, path, found := strings.Cut(ref, ":")
	if !found {
		return ref, nil
	}

	m.mu.RLock()
	provider, ok := m.providers[scheme]
	m.mu.RUnlock()

	if !ok {
		return ref, nil
	}

	return provider.Get(ctx, path)
}

// Close closes all registered providers.
func (m *Manager) Close() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var errs []string
	for scheme, p := range m.providers {
		if err := p.Close(); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", scheme, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("failed to close providers: %s", strings.Join(errs, "; "))
	}
	return nil
}
