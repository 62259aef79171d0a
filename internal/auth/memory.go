package auth

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process KeyStore for single-instance deployments
// and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	byHash map[string]*APIKeyInfo
	byID   map[string]*APIKeyInfo
}

// NewMemoryStore creates an empty in-memory key store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byHash: make(map[string]*APIKeyInfo),
		byID:   make(map[string]*APIKeyInfo),
	}
}

var _ KeyStore = (*MemoryStore)(nil)

// GetByHash returns the key with the given hash, or nil.
func (s *MemoryStore) GetByHash(ctx context.Context, hash string) (*APIKeyInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key, ok := s.byHash[hash]
	if !ok {
		return nil, nil
	}
	return copyKey(key), nil
}

// GetByID returns the key with the given ID, or nil.
func (s *MemoryStore) GetByID(ctx context.Context, id string) (*APIKeyInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key, ok := s.byID[id]
	if !ok {
		return nil, nil
	}
	return copyKey(key), nil
}

// Create stores a new key.
func (s *MemoryStore) Create(ctx context.Context, key *APIKeyInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := copyKey(key)
	s.byHash[stored.KeyHash] = stored
	s.byID[stored.ID] = stored
	return nil
}

// List returns all keys, newest first.
func (s *MemoryStore) List(ctx context.Context) ([]*APIKeyInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]*APIKeyInfo, 0, len(s.byID))
	for _, key := range s.byID {
		keys = append(keys, copyKey(key))
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].CreatedAt.After(keys[j].CreatedAt)
	})
	return keys, nil
}

// Revoke marks the key revoked.
func (s *MemoryStore) Revoke(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if key, ok := s.byID[id]; ok {
		key.Revoked = true
	}
	return nil
}

// TouchLastUsed records when the key last authenticated a request.
func (s *MemoryStore) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if key, ok := s.byID[id]; ok {
		key.LastUsed = &at
	}
	return nil
}

// Ping always succeeds for the in-memory store.
func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }

// copyKey returns a deep copy so callers cannot mutate stored state.
func copyKey(key *APIKeyInfo) *APIKeyInfo {
	out := *key
	if key.Permissions != nil {
		out.Permissions = append([]string(nil), key.Permissions...)
	}
	if key.AllowedModels != nil {
		out.AllowedModels = append([]string(nil), key.AllowedModels...)
	}
	if key.RateLimitPerHour != nil {
		v := *key.RateLimitPerHour
		out.RateLimitPerHour = &v
	}
	if key.BudgetUSDPerDay != nil {
		v := *key.BudgetUSDPerDay
		out.BudgetUSDPerDay = &v
	}
	if key.LastUsed != nil {
		t := *key.LastUsed
		out.LastUsed = &t
	}
	return &out
}
