package auth

import (
	"context"
	"time"
)

// KeyStore persists API keys. Implementations are in-memory for single
// instances and Postgres when replicas share a key set.
type KeyStore interface {
	// GetByHash returns the key with the given hash, or nil when no
	// such key exists. Revoked keys are returned so callers can tell
	// "revoked" apart from "unknown".
	GetByHash(ctx context.Context, hash string) (*APIKeyInfo, error)

	// GetByID returns the key with the given ID, or nil.
	GetByID(ctx context.Context, id string) (*APIKeyInfo, error)

	// Create stores a new key.
	Create(ctx context.Context, key *APIKeyInfo) error

	// List returns all keys, newest first.
	List(ctx context.Context) ([]*APIKeyInfo, error)

	// Revoke marks the key revoked. Revocation is permanent.
	Revoke(ctx context.Context, id string) error

	// TouchLastUsed records when the key last authenticated a request.
	TouchLastUsed(ctx context.Context, id string, at time.Time) error

	// Ping checks the backing store is reachable.
	Ping(ctx context.Context) error

	// Close releases the store's resources.
	Close() error
}
