// Package session persists multi-turn conversation state on the shared
// gateway cache, so every replica sees the same provider affinity and
// per-session spend.
package session

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/goccy/go-json"

	"github.com/ghostkellz/omen/internal/cache"
	"github.com/ghostkellz/omen/pkg/types"
)

// Store reads and writes sessions under the session: keyspace. Sessions
// are created by the first request carrying a session ID and evicted
// after ttl of inactivity; every recorded request re-arms the TTL.
type Store struct {
	backend cache.Cache
	ttl     time.Duration
	logger  *slog.Logger
}

// NewStore builds a session store over the given cache backend. A
// non-positive ttl falls back to cache.DefaultSessionTTL.
func NewStore(backend cache.Cache, ttl time.Duration, logger *slog.Logger) *Store {
	if ttl <= 0 {
		ttl = cache.DefaultSessionTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{backend: backend, ttl: ttl, logger: logger}
}

// Activity describes one committed request to record against a session.
type Activity struct {
	Service    string
	User       string
	WorkflowID string
	Provider   string
	CostUSD    float64
}

// Get returns the session, or nil when it does not exist. Backend
// failures degrade to a miss so a cache outage never blocks requests.
func (s *Store) Get(ctx context.Context, sessionID string) *types.Session {
	if sessionID == "" || s.backend == nil {
		return nil
	}

	key := cache.SessionKey(sessionID)
	data, err := s.backend.Get(ctx, key)
	if err != nil {
		s.logger.Warn("session get failed", "session_id", sessionID, "error", err)
		return nil
	}
	if data == nil {
		return nil
	}

	var sess types.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		// Corrupt entry, drop it so the next request starts clean.
		_ = s.backend.Delete(ctx, key)
		return nil
	}
	return &sess
}

// Record applies one committed request to the session, creating it on
// first use. The write re-arms the idle TTL. Write failures are logged
// and swallowed; the request already succeeded and must not fail on a
// session bookkeeping miss.
func (s *Store) Record(ctx context.Context, sessionID string, act Activity) *types.Session {
	if sessionID == "" || s.backend == nil {
		return nil
	}

	sess := s.Get(ctx, sessionID)
	if sess == nil {
		now := time.Now().UTC()
		sess = &types.Session{
			ID:           sessionID,
			CreatedAt:    now,
			LastActivity: now,
		}
	}

	// First writer tags the session; later requests only bump counters.
	if sess.Service == "" {
		sess.Service = act.Service
	}
	if sess.User == "" {
		sess.User = act.User
	}
	if sess.WorkflowID == "" {
		sess.WorkflowID = act.WorkflowID
	}
	sess.Touch(act.Provider, act.CostUSD)

	data, err := json.Marshal(sess)
	if err != nil {
		s.logger.Warn("session encode failed", "session_id", sessionID, "error", err)
		return sess
	}
	if err := s.backend.Set(ctx, cache.SessionKey(sessionID), data, s.ttl); err != nil {
		s.logger.Warn("session write failed", "session_id", sessionID, "error", err)
	}
	return sess
}

// StickyProvider returns the provider last committed for the session, or
// "" when the session is unknown or has no affinity yet.
func (s *Store) StickyProvider(ctx context.Context, sessionID string) string {
	sess := s.Get(ctx, sessionID)
	if sess == nil {
		return ""
	}
	return sess.Provider
}

// List returns all live sessions, most recently active first. Listing
// requires a backend that can enumerate keys; others report none.
func (s *Store) List(ctx context.Context) ([]*types.Session, error) {
	lister, ok := s.backend.(cache.KeyLister)
	if !ok {
		return nil, nil
	}

	keys, err := lister.Keys(ctx, cache.PrefixSession+"*")
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, nil
	}

	values, err := s.backend.GetMulti(ctx, keys)
	if err != nil {
		return nil, err
	}

	sessions := make([]*types.Session, 0, len(values))
	for _, data := range values {
		var sess types.Session
		if err := json.Unmarshal(data, &sess); err != nil {
			continue
		}
		sessions = append(sessions, &sess)
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].LastActivity.After(sessions[j].LastActivity)
	})
	return sessions, nil
}

// Delete removes the session.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	if sessionID == "" || s.backend == nil {
		return nil
	}
	return s.backend.Delete(ctx, cache.SessionKey(sessionID))
}
