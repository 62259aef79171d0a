package resilience

import "sync"

// Set holds one breaker per provider, created lazily with a shared
// config. All breakers inherit the set's state-change callback.
type Set struct {
	mu       sync.Mutex
	breakers map[string]*Breaker
	config   BreakerConfig
	onChange func(name string, from, to CircuitState)
}

// NewSet creates an empty breaker set.
func NewSet(cfg BreakerConfig) *Set {
	if cfg.FailureThreshold <= 0 {
		cfg = DefaultBreakerConfig()
	}
	return &Set{
		breakers: make(map[string]*Breaker),
		config:   cfg,
	}
}

// OnStateChange sets the callback applied to every breaker in the set,
// including ones created later.
func (s *Set) OnStateChange(fn func(name string, from, to CircuitState)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
	for _, cb := range s.breakers {
		cb.OnStateChange(fn)
	}
}

// For returns the provider's breaker, creating it on first use.
func (s *Set) For(providerID string) *Breaker {
	s.mu.Lock()
	defer s.mu.Unlock()

	cb, ok := s.breakers[providerID]
	if !ok {
		cb = NewBreaker(providerID, s.config)
		if s.onChange != nil {
			cb.OnStateChange(s.onChange)
		}
		s.breakers[providerID] = cb
	}
	return cb
}

// States snapshots every breaker's state, keyed by provider.
func (s *Set) States() map[string]CircuitState {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]CircuitState, len(s.breakers))
	for id, cb := range s.breakers {
		out[id] = cb.State()
	}
	return out
}
