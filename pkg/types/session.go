package types

import "time"

// Session tracks a multi-turn conversation across requests. Sessions pin
// provider affinity for sticky routing and accumulate per-session spend.
type Session struct {
	ID           string    `json:"session_id"`
	Service      string    `json:"service,omitempty"`
	User         string    `json:"user,omitempty"`
	WorkflowID   string    `json:"workflow_id,omitempty"`
	Provider     string    `json:"provider,omitempty"` // last committed provider
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	RequestCount int       `json:"request_count"`
	TotalCostUSD float64   `json:"total_cost_usd"`
}

// Touch records one more request against the session.
func (s *Session) Touch(provider string, costUSD float64) {
	s.LastActivity = time.Now().UTC()
	s.RequestCount++
	s.TotalCostUSD += costUSD
	if provider != "" {
		s.Provider = provider
	}
}

// Active reports whether the session has seen activity within ttl.
func (s *Session) Active(ttl time.Duration) bool {
	return time.Since(s.LastActivity) < ttl
}
