package observability

import "time"

// CallType represents the type of inference call.
type CallType string

const (
	CallTypeChatCompletion CallType = "chat_completion"
	CallTypeCompletion     CallType = "completion"
	CallTypeEmbedding      CallType = "embedding"
)

// RequestStatus represents the terminal status of a request.
type RequestStatus string

const (
	RequestStatusSuccess RequestStatus = "success"
	RequestStatusFailure RequestStatus = "failure"
)

// UsageEvent is the per-request accounting record emitted by the pipeline.
// It feeds the OTel metrics bridge and the spend log.
type UsageEvent struct {
	RequestID string        `json:"request_id"`
	CallType  CallType      `json:"call_type"`
	Status    RequestStatus `json:"status"`

	RequestedModel string `json:"requested_model"`
	Model          string `json:"model"`
	Provider       string `json:"provider"`

	// Multiplexer outcome. Strategy is empty for non-multiplexed calls.
	Strategy string `json:"strategy,omitempty"`
	Upgraded bool   `json:"upgraded,omitempty"`

	UserID  string `json:"user_id,omitempty"`
	Service string `json:"service,omitempty"`
	Tier    string `json:"tier,omitempty"`

	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`

	// CostUSD is what the tenant is billed. SpentUSD includes losing
	// multiplexer branches and is never billed.
	CostUSD  float64 `json:"cost_usd"`
	SpentUSD float64 `json:"spent_usd"`

	CacheHit bool `json:"cache_hit"`

	StartTime      time.Time  `json:"start_time"`
	EndTime        time.Time  `json:"end_time"`
	FirstTokenTime *time.Time `json:"first_token_time,omitempty"`

	Error string `json:"error,omitempty"`
}

// LatencyMs returns the total request latency in milliseconds.
func (e *UsageEvent) LatencyMs() int64 {
	return e.EndTime.Sub(e.StartTime).Milliseconds()
}

// TTFTMs returns time to first token in milliseconds, or -1 when unknown.
func (e *UsageEvent) TTFTMs() int64 {
	if e.FirstTokenTime == nil {
		return -1
	}
	return e.FirstTokenTime.Sub(e.StartTime).Milliseconds()
}
