package router

// maxReasonableCost is the per-1k-token price treated as fully expensive
// when normalizing cost to a score.
const maxReasonableCost = 0.10

// defaultTargetLatencyMs is the SLA target for intents without their own.
const defaultTargetLatencyMs = 3000

// latencyTargets holds per-intent SLA targets in milliseconds.
var latencyTargets = map[string]float64{
	"code":     2000,
	"tests":    3000,
	"analysis": 5000,
	"general":  3000,
}

// weights is one intent's scoring blend. Fields sum to 1.
type weights struct {
	cost        float64
	latency     float64
	quality     float64
	reliability float64
}

// intentWeights maps request intent to its scoring blend. Code paths
// favor latency, analysis favors quality, explanations favor cost.
var intentWeights = map[string]weights{
	"code":        {cost: 0.2, latency: 0.5, quality: 0.2, reliability: 0.1},
	"tests":       {cost: 0.3, latency: 0.4, quality: 0.2, reliability: 0.1},
	"analysis":    {cost: 0.2, latency: 0.3, quality: 0.4, reliability: 0.1},
	"explanation": {cost: 0.4, latency: 0.2, quality: 0.3, reliability: 0.1},
	"regex":       {cost: 0.2, latency: 0.6, quality: 0.1, reliability: 0.1},
}

// defaultWeights is the blend for intents not in the table.
var defaultWeights = weights{cost: 0.3, latency: 0.4, quality: 0.2, reliability: 0.1}

// score rates a provider for an intent. Higher is better. The result is
// the weighted blend of normalized metric scores, discounted by load.
func score(m ProviderMetrics, intent string) float64 {
	target := defaultTargetLatencyMs * 1.0
	if t, ok := latencyTargets[intent]; ok {
		target = t
	}

	w, ok := intentWeights[intent]
	if !ok {
		w = defaultWeights
	}

	latency := latencyScore(m.AvgLatencyMs, target)
	cost := costScore(m.CostPer1kTokens)
	reliability := m.SuccessRate * m.Availability

	total := cost*w.cost + latency*w.latency + m.QualityScore*w.quality + reliability*w.reliability

	// Up to a 20% discount when a provider is saturated.
	loadPenalty := 1 - m.CurrentLoad*0.2

	return total * loadPenalty
}

// latencyScore maps average latency to [0, 1] against a target. Under
// target the score stays near one; past target it decays linearly and
// bottoms out at zero past twice the target.
func latencyScore(avgMs, targetMs float64) float64 {
	if avgMs <= targetMs {
		return 1 - (avgMs/targetMs)*0.2
	}
	penalty := (avgMs - targetMs) / targetMs
	if penalty > 1 {
		penalty = 1
	}
	return 1 - penalty
}

// costScore maps a per-1k price to [0, 1]. Free scores one; anything at
// or above maxReasonableCost scores zero.
func costScore(costPer1k float64) float64 {
	normalized := costPer1k / maxReasonableCost
	if normalized > 1 {
		normalized = 1
	}
	s := 1 - normalized
	if s < 0 {
		return 0
	}
	return s
}
