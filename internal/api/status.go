package api

import (
	"net/http"
	"time"
)

// Liveness handles GET /health. It reports process liveness only;
// provider reachability lives under /status.
func (h *Handler) Liveness(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// Status handles GET /status: each provider's cached health verdict
// plus its composite score ranking.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	router := h.pipeline.Router()
	health := router.Health(r.Context())
	scores := router.Scores(r.Context())

	overall := "ok"
	healthy := 0
	for _, p := range health {
		if p.Healthy {
			healthy++
		}
	}
	switch {
	case len(health) == 0 || healthy == 0:
		overall = "down"
	case healthy < len(health):
		overall = "degraded"
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"status":    overall,
		"providers": health,
		"scores":    scores,
	})
}

// Providers handles GET /omen/providers: the raw per-provider metrics
// the router selects on.
func (h *Handler) Providers(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{
		"providers": h.pipeline.Router().Snapshot(),
	})
}

// Breakers handles GET /omen/breakers: current circuit state per
// provider.
func (h *Handler) Breakers(w http.ResponseWriter, _ *http.Request) {
	states := h.pipeline.Breakers().States()
	out := make(map[string]string, len(states))
	for id, s := range states {
		out[id] = s.String()
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"breakers": out})
}
