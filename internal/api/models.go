package api

import (
	"net/http"

	"github.com/ghostkellz/omen/internal/auth"
	"github.com/ghostkellz/omen/pkg/types"
)

// modelList is the OpenAI-compatible /v1/models envelope.
type modelList struct {
	Object string        `json:"object"`
	Data   []types.Model `json:"data"`
}

// Models handles GET /v1/models: the deduplicated union of every
// provider's catalogue, filtered to the key's allowlist.
func (h *Handler) Models(w http.ResponseWriter, r *http.Request) {
	models := h.registry.Models(r.Context())

	if id := auth.IdentityFrom(r.Context()); id != nil && len(id.AllowedModels) > 0 {
		kept := models[:0]
		for _, m := range models {
			if id.CanAccessModel(m.ID) {
				kept = append(kept, m)
			}
		}
		models = kept
	}
	if models == nil {
		models = []types.Model{}
	}

	h.writeJSON(w, http.StatusOK, modelList{Object: "list", Data: models})
}
