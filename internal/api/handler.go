// Package api exposes the gateway over HTTP: the OpenAI-compatible
// inference surface plus OMEN's own status, billing, and admin routes.
package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/ghostkellz/omen/internal/admission"
	"github.com/ghostkellz/omen/internal/auth"
	"github.com/ghostkellz/omen/internal/cache"
	"github.com/ghostkellz/omen/internal/pipeline"
	"github.com/ghostkellz/omen/internal/session"
	"github.com/ghostkellz/omen/pkg/errors"
	"github.com/ghostkellz/omen/pkg/provider"
)

// maxBodyBytes caps inference request bodies. Large multimodal payloads
// fit well under this.
const maxBodyBytes = 10 << 20

// Handler serves every gateway route. Optional fields degrade the
// related endpoints rather than failing construction.
type Handler struct {
	pipeline  *pipeline.Pipeline
	registry  *provider.Registry
	admission *admission.Controller
	responses *cache.ResponseCache
	sessions  *session.Store
	keys      auth.KeyStore
	logger    *slog.Logger
}

// Deps carries the handler's collaborators.
type Deps struct {
	Pipeline  *pipeline.Pipeline
	Registry  *provider.Registry
	Admission *admission.Controller
	Responses *cache.ResponseCache
	Sessions  *session.Store
	Keys      auth.KeyStore
	Logger    *slog.Logger
}

// NewHandler creates the API handler.
func NewHandler(deps Deps) *Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		pipeline:  deps.Pipeline,
		registry:  deps.Registry,
		admission: deps.Admission,
		responses: deps.Responses,
		sessions:  deps.Sessions,
		keys:      deps.Keys,
		logger:    logger,
	}
}

// writeJSON writes v with the given status. Encoding failures are
// logged; the status line is already committed by then.
func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("response encode failed", "error", err)
	}
}

// writeError maps any error onto the OpenAI-style envelope. Rate limit
// errors carry a Retry-After hint when one is set.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	gerr := errors.Wrap(err, "", "")
	if gerr.RetryAfterSec > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(gerr.RetryAfterSec))
	}
	h.writeJSON(w, gerr.HTTPStatusCode(), ErrorResponse{Error: ErrorDetail{
		Message: gerr.Message,
		Type:    gerr.Type,
	}})
}
