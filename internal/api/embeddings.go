package api

import (
	"net/http"

	"github.com/ghostkellz/omen/pkg/errors"
	"github.com/ghostkellz/omen/pkg/types"
)

// Embeddings handles POST /v1/embeddings.
func (h *Handler) Embeddings(w http.ResponseWriter, r *http.Request) {
	var req types.EmbeddingRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		h.writeError(w, errors.NewInvalidRequestError("", req.Model, err.Error()))
		return
	}
	ctx, ok := h.admitModel(w, r, req.Model)
	if !ok {
		return
	}

	resp, err := h.pipeline.Embed(ctx, &req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}
