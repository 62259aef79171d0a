package api

import (
	"io"
	"net/http"

	"github.com/ghostkellz/omen/internal/streaming"
	"github.com/ghostkellz/omen/pkg/errors"
	"github.com/ghostkellz/omen/pkg/types"
)

// Completions handles POST /v1/completions, the legacy text surface.
// Requests convert to chat form, run the normal pipeline, and convert
// back on the way out.
func (h *Handler) Completions(w http.ResponseWriter, r *http.Request) {
	var req types.CompletionRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		h.writeError(w, errors.NewInvalidRequestError("", req.Model, err.Error()))
		return
	}

	chatReq, err := req.ToChatRequest()
	if err != nil {
		h.writeError(w, errors.NewInvalidRequestError("", req.Model, err.Error()))
		return
	}
	ctx, ok := h.admitModel(w, r, req.Model)
	if !ok {
		return
	}

	if !req.Stream {
		resp, err := h.pipeline.Complete(ctx, chatReq)
		if err != nil {
			h.writeError(w, err)
			return
		}
		h.writeJSON(w, http.StatusOK, types.CompletionResponseFromChat(resp))
		return
	}

	stream, err := h.pipeline.Stream(ctx, chatReq)
	if err != nil {
		h.writeError(w, err)
		return
	}
	defer stream.Close()

	sse, err := streaming.NewWriter(w)
	if err != nil {
		h.writeError(w, errors.NewInternalError("", req.Model, err.Error()))
		return
	}
	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			gerr := errors.Wrap(err, stream.Winner(), req.Model)
			if serr := sse.SendError(gerr.Message, gerr.Type, gerr.HTTPStatusCode()); serr != nil {
				h.logger.Warn("sse error write failed", "error", serr)
			}
			break
		}
		if err := sse.Send(types.CompletionStreamChunkFromChat(chunk)); err != nil {
			h.logger.Debug("client disconnected mid-stream", "error", err)
			return
		}
	}
	if err := sse.Done(); err != nil {
		h.logger.Debug("sse done write failed", "error", err)
	}
}
