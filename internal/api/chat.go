package api

import (
	"context"
	"io"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/ghostkellz/omen/internal/auth"
	"github.com/ghostkellz/omen/internal/httputil"
	"github.com/ghostkellz/omen/internal/pipeline"
	"github.com/ghostkellz/omen/internal/session"
	"github.com/ghostkellz/omen/internal/streaming"
	"github.com/ghostkellz/omen/pkg/errors"
	"github.com/ghostkellz/omen/pkg/types"
)

// sessionHeader carries the client's conversation id for sticky
// routing.
const sessionHeader = "X-Session-ID"

// ChatCompletions handles POST /v1/chat/completions.
func (h *Handler) ChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req types.ChatRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		h.writeError(w, errors.NewInvalidRequestError("", req.Model, err.Error()))
		return
	}
	if req.Omen != nil {
		if err := req.Omen.Validate(); err != nil {
			h.writeError(w, errors.NewInvalidRequestError("", req.Model, err.Error()))
			return
		}
	}
	ctx, ok := h.admitModel(w, r, req.Model)
	if !ok {
		return
	}

	if !req.Stream {
		resp, err := h.pipeline.Complete(ctx, &req)
		if err != nil {
			h.writeError(w, err)
			return
		}
		h.writeJSON(w, http.StatusOK, resp)
		return
	}

	stream, err := h.pipeline.Stream(ctx, &req)
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
	h.forward(sse, stream, req.Model)
}

// forward drains a pipeline stream onto the SSE writer. Errors after
// the first chunk go out in-band; the [DONE] marker always follows.
func (h *Handler) forward(sse *streaming.Writer, stream *pipeline.Stream, model string) {
	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			gerr := errors.Wrap(err, stream.Winner(), model)
			if serr := sse.SendError(gerr.Message, gerr.Type, gerr.HTTPStatusCode()); serr != nil {
				h.logger.Warn("sse error write failed", "error", serr)
			}
			break
		}
		if err := sse.Send(chunk); err != nil {
			// Client went away; the deferred Close cancels branches.
			h.logger.Debug("client disconnected mid-stream", "error", err)
			return
		}
	}
	if err := sse.Done(); err != nil {
		h.logger.Debug("sse done write failed", "error", err)
	}
}

// admitModel enforces the key's model allowlist and threads the session
// id into the request context.
func (h *Handler) admitModel(w http.ResponseWriter, r *http.Request, model string) (ctx context.Context, ok bool) {
	ctx = r.Context()
	if id := auth.IdentityFrom(ctx); id != nil && !id.CanAccessModel(model) {
		h.writeError(w, errors.NewModelNotFoundError(model, "model not available for this key"))
		return ctx, false
	}
	if sid := r.Header.Get(sessionHeader); sid != "" {
		ctx = session.WithID(ctx, sid)
	}
	return ctx, true
}

// decodeBody reads and unmarshals a bounded request body into v.
func (h *Handler) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	body, err := httputil.ReadLimitedBody(r.Body, maxBodyBytes)
	if err != nil {
		h.writeError(w, errors.NewInvalidRequestError("", "", err.Error()))
		return false
	}
	defer r.Body.Close()

	if err := json.Unmarshal(body, v); err != nil {
		h.writeError(w, errors.NewInvalidRequestError("", "", "invalid JSON: "+err.Error()))
		return false
	}
	return true
}
