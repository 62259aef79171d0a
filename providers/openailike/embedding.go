package openailike

import (
	"context"
	"fmt"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/ghostkellz/omen/internal/httputil"
	"github.com/ghostkellz/omen/pkg/types"
)

// Embed performs an embedding call against the backend.
func (p *Provider) Embed(ctx context.Context, req *types.EmbeddingRequest) (*types.EmbeddingResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid embedding request: %w", err)
	}

	if err := p.acquire(ctx); err != nil {
		return nil, err
	}
	defer p.release()

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	endpoint := p.info.EmbeddingEndpoint
	if endpoint == "" {
		endpoint = DefaultEmbeddingEndpoint
	}
	httpReq, err := p.newRequest(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p.id, err)
	}
	defer resp.Body.Close()

	respBody, err := httputil.ReadLimitedBody(resp.Body, httputil.DefaultMaxResponseBodyBytes)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, MapError(p.id, req.Model, resp.StatusCode, respBody)
	}

	var embResp types.EmbeddingResponse
	if err := json.Unmarshal(respBody, &embResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return &embResp, nil
}
