// Package vertexai implements the Google Vertex AI provider adapter for
// Anthropic Claude models.
//
// Vertex exposes Claude through rawPredict and streamRawPredict with the
// native Messages schema, so the adapter reuses the anthropic wire layer
// and only swaps the endpoint, the version tag and the OAuth credential.
package vertexai

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	"github.com/goccy/go-json"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/ghostkellz/omen/internal/httputil"
	"github.com/ghostkellz/omen/pkg/errors"
	"github.com/ghostkellz/omen/pkg/provider"
	"github.com/ghostkellz/omen/pkg/types"
	"github.com/ghostkellz/omen/providers/anthropic"
	"github.com/ghostkellz/omen/providers/openailike"
)

const (
	// ProviderName is the canonical driver name.
	ProviderName = "vertexai"

	// DefaultLocation is the GCP region used when none is configured.
	DefaultLocation = "us-central1"

	// anthropicVersion is the version tag Vertex expects inside Claude
	// payloads in place of the model field.
	anthropicVersion = "vertex-2023-10-16"

	cloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"
)

// Provider implements provider.Provider for Claude on Vertex AI.
type Provider struct {
	id        string
	projectID string
	location  string
	tokenSrc  oauth2.TokenSource

	// baseURL overrides the regional endpoint, for tests and Private
	// Service Connect. Empty means https://{location}-aiplatform.googleapis.com.
	baseURL string

	client       *http.Client
	streamClient *http.Client
}

var _ provider.Provider = (*Provider)(nil)

// New creates a Vertex AI provider. The token source must yield OAuth
// access tokens with the cloud-platform scope.
func New(projectID string, tokenSrc oauth2.TokenSource, opts ...Option) *Provider {
	p := &Provider{
		id:           ProviderName,
		projectID:    projectID,
		location:     DefaultLocation,
		tokenSrc:     tokenSrc,
		client:       &http.Client{Timeout: openailike.DefaultTimeout},
		streamClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewFromConfig creates a provider from the gateway configuration. With
// no explicit credential the Application Default Credentials chain is
// used, which also supplies the project ID when the config omits it.
func NewFromConfig(cfg provider.Config) (provider.Provider, error) {
	projectID := cfg.ProjectID

	var tokenSrc oauth2.TokenSource
	switch {
	case cfg.TokenSource != nil:
		tokenSrc = tokenSourceAdapter{cfg.TokenSource}
	case cfg.APIKey != "":
		tokenSrc = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.APIKey})
	default:
		creds, err := google.FindDefaultCredentials(context.Background(), cloudPlatformScope)
		if err != nil {
			return nil, fmt.Errorf("find default credentials: %w", err)
		}
		tokenSrc = creds.TokenSource
		if projectID == "" {
			projectID = creds.ProjectID
		}
	}

	if projectID == "" {
		return nil, errors.NewInvalidRequestError(ProviderName, "", "project_id is required for vertexai")
	}

	opts := []Option{WithID(cfg.ID), WithLocation(cfg.Location)}
	if cfg.BaseURL != "" {
		if err := provider.ValidateBaseURL(cfg.BaseURL, cfg.AllowPrivateBaseURL); err != nil {
			return nil, err
		}
		opts = append(opts, WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, WithTimeout(cfg.Timeout))
	}
	return New(projectID, tokenSrc, opts...), nil
}

// tokenSourceAdapter bridges the gateway token source to oauth2.
type tokenSourceAdapter struct {
	ts provider.TokenSource
}

func (a tokenSourceAdapter) Token() (*oauth2.Token, error) {
	tok, err := a.ts.Token()
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{AccessToken: tok}, nil
}

// ID returns the configured provider ID.
func (p *Provider) ID() string {
	return p.id
}

// Name returns the human-readable provider name.
func (p *Provider) Name() string {
	return "Google Vertex AI (Claude)"
}

// Type reports Vertex AI as a cloud provider.
func (p *Provider) Type() provider.Type {
	return provider.TypeCloud
}

// Health verifies that an access token can be minted. Vertex has no
// cheap unauthenticated ping, and a valid credential is the part that
// actually fails in practice.
func (p *Provider) Health(ctx context.Context) error {
	if _, err := p.tokenSrc.Token(); err != nil {
		return errors.NewAuthenticationError(p.id, "", fmt.Sprintf("fetch access token: %v", err))
	}
	return nil
}

// ListModels returns the Claude models served through Vertex AI.
func (p *Provider) ListModels(ctx context.Context) ([]types.Model, error) {
	models := []types.Model{
		{ID: "claude-sonnet-4-5@20250929", Created: 1748649600, Pricing: types.ModelPricing{InputPer1K: 0.003, OutputPer1K: 0.015}},
		{ID: "claude-opus-4-1@20250805", Created: 1754438400, Pricing: types.ModelPricing{InputPer1K: 0.015, OutputPer1K: 0.075}},
		{ID: "claude-sonnet-4@20250514", Created: 1747180800, Pricing: types.ModelPricing{InputPer1K: 0.003, OutputPer1K: 0.015}},
		{ID: "claude-3-7-sonnet@20250219", Created: 1739923200, Pricing: types.ModelPricing{InputPer1K: 0.003, OutputPer1K: 0.015}},
		{ID: "claude-3-5-sonnet@20241022", Created: 1729555200, Pricing: types.ModelPricing{InputPer1K: 0.003, OutputPer1K: 0.015}},
	}
	for i := range models {
		models[i].Object = "model"
		models[i].OwnedBy = "anthropic"
		models[i].Provider = p.id
		models[i].ContextLength = 200000
		models[i].Capabilities = types.ModelCapabilities{Vision: true, Functions: true, Streaming: true}
	}
	return models, nil
}

// Complete performs a non-streaming rawPredict call.
func (p *Provider) Complete(ctx context.Context, req *types.ChatRequest) (*types.ChatResponse, error) {
	httpReq, err := p.BuildRequest(ctx, req, false)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p.id, err)
	}
	defer resp.Body.Close()

	body, err := httputil.ReadLimitedBody(resp.Body, httputil.DefaultMaxResponseBodyBytes)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, p.MapError(req.Model, resp.StatusCode, body)
	}

	var native anthropic.Response
	if err := json.Unmarshal(body, &native); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	out := anthropic.TransformResponse(&native)
	out.Model = req.Model
	return out, nil
}

// StreamComplete performs a streamRawPredict call. The response is the
// anthropic SSE event grammar.
func (p *Provider) StreamComplete(ctx context.Context, req *types.ChatRequest) (provider.ChunkStream, error) {
	httpReq, err := p.BuildRequest(ctx, req, true)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := p.streamClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p.id, err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := httputil.ReadLimitedBody(resp.Body, httputil.DefaultMaxResponseBodyBytes)
		resp.Body.Close()
		return nil, p.MapError(req.Model, resp.StatusCode, body)
	}

	model := req.Model
	parse := func(line []byte) (*types.StreamChunk, error) {
		chunk, err := anthropic.ParseChunk(line)
		if err != nil || chunk == nil {
			return chunk, err
		}
		chunk.Model = model
		return chunk, nil
	}
	return openailike.NewSSEStream(resp.Body, parse, nil), nil
}

// BuildRequest constructs the Vertex invocation. The model ID travels in
// the URL; the payload carries the version tag instead.
func (p *Provider) BuildRequest(ctx context.Context, req *types.ChatRequest, stream bool) (*http.Request, error) {
	native, err := anthropic.TransformRequest(req)
	if err != nil {
		return nil, err
	}
	native.Model = ""
	native.AnthropicVersion = anthropicVersion
	native.Stream = stream

	body, err := json.Marshal(native)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	action := "rawPredict"
	if stream {
		action = "streamRawPredict"
	}
	base := p.baseURL
	if base == "" {
		base = fmt.Sprintf("https://%s-aiplatform.googleapis.com", p.location)
	}
	url := fmt.Sprintf("%s/v1/projects/%s/locations/%s/publishers/anthropic/models/%s:%s",
		base, p.projectID, p.location, req.Model, action)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	tok, err := p.tokenSrc.Token()
	if err != nil {
		return nil, errors.NewAuthenticationError(p.id, req.Model, fmt.Sprintf("fetch access token: %v", err))
	}
	httpReq.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	httpReq.Header.Set("Content-Type", "application/json")
	return httpReq, nil
}

// MapError converts a Vertex error response into a gateway error.
// Vertex wraps errors in the Google envelope {"error": {"message": ...}}.
func (p *Provider) MapError(model string, statusCode int, body []byte) error {
	message := string(body)
	var payload struct {
		Error struct {
			Message string `json:"message"`
			Status  string `json:"status"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error.Message != "" {
		message = payload.Error.Message
	}
	return openailike.StatusError(p.id, model, statusCode, message)
}
