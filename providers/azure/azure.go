// Package azure provides the Azure OpenAI provider adapter. Azure
// speaks the OpenAI wire format but routes through per-deployment URLs
// with api-key authentication.
package azure

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/goccy/go-json"

	"github.com/ghostkellz/omen/internal/httputil"
	"github.com/ghostkellz/omen/pkg/provider"
	"github.com/ghostkellz/omen/pkg/types"
	"github.com/ghostkellz/omen/providers/openailike"
)

const (
	// ProviderName is the identifier for this provider.
	ProviderName = "azure"

	// DefaultAPIVersion is sent when the configuration does not pin one.
	DefaultAPIVersion = "2024-02-15-preview"
)

// Provider implements the Azure OpenAI adapter.
type Provider struct {
	id          string
	apiKey      string
	tokenSource provider.TokenSource
	baseURL     string
	apiVersion  string
	headers     map[string]string

	client       *http.Client
	streamClient *http.Client
}

var _ provider.Provider = (*Provider)(nil)

// New creates a new Azure OpenAI provider with the given options.
func New(opts ...Option) *Provider {
	p := &Provider{
		id:           ProviderName,
		apiVersion:   DefaultAPIVersion,
		headers:      make(map[string]string),
		client:       &http.Client{Timeout: openailike.DefaultTimeout},
		streamClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewFromConfig creates a provider from a Config struct. The deployment
// endpoint is mandatory; the api-version travels in the header map.
func NewFromConfig(cfg provider.Config) (provider.Provider, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("azure provider requires base_url")
	}
	if err := provider.ValidateBaseURL(cfg.BaseURL, cfg.AllowPrivateBaseURL); err != nil {
		return nil, err
	}

	opts := []Option{
		WithAPIKey(cfg.APIKey),
		WithBaseURL(cfg.BaseURL),
		WithID(cfg.ID),
		WithTimeout(cfg.Timeout),
	}
	if cfg.TokenSource != nil {
		opts = append(opts, WithTokenSource(cfg.TokenSource))
	}
	p := New(opts...)
	if v, ok := cfg.Headers["api-version"]; ok {
		p.apiVersion = v
	}
	for k, v := range cfg.Headers {
		if k == "api-version" {
			continue
		}
		p.headers[k] = v
	}
	return p, nil
}

// ID returns the instance identifier used in routing and billing.
func (p *Provider) ID() string {
	return p.id
}

// Name returns the human-readable provider name.
func (p *Provider) Name() string {
	return "Azure OpenAI"
}

// Type reports that Azure inference runs in the cloud.
func (p *Provider) Type() provider.Type {
	return provider.TypeCloud
}

// Health lists deployments and requires a 2xx answer.
func (p *Provider) Health(ctx context.Context) error {
	httpReq, err := p.deploymentsRequest(ctx)
	if err != nil {
		return err
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%s health: %w", p.id, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("%s health: status %d", p.id, resp.StatusCode)
	}
	return nil
}

// ListModels maps Azure deployments to catalogue entries. The entry id
// is the deployment name, which is what completion calls must use;
// pricing and capabilities come from the underlying model name.
func (p *Provider) ListModels(ctx context.Context) ([]types.Model, error) {
	httpReq, err := p.deploymentsRequest(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("list deployments: %w", err)
	}
	defer resp.Body.Close()

	body, err := httputil.ReadLimitedBody(resp.Body, httputil.DefaultMaxResponseBodyBytes)
	if err != nil {
		return nil, fmt.Errorf("read deployments: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, openailike.MapError(p.id, "", resp.StatusCode, body)
	}

	var listing struct {
		Data []struct {
			ID        string `json:"id"`
			Model     string `json:"model"`
			CreatedAt int64  `json:"created_at"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &listing); err != nil {
		return nil, fmt.Errorf("unmarshal deployments: %w", err)
	}

	models := make([]types.Model, 0, len(listing.Data))
	for _, row := range listing.Data {
		if row.Model == "" {
			continue
		}
		id := row.ID
		if id == "" {
			id = row.Model
		}
		input, output := Pricing(row.Model)
		models = append(models, types.Model{
			ID:            id,
			Object:        "model",
			Created:       row.CreatedAt,
			OwnedBy:       "microsoft",
			Provider:      p.id,
			ContextLength: ContextLength(row.Model),
			Pricing: types.ModelPricing{
				InputPer1K:  input,
				OutputPer1K: output,
			},
			Capabilities: types.ModelCapabilities{
				Vision:    strings.Contains(row.Model, "vision") || strings.Contains(row.Model, "gpt-4"),
				Functions: true,
				Streaming: true,
			},
		})
	}
	return models, nil
}

// Complete performs a blocking, non-streaming completion.
func (p *Provider) Complete(ctx context.Context, req *types.ChatRequest) (*types.ChatResponse, error) {
	httpReq, err := p.BuildRequest(ctx, outbound(req, false))
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
		return nil, openailike.MapError(p.id, req.Model, resp.StatusCode, body)
	}

	var chatResp types.ChatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return &chatResp, nil
}

// StreamComplete starts a streaming completion over SSE.
func (p *Provider) StreamComplete(ctx context.Context, req *types.ChatRequest) (provider.ChunkStream, error) {
	httpReq, err := p.BuildRequest(ctx, outbound(req, true))
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
		return nil, openailike.MapError(p.id, req.Model, resp.StatusCode, body)
	}

	return openailike.NewSSEStream(resp.Body, openailike.ParseChunk, nil), nil
}

// BuildRequest creates the per-deployment HTTP request. The model name
// selects the deployment and is path-escaped.
func (p *Provider) BuildRequest(ctx context.Context, req *types.ChatRequest) (*http.Request, error) {
	base, err := url.Parse(strings.TrimSuffix(p.baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base_url: %w", err)
	}
	base.Path = base.Path + "/openai/deployments/" + url.PathEscape(req.Model) + "/chat/completions"
	q := base.Query()
	q.Set("api-version", p.apiVersion)
	base.RawQuery = q.Encode()

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, base.String(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if err := p.setHeaders(httpReq); err != nil {
		return nil, err
	}
	return httpReq, nil
}

func (p *Provider) deploymentsRequest(ctx context.Context) (*http.Request, error) {
	base, err := url.Parse(strings.TrimSuffix(p.baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base_url: %w", err)
	}
	base.Path = base.Path + "/openai/deployments"
	q := base.Query()
	q.Set("api-version", p.apiVersion)
	base.RawQuery = q.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, base.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if err := p.setHeaders(httpReq); err != nil {
		return nil, err
	}
	return httpReq, nil
}

func (p *Provider) setHeaders(httpReq *http.Request) error {
	token, err := provider.GetToken(p.tokenSource, p.apiKey)
	if err != nil {
		return fmt.Errorf("get token: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("api-key", token)
	for k, v := range p.headers {
		httpReq.Header.Set(k, v)
	}
	return nil
}

func outbound(req *types.ChatRequest, stream bool) *types.ChatRequest {
	r := *req
	r.Stream = stream
	r.Omen = nil
	r.Tags = nil
	return &r
}

// Pricing returns US East per-1K-token prices for the underlying model.
func Pricing(model string) (float64, float64) {
	switch {
	case strings.Contains(model, "gpt-4") && strings.Contains(model, "32k"):
		return 0.06, 0.12
	case strings.Contains(model, "gpt-4-turbo"):
		return 0.01, 0.03
	case strings.Contains(model, "gpt-4"):
		return 0.03, 0.06
	case strings.Contains(model, "gpt-35-turbo"), strings.Contains(model, "gpt-3.5-turbo"):
		return 0.0015, 0.002
	default:
		return 0.001, 0.002
	}
}

// ContextLength returns the context window for the underlying model.
func ContextLength(model string) int {
	switch {
	case strings.Contains(model, "32k"):
		return 32768
	case strings.Contains(model, "gpt-4-turbo"):
		return 128000
	case strings.Contains(model, "gpt-4"):
		return 8192
	case strings.Contains(model, "gpt-35-turbo"), strings.Contains(model, "gpt-3.5-turbo"):
		return 16385
	default:
		return 4096
	}
}
