// Package anthropic provides the Anthropic Claude provider adapter. It
// translates between the OpenAI wire format and Anthropic's Messages
// API, including tools, tool results, and extended thinking.
package anthropic

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"github.com/ghostkellz/omen/internal/httputil"
	"github.com/ghostkellz/omen/pkg/provider"
	"github.com/ghostkellz/omen/pkg/types"
	"github.com/ghostkellz/omen/providers/openailike"
)

const (
	// ProviderName is the identifier for this provider.
	ProviderName = "anthropic"

	// DefaultBaseURL is the default Anthropic API endpoint.
	DefaultBaseURL = "https://api.anthropic.com"

	// DefaultAPIVersion is the anthropic-version header value.
	DefaultAPIVersion = "2023-06-01"

	// DefaultMaxTokens is sent when the request does not set a cap; the
	// Messages API requires one.
	DefaultMaxTokens = 4096
)

// Provider implements the Anthropic Claude API adapter.
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

// New creates a new Anthropic provider with the given options.
func New(opts ...Option) *Provider {
	p := &Provider{
		id:           ProviderName,
		baseURL:      DefaultBaseURL,
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

// NewFromConfig creates a provider from a Config struct.
func NewFromConfig(cfg provider.Config) (provider.Provider, error) {
	if cfg.BaseURL != "" {
		if err := provider.ValidateBaseURL(cfg.BaseURL, cfg.AllowPrivateBaseURL); err != nil {
			return nil, err
		}
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
	for k, v := range cfg.Headers {
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
	return "Anthropic Claude"
}

// Type reports that Claude inference runs in the cloud.
func (p *Provider) Type() provider.Type {
	return provider.TypeCloud
}

// Health sends a one-token probe completion. Anthropic has no listing
// endpoint, so any answer below 500 proves the API is reachable and
// the credential at least parsed.
func (p *Provider) Health(ctx context.Context) error {
	probe := &Request{
		Model:     "claude-3-5-haiku-20241022",
		MaxTokens: 1,
		Messages:  []Message{{Role: "user", Content: "ping"}},
	}
	body, err := json.Marshal(probe)
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.messagesURL(), bytes.NewReader(body))
	if err != nil {
		return err
	}
	if err := p.setHeaders(httpReq); err != nil {
		return err
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%s health: %w", p.id, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%s health: status %d", p.id, resp.StatusCode)
	}
	return nil
}

// ListModels serves the static Claude catalogue. Anthropic does not
// expose a model listing endpoint.
func (p *Provider) ListModels(ctx context.Context) ([]types.Model, error) {
	catalogue := []struct {
		id      string
		created int64
		input   float64
		output  float64
		vision  bool
	}{
		{"claude-3-5-sonnet-20241022", 1729555200, 0.003, 0.015, true},
		{"claude-3-5-haiku-20241022", 1729555200, 0.0008, 0.004, false},
		{"claude-3-opus-20240229", 1709251200, 0.015, 0.075, true},
		{"claude-3-sonnet-20240229", 1709251200, 0.003, 0.015, true},
		{"claude-3-haiku-20240307", 1709856000, 0.00025, 0.00125, true},
	}

	models := make([]types.Model, 0, len(catalogue))
	for _, entry := range catalogue {
		models = append(models, types.Model{
			ID:            entry.id,
			Object:        "model",
			Created:       entry.created,
			OwnedBy:       "anthropic",
			Provider:      p.id,
			ContextLength: 200000,
			Pricing: types.ModelPricing{
				InputPer1K:  entry.input,
				OutputPer1K: entry.output,
			},
			Capabilities: types.ModelCapabilities{
				Vision:    entry.vision,
				Functions: true,
				Streaming: true,
			},
		})
	}
	return models, nil
}

// Complete performs a blocking, non-streaming completion.
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
		return nil, MapError(p.id, req.Model, resp.StatusCode, body)
	}

	var nativeResp Response
	if err := json.Unmarshal(body, &nativeResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return TransformResponse(&nativeResp), nil
}

// StreamComplete starts a streaming completion over Anthropic's SSE
// event grammar.
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
		return nil, MapError(p.id, req.Model, resp.StatusCode, body)
	}

	return openailike.NewSSEStream(resp.Body, ParseChunk, nil), nil
}

// BuildRequest creates the HTTP request for a Messages API call.
func (p *Provider) BuildRequest(ctx context.Context, req *types.ChatRequest, stream bool) (*http.Request, error) {
	nativeReq, err := TransformRequest(req)
	if err != nil {
		return nil, fmt.Errorf("transform request: %w", err)
	}
	nativeReq.Stream = stream

	body, err := json.Marshal(nativeReq)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.messagesURL(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if err := p.setHeaders(httpReq); err != nil {
		return nil, err
	}
	return httpReq, nil
}

func (p *Provider) messagesURL() string {
	return strings.TrimSuffix(p.baseURL, "/") + "/v1/messages"
}

func (p *Provider) setHeaders(httpReq *http.Request) error {
	token, err := provider.GetToken(p.tokenSource, p.apiKey)
	if err != nil {
		return fmt.Errorf("get token: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", token)
	httpReq.Header.Set("anthropic-version", p.apiVersion)
	for k, v := range p.headers {
		httpReq.Header.Set(k, v)
	}
	return nil
}
