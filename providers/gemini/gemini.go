// Package gemini provides the Google Gemini provider adapter. It
// translates between the OpenAI wire format and the generateContent
// API, with the credential carried as a query parameter.
package gemini

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/ghostkellz/omen/internal/httputil"
	"github.com/ghostkellz/omen/pkg/provider"
	"github.com/ghostkellz/omen/pkg/types"
	"github.com/ghostkellz/omen/providers/openailike"
)

const (
	// ProviderName is the identifier for this provider.
	ProviderName = "gemini"

	// DefaultBaseURL is the default Generative Language API endpoint.
	DefaultBaseURL = "https://generativelanguage.googleapis.com"

	// DefaultAPIVersion is the API version path segment.
	DefaultAPIVersion = "v1beta"
)

// Provider implements the Google Gemini API adapter.
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

// New creates a new Gemini provider with the given options.
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
	return "Google Gemini"
}

// Type reports that Gemini inference runs in the cloud.
func (p *Provider) Type() provider.Type {
	return provider.TypeCloud
}

// Health lists one model page and requires a 2xx answer.
func (p *Provider) Health(ctx context.Context) error {
	base, err := p.endpoint("models", "")
	if err != nil {
		return err
	}
	q := base.Query()
	q.Set("pageSize", "1")
	base.RawQuery = q.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, base.String(), nil)
	if err != nil {
		return err
	}
	p.setHeaders(httpReq)

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

// ListModels serves the Gemini chat catalogue with current pricing.
func (p *Provider) ListModels(ctx context.Context) ([]types.Model, error) {
	now := time.Now().Unix()
	catalogue := []struct {
		id            string
		contextLength int
		input         float64
		output        float64
	}{
		{"gemini-2.5-pro", 2097152, 0.00125, 0.005},
		{"gemini-2.5-flash", 1048576, 0.000075, 0.0003},
		{"gemini-2.0-flash", 1048576, 0.0000375, 0.00015},
	}

	models := make([]types.Model, 0, len(catalogue))
	for _, entry := range catalogue {
		models = append(models, types.Model{
			ID:            entry.id,
			Object:        "model",
			Created:       now,
			OwnedBy:       "google",
			Provider:      p.id,
			ContextLength: entry.contextLength,
			Pricing: types.ModelPricing{
				InputPer1K:  entry.input,
				OutputPer1K: entry.output,
			},
			Capabilities: types.ModelCapabilities{
				Vision:    true,
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

	var nativeResp geminiResponse
	if err := json.Unmarshal(body, &nativeResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return transformResponse(&nativeResp, req.Model), nil
}

// StreamComplete starts a streaming completion. With alt=sse the API
// emits one data: line per candidate update.
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

// BuildRequest creates the HTTP request for a generateContent call.
func (p *Provider) BuildRequest(ctx context.Context, req *types.ChatRequest, stream bool) (*http.Request, error) {
	nativeReq := transformRequest(req)
	body, err := json.Marshal(nativeReq)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	action := "generateContent"
	if stream {
		action = "streamGenerateContent"
	}
	base, err := p.endpoint("models/"+url.PathEscape(req.Model)+":"+action, "")
	if err != nil {
		return nil, err
	}
	if stream {
		q := base.Query()
		q.Set("alt", "sse")
		base.RawQuery = q.Encode()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, base.String(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	p.setHeaders(httpReq)
	return httpReq, nil
}

// endpoint builds an API URL with the credential in the query string.
func (p *Provider) endpoint(path, rawQuery string) (*url.URL, error) {
	token, err := provider.GetToken(p.tokenSource, p.apiKey)
	if err != nil {
		return nil, fmt.Errorf("get token: %w", err)
	}

	base, err := url.Parse(strings.TrimSuffix(p.baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base_url: %w", err)
	}
	base.Path = base.Path + "/" + p.apiVersion + "/" + path
	base.RawQuery = rawQuery
	q := base.Query()
	q.Set("key", token)
	base.RawQuery = q.Encode()
	return base, nil
}

func (p *Provider) setHeaders(httpReq *http.Request) {
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range p.headers {
		httpReq.Header.Set(k, v)
	}
}
