// Package openailike implements a complete provider adapter for
// OpenAI-compatible backends. Vendor packages (openai, xai, ollama)
// customize it through an Info struct instead of reimplementing the
// HTTP plumbing; backends with their own wire formats (anthropic,
// gemini, bedrock, vertexai) reuse its stream and error helpers.
package openailike

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/ghostkellz/omen/internal/httputil"
	"github.com/ghostkellz/omen/pkg/errors"
	"github.com/ghostkellz/omen/pkg/provider"
	"github.com/ghostkellz/omen/pkg/types"
)

const (
	// DefaultTimeout bounds non-streaming calls. Streaming calls are
	// bounded by the request context instead.
	DefaultTimeout = 120 * time.Second

	// DefaultChatEndpoint is the standard chat completions path.
	DefaultChatEndpoint = "/chat/completions"

	// DefaultModelsEndpoint is the standard model listing path, also
	// used as the health probe target.
	DefaultModelsEndpoint = "/models"

	// DefaultEmbeddingEndpoint is the standard embeddings path.
	DefaultEmbeddingEndpoint = "/embeddings"
)

// Info describes one OpenAI-compatible backend. Vendor packages declare
// a package-level Info and pass it to New or NewFromConfig.
type Info struct {
	// Driver is the registry driver name and the default instance id.
	Driver string

	// DisplayName is the human-readable provider name.
	DisplayName string

	// DefaultBaseURL is used when the configuration does not set one.
	DefaultBaseURL string

	// Type classifies the backend; empty means cloud.
	Type provider.Type

	// APIKeyHeader is the credential header. Empty means Authorization.
	APIKeyHeader string

	// APIKeyPrefix is prepended to the credential. Empty with the
	// Authorization header means "Bearer ".
	APIKeyPrefix string

	// ChatEndpoint overrides the chat completions path.
	ChatEndpoint string

	// ModelsEndpoint overrides the model listing path.
	ModelsEndpoint string

	// EmbeddingEndpoint overrides the embeddings path.
	EmbeddingEndpoint string

	// ExtraHeaders are set on every request before custom headers.
	ExtraHeaders map[string]string

	// Describe turns one live listing row into a catalogue entry with
	// pricing and capabilities. Returning false drops the row. Nil keeps
	// every row unpriced.
	Describe func(id string, created int64) (types.Model, bool)

	// Fallback is the static catalogue served when the live listing is
	// unreachable. Nil propagates the listing error instead.
	Fallback []types.Model
}

// Provider is a full adapter for one OpenAI-compatible backend instance.
type Provider struct {
	info        Info
	id          string
	ptype       provider.Type
	apiKey      string
	tokenSource provider.TokenSource
	baseURL     string
	headers     map[string]string

	// client carries the unary timeout; streamClient must not, or the
	// timeout would sever long completions mid-stream.
	client       *http.Client
	streamClient *http.Client

	sem chan struct{}
}

var (
	_ provider.Provider = (*Provider)(nil)
	_ provider.Embedder = (*Provider)(nil)
)

// New creates a provider for the described backend with the given options.
func New(info Info, opts ...Option) *Provider {
	p := &Provider{
		info:         info,
		id:           info.Driver,
		ptype:        info.Type,
		baseURL:      info.DefaultBaseURL,
		headers:      make(map[string]string),
		client:       &http.Client{Timeout: DefaultTimeout},
		streamClient: &http.Client{},
	}
	if p.ptype == "" {
		p.ptype = provider.TypeCloud
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewFromConfig creates a provider from a Config struct.
func NewFromConfig(info Info, cfg provider.Config) (*Provider, error) {
	if cfg.BaseURL != "" {
		if err := provider.ValidateBaseURL(cfg.BaseURL, cfg.AllowPrivateBaseURL); err != nil {
			return nil, err
		}
	}
	opts := []Option{
		WithAPIKey(cfg.APIKey),
		WithBaseURL(cfg.BaseURL),
		WithID(cfg.ID),
		WithType(cfg.Type),
		WithTimeout(cfg.Timeout),
		WithMaxConcurrent(cfg.MaxConcurrent),
	}
	if cfg.TokenSource != nil {
		opts = append(opts, WithTokenSource(cfg.TokenSource))
	}
	p := New(info, opts...)
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
	if p.info.DisplayName != "" {
		return p.info.DisplayName
	}
	return p.info.Driver
}

// Type reports whether inference runs locally or in the cloud.
func (p *Provider) Type() provider.Type {
	return p.ptype
}

// BaseURL returns the configured backend endpoint.
func (p *Provider) BaseURL() string {
	return p.baseURL
}

// Health probes the model listing endpoint and requires a 2xx answer.
func (p *Provider) Health(ctx context.Context) error {
	httpReq, err := p.newRequest(ctx, http.MethodGet, p.modelsEndpoint(), nil)
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

// ListModels fetches the live model listing and maps it through the
// vendor's Describe hook. When the backend is unreachable and a static
// fallback catalogue exists, the fallback is served instead.
func (p *Provider) ListModels(ctx context.Context) ([]types.Model, error) {
	httpReq, err := p.newRequest(ctx, http.MethodGet, p.modelsEndpoint(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		if len(p.info.Fallback) > 0 {
			return p.fallbackModels(), nil
		}
		return nil, fmt.Errorf("list models: %w", err)
	}
	defer resp.Body.Close()

	body, err := httputil.ReadLimitedBody(resp.Body, httputil.DefaultMaxResponseBodyBytes)
	if err != nil {
		return nil, fmt.Errorf("read model listing: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		if len(p.info.Fallback) > 0 {
			return p.fallbackModels(), nil
		}
		return nil, MapError(p.id, "", resp.StatusCode, body)
	}

	var listing struct {
		Data []struct {
			ID      string `json:"id"`
			Created int64  `json:"created"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &listing); err != nil {
		return nil, fmt.Errorf("unmarshal model listing: %w", err)
	}

	models := make([]types.Model, 0, len(listing.Data))
	for _, row := range listing.Data {
		m, ok := p.describe(row.ID, row.Created)
		if !ok {
			continue
		}
		models = append(models, m)
	}
	return models, nil
}

// Complete performs a blocking, non-streaming completion.
func (p *Provider) Complete(ctx context.Context, req *types.ChatRequest) (*types.ChatResponse, error) {
	if err := p.acquire(ctx); err != nil {
		return nil, err
	}
	defer p.release()

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
		return nil, MapError(p.id, req.Model, resp.StatusCode, body)
	}

	var chatResp types.ChatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return &chatResp, nil
}

// StreamComplete starts a streaming completion over SSE. The returned
// stream owns the in-flight slot until closed.
func (p *Provider) StreamComplete(ctx context.Context, req *types.ChatRequest) (provider.ChunkStream, error) {
	if err := p.acquire(ctx); err != nil {
		return nil, err
	}

	httpReq, err := p.BuildRequest(ctx, outbound(req, true))
	if err != nil {
		p.release()
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := p.streamClient.Do(httpReq)
	if err != nil {
		p.release()
		return nil, fmt.Errorf("%s: %w", p.id, err)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := httputil.ReadLimitedBody(resp.Body, httputil.DefaultMaxResponseBodyBytes)
		resp.Body.Close()
		p.release()
		return nil, MapError(p.id, req.Model, resp.StatusCode, body)
	}

	return NewSSEStream(resp.Body, ParseChunk, p.release), nil
}

// BuildRequest creates the HTTP request for a chat completion call.
func (p *Provider) BuildRequest(ctx context.Context, req *types.ChatRequest) (*http.Request, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	endpoint := p.info.ChatEndpoint
	if endpoint == "" {
		endpoint = DefaultChatEndpoint
	}
	return p.newRequest(ctx, http.MethodPost, endpoint, body)
}

// newRequest builds a request against the backend with auth and vendor
// headers applied. A nil body issues a body-less request.
func (p *Provider) newRequest(ctx context.Context, method, endpoint string, body []byte) (*http.Request, error) {
	url := strings.TrimSuffix(p.baseURL, "/") + endpoint

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")

	token, err := provider.GetToken(p.tokenSource, p.apiKey)
	if err != nil {
		return nil, fmt.Errorf("get token: %w", err)
	}
	// Keyless backends (local runtimes) send no auth header.
	if token != "" {
		header := p.info.APIKeyHeader
		if header == "" {
			header = "Authorization"
		}
		prefix := p.info.APIKeyPrefix
		if prefix == "" && header == "Authorization" {
			prefix = "Bearer "
		}
		httpReq.Header.Set(header, prefix+token)
	}

	for k, v := range p.info.ExtraHeaders {
		httpReq.Header.Set(k, v)
	}
	for k, v := range p.headers {
		httpReq.Header.Set(k, v)
	}
	return httpReq, nil
}

func (p *Provider) modelsEndpoint() string {
	if p.info.ModelsEndpoint != "" {
		return p.info.ModelsEndpoint
	}
	return DefaultModelsEndpoint
}

func (p *Provider) describe(id string, created int64) (types.Model, bool) {
	if p.info.Describe != nil {
		m, ok := p.info.Describe(id, created)
		if !ok {
			return types.Model{}, false
		}
		m.Provider = p.id
		return m, true
	}
	return types.Model{
		ID:           id,
		Object:       "model",
		Created:      created,
		OwnedBy:      p.info.Driver,
		Provider:     p.id,
		Capabilities: types.ModelCapabilities{Streaming: true},
	}, true
}

func (p *Provider) fallbackModels() []types.Model {
	out := make([]types.Model, len(p.info.Fallback))
	copy(out, p.info.Fallback)
	for i := range out {
		out[i].Provider = p.id
	}
	return out
}

// acquire blocks until an in-flight slot is free. A nil semaphore means
// the instance is unbounded.
func (p *Provider) acquire(ctx context.Context) error {
	if p.sem == nil {
		return nil
	}
	select {
	case p.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Provider) release() {
	if p.sem != nil {
		<-p.sem
	}
}

// outbound copies the request for the wire: the stream flag is forced
// and gateway-level fields are stripped so they never reach the backend.
func outbound(req *types.ChatRequest, stream bool) *types.ChatRequest {
	r := *req
	r.Stream = stream
	r.Omen = nil
	r.Tags = nil
	return &r
}

// MapError converts an OpenAI-style error envelope to a gateway error.
func MapError(providerID, model string, statusCode int, body []byte) error {
	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    string `json:"code"`
		} `json:"error"`
	}

	message := "unknown error"
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
	}
	return StatusError(providerID, model, statusCode, message)
}

// StatusError maps an upstream HTTP status to the gateway error
// taxonomy. Backends with their own error envelopes extract the message
// themselves and delegate the status mapping here.
func StatusError(providerID, model string, statusCode int, message string) error {
	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return errors.NewAuthenticationError(providerID, model, message)
	case http.StatusTooManyRequests:
		return errors.NewRateLimitError(providerID, model, message)
	case http.StatusBadRequest:
		return errors.NewInvalidRequestError(providerID, model, message)
	case http.StatusNotFound:
		return errors.NewModelNotFoundError(model, message)
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return errors.NewTimeoutError(providerID, model, message)
	case http.StatusServiceUnavailable, http.StatusBadGateway:
		return errors.NewProviderUnavailableError(model, message)
	default:
		return errors.NewProviderError(providerID, model, message)
	}
}
