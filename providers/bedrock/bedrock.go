// Package bedrock implements the AWS Bedrock provider adapter.
//
// Bedrock is reached over its REST surface with SigV4-signed requests
// rather than through the service SDK client, which keeps the adapter on
// the same http.Client plumbing as the other providers. Model families
// speak different native payloads, so requests and responses are
// translated per family: Anthropic Claude models reuse the Messages wire
// layer from the anthropic package, Amazon Titan and Meta Llama models
// get flattened prompts.
package bedrock

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/goccy/go-json"

	"github.com/ghostkellz/omen/internal/httputil"
	"github.com/ghostkellz/omen/pkg/errors"
	"github.com/ghostkellz/omen/pkg/provider"
	"github.com/ghostkellz/omen/pkg/types"
	"github.com/ghostkellz/omen/providers/openailike"
)

const (
	// ProviderName is the canonical driver name.
	ProviderName = "bedrock"

	// DefaultRegion applies when neither the AWS config nor the gateway
	// config names one.
	DefaultRegion = "us-east-1"

	// anthropicVersion is the version tag Bedrock expects inside Claude
	// payloads. The model travels in the URL, not the body.
	anthropicVersion = "bedrock-2023-05-31"

	// signingService is the SigV4 service name shared by the bedrock and
	// bedrock-runtime endpoints.
	signingService = "bedrock"
)

// Provider implements provider.Provider for AWS Bedrock.
type Provider struct {
	id     string
	cfg    aws.Config
	region string

	// runtimeEndpoint and controlEndpoint override the public AWS hosts,
	// for PrivateLink VPC endpoints. Empty means the regional default.
	runtimeEndpoint string
	controlEndpoint string

	client       *http.Client
	streamClient *http.Client
}

var _ provider.Provider = (*Provider)(nil)

// New creates a Bedrock provider from an AWS config. The config must
// carry resolvable credentials.
func New(cfg aws.Config, opts ...Option) *Provider {
	p := &Provider{
		id:           ProviderName,
		cfg:          cfg,
		region:       cfg.Region,
		client:       &http.Client{Timeout: openailike.DefaultTimeout},
		streamClient: &http.Client{},
	}
	if p.region == "" {
		p.region = DefaultRegion
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewFromConfig creates a provider from the gateway configuration.
// Credentials come from the standard AWS chain (environment, shared
// config, instance role); the gateway config can pin the region and
// point BaseURL at a VPC endpoint.
func NewFromConfig(cfg provider.Config) (provider.Provider, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background())
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	if cfg.Region != "" {
		awsCfg.Region = cfg.Region
	}

	opts := []Option{WithID(cfg.ID)}
	if cfg.BaseURL != "" {
		if err := provider.ValidateBaseURL(cfg.BaseURL, cfg.AllowPrivateBaseURL); err != nil {
			return nil, err
		}
		opts = append(opts, WithRuntimeEndpoint(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, WithTimeout(cfg.Timeout))
	}
	return New(awsCfg, opts...), nil
}

// ID returns the configured provider ID.
func (p *Provider) ID() string {
	return p.id
}

// Name returns the human-readable provider name.
func (p *Provider) Name() string {
	return "AWS Bedrock"
}

// Type reports Bedrock as a cloud provider.
func (p *Provider) Type() provider.Type {
	return provider.TypeCloud
}

// Region returns the active AWS region.
func (p *Provider) Region() string {
	return p.region
}

// Health probes the control-plane model listing. Any response below 500
// counts as healthy: an IAM denial still proves the service is reachable
// and signing works.
func (p *Provider) Health(ctx context.Context) error {
	endpoint := p.controlEndpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://bedrock.%s.amazonaws.com", p.region)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"/foundation-models", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if err := p.sign(ctx, httpReq, nil); err != nil {
		return err
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return errors.NewProviderUnavailableError("", fmt.Sprintf("%s: %v", p.id, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return errors.NewProviderUnavailableError("", fmt.Sprintf("%s health probe returned %d", p.id, resp.StatusCode))
	}
	return nil
}

// ListModels returns the curated Bedrock catalogue. Bedrock hosts many
// more models; these are the ones the gateway prices and routes.
func (p *Provider) ListModels(ctx context.Context) ([]types.Model, error) {
	now := time.Now().Unix()
	models := []types.Model{
		{
			ID:            "anthropic.claude-3-opus-20240229-v1:0",
			Object:        "model",
			Created:       now,
			OwnedBy:       "anthropic",
			ContextLength: 200000,
			Pricing:       types.ModelPricing{InputPer1K: 0.015, OutputPer1K: 0.075},
			Capabilities:  types.ModelCapabilities{Vision: true, Functions: true, Streaming: true},
		},
		{
			ID:            "anthropic.claude-3-sonnet-20240229-v1:0",
			Object:        "model",
			Created:       now,
			OwnedBy:       "anthropic",
			ContextLength: 200000,
			Pricing:       types.ModelPricing{InputPer1K: 0.003, OutputPer1K: 0.015},
			Capabilities:  types.ModelCapabilities{Vision: true, Functions: true, Streaming: true},
		},
		{
			ID:            "anthropic.claude-3-haiku-20240307-v1:0",
			Object:        "model",
			Created:       now,
			OwnedBy:       "anthropic",
			ContextLength: 200000,
			Pricing:       types.ModelPricing{InputPer1K: 0.00025, OutputPer1K: 0.00125},
			Capabilities:  types.ModelCapabilities{Functions: true, Streaming: true},
		},
		{
			ID:            "amazon.titan-text-premier-v1:0",
			Object:        "model",
			Created:       now,
			OwnedBy:       "amazon",
			ContextLength: 32000,
			Pricing:       types.ModelPricing{InputPer1K: 0.0005, OutputPer1K: 0.0015},
			Capabilities:  types.ModelCapabilities{Streaming: true},
		},
		{
			ID:            "meta.llama3-70b-instruct-v1:0",
			Object:        "model",
			Created:       now,
			OwnedBy:       "meta",
			ContextLength: 8192,
			Pricing:       types.ModelPricing{InputPer1K: 0.00265, OutputPer1K: 0.0035},
			Capabilities:  types.ModelCapabilities{Streaming: true},
		},
	}
	for i := range models {
		models[i].Provider = p.id
	}
	return models, nil
}

// Complete performs a non-streaming invocation.
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

	return parseResponse(req.Model, body)
}

// StreamComplete performs a streaming invocation. The response is a
// binary AWS event stream; the returned ChunkStream decodes it and
// translates each model-native chunk.
func (p *Provider) StreamComplete(ctx context.Context, req *types.ChatRequest) (provider.ChunkStream, error) {
	httpReq, err := p.BuildRequest(ctx, req, true)
	if err != nil {
		return nil, err
	}

	resp, err := p.streamClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p.id, err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := httputil.ReadLimitedBody(resp.Body, httputil.DefaultMaxResponseBodyBytes)
		resp.Body.Close()
		return nil, p.MapError(req.Model, resp.StatusCode, body)
	}

	return newEventStream(resp.Body, chunkParser(req.Model)), nil
}

// BuildRequest constructs and signs the invocation request. The action
// segment selects between invoke and invoke-with-response-stream.
func (p *Provider) BuildRequest(ctx context.Context, req *types.ChatRequest, stream bool) (*http.Request, error) {
	payload, err := buildPayload(req)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	action := "invoke"
	if stream {
		action = "invoke-with-response-stream"
	}
	endpoint := p.runtimeEndpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://bedrock-runtime.%s.amazonaws.com", p.region)
	}
	// Model IDs carry dots and colons, both legal in a path segment.
	// Escaping them would change the SigV4 canonical URI, so the ID is
	// spliced in verbatim the way the AWS examples do.
	url := fmt.Sprintf("%s/model/%s/%s", endpoint, req.Model, action)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if stream {
		httpReq.Header.Set("Accept", "application/vnd.amazon.eventstream")
	}

	if err := p.sign(ctx, httpReq, body); err != nil {
		return nil, err
	}
	return httpReq, nil
}

// sign applies SigV4 over the request with the hash of body. A nil body
// hashes to the empty payload.
func (p *Provider) sign(ctx context.Context, req *http.Request, body []byte) error {
	if p.cfg.Credentials == nil {
		return errors.NewAuthenticationError(p.id, "", "no AWS credentials configured")
	}
	creds, err := p.cfg.Credentials.Retrieve(ctx)
	if err != nil {
		return errors.NewAuthenticationError(p.id, "", fmt.Sprintf("retrieve aws credentials: %v", err))
	}

	sum := sha256.Sum256(body)
	signer := v4.NewSigner()
	if err := signer.SignHTTP(ctx, creds, req, hex.EncodeToString(sum[:]), signingService, p.region, time.Now()); err != nil {
		return fmt.Errorf("sign request: %w", err)
	}
	return nil
}

// MapError converts a Bedrock error response into a gateway error.
// Bedrock reports errors as {"message": "..."}.
func (p *Provider) MapError(model string, statusCode int, body []byte) error {
	message := string(body)
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Message != "" {
		message = payload.Message
	}
	return openailike.StatusError(p.id, model, statusCode, message)
}
