// Package ollama provides the Ollama provider adapter for local
// inference. Chat traffic goes through Ollama's OpenAI-compatible
// endpoint; health and model discovery use the native API.
package ollama

import (
	"context"
	"fmt"
	"net/http"
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
	ProviderName = "ollama"

	// DefaultBaseURL is the OpenAI-compatible endpoint of a local
	// Ollama daemon.
	DefaultBaseURL = "http://localhost:11434/v1"

	probeTimeout = 30 * time.Second
)

var providerInfo = openailike.Info{
	Driver:         ProviderName,
	DisplayName:    "Ollama",
	DefaultBaseURL: DefaultBaseURL,
	Type:           provider.TypeLocal,
}

// Provider wraps the OpenAI-like adapter and overrides discovery with
// Ollama's native API.
type Provider struct {
	*openailike.Provider
	client *http.Client
}

// New creates a new Ollama provider with the given options.
func New(opts ...openailike.Option) *Provider {
	return &Provider{
		Provider: openailike.New(providerInfo, opts...),
		client:   &http.Client{Timeout: probeTimeout},
	}
}

// NewFromConfig creates a provider from a Config struct.
func NewFromConfig(cfg provider.Config) (provider.Provider, error) {
	base, err := openailike.NewFromConfig(providerInfo, cfg)
	if err != nil {
		return nil, err
	}
	return &Provider{
		Provider: base,
		client:   &http.Client{Timeout: probeTimeout},
	}, nil
}

// Health probes the native tags endpoint and requires a 2xx answer.
func (p *Provider) Health(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.nativeBase()+"/api/tags", nil)
	if err != nil {
		return err
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%s health: %w", p.ID(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("%s health: status %d", p.ID(), resp.StatusCode)
	}
	return nil
}

// ListModels reads the locally installed models from the native tags
// endpoint. Local inference is free, so pricing stays zero.
func (p *Provider) ListModels(ctx context.Context) ([]types.Model, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.nativeBase()+"/api/tags", nil)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	defer resp.Body.Close()

	body, err := httputil.ReadLimitedBody(resp.Body, httputil.DefaultMaxResponseBodyBytes)
	if err != nil {
		return nil, fmt.Errorf("read model listing: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, openailike.StatusError(p.ID(), "", resp.StatusCode, string(body))
	}

	var listing struct {
		Models []struct {
			Name string `json:"name"`
			Size int64  `json:"size"`
		} `json:"models"`
	}
	if err := json.Unmarshal(body, &listing); err != nil {
		return nil, fmt.Errorf("unmarshal model listing: %w", err)
	}

	now := time.Now().Unix()
	models := make([]types.Model, 0, len(listing.Models))
	for _, row := range listing.Models {
		models = append(models, types.Model{
			ID:            row.Name,
			Object:        "model",
			Created:       now,
			OwnedBy:       "ollama",
			Provider:      p.ID(),
			ContextLength: estimateContextLength(row.Name),
			Capabilities: types.ModelCapabilities{
				Vision:    strings.Contains(row.Name, "vision") || strings.Contains(row.Name, "llava"),
				Streaming: true,
			},
		})
	}
	return models, nil
}

// nativeBase strips the OpenAI-compatible /v1 suffix to reach the
// native daemon API.
func (p *Provider) nativeBase() string {
	base := strings.TrimSuffix(p.BaseURL(), "/")
	return strings.TrimSuffix(base, "/v1")
}

// estimateContextLength guesses the context window from the model name.
// Size tags take precedence over family names.
func estimateContextLength(name string) int {
	switch {
	case strings.Contains(name, "7b"), strings.Contains(name, "13b"), strings.Contains(name, "70b"):
		return 4096
	case strings.Contains(name, "llama3"):
		return 8192
	case strings.Contains(name, "qwen"):
		return 8192
	case strings.Contains(name, "deepseek"):
		return 16384
	default:
		return 4096
	}
}
