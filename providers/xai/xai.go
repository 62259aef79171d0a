// Package xai provides the xAI Grok provider adapter.
// API Reference: https://docs.x.ai/api
package xai

import (
	"strings"
	"time"

	"github.com/ghostkellz/omen/pkg/provider"
	"github.com/ghostkellz/omen/pkg/types"
	"github.com/ghostkellz/omen/providers/openailike"
)

const (
	// ProviderName is the identifier for this provider.
	ProviderName = "xai"

	// DefaultBaseURL is the default xAI API endpoint.
	DefaultBaseURL = "https://api.x.ai/v1"
)

var providerInfo = openailike.Info{
	Driver:         ProviderName,
	DisplayName:    "xAI Grok",
	DefaultBaseURL: DefaultBaseURL,
	Describe:       describeModel,
	Fallback:       fallbackModels(),
}

// Provider wraps the OpenAI-like adapter for xAI.
type Provider struct {
	*openailike.Provider
}

// New creates a new xAI provider with the given options.
func New(opts ...openailike.Option) *Provider {
	return &Provider{
		Provider: openailike.New(providerInfo, opts...),
	}
}

// NewFromConfig creates a provider from a Config struct.
func NewFromConfig(cfg provider.Config) (provider.Provider, error) {
	return openailike.NewFromConfig(providerInfo, cfg)
}

// describeModel annotates live listing rows. xAI publishes no per-token
// pricing through the API, so models stay unpriced.
func describeModel(id string, created int64) (types.Model, bool) {
	contextLength := 8192
	if strings.Contains(id, "grok") {
		contextLength = 131072
	}
	return types.Model{
		ID:            id,
		Object:        "model",
		Created:       created,
		OwnedBy:       "xai",
		ContextLength: contextLength,
		Capabilities: types.ModelCapabilities{
			Vision:    strings.Contains(id, "vision"),
			Functions: true,
			Streaming: true,
		},
	}, true
}

// fallbackModels is the static catalogue served when the live listing
// is unreachable.
func fallbackModels() []types.Model {
	now := time.Now().Unix()
	return []types.Model{
		{
			ID:            "grok-beta",
			Object:        "model",
			Created:       now,
			OwnedBy:       "xai",
			ContextLength: 131072,
			Capabilities: types.ModelCapabilities{
				Functions: true,
				Streaming: true,
			},
		},
		{
			ID:            "grok-vision-beta",
			Object:        "model",
			Created:       now,
			OwnedBy:       "xai",
			ContextLength: 131072,
			Capabilities: types.ModelCapabilities{
				Vision:    true,
				Functions: true,
				Streaming: true,
			},
		},
	}
}
