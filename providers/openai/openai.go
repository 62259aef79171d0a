// Package openai provides the OpenAI provider adapter.
// API Reference: https://platform.openai.com/docs/api-reference
package openai

import (
	"strings"

	"github.com/ghostkellz/omen/pkg/provider"
	"github.com/ghostkellz/omen/pkg/types"
	"github.com/ghostkellz/omen/providers/openailike"
)

const (
	// ProviderName is the identifier for this provider.
	ProviderName = "openai"

	// DefaultBaseURL is the default OpenAI API endpoint.
	DefaultBaseURL = "https://api.openai.com/v1"
)

var providerInfo = openailike.Info{
	Driver:         ProviderName,
	DisplayName:    "OpenAI",
	DefaultBaseURL: DefaultBaseURL,
	Describe:       describeModel,
}

// Provider wraps the OpenAI-like adapter for OpenAI.
type Provider struct {
	*openailike.Provider
}

// New creates a new OpenAI provider with the given options.
func New(opts ...openailike.Option) *Provider {
	return &Provider{
		Provider: openailike.New(providerInfo, opts...),
	}
}

// NewFromConfig creates a provider from a Config struct.
func NewFromConfig(cfg provider.Config) (provider.Provider, error) {
	return openailike.NewFromConfig(providerInfo, cfg)
}

// describeModel keeps chat models from the live listing and annotates
// them with pricing and context windows.
func describeModel(id string, created int64) (types.Model, bool) {
	if !strings.HasPrefix(id, "gpt-") {
		return types.Model{}, false
	}
	input, output := Pricing(id)
	return types.Model{
		ID:            id,
		Object:        "model",
		Created:       created,
		OwnedBy:       "openai",
		ContextLength: ContextLength(id),
		Pricing: types.ModelPricing{
			InputPer1K:  input,
			OutputPer1K: output,
		},
		Capabilities: types.ModelCapabilities{
			Vision:    strings.Contains(id, "vision") || strings.Contains(id, "gpt-4"),
			Functions: true,
			Streaming: true,
		},
	}, true
}

// Pricing returns the per-1K-token input and output prices in USD.
func Pricing(model string) (float64, float64) {
	switch model {
	case "gpt-4", "gpt-4-0613":
		return 0.03, 0.06
	case "gpt-4-32k", "gpt-4-32k-0613":
		return 0.06, 0.12
	case "gpt-4-turbo", "gpt-4-turbo-preview":
		return 0.01, 0.03
	case "gpt-4o":
		return 0.005, 0.015
	case "gpt-4o-mini":
		return 0.00015, 0.0006
	case "gpt-3.5-turbo", "gpt-3.5-turbo-0125":
		return 0.0005, 0.0015
	case "gpt-3.5-turbo-instruct":
		return 0.0015, 0.002
	default:
		return 0.001, 0.002
	}
}

// ContextLength returns the context window size in tokens.
func ContextLength(model string) int {
	switch model {
	case "gpt-4", "gpt-4-0613":
		return 8192
	case "gpt-4-32k", "gpt-4-32k-0613":
		return 32768
	case "gpt-4-turbo", "gpt-4-turbo-preview":
		return 128000
	case "gpt-4o", "gpt-4o-mini":
		return 128000
	case "gpt-3.5-turbo", "gpt-3.5-turbo-0125":
		return 16385
	case "gpt-3.5-turbo-instruct":
		return 4096
	default:
		return 4096
	}
}
