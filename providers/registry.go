// Package providers wires every built-in provider driver into a
// registry. Importing it is enough to construct providers from
// configuration by driver name.
package providers

import (
	"github.com/ghostkellz/omen/pkg/provider"
	"github.com/ghostkellz/omen/providers/anthropic"
	"github.com/ghostkellz/omen/providers/azure"
	"github.com/ghostkellz/omen/providers/bedrock"
	"github.com/ghostkellz/omen/providers/gemini"
	"github.com/ghostkellz/omen/providers/ollama"
	"github.com/ghostkellz/omen/providers/openai"
	"github.com/ghostkellz/omen/providers/vertexai"
	"github.com/ghostkellz/omen/providers/xai"
)

// factories maps driver names to constructors. The names match the
// `driver` field of the provider configuration.
var factories = map[string]provider.Factory{
	openai.ProviderName:    openai.NewFromConfig,
	anthropic.ProviderName: anthropic.NewFromConfig,
	gemini.ProviderName:    gemini.NewFromConfig,
	azure.ProviderName:     azure.NewFromConfig,
	xai.ProviderName:       xai.NewFromConfig,
	ollama.ProviderName:    ollama.NewFromConfig,
	bedrock.ProviderName:   bedrock.NewFromConfig,
	vertexai.ProviderName:  vertexai.NewFromConfig,
}

// RegisterAll registers every built-in driver on the registry.
func RegisterAll(r *provider.Registry) {
	for driver, factory := range factories {
		r.RegisterFactory(driver, factory)
	}
}

// NewRegistry returns a registry with all built-in drivers registered.
func NewRegistry() *provider.Registry {
	r := provider.NewRegistry()
	RegisterAll(r)
	return r
}

// Drivers lists the built-in driver names.
func Drivers() []string {
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	return names
}
