package secret

import "context"

// Provider defines the interface for retrieving secrets from various sources.
type Provider interface {
	// Get retrieves the secret value for the given path.
	// path examples: "OPENAI_API_KEY" (env), "secret/data/openai#api_key" (vault)
	Get(ctx context.Context, path string) (string, error)

	// Close releases any resources held by the provider.
	Close() error
}
