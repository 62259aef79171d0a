package gemini

import (
	"time"

	"github.com/ghostkellz/omen/pkg/provider"
)

// Option configures the Gemini provider.
type Option func(*Provider)

// WithAPIKey sets the API key.
func WithAPIKey(key string) Option {
	return func(p *Provider) { p.apiKey = key }
}

// WithTokenSource sets a dynamic token source that takes precedence
// over the static API key.
func WithTokenSource(ts provider.TokenSource) Option {
	return func(p *Provider) { p.tokenSource = ts }
}

// WithBaseURL overrides the API endpoint.
func WithBaseURL(url string) Option {
	return func(p *Provider) {
		if url != "" {
			p.baseURL = url
		}
	}
}

// WithID overrides the instance identifier.
func WithID(id string) Option {
	return func(p *Provider) {
		if id != "" {
			p.id = id
		}
	}
}

// WithAPIVersion overrides the API version path segment.
func WithAPIVersion(version string) Option {
	return func(p *Provider) {
		if version != "" {
			p.apiVersion = version
		}
	}
}

// WithTimeout overrides the non-streaming request timeout.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.client.Timeout = d
		}
	}
}

// WithHeader adds a custom header to every request.
func WithHeader(key, value string) Option {
	return func(p *Provider) { p.headers[key] = value }
}
