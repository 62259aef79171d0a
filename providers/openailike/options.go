package openailike

import (
	"net/http"
	"time"

	"github.com/ghostkellz/omen/pkg/provider"
)

// Option configures an OpenAI-compatible provider instance.
type Option func(*Provider)

// WithAPIKey sets the API key.
func WithAPIKey(key string) Option {
	return func(p *Provider) {
		p.apiKey = key
	}
}

// WithTokenSource sets a dynamic token source that takes precedence
// over the static API key.
func WithTokenSource(ts provider.TokenSource) Option {
	return func(p *Provider) {
		p.tokenSource = ts
	}
}

// WithBaseURL overrides the backend endpoint.
func WithBaseURL(url string) Option {
	return func(p *Provider) {
		if url != "" {
			p.baseURL = url
		}
	}
}

// WithID overrides the instance identifier, allowing several instances
// of the same driver to coexist.
func WithID(id string) Option {
	return func(p *Provider) {
		if id != "" {
			p.id = id
		}
	}
}

// WithType overrides the local/cloud classification.
func WithType(t provider.Type) Option {
	return func(p *Provider) {
		if t != "" {
			p.ptype = t
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

// WithMaxConcurrent caps simultaneous in-flight requests. Zero leaves
// the instance unbounded.
func WithMaxConcurrent(n int) Option {
	return func(p *Provider) {
		if n > 0 {
			p.sem = make(chan struct{}, n)
		}
	}
}

// WithHeader adds a custom header to every request.
func WithHeader(key, value string) Option {
	return func(p *Provider) {
		p.headers[key] = value
	}
}

// WithHTTPClient replaces both the unary and streaming clients.
func WithHTTPClient(client *http.Client) Option {
	return func(p *Provider) {
		if client != nil {
			p.client = client
			p.streamClient = client
		}
	}
}
