package vertexai

import (
	"net/http"
	"time"
)

// Option configures a Provider.
type Option func(*Provider)

// WithID overrides the provider instance ID.
func WithID(id string) Option {
	return func(p *Provider) {
		if id != "" {
			p.id = id
		}
	}
}

// WithLocation sets the GCP region.
func WithLocation(location string) Option {
	return func(p *Provider) {
		if location != "" {
			p.location = location
		}
	}
}

// WithBaseURL overrides the regional aiplatform endpoint.
func WithBaseURL(baseURL string) Option {
	return func(p *Provider) {
		if baseURL != "" {
			p.baseURL = baseURL
		}
	}
}

// WithTimeout sets the non-streaming request timeout.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.client.Timeout = d
		}
	}
}

// WithHTTPClient replaces both HTTP clients.
func WithHTTPClient(client *http.Client) Option {
	return func(p *Provider) {
		p.client = client
		p.streamClient = client
	}
}
