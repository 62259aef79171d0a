package bedrock

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

// WithRegion overrides the AWS region from the loaded config.
func WithRegion(region string) Option {
	return func(p *Provider) {
		if region != "" {
			p.region = region
		}
	}
}

// WithRuntimeEndpoint points invocations at a custom bedrock-runtime
// host, typically a PrivateLink VPC endpoint.
func WithRuntimeEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.runtimeEndpoint = endpoint
	}
}

// WithControlEndpoint points health probes at a custom bedrock
// control-plane host.
func WithControlEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.controlEndpoint = endpoint
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
