// Package provider defines the public interface for model inference backends.
// Each backend (Ollama, OpenAI, Anthropic, etc.) implements this interface
// so the router and multiplexer can treat them uniformly.
package provider

import (
	"context"
	"io"
	"time"

	"github.com/ghostkellz/omen/pkg/types"
)

// Type classifies where a provider's inference actually runs.
type Type string

const (
	// TypeLocal providers run on-host or on-LAN (Ollama, LM Studio). Zero cost.
	TypeLocal Type = "local"
	// TypeCloud providers are metered external APIs.
	TypeCloud Type = "cloud"
)

// Provider is the adapter contract for a single inference backend.
// Implementations must be safe for concurrent use.
type Provider interface {
	// ID returns the unique instance identifier used in routing and billing.
	ID() string

	// Name returns the human-readable provider name.
	Name() string

	// Type reports whether inference is local or cloud.
	Type() Type

	// Health performs a cheap liveness probe against the backend.
	Health(ctx context.Context) error

	// ListModels fetches the models the backend currently serves.
	ListModels(ctx context.Context) ([]types.Model, error)

	// Complete performs a blocking, non-streaming completion.
	Complete(ctx context.Context, req *types.ChatRequest) (*types.ChatResponse, error)

	// StreamComplete starts a streaming completion. The returned stream
	// must be closed by the caller; canceling ctx aborts the upstream call.
	StreamComplete(ctx context.Context, req *types.ChatRequest) (ChunkStream, error)
}

// Embedder is implemented by providers that can serve embedding requests.
type Embedder interface {
	Embed(ctx context.Context, req *types.EmbeddingRequest) (*types.EmbeddingResponse, error)
}

// ChunkStream delivers parsed chunks from one provider stream.
// Recv returns io.EOF after the final chunk.
type ChunkStream interface {
	Recv() (*types.StreamChunk, error)
	Close() error
}

// TokenSource defines the interface for retrieving access tokens.
// It allows for dynamic token retrieval (e.g. OAuth, IAM) vs static API keys.
type TokenSource interface {
	// Token returns a valid access token or error.
	Token() (string, error)
}

// GetToken resolves the credential for a request: the token source when
// one is configured, otherwise the static API key.
func GetToken(ts TokenSource, apiKey string) (string, error) {
	if ts != nil {
		return ts.Token()
	}
	return apiKey, nil
}

// Config contains provider-specific configuration.
type Config struct {
	// ID is the instance identifier; defaults to Driver when empty.
	ID string
	// Driver selects the registered factory ("ollama", "openai", ...).
	Driver string
	// Type overrides the driver's default local/cloud classification.
	Type Type

	APIKey      string
	TokenSource TokenSource
	BaseURL     string
	// AllowPrivateBaseURL permits loopback and RFC1918 hosts, which local
	// backends such as Ollama require.
	AllowPrivateBaseURL bool

	// Models is the static model list; adapters may extend it with live
	// listings from the backend.
	Models []string

	MaxConcurrent int
	Timeout       time.Duration
	Headers       map[string]string

	// Region is used by AWS-hosted backends.
	Region string
	// ProjectID and Location are used by GCP-hosted backends.
	ProjectID string
	Location  string
}

// Factory creates provider instances from configuration.
type Factory func(cfg Config) (Provider, error)

// DrainAndClose exhausts a stream and closes it, ignoring content.
// Loser streams in a race are disposed of this way.
func DrainAndClose(s ChunkStream) {
	if s == nil {
		return
	}
	for {
		if _, err := s.Recv(); err != nil {
			break
		}
	}
	_ = s.Close()
}

// ChunksToResponse assembles a full response from a finished stream's chunks.
func ChunksToResponse(chunks []*types.StreamChunk) *types.ChatResponse {
	resp := &types.ChatResponse{Object: "chat.completion"}
	var content string
	var finish string
	for _, c := range chunks {
		if c == nil {
			continue
		}
		if resp.ID == "" {
			resp.ID = c.ID
		}
		if resp.Created == 0 {
			resp.Created = c.Created
		}
		if resp.Model == "" {
			resp.Model = c.Model
		}
		content += c.DeltaContent()
		if fr := c.FinishReason(); fr != "" {
			finish = fr
		}
		if c.Usage != nil {
			resp.Usage = c.Usage
		}
	}
	if finish == "" {
		finish = "stop"
	}
	resp.Choices = []types.Choice{{
		Message:      types.ChatMessage{Role: types.RoleAssistant, Content: types.TextContent(content)},
		FinishReason: finish,
	}}
	return resp
}

// sliceStream replays a fixed chunk sequence. Used to serve cached or
// already-buffered responses through the streaming path.
type sliceStream struct {
	chunks []*types.StreamChunk
	pos    int
}

// NewSliceStream returns a ChunkStream over a fixed chunk sequence.
func NewSliceStream(chunks []*types.StreamChunk) ChunkStream {
	return &sliceStream{chunks: chunks}
}

func (s *sliceStream) Recv() (*types.StreamChunk, error) {
	if s.pos >= len(s.chunks) {
		return nil, io.EOF
	}
	c := s.chunks[s.pos]
	s.pos++
	return c, nil
}

func (s *sliceStream) Close() error { return nil }
