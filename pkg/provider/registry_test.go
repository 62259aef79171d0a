package provider

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghostkellz/omen/pkg/types"
)

type fakeProvider struct {
	id         string
	typ        Type
	models     []string
	healthErr  error
	listCalls  atomic.Int64
	completeFn func(ctx context.Context, req *types.ChatRequest) (*types.ChatResponse, error)
}

func (f *fakeProvider) ID() string   { return f.id }
func (f *fakeProvider) Name() string { return f.id }
func (f *fakeProvider) Type() Type {
	if f.typ == "" {
		return TypeCloud
	}
	return f.typ
}

func (f *fakeProvider) Health(context.Context) error { return f.healthErr }

func (f *fakeProvider) ListModels(context.Context) ([]types.Model, error) {
	f.listCalls.Add(1)
	out := make([]types.Model, 0, len(f.models))
	for _, m := range f.models {
		out = append(out, types.Model{ID: m, Object: "model", OwnedBy: f.id})
	}
	return out, nil
}

func (f *fakeProvider) Complete(ctx context.Context, req *types.ChatRequest) (*types.ChatResponse, error) {
	if f.completeFn != nil {
		return f.completeFn(ctx, req)
	}
	return &types.ChatResponse{Model: req.Model}, nil
}

func (f *fakeProvider) StreamComplete(context.Context, *types.ChatRequest) (ChunkStream, error) {
	return NewSliceStream(nil), nil
}

func TestRegistry_CreateProvider(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterFactory("fake", func(cfg Config) (Provider, error) {
		return &fakeProvider{id: cfg.ID}, nil
	})

	p, err := reg.CreateProvider(Config{Driver: "fake", ID: "fake-1"})
	require.NoError(t, err)
	assert.Equal(t, "fake-1", p.ID())

	got, ok := reg.Get("fake-1")
	require.True(t, ok)
	assert.Equal(t, p, got)

	_, err = reg.CreateProvider(Config{Driver: "missing"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown provider driver")
}

func TestRegistry_CreateProvider_DefaultsIDToDriver(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterFactory("ollama", func(cfg Config) (Provider, error) {
		return &fakeProvider{id: cfg.ID}, nil
	})

	p, err := reg.CreateProvider(Config{Driver: "ollama"})
	require.NoError(t, err)
	assert.Equal(t, "ollama", p.ID())
}

func TestRegistry_CreateProvider_FactoryError(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterFactory("broken", func(Config) (Provider, error) {
		return nil, fmt.Errorf("bad config")
	})

	_, err := reg.CreateProvider(Config{Driver: "broken"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad config")
}

func TestRegistry_AllPreservesOrder(t *testing.T) {
	reg := NewRegistry()
	for _, id := range []string{"ollama", "openai", "anthropic"} {
		reg.Add(&fakeProvider{id: id})
	}

	assert.Equal(t, []string{"ollama", "openai", "anthropic"}, reg.IDs())

	// Re-adding must not duplicate the order entry.
	reg.Add(&fakeProvider{id: "openai"})
	assert.Equal(t, []string{"ollama", "openai", "anthropic"}, reg.IDs())
	assert.Equal(t, 3, reg.Len())

	all := reg.All()
	require.Len(t, all, 3)
	assert.Equal(t, "ollama", all[0].ID())
}

func TestRegistry_ProvidersForModel(t *testing.T) {
	reg := NewRegistry()
	reg.Add(&fakeProvider{id: "ollama", models: []string{"llama3:8b"}})
	reg.Add(&fakeProvider{id: "openai", models: []string{"gpt-4o", "gpt-4o-mini"}})
	reg.Add(&fakeProvider{id: "azure", models: []string{"gpt-4o"}})

	ctx := context.Background()

	ids := reg.ProvidersForModel(ctx, "gpt-4o")
	assert.Equal(t, []string{"openai", "azure"}, ids)

	ids = reg.ProvidersForModel(ctx, "llama3:8b")
	assert.Equal(t, []string{"ollama"}, ids)

	assert.Nil(t, reg.ProvidersForModel(ctx, "gpt-9"))
}

func TestRegistry_CatalogueCachesListings(t *testing.T) {
	p := &fakeProvider{id: "ollama", models: []string{"llama3:8b"}}
	reg := NewRegistry()
	reg.Add(p)

	ctx := context.Background()
	reg.ProvidersForModel(ctx, "llama3:8b")
	reg.ProvidersForModel(ctx, "llama3:8b")
	reg.ProvidersForModel(ctx, "llama3:8b")

	assert.Equal(t, int64(1), p.listCalls.Load(), "cached lookups must not hit the backend")
}

func TestRegistry_UnknownModelNegativeCached(t *testing.T) {
	p := &fakeProvider{id: "ollama", models: []string{"llama3:8b"}}
	reg := NewRegistry()
	reg.Add(p)

	ctx := context.Background()
	assert.Nil(t, reg.ProvidersForModel(ctx, "gpt-9"))
	assert.Nil(t, reg.ProvidersForModel(ctx, "gpt-9"))

	assert.Equal(t, int64(1), p.listCalls.Load(), "unknown model must not refresh per call")
}

func TestRegistry_ModelsDeduplicates(t *testing.T) {
	reg := NewRegistry()
	reg.Add(&fakeProvider{id: "openai", models: []string{"gpt-4o"}})
	reg.Add(&fakeProvider{id: "azure", models: []string{"gpt-4o", "gpt-35-turbo"}})

	models := reg.Models(context.Background())
	require.Len(t, models, 2)
	assert.Equal(t, "gpt-4o", models[0].ID)
	assert.Equal(t, "openai", models[0].Provider)
	assert.Equal(t, "gpt-35-turbo", models[1].ID)
}

func TestSliceStream(t *testing.T) {
	chunks := []*types.StreamChunk{
		{Choices: []types.StreamChoice{{Delta: types.StreamDelta{Content: "a"}}}},
		{Choices: []types.StreamChoice{{Delta: types.StreamDelta{Content: "b"}}}},
	}

	s := NewSliceStream(chunks)
	first, err := s.Recv()
	require.NoError(t, err)
	assert.Equal(t, "a", first.DeltaContent())

	second, err := s.Recv()
	require.NoError(t, err)
	assert.Equal(t, "b", second.DeltaContent())

	_, err = s.Recv()
	assert.Equal(t, io.EOF, err)
	require.NoError(t, s.Close())
}

func TestChunksToResponse(t *testing.T) {
	chunks := []*types.StreamChunk{
		{ID: "chatcmpl-1", Created: 1700000000, Model: "gpt-4o",
			Choices: []types.StreamChoice{{Delta: types.StreamDelta{Content: "The answer "}}}},
		{Choices: []types.StreamChoice{{Delta: types.StreamDelta{Content: "is 42."}}}},
		{Choices: []types.StreamChoice{{FinishReason: "stop"}},
			Usage: &types.Usage{PromptTokens: 10, CompletionTokens: 4, TotalTokens: 14}},
	}

	resp := ChunksToResponse(chunks)
	assert.Equal(t, "chatcmpl-1", resp.ID)
	assert.Equal(t, "gpt-4o", resp.Model)
	assert.Equal(t, "The answer is 42.", resp.Content())
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "stop", resp.Choices[0].FinishReason)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 14, resp.Usage.TotalTokens)
}

func TestDrainAndClose(t *testing.T) {
	s := NewSliceStream([]*types.StreamChunk{{}, {}, {}})
	DrainAndClose(s)
	_, err := s.Recv()
	assert.Equal(t, io.EOF, err)

	DrainAndClose(nil) // must not panic
}
