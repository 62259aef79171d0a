package openailike

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSSEStream_ScansChunks(t *testing.T) {
	body := io.NopCloser(strings.NewReader(
		"data: {\"id\":\"a\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"one\"}}]}\n" +
			"\n" +
			": ping\n" +
			"data: {\"id\":\"a\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"two\"}}]}\n" +
			"data: [DONE]\n",
	))

	stream := NewSSEStream(body, ParseChunk, nil)
	defer stream.Close()

	chunk, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, "one", chunk.DeltaContent())

	chunk, err = stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, "two", chunk.DeltaContent())

	_, err = stream.Recv()
	assert.ErrorIs(t, err, io.EOF)

	// Recv after termination keeps returning EOF.
	_, err = stream.Recv()
	assert.ErrorIs(t, err, io.EOF)
}

func TestSSEStream_EOFWithoutDoneMarker(t *testing.T) {
	body := io.NopCloser(strings.NewReader(
		"data: {\"id\":\"a\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"x\"}}]}\n",
	))

	stream := NewSSEStream(body, ParseChunk, nil)
	defer stream.Close()

	_, err := stream.Recv()
	require.NoError(t, err)

	_, err = stream.Recv()
	assert.ErrorIs(t, err, io.EOF)
}

func TestSSEStream_CloseRunsHookOnce(t *testing.T) {
	calls := 0
	body := io.NopCloser(strings.NewReader("data: [DONE]\n"))

	stream := NewSSEStream(body, ParseChunk, func() { calls++ })
	require.NoError(t, stream.Close())
	require.NoError(t, stream.Close())
	assert.Equal(t, 1, calls)
}

func TestSSEStream_ParseError(t *testing.T) {
	body := io.NopCloser(strings.NewReader("data: {not json}\n"))

	stream := NewSSEStream(body, ParseChunk, nil)
	defer stream.Close()

	_, err := stream.Recv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmarshal chunk")
}

func TestParseChunk_SkipsMarkers(t *testing.T) {
	for _, line := range []string{"[DONE]", "data: [DONE]", ": comment", "event: delta", "data:"} {
		chunk, err := ParseChunk([]byte(line))
		require.NoError(t, err, "line %q", line)
		assert.Nil(t, chunk, "line %q", line)
	}
}

func TestParseChunk_BareJSON(t *testing.T) {
	chunk, err := ParseChunk([]byte(`{"id":"a","choices":[{"index":0,"delta":{"content":"x"}}]}`))
	require.NoError(t, err)
	require.NotNil(t, chunk)
	assert.Equal(t, "x", chunk.DeltaContent())
}
