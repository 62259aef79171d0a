package bedrock

import (
	"bytes"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws/protocol/eventstream"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// encodeFrames wraps each payload in the {"bytes": base64} envelope and
// encodes it as a binary event stream message, the way bedrock-runtime
// frames chunk events.
func encodeFrames(t *testing.T, payloads ...string) []byte {
	t.Helper()

	var buf bytes.Buffer
	encoder := eventstream.NewEncoder()
	for _, payload := range payloads {
		envelope, err := json.Marshal(map[string]any{"bytes": []byte(payload)})
		require.NoError(t, err)

		msg := eventstream.Message{
			Headers: eventstream.Headers{
				{Name: ":event-type", Value: eventstream.StringValue("chunk")},
			},
			Payload: envelope,
		}
		require.NoError(t, encoder.Encode(&buf, msg))
	}
	return buf.Bytes()
}

func TestUnwrapEnvelope(t *testing.T) {
	inner := `{"type":"message_stop"}`
	envelope, err := json.Marshal(map[string]any{"bytes": []byte(inner)})
	require.NoError(t, err)

	assert.Equal(t, []byte(inner), unwrapEnvelope(envelope))

	// Exception events arrive without the wrapper.
	raw := []byte(`{"message":"throttled"}`)
	assert.Equal(t, raw, unwrapEnvelope(raw))

	notJSON := []byte("plain text")
	assert.Equal(t, notJSON, unwrapEnvelope(notJSON))
}

func TestEventStream_ClaudeChunks(t *testing.T) {
	const model = "anthropic.claude-3-sonnet-20240229-v1:0"
	frames := encodeFrames(t,
		`{"type":"message_start","message":{"id":"msg_01","model":"claude-3-sonnet-20240229","role":"assistant"}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hel"}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"lo"}}`,
		`{"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":2}}`,
		`{"type":"message_stop"}`,
	)

	stream := newEventStream(io.NopCloser(bytes.NewReader(frames)), chunkParser(model))
	defer stream.Close()

	first, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, "msg_01", first.ID)
	assert.Equal(t, model, first.Model)
	assert.Equal(t, "assistant", first.Choices[0].Delta.Role)

	var text string
	second, err := stream.Recv()
	require.NoError(t, err)
	text += second.Choices[0].Delta.Content
	third, err := stream.Recv()
	require.NoError(t, err)
	text += third.Choices[0].Delta.Content
	assert.Equal(t, "Hello", text)

	last, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, "stop", last.Choices[0].FinishReason)

	// message_stop is skipped, then the frames run out.
	_, err = stream.Recv()
	assert.Equal(t, io.EOF, err)
	_, err = stream.Recv()
	assert.Equal(t, io.EOF, err)
}

func TestEventStream_TitanChunks(t *testing.T) {
	const model = "amazon.titan-text-premier-v1:0"
	frames := encodeFrames(t,
		`{"outputText":"Hello","index":0}`,
		`{"outputText":" world","completionReason":"FINISH","totalOutputTextTokenCount":2}`,
	)

	stream := newEventStream(io.NopCloser(bytes.NewReader(frames)), chunkParser(model))
	defer stream.Close()

	first, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, model, first.Model)
	assert.Equal(t, "Hello", first.Choices[0].Delta.Content)
	assert.Empty(t, first.Choices[0].FinishReason)

	second, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, " world", second.Choices[0].Delta.Content)
	assert.Equal(t, "stop", second.Choices[0].FinishReason)

	_, err = stream.Recv()
	assert.Equal(t, io.EOF, err)
}

func TestEventStream_LlamaChunks(t *testing.T) {
	const model = "meta.llama3-70b-instruct-v1:0"
	frames := encodeFrames(t,
		`{"generation":"par"}`,
		`{"generation":"tial"}`,
		`{"generation":"","stop_reason":"stop"}`,
	)

	stream := newEventStream(io.NopCloser(bytes.NewReader(frames)), chunkParser(model))
	defer stream.Close()

	var text string
	for i := 0; i < 2; i++ {
		chunk, err := stream.Recv()
		require.NoError(t, err)
		text += chunk.Choices[0].Delta.Content
	}
	assert.Equal(t, "partial", text)

	last, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, "stop", last.Choices[0].FinishReason)
}

func TestEventStream_RawPayloadFallback(t *testing.T) {
	// A frame whose payload skips the bytes envelope is parsed as-is.
	var buf bytes.Buffer
	encoder := eventstream.NewEncoder()
	msg := eventstream.Message{
		Payload: []byte(`{"generation":"direct"}`),
	}
	require.NoError(t, encoder.Encode(&buf, msg))

	stream := newEventStream(io.NopCloser(&buf), chunkParser("meta.llama3-70b-instruct-v1:0"))
	defer stream.Close()

	chunk, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, "direct", chunk.Choices[0].Delta.Content)
}

type countingCloser struct {
	io.Reader
	closes int
}

func (c *countingCloser) Close() error {
	c.closes++
	return nil
}

func TestEventStream_CloseOnce(t *testing.T) {
	body := &countingCloser{Reader: bytes.NewReader(nil)}
	stream := newEventStream(body, chunkParser("amazon.titan-text-premier-v1:0"))

	require.NoError(t, stream.Close())
	require.NoError(t, stream.Close())
	assert.Equal(t, 1, body.closes)
}
