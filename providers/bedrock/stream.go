package bedrock

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws/protocol/eventstream"
	"github.com/goccy/go-json"

	"github.com/ghostkellz/omen/pkg/provider"
	"github.com/ghostkellz/omen/pkg/types"
	"github.com/ghostkellz/omen/providers/anthropic"
)

// parseFunc translates one decoded chunk payload. Returning (nil, nil)
// skips the event.
type parseFunc func(payload []byte) (*types.StreamChunk, error)

// eventStream adapts the binary AWS event stream to ChunkStream. Each
// decoded message carries a base64 "bytes" envelope with the
// model-native chunk JSON inside.
type eventStream struct {
	body    io.ReadCloser
	decoder *eventstream.Decoder
	buf     []byte
	parse   parseFunc
	closed  sync.Once
	done    bool
}

func newEventStream(body io.ReadCloser, parse parseFunc) *eventStream {
	return &eventStream{
		body:    body,
		decoder: eventstream.NewDecoder(),
		buf:     make([]byte, 64*1024),
		parse:   parse,
	}
}

var _ provider.ChunkStream = (*eventStream)(nil)

func (s *eventStream) Recv() (*types.StreamChunk, error) {
	if s.done {
		return nil, io.EOF
	}
	for {
		msg, err := s.decoder.Decode(s.body, s.buf)
		if err != nil {
			s.done = true
			if err == io.EOF {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("decode event: %w", err)
		}

		chunk, err := s.parse(unwrapEnvelope(msg.Payload))
		if err != nil {
			s.done = true
			return nil, err
		}
		if chunk == nil {
			continue
		}
		return chunk, nil
	}
}

func (s *eventStream) Close() error {
	var err error
	s.closed.Do(func() {
		err = s.body.Close()
	})
	return err
}

// unwrapEnvelope extracts the inner chunk from the {"bytes": base64}
// wrapper. Payloads without the wrapper, such as exception events, pass
// through untouched.
func unwrapEnvelope(payload []byte) []byte {
	var envelope struct {
		Bytes []byte `json:"bytes"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil || len(envelope.Bytes) == 0 {
		return payload
	}
	return envelope.Bytes
}

// chunkParser picks the chunk translation for the model family. The
// family was already validated when the payload was built.
func chunkParser(model string) parseFunc {
	switch {
	case strings.Contains(model, "anthropic.claude"):
		return claudeChunkParser(model)
	case strings.Contains(model, "amazon.titan"):
		return titanChunkParser(model)
	case strings.Contains(model, "meta.llama"):
		return llamaChunkParser(model)
	default:
		return func(payload []byte) (*types.StreamChunk, error) {
			return nil, fmt.Errorf("unsupported bedrock model family: %s", model)
		}
	}
}

// claudeChunkParser reuses the anthropic event grammar. Chunks report
// the bare model name, so the Bedrock ID is restored on each one.
func claudeChunkParser(model string) parseFunc {
	return func(payload []byte) (*types.StreamChunk, error) {
		chunk, err := anthropic.ParseChunk(payload)
		if err != nil || chunk == nil {
			return chunk, err
		}
		chunk.Model = model
		return chunk, nil
	}
}

func titanChunkParser(model string) parseFunc {
	return func(payload []byte) (*types.StreamChunk, error) {
		var event struct {
			OutputText       string `json:"outputText"`
			CompletionReason string `json:"completionReason"`
		}
		if err := json.Unmarshal(payload, &event); err != nil {
			return nil, fmt.Errorf("unmarshal chunk: %w", err)
		}
		if event.OutputText == "" && event.CompletionReason == "" {
			return nil, nil
		}

		choice := types.StreamChoice{
			Index: 0,
			Delta: types.StreamDelta{Content: event.OutputText},
		}
		if event.CompletionReason != "" {
			choice.FinishReason = mapTitanReason(event.CompletionReason)
		}
		return &types.StreamChunk{
			Object:  "chat.completion.chunk",
			Model:   model,
			Choices: []types.StreamChoice{choice},
		}, nil
	}
}

func llamaChunkParser(model string) parseFunc {
	return func(payload []byte) (*types.StreamChunk, error) {
		var event struct {
			Generation string `json:"generation"`
			StopReason string `json:"stop_reason"`
		}
		if err := json.Unmarshal(payload, &event); err != nil {
			return nil, fmt.Errorf("unmarshal chunk: %w", err)
		}
		if event.Generation == "" && event.StopReason == "" {
			return nil, nil
		}

		choice := types.StreamChoice{
			Index: 0,
			Delta: types.StreamDelta{Content: event.Generation},
		}
		if event.StopReason != "" {
			choice.FinishReason = mapLlamaReason(event.StopReason)
		}
		return &types.StreamChunk{
			Object:  "chat.completion.chunk",
			Model:   model,
			Choices: []types.StreamChoice{choice},
		}, nil
	}
}
