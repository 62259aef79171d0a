package openailike

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/goccy/go-json"

	"github.com/ghostkellz/omen/pkg/provider"
	"github.com/ghostkellz/omen/pkg/types"
)

const (
	scanBufferSize = 64 * 1024
	maxLineSize    = 1024 * 1024
)

// ParseFunc turns one SSE line into a chunk. Returning (nil, nil) skips
// the line, which is how keep-alives and event markers are absorbed.
type ParseFunc func(line []byte) (*types.StreamChunk, error)

// NewSSEStream wraps a streaming response body in a ChunkStream. The
// parse function interprets each line; onClose, if set, runs exactly
// once when the stream is closed.
func NewSSEStream(body io.ReadCloser, parse ParseFunc, onClose func()) provider.ChunkStream {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, scanBufferSize), maxLineSize)
	return &sseStream{
		body:    body,
		scanner: scanner,
		parse:   parse,
		onClose: onClose,
	}
}

type sseStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	parse   ParseFunc
	onClose func()
	closed  sync.Once
	done    bool
}

// Recv returns the next chunk, or io.EOF once the stream terminates.
func (s *sseStream) Recv() (*types.StreamChunk, error) {
	if s.done {
		return nil, io.EOF
	}
	for s.scanner.Scan() {
		line := bytes.TrimSpace(s.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if isDoneMarker(line) {
			s.done = true
			return nil, io.EOF
		}
		chunk, err := s.parse(line)
		if err != nil {
			return nil, err
		}
		if chunk == nil {
			continue
		}
		return chunk, nil
	}
	s.done = true
	if err := s.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

// Close releases the connection and the provider's in-flight slot.
func (s *sseStream) Close() error {
	var err error
	s.closed.Do(func() {
		err = s.body.Close()
		if s.onClose != nil {
			s.onClose()
		}
	})
	return err
}

func isDoneMarker(line []byte) bool {
	if bytes.Equal(line, []byte("[DONE]")) {
		return true
	}
	return bytes.Equal(line, []byte("data: [DONE]"))
}

// ParseChunk interprets one OpenAI-format SSE line. Comment lines and
// event markers are skipped.
func ParseChunk(line []byte) (*types.StreamChunk, error) {
	if bytes.HasPrefix(line, []byte(":")) || bytes.HasPrefix(line, []byte("event:")) {
		return nil, nil
	}
	if bytes.HasPrefix(line, []byte("data:")) {
		line = bytes.TrimSpace(bytes.TrimPrefix(line, []byte("data:")))
	}
	if len(line) == 0 || bytes.Equal(line, []byte("[DONE]")) {
		return nil, nil
	}

	var chunk types.StreamChunk
	if err := json.Unmarshal(line, &chunk); err != nil {
		return nil, fmt.Errorf("unmarshal chunk: %w", err)
	}
	return &chunk, nil
}
