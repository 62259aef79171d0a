// Package streaming writes OpenAI-style SSE responses. Each chunk goes
// out as a single "data:" event and the stream always terminates with
// the [DONE] sentinel, even after a mid-stream error.
package streaming

import (
	"fmt"
	"net/http"

	"github.com/goccy/go-json"
)

const (
	// dataPrefix is the SSE event prefix for chunk payloads.
	dataPrefix = "data: "

	// doneMarker terminates every SSE stream.
	doneMarker = "[DONE]"
)

// Writer emits SSE events onto an http.ResponseWriter. Not safe for
// concurrent use; one goroutine owns the response.
type Writer struct {
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
}

// NewWriter wraps a response writer for SSE output. Returns an error
// when the underlying writer cannot flush, since buffered SSE defeats
// the point of streaming.
func NewWriter(w http.ResponseWriter) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flushing")
	}
	return &Writer{w: w, flusher: flusher}, nil
}

// start writes the SSE headers once, before the first event.
func (s *Writer) start() {
	if s.started {
		return
	}
	s.started = true
	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	s.w.WriteHeader(http.StatusOK)
}

// Send marshals v and writes it as one data event.
func (s *Writer) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.SendRaw(data)
}

// SendRaw writes pre-encoded JSON as one data event.
func (s *Writer) SendRaw(data []byte) error {
	s.start()
	if _, err := fmt.Fprintf(s.w, "%s%s\n\n", dataPrefix, data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// SendError writes an error envelope as a data event. Clients that
// already consumed chunks see the error in-band since the HTTP status
// is long gone.
func (s *Writer) SendError(message, errType string, code int) error {
	return s.Send(map[string]any{
		"error": map[string]any{
			"message": message,
			"type":    errType,
			"code":    code,
		},
	})
}

// Done writes the [DONE] sentinel. Always call it last, error or not.
func (s *Writer) Done() error {
	s.start()
	if _, err := fmt.Fprintf(s.w, "%s%s\n\n", dataPrefix, doneMarker); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
