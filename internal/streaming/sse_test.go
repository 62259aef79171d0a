package streaming

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWriter_HeadersAndEvents(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewWriter(rec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := w.Send(map[string]string{"hello": "world"}); err != nil {
		t.Fatalf("send error: %v", err)
	}
	if err := w.Done(); err != nil {
		t.Fatalf("done error: %v", err)
	}

	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}
	if cc := rec.Header().Get("Cache-Control"); cc != "no-cache" {
		t.Errorf("cache control = %q", cc)
	}

	body := rec.Body.String()
	if !strings.Contains(body, `data: {"hello":"world"}`) {
		t.Errorf("body = %q, missing data event", body)
	}
	if !strings.HasSuffix(body, "data: [DONE]\n\n") {
		t.Errorf("body = %q, missing [DONE] terminator", body)
	}
	if !rec.Flushed {
		t.Error("writer never flushed")
	}
}

func TestWriter_ErrorEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewWriter(rec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := w.SendError("budget exhausted", "budget_exceeded_error", 403); err != nil {
		t.Fatalf("send error: %v", err)
	}
	if err := w.Done(); err != nil {
		t.Fatalf("done error: %v", err)
	}

	body := rec.Body.String()
	if !strings.Contains(body, `"type":"budget_exceeded_error"`) {
		t.Errorf("body = %q, missing error type", body)
	}
	// The status was committed before the error; it stays 200.
	if rec.Code != 200 {
		t.Errorf("status = %d", rec.Code)
	}
}

// noFlushWriter hides the recorder's Flush method so the writer sees a
// response that cannot stream.
type noFlushWriter struct{ rec *httptest.ResponseRecorder }

func (w noFlushWriter) Header() http.Header         { return w.rec.Header() }
func (w noFlushWriter) Write(b []byte) (int, error) { return w.rec.Write(b) }
func (w noFlushWriter) WriteHeader(code int)        { w.rec.WriteHeader(code) }

func TestNewWriter_RequiresFlusher(t *testing.T) {
	if _, err := NewWriter(noFlushWriter{httptest.NewRecorder()}); err == nil {
		t.Error("expected an error for a non-flushing writer")
	}
}
