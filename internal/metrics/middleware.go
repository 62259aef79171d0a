// Package metrics provides Prometheus metrics collection for the gateway.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ghostkellz/omen/pkg/types"
)

var (
	// UpstreamErrors counts errors by type.
	UpstreamErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_errors_total",
			Help:      "Total upstream errors by type",
		},
		[]string{"provider", "error_type"},
	)
)

// RecordError records an upstream error.
func RecordError(provider, errorType string) {
	UpstreamErrors.WithLabelValues(provider, errorType).Inc()
}

// statusRecorder wraps http.ResponseWriter to capture the status code.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
	written    int64
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	n, err := r.ResponseWriter.Write(b)
	r.written += int64(n)
	return n, err
}

// Flush implements http.Flusher interface for streaming support.
func (r *statusRecorder) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		route := routeLabel(r.URL.Path)

		HTTPRequestsInFlight.WithLabelValues(route).Inc()
		defer HTTPRequestsInFlight.WithLabelValues(route).Dec()

		if r.ContentLength > 0 {
			HTTPRequestSize.WithLabelValues(route).Observe(float64(r.ContentLength))
		}

		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(recorder, r)

		HTTPRequestDuration.WithLabelValues(
			r.Method, route, strconv.Itoa(recorder.statusCode),
		).Observe(time.Since(start).Seconds())

		if recorder.written > 0 {
			HTTPResponseSize.WithLabelValues(route).Observe(float64(recorder.written))
		}
	})
}

// routeLabel maps a request path to a bounded label value.
func routeLabel(path string) string {
	switch {
	case path == "/v1/chat/completions":
		return "chat_completions"
	case path == "/v1/completions":
		return "completions"
	case path == "/v1/embeddings":
		return "embeddings"
	case path == "/v1/models":
		return "models"
	case path == "/health":
		return "health"
	case path == "/status":
		return "status"
	case path == "/metrics":
		return "metrics"
	case strings.HasPrefix(path, "/omen/"):
		return "admin"
	default:
		return "other"
	}
}

const maxModelLabelLen = 64

func sanitizeModelLabel(model string) string {
	_, modelName := types.SplitProviderModel(model)
	modelName = strings.TrimSpace(modelName)
	if modelName == "" {
		return "unknown"
	}

	var b strings.Builder
	b.Grow(minInt(len(modelName), maxModelLabelLen))
	for _, r := range modelName {
		if (r >= 'a' && r <= 'z') ||
			(r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') ||
			r == '-' || r == '_' || r == '.' || r == ':' {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
		if b.Len() >= maxModelLabelLen {
			break
		}
	}

	out := strings.Trim(b.String(), "_")
	if out == "" {
		return "unknown"
	}
	return out
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
