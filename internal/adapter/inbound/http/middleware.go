package http

import (
	"bufio"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/superego-ai/superego/internal/ctxkey"
	"github.com/superego-ai/superego/internal/telemetry"
)

// RequestIDMiddleware extracts or generates a request ID and enriches the
// logger. The ID and a request-scoped logger are stored in the context so
// downstream code (engine, audit) logs with the same correlation id.
func RequestIDMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = uuid.New().String()
			}

			ctx := ctxkey.WithRequestID(r.Context(), requestID)
			ctx = ctxkey.WithLogger(ctx, logger.With("request_id", requestID))

			// Echo the id so callers can correlate responses with logs.
			w.Header().Set("X-Request-ID", requestID)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// MetricsMiddleware records request counts and durations. The /metrics and
// /health endpoints are excluded so scrapes and probes don't drown out the
// decision traffic.
func MetricsMiddleware(metrics *telemetry.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if metrics == nil || r.URL.Path == "/metrics" || r.URL.Path == "/health" {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			wrapped := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			path := routeLabel(r.URL.Path)
			metrics.HTTPDuration.WithLabelValues(path).Observe(time.Since(start).Seconds())
			metrics.HTTPRequestsTotal.WithLabelValues(path, r.Method, strconv.Itoa(wrapped.status)).Inc()
		})
	}
}

// routeLabel maps a request path onto a bounded metric label set.
func routeLabel(path string) string {
	switch path {
	case "/v1/evaluate", "/v1/ws", "/health", "/info", "/metrics":
		return path
	default:
		return "other"
	}
}

// statusRecorder wraps http.ResponseWriter to capture the status code.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush delegates to the underlying ResponseWriter if it supports
// http.Flusher.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack delegates to the underlying ResponseWriter. The WebSocket
// upgrade at /v1/ws needs the raw connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := r.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("response writer does not support hijacking")
}
