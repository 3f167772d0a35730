// Package http provides the HTTP/JSON transport adapter.
//
// The adapter exposes the decision engine on a plain HTTP listener:
//
//	POST /v1/evaluate - evaluate a ToolRequest, respond with a Decision
//	GET  /health      - component health report (503 when unhealthy)
//	GET  /info        - server name, version and uptime
//	GET  /metrics     - Prometheus metrics
//	GET  /v1/ws       - WebSocket upgrade (when a handler is mounted)
//
// Endpoint errors are JSON objects of the form
// {"error":{"code":"...","message":"..."}} with status 400 for invalid
// requests, 503 when the advisor is unavailable and no fail-mode outcome
// exists, and 500 for internal faults.
package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/superego-ai/superego/internal/port/inbound"
	"github.com/superego-ai/superego/internal/telemetry"
)

// shutdownTimeout bounds graceful shutdown once the context is cancelled.
const shutdownTimeout = 10 * time.Second

// Server is the inbound adapter that serves decisions over HTTP.
type Server struct {
	evaluator inbound.Evaluator
	health    inbound.HealthChecker
	server    *http.Server
	addr      string
	version   string
	started   time.Time
	logger    *slog.Logger
	metrics   *telemetry.Metrics
	gatherer  prometheus.Gatherer
	wsHandler http.Handler
}

// Option is a functional option for configuring the Server.
type Option func(*Server)

// WithAddr sets the listen address. Default is "127.0.0.1:8338".
func WithAddr(addr string) Option {
	return func(s *Server) {
		s.addr = addr
	}
}

// WithMetrics wires a shared metrics set and its registry into the server.
// The gatherer backs the /metrics endpoint; the metrics record per-request
// counts and durations. When unset, the server builds a private registry.
func WithMetrics(m *telemetry.Metrics, g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.metrics = m
		s.gatherer = g
	}
}

// WithWebSocket mounts a WebSocket upgrade handler at /v1/ws.
func WithWebSocket(h http.Handler) Option {
	return func(s *Server) {
		s.wsHandler = h
	}
}

// NewServer creates an HTTP transport serving the given evaluator.
func NewServer(evaluator inbound.Evaluator, health inbound.HealthChecker, version string, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		evaluator: evaluator,
		health:    health,
		addr:      "127.0.0.1:8338",
		version:   version,
		started:   time.Now(),
		logger:    logger.With("component", "http"),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// buildHandler assembles the route mux and middleware chain.
func (s *Server) buildHandler() http.Handler {
	if s.metrics == nil {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		s.metrics = telemetry.NewMetrics(reg)
		s.gatherer = reg
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/evaluate", s.handleEvaluate)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/info", s.handleInfo)
	mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	if s.wsHandler != nil {
		mux.Handle("/v1/ws", s.wsHandler)
	}

	// Middleware order (outermost first): metrics capture the full request
	// duration, then every request gets a correlation id and a scoped logger.
	var handler http.Handler = mux
	handler = RequestIDMiddleware(s.logger)(handler)
	handler = MetricsMiddleware(s.metrics)(handler)
	return handler
}

// Handler returns the fully assembled route handler, for callers that
// mount the decision API on their own listener.
func (s *Server) Handler() http.Handler {
	return s.buildHandler()
}

// Serve begins accepting HTTP connections. It blocks until the context
// is cancelled or the listener fails.
func (s *Server) Serve(ctx context.Context) error {
	s.server = &http.Server{
		Addr:    s.addr,
		Handler: s.buildHandler(),
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", s.addr)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, shutting down HTTP server")
		return s.shutdown()
	case err := <-errCh:
		return err
	}
}

// shutdown drains in-flight requests before closing the listener.
func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Error("error during server shutdown", "error", err)
		return err
	}

	s.logger.Info("HTTP server shutdown complete")
	return nil
}

// Close gracefully shuts down the transport.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}
	return s.shutdown()
}

// Compile-time check that Server implements the transport interface.
var _ inbound.Transport = (*Server)(nil)
