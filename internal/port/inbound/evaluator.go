// Package inbound defines the inbound port interfaces for the decision
// core. Inbound adapters (stdio, HTTP, WebSocket) call these interfaces.
package inbound

import (
	"context"

	"github.com/superego-ai/superego/internal/domain/decision"
	"github.com/superego-ai/superego/internal/domain/health"
	"github.com/superego-ai/superego/internal/domain/request"
)

// Evaluator is the inbound port for the decision engine. Every transport
// resolves tool requests through this interface; the Decision it returns
// serializes identically regardless of which transport carried the request.
type Evaluator interface {
	// Evaluate normalizes one tool request and resolves it to an allow
	// or deny verdict. The returned error is a *decision.Error for
	// caller-visible failures (validation, engine faults); transports
	// map its Code onto their own error surface.
	Evaluate(ctx context.Context, req *request.ToolRequest, transport string) (*decision.Decision, error)
}

// HealthChecker reports component health for /health and the MCP
// health_check tool.
type HealthChecker interface {
	Health(ctx context.Context) *health.Report
}

// Transport is a request surface serving the Evaluator. Implementations
// are constructed unstarted; Serve blocks until the context is cancelled
// or the listener fails.
type Transport interface {
	// Serve accepts requests until ctx is done. Returns nil on graceful
	// shutdown, an error if the transport could not start or failed.
	Serve(ctx context.Context) error

	// Close releases the transport's resources. Safe to call after
	// Serve returns.
	Close() error
}
