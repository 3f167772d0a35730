package service

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/superego-ai/superego/internal/ctxkey"
	"github.com/superego-ai/superego/internal/domain/audit"
	"github.com/superego-ai/superego/internal/domain/decision"
	"github.com/superego-ai/superego/internal/domain/request"
	"github.com/superego-ai/superego/internal/telemetry"
)

// AuditRecorder writes one audit entry per decision, synchronously,
// before the decision is returned. Writes are best-effort: a failed
// write is logged and counted but never blocks or alters the decision.
type AuditRecorder struct {
	store    audit.Store
	logger   *slog.Logger
	metrics  *telemetry.Metrics
	failures atomic.Int64
}

// RecorderOption configures an AuditRecorder.
type RecorderOption func(*AuditRecorder)

// WithRecorderMetrics wires the audit failure counter.
func WithRecorderMetrics(m *telemetry.Metrics) RecorderOption {
	return func(r *AuditRecorder) {
		r.metrics = m
	}
}

// NewAuditRecorder creates a recorder over the given store.
func NewAuditRecorder(store audit.Store, logger *slog.Logger, opts ...RecorderOption) *AuditRecorder {
	r := &AuditRecorder{
		store:  store,
		logger: logger.With("component", "audit"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record persists the decision trail entry for one evaluation.
func (r *AuditRecorder) Record(ctx context.Context, req *request.ToolRequest, dec *decision.Decision, transport string) {
	entry := audit.NewEntry(req, dec, transport)
	if err := r.store.Append(ctx, entry); err != nil {
		r.failures.Add(1)
		if r.metrics != nil {
			r.metrics.AuditFailures.Inc()
		}
		logger := ctxkey.LoggerFrom(ctx, r.logger)
		logger.Error("audit write failed",
			"entry_id", entry.ID,
			"tool", req.ToolName,
			"error", err,
		)
	}
}

// Failures returns how many writes have failed since start.
func (r *AuditRecorder) Failures() int64 {
	return r.failures.Load()
}

// Close flushes and closes the underlying store.
func (r *AuditRecorder) Close() error {
	return r.store.Close()
}
