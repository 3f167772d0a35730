package service

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/superego-ai/superego/internal/ctxkey"
	"github.com/superego-ai/superego/internal/domain/decision"
	"github.com/superego-ai/superego/internal/domain/request"
	"github.com/superego-ai/superego/internal/port/inbound"
	"github.com/superego-ai/superego/internal/port/outbound"
	"github.com/superego-ai/superego/internal/telemetry"
)

// ruleErrorReason is returned when a predicate fails at runtime. The
// engine fails closed and never leaks evaluator internals to callers.
const ruleErrorReason = "rule evaluation error"

// Engine evaluates tool requests against the active rule set. It is the
// single decision path shared by every transport.
type Engine struct {
	rules    outbound.RuleSource
	advisor  *AdvisorService
	recorder *AuditRecorder
	logger   *slog.Logger
	metrics  *telemetry.Metrics
	tracer   trace.Tracer
}

var _ inbound.Evaluator = (*Engine)(nil)

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithEngineMetrics wires decision counters and latency histograms.
func WithEngineMetrics(m *telemetry.Metrics) EngineOption {
	return func(e *Engine) {
		e.metrics = m
	}
}

// NewEngine creates the decision engine. advisor handles sampled
// requests and may be a provider-less service; recorder persists audit
// entries and must not be nil.
func NewEngine(rules outbound.RuleSource, advisor *AdvisorService, recorder *AuditRecorder, logger *slog.Logger, opts ...EngineOption) *Engine {
	e := &Engine{
		rules:    rules,
		advisor:  advisor,
		recorder: recorder,
		logger:   logger.With("component", "engine"),
		tracer:   telemetry.Tracer("superego/engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate normalizes the request, scans the active rule set in priority
// order, resolves sampling through the advisor, and records an audit
// entry before returning. Exactly one decision comes back for every
// well-formed request; malformed requests return *decision.Error.
func (e *Engine) Evaluate(ctx context.Context, req *request.ToolRequest, transport string) (*decision.Decision, error) {
	start := time.Now()

	ctx, span := e.tracer.Start(ctx, "engine.evaluate",
		trace.WithAttributes(attribute.String("tool.name", req.ToolName)),
	)
	defer span.End()

	if err := request.Normalize(req); err != nil {
		return nil, decision.NewError(decision.CodeValidation, err.Error())
	}

	dec := e.decide(ctx, req)
	dec.ProcessingTimeMs = time.Since(start).Milliseconds()

	span.SetAttributes(
		attribute.String("decision.action", string(dec.Action)),
		attribute.String("decision.source", string(dec.Source)),
		attribute.String("decision.rule_id", dec.RuleID),
	)

	if e.metrics != nil {
		e.metrics.DecisionsTotal.WithLabelValues(string(dec.Action), string(dec.Source)).Inc()
		e.metrics.EvaluationDuration.Observe(time.Since(start).Seconds())
	}

	e.recorder.Record(ctx, req, dec, transport)

	logger := ctxkey.LoggerFrom(ctx, e.logger)
	logger.Info("decision",
		"tool", req.ToolName,
		"action", dec.Action,
		"rule_id", dec.RuleID,
		"source", dec.Source,
		"duration_ms", dec.ProcessingTimeMs,
	)

	return dec, nil
}

// decide runs first-match evaluation over a point-in-time snapshot of
// the rule set. A reload mid-request never mixes rule sets.
func (e *Engine) decide(ctx context.Context, req *request.ToolRequest) *decision.Decision {
	snapshot := e.rules.Snapshot()
	if snapshot == nil || snapshot.Empty() {
		return &decision.Decision{
			Action:     decision.ActionDeny,
			Reason:     decision.DefaultDenyReason,
			Confidence: 1.0,
			Source:     decision.SourceDefault,
		}
	}

	for _, cr := range snapshot.Rules {
		matched, err := cr.Eval(ctx, req)
		if err != nil {
			logger := ctxkey.LoggerFrom(ctx, e.logger)
			logger.Error("rule predicate failed",
				"rule_id", cr.Rule.ID,
				"tool", req.ToolName,
				"error", err,
			)
			return &decision.Decision{
				Action:     decision.ActionDeny,
				Reason:     ruleErrorReason,
				RuleID:     cr.Rule.ID,
				Confidence: 0,
				Source:     decision.SourceRule,
			}
		}
		if !matched {
			continue
		}

		switch cr.Rule.Action {
		case decision.ActionAllow, decision.ActionDeny:
			return &decision.Decision{
				Action:     cr.Rule.Action,
				Reason:     ruleReason(cr.Rule.Reason, cr.Rule.Action),
				RuleID:     cr.Rule.ID,
				Confidence: 1.0,
				Source:     decision.SourceRule,
			}
		case decision.ActionSample:
			return e.advisor.Advise(ctx, req, cr.Rule)
		}
	}

	return &decision.Decision{
		Action:     decision.ActionDeny,
		Reason:     decision.DefaultDenyReason,
		Confidence: 1.0,
		Source:     decision.SourceDefault,
	}
}

// ruleReason fills a stable default when an allow rule omits its reason.
func ruleReason(reason string, action decision.Action) string {
	if reason != "" {
		return reason
	}
	if action == decision.ActionAllow {
		return decision.AllowedByRuleReason
	}
	return "denied by rule"
}
