// Package outbound defines the outbound port interfaces for services the
// decision core depends on.
package outbound

import (
	"context"

	"github.com/superego-ai/superego/internal/domain/decision"
	"github.com/superego-ai/superego/internal/domain/request"
	"github.com/superego-ai/superego/internal/domain/rule"
)

// AdvisorProvider is the outbound port for AI-driven verdicts on sampled
// requests. Adapters implement this per model provider.
type AdvisorProvider interface {
	// Consult asks the provider to judge one tool request. The matched
	// sample rule supplies reason and guidance text for the prompt.
	// Errors should be wrapped in *decision.AdvisorError so the caller
	// can separate transient transport failures (retryable) from
	// terminal ones.
	Consult(ctx context.Context, req *request.ToolRequest, matched *rule.SecurityRule) (*decision.AdvisorVerdict, error)

	// Name identifies the provider ("anthropic", "mock") for audit
	// entries and health reports.
	Name() string

	// Model identifies the backing model.
	Model() string
}

// RuleSource provides the active rule snapshot. The engine reads a
// snapshot once per request; reloads swap the snapshot atomically.
type RuleSource interface {
	// Snapshot returns the current rule set. Nil until the first
	// successful load.
	Snapshot() *rule.RuleSet

	// Status describes the source for health reporting: path, rule
	// count, last load error.
	Status() (path string, lastErr error)
}
