package advisor

import (
	"context"
	"time"

	"github.com/superego-ai/superego/internal/domain/decision"
	"github.com/superego-ai/superego/internal/domain/request"
	"github.com/superego-ai/superego/internal/domain/rule"
	"github.com/superego-ai/superego/internal/port/outbound"
)

// MockProvider is a deterministic advisor for tests and offline
// development. By default it allows everything; verdicts can be scripted
// per tool name.
type MockProvider struct {
	verdicts map[string]decision.AdvisorVerdict
	fallback decision.AdvisorVerdict
	err      error
	delay    time.Duration
}

var _ outbound.AdvisorProvider = (*MockProvider)(nil)

// MockOption configures a MockProvider.
type MockOption func(*MockProvider)

// WithVerdictFor scripts the verdict returned for one tool name.
func WithVerdictFor(tool string, v decision.AdvisorVerdict) MockOption {
	return func(m *MockProvider) {
		m.verdicts[tool] = v
	}
}

// WithFallback replaces the default allow verdict.
func WithFallback(v decision.AdvisorVerdict) MockOption {
	return func(m *MockProvider) {
		m.fallback = v
	}
}

// WithError makes every consultation fail with err.
func WithError(err error) MockOption {
	return func(m *MockProvider) {
		m.err = err
	}
}

// WithDelay makes each consultation take at least d, for timeout and
// concurrency tests.
func WithDelay(d time.Duration) MockOption {
	return func(m *MockProvider) {
		m.delay = d
	}
}

// NewMockProvider creates a deterministic mock advisor.
func NewMockProvider(opts ...MockOption) *MockProvider {
	m := &MockProvider{
		verdicts: make(map[string]decision.AdvisorVerdict),
		fallback: decision.AdvisorVerdict{
			Decision:   decision.ActionAllow,
			Reason:     "mock advisor approval",
			Confidence: 0.9,
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Name implements outbound.AdvisorProvider.
func (m *MockProvider) Name() string { return "mock" }

// Model implements outbound.AdvisorProvider.
func (m *MockProvider) Model() string { return "scripted" }

// Consult returns the scripted verdict for the request's tool, or the
// fallback. Honors context cancellation during the configured delay.
func (m *MockProvider) Consult(ctx context.Context, req *request.ToolRequest, _ *rule.SecurityRule) (*decision.AdvisorVerdict, error) {
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, decision.NewAdvisorError(ctx.Err(), true)
		}
	}
	if m.err != nil {
		return nil, decision.NewAdvisorError(m.err, true)
	}
	if v, ok := m.verdicts[req.ToolName]; ok {
		out := v
		return &out, nil
	}
	out := m.fallback
	return &out, nil
}
