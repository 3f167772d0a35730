// Package request defines the inbound tool-request model and its sanitizer.
// Every transport adapter funnels caller input through this package before
// the decision engine sees it.
package request

import (
	"fmt"
	"time"
)

// MaxToolNameLength is the maximum allowed length for tool names.
const MaxToolNameLength = 128

// ToolRequest describes what a caller wants to do: invoke a named tool with
// a set of parameters. Instances that survive Normalize are byte-safe to
// render into audit logs and AI prompts.
type ToolRequest struct {
	// ToolName identifies the capability being invoked (Read, Write, Bash, ...).
	// Restricted to letters, digits, underscore, hyphen, and dot.
	ToolName string `json:"tool_name"`

	// Parameters maps parameter names to JSON-like values: scalars,
	// ordered lists, and nested mappings.
	Parameters map[string]any `json:"parameters,omitempty"`

	// AgentID and SessionID are opaque correlation tokens. Required.
	AgentID   string `json:"agent_id"`
	SessionID string `json:"session_id"`

	// CWD is the working directory the agent is operating in.
	CWD string `json:"cwd"`

	// Timestamp is the ingress instant. Server-assigned if the caller
	// omits it.
	Timestamp time.Time `json:"timestamp"`
}

// Clone returns a deep copy of the request. Parameter values are copied
// recursively so the copy can be mutated (e.g. redacted for audit) without
// affecting the original.
func (r *ToolRequest) Clone() *ToolRequest {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Parameters = cloneValue(r.Parameters).(map[string]any)
	return &cp
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(val))
		for k, item := range val {
			m[k] = cloneValue(item)
		}
		return m
	case []any:
		l := make([]any, len(val))
		for i, item := range val {
			l[i] = cloneValue(item)
		}
		return l
	default:
		return v
	}
}

// ValidationError reports a request that failed normalization. The message
// is safe to surface to callers; it never contains parameter values.
type ValidationError struct {
	// Field names the offending request field.
	Field string

	// Message is a short, client-facing description.
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid request: %s: %s", e.Field, e.Message)
}

// NewValidationError creates a ValidationError for the given field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}
