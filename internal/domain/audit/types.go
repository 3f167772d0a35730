// Package audit contains domain types for the decision audit trail.
package audit

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/superego-ai/superego/internal/domain/decision"
	"github.com/superego-ai/superego/internal/domain/request"
)

// Transport constants identify which inbound surface carried a request.
const (
	TransportStdio     = "stdio"
	TransportHTTP      = "http"
	TransportWebSocket = "websocket"
)

// Entry is one audited evaluation: the sanitized request, the decision
// served for it, and where it came from. Written before the decision
// is returned to the caller.
type Entry struct {
	// ID uniquely identifies the entry.
	ID string `json:"id"`
	// Timestamp is when the decision was served, UTC.
	Timestamp time.Time `json:"timestamp"`
	// Transport is stdio, http, or websocket.
	Transport string `json:"transport"`
	// Source records what produced the decision (rule, advisor,
	// advisor_cache, default, fail_mode).
	Source string `json:"source"`
	// Request is the evaluated request with sensitive parameter
	// values redacted.
	Request request.ToolRequest `json:"request"`
	// Decision is the verdict as served to the caller.
	Decision decision.Decision `json:"decision"`
	// RuleMatches lists the ids of rules that matched during the scan.
	// First-match-wins evaluation stops at the winning rule, so this
	// holds at most one id; it is empty when the fail-closed default
	// applied.
	RuleMatches []string `json:"rule_matches"`
}

// NewEntry builds an audit entry for a served decision. Parameters are
// redacted on a copy; the caller's request is not modified.
func NewEntry(req *request.ToolRequest, dec *decision.Decision, transport string) *Entry {
	redacted := req.Clone()
	redacted.Parameters = RedactParameters(redacted.Parameters)

	matches := []string{}
	if dec.RuleID != "" {
		matches = append(matches, dec.RuleID)
	}

	return &Entry{
		ID:          uuid.NewString(),
		Timestamp:   time.Now().UTC(),
		Transport:   transport,
		Source:      string(dec.Source),
		Request:     *redacted,
		Decision:    *dec,
		RuleMatches: matches,
	}
}

// redactedPlaceholder replaces sensitive parameter values.
const redactedPlaceholder = "***REDACTED***"

// sensitiveKeywords lists substrings that mark a parameter key as
// sensitive. Comparison is case-insensitive.
var sensitiveKeywords = []string{
	"password", "secret", "token", "api_key", "apikey",
	"credential", "auth", "private_key", "privatekey",
}

// RedactParameters returns a copy of params with sensitive values
// masked at every nesting depth. Keys are matched case-insensitively
// against sensitiveKeywords; list elements are scanned for nested maps.
func RedactParameters(params map[string]any) map[string]any {
	if len(params) == 0 {
		return params
	}
	redacted := make(map[string]any, len(params))
	for k, v := range params {
		if isSensitiveKey(k) {
			redacted[k] = redactedPlaceholder
			continue
		}
		redacted[k] = redactValue(v)
	}
	return redacted
}

func redactValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return RedactParameters(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = redactValue(item)
		}
		return out
	default:
		return v
	}
}

// isSensitiveKey checks if a key name indicates sensitive data.
func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, kw := range sensitiveKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
