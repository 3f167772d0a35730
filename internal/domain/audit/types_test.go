package audit

import (
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/superego-ai/superego/internal/domain/decision"
	"github.com/superego-ai/superego/internal/domain/request"
)

func TestRedactParameters_SensitiveKeys(t *testing.T) {
	params := map[string]any{
		"command":     "deploy",
		"api_key":     "sk-live-12345",
		"Password":    "hunter2",
		"gh_token":    "ghp_abc",
		"authHeader":  "Bearer xyz",
		"description": "rotate the api key",
	}

	redacted := RedactParameters(params)

	for _, key := range []string{"api_key", "Password", "gh_token", "authHeader"} {
		if redacted[key] != redactedPlaceholder {
			t.Errorf("expected %q to be redacted, got %v", key, redacted[key])
		}
	}
	if redacted["command"] != "deploy" {
		t.Errorf("non-sensitive value changed: %v", redacted["command"])
	}
	// Sensitive words inside a value are not the same as a sensitive key.
	if redacted["description"] != "rotate the api key" {
		t.Errorf("value content should not trigger redaction: %v", redacted["description"])
	}
}

func TestRedactParameters_NestedStructures(t *testing.T) {
	params := map[string]any{
		"config": map[string]any{
			"timeout": float64(30),
			"secret":  "deep-secret",
		},
		"hosts": []any{
			map[string]any{"name": "db1", "db_password": "pg"},
			"plain-string",
		},
	}

	redacted := RedactParameters(params)

	inner := redacted["config"].(map[string]any)
	if inner["secret"] != redactedPlaceholder {
		t.Errorf("nested sensitive key not redacted: %v", inner["secret"])
	}
	if inner["timeout"] != float64(30) {
		t.Errorf("nested non-sensitive value changed: %v", inner["timeout"])
	}

	host := redacted["hosts"].([]any)[0].(map[string]any)
	if host["db_password"] != redactedPlaceholder {
		t.Errorf("sensitive key inside list element not redacted: %v", host["db_password"])
	}
	if redacted["hosts"].([]any)[1] != "plain-string" {
		t.Error("scalar list element changed")
	}
}

func TestRedactParameters_DoesNotMutateInput(t *testing.T) {
	params := map[string]any{
		"token": "tok-1",
		"inner": map[string]any{"secret": "s"},
	}
	want := map[string]any{
		"token": "tok-1",
		"inner": map[string]any{"secret": "s"},
	}

	RedactParameters(params)

	if !reflect.DeepEqual(params, want) {
		t.Errorf("input mutated: %v", params)
	}
}

func TestRedactParameters_Empty(t *testing.T) {
	if got := RedactParameters(nil); got != nil {
		t.Errorf("expected nil passthrough, got %v", got)
	}
}

func TestNewEntry(t *testing.T) {
	req := &request.ToolRequest{
		ToolName:   "bash",
		AgentID:    "agent-1",
		SessionID:  "sess-1",
		CWD:        "/work",
		Timestamp:  time.Now().UTC(),
		Parameters: map[string]any{"command": "ls", "api_key": "sk-1"},
	}
	dec := &decision.Decision{
		Action:     decision.ActionDeny,
		Reason:     "blocked",
		RuleID:     "deny-all",
		Confidence: 1.0,
		Source:     decision.SourceRule,
	}

	entry := NewEntry(req, dec, TransportHTTP)

	if _, err := uuid.Parse(entry.ID); err != nil {
		t.Errorf("entry id is not a uuid: %q", entry.ID)
	}
	if entry.Transport != TransportHTTP {
		t.Errorf("expected transport %q, got %q", TransportHTTP, entry.Transport)
	}
	if entry.Source != string(decision.SourceRule) {
		t.Errorf("expected source %q, got %q", decision.SourceRule, entry.Source)
	}
	if entry.Request.Parameters["api_key"] != redactedPlaceholder {
		t.Error("entry request parameters should be redacted")
	}
	if req.Parameters["api_key"] != "sk-1" {
		t.Error("caller request must not be modified")
	}
	if entry.Decision.RuleID != "deny-all" {
		t.Errorf("decision not carried: %+v", entry.Decision)
	}
	if len(entry.RuleMatches) != 1 || entry.RuleMatches[0] != "deny-all" {
		t.Errorf("rule_matches = %v, want [deny-all]", entry.RuleMatches)
	}
	if time.Since(entry.Timestamp) > time.Minute || entry.Timestamp.Location() != time.UTC {
		t.Errorf("timestamp not stamped in UTC now: %v", entry.Timestamp)
	}
}

func TestNewEntry_DefaultDenyHasNoMatches(t *testing.T) {
	req := &request.ToolRequest{
		ToolName:  "bash",
		AgentID:   "agent-1",
		SessionID: "sess-1",
		CWD:       "/work",
		Timestamp: time.Now().UTC(),
	}
	dec := &decision.Decision{
		Action:     decision.ActionDeny,
		Reason:     decision.DefaultDenyReason,
		Confidence: 1.0,
		Source:     decision.SourceDefault,
	}

	entry := NewEntry(req, dec, TransportStdio)

	if entry.RuleMatches == nil {
		t.Fatal("rule_matches should marshal as an empty list, not null")
	}
	if len(entry.RuleMatches) != 0 {
		t.Errorf("rule_matches = %v, want empty", entry.RuleMatches)
	}
}
