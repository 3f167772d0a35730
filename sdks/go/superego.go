// Package superego provides a Go SDK for the Superego decision API.
//
// Superego is an inline security-policy service for AI coding agents. This
// SDK lets Go programs submit tool calls for evaluation before executing
// them. It uses only the Go standard library (net/http) with zero external
// dependencies.
//
// Quick start:
//
//	// Set SUPEREGO_SERVER_ADDR, then:
//	client := superego.NewClient()
//
//	dec, err := client.Evaluate(ctx, superego.Request{
//	    ToolName:   "Bash",
//	    Parameters: map[string]any{"command": "ls -la"},
//	    AgentID:    "agent-1",
//	    SessionID:  "session-1",
//	    CWD:        "/home/dev/project",
//	})
//	if err != nil {
//	    var denied *superego.DeniedError
//	    if errors.As(err, &denied) {
//	        fmt.Printf("Denied by rule %s: %s\n", denied.RuleID, denied.Reason)
//	    }
//	}
package superego

// Action is the outcome of an evaluation.
type Action string

const (
	// ActionAllow indicates the tool call is permitted.
	ActionAllow Action = "allow"

	// ActionDeny indicates the tool call is blocked by policy.
	ActionDeny Action = "deny"
)

// Error codes returned in the server's error envelope.
const (
	// CodeValidation marks a malformed or incomplete request.
	CodeValidation = "VALIDATION"

	// CodeAdvisorUnavailable marks a sampled request the server could
	// not resolve because the AI advisor was unreachable and no failure
	// mode applied.
	CodeAdvisorUnavailable = "ADVISOR_UNAVAILABLE"

	// CodeInternal marks a server-side fault; the message is redacted.
	CodeInternal = "INTERNAL"
)

// Request describes one tool call submitted for evaluation. Fields map to
// the ToolRequest schema on the server side. The server assigns the
// ingress timestamp.
type Request struct {
	// ToolName identifies the capability being invoked (e.g. "Bash",
	// "Write", "Read"). Required.
	ToolName string `json:"tool_name"`

	// Parameters holds the tool call's arguments as key-value pairs.
	Parameters map[string]any `json:"parameters,omitempty"`

	// AgentID identifies the agent making the call. Required.
	AgentID string `json:"agent_id"`

	// SessionID correlates calls within one agent session. Required.
	SessionID string `json:"session_id"`

	// CWD is the working directory the agent is operating in.
	CWD string `json:"cwd"`
}

// Decision is the verdict the server returns for one request.
type Decision struct {
	// Action is "allow" or "deny".
	Action Action `json:"action"`

	// Reason explains the verdict. Always present.
	Reason string `json:"reason"`

	// RuleID names the rule that produced the verdict; empty when the
	// server's fail-closed default applied.
	RuleID string `json:"rule_id"`

	// Confidence is in [0,1]: 1.0 for rule-driven verdicts,
	// advisor-supplied for AI-driven ones, 0.0 for failure-path verdicts.
	Confidence float64 `json:"confidence"`

	// ProcessingTimeMs is the server-side evaluation latency.
	ProcessingTimeMs int64 `json:"processing_time_ms"`

	// AIProvider and AIModel identify the advisor for AI-driven
	// decisions; empty otherwise.
	AIProvider string `json:"ai_provider,omitempty"`
	AIModel    string `json:"ai_model,omitempty"`

	// RiskFactors are short advisor-supplied tags.
	RiskFactors []string `json:"risk_factors,omitempty"`
}

// Health is the component report from GET /health.
type Health struct {
	// Status is "healthy", "degraded", or "unhealthy".
	Status string `json:"status"`

	// Version is the server build version.
	Version string `json:"version,omitempty"`

	// UptimeSeconds is how long the server has been running.
	UptimeSeconds int64 `json:"uptime_seconds"`

	// RuleStore reports the rule file's load state.
	RuleStore RuleStoreHealth `json:"rule_store"`

	// Advisor reports the AI advisor's state.
	Advisor AdvisorHealth `json:"advisor"`

	// Transports reports each registered transport's running state.
	Transports []TransportHealth `json:"transports,omitempty"`

	// Timestamp is when the report was generated (RFC 3339).
	Timestamp string `json:"timestamp"`
}

// RuleStoreHealth reports the rule file's load state.
type RuleStoreHealth struct {
	// Healthy is true when a rule snapshot is loaded.
	Healthy bool `json:"healthy"`

	// RuleCount is the number of rules in the active snapshot.
	RuleCount int `json:"rule_count"`

	// Path is the rules file path.
	Path string `json:"path"`

	// LastError is the most recent load failure, if any.
	LastError string `json:"last_error,omitempty"`
}

// AdvisorHealth reports the AI advisor's state.
type AdvisorHealth struct {
	// Configured is true when an advisor provider is wired.
	Configured bool `json:"configured"`

	// Provider and Model identify the advisor backend.
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`

	// BreakerState is the circuit breaker state ("closed", "open",
	// "half-open").
	BreakerState string `json:"breaker_state,omitempty"`

	// CacheEntries is the number of cached advisor verdicts.
	CacheEntries int `json:"cache_entries"`
}

// TransportHealth reports one transport's running state.
type TransportHealth struct {
	// Name is "stdio", "http", or "websocket".
	Name string `json:"name"`

	// Running is true while the transport accepts requests.
	Running bool `json:"running"`
}
