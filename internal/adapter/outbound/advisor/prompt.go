// Package advisor implements the AI advisor providers consulted for
// sampled requests: the Anthropic-backed provider and a deterministic
// mock for tests and offline development.
package advisor

import (
	"encoding/json"
	"strings"

	"github.com/superego-ai/superego/internal/domain/request"
	"github.com/superego-ai/superego/internal/domain/rule"
)

// systemPrompt frames the advisor's role and pins the response contract.
const systemPrompt = `You are a security reviewer for AI coding agent tool requests. ` +
	`A policy rule flagged the request below for review. Judge whether executing it is safe.

Respond with a single JSON object and nothing else:
{"decision": "allow" or "deny", "reason": "<one sentence>", "confidence": <0.0-1.0>, "risk_factors": ["<short tag>", ...]}

Deny when uncertain. Never include markdown fences or commentary.`

// BuildPrompt renders one sampled request for the advisor. The output is
// deterministic: fixed section order and canonical JSON (sorted keys) for
// parameters, so equal requests produce identical bytes and cache cleanly.
// The request timestamp is deliberately omitted.
func BuildPrompt(req *request.ToolRequest, matched *rule.SecurityRule) string {
	var b strings.Builder

	b.WriteString("Tool: ")
	b.WriteString(req.ToolName)
	b.WriteString("\n\nParameters:\n")
	b.WriteString(canonicalParameters(req.Parameters))

	b.WriteString("\n\nAgent: ")
	b.WriteString(req.AgentID)
	b.WriteString("\nSession: ")
	b.WriteString(req.SessionID)
	b.WriteString("\nWorking directory: ")
	b.WriteString(req.CWD)

	if matched != nil {
		b.WriteString("\n\nPolicy concern (rule ")
		b.WriteString(matched.ID)
		b.WriteString("): ")
		b.WriteString(matched.Reason)
		if matched.SampleGuidance != "" {
			b.WriteString("\nGuidance: ")
			b.WriteString(matched.SampleGuidance)
		}
	}

	b.WriteString("\n\nReply with the JSON verdict object only.")
	return b.String()
}

// canonicalParameters renders parameters as indented JSON. encoding/json
// sorts map keys, which is what makes the rendering canonical.
func canonicalParameters(params map[string]any) string {
	if len(params) == 0 {
		return "{}"
	}
	data, err := json.MarshalIndent(params, "", "  ")
	if err != nil {
		// Sanitized parameters are JSON-shaped; this is unreachable for
		// requests that passed Normalize.
		return "{}"
	}
	return string(data)
}
