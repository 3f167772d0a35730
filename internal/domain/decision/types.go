// Package decision defines the engine's verdict types and the stable error
// taxonomy surfaced to transports.
package decision

// Action is the verdict for a tool request.
type Action string

const (
	// ActionAllow permits the tool request.
	ActionAllow Action = "allow"

	// ActionDeny blocks the tool request.
	ActionDeny Action = "deny"

	// ActionSample defers the verdict to the AI advisor. Internal to rules:
	// an externally returned Decision never carries it.
	ActionSample Action = "sample"
)

// Source records what produced a Decision. Used for metrics and audit,
// never serialized to callers.
type Source string

const (
	// SourceRule marks a rule-driven allow/deny.
	SourceRule Source = "rule"
	// SourceAdvisor marks an AI-driven verdict from a live advisor call.
	SourceAdvisor Source = "advisor"
	// SourceAdvisorCache marks an AI-driven verdict served from the cache.
	SourceAdvisorCache Source = "advisor_cache"
	// SourceDefault marks the fail-closed default (no rule matched).
	SourceDefault Source = "default"
	// SourceFailMode marks a verdict produced by the sample failure mode.
	SourceFailMode Source = "fail_mode"
)

// DefaultDenyReason is the stable reason for the fail-closed default.
const DefaultDenyReason = "no matching rule"

// AllowedByRuleReason is used when an allow rule carries no reason.
const AllowedByRuleReason = "allowed by rule"

// MaxAdvisorReasonBytes bounds advisor-supplied reasons before they are
// surfaced to callers.
const MaxAdvisorReasonBytes = 1024

// Decision is the externally visible verdict for one tool request.
// Its JSON form is identical across all transports.
type Decision struct {
	// Action is allow or deny. Sample resolves before this point.
	Action Action `json:"action"`

	// Reason explains the verdict. Always present.
	Reason string `json:"reason"`

	// RuleID names the rule that produced the verdict, empty when the
	// fail-closed default applied.
	RuleID string `json:"rule_id"`

	// Confidence is in [0,1]: 1.0 for rule-driven verdicts,
	// advisor-supplied (clamped) for AI-driven ones, 0.0 when the verdict
	// comes from a failure path.
	Confidence float64 `json:"confidence"`

	// ProcessingTimeMs measures wall time from snapshot to just before the
	// audit write.
	ProcessingTimeMs int64 `json:"processing_time_ms"`

	// AIProvider and AIModel identify the advisor for AI-driven decisions.
	AIProvider string `json:"ai_provider,omitempty"`
	AIModel    string `json:"ai_model,omitempty"`

	// RiskFactors are short advisor-supplied tags.
	RiskFactors []string `json:"risk_factors,omitempty"`

	// Source tracks provenance for metrics and audit.
	Source Source `json:"-"`
}

// AdvisorVerdict is the structured response an advisor returns for a
// sampled request.
type AdvisorVerdict struct {
	// Decision must be allow or deny; advisors never sample.
	Decision Action `json:"decision"`

	// Reason is the advisor's justification, surfaced verbatim (truncated).
	Reason string `json:"reason"`

	// Confidence is the advisor's self-reported confidence in [0,1].
	Confidence float64 `json:"confidence"`

	// RiskFactors are short tags naming what the advisor found.
	RiskFactors []string `json:"risk_factors,omitempty"`
}

// Valid reports whether the verdict is structurally usable: a binary
// decision with a reason.
func (v *AdvisorVerdict) Valid() bool {
	if v == nil {
		return false
	}
	return (v.Decision == ActionAllow || v.Decision == ActionDeny) && v.Reason != ""
}

// ClampConfidence forces c into [0,1]. NaN collapses to 0.
func ClampConfidence(c float64) float64 {
	if c != c || c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// TruncateReason bounds a reason string to MaxAdvisorReasonBytes, cutting
// at a rune boundary so the result stays valid UTF-8.
func TruncateReason(s string) string {
	if len(s) <= MaxAdvisorReasonBytes {
		return s
	}
	cut := MaxAdvisorReasonBytes
	for cut > 0 && s[cut]&0xC0 == 0x80 {
		cut--
	}
	return s[:cut]
}
