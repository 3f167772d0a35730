package advisor

import (
	"strings"
	"testing"

	"github.com/superego-ai/superego/internal/domain/decision"
)

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		want    *decision.AdvisorVerdict
		wantErr bool
	}{
		{
			name: "clean object",
			text: `{"decision":"allow","reason":"looks safe","confidence":0.8,"risk_factors":["write"]}`,
			want: &decision.AdvisorVerdict{
				Decision:    decision.ActionAllow,
				Reason:      "looks safe",
				Confidence:  0.8,
				RiskFactors: []string{"write"},
			},
		},
		{
			name: "fenced object",
			text: "```json\n{\"decision\":\"deny\",\"reason\":\"secrets\",\"confidence\":1}\n```",
			want: &decision.AdvisorVerdict{
				Decision:   decision.ActionDeny,
				Reason:     "secrets",
				Confidence: 1,
			},
		},
		{
			name: "object inside prose",
			text: `Here is my verdict: {"decision":"deny","reason":"rm -rf","confidence":0.95} Hope that helps.`,
			want: &decision.AdvisorVerdict{
				Decision:   decision.ActionDeny,
				Reason:     "rm -rf",
				Confidence: 0.95,
			},
		},
		{
			name: "confidence clamped",
			text: `{"decision":"allow","reason":"ok","confidence":7.5}`,
			want: &decision.AdvisorVerdict{
				Decision:   decision.ActionAllow,
				Reason:     "ok",
				Confidence: 1,
			},
		},
		{
			name: "negative confidence clamped",
			text: `{"decision":"allow","reason":"ok","confidence":-2}`,
			want: &decision.AdvisorVerdict{
				Decision:   decision.ActionAllow,
				Reason:     "ok",
				Confidence: 0,
			},
		},
		{
			name:    "empty response",
			text:    "   ",
			wantErr: true,
		},
		{
			name:    "no json at all",
			text:    "I think this is fine.",
			wantErr: true,
		},
		{
			name:    "invalid json object",
			text:    `{"decision": allow}`,
			wantErr: true,
		},
		{
			name:    "sample decision rejected",
			text:    `{"decision":"sample","reason":"punt","confidence":0.5}`,
			wantErr: true,
		},
		{
			name:    "missing reason rejected",
			text:    `{"decision":"deny","confidence":0.5}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseVerdict(tt.text)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseVerdict(%q) expected error, got %+v", tt.text, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseVerdict(%q) error: %v", tt.text, err)
			}
			if got.Decision != tt.want.Decision ||
				got.Reason != tt.want.Reason ||
				got.Confidence != tt.want.Confidence {
				t.Errorf("ParseVerdict() = %+v, want %+v", got, tt.want)
			}
			if len(tt.want.RiskFactors) > 0 && len(got.RiskFactors) != len(tt.want.RiskFactors) {
				t.Errorf("RiskFactors = %v, want %v", got.RiskFactors, tt.want.RiskFactors)
			}
		})
	}
}

func TestParseVerdict_ReasonTruncated(t *testing.T) {
	long := strings.Repeat("x", decision.MaxAdvisorReasonBytes+500)
	got, err := ParseVerdict(`{"decision":"deny","reason":"` + long + `","confidence":1}`)
	if err != nil {
		t.Fatalf("ParseVerdict() error: %v", err)
	}
	if len(got.Reason) != decision.MaxAdvisorReasonBytes {
		t.Errorf("reason length = %d, want %d", len(got.Reason), decision.MaxAdvisorReasonBytes)
	}
}
