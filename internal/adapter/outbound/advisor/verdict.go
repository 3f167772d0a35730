package advisor

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/superego-ai/superego/internal/domain/decision"
)

// ParseVerdict extracts the structured verdict from a model response.
// Models occasionally wrap the object in fences or prose despite the
// instructions, so after a direct parse fails the outermost JSON object
// is tried. A payload with no usable verdict is a terminal provider
// fault, not a transport error.
func ParseVerdict(text string) (*decision.AdvisorVerdict, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("empty advisor response")
	}

	var v decision.AdvisorVerdict
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		start := strings.Index(text, "{")
		end := strings.LastIndex(text, "}")
		if start < 0 || end <= start {
			return nil, fmt.Errorf("advisor response contains no JSON object")
		}
		if err := json.Unmarshal([]byte(text[start:end+1]), &v); err != nil {
			return nil, fmt.Errorf("parse advisor verdict: %w", err)
		}
	}

	if !v.Valid() {
		return nil, fmt.Errorf("advisor verdict malformed: decision=%q reason_present=%t", v.Decision, v.Reason != "")
	}

	v.Confidence = decision.ClampConfidence(v.Confidence)
	v.Reason = decision.TruncateReason(v.Reason)
	return &v, nil
}
