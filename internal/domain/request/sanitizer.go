package request

import (
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// toolNamePattern restricts tool names to letters, digits, underscore,
// hyphen, and dot.
var toolNamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// Normalize validates req and sanitizes its parameters in place. It returns
// a *ValidationError when a required field is missing or malformed.
// Sanitization is lossy: null bytes and CR characters are stripped from
// string values, and null bytes plus ".." segments are stripped from
// mapping keys. Applying Normalize twice yields the same result.
func Normalize(req *ToolRequest) error {
	if req == nil {
		return NewValidationError("request", "missing request body")
	}

	if req.ToolName == "" {
		return NewValidationError("tool_name", "required")
	}
	if len(req.ToolName) > MaxToolNameLength {
		return NewValidationError("tool_name", "exceeds maximum length")
	}
	if !toolNamePattern.MatchString(req.ToolName) {
		return NewValidationError("tool_name", "contains invalid characters")
	}

	if req.AgentID == "" {
		return NewValidationError("agent_id", "required")
	}
	if req.SessionID == "" {
		return NewValidationError("session_id", "required")
	}

	if req.CWD == "" {
		return NewValidationError("cwd", "required")
	}
	if !filepath.IsAbs(req.CWD) {
		return NewValidationError("cwd", "must be an absolute path")
	}

	if req.Timestamp.IsZero() {
		req.Timestamp = time.Now().UTC()
	}

	if req.Parameters != nil {
		req.Parameters = sanitizeMap(req.Parameters)
	}

	return nil
}

// sanitizeMap sanitizes keys and recursively sanitizes values.
// A fresh map is returned because key sanitization can change keys.
func sanitizeMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[sanitizeKey(k)] = sanitizeValue(v)
	}
	return out
}

// sanitizeKey strips null bytes and path-escape ".." segments from a
// mapping key.
func sanitizeKey(k string) string {
	k = strings.ReplaceAll(k, "\x00", "")
	k = strings.ReplaceAll(k, "..", "")
	return k
}

// sanitizeValue strips null bytes and CR characters from string leaves.
// Lists and nested mappings are traversed; list order is preserved because
// it is significant for command arguments.
func sanitizeValue(v any) any {
	switch val := v.(type) {
	case string:
		val = strings.ReplaceAll(val, "\x00", "")
		return strings.ReplaceAll(val, "\r", "")
	case map[string]any:
		return sanitizeMap(val)
	case []any:
		for i, item := range val {
			val[i] = sanitizeValue(item)
		}
		return val
	default:
		// Numbers, booleans, nil pass through untouched.
		return v
	}
}
