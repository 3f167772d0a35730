package cel

import (
	"path/filepath"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/ext"

	"github.com/superego-ai/superego/internal/domain/request"
)

// newRequestEnvironment creates a CEL environment exposing the tool
// request to rule expressions. It includes:
//   - Variables: tool_name, parameters, agent_id, session_id, cwd, request_time
//   - Custom functions: glob, param, param_contains
func newRequestEnvironment() (*cel.Env, error) {
	return cel.NewEnv(
		// Standard extensions
		ext.Strings(),
		ext.Sets(),

		cel.Variable("tool_name", cel.StringType),
		cel.Variable("parameters", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("agent_id", cel.StringType),
		cel.Variable("session_id", cel.StringType),
		cel.Variable("cwd", cel.StringType),
		cel.Variable("request_time", cel.TimestampType),

		// glob: shell-style pattern matching.
		// Usage: glob("Bash*", tool_name)
		cel.Function("glob",
			cel.Overload("glob_string_string",
				[]*cel.Type{cel.StringType, cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(func(pattern, name ref.Val) ref.Val {
					p := pattern.Value().(string)
					n := name.Value().(string)
					matched, _ := filepath.Match(p, n)
					return types.Bool(matched)
				}),
			),
		),

		// param: extract a parameter by key, null when absent.
		// Usage: param(parameters, "command")
		cel.Function("param",
			cel.Overload("param_map_string",
				[]*cel.Type{cel.MapType(cel.StringType, cel.DynType), cel.StringType},
				cel.DynType,
				cel.BinaryBinding(func(mapVal, keyVal ref.Val) ref.Val {
					key := keyVal.Value().(string)
					if m, ok := mapVal.Value().(map[ref.Val]ref.Val); ok {
						if v, found := m[types.String(key)]; found {
							return v
						}
						return types.NullValue
					}
					if goMap, ok := mapVal.Value().(map[string]any); ok {
						if v, found := goMap[key]; found {
							return types.DefaultTypeAdapter.NativeToValue(v)
						}
					}
					return types.NullValue
				}),
			),
		),

		// param_contains: true when any string parameter value contains
		// the substring.
		// Usage: param_contains(parameters, "--force")
		cel.Function("param_contains",
			cel.Overload("param_contains_map_string",
				[]*cel.Type{cel.MapType(cel.StringType, cel.DynType), cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(func(mapVal, substrVal ref.Val) ref.Val {
					substr := substrVal.Value().(string)
					goVal := mapVal.Value()
					if goMap, ok := goVal.(map[string]any); ok {
						for _, v := range goMap {
							if s, ok := v.(string); ok && strings.Contains(s, substr) {
								return types.Bool(true)
							}
						}
					}
					if refMap, ok := goVal.(map[ref.Val]ref.Val); ok {
						for _, v := range refMap {
							if s, ok := v.Value().(string); ok && strings.Contains(s, substr) {
								return types.Bool(true)
							}
						}
					}
					return types.Bool(false)
				}),
			),
		),
	)
}

// buildActivation creates the CEL activation map for one request.
// Parameters is never nil so expressions can index it without guards.
func buildActivation(req *request.ToolRequest) map[string]any {
	params := req.Parameters
	if params == nil {
		params = map[string]any{}
	}

	return map[string]any{
		"tool_name":    req.ToolName,
		"parameters":   params,
		"agent_id":     req.AgentID,
		"session_id":   req.SessionID,
		"cwd":          req.CWD,
		"request_time": req.Timestamp,
	}
}
