package rule

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/superego-ai/superego/internal/domain/request"
)

// Eval evaluates the condition tree against a request. Field matches on
// absent fields are false (true for not_equals); a runtime error from a
// cel program propagates so the engine can fail closed.
func (c *Condition) Eval(ctx context.Context, req *request.ToolRequest) (bool, error) {
	switch c.Kind {
	case KindField:
		return c.evalFieldMatch(req), nil

	case KindAllOf:
		for _, child := range c.AllOf {
			ok, err := child.Eval(ctx, req)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil

	case KindAnyOf:
		for _, child := range c.AnyOf {
			ok, err := child.Eval(ctx, req)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil

	case KindNot:
		ok, err := c.Not.Eval(ctx, req)
		if err != nil {
			return false, err
		}
		return !ok, nil

	case KindCEL:
		if c.prog == nil {
			return false, fmt.Errorf("cel condition was not compiled")
		}
		return c.prog.Eval(ctx, req)
	}

	return false, fmt.Errorf("malformed condition node")
}

func (c *Condition) evalFieldMatch(req *request.ToolRequest) bool {
	val, present := resolveField(req, c.Field)
	if !present {
		// Absent fields never match, except that not_equals is
		// vacuously true: the field does not equal the value.
		return c.Op == OpNotEquals
	}

	switch c.Op {
	case OpEquals:
		return scalarEq(val, c.Value)
	case OpNotEquals:
		return !scalarEq(val, c.Value)
	case OpMatches:
		s, ok := scalarString(val)
		return ok && c.re.MatchString(s)
	case OpContains:
		s, ok := scalarString(val)
		return ok && strings.Contains(s, c.Value.(string))
	case OpStartsWith:
		s, ok := scalarString(val)
		return ok && strings.HasPrefix(s, c.Value.(string))
	case OpEndsWith:
		s, ok := scalarString(val)
		return ok && strings.HasSuffix(s, c.Value.(string))
	case OpIn:
		for _, candidate := range c.Value.([]any) {
			if scalarEq(val, candidate) {
				return true
			}
		}
		return false
	case OpGT:
		lhs, ok := coerceFloat(val)
		if !ok {
			return false
		}
		rhs, _ := coerceFloat(c.Value)
		return lhs > rhs
	case OpLT:
		lhs, ok := coerceFloat(val)
		if !ok {
			return false
		}
		rhs, _ := coerceFloat(c.Value)
		return lhs < rhs
	}

	return false
}

// resolveField extracts a field value from the request. Parameter paths
// use dotted traversal through nested maps; a path that crosses a
// non-map or a missing key reports absent.
func resolveField(req *request.ToolRequest, field string) (any, bool) {
	switch field {
	case "tool_name":
		return req.ToolName, true
	case "agent_id":
		return req.AgentID, true
	case "session_id":
		return req.SessionID, true
	case "cwd":
		return req.CWD, true
	}

	path, ok := strings.CutPrefix(field, "parameters.")
	if !ok {
		return nil, false
	}

	var cur any = req.Parameters
	for _, seg := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// scalarEq compares a request value with a rule value. When both sides
// coerce to numbers the comparison is numeric, so YAML 5 matches JSON
// 5.0; otherwise both sides must be scalars with equal string forms.
func scalarEq(a, b any) bool {
	if af, aok := coerceFloat(a); aok {
		if bf, bok := coerceFloat(b); bok {
			return af == bf
		}
	}
	as, aok := scalarString(a)
	bs, bok := scalarString(b)
	return aok && bok && as == bs
}

// scalarString renders a scalar as a string. Maps and lists have no
// scalar form and never match.
func scalarString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case bool:
		return strconv.FormatBool(t), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case nil:
		return "null", true
	}
	return "", false
}

// coerceFloat converts numeric types and numeric strings to float64.
func coerceFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case float64:
		return t, true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	}
	return 0, false
}
