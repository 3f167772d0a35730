package rule

import (
	"context"
	"errors"
	"testing"

	"github.com/superego-ai/superego/internal/domain/request"
)

func evalRequest() *request.ToolRequest {
	return &request.ToolRequest{
		ToolName:  "bash",
		AgentID:   "agent-1",
		SessionID: "sess-9",
		CWD:       "/home/dev/project",
		Parameters: map[string]any{
			"command":   "rm -rf /tmp/scratch",
			"timeout":   float64(30),
			"recursive": true,
			"env": map[string]any{
				"PATH": "/usr/bin",
			},
		},
	}
}

func mustEval(t *testing.T, c *Condition, req *request.ToolRequest) bool {
	t.Helper()
	ok, err := c.Eval(context.Background(), req)
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	return ok
}

func TestConditionEval_Operators(t *testing.T) {
	req := evalRequest()

	tests := []struct {
		name string
		cond *Condition
		want bool
	}{
		{"equals hit", fieldCond("tool_name", OpEquals, "bash"), true},
		{"equals miss", fieldCond("tool_name", OpEquals, "python"), false},
		{"not_equals hit", fieldCond("tool_name", OpNotEquals, "python"), true},
		{"not_equals miss", fieldCond("tool_name", OpNotEquals, "bash"), false},
		{"contains hit", fieldCond("parameters.command", OpContains, "rm -rf"), true},
		{"contains miss", fieldCond("parameters.command", OpContains, "sudo"), false},
		{"starts_with hit", fieldCond("cwd", OpStartsWith, "/home"), true},
		{"starts_with miss", fieldCond("cwd", OpStartsWith, "/etc"), false},
		{"ends_with hit", fieldCond("cwd", OpEndsWith, "project"), true},
		{"ends_with miss", fieldCond("cwd", OpEndsWith, "scratch"), false},
		{"in hit", fieldCond("tool_name", OpIn, []any{"python", "bash", "node"}), true},
		{"in miss", fieldCond("tool_name", OpIn, []any{"python", "node"}), false},
		{"gt hit", fieldCond("parameters.timeout", OpGT, 10), true},
		{"gt miss", fieldCond("parameters.timeout", OpGT, 30), false},
		{"lt hit", fieldCond("parameters.timeout", OpLT, 60), true},
		{"lt miss", fieldCond("parameters.timeout", OpLT, 30), false},
		{"bool equals", fieldCond("parameters.recursive", OpEquals, true), true},
		{"nested map path", fieldCond("parameters.env.PATH", OpEquals, "/usr/bin"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := mustEval(t, tt.cond, req); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestConditionEval_Matches(t *testing.T) {
	req := evalRequest()

	c := fieldCond("parameters.command", OpMatches, `rm\s+-rf\s+.*`)
	if err := c.compileFieldMatch(); err != nil {
		t.Fatalf("compile: %v", err)
	}
	if !mustEval(t, c, req) {
		t.Error("expected regex to match the whole command")
	}

	// An unanchored substring pattern must not match the full value.
	c = fieldCond("parameters.command", OpMatches, `rm`)
	if err := c.compileFieldMatch(); err != nil {
		t.Fatalf("compile: %v", err)
	}
	if mustEval(t, c, req) {
		t.Error("pattern matching a fragment should not match the full string")
	}
}

func TestConditionEval_MissingField(t *testing.T) {
	req := evalRequest()

	tests := []struct {
		name string
		cond *Condition
		want bool
	}{
		{"equals on absent param", fieldCond("parameters.nope", OpEquals, "x"), false},
		{"contains on absent param", fieldCond("parameters.nope", OpContains, "x"), false},
		{"in on absent param", fieldCond("parameters.nope", OpIn, []any{"x"}), false},
		{"gt on absent param", fieldCond("parameters.nope", OpGT, 1), false},
		{"not_equals on absent param", fieldCond("parameters.nope", OpNotEquals, "x"), true},
		{"path through non-map", fieldCond("parameters.command.inner", OpEquals, "x"), false},
		{"path past leaf", fieldCond("parameters.env.PATH.deeper", OpEquals, "x"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := mustEval(t, tt.cond, req); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestConditionEval_NumericCoercion(t *testing.T) {
	req := evalRequest()

	// JSON delivers 30 as float64; a YAML rule writes 30 as int.
	if !mustEval(t, fieldCond("parameters.timeout", OpEquals, 30), req) {
		t.Error("int rule value should equal float64 request value")
	}
	if !mustEval(t, fieldCond("parameters.timeout", OpIn, []any{10, 30}), req) {
		t.Error("in should compare numerically")
	}

	// Non-numeric request values never satisfy ordering comparisons.
	if mustEval(t, fieldCond("parameters.command", OpGT, 5), req) {
		t.Error("gt on a non-numeric value should be false")
	}
	if mustEval(t, fieldCond("parameters.recursive", OpLT, 5), req) {
		t.Error("lt on a bool should be false")
	}
}

func TestConditionEval_Composites(t *testing.T) {
	req := evalRequest()

	allTrue := &Condition{Kind: KindAllOf, AllOf: []*Condition{
		fieldCond("tool_name", OpEquals, "bash"),
		fieldCond("cwd", OpStartsWith, "/home"),
	}}
	if !mustEval(t, allTrue, req) {
		t.Error("all_of with both children true should be true")
	}

	oneFalse := &Condition{Kind: KindAllOf, AllOf: []*Condition{
		fieldCond("tool_name", OpEquals, "bash"),
		fieldCond("cwd", OpStartsWith, "/etc"),
	}}
	if mustEval(t, oneFalse, req) {
		t.Error("all_of with a false child should be false")
	}

	anyHit := &Condition{Kind: KindAnyOf, AnyOf: []*Condition{
		fieldCond("tool_name", OpEquals, "python"),
		fieldCond("tool_name", OpEquals, "bash"),
	}}
	if !mustEval(t, anyHit, req) {
		t.Error("any_of with one true child should be true")
	}

	negated := &Condition{Kind: KindNot, Not: fieldCond("tool_name", OpEquals, "bash")}
	if mustEval(t, negated, req) {
		t.Error("not over a true child should be false")
	}
}

func TestConditionEval_CELErrorPropagates(t *testing.T) {
	req := evalRequest()

	boom := errors.New("evaluation interrupted")
	c := &Condition{Kind: KindCEL, CEL: "x", prog: stubProgram{err: boom}}

	wrapped := &Condition{Kind: KindAllOf, AllOf: []*Condition{
		fieldCond("tool_name", OpEquals, "bash"),
		c,
	}}
	_, err := wrapped.Eval(context.Background(), req)
	if !errors.Is(err, boom) {
		t.Errorf("expected program error to propagate, got: %v", err)
	}
}

func TestConditionEval_UncompiledCEL(t *testing.T) {
	c := &Condition{Kind: KindCEL, CEL: "true"}
	_, err := c.Eval(context.Background(), evalRequest())
	if err == nil {
		t.Error("expected error for uncompiled cel condition")
	}
}
