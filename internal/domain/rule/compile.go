package rule

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/superego-ai/superego/internal/domain/decision"
	"github.com/superego-ai/superego/internal/domain/request"
)

// CompiledExpr is a pre-compiled boolean expression evaluated against a
// request. Implemented by the CEL adapter.
type CompiledExpr interface {
	Eval(ctx context.Context, req *request.ToolRequest) (bool, error)
}

// ExprCompiler compiles cel condition expressions at rule-load time.
// A compile failure fails the whole load, mirroring regex handling.
type ExprCompiler interface {
	Compile(expr string) (CompiledExpr, error)
}

// CompiledRule pairs a validated rule with its position in the source
// document. Load order breaks priority ties.
type CompiledRule struct {
	Rule      *SecurityRule
	LoadOrder int
}

// Eval evaluates the rule's condition tree against a request.
func (cr *CompiledRule) Eval(ctx context.Context, req *request.ToolRequest) (bool, error) {
	return cr.Rule.Conditions.Eval(ctx, req)
}

// RuleSet is an immutable, ordered view of the loaded rules. The engine
// scans Rules front to back; the slice is sorted by (priority asc,
// load order asc) and never mutated after Compile returns.
type RuleSet struct {
	Rules    []*CompiledRule
	LoadedAt time.Time
}

// Len returns the number of rules in the set.
func (s *RuleSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Rules)
}

// Empty reports whether the set holds no rules.
func (s *RuleSet) Empty() bool {
	return s.Len() == 0
}

// Compile validates rules, pre-compiles their regex and CEL conditions,
// and returns the ordered snapshot. Any invalid rule fails the whole
// compilation; a rule set is loaded completely or not at all.
func Compile(rules []*SecurityRule, compiler ExprCompiler) (*RuleSet, error) {
	seen := make(map[string]bool, len(rules))
	compiled := make([]*CompiledRule, 0, len(rules))

	for i, r := range rules {
		if r == nil {
			return nil, fmt.Errorf("rule %d: empty rule", i)
		}
		if r.ID == "" {
			return nil, fmt.Errorf("rule %d: id is required", i)
		}
		if seen[r.ID] {
			return nil, fmt.Errorf("rule %q: duplicate id", r.ID)
		}
		seen[r.ID] = true

		if r.Priority < MinPriority || r.Priority > MaxPriority {
			return nil, fmt.Errorf("rule %q: priority %d outside [%d, %d]", r.ID, r.Priority, MinPriority, MaxPriority)
		}

		switch r.Action {
		case decision.ActionAllow:
			// Reason optional for allow rules.
		case decision.ActionDeny, decision.ActionSample:
			if r.Reason == "" {
				return nil, fmt.Errorf("rule %q: reason is required for action %q", r.ID, r.Action)
			}
		default:
			return nil, fmt.Errorf("rule %q: unknown action %q", r.ID, r.Action)
		}

		if r.Conditions == nil {
			return nil, fmt.Errorf("rule %q: conditions are required", r.ID)
		}
		if err := r.Conditions.compile(compiler); err != nil {
			return nil, fmt.Errorf("rule %q: %w", r.ID, err)
		}

		compiled = append(compiled, &CompiledRule{Rule: r, LoadOrder: i})
	}

	// Stable sort keeps load order for equal priorities.
	sort.SliceStable(compiled, func(i, j int) bool {
		return compiled[i].Rule.Priority < compiled[j].Rule.Priority
	})

	return &RuleSet{Rules: compiled, LoadedAt: time.Now().UTC()}, nil
}

// compile validates a condition node and attaches compiled artifacts.
func (c *Condition) compile(compiler ExprCompiler) error {
	switch c.Kind {
	case KindField:
		return c.compileFieldMatch()

	case KindAllOf:
		if len(c.AllOf) == 0 {
			return fmt.Errorf("all_of requires at least one condition")
		}
		for _, child := range c.AllOf {
			if err := child.compile(compiler); err != nil {
				return err
			}
		}
		return nil

	case KindAnyOf:
		if len(c.AnyOf) == 0 {
			return fmt.Errorf("any_of requires at least one condition")
		}
		for _, child := range c.AnyOf {
			if err := child.compile(compiler); err != nil {
				return err
			}
		}
		return nil

	case KindNot:
		if c.Not == nil {
			return fmt.Errorf("not requires a condition")
		}
		return c.Not.compile(compiler)

	case KindCEL:
		if c.CEL == "" {
			return fmt.Errorf("cel expression is empty")
		}
		if compiler == nil {
			return fmt.Errorf("cel conditions are not supported without an expression compiler")
		}
		prog, err := compiler.Compile(c.CEL)
		if err != nil {
			return fmt.Errorf("cel compile: %w", err)
		}
		c.prog = prog
		return nil
	}

	return fmt.Errorf("malformed condition node")
}

// compileFieldMatch validates the field reference, value shape, and
// pre-compiles the anchored regex for matches.
func (c *Condition) compileFieldMatch() error {
	if !validFieldName(c.Field) {
		return fmt.Errorf("unknown field %q", c.Field)
	}

	switch c.Op {
	case OpMatches:
		pattern, ok := c.Value.(string)
		if !ok {
			return fmt.Errorf("matches value must be a string")
		}
		re, err := regexp.Compile("^(?:" + pattern + ")$")
		if err != nil {
			return fmt.Errorf("invalid regex %q: %w", pattern, err)
		}
		c.re = re

	case OpIn:
		if _, ok := c.Value.([]any); !ok {
			return fmt.Errorf("in value must be a list")
		}

	case OpGT, OpLT:
		if _, ok := coerceFloat(c.Value); !ok {
			return fmt.Errorf("%s value must be numeric", c.Op)
		}

	case OpContains, OpStartsWith, OpEndsWith:
		if _, ok := c.Value.(string); !ok {
			return fmt.Errorf("%s value must be a string", c.Op)
		}

	case OpEquals, OpNotEquals:
		// Any scalar is comparable.

	default:
		return fmt.Errorf("unknown op %q", c.Op)
	}

	return nil
}
