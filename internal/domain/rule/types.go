// Package rule defines the security-rule model: the condition predicate
// language, rule validation, compilation, and the immutable rule-set
// snapshot the engine scans.
package rule

import (
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/superego-ai/superego/internal/domain/decision"
)

// Priority bounds for rules. Lower numbers evaluate first.
const (
	MinPriority = 0
	MaxPriority = 1000
)

// Op is a field-match operator.
type Op string

const (
	OpEquals     Op = "equals"
	OpNotEquals  Op = "not_equals"
	OpMatches    Op = "matches"
	OpContains   Op = "contains"
	OpStartsWith Op = "starts_with"
	OpEndsWith   Op = "ends_with"
	OpIn         Op = "in"
	OpGT         Op = "gt"
	OpLT         Op = "lt"
)

// knownOps guards condition parsing; an unknown op fails the whole load.
var knownOps = map[Op]bool{
	OpEquals:     true,
	OpNotEquals:  true,
	OpMatches:    true,
	OpContains:   true,
	OpStartsWith: true,
	OpEndsWith:   true,
	OpIn:         true,
	OpGT:         true,
	OpLT:         true,
}

// ConditionKind discriminates the condition tree node types.
type ConditionKind string

const (
	// KindField matches one request field against a value.
	KindField ConditionKind = "field"
	// KindAllOf is a conjunction of child conditions.
	KindAllOf ConditionKind = "all_of"
	// KindAnyOf is a disjunction of child conditions.
	KindAnyOf ConditionKind = "any_of"
	// KindNot negates a single child.
	KindNot ConditionKind = "not"
	// KindCEL evaluates a compiled boolean CEL expression.
	KindCEL ConditionKind = "cel"
)

// Condition is one node of a rule's predicate tree. Exactly the fields for
// its Kind are populated. Compiled artifacts (regex, CEL program) are
// attached at load time and never mutated afterwards.
type Condition struct {
	Kind ConditionKind

	// KindField
	Field string
	Op    Op
	Value any

	// KindAllOf / KindAnyOf / KindNot
	AllOf []*Condition
	AnyOf []*Condition
	Not   *Condition

	// KindCEL
	CEL string

	re   *regexp.Regexp
	prog CompiledExpr
}

// SecurityRule is the atomic unit of policy. Immutable once loaded.
type SecurityRule struct {
	// ID uniquely identifies the rule within a rule set.
	ID string `yaml:"id"`

	// Priority orders evaluation; lower number = higher priority.
	Priority int `yaml:"priority"`

	// Action is allow, deny, or sample.
	Action decision.Action `yaml:"action"`

	// Reason justifies the verdict. Required for deny and sample.
	Reason string `yaml:"reason,omitempty"`

	// SampleGuidance is extra instruction text passed to the advisor.
	// Only meaningful when Action is sample.
	SampleGuidance string `yaml:"sample_guidance,omitempty"`

	// Conditions is the predicate tree. Required.
	Conditions *Condition `yaml:"conditions"`
}

// UnmarshalYAML decodes a condition node, rejecting malformed shapes early
// so a bad rule file fails at load rather than at evaluation.
func (c *Condition) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: condition must be a mapping", node.Line)
	}

	fields := make(map[string]*yaml.Node, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		if _, dup := fields[key]; dup {
			return fmt.Errorf("line %d: duplicate condition key %q", node.Content[i].Line, key)
		}
		fields[key] = node.Content[i+1]
	}

	switch {
	case fields["all_of"] != nil:
		if len(fields) != 1 {
			return fmt.Errorf("line %d: all_of cannot be combined with other keys", node.Line)
		}
		c.Kind = KindAllOf
		return fields["all_of"].Decode(&c.AllOf)

	case fields["any_of"] != nil:
		if len(fields) != 1 {
			return fmt.Errorf("line %d: any_of cannot be combined with other keys", node.Line)
		}
		c.Kind = KindAnyOf
		return fields["any_of"].Decode(&c.AnyOf)

	case fields["not"] != nil:
		if len(fields) != 1 {
			return fmt.Errorf("line %d: not cannot be combined with other keys", node.Line)
		}
		c.Kind = KindNot
		c.Not = &Condition{}
		return fields["not"].Decode(c.Not)

	case fields["cel"] != nil:
		if len(fields) != 1 {
			return fmt.Errorf("line %d: cel cannot be combined with other keys", node.Line)
		}
		c.Kind = KindCEL
		return fields["cel"].Decode(&c.CEL)

	case fields["field"] != nil:
		return c.decodeFieldMatch(node, fields)

	case fields["parameters"] != nil:
		if len(fields) != 1 {
			return fmt.Errorf("line %d: parameters shorthand cannot be combined with other keys", node.Line)
		}
		return c.decodeParameterShape(fields["parameters"])
	}

	return fmt.Errorf("line %d: unrecognized condition shape", node.Line)
}

// decodeFieldMatch handles {field, op, value} nodes.
func (c *Condition) decodeFieldMatch(node *yaml.Node, fields map[string]*yaml.Node) error {
	for key := range fields {
		if key != "field" && key != "op" && key != "value" {
			return fmt.Errorf("line %d: unexpected key %q in field match", node.Line, key)
		}
	}
	if fields["op"] == nil {
		return fmt.Errorf("line %d: field match requires op", node.Line)
	}
	if fields["value"] == nil {
		return fmt.Errorf("line %d: field match requires value", node.Line)
	}

	c.Kind = KindField
	if err := fields["field"].Decode(&c.Field); err != nil {
		return err
	}
	var op string
	if err := fields["op"].Decode(&op); err != nil {
		return err
	}
	c.Op = Op(op)
	if !knownOps[c.Op] {
		return fmt.Errorf("line %d: unknown op %q", fields["op"].Line, op)
	}
	return fields["value"].Decode(&c.Value)
}

// decodeParameterShape desugars {parameters: {key: match}} into an all_of
// of field matches on parameters.<key>. A scalar match value means equals.
func (c *Condition) decodeParameterShape(params *yaml.Node) error {
	if params.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: parameters shorthand must be a mapping", params.Line)
	}

	c.Kind = KindAllOf
	for i := 0; i+1 < len(params.Content); i += 2 {
		key := params.Content[i].Value
		match := params.Content[i+1]

		child := &Condition{Kind: KindField, Field: "parameters." + key}
		switch match.Kind {
		case yaml.ScalarNode:
			child.Op = OpEquals
			if err := match.Decode(&child.Value); err != nil {
				return err
			}
		case yaml.MappingNode:
			var nested struct {
				Op    string    `yaml:"op"`
				Value yaml.Node `yaml:"value"`
			}
			if err := match.Decode(&nested); err != nil {
				return err
			}
			child.Op = Op(nested.Op)
			if !knownOps[child.Op] {
				return fmt.Errorf("line %d: unknown op %q", match.Line, nested.Op)
			}
			if err := nested.Value.Decode(&child.Value); err != nil {
				return err
			}
		default:
			return fmt.Errorf("line %d: parameter match for %q must be a scalar or {op, value}", match.Line, key)
		}
		c.AllOf = append(c.AllOf, child)
	}

	if len(c.AllOf) == 0 {
		return fmt.Errorf("line %d: parameters shorthand is empty", params.Line)
	}
	return nil
}

// validFieldName reports whether a field reference names one of the
// matchable request fields.
func validFieldName(field string) bool {
	switch field {
	case "tool_name", "agent_id", "session_id", "cwd":
		return true
	}
	return strings.HasPrefix(field, "parameters.") && len(field) > len("parameters.")
}
