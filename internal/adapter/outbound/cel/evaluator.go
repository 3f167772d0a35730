// Package cel compiles and evaluates CEL expressions for the `cel`
// condition kind. It implements rule.ExprCompiler.
package cel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/superego-ai/superego/internal/domain/request"
	"github.com/superego-ai/superego/internal/domain/rule"
)

// maxExpressionLength is the maximum allowed length for CEL expressions.
const maxExpressionLength = 1024

// maxCostBudget is the CEL runtime cost limit to prevent cost-exhaustion.
const maxCostBudget = 100_000

// maxNestingDepth is the maximum allowed parenthesis/bracket nesting depth.
const maxNestingDepth = 50

// evalTimeout is the maximum time allowed for a single CEL evaluation.
const evalTimeout = 5 * time.Second

// interruptCheckFreq is how often (in comprehension iterations) context
// cancellation is checked.
const interruptCheckFreq = 100

// Compiler compiles rule expressions against the request environment.
// A single Compiler is shared across all rule loads.
type Compiler struct {
	env *cel.Env
}

var _ rule.ExprCompiler = (*Compiler)(nil)

// NewCompiler creates a CEL compiler with the request environment.
func NewCompiler() (*Compiler, error) {
	env, err := newRequestEnvironment()
	if err != nil {
		return nil, fmt.Errorf("failed to create request environment: %w", err)
	}
	return &Compiler{env: env}, nil
}

// Compile parses and type-checks a CEL expression, returning a compiled
// program bound to the request environment. Safety limits (length,
// nesting, cost budget) are enforced here so a hostile rule file fails
// at load rather than at evaluation.
func (c *Compiler) Compile(expression string) (rule.CompiledExpr, error) {
	if expression == "" {
		return nil, errors.New("expression is empty")
	}
	if len(expression) > maxExpressionLength {
		return nil, fmt.Errorf("expression too long: %d characters (max %d)", len(expression), maxExpressionLength)
	}
	if err := validateNesting(expression); err != nil {
		return nil, err
	}

	ast, issues := c.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compilation failed: %w", issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("expression must return bool, got %v", ast.OutputType())
	}

	prg, err := c.env.Program(ast,
		cel.EvalOptions(cel.OptOptimize),
		cel.CostLimit(maxCostBudget),
		cel.InterruptCheckFrequency(interruptCheckFreq),
	)
	if err != nil {
		return nil, fmt.Errorf("program creation failed: %w", err)
	}

	return &program{prg: prg}, nil
}

// validateNesting checks that the expression does not exceed the maximum
// allowed nesting depth for parentheses, brackets, and braces.
func validateNesting(expr string) error {
	var depth, maxDepth int
	for _, ch := range expr {
		switch ch {
		case '(', '[', '{':
			depth++
			if depth > maxDepth {
				maxDepth = depth
			}
		case ')', ']', '}':
			depth--
		}
	}
	if maxDepth > maxNestingDepth {
		return fmt.Errorf("expression nesting too deep: %d levels (max %d)", maxDepth, maxNestingDepth)
	}
	return nil
}

// program is a compiled CEL expression evaluated against one request.
type program struct {
	prg cel.Program
}

var _ rule.CompiledExpr = (*program)(nil)

// Eval runs the compiled program against the request. ContextEval bounds
// evaluation with a timeout so a pathological expression cannot hang a
// decision.
func (p *program) Eval(ctx context.Context, req *request.ToolRequest) (bool, error) {
	activation := buildActivation(req)

	evalCtx, cancel := context.WithTimeout(ctx, evalTimeout)
	defer cancel()

	result, _, err := p.prg.ContextEval(evalCtx, activation)
	if err != nil {
		return false, fmt.Errorf("evaluation failed: %w", err)
	}

	boolResult, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression did not return a boolean, got %T", result.Value())
	}

	return boolResult, nil
}
