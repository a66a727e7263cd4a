// Package cel compiles and evaluates the optional CEL Condition carried
// by a rule, adapting it to the rule engine's ConditionEvaluator port.
package cel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/cel-go/cel"
)

// maxExpressionLength is the maximum allowed length for a Condition.
const maxExpressionLength = 1024

// maxCostBudget is the CEL runtime cost limit to prevent cost-exhaustion DoS.
const maxCostBudget = 100_000

// maxNestingDepth is the maximum allowed parenthesis/bracket nesting depth.
const maxNestingDepth = 50

// evalTimeout is the maximum time allowed for a single CEL evaluation.
const evalTimeout = 5 * time.Second

// interruptCheckFreq is how often (in comprehension iterations) context cancellation is checked.
const interruptCheckFreq = 100

// Evaluator compiles and evaluates rule Conditions, implementing
// rule.ConditionEvaluator. Compiled programs are cached by an
// xxhash.Sum64String of the condition source, so the pump's hot path
// never recompiles an unchanged expression.
type Evaluator struct {
	env *cel.Env

	mu       sync.Mutex
	programs map[uint64]cel.Program
}

// NewEvaluator creates an Evaluator over the rule condition environment.
func NewEvaluator() (*Evaluator, error) {
	env, err := NewRuleEnvironment()
	if err != nil {
		return nil, fmt.Errorf("cel: new environment: %w", err)
	}
	return &Evaluator{env: env, programs: make(map[uint64]cel.Program)}, nil
}

// Compile parses, type-checks, and validates a condition, returning a
// compiled program. Used directly by callers that want to surface a
// compile error before a rule is accepted (e.g. config validation).
func (e *Evaluator) Compile(condition string) (cel.Program, error) {
	if err := validateExpression(condition); err != nil {
		return nil, err
	}

	ast, issues := e.env.Compile(condition)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("cel: compile: %w", issues.Err())
	}

	prg, err := e.env.Program(ast,
		cel.EvalOptions(cel.OptOptimize),
		cel.CostLimit(maxCostBudget),
		cel.InterruptCheckFrequency(interruptCheckFreq),
	)
	if err != nil {
		return nil, fmt.Errorf("cel: program: %w", err)
	}
	return prg, nil
}

func validateExpression(expr string) error {
	if expr == "" {
		return errors.New("cel: expression is empty")
	}
	if len(expr) > maxExpressionLength {
		return fmt.Errorf("cel: expression too long: %d characters (max %d)", len(expr), maxExpressionLength)
	}
	if err := validateNesting(expr); err != nil {
		return err
	}
	return nil
}

// validateNesting checks that the expression does not exceed the maximum
// allowed parenthesis/bracket/brace nesting depth.
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
		return fmt.Errorf("cel: expression nesting too deep: %d levels (max %d)", maxDepth, maxNestingDepth)
	}
	return nil
}

// compiled returns the cached program for condition, compiling and
// caching it on first use.
func (e *Evaluator) compiled(condition string) (cel.Program, error) {
	key := xxhash.Sum64String(condition)

	e.mu.Lock()
	prg, ok := e.programs[key]
	e.mu.Unlock()
	if ok {
		return prg, nil
	}

	prg, err := e.Compile(condition)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.programs[key] = prg
	e.mu.Unlock()
	return prg, nil
}

// Eval implements rule.ConditionEvaluator.
func (e *Evaluator) Eval(condition, tool, server string, args json.RawMessage) (bool, error) {
	prg, err := e.compiled(condition)
	if err != nil {
		return false, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), evalTimeout)
	defer cancel()

	result, _, err := prg.ContextEval(ctx, buildActivation(tool, server, args))
	if err != nil {
		return false, fmt.Errorf("cel: evaluate: %w", err)
	}

	boolResult, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("cel: condition did not return a boolean, got %T", result.Value())
	}
	return boolResult, nil
}
