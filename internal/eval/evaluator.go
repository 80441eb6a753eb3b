// Package eval provides the single expression-evaluation primitive
// used throughout the sequence engine: transition conditions, Variable
// node right-hand-sides, and Function/wrapper kwargs all go through
// Evaluator.
package eval

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	seqerr "github.com/nodeflow/seqrun/internal/domain/errors"
)

// Evaluator evaluates expression strings against a variable
// environment. It caches compiled programs by expression text; expr-lang
// compiles against the structural shape of map[string]any, so the same
// compiled program is reusable regardless of which keys are present at
// any particular call, which lets the cache be keyed on expression text
// alone.
type Evaluator struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

// New creates an Evaluator with an empty compile cache.
func New() *Evaluator {
	return &Evaluator{cache: make(map[string]*vm.Program)}
}

// Evaluate evaluates expr against a snapshot of variables.
//
// If expr is not a string, it is returned unchanged. Otherwise it is
// compiled (or fetched from cache) and run against vars. Evaluation is
// side-effect free: vars is never mutated, and a copy is never even
// required since expr-lang only reads from the environment map.
func (e *Evaluator) Evaluate(raw any, vars map[string]any) (any, error) {
	s, ok := raw.(string)
	if !ok {
		return raw, nil
	}

	program, err := e.compile(s)
	if err != nil {
		return nil, &seqerr.ExpressionError{Expr: s, Err: err}
	}

	out, err := expr.Run(program, vars)
	if err != nil {
		return nil, &seqerr.ExpressionError{Expr: s, Err: err}
	}
	return out, nil
}

// EvaluateCondition evaluates a transition condition. A nil condition
// (no condition present on the transition) always holds. A non-boolean
// result, or an evaluation error, is reported as a ConditionError.
func (e *Evaluator) EvaluateCondition(nid int, raw any, vars map[string]any) (bool, error) {
	if raw == nil {
		return true, nil
	}

	val, err := e.Evaluate(raw, vars)
	if err != nil {
		return false, &seqerr.ConditionError{NID: nid, Expr: fmt.Sprint(raw), Err: err}
	}

	b, ok := val.(bool)
	if !ok {
		return false, &seqerr.ConditionError{NID: nid, Expr: fmt.Sprint(raw), Got: val}
	}
	return b, nil
}

func (e *Evaluator) compile(s string) (*vm.Program, error) {
	e.mu.RLock()
	program, ok := e.cache[s]
	e.mu.RUnlock()
	if ok {
		return program, nil
	}

	program, err := expr.Compile(s, expr.Env(map[string]any{}), expr.AllowUndefinedVariables())
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.cache[s] = program
	e.mu.Unlock()
	return program, nil
}
