package domain

import (
	seqerr "github.com/nodeflow/seqrun/internal/domain/errors"
)

// ConditionEvaluator is the capability transition resolution needs from
// the expression evaluator; internal/eval.Evaluator satisfies it.
type ConditionEvaluator interface {
	EvaluateCondition(nid int, raw any, vars map[string]any) (bool, error)
}

// ResolveTransitions computes the winning target set for a transitional
// node against a variables snapshot:
//
//	winning = { t.Target | t.Condition is absent OR evaluate(t.Condition, vars) == true }
//
// allowMultiple must be true only for ParallelSplit; every other variant
// is "simple transitional" and a winning set of size != 1 is an error.
func ResolveTransitions(n Transitional, vars map[string]any, evalr ConditionEvaluator, allowMultiple bool) ([]int, error) {
	var winners []int
	for _, t := range n.Transitions() {
		ok, err := evalr.EvaluateCondition(n.NID(), t.Condition, vars)
		if err != nil {
			return nil, err
		}
		if ok {
			winners = append(winners, t.Target)
		}
	}

	if len(winners) == 0 {
		return nil, &seqerr.NoTransitionError{NID: n.NID()}
	}
	if !allowMultiple && len(winners) > 1 {
		return nil, &seqerr.MultipleTransitionError{NID: n.NID(), Targets: winners}
	}
	return winners, nil
}
