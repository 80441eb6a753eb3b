package domain

import (
	"testing"

	seqerr "github.com/nodeflow/seqrun/internal/domain/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEvaluator resolves every condition to a fixed boolean from a map
// keyed by the raw condition value, letting tests avoid depending on
// internal/eval.
type fakeEvaluator struct {
	results map[any]bool
	err     error
}

func (f *fakeEvaluator) EvaluateCondition(nid int, raw any, vars map[string]any) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if raw == nil {
		return true, nil
	}
	return f.results[raw], nil
}

func TestResolveTransitions_SingleWinner(t *testing.T) {
	n := NewStartNode(0, "", []Transition{{Target: 1, Condition: "a"}, {Target: 2, Condition: "b"}})
	evalr := &fakeEvaluator{results: map[any]bool{"a": true, "b": false}}

	winners, err := ResolveTransitions(n, nil, evalr, false)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, winners)
}

func TestResolveTransitions_NoWinner(t *testing.T) {
	n := NewStartNode(0, "", []Transition{{Target: 1, Condition: "a"}})
	evalr := &fakeEvaluator{results: map[any]bool{"a": false}}

	_, err := ResolveTransitions(n, nil, evalr, false)
	require.Error(t, err)
	_, ok := err.(*seqerr.NoTransitionError)
	assert.True(t, ok)
}

func TestResolveTransitions_MultipleWinnersOnSimpleNode(t *testing.T) {
	n := NewStartNode(0, "", []Transition{{Target: 1}, {Target: 2}})
	evalr := &fakeEvaluator{}

	_, err := ResolveTransitions(n, nil, evalr, false)
	require.Error(t, err)
	multiErr, ok := err.(*seqerr.MultipleTransitionError)
	require.True(t, ok)
	assert.ElementsMatch(t, []int{1, 2}, multiErr.Targets)
}

func TestResolveTransitions_ParallelSplitAllowsMultiple(t *testing.T) {
	n := NewParallelSplitNode(0, "", []Transition{{Target: 1}, {Target: 2}})
	evalr := &fakeEvaluator{}

	winners, err := ResolveTransitions(n, nil, evalr, true)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int{1, 2}, winners)
}
