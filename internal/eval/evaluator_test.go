package eval

import (
	"testing"

	seqerr "github.com/nodeflow/seqrun/internal/domain/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluate_NonStringLiteralPassesThrough(t *testing.T) {
	e := New()
	val, err := e.Evaluate(42, nil)
	require.NoError(t, err)
	assert.Equal(t, 42, val)
}

func TestEvaluate_Arithmetic(t *testing.T) {
	e := New()
	val, err := e.Evaluate("1+1", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, val)
}

func TestEvaluate_StringLiteral(t *testing.T) {
	e := New()
	val, err := e.Evaluate("'egg'", nil)
	require.NoError(t, err)
	assert.Equal(t, "egg", val)
}

func TestEvaluate_VariableLookup(t *testing.T) {
	e := New()
	val, err := e.Evaluate("counter + 1", map[string]any{"counter": 5})
	require.NoError(t, err)
	assert.Equal(t, 6, val)
}

func TestEvaluate_Nil(t *testing.T) {
	e := New()
	val, err := e.Evaluate("nil", nil)
	require.NoError(t, err)
	assert.Nil(t, val)
}

func TestEvaluate_CompileErrorWrapsExpressionText(t *testing.T) {
	e := New()
	_, err := e.Evaluate("(((", nil)
	require.Error(t, err)
	exprErr, ok := err.(*seqerr.ExpressionError)
	require.True(t, ok)
	assert.Equal(t, "(((", exprErr.Expr)
}

func TestEvaluateCondition_NilConditionAlwaysHolds(t *testing.T) {
	e := New()
	ok, err := e.EvaluateCondition(1, nil, nil)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvaluateCondition_NonBooleanIsConditionError(t *testing.T) {
	e := New()
	_, err := e.EvaluateCondition(1, "1+1", nil)
	require.Error(t, err)
	condErr, ok := err.(*seqerr.ConditionError)
	require.True(t, ok)
	assert.Equal(t, 1, condErr.NID)
}

func TestEvaluateCondition_True(t *testing.T) {
	e := New()
	ok, err := e.EvaluateCondition(1, "counter <= 10", map[string]any{"counter": 3})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvaluate_CachesCompiledProgram(t *testing.T) {
	e := New()
	_, err := e.Evaluate("1+1", nil)
	require.NoError(t, err)

	e.mu.RLock()
	_, cached := e.cache["1+1"]
	e.mu.RUnlock()
	assert.True(t, cached)
}
