package config

import (
	"testing"

	"github.com/nodeflow/seqrun/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_SingleFunction(t *testing.T) {
	raw := []byte(`
sequence:
  info: { name: single_function }
  nodes:
    - id: 0
      type: start
      transitions: [ { target: 1 } ]
    - id: 1
      type: function
      function: ReturnHelloWorld
      transitions: [ { target: 2 } ]
    - id: 2
      type: stop
`)
	seq, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "single_function", seq.Name)
	assert.Equal(t, []int{0}, seq.StartIDs)

	fn := seq.Nodes[1].(*domain.FunctionNode)
	assert.Equal(t, "ReturnHelloWorld", fn.FunctionName)
}

func TestParse_VariableNodePreservesAssignmentOrder(t *testing.T) {
	raw := []byte(`
sequence:
  nodes:
    - id: 0
      type: start
      transitions: [ { target: 1 } ]
    - id: 1
      type: variable
      variables:
        spam: "'egg'"
        none: "nil"
        number: "1+1"
        statement: "true"
      transitions: [ { target: 2 } ]
    - id: 2
      type: stop
`)
	seq, err := Parse(raw)
	require.NoError(t, err)

	v := seq.Nodes[1].(*domain.VariableNode)
	require.Len(t, v.Assignments, 4)
	names := make([]string, len(v.Assignments))
	for i, a := range v.Assignments {
		names[i] = a.Name
	}
	assert.Equal(t, []string{"spam", "none", "number", "statement"}, names)
}

func TestParse_WrapperSpecsBareAndWithKwargs(t *testing.T) {
	raw := []byte(`
sequence:
  nodes:
    - id: 0
      type: start
      transitions: [ { target: 1 } ]
    - id: 1
      type: function
      function: f
      wrappers:
        - WrapperSetFoo
        - WrapperToCaps: { text: "'hi'" }
      transitions: [ { target: 2 } ]
    - id: 2
      type: stop
`)
	seq, err := Parse(raw)
	require.NoError(t, err)

	fn := seq.Nodes[1].(*domain.FunctionNode)
	require.Len(t, fn.Wrappers, 2)
	assert.Equal(t, "WrapperSetFoo", fn.Wrappers[0].ClassName)
	assert.Nil(t, fn.Wrappers[0].Kwargs)
	assert.Equal(t, "WrapperToCaps", fn.Wrappers[1].ClassName)
	assert.Equal(t, "'hi'", fn.Wrappers[1].Kwargs["text"])
}

func TestParse_RejectsUnknownNodeType(t *testing.T) {
	raw := []byte(`
sequence:
  nodes:
    - id: 0
      type: bogus
`)
	_, err := Parse(raw)
	require.Error(t, err)
}

func TestParse_ValidatesGraph(t *testing.T) {
	raw := []byte(`
sequence:
  nodes:
    - id: 0
      type: start
      transitions: [ { target: 99 } ]
`)
	_, err := Parse(raw)
	require.Error(t, err)
}
