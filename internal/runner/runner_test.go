package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nodeflow/seqrun/internal/domain"
	seqerr "github.com/nodeflow/seqrun/internal/domain/errors"
	"github.com/nodeflow/seqrun/internal/logger"
	"github.com/nodeflow/seqrun/internal/pluginapi"
	"github.com/nodeflow/seqrun/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunner_ScenarioOne_SingleFunction(t *testing.T) {
	seq := &domain.Sequence{
		Nodes: map[int]domain.Node{
			0: domain.NewStartNode(0, "", []domain.Transition{{Target: 1}}),
			1: domain.NewFunctionNode(1, "", domain.FunctionNodeSpec{FunctionName: "return_hello_world"}, []domain.Transition{{Target: 2}}),
			2: domain.NewStopNode(2, ""),
		},
		StartIDs: []int{0},
	}
	require.NoError(t, seq.Validate())

	reg := buildRegistry(t, map[string]pluginapi.Function{
		"return_hello_world": func(ctx context.Context, kwargs map[string]any) (any, error) {
			return "Hello world!", nil
		},
	}, nil)

	r := New(seq, reg, nil, logger.Discard())
	require.NoError(t, r.Run(context.Background()))
	assert.Equal(t, StatusStopped, r.Status())

	results := r.Variables()[domain.ResultsVar].(map[int]*domain.FunctionNodeResult)
	require.Contains(t, results, 1)
	assert.True(t, results[1].Success())
	assert.Equal(t, "Hello world!", results[1].Returned)
}

func TestRunner_ScenarioTwo_Variables(t *testing.T) {
	seq := &domain.Sequence{
		Nodes: map[int]domain.Node{
			0: domain.NewStartNode(0, "", []domain.Transition{{Target: 1}}),
			1: domain.NewVariableNode(1, "", []domain.Assignment{
				{Name: "spam", Expr: "'egg'"},
				{Name: "none", Expr: "nil"},
				{Name: "number", Expr: "1+1"},
				{Name: "statement", Expr: "true"},
			}, []domain.Transition{{Target: 2}}),
			2: domain.NewStopNode(2, ""),
		},
		StartIDs: []int{0},
	}
	require.NoError(t, seq.Validate())

	reg := buildRegistry(t, nil, nil)
	r := New(seq, reg, nil, logger.Discard())
	require.NoError(t, r.Run(context.Background()))

	vars := r.Variables()
	assert.Equal(t, "egg", vars["spam"])
	assert.Nil(t, vars["none"])
	assert.Equal(t, 2, vars["number"])
	assert.Equal(t, true, vars["statement"])
}

func TestRunner_ScenarioThree_ReadOnlyViolation(t *testing.T) {
	seq := &domain.Sequence{
		Nodes: map[int]domain.Node{
			0: domain.NewStartNode(0, "", []domain.Transition{{Target: 1}}),
			1: domain.NewVariableNode(1, "", []domain.Assignment{{Name: "c", Expr: "1"}}, []domain.Transition{{Target: 2}}),
			2: domain.NewStopNode(2, ""),
		},
		StartIDs:  []int{0},
		Constants: map[string]any{"c": 0},
	}
	require.NoError(t, seq.Validate())

	reg := buildRegistry(t, nil, nil)
	r := New(seq, reg, nil, logger.Discard())
	err := r.Run(context.Background())
	require.Error(t, err)
	_, ok := err.(*seqerr.ReadOnlyError)
	assert.True(t, ok)
}

func TestRunner_ScenarioFour_Timeout(t *testing.T) {
	timeout := 0.05
	seq := &domain.Sequence{
		Nodes: map[int]domain.Node{
			0: domain.NewStartNode(0, "", []domain.Transition{{Target: 1}}),
			1: domain.NewFunctionNode(1, "", domain.FunctionNodeSpec{FunctionName: "sleeps", TimeoutSeconds: &timeout}, []domain.Transition{{Target: 2}}),
			2: domain.NewFunctionNode(2, "", domain.FunctionNodeSpec{FunctionName: "trivial"}, []domain.Transition{{Target: 3}}),
			3: domain.NewStopNode(3, ""),
		},
		StartIDs: []int{0},
	}
	require.NoError(t, seq.Validate())

	reg := buildRegistry(t, map[string]pluginapi.Function{
		"sleeps": func(ctx context.Context, kwargs map[string]any) (any, error) {
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
			}
			return "too late", nil
		},
		"trivial": func(ctx context.Context, kwargs map[string]any) (any, error) {
			return "fine", nil
		},
	}, nil)

	r := New(seq, reg, nil, logger.Discard())
	require.NoError(t, r.Run(context.Background()))

	results := r.Variables()[domain.ResultsVar].(map[int]*domain.FunctionNodeResult)
	require.False(t, results[1].Success())
	_, ok := results[1].Exception.FunctionError.(*seqerr.NodeFunctionTimeout)
	assert.True(t, ok)
	assert.True(t, results[2].Success())
}

func TestRunner_ScenarioFive_ParallelFanOutThenSync(t *testing.T) {
	var mu sync.Mutex
	timestamps := map[int]time.Time{}
	record := func(nid int) pluginapi.Function {
		return func(ctx context.Context, kwargs map[string]any) (any, error) {
			sleep, _ := kwargs["sleep"].(float64)
			time.Sleep(time.Duration(sleep * float64(time.Millisecond)))
			mu.Lock()
			timestamps[nid] = time.Now()
			mu.Unlock()
			return nil, nil
		}
	}

	seq := &domain.Sequence{
		Nodes: map[int]domain.Node{
			0: domain.NewStartNode(0, "", []domain.Transition{{Target: 2}}),
			2: domain.NewFunctionNode(2, "", domain.FunctionNodeSpec{FunctionName: "f2"}, []domain.Transition{{Target: 10}}),
			10: domain.NewParallelSplitNode(10, "", []domain.Transition{{Target: 3}, {Target: 4}}),
			3:  domain.NewFunctionNode(3, "", domain.FunctionNodeSpec{FunctionName: "f3", Kwargs: map[string]any{"sleep": "20.0"}}, []domain.Transition{{Target: 11}}),
			4:  domain.NewFunctionNode(4, "", domain.FunctionNodeSpec{FunctionName: "f4", Kwargs: map[string]any{"sleep": "20.0"}}, []domain.Transition{{Target: 11}}),
			11: domain.NewParallelSyncNode(11, "", []domain.Transition{{Target: 5}}),
			5:  domain.NewFunctionNode(5, "", domain.FunctionNodeSpec{FunctionName: "f5"}, []domain.Transition{{Target: 6}}),
			6:  domain.NewStopNode(6, ""),
		},
		StartIDs: []int{0},
	}
	require.NoError(t, seq.Validate())

	reg := buildRegistry(t, map[string]pluginapi.Function{
		"f2": record(2), "f3": record(3), "f4": record(4), "f5": record(5),
	}, nil)

	r := New(seq, reg, nil, logger.Discard())
	require.NoError(t, r.Run(context.Background()))

	assert.True(t, timestamps[3].After(timestamps[2]))
	assert.True(t, timestamps[4].After(timestamps[2]))
	assert.True(t, timestamps[5].After(timestamps[3]))
	assert.True(t, timestamps[5].After(timestamps[4]))
}

func TestRunner_ScenarioSix_CountingLoop(t *testing.T) {
	dir := t.TempDir()
	outFile := filepath.Join(dir, "output")

	seq := &domain.Sequence{
		Nodes: map[int]domain.Node{
			0: domain.NewStartNode(0, "", []domain.Transition{{Target: 1}}),
			1: domain.NewVariableNode(1, "", []domain.Assignment{{Name: "counter", Expr: "1"}}, []domain.Transition{{Target: 2}}),
			2: domain.NewFunctionNode(2, "", domain.FunctionNodeSpec{FunctionName: "append", Kwargs: map[string]any{"arg": "counter"}}, []domain.Transition{{Target: 3}}),
			3: domain.NewVariableNode(3, "", []domain.Assignment{{Name: "counter", Expr: "counter + 1"}}, []domain.Transition{
				{Target: 2, Condition: "counter <= 10"},
				{Target: 4, Condition: "counter > 10"},
			}),
			4: domain.NewStopNode(4, ""),
		},
		StartIDs: []int{0},
	}
	require.NoError(t, seq.Validate())

	reg := buildRegistry(t, map[string]pluginapi.Function{
		"append": func(ctx context.Context, kwargs map[string]any) (any, error) {
			f, err := os.OpenFile(outFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
			if err != nil {
				return nil, err
			}
			defer f.Close()
			_, err = fmt.Fprintf(f, "%v\n", kwargs["arg"])
			return nil, err
		},
	}, nil)

	r := New(seq, reg, nil, logger.Discard())
	require.NoError(t, r.Run(context.Background()))

	content, err := os.ReadFile(outFile)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(content)), "\n")
	require.Len(t, lines, 10)
	for i, line := range lines {
		assert.Equal(t, fmt.Sprintf("%d", i+1), line)
	}
}

func TestRunner_TestNodeFailureRaisesAtEnd(t *testing.T) {
	seq := &domain.Sequence{
		Nodes: map[int]domain.Node{
			0: domain.NewStartNode(0, "", []domain.Transition{{Target: 1}}),
			1: domain.NewFunctionNode(1, "", domain.FunctionNodeSpec{FunctionName: "fails", IsTest: true}, []domain.Transition{{Target: 2}}),
			2: domain.NewStopNode(2, ""),
		},
		StartIDs: []int{0},
	}
	require.NoError(t, seq.Validate())

	reg := buildRegistry(t, map[string]pluginapi.Function{
		"fails": func(ctx context.Context, kwargs map[string]any) (any, error) {
			return nil, fmt.Errorf("intentional failure")
		},
	}, nil)

	r := New(seq, reg, nil, logger.Discard())
	err := r.Run(context.Background())
	require.Error(t, err)
	_, ok := err.(*seqerr.TestSequenceFailed)
	assert.True(t, ok)
}

// buildRegistry builds a *registry.Registry directly from in-memory
// functions/wrappers, since a real one requires a compiled Go plugin.
func buildRegistry(t *testing.T, functions map[string]pluginapi.Function, wrappers map[string]pluginapi.WrapperConstructor) *registry.Registry {
	t.Helper()
	return registry.NewForTesting(functions, wrappers)
}
