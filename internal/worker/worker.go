// Package worker runs a single Function node activation in isolation.
// Each activation gets its own goroutine, a snapshot of variables
// (never the live instance), and a context bounded by the node's
// timeout, if any. A panic in user code is recovered and turned into a
// FunctionNodeResult rather than crashing the run.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/nodeflow/seqrun/internal/domain"
	seqerr "github.com/nodeflow/seqrun/internal/domain/errors"
	"github.com/nodeflow/seqrun/internal/pluginapi"
	"github.com/nodeflow/seqrun/internal/wrapper"
)

// Evaluator is the capability a worker needs to resolve a function's
// kwargs against the variables snapshot it was handed.
type Evaluator interface {
	Evaluate(raw any, vars map[string]any) (any, error)
}

// FunctionLookup resolves a function name to its callable;
// internal/registry.Registry.GetFunction satisfies it.
type FunctionLookup func(name string) (pluginapi.Function, error)

// Run activates one Function node: it runs the wrapper pre-phase,
// invokes the function (unless skipped by a pre-phase failure), runs
// the wrapper post-phase, and composes the result. It always returns a
// non-nil *domain.FunctionNodeResult; the node's own NID is set as
// Result.NID for the scheduler to key its results map by.
//
// Run itself runs synchronously; the caller (the scheduler) is
// responsible for invoking it in its own goroutine so multiple
// Function activations proceed concurrently.
func Run(ctx context.Context, node *domain.FunctionNode, varsSnapshot map[string]any, evalr Evaluator, lookupFn FunctionLookup, lookupWrapper wrapper.ConstructorLookup) *domain.FunctionNodeResult {
	result := &domain.FunctionNodeResult{NID: node.NID()}

	if node.TimeoutSeconds != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(*node.TimeoutSeconds*float64(time.Second)))
		defer cancel()
	}

	stack, preErr := wrapper.RunPrePhase(ctx, node.Wrappers, lookupWrapper, evalr, varsSnapshot)
	if len(stack.Results) > 0 || len(node.Wrappers) > 0 {
		varsSnapshot = withWrapperResults(varsSnapshot, stack.Results)
	}

	var funcErr error
	if preErr == nil {
		funcErr = invoke(ctx, node, varsSnapshot, evalr, lookupFn, result)
	}

	postErr := stack.RunPostPhase(ctx)

	if funcErr != nil || preErr != nil || postErr != nil {
		info := &domain.ExceptionInfo{FunctionError: funcErr}
		if preErr != nil {
			// Pre errors take precedence over post errors in the wrapper
			// slot; the function itself was never invoked.
			info.WrapperError = preErr
		} else {
			info.WrapperError = postErr
		}
		result.Exception = info
	}

	return result
}

// invoke evaluates kwargs, calls the function (recovering any panic),
// honors ctx's deadline, and stores the outcome on result. It returns
// the function-level error, if any (timeout, panic, or the function's
// own returned error).
func invoke(ctx context.Context, node *domain.FunctionNode, vars map[string]any, evalr Evaluator, lookupFn FunctionLookup, result *domain.FunctionNodeResult) error {
	fn, err := lookupFn(node.FunctionName)
	if err != nil {
		return err
	}

	kwargs, err := evaluateKwargs(node.Kwargs, evalr, vars)
	if err != nil {
		return err
	}

	type outcome struct {
		val any
		err error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("function %s panicked: %v", node.FunctionName, r)}
			}
		}()
		val, err := fn(ctx, kwargs)
		done <- outcome{val: val, err: err}
	}()

	select {
	case <-ctx.Done():
		timeout := "none"
		if node.TimeoutSeconds != nil {
			timeout = fmt.Sprintf("%gs", *node.TimeoutSeconds)
		}
		return &seqerr.NodeFunctionTimeout{NID: node.NID(), FunctionName: node.FunctionName, Timeout: timeout}
	case out := <-done:
		if out.err != nil {
			return out.err
		}
		result.Returned = out.val
		return nil
	}
}

func evaluateKwargs(raw map[string]any, evalr Evaluator, vars map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(raw))
	for k, v := range raw {
		val, err := evalr.Evaluate(v, vars)
		if err != nil {
			return nil, err
		}
		out[k] = val
	}
	return out, nil
}

// withWrapperResults returns a shallow copy of vars with
// vars["wrappers"] merged in, so kwargs expressions and the function
// itself can reference e.g. wrappers.my_wrapper.
func withWrapperResults(vars map[string]any, wrapperResults map[string]any) map[string]any {
	out := make(map[string]any, len(vars)+1)
	for k, v := range vars {
		out[k] = v
	}
	out["wrappers"] = wrapperResults
	return out
}
