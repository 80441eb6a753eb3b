// Package wrapper implements the ordered pre/post protocol that wraps a
// Function node's invocation. A Function node's wrapper_class list is
// instantiated and run in two passes:
//
//  1. Pre-phase, in order: evaluate the wrapper's kwargs, construct it,
//     call Pre. A failure at any step (construction or Pre itself)
//     stops the remaining pre-phase and the function itself is never
//     invoked; the wrapper whose Pre failed is excluded from the
//     post-phase, since its setup never completed.
//  2. Post-phase, in order, restricted to wrappers whose Pre succeeded.
//     A Post failure does not stop later Posts from running.
package wrapper

import (
	"context"

	"github.com/nodeflow/seqrun/internal/domain"
	seqerr "github.com/nodeflow/seqrun/internal/domain/errors"
	"github.com/nodeflow/seqrun/internal/pluginapi"
)

// ConstructorLookup resolves a wrapper class name to its constructor;
// internal/registry.Registry.GetWrapperConstructor satisfies it.
type ConstructorLookup func(name string) (pluginapi.WrapperConstructor, error)

// Evaluator is the expression-evaluation capability the pre-phase needs
// to resolve a wrapper's constructor kwargs; internal/eval.Evaluator
// satisfies it.
type Evaluator interface {
	Evaluate(raw any, vars map[string]any) (any, error)
}

// instance is one successfully-constructed wrapper, carried from the
// pre-phase into the post-phase.
type instance struct {
	name string
	w    pluginapi.Wrapper
}

// Stack is what RunPrePhase returns: the wrappers whose Pre succeeded,
// in order, for RunPostPhase, plus the wrapper pre-results map
// (variables["wrappers"][name]). On a pre-phase error, the function
// must not be invoked, but the caller still runs RunPostPhase for the
// wrappers already in the stack.
type Stack struct {
	instances []instance
	Results   map[string]any
}

// RunPrePhase executes the ordered pre-phase of specs and returns the
// Stack (for post-phase execution) together with the first error
// encountered, wrapped as a NodeWrapperInitError or NodeWrapperPreError.
// Once a wrapper's Pre fails (or its construction fails), no further
// pre-phase entries run and the function itself is skipped.
func RunPrePhase(ctx context.Context, specs []domain.WrapperSpec, lookup ConstructorLookup, evalr Evaluator, vars map[string]any) (*Stack, error) {
	stack := &Stack{Results: make(map[string]any, len(specs))}

	for _, spec := range specs {
		ctor, err := lookup(spec.ClassName)
		if err != nil {
			return stack, &seqerr.NodeWrapperInitError{WrapperName: spec.ClassName, Cause: err}
		}

		kwargs, err := evaluateKwargs(spec.Kwargs, evalr, vars)
		if err != nil {
			return stack, &seqerr.NodeWrapperInitError{WrapperName: spec.ClassName, Cause: err}
		}

		w, err := ctor(kwargs)
		if err != nil {
			return stack, &seqerr.NodeWrapperInitError{WrapperName: spec.ClassName, Cause: err}
		}

		ret, err := w.Pre(ctx)
		if err != nil {
			return stack, &seqerr.NodeWrapperPreError{WrapperName: spec.ClassName, Cause: err}
		}

		stack.instances = append(stack.instances, instance{name: spec.ClassName, w: w})
		stack.Results[spec.ClassName] = ret
	}

	return stack, nil
}

// RunPostPhase runs Post, in order, only for wrappers whose Pre
// succeeded; a wrapper whose Pre failed never appears in the stack and
// never receives a Post call. It returns the first Post error
// encountered; later Posts still run.
func (s *Stack) RunPostPhase(ctx context.Context) error {
	var first error
	for _, inst := range s.instances {
		if err := inst.w.Post(ctx); err != nil && first == nil {
			first = &seqerr.NodeWrapperPostError{WrapperName: inst.name, Cause: err}
		}
	}
	return first
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
