// Package runner implements the scheduler: the single-threaded loop that
// owns the new-nodes frontier and the running-function-nodes map,
// dispatches nodes by variant, and joins Function results off a single
// MPSC channel. This is deliberately not a wave/barrier executor —
// every node variant other than Function is handled synchronously on
// the scheduler goroutine the moment it reaches the frontier, and
// Function nodes alone run concurrently, reporting back on resultCh.
package runner

import (
	"context"

	"github.com/nodeflow/seqrun/internal/domain"
	seqerr "github.com/nodeflow/seqrun/internal/domain/errors"
	"github.com/nodeflow/seqrun/internal/eval"
	"github.com/nodeflow/seqrun/internal/logger"
	"github.com/nodeflow/seqrun/internal/registry"
	"github.com/nodeflow/seqrun/internal/wrapper"
	"github.com/nodeflow/seqrun/internal/worker"
)

// Status is the scheduler's lifecycle state.
type Status string

const (
	StatusInitialized Status = "initialized"
	StatusRunning     Status = "running"
	StatusStopped     Status = "stopped"
)

// pendingNode is one frontier entry: the node to dispatch plus the id
// of the node whose transition activated it.
type pendingNode struct {
	nid      int
	previous *int
}

// Runner drives one validated Sequence to completion.
type Runner struct {
	seq       *domain.Sequence
	vars      *domain.Variables
	evaluator *eval.Evaluator
	reg       *registry.Registry
	log       logger.Logger

	status Status

	newNodes     []pendingNode
	runningNodes map[int]struct{}
	resultCh     chan domain.FunctionNodeResult

	failedTestNodes []int
}

// New constructs a Runner over a validated Sequence. callerConstants are
// merged with sequence constants into the read-only variable set.
func New(seq *domain.Sequence, reg *registry.Registry, callerConstants map[string]any, log logger.Logger) *Runner {
	return &Runner{
		seq:          seq,
		vars:         domain.NewVariables(seq.Constants, callerConstants),
		evaluator:    eval.New(),
		reg:          reg,
		log:          log,
		status:       StatusInitialized,
		runningNodes: make(map[int]struct{}),
		resultCh:     make(chan domain.FunctionNodeResult),
	}
}

// Variables exposes the live variable environment for inspection after
// Run returns. Callers must not mutate the returned map.
func (r *Runner) Variables() map[string]any {
	return r.vars.All()
}

// Status reports the scheduler's current lifecycle state.
func (r *Runner) Status() Status {
	return r.status
}

// FunctionCount reports how many distinct Function nodes completed at
// least one activation (successfully or not) during the run; repeated
// activations of one node in a loop count once.
func (r *Runner) FunctionCount() int {
	results, _ := r.vars.All()[domain.ResultsVar].(map[int]*domain.FunctionNodeResult)
	return len(results)
}

// FailedTests reports how many is_test Function nodes failed during
// the run.
func (r *Runner) FailedTests() int {
	return len(r.failedTestNodes)
}

// Run drives the sequence to completion. It returns the first
// run-fatal error encountered (graph-level errors, or TestSequenceFailed
// collected at the end); Function errors and wrapper errors are
// recorded per-node and do not stop the run.
func (r *Runner) Run(ctx context.Context) error {
	r.status = StatusRunning
	defer func() { r.status = StatusStopped }()

	for _, nid := range r.seq.SortedStartIDs() {
		r.newNodes = append(r.newNodes, pendingNode{nid: nid})
	}

	for len(r.newNodes) > 0 || len(r.runningNodes) > 0 {
		drain := r.newNodes
		r.newNodes = nil
		for _, pn := range drain {
			if err := r.dispatch(ctx, pn); err != nil {
				return err
			}
		}

		if len(r.runningNodes) > 0 {
			result := <-r.resultCh
			if err := r.handleResult(result); err != nil {
				return err
			}
		}
	}

	if len(r.failedTestNodes) > 0 {
		return &seqerr.TestSequenceFailed{FailedNodeIDs: r.failedTestNodes}
	}
	return nil
}

// dispatch processes one frontier entry according to its node kind's
// dispatch rules.
func (r *Runner) dispatch(ctx context.Context, pn pendingNode) error {
	n, ok := r.seq.Node(pn.nid)
	if !ok {
		return seqerr.NewSequenceFileError("dispatch: unknown node %d", pn.nid)
	}
	n.SetPreviousNodeID(pn.previous)

	switch node := n.(type) {
	case *domain.StartNode:
		return r.dispatchSimpleTransitional(node, false)

	case *domain.StopNode:
		r.log.Info("node reached stop", "nid", node.NID())
		return nil

	case *domain.ParallelSplitNode:
		return r.dispatchParallelSplit(node)

	case *domain.ParallelSyncNode:
		return r.dispatchParallelSync(node)

	case *domain.VariableNode:
		return r.dispatchVariable(node)

	case *domain.FunctionNode:
		r.dispatchFunction(ctx, node)
		return nil

	default:
		return &seqerr.UnknownNodeTypeError{NodeType: string(n.Kind()), NID: n.NID()}
	}
}

func (r *Runner) dispatchSimpleTransitional(n domain.Transitional, allowMultiple bool) error {
	winners, err := domain.ResolveTransitions(n, r.vars.All(), r.evaluator, allowMultiple)
	if err != nil {
		return err
	}
	for _, target := range winners {
		r.newNodes = append(r.newNodes, pendingNode{nid: target})
	}
	return nil
}

func (r *Runner) dispatchParallelSplit(n *domain.ParallelSplitNode) error {
	winners, err := domain.ResolveTransitions(n, r.vars.All(), r.evaluator, true)
	if err != nil {
		return err
	}
	prev := n.NID()
	for _, target := range winners {
		r.newNodes = append(r.newNodes, pendingNode{nid: target, previous: &prev})
	}
	return nil
}

func (r *Runner) dispatchParallelSync(n *domain.ParallelSyncNode) error {
	prevID := n.PreviousNodeID()
	if prevID == nil {
		return &seqerr.PreviousNodeUndefined{NID: n.NID()}
	}
	if len(n.NodesToSync) == 0 {
		return &seqerr.ParallelSyncFailure{NID: n.NID()}
	}
	if !n.Arrive(*prevID) {
		return nil // still awaiting remaining arrivals
	}

	winners, err := domain.ResolveTransitions(n, r.vars.All(), r.evaluator, false)
	if err != nil {
		return err
	}
	prev := n.NID()
	r.newNodes = append(r.newNodes, pendingNode{nid: winners[0], previous: &prev})
	return nil
}

func (r *Runner) dispatchVariable(n *domain.VariableNode) error {
	for _, a := range n.Assignments {
		val, err := r.evaluator.Evaluate(a.Expr, r.vars.All())
		if err != nil {
			return err
		}
		if err := r.vars.Assign(n.NID(), a.Name, val); err != nil {
			return err
		}
	}

	winners, err := domain.ResolveTransitions(n, r.vars.All(), r.evaluator, false)
	if err != nil {
		return err
	}
	prev := n.NID()
	r.newNodes = append(r.newNodes, pendingNode{nid: winners[0], previous: &prev})
	return nil
}

// dispatchFunction starts an isolated worker invocation for n and
// records it as running; it never returns a fatal error itself (the
// worker's own failures are recorded on the result instead, per §4.7).
func (r *Runner) dispatchFunction(ctx context.Context, n *domain.FunctionNode) {
	r.runningNodes[n.NID()] = struct{}{}
	snapshot := r.vars.Snapshot()

	lookupFn := worker.FunctionLookup(r.reg.GetFunction)
	lookupWrapper := wrapper.ConstructorLookup(r.reg.GetWrapperConstructor)

	go func() {
		result := worker.Run(ctx, n, snapshot, r.evaluator, lookupFn, lookupWrapper)
		r.resultCh <- *result
	}()
}

// handleResult folds one completed node's result into the variable
// environment and advances the frontier along its satisfied transitions.
func (r *Runner) handleResult(result domain.FunctionNodeResult) error {
	n, ok := r.seq.Node(result.NID)
	if !ok {
		return seqerr.NewSequenceFileError("result for unknown node %d", result.NID)
	}
	fn, ok := n.(*domain.FunctionNode)
	if !ok {
		return seqerr.NewSequenceFileError("result for non-function node %d", result.NID)
	}

	r.vars.RecordResult(result.NID, &result)
	if fn.ReturnVarName != "" {
		r.vars.ForceSet(fn.ReturnVarName, result.Returned)
	}

	if fn.IsTest && !result.Success() {
		r.failedTestNodes = append(r.failedTestNodes, fn.NID())
	}

	delete(r.runningNodes, fn.NID())

	winners, err := domain.ResolveTransitions(fn, r.vars.All(), r.evaluator, false)
	if err != nil {
		return err
	}
	prev := fn.NID()
	r.newNodes = append(r.newNodes, pendingNode{nid: winners[0], previous: &prev})
	return nil
}
