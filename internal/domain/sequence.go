package domain

import (
	"fmt"
	"sort"

	seqerr "github.com/nodeflow/seqrun/internal/domain/errors"
)

// Sequence is the validated, in-memory graph description. It is built
// once by internal/config and never mutated afterwards;
// node state that does change during a run (previous_node_id,
// ParallelSync bookkeeping) lives on the Node values themselves and is
// touched only by the scheduler goroutine.
type Sequence struct {
	Name      string
	Nodes     map[int]Node
	StartIDs  []int
	Constants map[string]any
}

// Node looks up a node by id.
func (s *Sequence) Node(nid int) (Node, bool) {
	n, ok := s.Nodes[nid]
	return n, ok
}

// Validate enforces the graph invariants:
//  1. nid values are unique (guaranteed by map construction upstream)
//  2. every transition target refers to an existing node
//  3. no transition targets a Start node
//  4. Start nodes have no inbound transitions (implied by 3)
//  5. Stop nodes have no outbound transitions (implied by type)
//  6. every non-Stop node has >= 1 outbound transition
//  7. every ParallelSync's NodesToSync equals the graph-level inbound set
func (s *Sequence) Validate() error {
	if len(s.StartIDs) == 0 {
		return seqerr.NewSequenceFileError("sequence has no start node")
	}

	inbound := make(map[int]map[int]struct{}) // target -> set of sources

	for nid, n := range s.Nodes {
		t, ok := n.(Transitional)
		if !ok {
			continue // StopNode: invariant 5 holds by construction
		}
		transitions := t.Transitions()
		if len(transitions) == 0 {
			return seqerr.NewSequenceFileError("node %d (%s) has no outbound transition", nid, n.Kind())
		}
		for _, tr := range transitions {
			target, ok := s.Nodes[tr.Target]
			if !ok {
				return seqerr.NewSequenceFileError("node %d has a transition to unknown node %d", nid, tr.Target)
			}
			if target.Kind() == KindStart {
				return seqerr.NewSequenceFileError("node %d has a transition into start node %d", nid, tr.Target)
			}
			if inbound[tr.Target] == nil {
				inbound[tr.Target] = make(map[int]struct{})
			}
			inbound[tr.Target][nid] = struct{}{}
		}
	}

	for nid, n := range s.Nodes {
		sync, ok := n.(*ParallelSyncNode)
		if !ok {
			continue
		}
		want := inbound[nid]
		if len(want) == 0 {
			return seqerr.NewSequenceFileError("parallel sync node %d has no inbound transitions in the graph", nid)
		}
		got := make(map[int]struct{}, len(want))
		for id := range want {
			got[id] = struct{}{}
		}
		sync.NodesToSync = got
	}

	return nil
}

// SortedStartIDs returns StartIDs in ascending order, for deterministic
// initialization of the scheduler frontier.
func (s *Sequence) SortedStartIDs() []int {
	out := append([]int(nil), s.StartIDs...)
	sort.Ints(out)
	return out
}

// ResolveNeeded returns the sorted, de-duplicated set of function names
// and wrapper class names referenced anywhere in the sequence, i.e.
// exactly the names the function registry needs to resolve. Only names
// referenced by the loaded sequence are resolved.
func (s *Sequence) ResolveNeeded() (functions []string, wrappers []string) {
	fnSet := make(map[string]struct{})
	wrapSet := make(map[string]struct{})
	for _, n := range s.Nodes {
		fn, ok := n.(*FunctionNode)
		if !ok {
			continue
		}
		fnSet[fn.FunctionName] = struct{}{}
		for _, w := range fn.Wrappers {
			wrapSet[w.ClassName] = struct{}{}
		}
	}
	functions = setToSortedSlice(fnSet)
	wrappers = setToSortedSlice(wrapSet)
	return functions, wrappers
}

func setToSortedSlice(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// String implements fmt.Stringer for debug output.
func (s *Sequence) String() string {
	return fmt.Sprintf("Sequence(name=%q, nodes=%d, starts=%v)", s.Name, len(s.Nodes), s.StartIDs)
}
