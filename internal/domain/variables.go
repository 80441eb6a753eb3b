package domain

import (
	seqerr "github.com/nodeflow/seqrun/internal/domain/errors"
)

// ResultsVar is the reserved variable name mapping node ids to
// FunctionNodeResult records.
const ResultsVar = "results"

// Variables is the flat runtime variable environment. It is never
// shared: only the scheduler goroutine reads or writes the live
// instance; workers only ever see a Snapshot. No lock is required for
// that reason, and Variables has none: its accessors are not safe for
// concurrent use.
type Variables struct {
	values   map[string]any
	readOnly map[string]struct{}
}

// NewVariables creates a Variables environment seeded with sequence constants and
// caller-supplied constants (both read-only), plus an empty "results"
// map (also read-only).
func NewVariables(sequenceConstants, callerConstants map[string]any) *Variables {
	values := make(map[string]any, len(sequenceConstants)+len(callerConstants)+1)
	readOnly := make(map[string]struct{}, len(sequenceConstants)+len(callerConstants)+1)

	for k, v := range sequenceConstants {
		values[k] = v
		readOnly[k] = struct{}{}
	}
	for k, v := range callerConstants {
		values[k] = v
		readOnly[k] = struct{}{}
	}
	values[ResultsVar] = make(map[int]*FunctionNodeResult)
	readOnly[ResultsVar] = struct{}{}

	return &Variables{values: values, readOnly: readOnly}
}

// IsReadOnly reports whether name is in {"results"} ∪ constants, the
// read-only set fixed at construction.
func (v *Variables) IsReadOnly(name string) bool {
	_, ok := v.readOnly[name]
	return ok
}

// Get returns the current value of name.
func (v *Variables) Get(name string) (any, bool) {
	val, ok := v.values[name]
	return val, ok
}

// Assign sets a non-read-only variable on behalf of the given node,
// used for the ReadOnlyError's diagnostic context. Assign itself
// enforces the read-only rule defensively so it can never be bypassed
// by a future call site even if a caller forgets to check IsReadOnly.
func (v *Variables) Assign(nid int, name string, value any) error {
	if v.IsReadOnly(name) {
		return &seqerr.ReadOnlyError{NID: nid, Name: name}
	}
	v.values[name] = value
	return nil
}

// RecordResult writes variables["results"][nid] = result. Only the
// scheduler calls this; results is read-only to user code but the
// scheduler itself is privileged to write it.
func (v *Variables) RecordResult(nid int, result *FunctionNodeResult) {
	results := v.values[ResultsVar].(map[int]*FunctionNodeResult)
	results[nid] = result
}

// ForceSet assigns a name bypassing the read-only check; used by the
// scheduler for return_var_name, which — unlike Variable-node
// assignment — is never rejected as a read-only violation.
func (v *Variables) ForceSet(name string, value any) {
	v.values[name] = value
}

// Snapshot returns a shallow copy of the current variables, suitable for
// handing to an isolated worker so user code can never mutate engine
// variables directly. The "results" entry gets its own fresh map so a
// worker goroutine reading it can never race with the scheduler's later
// writes to the live results map; the FunctionNodeResult values
// themselves are treated as immutable once constructed, so sharing the
// pointers is safe.
func (v *Variables) Snapshot() map[string]any {
	out := make(map[string]any, len(v.values))
	for k, val := range v.values {
		out[k] = val
	}
	if results, ok := v.values[ResultsVar].(map[int]*FunctionNodeResult); ok {
		copied := make(map[int]*FunctionNodeResult, len(results))
		for k, val := range results {
			copied[k] = val
		}
		out[ResultsVar] = copied
	}
	return out
}

// All returns the live variable map. Intended for inspection after Run
// returns; callers must not mutate the returned map.
func (v *Variables) All() map[string]any {
	return v.values
}
