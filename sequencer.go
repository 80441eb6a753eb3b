// Package seqrun is the public entry point of the sequence execution
// engine: load a sequence description, resolve its function and
// wrapper dependencies from a code directory, and Run it to completion.
package seqrun

import (
	"context"

	"github.com/nodeflow/seqrun/internal/config"
	"github.com/nodeflow/seqrun/internal/domain"
	"github.com/nodeflow/seqrun/internal/logger"
	"github.com/nodeflow/seqrun/internal/record"
	"github.com/nodeflow/seqrun/internal/registry"
	"github.com/nodeflow/seqrun/internal/runner"
)

// Status mirrors the scheduler's lifecycle state.
type Status = runner.Status

const (
	StatusInitialized = runner.StatusInitialized
	StatusRunning     = runner.StatusRunning
	StatusStopped     = runner.StatusStopped
)

// Sequence is a loaded, validated sequence description, ready to be
// turned into a Runner.
type Sequence struct {
	seq *domain.Sequence
}

// LoadSequenceFile parses and validates a sequence description file.
func LoadSequenceFile(path string) (*Sequence, error) {
	seq, err := config.LoadFile(path)
	if err != nil {
		return nil, err
	}
	return &Sequence{seq: seq}, nil
}

// LoadSequence parses and validates a sequence description from raw
// YAML bytes.
func LoadSequence(raw []byte) (*Sequence, error) {
	seq, err := config.Parse(raw)
	if err != nil {
		return nil, err
	}
	return &Sequence{seq: seq}, nil
}

// Name returns the sequence's optional display name.
func (s *Sequence) Name() string { return s.seq.Name }

// NeededFunctions and NeededWrappers report exactly the names the
// function registry must resolve for this sequence.
func (s *Sequence) NeededFunctions() []string {
	functions, _ := s.seq.ResolveNeeded()
	return functions
}

func (s *Sequence) NeededWrappers() []string {
	_, wrappers := s.seq.ResolveNeeded()
	return wrappers
}

// Options configures a Runner.
type Options struct {
	// SourceDir is the function-source directory.
	SourceDir string
	// PluginPath is the compiled plugin (built out-of-band from
	// SourceDir) providing the runtime symbols.
	PluginPath string
	// Constants are caller-supplied read-only variables, merged with
	// the sequence's own constants.
	Constants map[string]any
	// Logger receives structured progress events; defaults to a
	// discarding logger if nil.
	Logger logger.Logger
}

// Runner drives one Sequence to completion and exposes its resulting
// variables for inspection.
type Runner struct {
	r     *runner.Runner
	RunID string
}

// NewRunner resolves opts.SourceDir/opts.PluginPath against the
// sequence's needed functions and wrappers and constructs a Runner.
// RunID is generated once here, before the run starts, so it can be
// logged from the very first dispatch and later attached to a
// record.RunSummary for the same run.
func (s *Sequence) NewRunner(opts Options) (*Runner, error) {
	functions, wrappers := s.seq.ResolveNeeded()

	reg, err := registry.Load(opts.SourceDir, opts.PluginPath, functions, wrappers)
	if err != nil {
		return nil, err
	}

	log := opts.Logger
	if log == nil {
		log = logger.Discard()
	}

	return &Runner{r: runner.New(s.seq, reg, opts.Constants, log), RunID: record.NewRunID()}, nil
}

// Run drives the sequence to completion, blocking until it terminates.
// It returns the first run-fatal error; Function and wrapper errors
// are recorded per-node and do not surface here unless a test node
// failed, in which case a TestSequenceFailed error is returned.
func (r *Runner) Run(ctx context.Context) error {
	return r.r.Run(ctx)
}

// Status reports the scheduler's current lifecycle state.
func (r *Runner) Status() Status { return r.r.Status() }

// FunctionCount reports how many distinct Function nodes completed at
// least one activation during the run.
func (r *Runner) FunctionCount() int { return r.r.FunctionCount() }

// FailedTests reports how many is_test Function nodes failed during
// the run.
func (r *Runner) FailedTests() int { return r.r.FailedTests() }

// Variables returns the final variable environment after Run returns.
// Callers must not mutate the returned map.
func (r *Runner) Variables() map[string]any {
	return r.r.Variables()
}
