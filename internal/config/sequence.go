// Package config parses a sequence description file into a validated
// domain.Sequence. The on-disk schema is YAML, via gopkg.in/yaml.v3.
package config

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/nodeflow/seqrun/internal/domain"
	seqerr "github.com/nodeflow/seqrun/internal/domain/errors"
)

// fileSchema mirrors the sequence description document shape directly;
// yaml tags match the field names a sequence file uses.
type fileSchema struct {
	Sequence struct {
		Info struct {
			Name string `yaml:"name"`
		} `yaml:"info"`
		Constants map[string]any  `yaml:"constants"`
		Nodes     []nodeSchema    `yaml:"nodes"`
	} `yaml:"sequence"`
}

type transitionSchema struct {
	Target    int `yaml:"target"`
	Condition any `yaml:"condition"`
}

type nodeSchema struct {
	ID          int                `yaml:"id"`
	Type        string             `yaml:"type"`
	Name        string             `yaml:"name"`
	Transitions []transitionSchema `yaml:"transitions"`

	// function-only
	Function string         `yaml:"function"`
	Arguments map[string]any `yaml:"arguments"`
	Timeout   *float64       `yaml:"timeout"`
	Return    string         `yaml:"return"`
	Wrappers  []any          `yaml:"wrappers"`
	IsTest    bool           `yaml:"is_test"`

	// variable-only; kept as a node so the mapping's key order survives
	Variables yaml.Node `yaml:"variables"`
}

// LoadFile reads and parses the sequence description at path, returning
// a validated domain.Sequence. Validation failures and schema errors
// are both reported as *errors.SequenceFileError.
func LoadFile(path string) (*domain.Sequence, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, seqerr.NewSequenceFileError("reading %s: %v", path, err)
	}
	return Parse(raw)
}

// Parse builds a validated domain.Sequence from raw YAML bytes.
func Parse(raw []byte) (*domain.Sequence, error) {
	var doc fileSchema
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, seqerr.NewSequenceFileError("parsing sequence file: %v", err)
	}

	seq := &domain.Sequence{
		Name:      doc.Sequence.Info.Name,
		Nodes:     make(map[int]domain.Node, len(doc.Sequence.Nodes)),
		Constants: doc.Sequence.Constants,
	}

	for _, ns := range doc.Sequence.Nodes {
		n, err := buildNode(ns)
		if err != nil {
			return nil, err
		}
		if _, dup := seq.Nodes[ns.ID]; dup {
			return nil, seqerr.NewSequenceFileError("duplicate node id %d", ns.ID)
		}
		seq.Nodes[ns.ID] = n
		if n.Kind() == domain.KindStart {
			seq.StartIDs = append(seq.StartIDs, ns.ID)
		}
	}
	sort.Ints(seq.StartIDs)

	if err := seq.Validate(); err != nil {
		return nil, err
	}
	return seq, nil
}

func buildNode(ns nodeSchema) (domain.Node, error) {
	transitions := make([]domain.Transition, 0, len(ns.Transitions))
	for _, t := range ns.Transitions {
		transitions = append(transitions, domain.Transition{Target: t.Target, Condition: t.Condition})
	}

	switch ns.Type {
	case "start":
		return domain.NewStartNode(ns.ID, ns.Name, transitions), nil
	case "stop":
		return domain.NewStopNode(ns.ID, ns.Name), nil
	case "parallel_split":
		return domain.NewParallelSplitNode(ns.ID, ns.Name, transitions), nil
	case "parallel_sync":
		return domain.NewParallelSyncNode(ns.ID, ns.Name, transitions), nil
	case "variable":
		vars := ns.Variables
		if vars.Kind != 0 && vars.Kind != yaml.MappingNode && vars.ShortTag() != "!!null" {
			return nil, seqerr.NewSequenceFileError("node %d: variables must be a mapping", ns.ID)
		}
		assignments := make([]domain.Assignment, 0, len(vars.Content)/2)
		for i := 0; i+1 < len(vars.Content); i += 2 {
			key, val := vars.Content[i], vars.Content[i+1]
			if key.Kind != yaml.ScalarNode || key.ShortTag() != "!!str" {
				return nil, seqerr.NewSequenceFileError("node %d: variable name must be a string", ns.ID)
			}
			var expr any
			if err := val.Decode(&expr); err != nil {
				return nil, seqerr.NewSequenceFileError("node %d: variable %s: %v", ns.ID, key.Value, err)
			}
			assignments = append(assignments, domain.Assignment{Name: key.Value, Expr: expr})
		}
		return domain.NewVariableNode(ns.ID, ns.Name, assignments, transitions), nil
	case "function":
		wrappers, err := buildWrappers(ns.ID, ns.Wrappers)
		if err != nil {
			return nil, err
		}
		spec := domain.FunctionNodeSpec{
			FunctionName:   ns.Function,
			Kwargs:         ns.Arguments,
			TimeoutSeconds: ns.Timeout,
			ReturnVarName:  ns.Return,
			Wrappers:       wrappers,
			IsTest:         ns.IsTest,
		}
		return domain.NewFunctionNode(ns.ID, ns.Name, spec, transitions), nil
	default:
		return nil, seqerr.NewSequenceFileError("node %d has unknown type %q", ns.ID, ns.Type)
	}
}

// buildWrappers accepts each entry either as a bare class name string
// (no constructor kwargs) or as a single-key mapping
// {ClassName: {arg: expr, ...}}.
func buildWrappers(nid int, raw []any) ([]domain.WrapperSpec, error) {
	specs := make([]domain.WrapperSpec, 0, len(raw))
	for _, entry := range raw {
		switch v := entry.(type) {
		case string:
			specs = append(specs, domain.WrapperSpec{ClassName: v})
		case map[string]any:
			if len(v) != 1 {
				return nil, seqerr.NewSequenceFileError("node %d: wrapper mapping must have exactly one key", nid)
			}
			for name, kwargsRaw := range v {
				kwargs, _ := kwargsRaw.(map[string]any)
				specs = append(specs, domain.WrapperSpec{ClassName: name, Kwargs: kwargs})
			}
		default:
			return nil, seqerr.NewSequenceFileError("node %d: invalid wrapper entry %v", nid, fmt.Sprintf("%T", v))
		}
	}
	return specs, nil
}
