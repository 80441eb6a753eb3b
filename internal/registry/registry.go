// Package registry locates and resolves the function and wrapper symbols
// a sequence references. A function-source directory is scanned
// recursively for top-level func/type declarations by name; the actual
// symbols are then resolved from a Go plugin built from that directory.
// The registry is built once, before a run starts, and is immutable
// afterwards.
package registry

import (
	"context"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"plugin"
	"reflect"
	"sort"
	"strings"

	seqerr "github.com/nodeflow/seqrun/internal/domain/errors"
	"github.com/nodeflow/seqrun/internal/pluginapi"
)

// kind distinguishes the two item types a sequence references, a
// function or a wrapper constructor. It only labels errors: the static
// scan matches the same declarations for both.
type kind int

const (
	kindFunction kind = iota
	kindWrapperConstructor
)

func (k kind) label() string {
	if k == kindFunction {
		return "function"
	}
	return "wrapper"
}

// Registry holds every function and wrapper constructor a sequence
// needs, resolved from a user plugin.
type Registry struct {
	functions          map[string]pluginapi.Function
	wrapperConstructors map[string]pluginapi.WrapperConstructor
}

// Load builds a Registry from the .so plugin built from sourceDir,
// resolving exactly the function and wrapper names the sequence
// references. sourceDir is used only to statically verify each name
// appears exactly once as a top-level declaration; pluginPath is the
// compiled plugin (built out-of-band from sourceDir, e.g. by `go build
// -buildmode=plugin`) that actually provides the runtime symbols.
func Load(sourceDir, pluginPath string, functionNames, wrapperNames []string) (*Registry, error) {
	if err := verifyUnique(sourceDir, functionNames, kindFunction); err != nil {
		return nil, err
	}
	if err := verifyUnique(sourceDir, wrapperNames, kindWrapperConstructor); err != nil {
		return nil, err
	}

	p, err := plugin.Open(pluginPath)
	if err != nil {
		return nil, seqerr.NewSequenceFileError("failed to open function plugin %s: %v", pluginPath, err)
	}

	functions := make(map[string]pluginapi.Function, len(functionNames))
	for _, name := range functionNames {
		sym, err := p.Lookup(name)
		if err != nil {
			return nil, &seqerr.ItemExistenceError{Kind: "function", Name: name, Dir: sourceDir}
		}
		fn, ok := asFunction(sym)
		if !ok {
			return nil, seqerr.NewSequenceFileError("symbol %s does not have the pluginapi.Function shape", name)
		}
		functions[name] = fn
	}

	wrappers := make(map[string]pluginapi.WrapperConstructor, len(wrapperNames))
	for _, name := range wrapperNames {
		sym, err := p.Lookup(name)
		if err != nil {
			return nil, &seqerr.ItemExistenceError{Kind: "wrapper", Name: name, Dir: sourceDir}
		}
		ctor, ok := asWrapperConstructor(sym)
		if !ok {
			return nil, seqerr.NewSequenceFileError("symbol %s does not have the pluginapi.WrapperConstructor shape", name)
		}
		wrappers[name] = ctor
	}

	return &Registry{functions: functions, wrapperConstructors: wrappers}, nil
}

// asFunction adapts a resolved plugin symbol to pluginapi.Function.
// Plugin symbols are resolved across a package boundary (the loaded
// .so is its own compilation of the pluginapi package), so a plain Go
// type assertion against the named pluginapi.Function type is
// unreliable; signature shape is instead checked with reflection,
// which accepts any two-argument func(context.Context, map[string]any)
// returning (any-compatible, error) regardless of whether the source
// declared it as the named pluginapi.Function type or as a bare func.
func asFunction(sym plugin.Symbol) (pluginapi.Function, bool) {
	v := indirect(reflect.ValueOf(sym))
	t := v.Type()
	if v.Kind() != reflect.Func ||
		t.NumIn() != 2 || t.NumOut() != 2 ||
		!t.In(0).Implements(ctxType) ||
		t.In(1) != kwargsType ||
		!t.Out(1).Implements(errType) {
		return nil, false
	}
	return func(ctx context.Context, kwargs map[string]any) (any, error) {
		out := v.Call([]reflect.Value{reflect.ValueOf(ctx), reflect.ValueOf(kwargs)})
		val := out[0].Interface()
		err, _ := out[1].Interface().(error)
		return val, err
	}, true
}

// asWrapperConstructor adapts a resolved plugin symbol to
// pluginapi.WrapperConstructor. The constructor may return any
// concrete type implementing pluginapi.Wrapper, not only the interface
// type itself, since a user's constructor naturally returns its own
// concrete wrapper struct.
func asWrapperConstructor(sym plugin.Symbol) (pluginapi.WrapperConstructor, bool) {
	v := indirect(reflect.ValueOf(sym))
	t := v.Type()
	if v.Kind() != reflect.Func ||
		t.NumIn() != 1 || t.NumOut() != 2 ||
		t.In(0) != kwargsType ||
		!t.Out(0).Implements(wrapperType) ||
		!t.Out(1).Implements(errType) {
		return nil, false
	}
	return func(kwargs map[string]any) (pluginapi.Wrapper, error) {
		out := v.Call([]reflect.Value{reflect.ValueOf(kwargs)})
		w, _ := out[0].Interface().(pluginapi.Wrapper)
		err, _ := out[1].Interface().(error)
		return w, err
	}, true
}

var (
	ctxType     = reflect.TypeOf((*context.Context)(nil)).Elem()
	errType     = reflect.TypeOf((*error)(nil)).Elem()
	wrapperType = reflect.TypeOf((*pluginapi.Wrapper)(nil)).Elem()
	kwargsType  = reflect.TypeOf(map[string]any(nil))
)

func indirect(v reflect.Value) reflect.Value {
	if v.Kind() == reflect.Ptr {
		return v.Elem()
	}
	return v
}

// NewForTesting builds a Registry directly from in-memory functions and
// wrapper constructors, bypassing Load's plugin.Open/ast scan. Go
// plugins can only be resolved from a real compiled .so, so this is the
// seam test code in other packages uses to exercise the scheduler
// against fake functions instead of a built plugin.
func NewForTesting(functions map[string]pluginapi.Function, wrappers map[string]pluginapi.WrapperConstructor) *Registry {
	return &Registry{functions: functions, wrapperConstructors: wrappers}
}

// GetFunction returns the function registered under name.
func (r *Registry) GetFunction(name string) (pluginapi.Function, error) {
	fn, ok := r.functions[name]
	if !ok {
		return nil, &seqerr.UnknownItemError{Kind: "function", Name: name}
	}
	return fn, nil
}

// GetWrapperConstructor returns the wrapper constructor registered
// under name.
func (r *Registry) GetWrapperConstructor(name string) (pluginapi.WrapperConstructor, error) {
	ctor, ok := r.wrapperConstructors[name]
	if !ok {
		return nil, &seqerr.UnknownItemError{Kind: "wrapper", Name: name}
	}
	return ctor, nil
}

// verifyUnique walks sourceDir looking for a top-level declaration
// named after each entry of names (any func, var or type declaration
// that topLevelDecls reports, whatever the kind), recording
// which file each is found in: a name found in more than one file is an
// ItemUniquenessError; a name found in none is an ItemExistenceError.
func verifyUnique(sourceDir string, names []string, k kind) error {
	if len(names) == 0 {
		return nil
	}

	wanted := make(map[string]struct{}, len(names))
	for _, n := range names {
		wanted[n] = struct{}{}
	}

	locations := make(map[string][]string) // name -> files it was declared in

	err := filepath.Walk(sourceDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.HasSuffix(path, ".go") {
			return nil
		}
		found, ferr := topLevelDecls(path)
		if ferr != nil {
			return ferr
		}
		for _, name := range found {
			if _, ok := wanted[name]; ok {
				locations[name] = append(locations[name], path)
			}
		}
		return nil
	})
	if err != nil {
		return seqerr.NewSequenceFileError("scanning %s for %ss: %v", sourceDir, k.label(), err)
	}

	var nonUnique []string
	var missing []string
	for _, name := range names {
		switch len(locations[name]) {
		case 0:
			missing = append(missing, name)
		case 1:
			// ok
		default:
			nonUnique = append(nonUnique, name)
		}
	}
	sort.Strings(nonUnique)
	sort.Strings(missing)

	if len(nonUnique) > 0 {
		files := locations[nonUnique[0]]
		return &seqerr.ItemUniquenessError{Kind: k.label(), Name: nonUnique[0], Files: files}
	}
	if len(missing) > 0 {
		return &seqerr.ItemExistenceError{Kind: k.label(), Name: missing[0], Dir: sourceDir}
	}
	return nil
}

// topLevelDecls returns the names of every top-level func declaration
// (methods excluded), var declaration and type declaration in a single
// .go file.
func topLevelDecls(path string) ([]string, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, nil, parser.SkipObjectResolution)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	var names []string
	for _, decl := range file.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			if d.Recv == nil { // exclude methods, only top-level funcs count
				names = append(names, d.Name.Name)
			}
		case *ast.GenDecl:
			if d.Tok != token.VAR && d.Tok != token.TYPE {
				continue
			}
			for _, spec := range d.Specs {
				switch s := spec.(type) {
				case *ast.ValueSpec:
					for _, n := range s.Names {
						names = append(names, n.Name)
					}
				case *ast.TypeSpec:
					names = append(names, s.Name.Name)
				}
			}
		}
	}
	return names, nil
}
