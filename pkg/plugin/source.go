package plugin

import (
	"context"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"reflect"
	"sort"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
)

// Symbols exposes the host types to interpreted agents under the import
// path AgentHost/pkg/plugin.
var Symbols = interp.Exports{
	"AgentHost/pkg/plugin/plugin": {
		"Agent":    reflect.ValueOf((*Agent)(nil)),
		"Identity": reflect.ValueOf((*Identity)(nil)),
		"HookSet":  reflect.ValueOf((*HookSet)(nil)),
	},
}

// SourceMaterializer runs Go source agents in an embedded interpreter. Each
// call uses a fresh interpreter, so units never share package state.
type SourceMaterializer struct {
	// Exports are additional binary packages made importable by agent sources.
	Exports []interp.Exports
}

// Extensions implements Materializer.
func (SourceMaterializer) Extensions() []string { return []string{".go"} }

// Materialize parses and evaluates the file. Parse errors, evaluation errors
// and panics are all reported as LOAD_EXECUTION_ERROR.
func (m SourceMaterializer) Materialize(ctx context.Context, path string) (u Unit, err error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, failure(CodeLoadExecution, path, err, "read %s", path)
	}
	file, err := parser.ParseFile(token.NewFileSet(), path, src, parser.SkipObjectResolution)
	if err != nil {
		return nil, failure(CodeLoadExecution, path, err, "parse %s", path)
	}

	i := interp.New(interp.Options{})
	for _, exports := range append([]interp.Exports{stdlib.Symbols, Symbols}, m.Exports...) {
		if err := i.Use(exports); err != nil {
			return nil, fmt.Errorf("register interpreter symbols: %w", err)
		}
	}

	defer func() {
		if r := recover(); r != nil {
			u = nil
			err = failure(CodeLoadExecution, path, fmt.Errorf("panic: %v", r), "execute %s", path)
		}
	}()
	if _, err := i.EvalWithContext(ctx, string(src)); err != nil {
		return nil, failure(CodeLoadExecution, path, err, "execute %s", path)
	}
	return &sourceUnit{
		id:     newUnitID(),
		path:   path,
		pkg:    file.Name.Name,
		names:  topLevelNames(file),
		interp: i,
	}, nil
}

type sourceUnit struct {
	id     string
	path   string
	pkg    string
	names  map[string]struct{}
	interp *interp.Interpreter
}

func (u *sourceUnit) ID() string   { return u.id }
func (u *sourceUnit) Path() string { return u.path }

func (u *sourceUnit) Names() []string {
	names := make([]string, 0, len(u.names))
	for name := range u.names {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (u *sourceUnit) Has(name string) bool {
	_, ok := u.names[name]
	return ok
}

func (u *sourceUnit) Lookup(name string) (v reflect.Value, err error) {
	if !u.Has(name) {
		return reflect.Value{}, fmt.Errorf("%s is not defined in %s", name, u.path)
	}
	expr := name
	if u.pkg != "main" {
		expr = u.pkg + "." + name
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("evaluate %s: %v", expr, r)
		}
	}()
	return u.interp.Eval(expr)
}

// topLevelNames collects package-level funcs, vars, consts and types.
func topLevelNames(file *ast.File) map[string]struct{} {
	names := make(map[string]struct{})
	add := func(id *ast.Ident) {
		if id != nil && id.Name != "_" && id.Name != "init" {
			names[id.Name] = struct{}{}
		}
	}
	for _, decl := range file.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			if d.Recv == nil {
				add(d.Name)
			}
		case *ast.GenDecl:
			for _, spec := range d.Specs {
				switch s := spec.(type) {
				case *ast.ValueSpec:
					for _, id := range s.Names {
						add(id)
					}
				case *ast.TypeSpec:
					add(s.Name)
				}
			}
		}
	}
	return names
}
