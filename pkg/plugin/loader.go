package plugin

import (
	"context"
	"fmt"
	goplugin "plugin"
	"reflect"
	"strings"

	"github.com/google/uuid"
)

// Unit is an executed agent module whose top-level names can be inspected.
type Unit interface {
	// ID is a synthetic identity unique to this materialization.
	ID() string
	// Path is the file the unit was executed from.
	Path() string
	// Names lists the top-level names the unit defines.
	Names() []string
	Has(name string) bool
	// Lookup returns the value bound to a top-level name.
	Lookup(name string) (reflect.Value, error)
}

// Materializer executes agent code files of the extensions it claims.
type Materializer interface {
	Extensions() []string
	Materialize(ctx context.Context, path string) (Unit, error)
}

func newUnitID() string {
	return "agent_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// knownSymbols are looked up on shared objects, whose symbol tables cannot be listed.
var knownSymbols = []string{
	SymbolName, SymbolDescription, SymbolVersion,
	SymbolProcessCommand, SymbolInitialize, SymbolCleanup, SymbolGetStatus,
}

// SharedObjectMaterializer opens agents built with -buildmode=plugin.
//
// The Go runtime caches shared objects by path, so loading the same file
// twice returns the already-initialised object.
type SharedObjectMaterializer struct{}

// Extensions implements Materializer.
func (SharedObjectMaterializer) Extensions() []string { return []string{".so"} }

// Materialize opens the shared object, running its package initialisers.
func (SharedObjectMaterializer) Materialize(_ context.Context, path string) (u Unit, err error) {
	if path == "" {
		return nil, failure(CodeInvalidPath, path, nil, "agent path cannot be empty")
	}
	defer func() {
		if r := recover(); r != nil {
			u = nil
			err = failure(CodeLoadExecution, path, fmt.Errorf("panic: %v", r), "open %s", path)
		}
	}()
	so, err := goplugin.Open(path)
	if err != nil {
		return nil, failure(CodeLoadExecution, path, err, "open %s", path)
	}
	return &sharedObjectUnit{id: newUnitID(), path: path, so: so}, nil
}

type sharedObjectUnit struct {
	id   string
	path string
	so   *goplugin.Plugin
}

func (u *sharedObjectUnit) ID() string   { return u.id }
func (u *sharedObjectUnit) Path() string { return u.path }

func (u *sharedObjectUnit) Names() []string {
	names := make([]string, 0, len(knownSymbols))
	for _, name := range knownSymbols {
		if u.Has(name) {
			names = append(names, name)
		}
	}
	return names
}

func (u *sharedObjectUnit) Has(name string) bool {
	_, err := u.so.Lookup(name)
	return err == nil
}

// Lookup returns functions as-is and variables dereferenced, since the plugin
// package hands out pointers to exported variables.
func (u *sharedObjectUnit) Lookup(name string) (reflect.Value, error) {
	sym, err := u.so.Lookup(name)
	if err != nil {
		return reflect.Value{}, err
	}
	v := reflect.ValueOf(sym)
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return reflect.Value{}, fmt.Errorf("symbol %s is nil", name)
		}
		v = v.Elem()
	}
	return v, nil
}
