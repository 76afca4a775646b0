package plugin

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeMaterializer serves in-memory units for files with its extension, so
// tests can hand Go closures to the factory as if they were agent code.
type fakeMaterializer struct {
	mu    sync.Mutex
	units map[string]map[string]any
	calls atomic.Int32
}

func newFakeMaterializer() *fakeMaterializer {
	return &fakeMaterializer{units: make(map[string]map[string]any)}
}

func (m *fakeMaterializer) Extensions() []string { return []string{".fake"} }

func (m *fakeMaterializer) Materialize(_ context.Context, path string) (Unit, error) {
	m.calls.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	symbols, ok := m.units[path]
	if !ok {
		return nil, failure(CodeLoadExecution, path, fmt.Errorf("no fake unit"), "execute %s", path)
	}
	return &fakeUnit{id: newUnitID(), path: path, symbols: symbols}, nil
}

func (m *fakeMaterializer) set(path string, symbols map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.units[path] = symbols
}

type fakeUnit struct {
	id      string
	path    string
	symbols map[string]any
}

func (u *fakeUnit) ID() string   { return u.id }
func (u *fakeUnit) Path() string { return u.path }

func (u *fakeUnit) Names() []string {
	names := make([]string, 0, len(u.symbols))
	for name := range u.symbols {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (u *fakeUnit) Has(name string) bool {
	_, ok := u.symbols[name]
	return ok
}

func (u *fakeUnit) Lookup(name string) (reflect.Value, error) {
	sym, ok := u.symbols[name]
	if !ok {
		return reflect.Value{}, fmt.Errorf("%s is not defined", name)
	}
	return reflect.ValueOf(sym), nil
}

// writeFakeAgent creates <root>/<name>/config.json and agent.fake and
// registers symbols for the code file.
func writeFakeAgent(t *testing.T, m *fakeMaterializer, root, name string, manifest map[string]any, symbols map[string]any) string {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	if manifest != nil {
		raw, err := json.Marshal(manifest)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestFile), raw, 0o644))
	}
	code := filepath.Join(dir, "agent.fake")
	require.NoError(t, os.WriteFile(code, nil, 0o644))
	m.set(code, symbols)
	return dir
}

func manifestFor(name string) map[string]any {
	return map[string]any{"name": name, "description": name + " agent", "version": "1.0.0"}
}

func echoCommand(a *Agent, command string) string {
	return a.Name() + ": " + command
}

// copyTree copies a testdata agent into a temporary root.
func copyTree(t *testing.T, src, dst string) {
	t.Helper()
	require.NoError(t, filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return os.WriteFile(target, data, 0o644)
	}))
}

func testFactory(m *fakeMaterializer) *Factory {
	return NewFactory(WithMaterializers(m, SourceMaterializer{}))
}
