package plugin

import (
	"context"
	"errors"
	"fmt"
	"go/constant"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"AgentHost/pkg/logger"
)

// Factory turns agent directories and files into Agent records.
type Factory struct {
	materializers []Materializer
	logger        *slog.Logger
	telemetry     *telemetry
}

// FactoryOption customises a Factory.
type FactoryOption func(*Factory)

// WithMaterializers replaces the default materializers. Earlier entries win
// when several claim the same extension.
func WithMaterializers(ms ...Materializer) FactoryOption {
	return func(f *Factory) {
		if len(ms) > 0 {
			f.materializers = ms
		}
	}
}

// WithFactoryLogger overrides the logger used for load diagnostics.
func WithFactoryLogger(l *slog.Logger) FactoryOption {
	return func(f *Factory) {
		if l != nil {
			f.logger = l
		}
	}
}

// NewFactory returns a Factory that understands Go source and shared object agents.
func NewFactory(opts ...FactoryOption) *Factory {
	f := &Factory{
		materializers: []Materializer{SourceMaterializer{}, SharedObjectMaterializer{}},
		logger:        logger.Named("agent-factory"),
		telemetry:     newTelemetry(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f
}

// Extensions lists the code file extensions the factory can load, in priority order.
func (f *Factory) Extensions() []string {
	var exts []string
	for _, m := range f.materializers {
		exts = append(exts, m.Extensions()...)
	}
	return exts
}

func (f *Factory) materializerFor(ext string) Materializer {
	for _, m := range f.materializers {
		for _, e := range m.Extensions() {
			if strings.EqualFold(e, ext) {
				return m
			}
		}
	}
	return nil
}

// Load builds an agent from a directory or a single code file.
//
// When the agent's Initialize hook fails the record is still returned,
// together with an INITIALIZATION_ERROR.
func (f *Factory) Load(ctx context.Context, path string) (*Agent, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, failure(CodeInvalidPath, path, err, "%s is neither a directory nor a file", path)
	}
	if info.IsDir() {
		return f.LoadDir(ctx, path)
	}
	return f.LoadFile(ctx, path)
}

// LoadDir builds an agent from a directory holding config.json and agent.<ext>.
func (f *Factory) LoadDir(ctx context.Context, dir string) (a *Agent, err error) {
	ctx, span := f.telemetry.start(ctx, "agent.load", attribute.String("agent.path", dir), attribute.String("agent.form", "directory"))
	defer func() { f.telemetry.endLoad(ctx, span, err) }()

	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, failure(CodeInvalidPath, dir, err, "%s is not a directory", dir)
	}
	id, cfg, err := ReadManifest(dir)
	if err != nil {
		return nil, err
	}
	code, m := f.codeFile(dir)
	if m == nil {
		return nil, failure(CodeCodeMissing, dir, nil, "%s has no agent code file (tried %s)",
			dir, strings.Join(f.codeFileNames(), ", "))
	}
	unit, err := m.Materialize(ctx, code)
	if err != nil {
		return nil, err
	}
	caps, err := ValidateContract(unit)
	if err != nil {
		return nil, err
	}
	return f.assemble(ctx, Definition{
		Identity: id,
		Source:   dir,
		Dir:      dir,
		Config:   cfg,
		Process:  caps.Process,
		Init:     caps.Init,
		Cleanup:  caps.Cleanup,
		Status:   caps.Status,
		unit:     unit.ID(),
	})
}

// LoadFile builds an agent from a single code file that declares its own identity.
func (f *Factory) LoadFile(ctx context.Context, file string) (a *Agent, err error) {
	ctx, span := f.telemetry.start(ctx, "agent.load", attribute.String("agent.path", file), attribute.String("agent.form", "file"))
	defer func() { f.telemetry.endLoad(ctx, span, err) }()

	info, err := os.Stat(file)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, failure(CodeAgentFileMissing, file, nil, "%s not found", file)
	case err != nil:
		return nil, failure(CodeInvalidPath, file, err, "stat %s", file)
	case info.IsDir():
		return nil, failure(CodeInvalidPath, file, nil, "%s is a directory", file)
	}
	m := f.materializerFor(filepath.Ext(file))
	if m == nil {
		return nil, failure(CodeInvalidPath, file, nil, "no loader for %q files", filepath.Ext(file))
	}
	unit, err := m.Materialize(ctx, file)
	if err != nil {
		return nil, err
	}
	id, err := identityOf(unit)
	if err != nil {
		return nil, err
	}
	caps, err := ValidateContract(unit)
	if err != nil {
		return nil, err
	}
	return f.assemble(ctx, Definition{
		Identity: id,
		Source:   file,
		Dir:      filepath.Dir(file),
		Config:   id.Map(),
		Process:  caps.Process,
		Init:     caps.Init,
		Cleanup:  caps.Cleanup,
		Status:   caps.Status,
		unit:     unit.ID(),
	})
}

// Assemble builds a record from in-process functions, applying the same
// checks and Initialize semantics as a disk load.
func (f *Factory) Assemble(ctx context.Context, def Definition) (*Agent, error) {
	if def.unit == "" {
		def.unit = newUnitID()
	}
	if def.Config == nil {
		def.Config = def.Identity.Map()
	}
	return f.assemble(ctx, def)
}

func (f *Factory) assemble(ctx context.Context, def Definition) (*Agent, error) {
	path := def.Source
	switch {
	case def.Identity.Name == "":
		return nil, incomplete(path, "name")
	case def.Identity.Version == "":
		return nil, incomplete(path, "version")
	case def.Process == nil:
		return nil, failure(CodeMissingEntryPoint, path, nil, "agent %s has no %s", def.Identity.Name, SymbolProcessCommand)
	}

	a := newAgent(def)
	log := f.logger.With(slog.String("agent", a.Name()), slog.String("unit", a.Unit()))
	if _, err := a.identity.SemVer(); err != nil {
		log.WarnContext(ctx, "agent version is not a semantic version", slog.String("version", a.Version()))
	}
	if a.init != nil {
		if err := callHook(a, a.init); err != nil {
			log.ErrorContext(ctx, "agent initialize hook failed", slog.String("error", err.Error()))
			return a, failure(CodeInitializationError, path, err, "initialize %s", a.Name())
		}
	}
	log.DebugContext(ctx, "agent loaded", slog.String("source", a.Source()), slog.Any("hooks", a.Hooks().Names()))
	return a, nil
}

func (f *Factory) codeFileNames() []string {
	exts := f.Extensions()
	names := make([]string, len(exts))
	for i, ext := range exts {
		names[i] = "agent" + ext
	}
	return names
}

// codeFile finds agent.<ext> for the first extension present in dir.
func (f *Factory) codeFile(dir string) (string, Materializer) {
	for _, m := range f.materializers {
		for _, ext := range m.Extensions() {
			path := filepath.Join(dir, "agent"+ext)
			if info, err := os.Stat(path); err == nil && !info.IsDir() {
				return path, m
			}
		}
	}
	return "", nil
}

// identityOf reads AgentName, AgentDescription and AgentVersion from a unit.
func identityOf(u Unit) (Identity, error) {
	path := u.Path()
	values := make([]string, len(identityFields))
	for i, f := range identityFields {
		if !u.Has(f.symbol) {
			return Identity{}, incomplete(path, f.symbol)
		}
		v, err := u.Lookup(f.symbol)
		if err != nil {
			return Identity{}, failure(CodeConfigInvalid, path, err, "read %s from %s", f.symbol, path)
		}
		s, ok := stringValue(v)
		if !ok {
			return Identity{}, failure(CodeConfigInvalid, path, nil, "%s in %s must be a string", f.symbol, path)
		}
		values[i] = s
	}
	id := Identity{Name: values[0], Description: values[1], Version: values[2]}
	if id.Name == "" || id.Version == "" {
		return Identity{}, failure(CodeConfigInvalid, path, nil, "%s and %s in %s must not be empty", SymbolName, SymbolVersion, path)
	}
	return id, nil
}

// stringValue accepts string values, pointers to them and untyped string
// constants as the interpreter may report them.
func stringValue(v reflect.Value) (string, bool) {
	if !v.IsValid() {
		return "", false
	}
	if v.CanInterface() {
		if cv, ok := v.Interface().(constant.Value); ok {
			if cv.Kind() != constant.String {
				return "", false
			}
			return constant.StringVal(cv), true
		}
	}
	for (v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface) && !v.IsNil() {
		v = v.Elem()
	}
	if v.Kind() != reflect.String {
		return "", false
	}
	return v.String(), true
}

// callHook runs a hook, converting a panic into an error.
func callHook(a *Agent, hook HookFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return hook(a)
}
