package plugin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	xerrors "AgentHost/internal/errors"
	"AgentHost/pkg/logger"
)

// Registry keeps at most one Agent record per name and loads missing agents
// on first lookup.
type Registry struct {
	mu        sync.RWMutex
	agents    map[string]*Agent
	loads     singleflight.Group
	factory   *Factory
	root      string
	index     Index
	available map[string]struct{}
	logger    *slog.Logger
}

// Option modifies the behaviour of a registry instance.
type Option func(*Registry)

// WithFactory overrides the factory used to load agents.
func WithFactory(f *Factory) Option {
	return func(r *Registry) {
		if f != nil {
			r.factory = f
		}
	}
}

// WithRoot sets the directory agents are discovered in.
func WithRoot(root string) Option {
	return func(r *Registry) { r.root = root }
}

// WithIndex adds explicitly configured agents. A non-empty index root takes
// precedence over WithRoot.
func WithIndex(idx Index) Option {
	return func(r *Registry) { r.index = idx }
}

// WithAvailable restricts the registry to the named agents. An empty list
// leaves every agent available.
func WithAvailable(names ...string) Option {
	return func(r *Registry) {
		r.available = nil
		for _, name := range names {
			if name = strings.TrimSpace(name); name != "" {
				if r.available == nil {
					r.available = make(map[string]struct{})
				}
				r.available[name] = struct{}{}
			}
		}
	}
}

// WithLogger overrides the registry logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRegistry constructs an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		agents: make(map[string]*Agent),
		logger: logger.Named("agent-registry"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	if r.factory == nil {
		r.factory = NewFactory()
	}
	return r
}

// Root returns the directory agents are discovered in.
func (r *Registry) Root() string {
	if r.index.Root != "" {
		return r.index.Root
	}
	return r.root
}

// Factory returns the factory the registry loads agents with.
func (r *Registry) Factory() *Factory { return r.factory }

// Get returns the agent registered under name, loading it on first use.
//
// Load failures are reported as AGENT_NOT_FOUND wrapping the cause. When the
// agent's Initialize hook fails the record is installed anyway and returned
// together with the INITIALIZATION_ERROR.
func (r *Registry) Get(ctx context.Context, name string) (*Agent, error) {
	if !r.allowed(name) {
		return nil, failure(CodeAgentNotFound, "", nil, "agent %q is not available", name)
	}
	if a, ok := r.Lookup(name); ok {
		return a, nil
	}

	v, err, _ := r.loads.Do(name, func() (any, error) {
		if a, ok := r.Lookup(name); ok {
			return a, nil
		}
		path, err := r.locate(name)
		if err != nil {
			return nil, err
		}
		a, err := r.factory.Load(ctx, path)
		if a == nil {
			return nil, failure(CodeAgentNotFound, path, err, "agent %s could not be loaded", name)
		}
		a = r.install(name, a)
		r.logger.InfoContext(ctx, "agent registered",
			slog.String("name", name), slog.String("agent", a.Name()),
			slog.String("version", a.Version()), slog.String("source", a.Source()))
		return a, err
	})
	a, _ := v.(*Agent)
	return a, err
}

// GetAll attempts every agent directory and agent file under the root plus
// every enabled index entry. One agent failing never prevents the others from loading.
// The first map is a snapshot of every installed record; the second holds the
// failures of this call keyed by name.
func (r *Registry) GetAll(ctx context.Context) (map[string]*Agent, map[string]error) {
	failures := make(map[string]error)
	for _, name := range r.discover(ctx) {
		if _, err := r.Get(ctx, name); err != nil {
			failures[name] = err
			r.logger.WarnContext(ctx, "agent failed to load",
				slog.String("name", name), slog.String("error", err.Error()))
		}
	}
	return r.Snapshot(), failures
}

// Register installs a ready-made record under name.
func (r *Registry) Register(name string, a *Agent) error {
	if name == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "agent name cannot be empty")
	}
	if a == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "agent cannot be nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.agents[name]; exists {
		return xerrors.New(xerrors.CodeConflict, fmt.Sprintf("agent %s already registered", name))
	}
	r.agents[name] = a
	return nil
}

// Lookup returns an installed record without loading.
func (r *Registry) Lookup(name string) (*Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[name]
	return a, ok
}

// Snapshot copies the installed records.
func (r *Registry) Snapshot() map[string]*Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*Agent, len(r.agents))
	for name, a := range r.agents {
		out[name] = a
	}
	return out
}

// Names lists installed agent names in order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.agents))
	for name := range r.agents {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Close runs every Cleanup hook once and empties the registry.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	agents := r.agents
	r.agents = make(map[string]*Agent)
	r.mu.Unlock()

	names := make([]string, 0, len(agents))
	for name := range agents {
		names = append(names, name)
	}
	sort.Strings(names)

	var errs error
	for _, name := range names {
		if err := agents[name].Close(); err != nil {
			r.logger.WarnContext(ctx, "agent cleanup failed", slog.String("name", name), slog.String("error", err.Error()))
			errs = errors.Join(errs, fmt.Errorf("cleanup %s: %w", name, err))
		}
	}
	return errs
}

func (r *Registry) install(name string, a *Agent) *Agent {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.agents[name]; ok {
		return existing
	}
	r.agents[name] = a
	return a
}

func (r *Registry) allowed(name string) bool {
	if name == "" {
		return false
	}
	if len(r.available) == 0 {
		return true
	}
	_, ok := r.available[name]
	return ok
}

// locate resolves name to a path: index entry, then <root>/<name>/, then
// <root>/<name><ext> for every loadable extension.
func (r *Registry) locate(name string) (string, error) {
	if entry, ok := r.index.Agents[name]; ok {
		if !entry.Enabled {
			return "", failure(CodeAgentNotFound, "", nil, "agent %s is disabled", name)
		}
		return r.index.Resolve(r.root, entry), nil
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", failure(CodeAgentNotFound, "", nil, "invalid agent name %q", name)
	}
	root := r.Root()
	candidates := []string{filepath.Join(root, name)}
	for _, ext := range r.factory.Extensions() {
		candidates = append(candidates, filepath.Join(root, name+ext))
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", failure(CodeAgentNotFound, root, nil, "no agent named %s under %s", name, root)
}

// discover lists the names GetAll attempts.
func (r *Registry) discover(ctx context.Context) []string {
	seen := make(map[string]struct{})
	var names []string
	add := func(name string) {
		if _, dup := seen[name]; dup || !r.allowed(name) {
			return
		}
		if entry, ok := r.index.Agents[name]; ok && !entry.Enabled {
			return
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}

	root := r.Root()
	entries, err := os.ReadDir(root)
	if err != nil {
		r.logger.WarnContext(ctx, "agents root is not readable", slog.String("root", root), slog.String("error", err.Error()))
	}
	exts := r.factory.Extensions()
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") {
			continue
		}
		if entry.IsDir() {
			add(name)
			continue
		}
		// File agents are keyed by stem, matching locate.
		if ext := filepath.Ext(name); entry.Type().IsRegular() && slices.Contains(exts, ext) {
			add(strings.TrimSuffix(name, ext))
		}
	}
	for name, entry := range r.index.Agents {
		if entry.Enabled {
			add(name)
		}
	}
	sort.Strings(names)
	return names
}
