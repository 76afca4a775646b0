// Package plugin turns on-disk agents into callable records, keeps them in a
// registry and dispatches commands to them.
//
// An agent is either a directory holding config.json and agent.go (or
// agent.so), or a single Go file declaring AgentName, AgentDescription and
// AgentVersion. Both forms define ProcessCommand and may define Initialize,
// Cleanup and GetStatus.
package plugin

import (
	"maps"
	"path/filepath"
	"sync"
)

// CommandFunc is the uniform entry point every agent is adapted to.
type CommandFunc func(a *Agent, command string) (any, error)

// HookFunc is the shape of the Initialize and Cleanup hooks.
type HookFunc func(a *Agent) error

// StatusFunc is the shape of the GetStatus hook.
type StatusFunc func(a *Agent) (any, error)

// Agent is a loaded, callable agent. Records are only produced by a Factory,
// so identity and the command entry point are always present.
type Agent struct {
	identity Identity
	dir      string
	source   string
	unit     string
	config   map[string]any

	process CommandFunc
	init    HookFunc
	cleanup HookFunc
	status  StatusFunc

	cleanupOnce sync.Once
	cleanupErr  error
}

// Definition describes an agent assembled from in-process functions rather
// than materialized from disk.
type Definition struct {
	Identity Identity
	// Source is the path the agent was loaded from. Built-in agents may leave it empty.
	Source string
	// Dir defaults to Source when Source is a directory path and to its parent otherwise.
	Dir     string
	Config  map[string]any
	Process CommandFunc
	Init    HookFunc
	Cleanup HookFunc
	Status  StatusFunc

	unit string
}

// Identity returns the agent's name, description and version.
func (a *Agent) Identity() Identity { return a.identity }

// Name returns the declared agent name.
func (a *Agent) Name() string { return a.identity.Name }

// Description returns the declared description.
func (a *Agent) Description() string { return a.identity.Description }

// Version returns the declared version string.
func (a *Agent) Version() string { return a.identity.Version }

// Dir is the directory the agent lives in.
func (a *Agent) Dir() string { return a.dir }

// Source is the exact path the agent was loaded from.
func (a *Agent) Source() string { return a.source }

// Unit identifies the materialization the record was built from.
func (a *Agent) Unit() string { return a.unit }

// Resource resolves a path relative to the agent directory.
func (a *Agent) Resource(elem ...string) string {
	return filepath.Join(append([]string{a.dir}, elem...)...)
}

// Config returns a copy of the raw configuration mapping.
func (a *Agent) Config() map[string]any {
	return maps.Clone(a.config)
}

// ConfigValue looks up a single top-level configuration key.
func (a *Agent) ConfigValue(key string) (any, bool) {
	v, ok := a.config[key]
	return v, ok
}

// ConfigString returns a string configuration value or fallback.
func (a *Agent) ConfigString(key, fallback string) string {
	if s, ok := a.config[key].(string); ok && s != "" {
		return s
	}
	return fallback
}

// Hooks reports which optional hooks were found at load time.
func (a *Agent) Hooks() HookSet {
	return HookSet{
		Initialize: a.init != nil,
		Cleanup:    a.cleanup != nil,
		GetStatus:  a.status != nil,
	}
}

// Invoke calls the entry point directly. Errors and panics propagate; use a
// Dispatcher for the normalized, never-failing form.
func (a *Agent) Invoke(command string) (any, error) {
	return a.process(a, command)
}

// Close runs the Cleanup hook at most once and returns its result on every call.
func (a *Agent) Close() error {
	if a.cleanup == nil {
		return nil
	}
	a.cleanupOnce.Do(func() {
		a.cleanupErr = callHook(a, a.cleanup)
	})
	return a.cleanupErr
}

func newAgent(def Definition) *Agent {
	dir := def.Dir
	if dir == "" && def.Source != "" {
		dir = filepath.Dir(def.Source)
	}
	cfg := maps.Clone(def.Config)
	if cfg == nil {
		cfg = def.Identity.Map()
	}
	return &Agent{
		identity: def.Identity,
		dir:      dir,
		source:   def.Source,
		unit:     def.unit,
		config:   cfg,
		process:  def.Process,
		init:     def.Init,
		cleanup:  def.Cleanup,
		status:   def.Status,
	}
}
