package plugin

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// Top-level names an agent unit may define.
const (
	SymbolName           = "AgentName"
	SymbolDescription    = "AgentDescription"
	SymbolVersion        = "AgentVersion"
	SymbolProcessCommand = "ProcessCommand"
	SymbolInitialize     = "Initialize"
	SymbolCleanup        = "Cleanup"
	SymbolGetStatus      = "GetStatus"
)

// identityFields pairs the identity symbols of a single-file agent with the
// manifest keys they stand in for. The order is the order of validation.
var identityFields = []struct {
	symbol string
	field  string
}{
	{SymbolName, "name"},
	{SymbolDescription, "description"},
	{SymbolVersion, "version"},
}

// Identity contains the mandatory descriptive metadata of an agent.
type Identity struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
	Version     string `json:"version" yaml:"version"`
}

// SemVer parses Version as a semantic version.
func (id Identity) SemVer() (*semver.Version, error) {
	v, err := semver.NewVersion(id.Version)
	if err != nil {
		return nil, fmt.Errorf("agent %s version %q: %w", id.Name, id.Version, err)
	}
	return v, nil
}

// Map renders the identity as the manifest mapping a file agent synthesizes.
func (id Identity) Map() map[string]any {
	return map[string]any{
		"name":        id.Name,
		"description": id.Description,
		"version":     id.Version,
	}
}

// HookSet reports which optional lifecycle hooks an agent provides.
type HookSet struct {
	Initialize bool `json:"initialize" yaml:"initialize"`
	Cleanup    bool `json:"cleanup" yaml:"cleanup"`
	GetStatus  bool `json:"get_status" yaml:"get_status"`
}

// Names lists the present hooks by their symbol names.
func (h HookSet) Names() []string {
	names := make([]string, 0, 3)
	if h.Initialize {
		names = append(names, SymbolInitialize)
	}
	if h.Cleanup {
		names = append(names, SymbolCleanup)
	}
	if h.GetStatus {
		names = append(names, SymbolGetStatus)
	}
	return names
}
