package plugin

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Index is an optional YAML file that names agents explicitly instead of
// relying on directory discovery alone.
type Index struct {
	Root   string                `yaml:"root"`
	Agents map[string]IndexEntry `yaml:"agents"`
}

// IndexEntry is the configuration block for a single named agent.
type IndexEntry struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoadIndex reads a YAML agents index. Relative roots resolve against the
// directory holding the index file.
func LoadIndex(path string) (Index, error) {
	var idx Index
	if path == "" {
		return idx, errors.New("index path cannot be empty")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return idx, fmt.Errorf("read agents index: %w", err)
	}
	if err := yaml.Unmarshal(raw, &idx); err != nil {
		return idx, fmt.Errorf("unmarshal agents index: %w", err)
	}
	if idx.Agents == nil {
		idx.Agents = map[string]IndexEntry{}
	}
	if idx.Root != "" && !filepath.IsAbs(idx.Root) {
		idx.Root = filepath.Join(filepath.Dir(path), idx.Root)
	}
	return idx, idx.Validate()
}

// Validate ensures every enabled entry points somewhere.
func (idx Index) Validate() error {
	for name, entry := range idx.Agents {
		if name == "" {
			return errors.New("agent name cannot be empty")
		}
		if !entry.Enabled {
			continue
		}
		if entry.Path == "" {
			return fmt.Errorf("agent %s path cannot be empty when enabled", name)
		}
	}
	return nil
}

// Resolve returns the absolute-or-root-relative location of an entry.
func (idx Index) Resolve(root string, entry IndexEntry) string {
	if idx.Root != "" {
		root = idx.Root
	}
	if filepath.IsAbs(entry.Path) || root == "" {
		return entry.Path
	}
	return filepath.Join(root, entry.Path)
}
