package plugin

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ManifestFile is the configuration file every directory agent carries.
const ManifestFile = "config.json"

//go:embed schema/manifest.schema.json
var manifestSchemaBytes []byte

var (
	manifestSchema      *jsonschema.Schema
	manifestSchemaOnce  sync.Once
	manifestSchemaError error
)

func getManifestSchema() (*jsonschema.Schema, error) {
	manifestSchemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(manifestSchemaBytes))
		if err != nil {
			manifestSchemaError = fmt.Errorf("unmarshal manifest schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource("manifest.schema.json", doc); err != nil {
			manifestSchemaError = fmt.Errorf("add manifest schema: %w", err)
			return
		}
		manifestSchema, manifestSchemaError = c.Compile("manifest.schema.json")
	})
	return manifestSchema, manifestSchemaError
}

// ReadManifest reads and checks <dir>/config.json. The returned mapping is the
// full manifest including any keys beyond the identity fields.
func ReadManifest(dir string) (Identity, map[string]any, error) {
	path := filepath.Join(dir, ManifestFile)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Identity{}, nil, failure(CodeConfigMissing, path, nil, "%s not found", path)
	}
	if err != nil {
		return Identity{}, nil, failure(CodeConfigInvalid, path, err, "read %s", path)
	}
	return parseManifest(path, data)
}

func parseManifest(path string, data []byte) (Identity, map[string]any, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return Identity{}, nil, failure(CodeConfigInvalid, path, err, "%s is not valid JSON", path)
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return Identity{}, nil, failure(CodeConfigInvalid, path, nil, "%s must contain a JSON object", path)
	}
	for _, f := range identityFields {
		if _, ok := obj[f.field]; !ok {
			return Identity{}, nil, incomplete(path, f.field)
		}
	}

	schema, err := getManifestSchema()
	if err != nil {
		return Identity{}, nil, err
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return Identity{}, nil, failure(CodeConfigInvalid, path, err, "%s is not valid JSON", path)
	}
	if err := schema.Validate(inst); err != nil {
		return Identity{}, nil, failure(CodeConfigInvalid, path, err, "%s does not describe an agent", path)
	}

	id := Identity{}
	id.Name, _ = obj["name"].(string)
	id.Description, _ = obj["description"].(string)
	id.Version, _ = obj["version"].(string)
	return id, obj, nil
}
