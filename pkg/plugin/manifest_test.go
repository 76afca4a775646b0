package plugin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseManifest(t *testing.T) {
	id, cfg, err := parseManifest("config.json", []byte(`{"name":"n","description":"","version":"2","extra":{"k":true}}`))
	require.NoError(t, err)
	assert.Equal(t, Identity{Name: "n", Description: "", Version: "2"}, id)
	assert.Equal(t, map[string]any{"k": true}, cfg["extra"])
}

func TestParseManifestRejects(t *testing.T) {
	cases := []struct {
		name  string
		raw   string
		want  error
		field string
	}{
		{"not json", `{`, ErrConfigInvalid, ""},
		{"array", `["name"]`, ErrConfigInvalid, ""},
		{"missing name", `{"description":"d","version":"1"}`, ErrConfigIncomplete, "name"},
		{"missing description", `{"name":"n","version":"1"}`, ErrConfigIncomplete, "description"},
		{"numeric version", `{"name":"n","description":"d","version":1}`, ErrConfigInvalid, ""},
		{"empty name", `{"name":"","description":"d","version":"1"}`, ErrConfigInvalid, ""},
		{"null description", `{"name":"n","description":null,"version":"1"}`, ErrConfigInvalid, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := parseManifest("agents/x/config.json", []byte(tc.raw))
			require.ErrorIs(t, err, tc.want)
			assert.Equal(t, tc.field, MissingField(err))
			assert.Equal(t, "agents/x/config.json", PathOf(err))
		})
	}
}
