package plugin

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type label string

type point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func TestNormalizeClassifiesValues(t *testing.T) {
	var nilMap *map[string]int
	cases := []struct {
		name string
		in   any
		kind ResultKind
		text string
	}{
		{"nil", nil, KindText, ""},
		{"string", "plain", KindText, "plain"},
		{"bytes", []byte("raw"), KindText, "raw"},
		{"error", errors.New("bad"), KindText, "bad"},
		{"stringer", 90 * time.Second, KindText, "1m30s"},
		{"named string", label("tag"), KindText, "tag"},
		{"int", 42, KindText, "42"},
		{"bool", true, KindText, "true"},
		{"nil pointer", nilMap, KindText, ""},
		{"struct", point{1, 2}, KindStructured, "{\n  \"x\": 1,\n  \"y\": 2\n}"},
		{"pointer to struct", &point{3, 4}, KindStructured, "{\n  \"x\": 3,\n  \"y\": 4\n}"},
		{"slice", []string{"a"}, KindStructured, "[\n  \"a\"\n]"},
		{"array", [2]int{1, 2}, KindStructured, "[\n  1,\n  2\n]"},
		{"html is not escaped", map[string]string{"q": "<a&b>"}, KindStructured, "{\n  \"q\": \"<a&b>\"\n}"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := Normalize(tc.in)
			assert.Equal(t, tc.kind, res.Kind())
			assert.Equal(t, tc.text, res.Render(FormatJSON))
		})
	}
}

func TestNormalizeKeepsResults(t *testing.T) {
	res := StructuredResult{Value: []int{1}}
	assert.Equal(t, res, Normalize(res))
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"": FormatJSON, "JSON": FormatJSON, "yml": FormatYAML, " yaml ": FormatYAML} {
		got, err := ParseFormat(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseFormat("xml")
	assert.Error(t, err)
}
