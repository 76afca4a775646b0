package plugin

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"gopkg.in/yaml.v3"
)

// ResultKind distinguishes the two shapes of a normalized result.
type ResultKind string

const (
	KindText       ResultKind = "text"
	KindStructured ResultKind = "structured"
)

// Format selects how structured results are serialized.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat maps a configuration string onto a Format. The empty string is JSON.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("unknown dispatch format %q", s)
}

// Result is whatever an agent returned, reduced to text or a structured value.
// The only implementations are TextResult and StructuredResult.
type Result interface {
	Kind() ResultKind
	Render(f Format) string
	isResult()
}

// TextResult is returned verbatim.
type TextResult string

func (TextResult) isResult() {}

// Kind implements Result.
func (TextResult) Kind() ResultKind { return KindText }

// Render implements Result.
func (t TextResult) Render(Format) string { return string(t) }

// StructuredResult holds a map, slice, array or struct.
type StructuredResult struct {
	Value any
}

func (StructuredResult) isResult() {}

// Kind implements Result.
func (StructuredResult) Kind() ResultKind { return KindStructured }

// Render serializes the value, falling back to %v when it cannot be encoded.
func (s StructuredResult) Render(f Format) (out string) {
	defer func() {
		if recover() != nil {
			out = fmt.Sprintf("%v", s.Value)
		}
	}()
	var (
		text string
		err  error
	)
	if f == FormatYAML {
		text, err = encodeYAML(s.Value)
	} else {
		text, err = encodeJSON(s.Value)
	}
	if err != nil {
		return fmt.Sprintf("%v", s.Value)
	}
	return text
}

func encodeJSON(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

func encodeYAML(v any) (string, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	if err := enc.Close(); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

// Normalize classifies an agent return value.
func Normalize(v any) Result {
	switch x := v.(type) {
	case nil:
		return TextResult("")
	case Result:
		return x
	case string:
		return TextResult(x)
	case []byte:
		return TextResult(x)
	case error:
		return TextResult(x.Error())
	case fmt.Stringer:
		return TextResult(x.String())
	}

	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return TextResult("")
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct:
		return StructuredResult{Value: v}
	case reflect.String:
		return TextResult(rv.String())
	}
	return TextResult(fmt.Sprint(rv.Interface()))
}
