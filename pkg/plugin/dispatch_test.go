package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func builtin(t *testing.T, process CommandFunc) *Agent {
	t.Helper()
	a, err := NewFactory().Assemble(context.Background(), Definition{
		Identity: Identity{Name: "builtin", Description: "test agent", Version: "1.0.0"},
		Process:  process,
	})
	require.NoError(t, err)
	return a
}

func TestDispatchDemoEcho(t *testing.T) {
	root := t.TempDir()
	copyTree(t, filepath.Join("testdata", "agents", "demo"), filepath.Join(root, "demo"))
	r := NewRegistry(WithRoot(root))
	a, err := r.Get(context.Background(), "demo")
	require.NoError(t, err)

	d := NewDispatcher()
	assert.Equal(t, "Echo: hi", d.Dispatch(context.Background(), a, "echo hi"))
	assert.Equal(t, "Hello from demo", d.Dispatch(context.Background(), a, "hello"))

	reply := d.Run(context.Background(), a, "boom")
	assert.True(t, reply.Failed)
	assert.Equal(t, ErrorPrefix+"boom", reply.Text)
	assert.Equal(t, "demo", reply.Agent)

	status, ok := d.Status(context.Background(), a)
	require.True(t, ok)
	assert.JSONEq(t, `{"initialized": 1, "handled": 3}`, status.Text)

	again, err := r.Get(context.Background(), "demo")
	require.NoError(t, err)
	status, _ = d.Status(context.Background(), again)
	assert.JSONEq(t, `{"initialized": 1, "handled": 3}`, status.Text)
}

func TestDispatchReportsErrors(t *testing.T) {
	d := NewDispatcher()
	failing := builtin(t, func(_ *Agent, command string) (any, error) {
		if command == "boom" {
			return nil, errors.New("exploded")
		}
		return "fine", nil
	})

	out := d.Dispatch(context.Background(), failing, "boom")
	assert.True(t, strings.HasPrefix(out, ErrorPrefix))
	assert.Contains(t, out, "exploded")
	assert.Equal(t, "fine", d.Dispatch(context.Background(), failing, "other"))
}

func TestDispatchContainsPanics(t *testing.T) {
	d := NewDispatcher()
	panicky := builtin(t, func(*Agent, string) (any, error) { panic("unexpected") })

	reply := d.Run(context.Background(), panicky, "anything")
	assert.True(t, reply.Failed)
	assert.Equal(t, ErrorPrefix+"panic: unexpected", reply.Text)
}

func TestDispatchNilAgent(t *testing.T) {
	out := NewDispatcher().Dispatch(context.Background(), nil, "hello")
	assert.True(t, strings.HasPrefix(out, ErrorPrefix))
}

func TestDispatchStructuredRoundTrip(t *testing.T) {
	a := builtin(t, func(*Agent, string) (any, error) {
		return map[string]any{"a": 1, "b": []int{2, 3}}, nil
	})

	out := NewDispatcher().Dispatch(context.Background(), a, "data")
	assert.JSONEq(t, `{"a":1,"b":[2,3]}`, out)
	assert.Contains(t, out, "\n  \"a\": 1", "JSON output is indented by two spaces")

	yamlOut := NewDispatcher(WithFormat(FormatYAML)).Dispatch(context.Background(), a, "data")
	var decoded map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(yamlOut), &decoded))
	assert.Equal(t, map[string]any{"a": 1, "b": []any{2, 3}}, decoded)
	assert.True(t, strings.HasPrefix(yamlOut, "a: 1\n"))
}

func TestDispatchUnserializableFallsBack(t *testing.T) {
	a := builtin(t, func(*Agent, string) (any, error) {
		return map[string]any{"ch": make(chan int)}, nil
	})
	reply := NewDispatcher().Run(context.Background(), a, "x")
	assert.False(t, reply.Failed)
	assert.True(t, strings.HasPrefix(reply.Text, "map[ch:"))
}

func TestStatusWithoutHook(t *testing.T) {
	a := builtin(t, func(*Agent, string) (any, error) { return nil, nil })
	_, ok := NewDispatcher().Status(context.Background(), a)
	assert.False(t, ok)
}

func TestDispatchProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	d := NewDispatcher()
	echo := builtin(t, func(_ *Agent, command string) (any, error) { return command, nil })
	panicky := builtin(t, func(_ *Agent, command string) (any, error) { panic(command) })
	structured := builtin(t, func(_ *Agent, command string) (any, error) {
		var v map[string]int
		if err := json.Unmarshal([]byte(command), &v); err != nil {
			return nil, err
		}
		return v, nil
	})

	properties.Property("text results are returned verbatim", prop.ForAll(
		func(command string) bool {
			return d.Dispatch(context.Background(), echo, command) == command
		},
		gen.AnyString(),
	))

	properties.Property("panics always become error replies", prop.ForAll(
		func(command string) bool {
			reply := d.Run(context.Background(), panicky, command)
			return reply.Failed && reply.Text == ErrorPrefix+"panic: "+command
		},
		gen.AlphaString(),
	))

	properties.Property("maps round-trip through JSON", prop.ForAll(
		func(in map[string]int) bool {
			raw, err := json.Marshal(in)
			if err != nil {
				return false
			}
			var out map[string]int
			if err := json.Unmarshal([]byte(d.Dispatch(context.Background(), structured, string(raw))), &out); err != nil {
				return false
			}
			if len(in) == 0 {
				return len(out) == 0
			}
			if len(out) != len(in) {
				return false
			}
			for k, v := range in {
				if out[k] != v {
					return false
				}
			}
			return true
		},
		gen.MapOf(gen.AlphaString(), gen.IntRange(-1_000_000, 1_000_000)),
	))

	properties.TestingRun(t)
}

type brokenError struct{ msg *string }

func (e *brokenError) Error() string { return *e.msg }

func TestDispatchSurvivesPanickingErrorText(t *testing.T) {
	a := builtin(t, func(*Agent, string) (any, error) {
		return nil, &brokenError{}
	})

	var reply Reply
	require.NotPanics(t, func() {
		reply = NewDispatcher().Run(context.Background(), a, "boom")
	})
	assert.True(t, reply.Failed)
	assert.True(t, strings.HasPrefix(reply.Text, ErrorPrefix+"*plugin.brokenError"))
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	// "é" is two bytes; cutting at 2 would split it.
	assert.Equal(t, "a...", truncate("aé", 2))
	assert.Equal(t, "aé...", truncate("aéb", 3))
	out := truncate(strings.Repeat("世", 100), maxLoggedCommand)
	assert.True(t, utf8.ValidString(out))
	assert.LessOrEqual(t, len(out), maxLoggedCommand+3)
}
