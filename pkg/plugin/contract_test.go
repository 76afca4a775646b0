package plugin

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unit(symbols map[string]any) Unit {
	return &fakeUnit{id: newUnitID(), path: "/agents/test/agent.fake", symbols: symbols}
}

func TestValidateContractAcceptsShapes(t *testing.T) {
	caps, err := ValidateContract(unit(map[string]any{
		SymbolProcessCommand: func(a *Agent, cmd string) (map[string]int, error) { return map[string]int{cmd: 1}, nil },
		SymbolInitialize:     func() {},
		SymbolCleanup:        func(*Agent) error { return errors.New("done") },
		SymbolGetStatus:      func() string { return "ready" },
	}))
	require.NoError(t, err)
	assert.Equal(t, HookSet{Initialize: true, Cleanup: true, GetStatus: true}, caps.Hooks())

	out, err := caps.Process(nil, "k")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"k": 1}, out)
	assert.NoError(t, caps.Init(nil))
	assert.EqualError(t, caps.Cleanup(nil), "done")
	status, err := caps.Status(nil)
	require.NoError(t, err)
	assert.Equal(t, "ready", status)
}

func TestValidateContractAcceptsNamedStringCommand(t *testing.T) {
	type command string
	caps, err := ValidateContract(unit(map[string]any{
		SymbolProcessCommand: func(_ *Agent, c command) command { return c + "!" },
	}))
	require.NoError(t, err)
	out, err := caps.Process(nil, "go")
	require.NoError(t, err)
	assert.Equal(t, command("go!"), out)
	assert.Equal(t, HookSet{}, caps.Hooks())
}

func TestValidateContractOnlyErrorResult(t *testing.T) {
	caps, err := ValidateContract(unit(map[string]any{
		SymbolProcessCommand: func(*Agent, string) error { return errors.New("refused") },
	}))
	require.NoError(t, err)
	out, err := caps.Process(nil, "x")
	assert.Nil(t, out)
	assert.EqualError(t, err, "refused")
}

func TestValidateContractNoResult(t *testing.T) {
	seen := ""
	caps, err := ValidateContract(unit(map[string]any{
		SymbolProcessCommand: func(_ *Agent, c string) { seen = c },
	}))
	require.NoError(t, err)
	out, err := caps.Process(nil, "fire")
	require.NoError(t, err)
	assert.Nil(t, out)
	assert.Equal(t, "fire", seen)
}

func TestValidateContractRejects(t *testing.T) {
	cases := []struct {
		name    string
		symbols map[string]any
		want    error
	}{
		{"missing entry point", map[string]any{SymbolInitialize: func(*Agent) {}}, ErrMissingEntryPoint},
		{"entry point not a function", map[string]any{SymbolProcessCommand: "nope"}, ErrMissingEntryPoint},
		{"entry point nil function", map[string]any{SymbolProcessCommand: (func(*Agent, string) string)(nil)}, ErrMissingEntryPoint},
		{"entry point wrong arity", map[string]any{SymbolProcessCommand: func(string) string { return "" }}, ErrMissingEntryPoint},
		{"entry point wrong agent type", map[string]any{SymbolProcessCommand: func(int, string) string { return "" }}, ErrMissingEntryPoint},
		{"entry point too many results", map[string]any{SymbolProcessCommand: func(*Agent, string) (int, int, error) { return 0, 0, nil }}, ErrMissingEntryPoint},
		{"hook returns value", map[string]any{
			SymbolProcessCommand: func(*Agent, string) string { return "" },
			SymbolInitialize:     func(*Agent) int { return 1 },
		}, ErrInvalidHook},
		{"status returns nothing", map[string]any{
			SymbolProcessCommand: func(*Agent, string) string { return "" },
			SymbolGetStatus:      func() {},
		}, ErrInvalidHook},
		{"cleanup not a function", map[string]any{
			SymbolProcessCommand: func(*Agent, string) string { return "" },
			SymbolCleanup:        42,
		}, ErrInvalidHook},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ValidateContract(unit(tc.symbols))
			require.ErrorIs(t, err, tc.want)
			assert.Equal(t, "/agents/test/agent.fake", PathOf(err))
		})
	}
}
