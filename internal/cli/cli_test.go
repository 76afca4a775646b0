package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AgentHost/internal/agent"
	"AgentHost/pkg/plugin"
)

const echoAgent = `package echo

import "AgentHost/pkg/plugin"

const (
	AgentName        = "echo"
	AgentDescription = "Repeats what it is told"
	AgentVersion     = "1.4.0"
)

func ProcessCommand(_ *plugin.Agent, command string) string {
	return "echo: " + command
}
`

func agentsRoot(t *testing.T) string {
	t.Helper()
	t.Setenv("AGENTHOST_CONFIG", "")
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "echo.go"), []byte(echoAgent), 0o644))

	broken := filepath.Join(root, "broken")
	require.NoError(t, os.MkdirAll(broken, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(broken, "config.json"), []byte(`{"name":`), 0o644))
	return root
}

func execute(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func TestListPrintsLoadedAgents(t *testing.T) {
	root := agentsRoot(t)
	out, errOut, err := execute(t, "", "--agents-root", root, "list")
	require.NoError(t, err)

	assert.Contains(t, out, "KEY")
	assert.Regexp(t, `echo\s+echo\s+1\.4\.0\s+Repeats what it is told`, out)
	assert.Contains(t, errOut, "failed to load broken")
}

func TestListJSON(t *testing.T) {
	root := agentsRoot(t)
	out, _, err := execute(t, "", "--agents-root", root, "list", "--json")
	require.NoError(t, err)

	var infos []agent.Info
	require.NoError(t, json.Unmarshal([]byte(out), &infos))
	require.Len(t, infos, 1)
	assert.Equal(t, "echo", infos[0].Name)
	assert.Equal(t, "1.4.0", infos[0].Version)
}

func TestListEmptyRoot(t *testing.T) {
	t.Setenv("AGENTHOST_CONFIG", "")
	root := t.TempDir()
	out, _, err := execute(t, "", "--agents-root", root, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No agents found")
}

func TestInspectFileAgent(t *testing.T) {
	root := agentsRoot(t)
	out, _, err := execute(t, "", "--agents-root", root, "inspect", filepath.Join(root, "echo.go"))
	require.NoError(t, err)

	assert.Contains(t, out, "Name:        echo")
	assert.Contains(t, out, "Version:     1.4.0")
	assert.Contains(t, out, "Hooks:       (none)")
	assert.Contains(t, out, "Unit:")
}

func TestInspectReportsFailureCode(t *testing.T) {
	root := agentsRoot(t)
	out, _, err := execute(t, "", "--agents-root", root, "inspect", filepath.Join(root, "broken"))
	require.Error(t, err)
	assert.ErrorIs(t, err, plugin.ErrConfigInvalid)
	assert.Empty(t, out)
}

func TestRunSingleCommand(t *testing.T) {
	root := agentsRoot(t)
	out, _, err := execute(t, "", "--agents-root", root, "run", "echo", "hello", "world")
	require.NoError(t, err)
	assert.Equal(t, "echo: hello world\n", out)
}

func TestRunUnknownAgent(t *testing.T) {
	root := agentsRoot(t)
	_, _, err := execute(t, "", "--agents-root", root, "run", "ghost", "hi")
	assert.ErrorIs(t, err, plugin.ErrAgentNotFound)
}

func TestRunRequiresAgentName(t *testing.T) {
	root := agentsRoot(t)
	_, _, err := execute(t, "", "--agents-root", root, "run")
	assert.Error(t, err)
}

func TestRunDemoSingleCommand(t *testing.T) {
	root := agentsRoot(t)
	out, _, err := execute(t, "", "--agents-root", root, "run", "--demo", "add", "1", "1")
	require.NoError(t, err)
	assert.Equal(t, "1.0 + 1.0 = 2.0\n", out)
}

func TestRunDemoInteractive(t *testing.T) {
	root := agentsRoot(t)
	out, _, err := execute(t, "hello\n\necho again\nexit\necho unreachable\n", "--agents-root", root, "run", "--demo")
	require.NoError(t, err)

	assert.Contains(t, out, "Agent: Demo Agent (v1.0.0)")
	assert.Contains(t, out, "Hello! I'm Demo Agent, a demo agent.")
	assert.Contains(t, out, "Echo: again")
	assert.NotContains(t, out, "unreachable")
}

func TestRunInteractiveEndsAtEOF(t *testing.T) {
	root := agentsRoot(t)
	out, _, err := execute(t, "first", "--agents-root", root, "run", "echo")
	require.NoError(t, err)
	assert.Contains(t, out, "> echo: first")
}

func TestConfigSummaryAndVerbose(t *testing.T) {
	root := agentsRoot(t)
	out, _, err := execute(t, "", "--agents-root", root, "config")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "Agent Configuration:\n"))
	assert.Contains(t, out, "  agents.root: "+root)
	assert.NotContains(t, out, "jobs.workers")

	out, _, err = execute(t, "", "--agents-root", root, "config", "--verbose")
	require.NoError(t, err)
	assert.Contains(t, out, "  jobs.workers: ")
	assert.Contains(t, out, "  dispatch.format: json")
}

func TestMissingConfigFileFails(t *testing.T) {
	_, _, err := execute(t, "", "--config", filepath.Join(t.TempDir(), "absent.yaml"), "config")
	assert.Error(t, err)
}
