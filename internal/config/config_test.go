package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "./agents", cfg.Agents.Root)
	assert.Nil(t, cfg.Agents.Available)
	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, "json", cfg.Dispatch.Format)
	assert.Equal(t, "memory", cfg.Jobs.Store.Driver)
	assert.Equal(t, "memory", cfg.Jobs.Queue.Driver)
	assert.Equal(t, 4, cfg.Jobs.Workers)
	assert.Equal(t, 3, cfg.Jobs.Retries)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
	assert.Equal(t, filepath.Join("data", "library.db"), cfg.DBPath)
	assert.Empty(t, cfg.TargetFolder)
}

func TestLoadEnvironment(t *testing.T) {
	t.Setenv("AGENTS_ROOT", "/srv/agents")
	t.Setenv("AVAILABLE_AGENTS", "demo, clock,,")
	t.Setenv("KNOWLEDGE_ROOT", "/srv/knowledge")
	t.Setenv("LLM_CHOICE", "gpt-4.1")
	t.Setenv("MEM0_AVAILABLE", "true")
	t.Setenv("JOB_WORKERS", "8")
	t.Setenv("AGENTHOST_SERVER_ADDRESS", ":9090")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/srv/agents", cfg.Agents.Root)
	assert.Equal(t, []string{"demo", "clock"}, cfg.Agents.Available)
	assert.Equal(t, filepath.Join("/srv/knowledge", "CLAUDE_MEMORY_BANK"), cfg.TargetFolder)
	assert.Equal(t, "gpt-4.1", cfg.LLM.Model)
	assert.True(t, cfg.Features.Mem0)
	assert.Equal(t, 8, cfg.Jobs.Workers)
	assert.Equal(t, ":9090", cfg.Server.Address)
}

func TestLoadFileResolvesRelativePaths(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agenthost.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
agents:
  root: agents
  index: agents.yaml
  available: [demo]
dispatch:
  format: YAML
log:
  audit:
    enabled: true
    path: logs/audit.log
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "agents"), cfg.Agents.Root)
	assert.Equal(t, filepath.Join(dir, "agents.yaml"), cfg.Agents.Index)
	assert.Equal(t, []string{"demo"}, cfg.Agents.Available)
	assert.Equal(t, "yaml", cfg.Dispatch.Format)
	assert.Equal(t, filepath.Join(dir, "logs", "audit.log"), cfg.Log.Audit.Path)
	assert.Equal(t, filepath.Join(dir, "data", "library.db"), cfg.DBPath)
	assert.Equal(t, path, cfg.File)
}

func TestLoadValidation(t *testing.T) {
	t.Setenv("JOB_STORE_DRIVER", "mysql")
	t.Setenv("JOB_QUEUE_DRIVER", "kafka")
	t.Setenv("DISPATCH_FORMAT", "xml")

	_, err := Load("")
	require.Error(t, err)
	assert.ErrorContains(t, err, "jobs.store.dsn")
	assert.ErrorContains(t, err, "kafka")
	assert.ErrorContains(t, err, "xml")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestSettingsMasksSecrets(t *testing.T) {
	t.Setenv("LLM_API_KEY", "sk-1234567890abcdef")
	cfg, err := Load("")
	require.NoError(t, err)

	values := map[string]string{}
	for _, s := range cfg.Settings() {
		values[s.Key] = s.Value
	}
	assert.Equal(t, "sk-1...cdef", values["llm.api_key"])
	assert.Equal(t, "(all)", values["agents.available"])
	assert.Equal(t, "agents.root", cfg.Settings()[0].Key)
}

func TestCurrentIsSharedUntilReload(t *testing.T) {
	t.Setenv(EnvConfigFile, "")
	t.Setenv("AGENTS_ROOT", "/first")
	first, err := Reload()
	require.NoError(t, err)
	again, err := Current()
	require.NoError(t, err)
	assert.Same(t, first, again)

	t.Setenv("AGENTS_ROOT", "/second")
	second, err := Reload()
	require.NoError(t, err)
	assert.Equal(t, "/second", second.Agents.Root)
	current, _ := Current()
	assert.Same(t, second, current)
}

func TestLoggerConfig(t *testing.T) {
	t.Setenv("LOG_OUTPUTS", "stdout,stderr")
	cfg, err := Load("")
	require.NoError(t, err)
	lc := cfg.LoggerConfig()
	assert.Equal(t, []string{"stdout", "stderr"}, lc.OutputPaths)
	assert.Equal(t, "info", lc.Level)
}
