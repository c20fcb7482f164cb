package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ZanzyTHEbar/dragonscale-intent/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Cache.PersistPath = filepath.Join(dir, "cache.json")
	cfg.History.Path = filepath.Join(dir, "history.db")
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, cfg.Write(path))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRun_Calculate(t *testing.T) {
	cfgPath := writeConfig(t)
	out, err := execute(t, "--config", cfgPath, "run", "calculate", "2+3")
	require.NoError(t, err)
	assert.Contains(t, out, "step_1")
	assert.Contains(t, out, "5")
}

func TestInterpret_Offline(t *testing.T) {
	cfgPath := writeConfig(t)
	out, err := execute(t, "--config", cfgPath, "--offline-response", "```bash\ndf -h\n```", "interpret", "show", "disk", "usage")
	require.NoError(t, err)
	assert.Contains(t, out, "show disk usage")
	assert.Contains(t, out, "df -h")
	assert.Contains(t, out, "action")
}

func TestProcess_DryRun(t *testing.T) {
	cfgPath := writeConfig(t)
	out, err := execute(t, "--config", cfgPath, "--offline-response", "`rm -rf build`", "process", "--dry-run", "clean up")
	require.NoError(t, err)
	assert.Contains(t, out, "rm -rf build")
	assert.Contains(t, out, "shell")
}

func TestPlan_ValidateAndExec(t *testing.T) {
	cfgPath := writeConfig(t)
	planPath := filepath.Join(t.TempDir(), "plan.yaml")
	require.NoError(t, os.WriteFile(planPath, []byte(`name: math
steps:
  - id: sum
    tool: calculate
    action: evaluate
    params:
      expression: "20 + 22"
  - id: check
    tool: calculate
    action: evaluate
    condition: "$sum > 40"
    params:
      expression: "21 * 4"
`), 0o644))

	out, err := execute(t, "--config", cfgPath, "plan", "validate", planPath)
	require.NoError(t, err)
	assert.Contains(t, out, "math (2 steps)")

	out, err = execute(t, "--config", cfgPath, "plan", "exec", planPath)
	require.NoError(t, err)
	assert.Contains(t, out, "42\n84")
}

func TestHistoryAndCache(t *testing.T) {
	cfgPath := writeConfig(t)
	_, err := execute(t, "--config", cfgPath, "--offline-response", "`uptime`", "interpret", "uptime")
	require.NoError(t, err)

	out, err := execute(t, "--config", cfgPath, "history", "--search", "uptime")
	require.NoError(t, err)
	assert.Contains(t, out, "uptime")
	assert.Contains(t, out, "interpretation")

	out, err = execute(t, "--config", cfgPath, "cache", "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "1/256")

	_, err = execute(t, "--config", cfgPath, "cache", "clear")
	require.NoError(t, err)
	out, err = execute(t, "--config", cfgPath, "cache", "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "0/256")
}

func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fresh", "config.yaml")
	_, err := execute(t, "--config", path, "config", "init")
	require.NoError(t, err)
	assert.FileExists(t, path)

	_, err = execute(t, "--config", path, "config", "init")
	assert.ErrorContains(t, err, "already exists")
}

func TestMissingExplicitConfig(t *testing.T) {
	_, err := execute(t, "--config", filepath.Join(t.TempDir(), "nope.yaml"), "cache", "stats")
	assert.Error(t, err)
}
