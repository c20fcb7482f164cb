package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ZanzyTHEbar/dragonscale-intent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(vars map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, time.Hour, cfg.Cache.TTL)
	assert.Equal(t, time.Minute, cfg.Cache.ErrorTTL)
	assert.True(t, cfg.History.Enabled)
	assert.Equal(t, "interpret", cfg.LLM.Prompt)
}

func TestLoader_YAMLAndOverrides(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", `
llm:
  model: ollama/llama3
  timeout: 45s
cache:
  max_size: 32
  ttl: 10m
  error_ttl: 30s
  context_keys: [user]
executor:
  step_timeout: 5s
history:
  enabled: false
`)
	envFile := writeFile(t, dir, ".env", "DRAGONSCALE_CACHE_MAX_SIZE=64\nDRAGONSCALE_MODEL=from-dotenv\n")

	l := &Loader{
		Path:      path,
		EnvFiles:  []string{envFile},
		LookupEnv: envMap(map[string]string{"DRAGONSCALE_MODEL": "from-env"}),
	}
	cfg, err := l.Load()
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.LLM.Model, "process env wins over .env")
	assert.Equal(t, 64, cfg.Cache.MaxSize, ".env wins over yaml")
	assert.Equal(t, 45*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, 10*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, 30*time.Second, cfg.Cache.ErrorTTL)
	assert.Equal(t, []string{"user"}, cfg.Cache.ContextKeys)
	assert.Equal(t, 5*time.Second, cfg.Executor.StepTimeout)
	assert.False(t, cfg.History.Enabled)
	assert.Equal(t, Default().Search.Endpoint, cfg.Search.Endpoint, "unset keys keep defaults")
}

func TestLoader_EnvParsing(t *testing.T) {
	l := &Loader{
		Path: writeFile(t, t.TempDir(), "c.yaml", "{}"),
		LookupEnv: envMap(map[string]string{
			"DRAGONSCALE_CACHE_TTL":          "2h",
			"DRAGONSCALE_HISTORY_ENABLED":    "false",
			"DRAGONSCALE_CACHE_CONTEXT_KEYS": " user , ,host",
		}),
	}
	cfg, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Hour, cfg.Cache.TTL)
	assert.False(t, cfg.History.Enabled)
	assert.Equal(t, []string{"user", "host"}, cfg.Cache.ContextKeys)

	l.LookupEnv = envMap(map[string]string{"DRAGONSCALE_CACHE_TTL": "soon", "DRAGONSCALE_CACHE_MAX_SIZE": "many"})
	_, err = l.Load()
	require.Error(t, err)
	assert.True(t, dragonscale.IsCode(err, dragonscale.ErrCodeConfiguration))
	assert.Contains(t, err.Error(), "DRAGONSCALE_CACHE_TTL")
	assert.Contains(t, err.Error(), "DRAGONSCALE_CACHE_MAX_SIZE")
}

func TestLoader_FileErrors(t *testing.T) {
	_, err := (&Loader{Path: filepath.Join(t.TempDir(), "missing.yaml")}).Load()
	require.Error(t, err, "an explicit path must exist")
	assert.True(t, dragonscale.IsCode(err, dragonscale.ErrCodeConfiguration))

	bad := writeFile(t, t.TempDir(), "bad.yaml", "cache: [not, a, map]")
	_, err = (&Loader{Path: bad}).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config file")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"zero cache size", func(c *Config) { c.Cache.MaxSize = 0 }, "cache.max_size"},
		{"zero ttl", func(c *Config) { c.Cache.TTL = 0 }, "cache.ttl must be positive"},
		{"error ttl above ttl", func(c *Config) { c.Cache.ErrorTTL = 2 * c.Cache.TTL }, "cannot exceed"},
		{"zero llm timeout", func(c *Config) { c.LLM.Timeout = 0 }, "llm.timeout"},
		{"negative step timeout", func(c *Config) { c.Executor.StepTimeout = -time.Second }, "step_timeout"},
		{"history without path", func(c *Config) { c.History.Path = "" }, "history.path"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestConfig_WriteRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := Default()
	cfg.LLM.Model = "custom/model"
	cfg.Cache.TTL = 90 * time.Minute
	require.NoError(t, cfg.Write(path))

	loaded, err := (&Loader{Path: path}).Load()
	require.NoError(t, err)
	assert.Equal(t, "custom/model", loaded.LLM.Model)
	assert.Equal(t, 90*time.Minute, loaded.Cache.TTL)
}

func TestEngineConfig(t *testing.T) {
	cfg := Default()
	cfg.LLM.Timeout = 7 * time.Second
	cfg.Executor.BatchConcurrency = 9
	ec := cfg.EngineConfig()
	assert.Equal(t, 7*time.Second, ec.LLMTimeout)
	assert.Equal(t, 9, ec.BatchConcurrency)
	assert.True(t, ec.EnableEventBus)
}
