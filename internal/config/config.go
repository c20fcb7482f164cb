// Package config loads dragonscale settings from YAML, .env files and
// DRAGONSCALE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/dragonscale-intent"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "DRAGONSCALE_"

// Config is the complete application configuration.
type Config struct {
	LLM      LLMConfig      `yaml:"llm"`
	Cache    CacheConfig    `yaml:"cache"`
	Executor ExecutorConfig `yaml:"executor"`
	History  HistoryConfig  `yaml:"history"`
	Search   SearchConfig   `yaml:"search"`
	Shell    ShellConfig    `yaml:"shell"`
}

type LLMConfig struct {
	Model     string        `yaml:"model"`
	PromptDir string        `yaml:"prompt_dir"`
	Prompt    string        `yaml:"prompt"`
	Timeout   time.Duration `yaml:"timeout"`
}

type CacheConfig struct {
	MaxSize  int           `yaml:"max_size"`
	TTL      time.Duration `yaml:"ttl"`
	ErrorTTL time.Duration `yaml:"error_ttl"`
	// ContextKeys widens the fingerprint allow-list with Extra keys.
	ContextKeys []string `yaml:"context_keys"`
	// PersistPath stores the cache between runs. Empty keeps it in memory.
	PersistPath string `yaml:"persist_path"`
}

type ExecutorConfig struct {
	EventBus         bool          `yaml:"event_bus"`
	StepTimeout      time.Duration `yaml:"step_timeout"`
	BatchConcurrency int           `yaml:"batch_concurrency"`
}

type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type SearchConfig struct {
	Endpoint   string `yaml:"endpoint"`
	MaxResults int    `yaml:"max_results"`
}

type ShellConfig struct {
	// Path is the default shell; empty selects the platform default.
	Path    string `yaml:"path"`
	BaseDir string `yaml:"base_dir"`
}

// Dir returns the dragonscale configuration directory.
func Dir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "dragonscale")
	}
	return ".dragonscale"
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	return filepath.Join(Dir(), "config.yaml")
}

// Default returns the built-in configuration.
func Default() Config {
	engine := dragonscale.DefaultConfig()
	dir := Dir()
	return Config{
		LLM: LLMConfig{
			Model:     "googleai/gemini-2.0-flash",
			PromptDir: "prompts",
			Prompt:    "interpret",
			Timeout:   engine.LLMTimeout,
		},
		Cache: CacheConfig{
			MaxSize:     256,
			TTL:         time.Hour,
			ErrorTTL:    time.Minute,
			PersistPath: filepath.Join(dir, "cache.json"),
		},
		Executor: ExecutorConfig{
			EventBus:         true,
			BatchConcurrency: engine.BatchConcurrency,
		},
		History: HistoryConfig{
			Enabled: true,
			Path:    filepath.Join(dir, "history.db"),
		},
		Search: SearchConfig{
			Endpoint:   "https://html.duckduckgo.com/html/",
			MaxResults: 10,
		},
	}
}

// Loader reads configuration. Process environment variables take precedence
// over values from EnvFiles, which take precedence over the YAML file.
type Loader struct {
	// Path is the YAML file. An explicit path must exist; the default path
	// may be missing.
	Path      string
	EnvFiles  []string
	LookupEnv func(string) (string, bool)
}

// NewLoader returns a loader for path ("" selects DefaultPath) that reads
// .env from the working directory.
func NewLoader(path string) *Loader {
	return &Loader{Path: path, EnvFiles: []string{".env"}, LookupEnv: os.LookupEnv}
}

// Load reads, overrides and validates the configuration.
func (l *Loader) Load() (Config, error) {
	cfg := Default()

	path, explicit := l.Path, l.Path != ""
	if !explicit {
		path = DefaultPath()
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, dragonscale.NewConfigurationError(fmt.Sprintf("invalid config file %s", path), err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return Config{}, dragonscale.NewConfigurationError(fmt.Sprintf("cannot read config file %s", path), err)
	}

	dotenv := map[string]string{}
	for _, f := range l.EnvFiles {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		values, err := godotenv.Read(f)
		if err != nil {
			return Config{}, dragonscale.NewConfigurationError(fmt.Sprintf("invalid env file %s", f), err)
		}
		for k, v := range values {
			if _, seen := dotenv[k]; !seen {
				dotenv[k] = v
			}
		}
	}
	lookup := func(key string) (string, bool) {
		if l.LookupEnv != nil {
			if v, ok := l.LookupEnv(key); ok {
				return v, true
			}
		}
		v, ok := dotenv[key]
		return v, ok
	}

	if err := applyEnv(&cfg, lookup); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	dur := func(name string, dst *time.Duration) error {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return dragonscale.NewConfigurationError(fmt.Sprintf("%s%s must be a duration", EnvPrefix, name), err)
		}
		*dst = d
		return nil
	}
	num := func(name string, dst *int) error {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return dragonscale.NewConfigurationError(fmt.Sprintf("%s%s must be an integer", EnvPrefix, name), err)
		}
		*dst = n
		return nil
	}
	flag := func(name string, dst *bool) error {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return dragonscale.NewConfigurationError(fmt.Sprintf("%s%s must be a boolean", EnvPrefix, name), err)
		}
		*dst = b
		return nil
	}

	str("MODEL", &cfg.LLM.Model)
	str("PROMPT_DIR", &cfg.LLM.PromptDir)
	str("HISTORY_PATH", &cfg.History.Path)
	str("CACHE_PATH", &cfg.Cache.PersistPath)
	str("SEARCH_ENDPOINT", &cfg.Search.Endpoint)
	str("SHELL", &cfg.Shell.Path)
	if v, ok := lookup(EnvPrefix + "CACHE_CONTEXT_KEYS"); ok {
		cfg.Cache.ContextKeys = nil
		for _, k := range strings.Split(v, ",") {
			if k = strings.TrimSpace(k); k != "" {
				cfg.Cache.ContextKeys = append(cfg.Cache.ContextKeys, k)
			}
		}
	}

	return errors.Join(
		dur("LLM_TIMEOUT", &cfg.LLM.Timeout),
		dur("CACHE_TTL", &cfg.Cache.TTL),
		dur("CACHE_ERROR_TTL", &cfg.Cache.ErrorTTL),
		dur("STEP_TIMEOUT", &cfg.Executor.StepTimeout),
		num("CACHE_MAX_SIZE", &cfg.Cache.MaxSize),
		num("SEARCH_MAX_RESULTS", &cfg.Search.MaxResults),
		flag("HISTORY_ENABLED", &cfg.History.Enabled),
		flag("EVENT_BUS", &cfg.Executor.EventBus),
	)
}

// Validate rejects settings the engine cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.LLM.Timeout <= 0 {
		errs = append(errs, errors.New("llm.timeout must be positive"))
	}
	if c.Cache.MaxSize <= 0 {
		errs = append(errs, errors.New("cache.max_size must be positive"))
	}
	if c.Cache.TTL <= 0 {
		errs = append(errs, errors.New("cache.ttl must be positive"))
	}
	if c.Cache.ErrorTTL < 0 {
		errs = append(errs, errors.New("cache.error_ttl cannot be negative"))
	}
	if c.Cache.ErrorTTL > c.Cache.TTL {
		errs = append(errs, errors.New("cache.error_ttl cannot exceed cache.ttl"))
	}
	if c.Executor.StepTimeout < 0 {
		errs = append(errs, errors.New("executor.step_timeout cannot be negative"))
	}
	if c.Executor.BatchConcurrency <= 0 {
		errs = append(errs, errors.New("executor.batch_concurrency must be positive"))
	}
	if c.History.Enabled && c.History.Path == "" {
		errs = append(errs, errors.New("history.path is required when history is enabled"))
	}
	if c.Search.MaxResults < 0 {
		errs = append(errs, errors.New("search.max_results cannot be negative"))
	}
	if len(errs) > 0 {
		return dragonscale.NewConfigurationError("invalid configuration", errors.Join(errs...))
	}
	return nil
}

// EngineConfig maps the settings onto the engine's Config.
func (c Config) EngineConfig() dragonscale.Config {
	ec := dragonscale.DefaultConfig()
	ec.LLMTimeout = c.LLM.Timeout
	ec.BatchConcurrency = c.Executor.BatchConcurrency
	ec.EnableEventBus = c.Executor.EventBus
	return ec
}

// Write saves c as YAML at path, creating the directory.
func (c Config) Write(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	raw, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o600)
}
