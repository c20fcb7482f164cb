// Package app wires configuration, tools, the cache, the executor, the
// history store and the language model into an Engine.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/ZanzyTHEbar/dragonscale-intent"
	"github.com/ZanzyTHEbar/dragonscale-intent/internal/adapters"
	"github.com/ZanzyTHEbar/dragonscale-intent/internal/cache"
	"github.com/ZanzyTHEbar/dragonscale-intent/internal/config"
	"github.com/ZanzyTHEbar/dragonscale-intent/internal/eventbus"
	"github.com/ZanzyTHEbar/dragonscale-intent/internal/executor"
	"github.com/ZanzyTHEbar/dragonscale-intent/internal/extract"
	"github.com/ZanzyTHEbar/dragonscale-intent/internal/history"
	"github.com/ZanzyTHEbar/dragonscale-intent/internal/planner"
	"github.com/ZanzyTHEbar/dragonscale-intent/internal/platform"
	"github.com/ZanzyTHEbar/dragonscale-intent/internal/prompt"
	"github.com/ZanzyTHEbar/dragonscale-intent/internal/tools"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"go.uber.org/zap"
)

// Options adjusts how the container is built.
type Options struct {
	Logger *zap.Logger
	// LanguageModel replaces the Genkit-backed model.
	LanguageModel dragonscale.LanguageModel
	// WithoutModel skips model setup for commands that only run plans.
	WithoutModel bool
	// Context replaces platform detection.
	Context    *dragonscale.ContextInfo
	HTTPClient *http.Client
}

// Container holds the wired application services.
type Container struct {
	Config   config.Config
	Logger   *zap.Logger
	Context  dragonscale.ContextInfo
	Engine   *dragonscale.Engine
	Planner  *planner.RulePlanner
	Executor *executor.SequentialExecutor
	Cache    *cache.ResponseCache
	History  *history.Store

	persistent *cache.PersistentCache
	recorder   *history.Recorder
	bus        eventbus.EventBus
}

// Build constructs the dependency graph for cfg.
func Build(ctx context.Context, cfg config.Config, opts Options) (*Container, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Container{Config: cfg, Logger: logger}

	if opts.Context != nil {
		c.Context = *opts.Context
	} else {
		c.Context = platform.NewDetector().Detect()
	}

	if err := c.buildCache(); err != nil {
		return nil, err
	}

	if cfg.Executor.EventBus {
		c.bus = eventbus.NewChannelEventBus(eventbus.WithLogger(logger.Named("eventbus")))
	}

	toolRegistry := dragonscale.NewToolRegistry(logger)
	agentRegistry := dragonscale.NewSubAgentRegistry(logger)

	c.Planner = planner.New(planner.WithLogger(logger.Named("planner")))

	execOpts := []executor.ExecutorOption{
		executor.WithLogger(logger.Named("executor")),
		executor.WithStepTimeout(cfg.Executor.StepTimeout),
	}
	if c.bus != nil {
		execOpts = append(execOpts, executor.WithEventBus(c.bus))
	}

	builtins := tools.SetupTools(tools.Options{
		Shell:            cfg.Shell.Path,
		BaseDir:          cfg.Shell.BaseDir,
		SearchEndpoint:   cfg.Search.Endpoint,
		SearchMaxResults: cfg.Search.MaxResults,
		HTTPClient:       opts.HTTPClient,
		Logger:           logger.Named("tools"),
	})
	if err := toolRegistry.Register(builtins...); err != nil {
		return nil, err
	}
	c.Executor = executor.NewExecutor(toolRegistry, agentRegistry, execOpts...)

	research := adapters.NewPlanAgent(planner.ResearchAgent, ResearchPlan, c.Executor,
		adapters.WithAgentLogger(logger.Named("research")))
	if err := agentRegistry.Register(research); err != nil {
		return nil, err
	}

	llm := opts.LanguageModel
	if llm == nil && !opts.WithoutModel {
		model, err := newGenkitModel(ctx, cfg.LLM, logger)
		if err != nil {
			c.closeStores()
			return nil, err
		}
		llm = model
	}

	extractor := extract.New(
		extract.WithTranslator(extract.NewShellTranslator(c.Context.IsWindows())),
		extract.WithLogger(logger.Named("extract")),
	)

	engineCfg := cfg.EngineConfig()
	engineOpts := []dragonscale.Option{
		dragonscale.WithConfig(engineCfg),
		dragonscale.WithCache(c.responseCache()),
		dragonscale.WithExtractor(extractor),
		dragonscale.WithPlanner(c.Planner),
		dragonscale.WithExecutor(c.Executor),
		dragonscale.WithToolRegistry(toolRegistry),
		dragonscale.WithSubAgentRegistry(agentRegistry),
		dragonscale.WithLogger(logger),
	}
	if llm != nil {
		engineOpts = append(engineOpts, dragonscale.WithLanguageModel(llm))
	}
	if c.bus != nil {
		engineOpts = append(engineOpts, dragonscale.WithEventBus(c.bus))
	}
	engine, err := dragonscale.New(engineOpts...)
	if err != nil {
		c.closeStores()
		return nil, err
	}
	c.Engine = engine

	if err := c.attachHistory(); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Container) buildCache() error {
	cacheOpts := []cache.Option{
		cache.WithMaxSize(c.Config.Cache.MaxSize),
		cache.WithTTL(c.Config.Cache.TTL),
		cache.WithErrorTTL(c.Config.Cache.ErrorTTL),
		cache.WithContextKeys(append(slices.Clone(cache.DefaultContextKeys), c.Config.Cache.ContextKeys...)...),
		cache.WithLogger(c.Logger.Named("cache")),
	}
	if c.Config.Cache.PersistPath == "" {
		c.Cache = cache.New(cacheOpts...)
		return nil
	}
	pc, err := cache.NewPersistent(c.Config.Cache.PersistPath, cacheOpts...)
	if err != nil {
		return dragonscale.NewCacheError("initialization", "load", err)
	}
	c.persistent = pc
	c.Cache = pc.ResponseCache
	return nil
}

func (c *Container) responseCache() dragonscale.ResponseCache {
	if c.persistent != nil {
		return c.persistent
	}
	return c.Cache
}

func (c *Container) attachHistory() error {
	if !c.Config.History.Enabled {
		return nil
	}
	store, err := history.Open(c.Config.History.Path)
	if err != nil {
		return err
	}
	c.History = store
	if c.bus == nil {
		c.Logger.Warn("History is enabled but the event bus is off; runs will not be recorded")
		return nil
	}
	c.recorder = history.NewRecorder(store, c.Logger.Named("history"))
	return c.recorder.Attach(c.bus)
}

func newGenkitModel(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) (*adapters.GenkitLanguageModel, error) {
	registry, err := prompt.NewRegistry(ctx, logger.Named("genkit"),
		[]genkit.GenkitOption{
			genkit.WithPlugins(&googlegenai.GoogleAI{}),
			genkit.WithDefaultModel(cfg.Model),
			genkit.WithPromptDir(cfg.PromptDir),
		},
		prompt.WithRawFallback(),
	)
	if err != nil {
		return nil, dragonscale.NewConfigurationError("language model setup failed", err)
	}
	return adapters.NewGenkitLanguageModel(registry,
		adapters.WithPromptName(cfg.Prompt),
		adapters.WithModelLogger(logger.Named("llm")),
	), nil
}

// ResearchPlan delegates a research request to the search tool.
func ResearchPlan(_ string, params map[string]any) (dragonscale.Plan, error) {
	query, _ := params["query"].(string)
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("research requires a non-empty query")
	}
	searchParams := map[string]any{"query": query}
	if n, ok := params["max_results"]; ok {
		searchParams["max_results"] = n
	}
	return dragonscale.NewSingleAction(dragonscale.ToolRef(tools.SearchTool), "query", searchParams), nil
}

// FlushCache writes the persistent cache snapshot, if any.
func (c *Container) FlushCache() error {
	if c.persistent == nil {
		return nil
	}
	return c.persistent.Flush()
}

// ClearCache empties the cache and its snapshot.
func (c *Container) ClearCache() {
	if c.persistent != nil {
		c.persistent.Clear()
		return
	}
	c.Cache.Clear()
}

// Close drains pending events, then closes the history store and flushes
// the cache.
func (c *Container) Close() error {
	var errs []error
	if c.Engine != nil {
		errs = append(errs, c.Engine.Close())
	}
	if c.bus != nil {
		if err := c.bus.Close(); err != nil && !errors.Is(err, eventbus.ErrBusClosed) {
			errs = append(errs, fmt.Errorf("failed to close event bus: %w", err))
		}
	}
	if c.recorder != nil {
		errs = append(errs, c.recorder.Detach())
	}
	errs = append(errs, c.closeStores())
	return errors.Join(errs...)
}

func (c *Container) closeStores() error {
	var errs []error
	if c.History != nil {
		errs = append(errs, c.History.Close())
		c.History = nil
	}
	if c.persistent != nil {
		errs = append(errs, c.persistent.Close())
	}
	return errors.Join(errs...)
}
