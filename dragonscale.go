// Package dragonscale interprets free-form model output into executable
// intents and runs them as single actions or ordered multi-step plans.
package dragonscale

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/dragonscale-intent/internal/eventbus"
	"github.com/ZanzyTHEbar/dragonscale-intent/internal/prompt"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Engine is the entry point: it owns the interpretation pipeline and the
// registries plans execute against.
type Engine struct {
	llm       LanguageModel
	cache     ResponseCache
	extractor Extractor
	planner   Planner
	executor  Executor
	formatter PromptFormatter

	tools        *ToolRegistry
	agents       *SubAgentRegistry
	pendingTools []Tool
	pendingAgent []SubAgent

	eventBus eventbus.EventBus
	ownsBus  bool
	logger   *zap.Logger
	config   Config
	flights  singleflight.Group

	asyncExecutions      map[string]*ProcessContext
	asyncExecutionsMutex sync.RWMutex
}

// PromptFormatter builds the outbound prompt for a request.
type PromptFormatter func(request string, ci ContextInfo) (string, error)

// Config holds runtime settings for the engine.
type Config struct {
	// LLMTimeout bounds each language-model call.
	LLMTimeout time.Duration

	// BatchConcurrency caps concurrent interpretations in InterpretBatch.
	BatchConcurrency int

	// Event bus configuration
	EnableEventBus      bool
	EventBusBufferSize  int
	EventBusWorkerCount int
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		LLMTimeout:          30 * time.Second,
		BatchConcurrency:    4,
		EnableEventBus:      false,
		EventBusBufferSize:  100,
		EventBusWorkerCount: 2,
	}
}

// Option is a function that configures an Engine.
type Option func(*Engine)

// WithConfig sets the runtime configuration.
func WithConfig(config Config) Option {
	return func(e *Engine) {
		e.config = config
	}
}

// WithLanguageModel sets the collaborator that produces raw responses.
func WithLanguageModel(llm LanguageModel) Option {
	return func(e *Engine) {
		e.llm = llm
	}
}

// WithCache sets the response cache.
func WithCache(cache ResponseCache) Option {
	return func(e *Engine) {
		e.cache = cache
	}
}

// WithExtractor sets the command extractor.
func WithExtractor(extractor Extractor) Option {
	return func(e *Engine) {
		e.extractor = extractor
	}
}

// WithPlanner sets the planner.
func WithPlanner(planner Planner) Option {
	return func(e *Engine) {
		e.planner = planner
	}
}

// WithExecutor sets the plan executor.
func WithExecutor(executor Executor) Option {
	return func(e *Engine) {
		e.executor = executor
	}
}

// WithPromptFormatter replaces the default prompt template.
func WithPromptFormatter(formatter PromptFormatter) Option {
	return func(e *Engine) {
		e.formatter = formatter
	}
}

// WithToolRegistry shares a tool registry, typically the executor's.
func WithToolRegistry(registry *ToolRegistry) Option {
	return func(e *Engine) {
		e.tools = registry
	}
}

// WithSubAgentRegistry shares a sub-agent registry, typically the executor's.
func WithSubAgentRegistry(registry *SubAgentRegistry) Option {
	return func(e *Engine) {
		e.agents = registry
	}
}

// WithTools registers tools before the registries are frozen.
func WithTools(tools ...Tool) Option {
	return func(e *Engine) {
		e.pendingTools = append(e.pendingTools, tools...)
	}
}

// WithSubAgents registers sub-agents before the registries are frozen.
func WithSubAgents(agents ...SubAgent) Option {
	return func(e *Engine) {
		e.pendingAgent = append(e.pendingAgent, agents...)
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// New creates an Engine. The cache, extractor, planner and executor are
// required; the language model is optional for engines that only run plans.
// Registries are frozen once New returns.
func New(options ...Option) (*Engine, error) {
	e := &Engine{
		config:          DefaultConfig(),
		asyncExecutions: make(map[string]*ProcessContext),
	}

	for _, option := range options {
		option(e)
	}

	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	if e.cache == nil {
		return nil, NewConfigurationError("response cache is required", nil)
	}
	if e.extractor == nil {
		return nil, NewConfigurationError("extractor is required", nil)
	}
	if e.planner == nil {
		return nil, NewConfigurationError("planner is required", nil)
	}
	if e.executor == nil {
		return nil, NewConfigurationError("executor is required", nil)
	}
	if e.config.LLMTimeout <= 0 {
		return nil, NewConfigurationError("llm timeout must be positive", nil)
	}
	if e.config.BatchConcurrency < 1 {
		e.config.BatchConcurrency = 1
	}
	if e.formatter == nil {
		e.formatter = defaultPromptFormatter
	}
	if e.tools == nil {
		e.tools = NewToolRegistry(e.logger)
	}
	if e.agents == nil {
		e.agents = NewSubAgentRegistry(e.logger)
	}
	if err := e.tools.Register(e.pendingTools...); err != nil {
		return nil, err
	}
	if err := e.agents.Register(e.pendingAgent...); err != nil {
		return nil, err
	}
	e.pendingTools, e.pendingAgent = nil, nil
	e.tools.Freeze()
	e.agents.Freeze()

	if e.config.EnableEventBus && e.eventBus == nil {
		e.eventBus = eventbus.NewChannelEventBus(
			eventbus.WithBufferSize(e.config.EventBusBufferSize),
			eventbus.WithWorkerCount(e.config.EventBusWorkerCount),
			eventbus.WithLogger(e.logger),
		)
		e.ownsBus = true
		e.logger.Debug("Initialized default channel-based event bus")
	}

	return e, nil
}

func defaultPromptFormatter(request string, ci ContextInfo) (string, error) {
	return prompt.FormatPrompt(request, prompt.PlatformInfo{
		OSFamily:     ci.OSFamily,
		Distribution: ci.Distribution,
		Version:      ci.OSVersion,
		Shell:        ci.ShellFamily,
	})
}

// Close shuts down the event bus if the engine created it.
func (e *Engine) Close() error {
	if e.ownsBus && e.eventBus != nil {
		return e.eventBus.Close()
	}
	return nil
}

// Tools exposes the read-only tool registry.
func (e *Engine) Tools() *ToolRegistry { return e.tools }

// SubAgents exposes the read-only sub-agent registry.
func (e *Engine) SubAgents() *SubAgentRegistry { return e.agents }

// EventBus returns the engine's bus, or nil when events are disabled.
func (e *Engine) EventBus() eventbus.EventBus { return e.eventBus }

// Interpret turns command text into an ExtractionResult, consulting the
// cache first. Concurrent misses for the same fingerprint share one model
// call. It never returns a Go error: failures come back as the Error variant.
func (e *Engine) Interpret(ctx context.Context, commandText string, ci ContextInfo) ExtractionResult {
	start := time.Now()
	eventbus.Publish(ctx, e.eventBus, eventbus.EventInterpretationStarted, commandText, "Engine.Interpret", nil)

	if cached, ok := e.cache.Get(commandText, ci); ok {
		e.logger.Debug("Interpretation cache hit", zap.String("query", commandText))
		eventbus.Publish(ctx, e.eventBus, eventbus.EventCacheHit, commandText, "Engine.Interpret", nil)
		e.publishInterpretation(ctx, commandText, ci, cached, true, time.Since(start))
		return cached
	}
	eventbus.Publish(ctx, e.eventBus, eventbus.EventCacheMiss, commandText, "Engine.Interpret", nil)

	result := e.interpretShared(ctx, commandText, ci, e.cache.Fingerprint(commandText, ci))

	e.logger.Debug("Interpretation finished",
		zap.String("query", commandText),
		zap.String("kind", string(result.Kind)),
		zap.String("source", string(result.Source)),
		zap.Duration("duration", time.Since(start)))
	e.publishInterpretation(ctx, commandText, ci, result, false, time.Since(start))
	return result
}

// errFlightCancelled marks a shared model call whose initiating caller gave
// up. Its result is neither cached nor handed to callers that are still live.
var errFlightCancelled = errors.New("shared interpretation cancelled")

// interpretShared runs at most one model call per fingerprint. Every caller
// waits on its own ctx; callers that share a result get their own copy.
func (e *Engine) interpretShared(ctx context.Context, commandText string, ci ContextInfo, key string) ExtractionResult {
	for {
		ch := e.flights.DoChan(key, func() (any, error) {
			result := e.extractor.Extract(e.complete(ctx, commandText, ci))
			if ctx.Err() != nil {
				return result, errFlightCancelled
			}
			e.cache.Put(commandText, ci, result)
			return result, nil
		})

		select {
		case <-ctx.Done():
			return e.extractor.Extract("ERROR: " + ctx.Err().Error())
		case res := <-ch:
			if errors.Is(res.Err, errFlightCancelled) && ctx.Err() == nil {
				continue
			}
			result := res.Val.(ExtractionResult)
			if res.Shared {
				result = result.Clone()
			}
			return result
		}
	}
}

// complete asks the language model for a raw response. Failures are folded
// into the "ERROR: ..." text convention so they flow through extraction.
func (e *Engine) complete(ctx context.Context, commandText string, ci ContextInfo) string {
	if e.llm == nil {
		return "ERROR: no language model configured"
	}

	promptText, err := e.formatter(commandText, ci)
	if err != nil {
		return "ERROR: " + err.Error()
	}

	callCtx, cancel := context.WithTimeout(ctx, e.config.LLMTimeout)
	defer cancel()

	raw, err := e.llm.GetAIResponse(callCtx, promptText)
	if err != nil {
		e.logger.Warn("Language model call failed", zap.String("query", commandText), zap.Error(err))
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return fmt.Sprintf("ERROR: language model timed out after %s", e.config.LLMTimeout)
		}
		return "ERROR: " + err.Error()
	}
	return raw
}

func (e *Engine) publishInterpretation(ctx context.Context, query string, ci ContextInfo, result ExtractionResult, cached bool, d time.Duration) {
	if e.eventBus == nil {
		return
	}
	eventType := eventbus.EventInterpretationSuccess
	if result.IsError() {
		eventType = eventbus.EventInterpretationFailure
	}
	eventbus.Publish(ctx, e.eventBus, eventType, InterpretationEvent{
		Query:    query,
		Context:  ci,
		Result:   result,
		Cached:   cached,
		Duration: d,
	}, "Engine.Interpret", nil)
}

// InterpretBatch interprets several commands concurrently over the shared
// cache. Results are returned in input order.
func (e *Engine) InterpretBatch(ctx context.Context, commands []string, ci ContextInfo) []ExtractionResult {
	results := make([]ExtractionResult, len(commands))
	p := pool.New().WithMaxGoroutines(e.config.BatchConcurrency)
	for i, cmd := range commands {
		p.Go(func() {
			results[i] = e.Interpret(ctx, cmd, ci)
		})
	}
	p.Wait()
	return results
}

// Run plans command with the rule planner and executes it without
// consulting the language model.
func (e *Engine) Run(ctx context.Context, command string, params map[string]any) (*AggregateResult, error) {
	plan, err := e.planner.Plan(command, params)
	if err != nil {
		return nil, NewPlanGenerationError(err)
	}
	return e.ExecutePlan(ctx, plan)
}

// ExecutePlan runs a prepared plan.
func (e *Engine) ExecutePlan(ctx context.Context, plan Plan) (*AggregateResult, error) {
	if plan == nil {
		return nil, NewValidationError("execution", "plan cannot be nil", nil)
	}
	return e.executor.Execute(ctx, plan)
}
