// Package executor runs plans step by step against the tool and sub-agent
// registries.
package executor

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/Knetic/govaluate"
	"github.com/ZanzyTHEbar/dragonscale-intent"
	"github.com/ZanzyTHEbar/dragonscale-intent/internal/eventbus"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const stage = "execution"

// SequentialExecutor executes steps strictly in order. The first failing
// step aborts the run; effects of earlier steps are kept.
type SequentialExecutor struct {
	tools       *dragonscale.ToolRegistry
	agents      *dragonscale.SubAgentRegistry
	evaluator   *Evaluator
	functions   map[string]govaluate.ExpressionFunction
	stepTimeout time.Duration
	eventBus    eventbus.EventBus
	logger      *zap.Logger

	metrics Metrics
}

// ExecutorOption configures a SequentialExecutor.
type ExecutorOption func(*SequentialExecutor)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) ExecutorOption {
	return func(e *SequentialExecutor) {
		e.logger = logger
	}
}

// WithEventBus publishes run and step events to bus.
func WithEventBus(bus eventbus.EventBus) ExecutorOption {
	return func(e *SequentialExecutor) {
		e.eventBus = bus
	}
}

// WithExpressionFunctions makes extra functions callable from step conditions.
func WithExpressionFunctions(fns map[string]govaluate.ExpressionFunction) ExecutorOption {
	return func(e *SequentialExecutor) {
		if e.functions == nil {
			e.functions = make(map[string]govaluate.ExpressionFunction, len(fns))
		}
		maps.Copy(e.functions, fns)
	}
}

// WithStepTimeout bounds each tool or sub-agent invocation. Zero disables it.
func WithStepTimeout(timeout time.Duration) ExecutorOption {
	return func(e *SequentialExecutor) {
		e.stepTimeout = timeout
	}
}

// NewExecutor creates an executor over the given registries. Either registry
// may be nil, in which case every target in that namespace is unresolved.
func NewExecutor(tools *dragonscale.ToolRegistry, agents *dragonscale.SubAgentRegistry, options ...ExecutorOption) *SequentialExecutor {
	e := &SequentialExecutor{
		tools:  tools,
		agents: agents,
		logger: zap.NewNop(),
	}
	for _, option := range options {
		option(e)
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	e.evaluator = NewEvaluator(e.functions)

	if (tools == nil || tools.Len() == 0) && (agents == nil || agents.Len() == 0) {
		e.logger.Warn("Executor initialized without any tools or sub-agents")
	}
	return e
}

// GetMetrics returns a snapshot of the accumulated metrics.
func (e *SequentialExecutor) GetMetrics() Metrics {
	return e.metrics.Copy()
}

// run is the mutable state of one Execute call.
type run struct {
	result  *dragonscale.AggregateResult
	byID    map[string]any
	vars    map[string]any
	failure *dragonscale.StepError
}

// Execute runs plan. On failure it returns the partial aggregate together
// with a *dragonscale.StepError naming the step that stopped the run.
func (e *SequentialExecutor) Execute(ctx context.Context, plan dragonscale.Plan) (*dragonscale.AggregateResult, error) {
	if plan == nil {
		return nil, dragonscale.NewPlanValidationError("plan cannot be nil", nil)
	}

	r := &run{
		result: &dragonscale.AggregateResult{
			RunID:     uuid.New().String(),
			State:     dragonscale.RunPending,
			Trace:     []dragonscale.TraceEntry{},
			StartedAt: time.Now(),
		},
		byID: map[string]any{},
		vars: map[string]any{},
	}
	planName := ""
	if mp, ok := plan.(*dragonscale.MultiStepPlan); ok {
		planName = mp.Name()
		r.vars = mp.Variables()
	}

	e.logger.Info("Starting plan execution",
		zap.String("run_id", r.result.RunID),
		zap.String("plan", planName),
		zap.Int("steps", plan.Len()))
	eventbus.Publish(ctx, e.eventBus, eventbus.EventPlanExecutionStarted, dragonscale.DescribePlan(plan), "SequentialExecutor", map[string]any{
		"run_id": r.result.RunID,
		"plan":   planName,
	})

	r.result.State = dragonscale.RunRunning
	switch p := plan.(type) {
	case dragonscale.SingleAction:
		step := p.Steps()[0]
		e.invokeStep(ctx, r, 0, step, step.Params())
	default:
		e.runSteps(ctx, r, plan.Steps())
	}

	return e.finish(ctx, r, plan, planName)
}

func (e *SequentialExecutor) runSteps(ctx context.Context, r *run, steps []dragonscale.PlanStep) {
	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			r.failure = stepError(i, step, dragonscale.NewCancelledError(stage, err))
			return
		}

		params := resolveParams(step.Params(), r.byID)

		if cond := step.Condition(); cond != "" {
			scope := maps.Clone(r.vars)
			maps.Copy(scope, params)
			maps.Copy(scope, flattenResults(r.byID))

			ok, err := e.evaluator.EvaluateCondition(cond, scope, r.byID)
			if err != nil {
				r.failure = stepError(i, step, dragonscale.NewConditionEvaluationError(stage, step.ID(), cond, err))
				e.logger.Warn("Step condition could not be evaluated",
					zap.String("step", step.ID()),
					zap.String("condition", cond),
					zap.Error(err))
				return
			}
			if !ok {
				r.result.Skipped = append(r.result.Skipped, step.ID())
				e.metrics.recordSkip()
				e.logger.Debug("Skipping step", zap.String("step", step.ID()), zap.String("condition", cond))
				eventbus.Publish(ctx, e.eventBus, eventbus.EventStepExecutionSkipped, step.ID(), "SequentialExecutor", map[string]any{
					"run_id":    r.result.RunID,
					"condition": cond,
				})
				continue
			}
		}

		if !e.invokeStep(ctx, r, i, step, params) {
			return
		}
	}
}

// invokeStep resolves the target, calls it and records the trace entry. It
// reports whether the run may continue.
func (e *SequentialExecutor) invokeStep(ctx context.Context, r *run, index int, step dragonscale.PlanStep, params map[string]any) bool {
	target := step.Target()
	meta := map[string]any{
		"run_id": r.result.RunID,
		"target": target.String(),
		"action": step.Action(),
	}
	eventbus.Publish(ctx, e.eventBus, eventbus.EventStepExecutionStarted, step.ID(), "SequentialExecutor", meta)

	started := time.Now()
	value, dsErr := e.invoke(ctx, target, step.Action(), params)
	elapsed := time.Since(started)
	e.metrics.recordStep(elapsed, dsErr != nil)

	if dsErr != nil {
		r.failure = stepError(index, step, dsErr)
		e.logger.Warn("Step failed",
			zap.String("run_id", r.result.RunID),
			zap.String("step", step.ID()),
			zap.String("target", target.String()),
			zap.String("code", dsErr.Code),
			zap.Error(dsErr))
		failMeta := maps.Clone(meta)
		failMeta["error"] = dsErr.Error()
		eventbus.Publish(ctx, e.eventBus, eventbus.EventStepExecutionFailure, step.ID(), "SequentialExecutor", failMeta)
		return false
	}

	r.result.Trace = append(r.result.Trace, dragonscale.TraceEntry{
		StepIndex: index,
		StepID:    step.ID(),
		Target:    target,
		Action:    step.Action(),
		Params:    params,
		Result:    value,
		Duration:  elapsed,
	})
	r.byID[step.ID()] = value

	e.logger.Debug("Step completed",
		zap.String("step", step.ID()),
		zap.String("target", target.String()),
		zap.Duration("duration", elapsed))
	okMeta := maps.Clone(meta)
	okMeta["duration_ms"] = elapsed.Milliseconds()
	eventbus.Publish(ctx, e.eventBus, eventbus.EventStepExecutionSuccess, step.ID(), "SequentialExecutor", okMeta)
	return true
}

// invoke dispatches to the tool or sub-agent and converts every failure,
// including a panic, into a DragonScaleError.
func (e *SequentialExecutor) invoke(ctx context.Context, target dragonscale.Target, action string, params map[string]any) (value any, dsErr *dragonscale.DragonScaleError) {
	var call func(context.Context) (any, error)
	switch target.Kind {
	case dragonscale.TargetTool:
		if e.tools != nil {
			if tool, ok := e.tools.Lookup(target.Name); ok {
				call = func(ctx context.Context) (any, error) { return tool.Execute(ctx, action, params) }
			}
		}
	case dragonscale.TargetAgent:
		if e.agents != nil {
			if agent, ok := e.agents.Lookup(target.Name); ok {
				call = func(ctx context.Context) (any, error) { return agent.Delegate(ctx, action, params) }
			}
		}
	}
	if call == nil {
		return nil, dragonscale.NewTargetNotFoundError(stage, target)
	}

	callCtx := ctx
	if e.stepTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, e.stepTimeout)
		defer cancel()
	}

	defer func() {
		if rec := recover(); rec != nil {
			value = nil
			dsErr = dragonscale.NewInvocationError(stage, target, action, fmt.Errorf("panic: %v", rec))
		}
	}()

	value, err := call(callCtx)
	if err == nil {
		return value, nil
	}
	if ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return nil, dragonscale.NewTimeoutError(stage, fmt.Errorf("%s exceeded %v: %w", target, e.stepTimeout, err))
	}
	return nil, dragonscale.NewInvocationError(stage, target, action, err)
}

func (e *SequentialExecutor) finish(ctx context.Context, r *run, plan dragonscale.Plan, planName string) (*dragonscale.AggregateResult, error) {
	res := r.result
	res.FinishedAt = time.Now()

	if r.failure != nil {
		res.State = dragonscale.RunFailed
		res.Err = r.failure
		e.metrics.recordRun(res.Duration(), r.failure.StepID, true)
		e.logger.Warn("Plan execution failed",
			zap.String("run_id", res.RunID),
			zap.Int("executed", len(res.Trace)),
			zap.Error(r.failure))
		eventbus.Publish(ctx, e.eventBus, eventbus.EventPlanExecutionFailure, dragonscale.PlanRunEvent{
			PlanName: planName, Steps: plan.Len(), Result: res, Err: r.failure,
		}, "SequentialExecutor", map[string]any{"run_id": res.RunID})
		return res, r.failure
	}

	if _, single := plan.(dragonscale.SingleAction); single && len(res.Trace) == 1 {
		res.Value = res.Trace[0].Result
	} else {
		res.Value = res.Results()
	}
	res.Output = Format(res.Value)
	res.State = dragonscale.RunCompleted
	e.metrics.recordRun(res.Duration(), "", false)

	e.logger.Info("Plan execution completed",
		zap.String("run_id", res.RunID),
		zap.Int("executed", len(res.Trace)),
		zap.Int("skipped", len(res.Skipped)),
		zap.Duration("duration", res.Duration()))
	eventbus.Publish(ctx, e.eventBus, eventbus.EventPlanExecutionSuccess, dragonscale.PlanRunEvent{
		PlanName: planName, Steps: plan.Len(), Result: res,
	}, "SequentialExecutor", map[string]any{"run_id": res.RunID})
	return res, nil
}

func stepError(index int, step dragonscale.PlanStep, err *dragonscale.DragonScaleError) *dragonscale.StepError {
	return &dragonscale.StepError{
		Index:  index,
		StepID: step.ID(),
		Target: step.Target(),
		Action: step.Action(),
		Err:    err,
	}
}

// resolveParams replaces string parameters that are exactly a $step or
// $step.field reference with the referenced prior result.
func resolveParams(params map[string]any, results map[string]any) map[string]any {
	for k, v := range params {
		s, ok := v.(string)
		if !ok {
			continue
		}
		loc := refPattern.FindStringIndex(s)
		if loc == nil || loc[0] != 0 || loc[1] != len(s) {
			continue
		}
		m := refPattern.FindStringSubmatch(s)
		val, found := results[m[1]]
		for _, acc := range accessorPattern.FindAllString(m[2], -1) {
			if !found {
				break
			}
			val, found = access(val, acc)
		}
		if found {
			params[k] = val
		}
	}
	return params
}

// flattenResults exposes prior results as <id> and, for map results,
// <id>_<field>.
func flattenResults(results map[string]any) map[string]any {
	out := make(map[string]any, len(results))
	for id, v := range results {
		out[id] = v
		if m, ok := v.(map[string]any); ok {
			for field, fv := range m {
				out[id+"_"+field] = fv
			}
		}
	}
	return out
}
