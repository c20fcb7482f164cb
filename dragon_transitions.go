package dragonscale

import (
	"context"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/dragonscale-intent/internal/eventbus"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ProcessOutcome is what Process reports about one command.
type ProcessOutcome struct {
	ID         string
	Query      string
	State      ProcessState
	Extraction *ExtractionResult
	Plan       Plan
	Result     *AggregateResult
	Output     string
	Visited    []ProcessState
	Duration   time.Duration
}

// ProcessOption adjusts a single Process call.
type ProcessOption func(*ProcessContext)

// DryRun stops the pipeline after planning; nothing is executed.
func DryRun() ProcessOption {
	return func(pc *ProcessContext) {
		pc.DryRun = true
	}
}

// Process interprets commandText, plans the result and executes the plan.
// Extraction errors and informational answers complete without execution;
// an aborted plan ends in StateError and returns its *StepError.
func (e *Engine) Process(ctx context.Context, commandText string, ci ContextInfo, opts ...ProcessOption) (*ProcessOutcome, error) {
	pCtx := NewProcessContext(commandText, ci)
	for _, opt := range opts {
		opt(pCtx)
	}
	_, err := e.createStateMachine().Execute(ctx, pCtx)
	return outcomeOf(uuid.New().String(), pCtx), err
}

func outcomeOf(id string, pCtx *ProcessContext) *ProcessOutcome {
	return &ProcessOutcome{
		ID:         id,
		Query:      pCtx.Query,
		State:      pCtx.CurrentState(),
		Extraction: pCtx.Extraction,
		Plan:       pCtx.Plan,
		Result:     pCtx.Result,
		Output:     pCtx.Output(),
		Visited:    pCtx.Visited(),
		Duration:   pCtx.GetTotalDuration(),
	}
}

// createStateMachine wires the pipeline transitions.
func (e *Engine) createStateMachine() *StateMachine {
	sm := NewStateMachine(e.eventBus)
	sm.RegisterTransition(StateInit, e.initTransition)
	sm.RegisterTransition(StateInterpreting, e.interpretingTransition)
	sm.RegisterTransition(StatePlanning, e.planningTransition)
	sm.RegisterTransition(StateExecution, e.executionTransition)
	return sm
}

func (e *Engine) initTransition(ctx context.Context, eb eventbus.EventBus, pCtx *ProcessContext) (ProcessState, error) {
	eventbus.Publish(ctx, eb, eventbus.EventCommandProcessingStarted, pCtx.Query, "StateMachine.Init", map[string]any{
		"timestamp": time.Now().Format(time.RFC3339),
	})
	if strings.TrimSpace(pCtx.Query) == "" {
		return StateError, NewValidationError(string(StateInit), "command text cannot be empty", nil)
	}
	return StateInterpreting, nil
}

func (e *Engine) interpretingTransition(ctx context.Context, eb eventbus.EventBus, pCtx *ProcessContext) (ProcessState, error) {
	result := e.Interpret(ctx, pCtx.Query, pCtx.Context)
	if err := ctx.Err(); err != nil {
		return StateCancelled, NewCancelledError(string(StateInterpreting), err)
	}
	pCtx.Extraction = &result

	switch {
	case result.Kind == KindError:
		pCtx.setOutput(describeExtractionError(result.Error))
		e.finishProcess(ctx, eb, pCtx, nil)
		return StateComplete, nil
	case result.Kind == KindInfo && result.Info.RelatedCommand == "":
		pCtx.setOutput(result.Info.ResponseText)
		e.finishProcess(ctx, eb, pCtx, nil)
		return StateComplete, nil
	}
	return StatePlanning, nil
}

func describeExtractionError(xe *ExtractionError) string {
	if xe == nil {
		return ""
	}
	out := "error: " + xe.Message
	if xe.SuggestedApproach != "" {
		out += "\nsuggested approach: " + xe.SuggestedApproach
	}
	return out
}

func (e *Engine) planningTransition(ctx context.Context, eb eventbus.EventBus, pCtx *ProcessContext) (ProcessState, error) {
	eventbus.Publish(ctx, eb, eventbus.EventPlanGenerationStarted, pCtx.Query, "StateMachine.Planning", nil)

	plan, err := e.planner.FromExtraction(*pCtx.Extraction, pCtx.Context)
	if err != nil {
		eventbus.Publish(ctx, eb, eventbus.EventPlanGenerationFailure, err.Error(), "StateMachine.Planning", nil)
		e.finishProcess(ctx, eb, pCtx, err)
		return StateError, NewPlanGenerationError(err)
	}
	if plan == nil {
		pCtx.setOutput(pCtx.Extraction.Summary())
		e.finishProcess(ctx, eb, pCtx, nil)
		return StateComplete, nil
	}

	pCtx.Plan = plan
	eventbus.Publish(ctx, eb, eventbus.EventPlanGenerationSuccess, DescribePlan(plan), "StateMachine.Planning", map[string]any{
		"step_count": plan.Len(),
	})

	if pCtx.DryRun {
		pCtx.setOutput(strings.Join(DescribePlan(plan), "\n"))
		e.finishProcess(ctx, eb, pCtx, nil)
		return StateComplete, nil
	}
	return StateExecution, nil
}

func (e *Engine) executionTransition(ctx context.Context, eb eventbus.EventBus, pCtx *ProcessContext) (ProcessState, error) {
	result, err := e.executor.Execute(ctx, pCtx.Plan)
	pCtx.Result = result
	if err != nil {
		e.logger.Warn("Plan execution failed", zap.String("query", pCtx.Query), zap.Error(err))
		e.finishProcess(ctx, eb, pCtx, err)
		return StateError, err
	}

	pCtx.setOutput(result.Output)
	e.finishProcess(ctx, eb, pCtx, nil)
	return StateComplete, nil
}

func (e *Engine) finishProcess(ctx context.Context, eb eventbus.EventBus, pCtx *ProcessContext, err error) {
	metadata := map[string]any{
		"duration_ms": pCtx.GetTotalDuration().Milliseconds(),
	}
	if err != nil {
		metadata["error"] = err.Error()
		eventbus.Publish(ctx, eb, eventbus.EventCommandProcessingFailure, pCtx.Query, "StateMachine", metadata)
		return
	}
	eventbus.Publish(ctx, eb, eventbus.EventCommandProcessingSuccess, pCtx.Query, "StateMachine", metadata)
}
