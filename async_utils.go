package dragonscale

import (
	"context"
	"fmt"
	"time"

	"github.com/ZanzyTHEbar/dragonscale-intent/internal/eventbus"
	"github.com/google/uuid"
)

// AsyncExecutionStatus represents the status information for an async execution.
type AsyncExecutionStatus struct {
	ExecutionID  string        `json:"execution_id"`
	Query        string        `json:"query"`
	CurrentState ProcessState  `json:"current_state"`
	StartTime    time.Time     `json:"start_time"`
	Duration     time.Duration `json:"duration"`
	IsComplete   bool          `json:"is_complete"`
	HasError     bool          `json:"has_error"`
	ErrorMessage string        `json:"error_message,omitempty"`
	ErrorStage   string        `json:"error_stage,omitempty"`
}

// ProcessAsync starts Process in the background and returns an execution ID
// for the status, result and cancel calls. The run is detached from ctx's
// cancellation; use CancelAsyncProcess to stop it.
func (e *Engine) ProcessAsync(ctx context.Context, commandText string, ci ContextInfo, opts ...ProcessOption) (string, error) {
	executionID := uuid.New().String()

	pCtx := NewProcessContext(commandText, ci)
	for _, opt := range opts {
		opt(pCtx)
	}

	asyncCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	pCtx.cancel = cancel

	e.asyncExecutionsMutex.Lock()
	e.asyncExecutions[executionID] = pCtx
	e.asyncExecutionsMutex.Unlock()

	eventbus.Publish(ctx, e.eventBus, eventbus.EventCommandAsyncStarted, commandText, "Engine.ProcessAsync", map[string]any{
		"execution_id": executionID,
	})

	stateMachine := e.createStateMachine()
	go func() {
		defer cancel()

		_, err := stateMachine.Execute(asyncCtx, pCtx)

		eventType := eventbus.EventCommandAsyncSuccess
		metadata := map[string]any{
			"execution_id": executionID,
			"duration_ms":  pCtx.GetTotalDuration().Milliseconds(),
		}
		if err != nil {
			eventType = eventbus.EventCommandAsyncFailure
			stage, _ := pCtx.Failure()
			metadata["error"] = err.Error()
			metadata["error_stage"] = stage
		}
		eventbus.Publish(context.Background(), e.eventBus, eventType, commandText, "Engine.ProcessAsync", metadata)
	}()

	return executionID, nil
}

func (e *Engine) lookupAsync(executionID string) (*ProcessContext, error) {
	e.asyncExecutionsMutex.RLock()
	defer e.asyncExecutionsMutex.RUnlock()
	pCtx, exists := e.asyncExecutions[executionID]
	if !exists {
		return nil, NewValidationError("async", fmt.Sprintf("execution with ID '%s' not found", executionID), nil)
	}
	return pCtx, nil
}

// GetAsyncStatus retrieves the current status of an async execution.
func (e *Engine) GetAsyncStatus(executionID string) (*AsyncExecutionStatus, error) {
	pCtx, err := e.lookupAsync(executionID)
	if err != nil {
		return nil, err
	}

	state := pCtx.CurrentState()
	status := &AsyncExecutionStatus{
		ExecutionID:  executionID,
		Query:        pCtx.Query,
		CurrentState: state,
		StartTime:    pCtx.StartTime,
		Duration:     pCtx.GetTotalDuration(),
		IsComplete:   state == StateComplete,
		HasError:     state == StateError || state == StateCancelled,
	}
	if stage, lastErr := pCtx.Failure(); lastErr != nil {
		status.ErrorMessage = lastErr.Error()
		status.ErrorStage = stage
	}
	return status, nil
}

// GetAsyncResult returns the outcome of a finished async execution. It
// fails while the execution is still running, and returns the run's error
// alongside the outcome when it failed.
func (e *Engine) GetAsyncResult(executionID string) (*ProcessOutcome, error) {
	pCtx, err := e.lookupAsync(executionID)
	if err != nil {
		return nil, err
	}

	if !pCtx.IsTerminal() {
		return nil, fmt.Errorf("execution is still in progress (current state: %s)", pCtx.CurrentState())
	}
	_, lastErr := pCtx.Failure()
	return outcomeOf(executionID, pCtx), lastErr
}

// CancelAsyncProcess cancels an ongoing async execution. It reports false
// when the execution had already finished.
func (e *Engine) CancelAsyncProcess(executionID string) (bool, error) {
	pCtx, err := e.lookupAsync(executionID)
	if err != nil {
		return false, err
	}
	if pCtx.IsTerminal() {
		return false, nil
	}

	pCtx.cancel()
	pCtx.SetCancelled(NewCancelledError("async", context.Canceled), "cancelled")

	eventbus.Publish(context.Background(), e.eventBus, eventbus.EventCommandAsyncCancelled, pCtx.Query, "Engine.CancelAsyncProcess", map[string]any{
		"execution_id": executionID,
		"duration_ms":  pCtx.GetTotalDuration().Milliseconds(),
	})
	return true, nil
}

// ListAsyncExecutions returns every tracked execution ID with its state.
func (e *Engine) ListAsyncExecutions() map[string]ProcessState {
	e.asyncExecutionsMutex.RLock()
	defer e.asyncExecutionsMutex.RUnlock()

	result := make(map[string]ProcessState, len(e.asyncExecutions))
	for id, pCtx := range e.asyncExecutions {
		result[id] = pCtx.CurrentState()
	}
	return result
}

// CleanupCompletedExecutions removes finished executions older than
// olderThan and reports how many were removed.
func (e *Engine) CleanupCompletedExecutions(olderThan time.Duration) int {
	e.asyncExecutionsMutex.Lock()
	defer e.asyncExecutionsMutex.Unlock()

	now := time.Now()
	count := 0
	for id, pCtx := range e.asyncExecutions {
		if pCtx.IsTerminal() && now.Sub(pCtx.FinishedAt()) > olderThan {
			delete(e.asyncExecutions, id)
			count++
		}
	}
	return count
}
