package dragonscale

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/dragonscale-intent/internal/eventbus"
)

// ProcessState represents the current state of a process execution.
type ProcessState string

const (
	// StateInit is the initial state of the process
	StateInit ProcessState = "init"
	// StateInterpreting turns the command text into an ExtractionResult
	StateInterpreting ProcessState = "interpreting"
	// StatePlanning turns the extraction into a plan
	StatePlanning ProcessState = "planning"
	// StateExecution runs the plan
	StateExecution ProcessState = "execution"
	// StateError represents an error state
	StateError ProcessState = "error"
	// StateComplete represents the completed state
	StateComplete ProcessState = "complete"
	// StateCancelled represents the cancelled state
	StateCancelled ProcessState = "cancelled"
	// StateUnknown is used when the status of an async execution cannot be determined.
	StateUnknown ProcessState = "unknown"
)

// ProcessContext carries one command through the pipeline. Fields written
// by transitions are guarded so async status reads are safe.
type ProcessContext struct {
	mu sync.RWMutex

	// Input parameters
	Query   string
	Context ContextInfo
	DryRun  bool

	// Intermediate results
	Extraction *ExtractionResult
	Plan       Plan
	Result     *AggregateResult
	output     string

	// Error handling
	lastError  error
	errorStage string

	// State management
	currentState ProcessState
	visited      []ProcessState
	cancel       context.CancelFunc

	// Timestamp tracking
	StartTime       time.Time
	endTime         time.Time
	StateStartTimes map[ProcessState]time.Time
}

// NewProcessContext creates a new process context with the given query.
func NewProcessContext(query string, ci ContextInfo) *ProcessContext {
	now := time.Now()
	return &ProcessContext{
		Query:           query,
		Context:         ci,
		currentState:    StateInit,
		visited:         []ProcessState{StateInit},
		StartTime:       now,
		StateStartTimes: map[ProcessState]time.Time{StateInit: now},
	}
}

// CurrentState returns the state the process is in.
func (pc *ProcessContext) CurrentState() ProcessState {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	return pc.currentState
}

// Visited returns every state entered so far, in order.
func (pc *ProcessContext) Visited() []ProcessState {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	return slices.Clone(pc.visited)
}

// Output returns the final user-facing text.
func (pc *ProcessContext) Output() string {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	return pc.output
}

func (pc *ProcessContext) setOutput(out string) {
	pc.mu.Lock()
	pc.output = out
	pc.mu.Unlock()
}

// Failure returns the stage that failed and the error recorded for it.
func (pc *ProcessContext) Failure() (string, error) {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	return pc.errorStage, pc.lastError
}

func (pc *ProcessContext) enter(state ProcessState) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.currentState = state
	pc.visited = append(pc.visited, state)
	pc.StateStartTimes[state] = time.Now()
}

// IsTerminal checks if the current state is a terminal state (Complete, Error, Cancelled).
func (pc *ProcessContext) IsTerminal() bool {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	return pc.isTerminalLocked()
}

func (pc *ProcessContext) isTerminalLocked() bool {
	return pc.currentState == StateComplete || pc.currentState == StateError || pc.currentState == StateCancelled
}

// SetError sets the last error and error stage, transitioning to StateError.
func (pc *ProcessContext) SetError(err error, stage string) {
	pc.finish(StateError, err, stage)
}

// SetCancelled sets the state to Cancelled and records the cancellation error.
func (pc *ProcessContext) SetCancelled(err error, stage string) {
	pc.finish(StateCancelled, err, stage)
}

// Complete marks the process as complete and sets the end time.
func (pc *ProcessContext) Complete() {
	pc.finish(StateComplete, nil, "")
}

func (pc *ProcessContext) finish(state ProcessState, err error, stage string) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if pc.isTerminalLocked() {
		return
	}
	pc.lastError = err
	pc.errorStage = stage
	pc.currentState = state
	pc.visited = append(pc.visited, state)
	pc.endTime = time.Now()
	pc.StateStartTimes[state] = pc.endTime
}

// GetTotalDuration returns the total duration of the process so far.
func (pc *ProcessContext) GetTotalDuration() time.Duration {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	if !pc.endTime.IsZero() {
		return pc.endTime.Sub(pc.StartTime)
	}
	return time.Since(pc.StartTime)
}

// FinishedAt returns when the process reached a terminal state.
func (pc *ProcessContext) FinishedAt() time.Time {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	return pc.endTime
}

// StateTransition defines a transition function for the state machine.
type StateTransition func(ctx context.Context, eventBus eventbus.EventBus, pCtx *ProcessContext) (ProcessState, error)

// StateMachine drives a ProcessContext through registered transitions.
type StateMachine struct {
	transitions map[ProcessState]StateTransition
	eventBus    eventbus.EventBus
}

// NewStateMachine creates a new state machine with the provided transitions.
func NewStateMachine(eventBus eventbus.EventBus) *StateMachine {
	return &StateMachine{
		transitions: make(map[ProcessState]StateTransition),
		eventBus:    eventBus,
	}
}

// RegisterTransition registers a state transition function.
func (sm *StateMachine) RegisterTransition(state ProcessState, transition StateTransition) {
	sm.transitions[state] = transition
}

// Execute runs transitions until the context reaches a terminal state and
// returns the final output with any recorded error.
func (sm *StateMachine) Execute(ctx context.Context, pCtx *ProcessContext) (string, error) {
	for !pCtx.IsTerminal() {
		current := pCtx.CurrentState()

		if err := ctx.Err(); err != nil {
			pCtx.SetCancelled(NewCancelledError(string(current), err), string(current))
			break
		}

		transition, exists := sm.transitions[current]
		if !exists {
			pCtx.SetError(NewInternalError(string(current), fmt.Sprintf("no transition defined for state: %s", current), nil), string(current))
			break
		}

		nextState, err := transition(ctx, sm.eventBus, pCtx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				pCtx.SetCancelled(err, string(current))
			} else {
				pCtx.SetError(err, string(current))
			}
			continue
		}

		switch nextState {
		case StateComplete:
			pCtx.Complete()
		case StateError, StateCancelled:
			pCtx.SetError(NewInternalError(string(current), fmt.Sprintf("transition moved to %s without an error", nextState), nil), string(current))
		default:
			pCtx.enter(nextState)
		}
	}

	_, err := pCtx.Failure()
	return pCtx.Output(), err
}
