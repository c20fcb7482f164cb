package dragonscale

import (
	"errors"
	"fmt"
)

// Error codes for specific failure types
const (
	ErrCodeValidation          = "VALIDATION_ERROR"
	ErrCodeTargetNotFound      = "TARGET_NOT_FOUND"
	ErrCodeInvocation          = "INVOCATION_ERROR"
	ErrCodeConditionEvaluation = "CONDITION_EVALUATION_ERROR"
	ErrCodePlanGeneration      = "PLAN_GENERATION_ERROR"
	ErrCodePlanValidation      = "PLAN_VALIDATION_ERROR"
	ErrCodePlanExecution       = "PLAN_EXECUTION_ERROR"
	ErrCodeInterpretation      = "INTERPRETATION_ERROR"
	ErrCodeConfiguration       = "CONFIGURATION_ERROR"
	ErrCodeCancelled           = "EXECUTION_CANCELLED"
	ErrCodeTimeout             = "EXECUTION_TIMEOUT"
	ErrCodeCache               = "CACHE_ERROR"
	ErrCodeInternal            = "INTERNAL_ERROR"
)

// DragonScaleError is the execution-time error type. Extraction problems are
// never reported through it; they come back as ExtractionResult values.
type DragonScaleError struct {
	Code    string // A machine-readable error code (e.g., ErrCodeTargetNotFound)
	Message string // A human-readable message
	Stage   string // The stage where the error occurred (e.g., "planning", "execution")
	Cause   error  // The underlying error, if any
}

// Error implements the error interface.
func (e *DragonScaleError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Stage, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Stage, e.Code, e.Message)
}

// Unwrap returns the underlying cause of the error, allowing for error chaining.
func (e *DragonScaleError) Unwrap() error {
	return e.Cause
}

// NewError creates a new DragonScaleError.
func NewError(code, stage, message string, cause error) *DragonScaleError {
	return &DragonScaleError{
		Code:    code,
		Stage:   stage,
		Message: message,
		Cause:   cause,
	}
}

// Specific error constructors

func NewValidationError(stage, message string, cause error) *DragonScaleError {
	return NewError(ErrCodeValidation, stage, message, cause)
}

// NewTargetNotFoundError reports a tool or sub-agent name that no registry knows.
func NewTargetNotFoundError(stage string, target Target) *DragonScaleError {
	return NewError(ErrCodeTargetNotFound, stage, fmt.Sprintf("%s '%s' not found", target.Kind, target.Name), nil)
}

// NewInvocationError wraps a failure raised by a tool or sub-agent.
func NewInvocationError(stage string, target Target, action string, cause error) *DragonScaleError {
	msg := fmt.Sprintf("%s '%s' failed on action '%s'", target.Kind, target.Name, action)
	return NewError(ErrCodeInvocation, stage, msg, cause)
}

// NewConditionEvaluationError reports a step guard that could not be evaluated.
func NewConditionEvaluationError(stage, stepID, condition string, cause error) *DragonScaleError {
	msg := fmt.Sprintf("condition %q of step '%s' could not be evaluated", condition, stepID)
	return NewError(ErrCodeConditionEvaluation, stage, msg, cause)
}

func NewPlanGenerationError(cause error) *DragonScaleError {
	return NewError(ErrCodePlanGeneration, "planning", "failed to generate plan", cause)
}

func NewPlanValidationError(message string, cause error) *DragonScaleError {
	return NewError(ErrCodePlanValidation, "planning", message, cause)
}

func NewPlanExecutionError(message string, cause error) *DragonScaleError {
	return NewError(ErrCodePlanExecution, "execution", message, cause)
}

func NewInterpretationError(message string, cause error) *DragonScaleError {
	return NewError(ErrCodeInterpretation, "interpretation", message, cause)
}

func NewConfigurationError(message string, cause error) *DragonScaleError {
	return NewError(ErrCodeConfiguration, "initialization", message, cause)
}

func NewCancelledError(stage string, cause error) *DragonScaleError {
	return NewError(ErrCodeCancelled, stage, "execution cancelled", cause)
}

func NewTimeoutError(stage string, cause error) *DragonScaleError {
	return NewError(ErrCodeTimeout, stage, "execution timed out", cause)
}

func NewCacheError(stage, operation string, cause error) *DragonScaleError {
	return NewError(ErrCodeCache, stage, fmt.Sprintf("cache operation '%s' failed", operation), cause)
}

func NewInternalError(stage, message string, cause error) *DragonScaleError {
	return NewError(ErrCodeInternal, stage, message, cause)
}

// IsDragonScaleError reports whether err is or wraps a *DragonScaleError.
func IsDragonScaleError(err error) bool {
	var dsErr *DragonScaleError
	return errors.As(err, &dsErr)
}

// ErrorCode returns the code of the first *DragonScaleError in err's chain, or "".
func ErrorCode(err error) string {
	var dsErr *DragonScaleError
	if errors.As(err, &dsErr) {
		return dsErr.Code
	}
	return ""
}

// IsCode reports whether err carries the given error code.
func IsCode(err error, code string) bool {
	return ErrorCode(err) == code
}

// StepError is returned when a plan aborts. It names the failing step and
// its target so callers can report exactly where the run stopped. Effects of
// earlier steps are not rolled back.
type StepError struct {
	Index  int
	StepID string
	Target Target
	Action string
	Err    *DragonScaleError
}

// Error implements the error interface.
func (e *StepError) Error() string {
	return fmt.Sprintf("step %d (%s) targeting %s failed on action '%s': %v",
		e.Index+1, e.StepID, e.Target, e.Action, e.Err)
}

// Unwrap exposes the underlying DragonScaleError.
func (e *StepError) Unwrap() error {
	return e.Err
}

// AsStepError extracts a *StepError from err's chain.
func AsStepError(err error) (*StepError, bool) {
	var stepErr *StepError
	if errors.As(err, &stepErr) {
		return stepErr, true
	}
	return nil, false
}
