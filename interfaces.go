package dragonscale

import "context"

// Tool is a named capability a plan step can execute.
type Tool interface {
	Name() string
	// Execute performs action with params. Errors abort the enclosing plan.
	Execute(ctx context.Context, action string, params map[string]any) (any, error)
}

// SubAgent is a named collaborator that may run its own nested plan.
// Its single result is the result of the delegating step.
type SubAgent interface {
	Name() string
	Delegate(ctx context.Context, action string, params map[string]any) (any, error)
}

// LanguageModel turns prompt text into raw completion text. Implementations
// must honour ctx and return within a bounded interval.
type LanguageModel interface {
	GetAIResponse(ctx context.Context, prompt string) (string, error)
}

// ResponseCache stores extraction results keyed by normalized query and an
// allow-listed subset of the context.
type ResponseCache interface {
	Get(query string, ci ContextInfo) (ExtractionResult, bool)
	Put(query string, ci ContextInfo, result ExtractionResult)
	Fingerprint(query string, ci ContextInfo) string
}

// Extractor converts raw model output into an ExtractionResult. It never fails.
type Extractor interface {
	Extract(raw string) ExtractionResult
}

// Planner turns commands and extraction results into executable plans.
type Planner interface {
	// Plan is deterministic: the same command and params always yield the
	// same plan shape.
	Plan(command string, params map[string]any) (Plan, error)
	// FromExtraction returns a nil plan when the result carries nothing to run.
	FromExtraction(result ExtractionResult, ci ContextInfo) (Plan, error)
}

// Executor runs plans. A failed run returns a *StepError alongside the
// partial aggregate.
type Executor interface {
	Execute(ctx context.Context, plan Plan) (*AggregateResult, error)
}
