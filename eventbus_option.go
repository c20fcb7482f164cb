package dragonscale

import (
	"time"

	"github.com/ZanzyTHEbar/dragonscale-intent/internal/eventbus"
)

// WithEventBus sets the event bus. A bus supplied here is not closed by
// Engine.Close.
func WithEventBus(bus eventbus.EventBus) Option {
	return func(e *Engine) {
		e.eventBus = bus
	}
}

// InterpretationEvent is the payload of interpretation success and failure
// events.
type InterpretationEvent struct {
	Query    string
	Context  ContextInfo
	Result   ExtractionResult
	Cached   bool
	Duration time.Duration
}

// PlanRunEvent is the payload of plan execution success and failure events.
type PlanRunEvent struct {
	PlanName string
	Steps    int
	Result   *AggregateResult
	Err      error
}
