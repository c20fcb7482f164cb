package eventbus

import (
	"context"
	"time"
)

// EventType represents the type of an event
type EventType string

// Standard event types
const (
	// Interpretation events
	EventInterpretationStarted EventType = "interpretation_started"
	EventInterpretationSuccess EventType = "interpretation_success"
	EventInterpretationFailure EventType = "interpretation_failure"

	// Response cache events
	EventCacheHit  EventType = "cache_hit"
	EventCacheMiss EventType = "cache_miss"

	// Plan generation events
	EventPlanGenerationStarted EventType = "plan_generation_started"
	EventPlanGenerationSuccess EventType = "plan_generation_success"
	EventPlanGenerationFailure EventType = "plan_generation_failure"

	// Plan execution events
	EventPlanExecutionStarted EventType = "plan_execution_started"
	EventPlanExecutionSuccess EventType = "plan_execution_success"
	EventPlanExecutionFailure EventType = "plan_execution_failure"

	// Step execution events
	EventStepExecutionStarted EventType = "step_execution_started"
	EventStepExecutionSuccess EventType = "step_execution_success"
	EventStepExecutionFailure EventType = "step_execution_failure"
	EventStepExecutionSkipped EventType = "step_execution_skipped"

	// Command processing events
	EventCommandProcessingStarted EventType = "command_processing_started"
	EventCommandProcessingSuccess EventType = "command_processing_success"
	EventCommandProcessingFailure EventType = "command_processing_failure"

	// Async command processing events
	EventCommandAsyncStarted   EventType = "command_async_started"
	EventCommandAsyncSuccess   EventType = "command_async_success"
	EventCommandAsyncFailure   EventType = "command_async_failure"
	EventCommandAsyncCancelled EventType = "command_async_cancelled"

	// System events
	EventSystemError   EventType = "system_error"
	EventSystemWarning EventType = "system_warning"
)

// EventHandler is a function that handles events
type EventHandler func(context.Context, Event) error

// Event represents something that has happened within the system
type Event interface {
	// Type returns the event type
	Type() EventType

	// Payload returns the event data
	Payload() any

	// Metadata returns additional information about the event
	Metadata() map[string]any

	// Timestamp returns when the event occurred
	Timestamp() int64

	// Source returns information about what generated the event
	Source() string
}

// EventBus is the central event dispatch system
type EventBus interface {
	// Publish sends an event to all subscribed handlers
	Publish(ctx context.Context, event Event) error

	// Subscribe registers a handler for specific event types and returns
	// a subscription ID that can be used to unsubscribe
	Subscribe(eventTypes []EventType, handler EventHandler) (string, error)

	// SubscribeAll registers a handler for all event types
	SubscribeAll(handler EventHandler) (string, error)

	// Unsubscribe removes a subscription by ID
	Unsubscribe(subscriptionID string) error

	// Close delivers queued events and shuts the bus down
	Close() error
}

// BaseEvent is a simple implementation of the Event interface
type BaseEvent struct {
	eventType  EventType
	payload    any
	metadata   map[string]any
	timestamp  int64
	sourceInfo string
}

// NewEvent creates a new BaseEvent
func NewEvent(eventType EventType, payload any, source string, metadata map[string]any) *BaseEvent {
	if metadata == nil {
		metadata = make(map[string]any)
	}

	return &BaseEvent{
		eventType:  eventType,
		payload:    payload,
		metadata:   metadata,
		timestamp:  time.Now().UnixNano(),
		sourceInfo: source,
	}
}

// NewEmptyEvent creates an event with no payload.
func NewEmptyEvent(eventType EventType) *BaseEvent {
	return NewEvent(eventType, nil, "", nil)
}

func (e *BaseEvent) Type() EventType          { return e.eventType }
func (e *BaseEvent) Payload() any             { return e.payload }
func (e *BaseEvent) Metadata() map[string]any { return e.metadata }
func (e *BaseEvent) Timestamp() int64         { return e.timestamp }
func (e *BaseEvent) Source() string           { return e.sourceInfo }

// WithMetadata adds or updates metadata and returns the same event
func (e *BaseEvent) WithMetadata(key string, value any) *BaseEvent {
	e.metadata[key] = value
	return e
}

// Publish is a nil-safe helper: publishing to a nil bus is a no-op. The
// event outlives ctx cancellation so failure and cancel events still arrive.
func Publish(ctx context.Context, bus EventBus, eventType EventType, payload any, source string, metadata map[string]any) {
	if bus == nil {
		return
	}
	_ = bus.Publish(context.WithoutCancel(ctx), NewEvent(eventType, payload, source, metadata))
}
