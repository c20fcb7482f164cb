package history

import (
	"context"
	"errors"
	"fmt"

	"github.com/ZanzyTHEbar/dragonscale-intent"
	"github.com/ZanzyTHEbar/dragonscale-intent/internal/eventbus"
	"go.uber.org/zap"
)

// Recorder writes interpretation and plan run events from a bus to a Store.
type Recorder struct {
	store          *Store
	logger         *zap.Logger
	bus            eventbus.EventBus
	subscriptionID string
}

// NewRecorder returns a recorder for store.
func NewRecorder(store *Store, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{store: store, logger: logger}
}

// Attach subscribes the recorder to bus.
func (r *Recorder) Attach(bus eventbus.EventBus) error {
	id, err := bus.Subscribe([]eventbus.EventType{
		eventbus.EventInterpretationSuccess,
		eventbus.EventInterpretationFailure,
		eventbus.EventPlanExecutionSuccess,
		eventbus.EventPlanExecutionFailure,
	}, r.Handle)
	if err != nil {
		return fmt.Errorf("failed to subscribe history recorder: %w", err)
	}
	r.bus = bus
	r.subscriptionID = id
	return nil
}

// Detach removes the subscription made by Attach. A closed bus has no
// subscriptions left, so detaching from it succeeds.
func (r *Recorder) Detach() error {
	if r.bus == nil {
		return nil
	}
	err := r.bus.Unsubscribe(r.subscriptionID)
	r.bus = nil
	if errors.Is(err, eventbus.ErrBusClosed) {
		return nil
	}
	return err
}

// Handle stores one event. Events with other payloads are ignored.
func (r *Recorder) Handle(_ context.Context, event eventbus.Event) error {
	var err error
	switch payload := event.Payload().(type) {
	case dragonscale.InterpretationEvent:
		err = r.store.SaveInterpretation(payload)
	case dragonscale.PlanRunEvent:
		err = r.store.SavePlanRun(payload)
	default:
		return nil
	}
	if err != nil {
		r.logger.Warn("Failed to record history",
			zap.String("event", string(event.Type())),
			zap.Error(err))
	}
	return err
}
