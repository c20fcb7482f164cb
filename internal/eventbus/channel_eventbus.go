// Package eventbus carries interpretation, planning and execution events to
// observers such as the history recorder.
package eventbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrBusClosed is returned by operations on a closed bus.
var ErrBusClosed = errors.New("event bus is closed")

// subscription is one registered handler. A nil types set matches every event.
type subscription struct {
	types   map[EventType]struct{}
	handler EventHandler
}

func (s subscription) matches(t EventType) bool {
	if s.types == nil {
		return true
	}
	_, ok := s.types[t]
	return ok
}

type envelope struct {
	ctx   context.Context
	event Event
}

// Stats counts what the bus has done since it was created.
type Stats struct {
	Published uint64 // events accepted by Publish
	Delivered uint64 // handler invocations that eventually succeeded
	Failed    uint64 // handler invocations that exhausted their retries
	Skipped   uint64 // events dropped because their context ended before delivery
}

// ChannelEventBus delivers events asynchronously through a buffered queue
// drained by a fixed set of workers. Handlers of one event run sequentially
// in subscription order; events are processed in publish order when the bus
// has a single worker.
type ChannelEventBus struct {
	mu     sync.RWMutex
	subs   map[string]subscription
	order  []string
	closed bool

	queue chan envelope
	done  chan struct{}
	wg    sync.WaitGroup

	published atomic.Uint64
	delivered atomic.Uint64
	failed    atomic.Uint64
	skipped   atomic.Uint64

	logger        *zap.Logger
	bufferSize    int
	workerCount   int
	maxRetries    int
	retryInterval time.Duration
}

// ChannelEventBusOption configures a ChannelEventBus.
type ChannelEventBusOption func(*ChannelEventBus)

// WithBufferSize sets the queue capacity. Publish blocks when it is full.
func WithBufferSize(size int) ChannelEventBusOption {
	return func(eb *ChannelEventBus) {
		eb.bufferSize = size
	}
}

func WithWorkerCount(count int) ChannelEventBusOption {
	return func(eb *ChannelEventBus) {
		eb.workerCount = count
	}
}

// WithRetries sets how often a failing handler is retried. The wait doubles
// after every attempt, starting at retryInterval.
func WithRetries(maxRetries int, retryInterval time.Duration) ChannelEventBusOption {
	return func(eb *ChannelEventBus) {
		eb.maxRetries = maxRetries
		eb.retryInterval = retryInterval
	}
}

func WithLogger(logger *zap.Logger) ChannelEventBusOption {
	return func(eb *ChannelEventBus) {
		eb.logger = logger
	}
}

// NewChannelEventBus starts the workers and returns a ready bus. Close must
// be called to stop them.
func NewChannelEventBus(options ...ChannelEventBusOption) *ChannelEventBus {
	eb := &ChannelEventBus{
		subs:          make(map[string]subscription),
		done:          make(chan struct{}),
		logger:        zap.NewNop(),
		bufferSize:    100,
		workerCount:   5,
		maxRetries:    3,
		retryInterval: 100 * time.Millisecond,
	}
	for _, option := range options {
		option(eb)
	}
	eb.workerCount = max(eb.workerCount, 1)
	eb.bufferSize = max(eb.bufferSize, 0)
	eb.maxRetries = max(eb.maxRetries, 0)
	if eb.logger == nil {
		eb.logger = zap.NewNop()
	}

	eb.queue = make(chan envelope, eb.bufferSize)
	eb.wg.Add(eb.workerCount)
	for range eb.workerCount {
		go eb.run()
	}
	return eb
}

func (eb *ChannelEventBus) run() {
	defer eb.wg.Done()
	for {
		select {
		case env := <-eb.queue:
			eb.dispatch(env)
		case <-eb.done:
			for {
				select {
				case env := <-eb.queue:
					eb.dispatch(env)
				default:
					return
				}
			}
		}
	}
}

// handlersFor snapshots the matching handlers so none run under the lock;
// a handler may subscribe or unsubscribe.
func (eb *ChannelEventBus) handlersFor(t EventType) []EventHandler {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	var out []EventHandler
	for _, id := range eb.order {
		if sub := eb.subs[id]; sub.matches(t) {
			out = append(out, sub.handler)
		}
	}
	return out
}

func (eb *ChannelEventBus) dispatch(env envelope) {
	if env.ctx.Err() != nil {
		eb.skipped.Add(1)
		return
	}
	for _, handler := range eb.handlersFor(env.event.Type()) {
		if err := eb.deliver(env.ctx, env.event, handler); err != nil {
			eb.failed.Add(1)
			eb.logger.Warn("Event handler failed",
				zap.String("event_type", string(env.event.Type())),
				zap.Int("attempts", eb.maxRetries+1),
				zap.Error(err))
			continue
		}
		eb.delivered.Add(1)
	}
}

func (eb *ChannelEventBus) deliver(ctx context.Context, event Event, handler EventHandler) error {
	wait := eb.retryInterval
	var err error
	for attempt := 0; ; attempt++ {
		if err = invoke(ctx, event, handler); err == nil {
			return nil
		}
		if attempt >= eb.maxRetries {
			return err
		}
		select {
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		case <-time.After(wait):
		}
		wait *= 2
	}
}

// invoke turns a handler panic into an error so one bad observer cannot take
// a worker down.
func invoke(ctx context.Context, event Event, handler EventHandler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("event handler panicked: %v", r)
		}
	}()
	return handler(ctx, event)
}

// Publish queues an event. It blocks while the queue is full and fails once
// ctx ends or the bus closes.
func (eb *ChannelEventBus) Publish(ctx context.Context, event Event) error {
	if event == nil {
		return errors.New("event cannot be nil")
	}
	eb.mu.RLock()
	closed := eb.closed
	eb.mu.RUnlock()
	if closed {
		return ErrBusClosed
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-eb.done:
		return ErrBusClosed
	case eb.queue <- envelope{ctx: ctx, event: event}:
		eb.published.Add(1)
		return nil
	}
}

// Subscribe registers handler for the given event types.
func (eb *ChannelEventBus) Subscribe(eventTypes []EventType, handler EventHandler) (string, error) {
	if len(eventTypes) == 0 {
		return "", errors.New("at least one event type is required")
	}
	types := make(map[EventType]struct{}, len(eventTypes))
	for _, t := range eventTypes {
		types[t] = struct{}{}
	}
	return eb.add(subscription{types: types, handler: handler})
}

// SubscribeAll registers handler for every event type.
func (eb *ChannelEventBus) SubscribeAll(handler EventHandler) (string, error) {
	return eb.add(subscription{handler: handler})
}

func (eb *ChannelEventBus) add(sub subscription) (string, error) {
	if sub.handler == nil {
		return "", errors.New("handler cannot be nil")
	}
	eb.mu.Lock()
	defer eb.mu.Unlock()
	if eb.closed {
		return "", ErrBusClosed
	}
	id := uuid.NewString()
	eb.subs[id] = sub
	eb.order = append(eb.order, id)
	return id, nil
}

// Unsubscribe removes a subscription. Unknown IDs are ignored.
func (eb *ChannelEventBus) Unsubscribe(subscriptionID string) error {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	if eb.closed {
		return ErrBusClosed
	}
	if _, ok := eb.subs[subscriptionID]; !ok {
		return nil
	}
	delete(eb.subs, subscriptionID)
	for i, id := range eb.order {
		if id == subscriptionID {
			eb.order = append(eb.order[:i], eb.order[i+1:]...)
			break
		}
	}
	return nil
}

// Stats returns the delivery counters.
func (eb *ChannelEventBus) Stats() Stats {
	return Stats{
		Published: eb.published.Load(),
		Delivered: eb.delivered.Load(),
		Failed:    eb.failed.Load(),
		Skipped:   eb.skipped.Load(),
	}
}

// Close stops accepting events, delivers everything already queued and
// waits for the workers to exit. It is safe to call more than once.
func (eb *ChannelEventBus) Close() error {
	eb.mu.Lock()
	if eb.closed {
		eb.mu.Unlock()
		return nil
	}
	eb.closed = true
	eb.mu.Unlock()

	close(eb.done)
	eb.wg.Wait()
	return nil
}
