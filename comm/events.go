package comm

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/swarmflow/internal/metrics"
	"github.com/BaSui01/swarmflow/types"
)

// EventHandler receives one swarm event. Delivery is best-effort,
// at-most-once: a panicking handler is isolated and never retried.
type EventHandler func(types.SwarmEvent)

type eventSubscription struct {
	id      int
	handler EventHandler
}

// EventEmitter is the typed pub/sub primitive of one swarm. Events land in a
// fixed-capacity ring buffer (oldest dropped on overflow) which stays
// authoritative for Events(); with a store client attached, each event is
// additionally published, fire-and-forget, for remote observers. A single
// background writer publishes them in emit order.
type EventEmitter struct {
	ns       Namespace
	client   redis.UniversalClient // nil: local-only emitter
	capacity int
	logger   *zap.Logger
	metrics  *metrics.Collector

	outbox chan types.SwarmEvent // nil when client is nil

	mu        sync.RWMutex
	handlers  map[types.EventType][]eventSubscription
	ring      []types.SwarmEvent
	start     int // oldest slot once the ring is full
	nextSubID int
	closed    bool
}

// NewEventEmitter creates an emitter holding at most capacity events.
func NewEventEmitter(ns Namespace, client redis.UniversalClient, capacity int, logger *zap.Logger, collector *metrics.Collector) *EventEmitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if capacity <= 0 {
		capacity = 1000
	}
	e := &EventEmitter{
		ns:       ns,
		client:   client,
		capacity: capacity,
		logger:   logger.With(zap.String("component", "events"), zap.String("swarm_id", ns.SwarmID)),
		metrics:  collector,
		handlers: make(map[types.EventType][]eventSubscription),
		ring:     make([]types.SwarmEvent, 0, capacity),
	}
	if client != nil {
		e.outbox = make(chan types.SwarmEvent, 1024)
		go e.publishLoop(e.outbox)
	}
	return e
}

// On registers a handler for one event type, or for every type with
// types.EventWildcard. The returned disposer removes the handler.
func (e *EventEmitter) On(eventType types.EventType, handler EventHandler) func() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.nextSubID++
	id := e.nextSubID
	e.handlers[eventType] = append(e.handlers[eventType], eventSubscription{id: id, handler: handler})

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		subs := e.handlers[eventType]
		for i, sub := range subs {
			if sub.id == id {
				e.handlers[eventType] = append(subs[:i], subs[i+1:]...)
				return
			}
		}
	}
}

// Emit builds a timestamped event, appends it to the ring buffer, and
// invokes type-specific handlers followed by wildcard handlers. An optional
// agent name attributes the event.
func (e *EventEmitter) Emit(eventType types.EventType, data any, agentName ...string) {
	event := types.SwarmEvent{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	}
	if len(agentName) > 0 {
		event.AgentName = agentName[0]
	}

	e.mu.Lock()
	if len(e.ring) < e.capacity {
		e.ring = append(e.ring, event)
	} else {
		// Full: overwrite the oldest slot.
		e.ring[e.start] = event
		e.start = (e.start + 1) % e.capacity
	}
	typed := append([]eventSubscription(nil), e.handlers[eventType]...)
	wild := append([]eventSubscription(nil), e.handlers[types.EventWildcard]...)
	if e.outbox != nil {
		select {
		case e.outbox <- event:
		default:
			e.logger.Debug("event outbox full, not published", zap.String("type", string(eventType)))
		}
	}
	e.mu.Unlock()

	for _, sub := range typed {
		e.invoke(sub.handler, event)
	}
	for _, sub := range wild {
		e.invoke(sub.handler, event)
	}

	e.metrics.RecordEvent(string(eventType))
}

// invoke runs one handler, isolating panics: delivery is best-effort and
// never retried.
func (e *EventEmitter) invoke(handler EventHandler, event types.SwarmEvent) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Debug("event handler panicked",
				zap.String("type", string(event.Type)),
				zap.Any("panic", r),
			)
		}
	}()
	handler(event)
}

// publishLoop drains the outbox one event at a time so remote observers
// see events in emit order.
func (e *EventEmitter) publishLoop(outbox <-chan types.SwarmEvent) {
	for event := range outbox {
		e.publish(event)
	}
}

// publish serializes the event for remote observers. Failures are logged
// and swallowed; the local ring buffer is already correct.
func (e *EventEmitter) publish(event types.SwarmEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	data, err := json.Marshal(event)
	if err != nil {
		e.logger.Debug("event marshal failed", zap.Error(err))
		return
	}
	if err := e.client.Publish(ctx, e.ns.Events(), data).Err(); err != nil {
		e.logger.Debug("event publish failed", zap.String("type", string(event.Type)), zap.Error(err))
	}
}

// Events returns the buffered events, oldest first.
func (e *EventEmitter) Events() []types.SwarmEvent {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]types.SwarmEvent, 0, len(e.ring))
	for i := 0; i < len(e.ring); i++ {
		out = append(out, e.ring[(e.start+i)%len(e.ring)])
	}
	return out
}

// Close stops the background publisher after it drains what is already
// queued. The ring buffer stays readable; later emits are local-only.
// It is idempotent.
func (e *EventEmitter) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	if e.outbox != nil {
		close(e.outbox)
		e.outbox = nil
	}
	return nil
}

// EventsOfType returns the buffered events of one type, oldest first.
func (e *EventEmitter) EventsOfType(eventType types.EventType) []types.SwarmEvent {
	var out []types.SwarmEvent
	for _, ev := range e.Events() {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}
