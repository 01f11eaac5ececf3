package node

import (
	"log/slog"
	"sync"
)

// Event types
const (
	EventBind            = "bind"
	EventBindError       = "bind_error"
	EventUnbind          = "unbind"
	EventLevel           = "level"
	EventCommandReceived = "command_received"
	EventCommandSent     = "command_sent"
	EventSendSkipped     = "send_skipped"
	EventPairing         = "pairing"
)

// Event represents a node event.
type Event struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// EventHandler is a callback for events.
type EventHandler func(Event)

// AllEvents is the wildcard subscription key used by OnAll.
const AllEvents = "*"

// EventBus delivers node events to subscribers synchronously, in the
// goroutine that emits them.
type EventBus struct {
	mu     sync.RWMutex
	subs   map[string]map[uint64]EventHandler // event type or AllEvents
	nextID uint64
	logger *slog.Logger
}

func NewEventBus(logger *slog.Logger) *EventBus {
	return &EventBus{
		subs:   make(map[string]map[uint64]EventHandler),
		logger: logger,
	}
}

// On registers a handler for one event type and returns its unsubscribe func.
func (eb *EventBus) On(eventType string, handler EventHandler) func() {
	return eb.subscribe(eventType, handler)
}

// OnAll registers a handler for every event type.
func (eb *EventBus) OnAll(handler EventHandler) func() {
	return eb.subscribe(AllEvents, handler)
}

func (eb *EventBus) subscribe(key string, handler EventHandler) func() {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	id := eb.nextID
	eb.nextID++
	if eb.subs[key] == nil {
		eb.subs[key] = make(map[uint64]EventHandler)
	}
	eb.subs[key][id] = handler
	return func() {
		eb.mu.Lock()
		defer eb.mu.Unlock()
		delete(eb.subs[key], id)
	}
}

// Emit calls type subscribers, then wildcard subscribers. A panicking
// handler is recovered and logged; the rest still run.
func (eb *EventBus) Emit(event Event) {
	eb.mu.RLock()
	typed, all := eb.subs[event.Type], eb.subs[AllEvents]
	handlers := make([]EventHandler, 0, len(typed)+len(all))
	for _, h := range typed {
		handlers = append(handlers, h)
	}
	for _, h := range all {
		handlers = append(handlers, h)
	}
	eb.mu.RUnlock()

	eb.logger.Debug("event", "type", event.Type, "data", event.Data, "subscribers", len(handlers))
	for _, h := range handlers {
		eb.dispatch(h, event)
	}
}

func (eb *EventBus) dispatch(h EventHandler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			eb.logger.Error("event handler panic", "type", event.Type, "panic", r)
		}
	}()
	h(event)
}
