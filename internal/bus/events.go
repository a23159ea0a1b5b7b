package bus

import (
	"log/slog"
	"strconv"
	"sync"
	"time"
)

// Event is an internal notification about something the relay did.
type Event struct {
	Type      string         // e.g. "relay.finished", "ingress.handled"
	Source    string         // originating component
	Payload   map[string]any // event-specific data
	Timestamp time.Time
}

// EventHandler is a callback for events.
type EventHandler func(Event)

// EventBus is a topic-based publish/subscribe bus for internal events.
// Metrics and the audit journal hang off it so the relay path does not
// depend on either.
type EventBus struct {
	handlers map[string][]namedHandler
	mu       sync.RWMutex
	logger   *slog.Logger
	nextID   int
}

type namedHandler struct {
	ID      string
	Handler EventHandler
}

// NewEventBus creates an EventBus with no handlers.
func NewEventBus(logger *slog.Logger) *EventBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventBus{
		handlers: make(map[string][]namedHandler),
		logger:   logger,
	}
}

// On registers a handler for the given event type. "*" receives every event.
// Returns an ID for Off.
func (eb *EventBus) On(eventType string, handler EventHandler) string {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.nextID++
	id := eventType + "-" + strconv.Itoa(eb.nextID)
	eb.handlers[eventType] = append(eb.handlers[eventType], namedHandler{ID: id, Handler: handler})
	return id
}

// Off removes a handler by its ID.
func (eb *EventBus) Off(eventType, handlerID string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	handlers := eb.handlers[eventType]
	for i, h := range handlers {
		if h.ID == handlerID {
			eb.handlers[eventType] = append(handlers[:i:i], handlers[i+1:]...)
			return
		}
	}
}

// Emit delivers the event to all matching handlers synchronously, in
// registration order. A panicking handler is logged and skipped.
func (eb *EventBus) Emit(event Event) {
	if eb == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	eb.mu.RLock()
	handlers := make([]namedHandler, 0, len(eb.handlers[event.Type])+len(eb.handlers["*"]))
	handlers = append(handlers, eb.handlers[event.Type]...)
	handlers = append(handlers, eb.handlers["*"]...)
	eb.mu.RUnlock()

	for _, h := range handlers {
		func(nh namedHandler) {
			defer func() {
				if r := recover(); r != nil {
					eb.logger.Error("event handler panic", "event", event.Type, "handler", nh.ID, "panic", r)
				}
			}()
			nh.Handler(event)
		}(h)
	}
}

// Event types.
const (
	EventRelayFinished  = "relay.finished"  // one pipeline run reached a terminal state
	EventHandleCreated  = "handle.created"  // a webhook was created for a channel
	EventHandleCached   = "handle.cached"   // the resolver cache gained or lost an entry
	EventIngressHandled = "ingress.handled" // one log ingress request was answered
)

// Payload keys shared by emitters and subscribers.
const (
	KeyRunID     = "run_id"
	KeyState     = "state"
	KeyOutcome   = "outcome"
	KeyReason    = "reason"
	KeyChannelID = "channel_id"
	KeyAuthorID  = "author_id"
	KeyMessageID = "message_id"
	KeyLatency   = "latency"
	KeyError     = "error"
	KeyCached    = "cached"
)
