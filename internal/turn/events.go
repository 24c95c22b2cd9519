package turn

import (
	"sync"
	"time"
)

// EventType represents the type of turn lifecycle event.
type EventType string

const (
	EventTurnStart    EventType = "turn_start"
	EventRecallDone   EventType = "recall_done"
	EventReplyEmitted EventType = "reply_emitted"
	EventPairingGap   EventType = "pairing_gap"
	EventTurnComplete EventType = "turn_complete"
	EventTurnFailed   EventType = "turn_failed"
)

// Event represents a turn lifecycle event with associated data.
type Event struct {
	Type      EventType
	Timestamp time.Time
	ChatID    string
	UserID    string
	Data      map[string]interface{}
}

// EventHandler is a function that handles events.
type EventHandler func(Event)

// EventBus manages event publication and subscription. It decouples the
// orchestrator from whatever wants to watch turn handling (logging,
// metrics, reconciliation tooling).
type EventBus struct {
	mu          sync.RWMutex
	handlers    map[EventType][]EventHandler
	allHandlers []EventHandler
}

// NewEventBus creates a new event bus.
func NewEventBus() *EventBus {
	return &EventBus{
		handlers: make(map[EventType][]EventHandler),
	}
}

// Subscribe registers a handler for a specific event type.
func (eb *EventBus) Subscribe(eventType EventType, handler EventHandler) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.handlers[eventType] = append(eb.handlers[eventType], handler)
}

// SubscribeAll registers a handler for all event types.
func (eb *EventBus) SubscribeAll(handler EventHandler) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.allHandlers = append(eb.allHandlers, handler)
}

// Publish sends an event to all registered handlers.
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if handlers, ok := eb.handlers[event.Type]; ok {
		for _, handler := range handlers {
			handler(event)
		}
	}

	for _, handler := range eb.allHandlers {
		handler(event)
	}
}

// PublishWithData publishes an event with associated data.
func (eb *EventBus) PublishWithData(eventType EventType, chatID, userID string, data map[string]interface{}) {
	eb.Publish(Event{
		Type:   eventType,
		ChatID: chatID,
		UserID: userID,
		Data:   data,
	})
}
