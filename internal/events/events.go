package events

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Task lifecycle events.
const (
	DayScheduled     = "day_scheduled"
	TaskStarted      = "task_started"
	TaskCompleted    = "task_completed"
	TaskFailed       = "task_failed"
	TaskStopped      = "task_stopped"
	AutomationHalted = "automation_stopped"
	AutomationLapsed = "automation_lapsed"
)

// Any subscribes a handler to every event type.
const Any = "*"

// TaskEvent is the payload of per-task events.
type TaskEvent struct {
	TaskID    string    `json:"task_id"`
	UserID    string    `json:"user_id"`
	AccountID string    `json:"account_id"`
	Message   string    `json:"message,omitempty"`
	At        time.Time `json:"at"`
}

// UserEvent is the payload of per-user batch events.
type UserEvent struct {
	UserID string    `json:"user_id"`
	Count  int       `json:"count"`
	At     time.Time `json:"at"`
}

// Event represents a lightweight domain event.
type Event struct {
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
}

func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// Subscribe registers a handler for a given event type, or Any.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish runs every matching handler synchronously and joins their errors.
func (b *EventBus) Publish(event *Event) error {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	handlers = append(handlers, b.subscribers[Any]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	var errs []error
	for _, handler := range handlers {
		if err := handler(event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	return b.Publish(&Event{Type: eventType, Payload: raw, CreatedAt: time.Now()})
}

// LogHandler writes every event to the logger at debug level. A lapsed
// automation needs an operator and is logged as a warning.
func LogHandler(logger *zerolog.Logger) EventHandler {
	return func(event *Event) error {
		level := zerolog.DebugLevel
		if event.Type == AutomationLapsed {
			level = zerolog.WarnLevel
		}
		logger.WithLevel(level).
			Str("event", event.Type).
			RawJSON("payload", event.Payload).
			Time("at", event.CreatedAt).
			Msg("Event published")
		return nil
	}
}
