package events

import (
	"encoding/json"
	"sync"
	"time"
)

const (
	EventReconnected     = "connectivity_reconnected"
	EventDisconnected    = "connectivity_disconnected"
	EventBookingMutated  = "booking_mutated"
	EventCacheRefreshed  = "cache_refreshed"
	EventPaymentResolved = "payment_resolved"
)

// ConnectivityEventPayload describes one online/offline transition.
type ConnectivityEventPayload struct {
	Online bool      `json:"online"`
	UserID string    `json:"user_id,omitempty"`
	At     time.Time `json:"at"`
}

// BookingEventPayload describes the minimal booking snapshot for event consumers.
type BookingEventPayload struct {
	BookingID     string    `json:"booking_id"`
	LocalKey      string    `json:"local_key,omitempty"`
	UserID        string    `json:"user_id"`
	Action        string    `json:"action"`
	Status        string    `json:"status"`
	PaymentStatus string    `json:"payment_status"`
	Queued        bool      `json:"queued"`
	At            time.Time `json:"at"`
}

// Event represents a lightweight domain event.
type Event struct {
	ID        int64
	Type      string
	Payload   []byte
	CreatedAt time.Time
	Processed bool
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers of the event type.
func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		// Handlers run synchronously; caller decides concurrency model.
		_ = handler(event)
	}
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

	b.Publish(&Event{Type: eventType, Payload: raw, CreatedAt: time.Now()})
	return nil
}
