package events

import (
	"encoding/json"
	"sync"
	"time"
)

const (
	EventBookingCreated   = "booking_created"
	EventBookingConfirmed = "booking_confirmed"
	EventBookingRejected  = "booking_rejected"
	EventBookingCancelled = "booking_cancelled"
	EventBookingPickedUp  = "booking_picked_up"
	EventBookingReturned  = "booking_returned"
	EventBookingExpired   = "booking_expired"
	EventPickupProposed   = "pickup_proposed"
	EventPickupSelected   = "pickup_selected"
)

// BookingEventPayload describes the minimal booking snapshot for event consumers.
type BookingEventPayload struct {
	BookingID       int64  `json:"booking_id"`
	UserID          int64  `json:"user_id"`
	UserName        string `json:"user_name"`
	LenderID        int64  `json:"lender_id"`
	LenderName      string `json:"lender_name"`
	ProductName     string `json:"product_name"`
	ItemInvNumber   string `json:"item_inv_number"`
	Status          string `json:"status"`
	ConfirmedPickup string `json:"confirmed_pickup,omitempty"`
	ActorID         int64  `json:"actor_id,omitempty"`
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
