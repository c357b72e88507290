package events

import (
	"encoding/json"
	"testing"
)

func TestEventBus(t *testing.T) {
	bus := NewEventBus()

	var received *Event
	var callCount int

	bus.Subscribe(EventBookingConfirmed, func(event *Event) error {
		received = event
		callCount++
		return nil
	})

	payload := BookingEventPayload{BookingID: 42, Status: "CONFIRMED", UserName: "Mara"}
	if err := bus.PublishJSON(EventBookingConfirmed, payload); err != nil {
		t.Fatalf("PublishJSON failed: %v", err)
	}

	if callCount != 1 {
		t.Errorf("expected 1 call, got %d", callCount)
	}
	if received.Type != EventBookingConfirmed {
		t.Errorf("expected type %s, got %s", EventBookingConfirmed, received.Type)
	}

	var decoded BookingEventPayload
	if err := json.Unmarshal(received.Payload, &decoded); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}
	if decoded.BookingID != 42 || decoded.UserName != "Mara" {
		t.Errorf("unexpected payload: %+v", decoded)
	}
}

func TestEventBusMultipleSubscribers(t *testing.T) {
	bus := NewEventBus()
	var count1, count2 int

	bus.Subscribe("event", func(_ *Event) error { count1++; return nil })
	bus.Subscribe("event", func(_ *Event) error { count2++; return nil })

	bus.Publish(&Event{Type: "event"})

	if count1 != 1 || count2 != 1 {
		t.Errorf("expected both handlers to be called once, got %d and %d", count1, count2)
	}
}

func TestEventBusNoSubscribers(t *testing.T) {
	bus := NewEventBus()
	// must not panic or block
	bus.Publish(&Event{Type: "nobody_listens"})

	var nilBus *EventBus
	if err := nilBus.PublishJSON("event", map[string]string{}); err != nil {
		t.Errorf("nil bus should be a no-op, got %v", err)
	}
}
