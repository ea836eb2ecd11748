package events

import (
	"encoding/json"
	"testing"
	"time"

	"gearshare/internal/models"
)

func TestEventBus(t *testing.T) {
	bus := NewEventBus()

	var received *Event
	var callCount int

	handler := func(event *Event) error {
		received = event
		callCount++
		return nil
	}

	bus.Subscribe(EventBookingApproved, handler)

	payload := map[string]string{"foo": "bar"}
	err := bus.PublishJSON(EventBookingApproved, payload)
	if err != nil {
		t.Fatalf("PublishJSON failed: %v", err)
	}

	if callCount != 1 {
		t.Errorf("expected 1 call, got %d", callCount)
	}

	if received.Type != EventBookingApproved {
		t.Errorf("expected type %s, got %s", EventBookingApproved, received.Type)
	}

	var decoded map[string]string
	if err := json.Unmarshal(received.Payload, &decoded); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}

	if decoded["foo"] != "bar" {
		t.Errorf("expected foo=bar, got %s", decoded["foo"])
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

func TestEventBusSubscribeAll(t *testing.T) {
	bus := NewEventBus()
	seen := map[string]int{}
	bus.SubscribeAll(func(e *Event) error { seen[e.Type]++; return nil })

	for _, typ := range AllEventTypes {
		bus.Publish(&Event{Type: typ})
	}
	bus.Publish(&Event{Type: "unrelated"})

	if len(seen) != len(AllEventTypes) {
		t.Errorf("expected %d event types, got %d", len(AllEventTypes), len(seen))
	}
	if seen["unrelated"] != 0 {
		t.Errorf("unrelated event must not be delivered")
	}
}

func TestEventBusNoSubscribers(t *testing.T) {
	bus := NewEventBus()
	// Should not panic
	bus.Publish(&Event{Type: "unknown"})
	err := bus.PublishJSON("unknown", nil)
	if err != nil {
		t.Errorf("PublishJSON failed: %v", err)
	}

	var nilBus *EventBus
	if err := nilBus.PublishJSON("unknown", nil); err != nil {
		t.Errorf("nil bus should ignore events, got %v", err)
	}
}

func TestBookingEventType(t *testing.T) {
	cases := map[models.BookingStatus]string{
		models.BookingPending:   EventBookingRequested,
		models.BookingApproved:  EventBookingApproved,
		models.BookingRejected:  EventBookingRejected,
		models.BookingCancelled: EventBookingCancelled,
		models.BookingCompleted: EventBookingCompleted,
	}
	for status, want := range cases {
		if got := BookingEventType(status); got != want {
			t.Errorf("BookingEventType(%s) = %s, want %s", status, got, want)
		}
	}
}

func TestNewJSONEvent(t *testing.T) {
	b := &models.Booking{
		ID:        "b-1",
		ListingID: "l-1",
		StartDate: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC),
		Status:    models.BookingApproved,
	}
	event, err := NewJSONEvent(EventBookingApproved, NewBookingPayload(b, models.BookingPending, "owner-1"))
	if err != nil {
		t.Fatalf("NewJSONEvent failed: %v", err)
	}

	if event.CreatedAt.IsZero() {
		t.Errorf("expected CreatedAt to be set")
	}

	var decoded BookingEventPayload
	if err := json.Unmarshal(event.Payload, &decoded); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}

	if decoded.BookingID != "b-1" || decoded.StartDate != "2025-06-01" || decoded.PreviousStatus != "pending" {
		t.Errorf("unexpected payload %+v", decoded)
	}
}

func TestNewPaymentPayload(t *testing.T) {
	p := &models.Payment{ID: "p-1", BookingID: "b-1", ExternalIntentID: "pi_1", Amount: 10000, PlatformFee: 1000, OwnerAmount: 9000, Status: models.PaymentSucceeded}
	payload := NewPaymentPayload(p, models.PaymentPending, "webhook")
	if payload.IntentID != "pi_1" || payload.Status != "succeeded" || payload.PreviousStatus != "pending" {
		t.Errorf("unexpected payload %+v", payload)
	}
}
