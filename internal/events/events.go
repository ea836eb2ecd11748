package events

import (
	"encoding/json"
	"sync"
	"time"

	"gearshare/internal/models"
)

const (
	EventBookingRequested      = "booking_requested"
	EventBookingApproved       = "booking_approved"
	EventBookingRejected       = "booking_rejected"
	EventBookingCancelled      = "booking_cancelled"
	EventBookingCompleted      = "booking_completed"
	EventPaymentInitiated      = "payment_initiated"
	EventPaymentStatusChanged  = "payment_status_changed"
	EventPaymentRefundRequired = "payment_refund_required"
)

// AllEventTypes lists every event the booking core publishes.
var AllEventTypes = []string{
	EventBookingRequested,
	EventBookingApproved,
	EventBookingRejected,
	EventBookingCancelled,
	EventBookingCompleted,
	EventPaymentInitiated,
	EventPaymentStatusChanged,
	EventPaymentRefundRequired,
}

// BookingEventType maps the status a booking moved into onto its event type.
func BookingEventType(status models.BookingStatus) string {
	switch status {
	case models.BookingApproved:
		return EventBookingApproved
	case models.BookingRejected:
		return EventBookingRejected
	case models.BookingCancelled:
		return EventBookingCancelled
	case models.BookingCompleted:
		return EventBookingCompleted
	default:
		return EventBookingRequested
	}
}

// BookingEventPayload describes the minimal booking snapshot for event consumers.
type BookingEventPayload struct {
	BookingID      string `json:"booking_id"`
	ListingID      string `json:"listing_id"`
	RenterID       string `json:"renter_id"`
	OwnerID        string `json:"owner_id"`
	StartDate      string `json:"start_date"`
	EndDate        string `json:"end_date"`
	TotalPrice     int64  `json:"total_price"`
	Status         string `json:"status"`
	PreviousStatus string `json:"previous_status,omitempty"`
	Paid           bool   `json:"paid"`
	ChangedBy      string `json:"changed_by,omitempty"`
}

func NewBookingPayload(b *models.Booking, previous models.BookingStatus, changedBy string) BookingEventPayload {
	return BookingEventPayload{
		BookingID:      b.ID,
		ListingID:      b.ListingID,
		RenterID:       b.RenterID,
		OwnerID:        b.OwnerID,
		StartDate:      models.FormatDate(b.StartDate),
		EndDate:        models.FormatDate(b.EndDate),
		TotalPrice:     b.TotalPrice,
		Status:         string(b.Status),
		PreviousStatus: string(previous),
		Paid:           b.Paid,
		ChangedBy:      changedBy,
	}
}

// PaymentEventPayload describes a payment ledger row after a change.
type PaymentEventPayload struct {
	PaymentID      string `json:"payment_id"`
	BookingID      string `json:"booking_id"`
	IntentID       string `json:"intent_id"`
	Amount         int64  `json:"amount"`
	PlatformFee    int64  `json:"platform_fee"`
	OwnerAmount    int64  `json:"owner_amount"`
	Currency       string `json:"currency"`
	Status         string `json:"status"`
	PreviousStatus string `json:"previous_status,omitempty"`
	ChangedBy      string `json:"changed_by,omitempty"`
}

func NewPaymentPayload(p *models.Payment, previous models.PaymentStatus, changedBy string) PaymentEventPayload {
	return PaymentEventPayload{
		PaymentID:      p.ID,
		BookingID:      p.BookingID,
		IntentID:       p.ExternalIntentID,
		Amount:         p.Amount,
		PlatformFee:    p.PlatformFee,
		OwnerAmount:    p.OwnerAmount,
		Currency:       p.Currency,
		Status:         string(p.Status),
		PreviousStatus: string(previous),
		ChangedBy:      changedBy,
	}
}

// Event represents a lightweight domain event.
type Event struct {
	ID        int64
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

// SubscribeAll registers handler for every type in AllEventTypes.
func (b *EventBus) SubscribeAll(handler EventHandler) {
	for _, t := range AllEventTypes {
		b.Subscribe(t, handler)
	}
}

// Publish notifies subscribers of the event type.
func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
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

	b.Publish(&Event{Type: eventType, Payload: raw, CreatedAt: time.Now().UTC()})
	return nil
}

// NewJSONEvent builds an Event with JSON payload for manual publishing.
func NewJSONEvent(eventType string, payload interface{}) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}

	return Event{Type: eventType, Payload: raw, CreatedAt: time.Now().UTC()}, nil
}
