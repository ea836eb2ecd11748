package metrics

import (
	"testing"

	"gearshare/internal/events"
	"gearshare/internal/models"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	// Register should be safe to call multiple times
	Register()
	Register()

	assert.NotPanics(t, func() {
		IncHTTP("test_endpoint", "200")
		IncProviderError("create_intent")
		IncCompensation("completed")
	})
	assert.Equal(t, float64(1), testutil.ToFloat64(httpRequests.WithLabelValues("test_endpoint", "200")))
}

func TestSubscribeBus(t *testing.T) {
	bus := events.NewEventBus()
	SubscribeBus(bus)

	approvedBefore := testutil.ToFloat64(bookingEvents.WithLabelValues(events.EventBookingApproved))
	succeededBefore := testutil.ToFloat64(paymentStatus.WithLabelValues("succeeded"))

	b := &models.Booking{ID: "b-1", Status: models.BookingApproved}
	assert.NoError(t, bus.PublishJSON(events.EventBookingApproved, events.NewBookingPayload(b, models.BookingPending, "owner")))

	p := &models.Payment{ID: "p-1", Status: models.PaymentSucceeded}
	assert.NoError(t, bus.PublishJSON(events.EventPaymentStatusChanged, events.NewPaymentPayload(p, models.PaymentPending, "webhook")))

	assert.Equal(t, approvedBefore+1, testutil.ToFloat64(bookingEvents.WithLabelValues(events.EventBookingApproved)))
	assert.Equal(t, succeededBefore+1, testutil.ToFloat64(paymentStatus.WithLabelValues("succeeded")))
}
