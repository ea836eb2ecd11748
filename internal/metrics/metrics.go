package metrics

import (
	"encoding/json"
	"sync"

	"gearshare/internal/events"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "gearshare"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint and status code.",
		},
		[]string{"endpoint", "code"},
	)

	bookingEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_events_total",
			Help:      "Booking and payment events by type.",
		},
		[]string{"type"},
	)

	paymentStatus = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_status_changes_total",
			Help:      "Payment status changes by new status.",
		},
		[]string{"status"},
	)

	providerErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_provider_errors_total",
			Help:      "Failed payment provider calls by operation.",
		},
		[]string{"operation"},
	)

	compensationTasks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compensation_tasks_total",
			Help:      "Processed compensation tasks by result.",
		},
		[]string{"result"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(httpRequests, bookingEvents, paymentStatus, providerErrors, compensationTasks)
	})
}

// IncHTTP increments the counter for an endpoint and status code.
func IncHTTP(endpoint, code string) {
	httpRequests.WithLabelValues(endpoint, code).Inc()
}

func IncProviderError(operation string) {
	providerErrors.WithLabelValues(operation).Inc()
}

// IncCompensation counts a compensation task outcome: completed, retry or failed.
func IncCompensation(result string) {
	compensationTasks.WithLabelValues(result).Inc()
}

// SubscribeBus counts every booking-core event published on bus.
func SubscribeBus(bus *events.EventBus) {
	bus.SubscribeAll(func(e *events.Event) error {
		bookingEvents.WithLabelValues(e.Type).Inc()
		if e.Type != events.EventPaymentStatusChanged {
			return nil
		}

		var p events.PaymentEventPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return err
		}
		paymentStatus.WithLabelValues(p.Status).Inc()
		return nil
	})
}
