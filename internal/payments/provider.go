// Package payments talks to the external payment provider that holds the money.
// The booking core only ever sees intents, their normalized status and webhook events.
package payments

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"gearshare/internal/config"
	"gearshare/internal/models"
)

// Intent is the provider-side payment intent.
type Intent struct {
	ID           string
	ClientSecret string
	Status       models.PaymentStatus
	Amount       int64
	Currency     string
	Metadata     map[string]string
}

type CreateIntentRequest struct {
	BookingID string
	UserID    string
	Amount    int64
	Currency  string
	// IdempotencyKey makes a retried create return the first intent.
	IdempotencyKey string
}

// WebhookEvent is a verified provider notification about one intent.
type WebhookEvent struct {
	ID       string
	IntentID string
	Status   models.PaymentStatus
}

type Provider interface {
	Name() string
	CreateIntent(ctx context.Context, req CreateIntentRequest) (*Intent, error)
	RetrieveIntent(ctx context.Context, intentID string) (*Intent, error)
	CancelIntent(ctx context.Context, intentID string) error
	// ParseWebhook verifies the payload signature. A nil event with a nil error
	// means the event type carries nothing for the booking core.
	ParseWebhook(payload []byte, header http.Header) (*WebhookEvent, error)
}

// NormalizeStatus maps a status string reported by a provider or a client onto
// the local payment statuses.
func NormalizeStatus(raw string) (models.PaymentStatus, error) {
	switch s := strings.ToLower(strings.TrimSpace(raw)); s {
	case "succeeded", "success", "paid":
		return models.PaymentSucceeded, nil
	case "processing":
		return models.PaymentProcessing, nil
	case "failed", "payment_failed":
		return models.PaymentFailed, nil
	case "canceled", "cancelled":
		return models.PaymentCanceled, nil
	case "pending", "requires_payment_method", "requires_confirmation", "requires_action", "requires_capture":
		return models.PaymentPending, nil
	default:
		return "", fmt.Errorf("unknown payment status %q", raw)
	}
}

// IdempotencyKey is stable for one booking, amount and attempt, so a retried
// initiation never creates a second intent. attempt moves past intents that
// were canceled.
func IdempotencyKey(bookingID string, amount int64, attempt int) string {
	if attempt <= 0 {
		return fmt.Sprintf("booking-%s-%d", bookingID, amount)
	}
	return fmt.Sprintf("booking-%s-%d-%d", bookingID, amount, attempt)
}

// New builds the provider selected in configuration.
func New(cfg config.PaymentsConfig) (Provider, error) {
	switch cfg.Provider {
	case "stripe":
		return NewStripeProvider(cfg.Stripe, nil), nil
	case "fake", "":
		return NewFakeProvider(cfg.WebhookSecret), nil
	default:
		return nil, fmt.Errorf("unsupported payment provider %q", cfg.Provider)
	}
}
