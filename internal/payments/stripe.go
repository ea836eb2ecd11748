package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"gearshare/internal/config"
	"gearshare/internal/models"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

const stripeSignatureHeader = "Stripe-Signature"

type StripeProvider struct {
	api           *client.API
	webhookSecret string
}

// NewStripeProvider builds a Stripe client. backends is nil outside tests.
func NewStripeProvider(cfg config.StripeConfig, backends *stripe.Backends) *StripeProvider {
	return &StripeProvider{
		api:           client.New(cfg.SecretKey, backends),
		webhookSecret: cfg.WebhookSecret,
	}
}

const idempotentReplayedHeader = "Idempotent-Replayed"

func (p *StripeProvider) Name() string { return "stripe" }

func (p *StripeProvider) CreateIntent(ctx context.Context, req CreateIntentRequest) (*Intent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.Amount),
		Currency: stripe.String(req.Currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	params.AddMetadata("booking_id", req.BookingID)
	params.AddMetadata("user_id", req.UserID)
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	pi, err := p.api.PaymentIntents.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe create payment intent: %w", err)
	}
	// A replayed response carries the intent as it was at creation.
	if pi.LastResponse != nil && pi.LastResponse.Header.Get(idempotentReplayedHeader) == "true" {
		return p.RetrieveIntent(ctx, pi.ID)
	}
	return fromStripe(pi), nil
}

func (p *StripeProvider) RetrieveIntent(ctx context.Context, intentID string) (*Intent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	pi, err := p.api.PaymentIntents.Get(intentID, params)
	if err != nil {
		return nil, fmt.Errorf("stripe retrieve payment intent %s: %w", intentID, err)
	}
	return fromStripe(pi), nil
}

func (p *StripeProvider) CancelIntent(ctx context.Context, intentID string) error {
	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx

	if _, err := p.api.PaymentIntents.Cancel(intentID, params); err != nil {
		var se *stripe.Error
		if errors.As(err, &se) && se.Code == stripe.ErrorCodePaymentIntentUnexpectedState {
			// Already canceled or succeeded; nothing left to void.
			return nil
		}
		return fmt.Errorf("stripe cancel payment intent %s: %w", intentID, err)
	}
	return nil
}

func (p *StripeProvider) ParseWebhook(payload []byte, header http.Header) (*WebhookEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, header.Get(stripeSignatureHeader), p.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("verify stripe webhook: %w", err)
	}

	switch event.Type {
	case "payment_intent.succeeded", "payment_intent.processing", "payment_intent.payment_failed", "payment_intent.canceled":
	default:
		return nil, nil
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return nil, fmt.Errorf("decode stripe payment intent: %w", err)
	}

	status := stripeStatus(&pi)
	if event.Type == "payment_intent.payment_failed" {
		status = models.PaymentFailed
	}
	return &WebhookEvent{ID: event.ID, IntentID: pi.ID, Status: status}, nil
}

func fromStripe(pi *stripe.PaymentIntent) *Intent {
	return &Intent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       stripeStatus(pi),
		Amount:       pi.Amount,
		Currency:     string(pi.Currency),
		Metadata:     pi.Metadata,
	}
}

// stripeStatus treats requires_payment_method as failed only once an attempt was declined.
func stripeStatus(pi *stripe.PaymentIntent) models.PaymentStatus {
	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		return models.PaymentSucceeded
	case stripe.PaymentIntentStatusProcessing:
		return models.PaymentProcessing
	case stripe.PaymentIntentStatusCanceled:
		return models.PaymentCanceled
	case stripe.PaymentIntentStatusRequiresPaymentMethod:
		if pi.LastPaymentError != nil {
			return models.PaymentFailed
		}
		return models.PaymentPending
	default:
		return models.PaymentPending
	}
}
