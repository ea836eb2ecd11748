package payments

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"gearshare/internal/models"

	"github.com/google/uuid"
)

// FakeWebhookHeader carries the shared secret of fake provider webhooks.
const FakeWebhookHeader = "X-Webhook-Secret"

// ErrIntentNotFound is returned by the fake provider for unknown intents.
var ErrIntentNotFound = errors.New("payment intent not found")

// FakeProvider keeps intents in memory. It backs local runs and tests.
type FakeProvider struct {
	mu            sync.Mutex
	intents       map[string]*Intent
	byKey         map[string]string
	createErr     error
	cancelErr     error
	webhookSecret string
}

func NewFakeProvider(webhookSecret string) *FakeProvider {
	return &FakeProvider{
		intents:       make(map[string]*Intent),
		byKey:         make(map[string]string),
		webhookSecret: webhookSecret,
	}
}

func (f *FakeProvider) Name() string { return "fake" }

// FailCreate makes every following CreateIntent return err. nil restores success.
func (f *FakeProvider) FailCreate(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createErr = err
}

// FailCancel makes every following CancelIntent return err. nil restores success.
func (f *FakeProvider) FailCancel(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelErr = err
}

// SetStatus moves an intent as the provider would after client-side confirmation.
func (f *FakeProvider) SetStatus(intentID string, status models.PaymentStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	in, ok := f.intents[intentID]
	if !ok {
		return ErrIntentNotFound
	}
	in.Status = status
	return nil
}

// Intents returns copies of all intents, for assertions.
func (f *FakeProvider) Intents() []Intent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Intent, 0, len(f.intents))
	for _, in := range f.intents {
		out = append(out, *in)
	}
	return out
}

func (f *FakeProvider) CreateIntent(ctx context.Context, req CreateIntentRequest) (*Intent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.createErr != nil {
		return nil, f.createErr
	}
	if id, ok := f.byKey[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		in := *f.intents[id]
		return &in, nil
	}

	id := "pi_fake_" + uuid.NewString()
	in := &Intent{
		ID:           id,
		ClientSecret: id + "_secret_" + uuid.NewString()[:8],
		Status:       models.PaymentPending,
		Amount:       req.Amount,
		Currency:     req.Currency,
		Metadata:     map[string]string{"booking_id": req.BookingID, "user_id": req.UserID},
	}
	f.intents[id] = in
	if req.IdempotencyKey != "" {
		f.byKey[req.IdempotencyKey] = id
	}

	out := *in
	return &out, nil
}

func (f *FakeProvider) RetrieveIntent(ctx context.Context, intentID string) (*Intent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	in, ok := f.intents[intentID]
	if !ok {
		return nil, ErrIntentNotFound
	}
	out := *in
	return &out, nil
}

func (f *FakeProvider) CancelIntent(ctx context.Context, intentID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.cancelErr != nil {
		return f.cancelErr
	}
	in, ok := f.intents[intentID]
	if !ok {
		return ErrIntentNotFound
	}
	if in.Status != models.PaymentSucceeded {
		in.Status = models.PaymentCanceled
	}
	return nil
}

type fakeWebhookBody struct {
	ID              string `json:"id"`
	PaymentIntentID string `json:"payment_intent_id"`
	Status          string `json:"status"`
}

func (f *FakeProvider) ParseWebhook(payload []byte, header http.Header) (*WebhookEvent, error) {
	if f.webhookSecret == "" {
		return nil, errors.New("webhook secret is not configured")
	}
	if subtle.ConstantTimeCompare([]byte(header.Get(FakeWebhookHeader)), []byte(f.webhookSecret)) != 1 {
		return nil, errors.New("invalid webhook secret")
	}

	var body fakeWebhookBody
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, fmt.Errorf("decode webhook: %w", err)
	}
	if body.PaymentIntentID == "" {
		return nil, errors.New("webhook is missing payment_intent_id")
	}
	status, err := NormalizeStatus(body.Status)
	if err != nil {
		return nil, err
	}
	return &WebhookEvent{ID: body.ID, IntentID: body.PaymentIntentID, Status: status}, nil
}
