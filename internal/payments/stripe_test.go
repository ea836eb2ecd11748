package payments

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"gearshare/internal/config"
	"gearshare/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
)

type stripeStub struct {
	t        *testing.T
	lastForm url.Values
	lastKey  string
	handler  func(w http.ResponseWriter, r *http.Request)
}

func newStripeProvider(t *testing.T, stub *stripeStub) *StripeProvider {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		stub.lastForm, _ = url.ParseQuery(string(body))
		stub.lastKey = r.Header.Get("Idempotency-Key")
		w.Header().Set("Content-Type", "application/json")
		stub.handler(w, r)
	}))
	t.Cleanup(srv.Close)

	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(srv.URL),
		HTTPClient:        srv.Client(),
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	})
	backends := &stripe.Backends{API: backend, Connect: backend, Uploads: backend}
	return NewStripeProvider(config.StripeConfig{SecretKey: "sk_test_123", WebhookSecret: "whsec_test"}, backends)
}

func writeIntent(w http.ResponseWriter, fields map[string]any) {
	base := map[string]any{"object": "payment_intent", "currency": "usd"}
	for k, v := range fields {
		base[k] = v
	}
	_ = json.NewEncoder(w).Encode(base)
}

func TestStripeProvider_CreateIntent(t *testing.T) {
	stub := &stripeStub{t: t}
	stub.handler = func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/payment_intents", r.URL.Path)
		writeIntent(w, map[string]any{
			"id":            "pi_123",
			"client_secret": "pi_123_secret_abc",
			"status":        "requires_payment_method",
			"amount":        7500,
		})
	}
	p := newStripeProvider(t, stub)

	in, err := p.CreateIntent(context.Background(), CreateIntentRequest{
		BookingID:      "b-1",
		UserID:         "renter-1",
		Amount:         7500,
		Currency:       "usd",
		IdempotencyKey: IdempotencyKey("b-1", 7500, 0),
	})
	require.NoError(t, err)
	assert.Equal(t, "pi_123", in.ID)
	assert.Equal(t, "pi_123_secret_abc", in.ClientSecret)
	assert.Equal(t, models.PaymentPending, in.Status)

	assert.Equal(t, "7500", stub.lastForm.Get("amount"))
	assert.Equal(t, "usd", stub.lastForm.Get("currency"))
	assert.Equal(t, "b-1", stub.lastForm.Get("metadata[booking_id]"))
	assert.Equal(t, "renter-1", stub.lastForm.Get("metadata[user_id]"))
	assert.Equal(t, "booking-b-1-7500", stub.lastKey)
}

func TestStripeProvider_CreateIntentReplayed(t *testing.T) {
	stub := &stripeStub{t: t}
	var retrieved bool
	stub.handler = func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			assert.Equal(t, "/v1/payment_intents/pi_123", r.URL.Path)
			retrieved = true
			writeIntent(w, map[string]any{"id": "pi_123", "client_secret": "pi_123_secret_abc", "status": "canceled", "amount": 7500})
			return
		}
		w.Header().Set("Idempotent-Replayed", "true")
		writeIntent(w, map[string]any{"id": "pi_123", "client_secret": "pi_123_secret_abc", "status": "requires_payment_method", "amount": 7500})
	}
	p := newStripeProvider(t, stub)

	in, err := p.CreateIntent(context.Background(), CreateIntentRequest{
		BookingID:      "b-1",
		Amount:         7500,
		Currency:       "usd",
		IdempotencyKey: IdempotencyKey("b-1", 7500, 0),
	})
	require.NoError(t, err)
	assert.True(t, retrieved, "a replayed create is refreshed from the provider")
	assert.Equal(t, models.PaymentCanceled, in.Status)
}

func TestStripeProvider_CreateIntentError(t *testing.T) {
	stub := &stripeStub{t: t}
	stub.handler = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","message":"bad amount"}}`))
	}
	p := newStripeProvider(t, stub)

	_, err := p.CreateIntent(context.Background(), CreateIntentRequest{BookingID: "b-1", Amount: 1, Currency: "usd"})
	assert.Error(t, err)
}

func TestStripeProvider_RetrieveIntent(t *testing.T) {
	tests := []struct {
		name   string
		fields map[string]any
		want   models.PaymentStatus
	}{
		{"Succeeded", map[string]any{"status": "succeeded"}, models.PaymentSucceeded},
		{"Processing", map[string]any{"status": "processing"}, models.PaymentProcessing},
		{"Canceled", map[string]any{"status": "canceled"}, models.PaymentCanceled},
		{"AwaitingMethod", map[string]any{"status": "requires_payment_method"}, models.PaymentPending},
		{"Declined", map[string]any{"status": "requires_payment_method", "last_payment_error": map[string]any{"code": "card_declined"}}, models.PaymentFailed},
		{"RequiresAction", map[string]any{"status": "requires_action"}, models.PaymentPending},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := &stripeStub{t: t}
			stub.handler = func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodGet, r.Method)
				assert.Equal(t, "/v1/payment_intents/pi_9", r.URL.Path)
				fields := map[string]any{"id": "pi_9"}
				for k, v := range tt.fields {
					fields[k] = v
				}
				writeIntent(w, fields)
			}
			p := newStripeProvider(t, stub)

			in, err := p.RetrieveIntent(context.Background(), "pi_9")
			require.NoError(t, err)
			assert.Equal(t, tt.want, in.Status)
		})
	}
}

func TestStripeProvider_CancelIntent(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		stub := &stripeStub{t: t}
		stub.handler = func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v1/payment_intents/pi_1/cancel", r.URL.Path)
			writeIntent(w, map[string]any{"id": "pi_1", "status": "canceled"})
		}
		assert.NoError(t, newStripeProvider(t, stub).CancelIntent(context.Background(), "pi_1"))
	})

	t.Run("AlreadyFinal", func(t *testing.T) {
		stub := &stripeStub{t: t}
		stub.handler = func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","code":"payment_intent_unexpected_state"}}`))
		}
		assert.NoError(t, newStripeProvider(t, stub).CancelIntent(context.Background(), "pi_1"))
	})

	t.Run("ServerError", func(t *testing.T) {
		stub := &stripeStub{t: t}
		stub.handler = func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":{"type":"api_error","message":"boom"}}`))
		}
		assert.Error(t, newStripeProvider(t, stub).CancelIntent(context.Background(), "pi_1"))
	})
}

func signedStripeEvent(t *testing.T, secret, eventType string, intent map[string]any) ([]byte, http.Header) {
	t.Helper()
	intent["object"] = "payment_intent"
	payload, err := json.Marshal(map[string]any{
		"id":          "evt_1",
		"object":      "event",
		"type":        eventType,
		"api_version": "2020-08-27",
		"data":        map[string]any{"object": intent},
	})
	require.NoError(t, err)

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: time.Now(),
	})
	header := http.Header{}
	header.Set(stripeSignatureHeader, signed.Header)
	return payload, header
}

func TestStripeProvider_ParseWebhook(t *testing.T) {
	p := NewStripeProvider(config.StripeConfig{SecretKey: "sk_test", WebhookSecret: "whsec_test"}, nil)

	t.Run("Succeeded", func(t *testing.T) {
		payload, header := signedStripeEvent(t, "whsec_test", "payment_intent.succeeded",
			map[string]any{"id": "pi_1", "status": "succeeded"})

		ev, err := p.ParseWebhook(payload, header)
		require.NoError(t, err)
		require.NotNil(t, ev)
		assert.Equal(t, "evt_1", ev.ID)
		assert.Equal(t, "pi_1", ev.IntentID)
		assert.Equal(t, models.PaymentSucceeded, ev.Status)
	})

	t.Run("PaymentFailed", func(t *testing.T) {
		payload, header := signedStripeEvent(t, "whsec_test", "payment_intent.payment_failed",
			map[string]any{"id": "pi_2", "status": "requires_payment_method"})

		ev, err := p.ParseWebhook(payload, header)
		require.NoError(t, err)
		assert.Equal(t, models.PaymentFailed, ev.Status)
	})

	t.Run("IgnoredType", func(t *testing.T) {
		payload, header := signedStripeEvent(t, "whsec_test", "charge.refunded", map[string]any{"id": "ch_1"})

		ev, err := p.ParseWebhook(payload, header)
		require.NoError(t, err)
		assert.Nil(t, ev)
	})

	t.Run("BadSignature", func(t *testing.T) {
		payload, header := signedStripeEvent(t, "whsec_other", "payment_intent.succeeded",
			map[string]any{"id": "pi_1", "status": "succeeded"})

		_, err := p.ParseWebhook(payload, header)
		assert.Error(t, err)
	})
}
