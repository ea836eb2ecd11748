package models

import (
	"math"
	"time"
)

// DefaultFeeRate is the platform's share of every booking payment.
const DefaultFeeRate = 0.10

type PaymentStatus string

const (
	PaymentPending    PaymentStatus = "pending"
	PaymentProcessing PaymentStatus = "processing"
	PaymentSucceeded  PaymentStatus = "succeeded"
	PaymentFailed     PaymentStatus = "failed"
	PaymentCanceled   PaymentStatus = "canceled"
)

// CanTransitionTo reports whether a payment may move from s to next.
// Succeeded is final and a failed attempt can still be retried on the same intent.
// A local cancel can lose the race with a capture, so canceled only moves to succeeded.
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	if s == next {
		return true
	}
	switch s {
	case PaymentPending, PaymentProcessing:
		return next != PaymentPending
	case PaymentFailed:
		return next == PaymentProcessing || next == PaymentSucceeded || next == PaymentCanceled
	case PaymentCanceled:
		return next == PaymentSucceeded
	default:
		return false
	}
}

// Payment is the local ledger row for one external payment intent.
// Amounts are in minor currency units.
type Payment struct {
	ID               string        `json:"id"`
	BookingID        string        `json:"booking_id"`
	ExternalIntentID string        `json:"external_intent_id"`
	Amount           int64         `json:"amount"`
	PlatformFee      int64         `json:"platform_fee"`
	OwnerAmount      int64         `json:"owner_amount"`
	Currency         string        `json:"currency"`
	Status           PaymentStatus `json:"status"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// SplitAmount divides amount into the platform fee and the owner's share.
// fee + owner always equals amount.
func SplitAmount(amount int64, feeRate float64) (fee, owner int64) {
	fee = int64(math.Round(float64(amount) * feeRate))
	return fee, amount - fee
}
