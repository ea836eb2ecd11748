package service

import (
	"context"
	"errors"
	"net/http"
	"time"

	"gearshare/internal/database"
	"gearshare/internal/domain"
	"gearshare/internal/events"
	"gearshare/internal/metrics"
	"gearshare/internal/models"
	"gearshare/internal/payments"

	"github.com/rs/zerolog"
)

// maxIntentAttempts bounds how many canceled intents one initiation skips.
const maxIntentAttempts = 5

var errIntentSuperseded = errors.New("payment intent superseded by a new attempt")

type PaymentPolicy struct {
	FeeRate          float64
	Currency         string
	ProviderTimeout  time.Duration
	OperationTimeout time.Duration
}

// PaymentIntentResult is what the client needs to complete the payment.
type PaymentIntentResult struct {
	ClientSecret    string          `json:"client_secret"`
	PaymentIntentID string          `json:"payment_intent_id"`
	Payment         *models.Payment `json:"-"`
}

type PaymentService struct {
	store       domain.Store
	provider    payments.Provider
	compensator domain.Compensator
	eventBus    domain.EventPublisher
	policy      PaymentPolicy
	now         func() time.Time
	logger      *zerolog.Logger
}

func NewPaymentService(store domain.Store, provider payments.Provider, compensator domain.Compensator, eventBus domain.EventPublisher, policy PaymentPolicy, logger *zerolog.Logger) *PaymentService {
	if policy.FeeRate <= 0 {
		policy.FeeRate = models.DefaultFeeRate
	}
	if policy.Currency == "" {
		policy.Currency = "usd"
	}
	if policy.ProviderTimeout <= 0 {
		policy.ProviderTimeout = 15 * time.Second
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &PaymentService{
		store:       store,
		provider:    provider,
		compensator: compensator,
		eventBus:    eventBus,
		policy:      policy,
		now:         time.Now,
		logger:      logger,
	}
}

// InitiatePayment creates the provider intent for an approved booking and records
// a pending payment. The local row is written only after the provider succeeds.
// amount may be nil; when set it must equal the booking total.
func (s *PaymentService) InitiatePayment(ctx context.Context, callerID, bookingID string, amount *int64) (*PaymentIntentResult, error) {
	ctx, cancel := withTimeout(ctx, s.policy.OperationTimeout)
	defer cancel()

	booking, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, storageError(err, "booking")
	}
	if callerID == "" || callerID != booking.RenterID {
		return nil, domain.Unauthorized("only the renter can pay for this booking")
	}
	if booking.Status != models.BookingApproved {
		return nil, domain.InvalidState("booking must be approved before payment, it is %s", booking.Status)
	}
	if booking.Paid {
		return nil, domain.InvalidState("booking is already paid")
	}
	if amount != nil && *amount != booking.TotalPrice {
		return nil, domain.Validation("amount %d does not match the booking total %d", *amount, booking.TotalPrice)
	}
	if booking.TotalPrice <= 0 {
		return nil, domain.Validation("booking total must be positive")
	}

	fee, ownerAmount := models.SplitAmount(booking.TotalPrice, s.policy.FeeRate)

	intent, existing, err := s.liveIntent(ctx, booking, callerID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return &PaymentIntentResult{ClientSecret: intent.ClientSecret, PaymentIntentID: intent.ID, Payment: existing}, nil
	}

	payment := &models.Payment{
		BookingID:        booking.ID,
		ExternalIntentID: intent.ID,
		Amount:           booking.TotalPrice,
		PlatformFee:      fee,
		OwnerAmount:      ownerAmount,
		Currency:         s.policy.Currency,
		Status:           models.PaymentPending,
	}
	if err := s.store.CreatePayment(ctx, payment); err != nil {
		if errors.Is(err, database.ErrDuplicate) {
			if existing, getErr := s.store.GetPaymentByIntentID(ctx, intent.ID); getErr == nil {
				return &PaymentIntentResult{ClientSecret: intent.ClientSecret, PaymentIntentID: intent.ID, Payment: existing}, nil
			}
		}
		s.logger.Error().Err(err).Str("booking_id", booking.ID).Str("intent_id", intent.ID).Msg("payment row insert failed after intent creation")
		s.compensate(ctx, booking.ID, intent.ID, err)
		return nil, storageError(err, "payment")
	}

	s.logger.Info().
		Str("booking_id", booking.ID).
		Str("intent_id", intent.ID).
		Int64("amount", payment.Amount).
		Int64("platform_fee", payment.PlatformFee).
		Msg("payment initiated")
	s.publishEvent(events.EventPaymentInitiated, payment, "", callerID)

	return &PaymentIntentResult{ClientSecret: intent.ClientSecret, PaymentIntentID: intent.ID, Payment: payment}, nil
}

// liveIntent asks the provider for the booking's intent and skips intents that
// were canceled, either at the provider or in the local ledger. A non-nil
// payment means the intent already has a usable local row.
func (s *PaymentService) liveIntent(ctx context.Context, booking *models.Booking, callerID string) (*payments.Intent, *models.Payment, error) {
	for attempt := 0; attempt < maxIntentAttempts; attempt++ {
		pctx, pcancel := withTimeout(ctx, s.policy.ProviderTimeout)
		intent, err := s.provider.CreateIntent(pctx, payments.CreateIntentRequest{
			BookingID:      booking.ID,
			UserID:         callerID,
			Amount:         booking.TotalPrice,
			Currency:       s.policy.Currency,
			IdempotencyKey: payments.IdempotencyKey(booking.ID, booking.TotalPrice, attempt),
		})
		pcancel()
		if err != nil {
			metrics.IncProviderError("create_intent")
			s.logger.Error().Err(err).Str("booking_id", booking.ID).Str("provider", s.provider.Name()).Msg("payment intent creation failed")
			return nil, nil, domain.Wrap(domain.KindProvider, err, "payment provider failed to create the payment intent")
		}
		if intent.Status == models.PaymentCanceled {
			s.logger.Info().Str("booking_id", booking.ID).Str("intent_id", intent.ID).Int("attempt", attempt).Msg("provider returned a canceled intent, issuing a new one")
			continue
		}

		existing, err := s.store.GetPaymentByIntentID(ctx, intent.ID)
		switch {
		case errors.Is(err, database.ErrNotFound):
			return intent, nil, nil
		case err != nil:
			return nil, nil, storageError(err, "payment")
		case existing.Status == models.PaymentCanceled:
			// The ledger gave up on this intent; make sure the provider does too.
			s.compensate(ctx, booking.ID, intent.ID, errIntentSuperseded)
			continue
		default:
			return intent, existing, nil
		}
	}
	return nil, nil, domain.Errorf(domain.KindProvider, "payment provider keeps returning canceled intents")
}

// compensate voids an intent that has no local row. It runs on a context that
// outlives the caller's, since the caller has usually already failed.
func (s *PaymentService) compensate(ctx context.Context, bookingID, intentID string, cause error) {
	base := context.WithoutCancel(ctx)

	cctx, cancel := context.WithTimeout(base, s.policy.ProviderTimeout)
	err := s.provider.CancelIntent(cctx, intentID)
	cancel()
	if err == nil {
		s.logger.Info().Str("booking_id", bookingID).Str("intent_id", intentID).Msg("orphaned payment intent canceled")
		return
	}
	metrics.IncProviderError("cancel_intent")

	if s.compensator == nil {
		s.logger.Error().Err(err).Str("booking_id", bookingID).Str("intent_id", intentID).Msg("orphaned payment intent needs manual cancellation")
		return
	}

	qctx, qcancel := context.WithTimeout(base, s.policy.ProviderTimeout)
	defer qcancel()
	if qerr := s.compensator.EnqueueCancelIntent(qctx, bookingID, intentID, cause); qerr != nil {
		s.logger.Error().Err(qerr).Str("booking_id", bookingID).Str("intent_id", intentID).Msg("orphaned payment intent needs manual cancellation")
		return
	}
	s.logger.Warn().Err(err).Str("booking_id", bookingID).Str("intent_id", intentID).Msg("intent cancel failed, compensation queued")
}

// ConfirmPayment records the provider's status for an intent. Repeating the
// current status is a no-op. On success the booking is flagged paid; its status
// does not change. Money captured for a booking that was cancelled meanwhile is
// recorded and reported as owing a refund instead.
func (s *PaymentService) ConfirmPayment(ctx context.Context, intentID, providerStatus, changedBy string) (*models.Payment, error) {
	ctx, cancel := withTimeout(ctx, s.policy.OperationTimeout)
	defer cancel()

	if intentID == "" {
		return nil, domain.Validation("payment intent id is required")
	}
	status, err := payments.NormalizeStatus(providerStatus)
	if err != nil {
		return nil, domain.Validation("%s", err.Error())
	}

	var (
		updated   *models.Payment
		previous  models.PaymentStatus
		changed   bool
		refundDue bool
	)
	err = s.store.InTx(ctx, func(tx domain.UnitOfWork) error {
		payment, err := tx.GetPaymentByIntentID(ctx, intentID)
		if err != nil {
			return storageError(err, "payment")
		}
		previous = payment.Status
		updated = payment

		if payment.Status == status {
			return nil
		}
		if !payment.Status.CanTransitionTo(status) {
			return domain.InvalidState("payment is already %s", payment.Status)
		}

		if err := tx.UpdatePaymentStatus(ctx, payment.ID, status); err != nil {
			return storageError(err, "payment")
		}
		if status == models.PaymentSucceeded {
			booking, err := tx.GetBooking(ctx, payment.BookingID)
			if err != nil {
				return storageError(err, "booking")
			}
			if booking.Status == models.BookingCancelled {
				refundDue = true
			} else if err := tx.MarkBookingPaid(ctx, payment.BookingID, s.now().UTC()); err != nil {
				return storageError(err, "booking")
			}
		}
		payment.Status = status
		payment.UpdatedAt = time.Now().UTC()
		changed = true
		return nil
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("intent_id", intentID).Str("status", string(status)).Msg("payment confirmation failed")
		return nil, storageError(err, "payment")
	}

	if changed {
		s.logger.Info().
			Str("intent_id", intentID).
			Str("booking_id", updated.BookingID).
			Str("from", string(previous)).
			Str("to", string(updated.Status)).
			Msg("payment status changed")
		s.publishEvent(events.EventPaymentStatusChanged, updated, previous, changedBy)
	}
	if refundDue {
		s.logger.Error().
			Str("intent_id", intentID).
			Str("booking_id", updated.BookingID).
			Int64("amount", updated.Amount).
			Msg("payment captured for a cancelled booking, refund required")
		s.publishEvent(events.EventPaymentRefundRequired, updated, previous, changedBy)
	}
	return updated, nil
}

// SyncPayment asks the provider for the intent's current status and confirms it.
// Only the renter of the booking may trigger it.
func (s *PaymentService) SyncPayment(ctx context.Context, callerID, intentID string) (*models.Payment, error) {
	ctx, cancel := withTimeout(ctx, s.policy.OperationTimeout)
	defer cancel()

	payment, err := s.store.GetPaymentByIntentID(ctx, intentID)
	if err != nil {
		return nil, storageError(err, "payment")
	}
	booking, err := s.store.GetBooking(ctx, payment.BookingID)
	if err != nil {
		return nil, storageError(err, "booking")
	}
	if callerID == "" || callerID != booking.RenterID {
		return nil, domain.Unauthorized("only the renter can refresh this payment")
	}

	pctx, pcancel := withTimeout(ctx, s.policy.ProviderTimeout)
	intent, err := s.provider.RetrieveIntent(pctx, intentID)
	pcancel()
	if err != nil {
		metrics.IncProviderError("retrieve_intent")
		return nil, domain.Wrap(domain.KindProvider, err, "payment provider failed to report the payment status")
	}

	return s.ConfirmPayment(ctx, intentID, string(intent.Status), "sync")
}

// HandleWebhook verifies a provider notification and confirms the payment it
// describes. An event with nothing to record returns nil, nil. Events for intents
// without a local row are acknowledged too, so the provider stops redelivering.
func (s *PaymentService) HandleWebhook(ctx context.Context, payload []byte, header http.Header) (*models.Payment, error) {
	event, err := s.provider.ParseWebhook(payload, header)
	if err != nil {
		return nil, domain.Wrap(domain.KindAuthorization, err, "webhook signature verification failed")
	}
	if event == nil {
		return nil, nil
	}
	payment, err := s.ConfirmPayment(ctx, event.IntentID, string(event.Status), "webhook")
	if domain.IsKind(err, domain.KindNotFound) {
		s.logger.Warn().Str("intent_id", event.IntentID).Str("event_id", event.ID).Str("status", string(event.Status)).Msg("webhook for unknown payment intent ignored")
		return nil, nil
	}
	return payment, err
}

// ListPayments returns the payments of a booking to one of its parties.
func (s *PaymentService) ListPayments(ctx context.Context, callerID, bookingID string) ([]*models.Payment, error) {
	ctx, cancel := withTimeout(ctx, s.policy.OperationTimeout)
	defer cancel()

	booking, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, storageError(err, "booking")
	}
	if !booking.IsParty(callerID) {
		return nil, domain.Unauthorized("only the renter or the owner can view these payments")
	}
	list, err := s.store.ListPaymentsByBooking(ctx, bookingID)
	if err != nil {
		return nil, storageError(err, "payments")
	}
	return list, nil
}

func (s *PaymentService) publishEvent(eventType string, payment *models.Payment, previous models.PaymentStatus, changedBy string) {
	if s.eventBus == nil {
		return
	}

	payload := events.NewPaymentPayload(payment, previous, changedBy)
	if err := s.eventBus.PublishJSON(eventType, payload); err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Str("intent_id", payment.ExternalIntentID).Msg("publish event error")
	}
}
