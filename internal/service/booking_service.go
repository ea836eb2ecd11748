package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"gearshare/internal/domain"
	"gearshare/internal/events"
	"gearshare/internal/lifecycle"
	"gearshare/internal/locking"
	"gearshare/internal/models"

	"github.com/rs/zerolog"
)

// maxCalendarDays bounds one availability query.
const maxCalendarDays = 366

var errBookingCancelled = errors.New("booking cancelled")

type BookingPolicy struct {
	MaxBookingDays           int
	RequirePaidForCompletion bool
	OperationTimeout         time.Duration
}

type BookingRequest struct {
	ListingID string
	RenterID  string
	StartDate time.Time
	EndDate   time.Time
	Message   string
}

// ListRole selects which side of the bookings a caller lists.
type ListRole string

const (
	RoleOwner  ListRole = "owner"
	RoleRenter ListRole = "renter"
)

type BookingService struct {
	store       domain.Store
	locker      domain.Locker
	eventBus    domain.EventPublisher
	compensator domain.Compensator
	policy      BookingPolicy
	now         func() time.Time
	logger      *zerolog.Logger
}

// NewBookingService wires the booking lifecycle. compensator voids the provider
// intents of cancelled bookings and may be nil.
func NewBookingService(store domain.Store, locker domain.Locker, eventBus domain.EventPublisher, compensator domain.Compensator, policy BookingPolicy, logger *zerolog.Logger) *BookingService {
	if policy.MaxBookingDays <= 0 {
		policy.MaxBookingDays = 365
	}
	if locker == nil {
		locker = locking.NewMemoryLocker()
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &BookingService{
		store:       store,
		locker:      locker,
		eventBus:    eventBus,
		compensator: compensator,
		policy:      policy,
		now:         time.Now,
		logger:      logger,
	}
}

func (s *BookingService) today() time.Time {
	return models.DateOf(s.now())
}

// RequestBooking creates a pending booking after checking the range against the ledger.
// Overlapping pending requests are allowed; approval re-checks.
func (s *BookingService) RequestBooking(ctx context.Context, req BookingRequest) (*models.Booking, error) {
	ctx, cancel := withTimeout(ctx, s.policy.OperationTimeout)
	defer cancel()

	if req.RenterID == "" {
		return nil, domain.Unauthorized("renter identity is required")
	}
	if req.ListingID == "" {
		return nil, domain.Validation("listing id is required")
	}
	if len(req.Message) > 2000 {
		return nil, domain.Validation("message must be at most 2000 characters")
	}

	start, end := models.DateOf(req.StartDate), models.DateOf(req.EndDate)
	if end.Before(start) {
		return nil, domain.Validation("end date %s is before start date %s", models.FormatDate(end), models.FormatDate(start))
	}
	if start.Before(s.today()) {
		return nil, domain.Validation("start date %s is in the past", models.FormatDate(start))
	}
	if days := models.DaysInclusive(start, end); days > s.policy.MaxBookingDays {
		return nil, domain.Validation("booking of %d days exceeds the maximum of %d", days, s.policy.MaxBookingDays)
	}

	listing, err := s.store.GetListing(ctx, req.ListingID)
	if err != nil {
		return nil, storageError(err, "listing")
	}
	if listing.OwnerID == req.RenterID {
		return nil, domain.Validation("owners cannot book their own listing")
	}
	if !listing.IsAvailable {
		return nil, domain.Conflict("listing is not accepting bookings")
	}

	available, err := s.store.IsRangeAvailable(ctx, listing.ID, start, end)
	if err != nil {
		return nil, storageError(err, "availability")
	}
	if !available {
		return nil, domain.Conflict("listing is not available for the selected dates")
	}

	booking := &models.Booking{
		ListingID:  listing.ID,
		RenterID:   req.RenterID,
		OwnerID:    listing.OwnerID,
		StartDate:  start,
		EndDate:    end,
		TotalPrice: models.TotalPrice(listing.PricePerDay, start, end),
		Status:     models.BookingPending,
		Message:    strings.TrimSpace(req.Message),
	}
	if err := s.store.CreateBooking(ctx, booking); err != nil {
		s.logger.Error().Err(err).Str("listing_id", listing.ID).Msg("failed to create booking")
		return nil, storageError(err, "booking")
	}

	s.logger.Info().
		Str("booking_id", booking.ID).
		Str("listing_id", booking.ListingID).
		Str("renter_id", booking.RenterID).
		Int64("total_price", booking.TotalPrice).
		Msg("booking requested")
	s.publishEvent(events.EventBookingRequested, booking, "", booking.RenterID)
	return booking, nil
}

// ProcessBooking applies action to the booking on behalf of actor. Approve and
// cancel hold the listing lock and run the ledger write and the status change
// in one transaction.
func (s *BookingService) ProcessBooking(ctx context.Context, actor lifecycle.Actor, bookingID string, action lifecycle.Action) (*models.Booking, error) {
	ctx, cancel := withTimeout(ctx, s.policy.OperationTimeout)
	defer cancel()

	if bookingID == "" {
		return nil, domain.Validation("booking id is required")
	}

	booking, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, storageError(err, "booking")
	}
	if err := s.checkTransition(booking, actor, action); err != nil {
		return nil, err
	}

	release, err := s.locker.Acquire(ctx, "listing:"+booking.ListingID)
	if err != nil {
		return nil, lockError(err)
	}
	defer release()

	var (
		updated    *models.Booking
		transition lifecycle.Transition
		voided     []*models.Payment
	)
	err = s.store.InTx(ctx, func(tx domain.UnitOfWork) error {
		if err := tx.LockListing(ctx, booking.ListingID); err != nil {
			return storageError(err, "listing")
		}
		current, err := tx.GetBooking(ctx, bookingID)
		if err != nil {
			return storageError(err, "booking")
		}
		if err := s.checkTransition(current, actor, action); err != nil {
			return err
		}
		transition, err = lifecycle.Next(current, action)
		if err != nil {
			return err
		}

		if transition.Effect == lifecycle.EffectBlock {
			available, err := tx.IsRangeAvailable(ctx, current.ListingID, current.StartDate, current.EndDate)
			if err != nil {
				return storageError(err, "availability")
			}
			if !available {
				return domain.Conflict("dates are no longer available, another booking was approved")
			}
		}

		if err := tx.UpdateBookingStatusWithVersion(ctx, current.ID, current.Version, transition.To); err != nil {
			return storageError(err, "booking")
		}

		switch transition.Effect {
		case lifecycle.EffectBlock:
			if err := tx.BlockRange(ctx, current.ListingID, current.StartDate, current.EndDate); err != nil {
				return storageError(err, "availability")
			}
		case lifecycle.EffectUnblock:
			if err := tx.UnblockRange(ctx, current.ListingID, current.StartDate, current.EndDate); err != nil {
				return storageError(err, "availability")
			}
			voided, err = voidOpenPayments(ctx, tx, current.ID)
			if err != nil {
				return err
			}
		}

		current.Status = transition.To
		current.Version++
		current.UpdatedAt = time.Now().UTC()
		updated = current
		return nil
	})
	if err != nil {
		s.logger.Warn().Err(err).
			Str("booking_id", bookingID).
			Str("action", string(action)).
			Str("actor", actor.String()).
			Msg("booking transition failed")
		return nil, storageError(err, "booking")
	}

	s.logger.Info().
		Str("booking_id", updated.ID).
		Str("listing_id", updated.ListingID).
		Str("from", string(transition.From)).
		Str("to", string(transition.To)).
		Str("effect", transition.Effect.String()).
		Str("actor", actor.String()).
		Msg("booking transitioned")
	s.publishEvent(events.BookingEventType(updated.Status), updated, transition.From, actor.String())
	s.cancelIntents(ctx, updated.ID, voided, actor.String())
	return updated, nil
}

// voidOpenPayments marks the booking's payments that could still capture money
// as canceled and returns them with their previous status.
func voidOpenPayments(ctx context.Context, tx domain.UnitOfWork, bookingID string) ([]*models.Payment, error) {
	list, err := tx.ListPaymentsByBooking(ctx, bookingID)
	if err != nil {
		return nil, storageError(err, "payments")
	}

	var voided []*models.Payment
	for _, p := range list {
		switch p.Status {
		case models.PaymentPending, models.PaymentProcessing, models.PaymentFailed:
		default:
			continue
		}
		if err := tx.UpdatePaymentStatus(ctx, p.ID, models.PaymentCanceled); err != nil {
			return nil, storageError(err, "payment")
		}
		voided = append(voided, p)
	}
	return voided, nil
}

// cancelIntents hands the provider side of voided payments to the compensator.
// It runs after commit, on a context that outlives the caller's.
func (s *BookingService) cancelIntents(ctx context.Context, bookingID string, voided []*models.Payment, changedBy string) {
	base := context.WithoutCancel(ctx)
	for _, p := range voided {
		previous := p.Status
		p.Status = models.PaymentCanceled
		if s.eventBus != nil {
			if err := s.eventBus.PublishJSON(events.EventPaymentStatusChanged, events.NewPaymentPayload(p, previous, changedBy)); err != nil {
				s.logger.Error().Err(err).Str("intent_id", p.ExternalIntentID).Msg("publish event error")
			}
		}

		if s.compensator == nil {
			s.logger.Error().Str("booking_id", bookingID).Str("intent_id", p.ExternalIntentID).Msg("payment intent of cancelled booking needs manual cancellation")
			continue
		}
		if err := s.compensator.EnqueueCancelIntent(base, bookingID, p.ExternalIntentID, errBookingCancelled); err != nil {
			s.logger.Error().Err(err).Str("booking_id", bookingID).Str("intent_id", p.ExternalIntentID).Msg("payment intent of cancelled booking needs manual cancellation")
			continue
		}
		s.logger.Info().Str("booking_id", bookingID).Str("intent_id", p.ExternalIntentID).Msg("payment intent cancellation queued")
	}
}

// checkTransition authorizes actor, resolves the transition and applies the completion policy.
func (s *BookingService) checkTransition(b *models.Booking, actor lifecycle.Actor, action lifecycle.Action) error {
	if _, err := lifecycle.Plan(b, actor, action); err != nil {
		return err
	}
	if action != lifecycle.ActionComplete {
		return nil
	}
	if actor.System && !b.EndDate.Before(s.today()) {
		return domain.InvalidState("rental period of booking %s has not ended", b.ID)
	}
	if s.policy.RequirePaidForCompletion && !b.Paid {
		return domain.InvalidState("booking must be paid before it can be completed")
	}
	return nil
}

// CompleteElapsed completes every approved booking whose last rental day is before today.
// It returns the number of bookings completed and the last failure, if any.
func (s *BookingService) CompleteElapsed(ctx context.Context) (int, error) {
	due, err := s.store.ListApprovedEndingBefore(ctx, s.today())
	if err != nil {
		return 0, storageError(err, "bookings")
	}

	var (
		completed int
		lastErr   error
	)
	for _, b := range due {
		if s.policy.RequirePaidForCompletion && !b.Paid {
			continue
		}
		if _, err := s.ProcessBooking(ctx, lifecycle.System, b.ID, lifecycle.ActionComplete); err != nil {
			if domain.IsKind(err, domain.KindState) || domain.IsKind(err, domain.KindConflict) {
				// Moved by someone else since the listing was read.
				continue
			}
			lastErr = err
			continue
		}
		completed++
	}
	return completed, lastErr
}

// GetBooking returns the booking if callerID is one of its parties.
func (s *BookingService) GetBooking(ctx context.Context, callerID, bookingID string) (*models.Booking, error) {
	ctx, cancel := withTimeout(ctx, s.policy.OperationTimeout)
	defer cancel()

	booking, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, storageError(err, "booking")
	}
	if !booking.IsParty(callerID) {
		return nil, domain.Unauthorized("only the renter or the owner can view this booking")
	}
	return booking, nil
}

// ListBookings returns the caller's bookings as owner or renter, newest first.
func (s *BookingService) ListBookings(ctx context.Context, callerID string, role ListRole) ([]*models.Booking, error) {
	ctx, cancel := withTimeout(ctx, s.policy.OperationTimeout)
	defer cancel()

	if callerID == "" {
		return nil, domain.Unauthorized("caller identity is required")
	}

	var (
		list []*models.Booking
		err  error
	)
	switch role {
	case RoleOwner:
		list, err = s.store.ListBookingsByOwner(ctx, callerID)
	case RoleRenter, "":
		list, err = s.store.ListBookingsByRenter(ctx, callerID)
	default:
		return nil, domain.Validation("unknown role %q", role)
	}
	if err != nil {
		return nil, storageError(err, "bookings")
	}
	if list == nil {
		list = []*models.Booking{}
	}
	return list, nil
}

// GetAvailability lists the blocked days of a listing within [from, to].
func (s *BookingService) GetAvailability(ctx context.Context, listingID string, from, to time.Time) ([]time.Time, error) {
	ctx, cancel := withTimeout(ctx, s.policy.OperationTimeout)
	defer cancel()

	from, to = models.DateOf(from), models.DateOf(to)
	if to.Before(from) {
		return nil, domain.Validation("to date is before from date")
	}
	if models.DaysInclusive(from, to) > maxCalendarDays {
		return nil, domain.Validation("calendar range is limited to %d days", maxCalendarDays)
	}

	if _, err := s.store.GetListing(ctx, listingID); err != nil {
		return nil, storageError(err, "listing")
	}
	dates, err := s.store.BlockedDates(ctx, listingID, from, to)
	if err != nil {
		return nil, storageError(err, "availability")
	}
	if dates == nil {
		dates = []time.Time{}
	}
	return dates, nil
}

func (s *BookingService) publishEvent(eventType string, booking *models.Booking, previous models.BookingStatus, changedBy string) {
	if s.eventBus == nil {
		return
	}

	payload := events.NewBookingPayload(booking, previous, changedBy)
	if err := s.eventBus.PublishJSON(eventType, payload); err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Str("booking_id", booking.ID).Msg("publish event error")
	}
}
