package service

import (
	"context"

	"gearshare/internal/lifecycle"
	"gearshare/internal/models"
)

// Marketplace is the booking core's entry point. It sequences the booking,
// payment and review services and returns kinded errors from all of them.
type Marketplace struct {
	Bookings *BookingService
	Payments *PaymentService
	Reviews  *ReviewService
}

func NewMarketplace(bookings *BookingService, payments *PaymentService, reviews *ReviewService) *Marketplace {
	return &Marketplace{Bookings: bookings, Payments: payments, Reviews: reviews}
}

func (m *Marketplace) RequestBooking(ctx context.Context, req BookingRequest) (*models.Booking, error) {
	return m.Bookings.RequestBooking(ctx, req)
}

// ProcessBooking parses action and applies it for callerID.
func (m *Marketplace) ProcessBooking(ctx context.Context, callerID, bookingID, action string) (*models.Booking, error) {
	a, err := lifecycle.ParseAction(action)
	if err != nil {
		return nil, err
	}
	return m.Bookings.ProcessBooking(ctx, lifecycle.User(callerID), bookingID, a)
}

func (m *Marketplace) InitiatePayment(ctx context.Context, callerID, bookingID string, amount *int64) (*PaymentIntentResult, error) {
	return m.Payments.InitiatePayment(ctx, callerID, bookingID, amount)
}

func (m *Marketplace) ConfirmPayment(ctx context.Context, intentID, providerStatus string) (*models.Payment, error) {
	return m.Payments.ConfirmPayment(ctx, intentID, providerStatus, "provider")
}

// OwnerReport collects the owner's bookings with their payments, keyed by booking id.
func (m *Marketplace) OwnerReport(ctx context.Context, ownerID string) ([]*models.Booking, map[string][]*models.Payment, error) {
	bookings, err := m.Bookings.ListBookings(ctx, ownerID, RoleOwner)
	if err != nil {
		return nil, nil, err
	}
	byBooking := make(map[string][]*models.Payment, len(bookings))
	for _, b := range bookings {
		list, err := m.Payments.ListPayments(ctx, ownerID, b.ID)
		if err != nil {
			return nil, nil, err
		}
		byBooking[b.ID] = list
	}
	return bookings, byBooking, nil
}
