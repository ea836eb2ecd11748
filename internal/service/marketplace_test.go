package service

import (
	"context"
	"testing"

	"gearshare/internal/domain"
	"gearshare/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarketplace_BookAndPay(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	booking, err := env.market.RequestBooking(ctx, BookingRequest{
		ListingID: "tent",
		RenterID:  "renter",
		StartDate: date(t, "2024-07-01"),
		EndDate:   date(t, "2024-07-03"),
	})
	require.NoError(t, err)
	assert.Equal(t, models.BookingPending, booking.Status)
	assert.Equal(t, int64(9000), booking.TotalPrice)

	approved, err := env.market.ProcessBooking(ctx, "owner", booking.ID, "approve")
	require.NoError(t, err)
	assert.Equal(t, models.BookingApproved, approved.Status)
	assert.Equal(t, []string{"2024-07-01", "2024-07-02", "2024-07-03"}, env.blocked(t, "tent"))

	_, err = env.market.RequestBooking(ctx, BookingRequest{
		ListingID: "tent",
		RenterID:  "second-renter",
		StartDate: date(t, "2024-07-02"),
		EndDate:   date(t, "2024-07-04"),
	})
	requireKind(t, err, domain.KindConflict)

	amount := int64(9000)
	res, err := env.market.InitiatePayment(ctx, "renter", booking.ID, &amount)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPending, res.Payment.Status)
	assert.Equal(t, int64(900), res.Payment.PlatformFee)
	assert.Equal(t, int64(8100), res.Payment.OwnerAmount)

	paid, err := env.market.ConfirmPayment(ctx, res.PaymentIntentID, "succeeded")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentSucceeded, paid.Status)

	bookings, byBooking, err := env.market.OwnerReport(ctx, "owner")
	require.NoError(t, err)
	require.Len(t, bookings, 1)
	assert.True(t, bookings[0].Paid)
	require.Len(t, byBooking[booking.ID], 1)
	assert.Equal(t, models.PaymentSucceeded, byBooking[booking.ID][0].Status)
}

func TestMarketplace_OwnerReportEmpty(t *testing.T) {
	env := newTestEnv(t)

	bookings, byBooking, err := env.market.OwnerReport(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, bookings)
	assert.Empty(t, byBooking)

	_, _, err = env.market.OwnerReport(context.Background(), "")
	requireKind(t, err, domain.KindAuthorization)
}
