package domain

import (
	"context"
	"time"

	"gearshare/internal/models"
)

type ListingRepository interface {
	GetListing(ctx context.Context, id string) (*models.Listing, error)
	UpsertListing(ctx context.Context, listing *models.Listing) error
	// LockListing serializes concurrent writers on one listing for the rest of the transaction.
	LockListing(ctx context.Context, id string) error
}

// AvailabilityLedger is the per-listing, per-day availability record.
type AvailabilityLedger interface {
	IsRangeAvailable(ctx context.Context, listingID string, start, end time.Time) (bool, error)
	BlockRange(ctx context.Context, listingID string, start, end time.Time) error
	UnblockRange(ctx context.Context, listingID string, start, end time.Time) error
	BlockedDates(ctx context.Context, listingID string, from, to time.Time) ([]time.Time, error)
}

type BookingRepository interface {
	CreateBooking(ctx context.Context, booking *models.Booking) error
	GetBooking(ctx context.Context, id string) (*models.Booking, error)
	UpdateBookingStatusWithVersion(ctx context.Context, id string, version int64, status models.BookingStatus) error
	MarkBookingPaid(ctx context.Context, id string, paidAt time.Time) error
	ListBookingsByOwner(ctx context.Context, ownerID string) ([]*models.Booking, error)
	ListBookingsByRenter(ctx context.Context, renterID string) ([]*models.Booking, error)
	ListApprovedEndingBefore(ctx context.Context, day time.Time) ([]*models.Booking, error)
}

type PaymentRepository interface {
	CreatePayment(ctx context.Context, payment *models.Payment) error
	GetPaymentByIntentID(ctx context.Context, intentID string) (*models.Payment, error)
	UpdatePaymentStatus(ctx context.Context, id string, status models.PaymentStatus) error
	ListPaymentsByBooking(ctx context.Context, bookingID string) ([]*models.Payment, error)
}

type ReviewRepository interface {
	CreateReview(ctx context.Context, review *models.Review) error
	GetReviewByBookingAndReviewer(ctx context.Context, bookingID, reviewerID string) (*models.Review, error)
	ListReviewsByListing(ctx context.Context, listingID string) ([]*models.Review, error)
}

// UnitOfWork is the set of repositories reachable inside one storage transaction.
type UnitOfWork interface {
	ListingRepository
	AvailabilityLedger
	BookingRepository
	PaymentRepository
	ReviewRepository
}

// Store is the storage root. InTx commits when fn returns nil and rolls back otherwise.
type Store interface {
	UnitOfWork
	InTx(ctx context.Context, fn func(tx UnitOfWork) error) error
}

// Locker hands out exclusive, expiring locks keyed by name.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

// Compensator schedules the voiding of an external payment intent that has no local record.
type Compensator interface {
	EnqueueCancelIntent(ctx context.Context, bookingID, intentID string, cause error) error
}
