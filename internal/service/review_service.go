package service

import (
	"context"
	"strings"
	"time"

	"gearshare/internal/domain"
	"gearshare/internal/models"

	"github.com/rs/zerolog"
)

const maxCommentLength = 2000

type ReviewService struct {
	store   domain.Store
	timeout time.Duration
	logger  *zerolog.Logger
}

func NewReviewService(store domain.Store, timeout time.Duration, logger *zerolog.Logger) *ReviewService {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &ReviewService{store: store, timeout: timeout, logger: logger}
}

type ReviewRequest struct {
	ListingID  string
	BookingID  string
	ReviewerID string
	Rating     int
	Comment    string
}

// CreateReview records the renter's review of a completed booking, once per booking.
func (s *ReviewService) CreateReview(ctx context.Context, req ReviewRequest) (*models.Review, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	if req.Rating < models.MinRating || req.Rating > models.MaxRating {
		return nil, domain.Validation("rating must be between %d and %d", models.MinRating, models.MaxRating)
	}
	comment := strings.TrimSpace(req.Comment)
	if len(comment) > maxCommentLength {
		return nil, domain.Validation("comment must be at most %d characters", maxCommentLength)
	}

	booking, err := s.store.GetBooking(ctx, req.BookingID)
	if err != nil {
		return nil, storageError(err, "booking")
	}
	if req.ListingID != "" && booking.ListingID != req.ListingID {
		return nil, domain.Validation("booking does not belong to this listing")
	}
	if req.ReviewerID == "" || req.ReviewerID != booking.RenterID {
		return nil, domain.Unauthorized("only the renter can review this booking")
	}
	if booking.Status != models.BookingCompleted {
		return nil, domain.InvalidState("only completed bookings can be reviewed")
	}

	review := &models.Review{
		ListingID:  booking.ListingID,
		BookingID:  booking.ID,
		ReviewerID: req.ReviewerID,
		Rating:     req.Rating,
		Comment:    comment,
	}
	if err := s.store.CreateReview(ctx, review); err != nil {
		return nil, storageError(err, "review")
	}

	s.logger.Info().Str("booking_id", booking.ID).Str("listing_id", booking.ListingID).Int("rating", review.Rating).Msg("review created")
	return review, nil
}

func (s *ReviewService) ListReviews(ctx context.Context, listingID string) ([]*models.Review, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	if _, err := s.store.GetListing(ctx, listingID); err != nil {
		return nil, storageError(err, "listing")
	}
	list, err := s.store.ListReviewsByListing(ctx, listingID)
	if err != nil {
		return nil, storageError(err, "reviews")
	}
	if list == nil {
		list = []*models.Review{}
	}
	return list, nil
}
