package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"gearshare/internal/models"

	"github.com/google/uuid"
)

func (q queries) CreateReview(ctx context.Context, review *models.Review) error {
	if review.ID == "" {
		review.ID = uuid.NewString()
	}

	query := `INSERT INTO reviews (id, listing_id, booking_id, reviewer_id, rating, comment, created_at)
              VALUES (?, ?, ?, ?, ?, ?, ?)`
	now := time.Now().UTC()
	_, err := q.exec(ctx, query,
		review.ID, review.ListingID, review.BookingID, review.ReviewerID, review.Rating, review.Comment, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to create review: %w", err)
	}
	review.CreatedAt = now
	return nil
}

func (q queries) GetReviewByBookingAndReviewer(ctx context.Context, bookingID, reviewerID string) (*models.Review, error) {
	var r models.Review
	query := `SELECT id, listing_id, booking_id, reviewer_id, rating, comment, created_at
              FROM reviews WHERE booking_id = ? AND reviewer_id = ?`
	err := q.queryRow(ctx, query, bookingID, reviewerID).Scan(
		&r.ID, &r.ListingID, &r.BookingID, &r.ReviewerID, &r.Rating, &r.Comment, &r.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get review: %w", err)
	}
	return &r, nil
}

func (q queries) ListReviewsByListing(ctx context.Context, listingID string) ([]*models.Review, error) {
	query := `SELECT id, listing_id, booking_id, reviewer_id, rating, comment, created_at
              FROM reviews WHERE listing_id = ? ORDER BY created_at DESC, id DESC`
	rows, err := q.query(ctx, query, listingID)
	if err != nil {
		return nil, fmt.Errorf("failed to list reviews: %w", err)
	}
	defer rows.Close()

	var reviews []*models.Review
	for rows.Next() {
		var r models.Review
		if err := rows.Scan(&r.ID, &r.ListingID, &r.BookingID, &r.ReviewerID, &r.Rating, &r.Comment, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan review: %w", err)
		}
		reviews = append(reviews, &r)
	}
	return reviews, rows.Err()
}
