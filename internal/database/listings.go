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

func (q queries) GetListing(ctx context.Context, id string) (*models.Listing, error) {
	var l models.Listing
	query := `SELECT id, owner_id, title, price_per_day, is_available, created_at, updated_at
              FROM listings WHERE id = ?`
	err := q.queryRow(ctx, query, id).Scan(
		&l.ID, &l.OwnerID, &l.Title, &l.PricePerDay, &l.IsAvailable, &l.CreatedAt, &l.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get listing: %w", err)
	}
	return &l, nil
}

// UpsertListing inserts the listing or refreshes every mutable column of an existing one.
func (q queries) UpsertListing(ctx context.Context, listing *models.Listing) error {
	if listing.ID == "" {
		listing.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if listing.CreatedAt.IsZero() {
		listing.CreatedAt = now
	}
	listing.UpdatedAt = now

	query := `INSERT INTO listings (id, owner_id, title, price_per_day, is_available, created_at, updated_at)
              VALUES (?, ?, ?, ?, ?, ?, ?)
              ON CONFLICT (id) DO UPDATE SET
                owner_id = excluded.owner_id,
                title = excluded.title,
                price_per_day = excluded.price_per_day,
                is_available = excluded.is_available,
                updated_at = excluded.updated_at`
	_, err := q.exec(ctx, query,
		listing.ID,
		listing.OwnerID,
		listing.Title,
		listing.PricePerDay,
		listing.IsAvailable,
		listing.CreatedAt,
		listing.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert listing: %w", err)
	}
	return nil
}

func (q queries) LockListing(ctx context.Context, id string) error {
	var got string
	err := q.queryRow(ctx, q.dialect.lockListingQuery(), id).Scan(&got)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to lock listing: %w", err)
	}
	return nil
}
