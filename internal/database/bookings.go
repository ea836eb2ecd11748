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

const bookingColumns = `id, listing_id, renter_id, owner_id, start_date, end_date, total_price,
                 status, message, paid, paid_at, version, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBooking(row rowScanner) (*models.Booking, error) {
	var (
		b          models.Booking
		start, end string
		status     string
		paidAt     sql.NullTime
	)
	err := row.Scan(
		&b.ID, &b.ListingID, &b.RenterID, &b.OwnerID, &start, &end, &b.TotalPrice,
		&status, &b.Message, &b.Paid, &paidAt, &b.Version, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if b.StartDate, err = models.ParseDate(start); err != nil {
		return nil, fmt.Errorf("failed to parse booking start date %s: %w", start, err)
	}
	if b.EndDate, err = models.ParseDate(end); err != nil {
		return nil, fmt.Errorf("failed to parse booking end date %s: %w", end, err)
	}
	b.Status = models.BookingStatus(status)
	if paidAt.Valid {
		t := paidAt.Time
		b.PaidAt = &t
	}
	return &b, nil
}

func (q queries) CreateBooking(ctx context.Context, booking *models.Booking) error {
	if booking.ID == "" {
		booking.ID = uuid.NewString()
	}
	if booking.Status == "" {
		booking.Status = models.BookingPending
	}

	query := `INSERT INTO bookings (
				id, listing_id, renter_id, owner_id, start_date, end_date, total_price,
				status, message, paid, version, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	now := time.Now().UTC()
	_, err := q.exec(ctx, query,
		booking.ID,
		booking.ListingID,
		booking.RenterID,
		booking.OwnerID,
		models.FormatDate(booking.StartDate),
		models.FormatDate(booking.EndDate),
		booking.TotalPrice,
		booking.Status,
		booking.Message,
		false,
		1,
		now,
		now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to create booking: %w", err)
	}

	booking.CreatedAt = now
	booking.UpdatedAt = now
	booking.Version = 1
	booking.Paid = false
	return nil
}

func (q queries) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = ?`
	booking, err := scanBooking(q.queryRow(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return booking, nil
}

// UpdateBookingStatusWithVersion applies the status only if the row still has fromVersion.
func (q queries) UpdateBookingStatusWithVersion(ctx context.Context, id string, fromVersion int64, status models.BookingStatus) error {
	query := `UPDATE bookings SET status = ?, version = version + 1, updated_at = ? WHERE id = ? AND version = ?`
	result, err := q.exec(ctx, query, status, time.Now().UTC(), id, fromVersion)
	if err != nil {
		return fmt.Errorf("failed to update booking status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if rows == 0 {
		return ErrConcurrentModification
	}
	return nil
}

// MarkBookingPaid sets the paid flag. It leaves status and version untouched.
func (q queries) MarkBookingPaid(ctx context.Context, id string, paidAt time.Time) error {
	query := `UPDATE bookings SET paid = ?, paid_at = ?, updated_at = ? WHERE id = ?`
	result, err := q.exec(ctx, query, true, paidAt.UTC(), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to mark booking paid: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (q queries) ListBookingsByOwner(ctx context.Context, ownerID string) ([]*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE owner_id = ? ORDER BY created_at DESC, id DESC`
	return q.listBookings(ctx, query, ownerID)
}

func (q queries) ListBookingsByRenter(ctx context.Context, renterID string) ([]*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE renter_id = ? ORDER BY created_at DESC, id DESC`
	return q.listBookings(ctx, query, renterID)
}

// ListApprovedEndingBefore returns approved bookings whose last day is before day.
func (q queries) ListApprovedEndingBefore(ctx context.Context, day time.Time) ([]*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE status = ? AND end_date < ? ORDER BY end_date ASC`
	return q.listBookings(ctx, query, models.BookingApproved, models.FormatDate(day))
}

func (q queries) listBookings(ctx context.Context, query string, args ...any) ([]*models.Booking, error) {
	rows, err := q.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list bookings: %w", err)
	}
	defer rows.Close()

	var bookings []*models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}
