package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gearshare/internal/models"
)

// IsRangeAvailable is true when no day of [start, end] carries an explicit unavailable entry.
func (q queries) IsRangeAvailable(ctx context.Context, listingID string, start, end time.Time) (bool, error) {
	if models.DateOf(end).Before(models.DateOf(start)) {
		return false, fmt.Errorf("invalid range: end %s before start %s", models.FormatDate(end), models.FormatDate(start))
	}

	query := `SELECT COUNT(*) FROM availability
              WHERE listing_id = ? AND date >= ? AND date <= ? AND is_available = ?`
	var blocked int
	err := q.queryRow(ctx, query, listingID, models.FormatDate(start), models.FormatDate(end), false).Scan(&blocked)
	if err != nil {
		return false, fmt.Errorf("failed to check availability: %w", err)
	}
	return blocked == 0, nil
}

// BlockRange marks every day of [start, end] unavailable in one statement.
// Blocking an already blocked day is a no-op.
func (q queries) BlockRange(ctx context.Context, listingID string, start, end time.Time) error {
	dates := models.DatesInRange(start, end)
	if len(dates) == 0 {
		return fmt.Errorf("invalid range: end %s before start %s", models.FormatDate(end), models.FormatDate(start))
	}

	now := time.Now().UTC()
	values := make([]string, 0, len(dates))
	args := make([]any, 0, len(dates)*4)
	for _, d := range dates {
		values = append(values, "(?, ?, ?, ?)")
		args = append(args, listingID, models.FormatDate(d), false, now)
	}

	query := `INSERT INTO availability (listing_id, date, is_available, created_at) VALUES ` +
		strings.Join(values, ", ") +
		` ON CONFLICT (listing_id, date) DO UPDATE SET is_available = excluded.is_available`
	if _, err := q.exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to block range: %w", err)
	}
	return nil
}

// UnblockRange removes the entries of [start, end], making those days available again.
func (q queries) UnblockRange(ctx context.Context, listingID string, start, end time.Time) error {
	query := `DELETE FROM availability WHERE listing_id = ? AND date >= ? AND date <= ?`
	if _, err := q.exec(ctx, query, listingID, models.FormatDate(start), models.FormatDate(end)); err != nil {
		return fmt.Errorf("failed to unblock range: %w", err)
	}
	return nil
}

// BlockedDates lists the unavailable days of a listing within [from, to], ascending.
func (q queries) BlockedDates(ctx context.Context, listingID string, from, to time.Time) ([]time.Time, error) {
	query := `SELECT date FROM availability
              WHERE listing_id = ? AND date >= ? AND date <= ? AND is_available = ?
              ORDER BY date ASC`
	rows, err := q.query(ctx, query, listingID, models.FormatDate(from), models.FormatDate(to), false)
	if err != nil {
		return nil, fmt.Errorf("failed to get blocked dates: %w", err)
	}
	defer rows.Close()

	var dates []time.Time
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan blocked date: %w", err)
		}
		d, err := models.ParseDate(raw)
		if err != nil {
			return nil, err
		}
		dates = append(dates, d)
	}
	return dates, rows.Err()
}
