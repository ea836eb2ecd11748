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

const paymentColumns = `id, booking_id, external_intent_id, amount, platform_fee, owner_amount,
                 currency, status, created_at, updated_at`

func scanPayment(row rowScanner) (*models.Payment, error) {
	var p models.Payment
	var status string
	err := row.Scan(
		&p.ID, &p.BookingID, &p.ExternalIntentID, &p.Amount, &p.PlatformFee, &p.OwnerAmount,
		&p.Currency, &status, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Status = models.PaymentStatus(status)
	return &p, nil
}

func (q queries) CreatePayment(ctx context.Context, payment *models.Payment) error {
	if payment.ID == "" {
		payment.ID = uuid.NewString()
	}
	if payment.Status == "" {
		payment.Status = models.PaymentPending
	}

	query := `INSERT INTO payments (
				id, booking_id, external_intent_id, amount, platform_fee, owner_amount,
				currency, status, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	now := time.Now().UTC()
	_, err := q.exec(ctx, query,
		payment.ID,
		payment.BookingID,
		payment.ExternalIntentID,
		payment.Amount,
		payment.PlatformFee,
		payment.OwnerAmount,
		payment.Currency,
		payment.Status,
		now,
		now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to create payment: %w", err)
	}

	payment.CreatedAt = now
	payment.UpdatedAt = now
	return nil
}

func (q queries) GetPaymentByIntentID(ctx context.Context, intentID string) (*models.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE external_intent_id = ?`
	payment, err := scanPayment(q.queryRow(ctx, query, intentID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return payment, nil
}

func (q queries) UpdatePaymentStatus(ctx context.Context, id string, status models.PaymentStatus) error {
	query := `UPDATE payments SET status = ?, updated_at = ? WHERE id = ?`
	result, err := q.exec(ctx, query, status, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update payment status: %w", err)
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

func (q queries) ListPaymentsByBooking(ctx context.Context, bookingID string) ([]*models.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE booking_id = ? ORDER BY created_at ASC, id ASC`
	rows, err := q.query(ctx, query, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	defer rows.Close()

	var payments []*models.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}
