package database

import (
	"context"
	"fmt"
	"time"

	"gearshare/internal/models"
)

const taskColumns = `id, task_type, booking_id, payload, status, retry_count, last_error, created_at, processed_at, next_retry_at`

func (db *DB) CreateCompensationTask(ctx context.Context, task *models.CompensationTask) error {
	query := `INSERT INTO compensation_tasks (task_type, booking_id, payload, status, retry_count, last_error, created_at, next_retry_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`
	now := time.Now().UTC()
	err := db.queryRow(ctx, query,
		task.TaskType,
		task.BookingID,
		task.Payload,
		task.Status,
		task.RetryCount,
		task.LastError,
		now,
		task.NextRetryAt,
	).Scan(&task.ID)
	if err != nil {
		return fmt.Errorf("failed to create compensation task: %w", err)
	}
	task.CreatedAt = now
	return nil
}

func (db *DB) GetPendingCompensationTasks(ctx context.Context, limit int) ([]models.CompensationTask, error) {
	query := `SELECT ` + taskColumns + `
              FROM compensation_tasks
              WHERE status IN (?, ?) AND (next_retry_at IS NULL OR next_retry_at <= ?)
              ORDER BY created_at ASC LIMIT ?`
	return db.listTasks(ctx, query, models.TaskStatusPending, models.TaskStatusRetry, time.Now().UTC(), limit)
}

func (db *DB) GetFailedCompensationTasks(ctx context.Context) ([]models.CompensationTask, error) {
	query := `SELECT ` + taskColumns + ` FROM compensation_tasks WHERE status = ? ORDER BY created_at DESC`
	return db.listTasks(ctx, query, models.TaskStatusFailed)
}

func (db *DB) UpdateCompensationTaskStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error {
	var query string
	var args []any
	now := time.Now().UTC()

	switch status {
	case models.TaskStatusRetry:
		query = `UPDATE compensation_tasks SET status = ?, last_error = ?, next_retry_at = ?, retry_count = retry_count + 1 WHERE id = ?`
		args = []any{status, errMsg, nextRetryAt, id}
	case models.TaskStatusCompleted, models.TaskStatusFailed:
		query = `UPDATE compensation_tasks SET status = ?, last_error = ?, next_retry_at = ?, processed_at = ? WHERE id = ?`
		args = []any{status, errMsg, nextRetryAt, now, id}
	default:
		query = `UPDATE compensation_tasks SET status = ?, last_error = ?, next_retry_at = ? WHERE id = ?`
		args = []any{status, errMsg, nextRetryAt, id}
	}

	if _, err := db.exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update compensation task status: %w", err)
	}
	return nil
}

func (db *DB) listTasks(ctx context.Context, query string, args ...any) ([]models.CompensationTask, error) {
	rows, err := db.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list compensation tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.CompensationTask
	for rows.Next() {
		var t models.CompensationTask
		err := rows.Scan(
			&t.ID, &t.TaskType, &t.BookingID, &t.Payload, &t.Status, &t.RetryCount, &t.LastError, &t.CreatedAt, &t.ProcessedAt, &t.NextRetryAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan compensation task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}
