package service

import (
	"context"
	"errors"
	"time"

	"gearshare/internal/database"
	"gearshare/internal/domain"
	"gearshare/internal/locking"
)

// storageError maps repository failures onto the error kinds. Errors that
// already carry a kind pass through unchanged.
func storageError(err error, what string) error {
	if err == nil {
		return nil
	}
	var de *domain.Error
	if errors.As(err, &de) {
		return err
	}

	switch {
	case errors.Is(err, database.ErrNotFound):
		return domain.Wrap(domain.KindNotFound, err, what+" not found")
	case errors.Is(err, database.ErrConcurrentModification):
		return domain.Wrap(domain.KindConflict, err, what+" was modified concurrently, retry the request")
	case errors.Is(err, database.ErrDuplicate):
		return domain.Wrap(domain.KindConflict, err, what+" already exists")
	case errors.Is(err, context.DeadlineExceeded):
		return domain.Wrap(domain.KindInternal, err, "storage timed out")
	default:
		return domain.Wrap(domain.KindInternal, err, "storage failure")
	}
}

func lockError(err error) error {
	if errors.Is(err, locking.ErrNotAcquired) || errors.Is(err, context.DeadlineExceeded) {
		return domain.Wrap(domain.KindConflict, err, "listing is busy, retry the request")
	}
	return domain.Wrap(domain.KindInternal, err, "failed to lock listing")
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
