package locking

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"gearshare/internal/domain"

	"github.com/rs/zerolog"
)

const recoveryInterval = time.Minute

// FailoverLocker uses primary while it is reachable and fallback otherwise.
// After a failure the primary is retried once per recoveryInterval.
type FailoverLocker struct {
	primary  domain.Locker
	fallback domain.Locker
	logger   *zerolog.Logger

	isDown    atomic.Bool
	mu        sync.Mutex
	lastCheck time.Time
}

func NewFailoverLocker(primary, fallback domain.Locker, logger *zerolog.Logger) *FailoverLocker {
	return &FailoverLocker{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

func (f *FailoverLocker) Acquire(ctx context.Context, key string) (func(), error) {
	if f.shouldTryPrimary() {
		release, err := f.primary.Acquire(ctx, key)
		if err == nil {
			if f.isDown.CompareAndSwap(true, false) {
				f.logger.Info().Msg("primary locker recovered")
			}
			return release, nil
		}
		if errors.Is(err, ErrNotAcquired) {
			return nil, err
		}
		f.logger.Error().Err(err).Str("key", key).Msg("primary locker failed, falling back to memory")
		f.markDown()
	}

	return f.fallback.Acquire(ctx, key)
}

func (f *FailoverLocker) shouldTryPrimary() bool {
	if !f.isDown.Load() {
		return true
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if time.Since(f.lastCheck) > recoveryInterval {
		f.lastCheck = time.Now()
		return true
	}
	return false
}

func (f *FailoverLocker) markDown() {
	f.mu.Lock()
	f.lastCheck = time.Now()
	f.mu.Unlock()
	f.isDown.Store(true)
}
