package locking

import (
	"context"
	"fmt"
	"sync"
)

// MemoryLocker serializes holders of the same key within this process.
type MemoryLocker struct {
	locks sync.Map
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{}
}

func (m *MemoryLocker) Acquire(ctx context.Context, key string) (func(), error) {
	val, _ := m.locks.LoadOrStore(key, make(chan struct{}, 1))
	slot := val.(chan struct{})

	select {
	case slot <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %s", ErrNotAcquired, key)
	}

	var once sync.Once
	return func() {
		once.Do(func() { <-slot })
	}, nil
}
