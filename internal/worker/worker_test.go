package worker

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"gearshare/internal/database"
	"gearshare/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func TestProcessTaskSuccess(t *testing.T) {
	db := newTestDB(t)
	provider := &fakeCanceller{}
	worker := NewCompensationWorker(db, provider, nil, RetryPolicy{}, nil)

	ctx := context.Background()
	if err := worker.EnqueueCancelIntent(ctx, "b-1", "pi_1", errors.New("insert failed")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	task, ok := worker.tryLocalQueue()
	if !ok {
		t.Fatalf("expected task in local queue")
	}
	if task.ID == 0 {
		t.Fatalf("expected persisted task")
	}
	worker.processTask(ctx, &task)

	status, retryCount, nextRetry := loadTaskStatus(t, db, task.ID)
	if status != models.TaskStatusCompleted {
		t.Fatalf("expected status=completed, got %s", status)
	}
	if retryCount != 0 {
		t.Fatalf("expected retry_count=0, got %d", retryCount)
	}
	if nextRetry.Valid {
		t.Fatalf("expected next_retry_at NULL on success")
	}
	if got := provider.canceled(); len(got) != 1 || got[0] != "pi_1" {
		t.Fatalf("expected pi_1 canceled, got %v", got)
	}
}

func TestProcessTaskRetry(t *testing.T) {
	db := newTestDB(t)
	provider := &fakeCanceller{err: errors.New("provider down")}
	worker := NewCompensationWorker(db, provider, nil, RetryPolicy{MaxRetries: 3, InitialDelay: time.Second}, nil)

	ctx := context.Background()
	if err := worker.EnqueueCancelIntent(ctx, "b-2", "pi_2", nil); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	task, ok := worker.tryLocalQueue()
	if !ok {
		t.Fatalf("expected task in local queue")
	}
	worker.processTask(ctx, &task)

	status, retryCount, nextRetry := loadTaskStatus(t, db, task.ID)
	if status != models.TaskStatusRetry {
		t.Fatalf("expected status=retry, got %s", status)
	}
	if retryCount != 1 {
		t.Fatalf("expected retry_count=1, got %d", retryCount)
	}
	if !nextRetry.Valid || nextRetry.Time.Before(time.Now()) {
		t.Fatalf("expected next_retry_at in future, got %v", nextRetry)
	}
}

func TestProcessTaskFailGoesToDeadLetter(t *testing.T) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	db := newTestDB(t)
	provider := &fakeCanceller{err: errors.New("fatal")}
	worker := NewCompensationWorker(db, provider, client, RetryPolicy{MaxRetries: 1}, nil)

	ctx := context.Background()
	if err := worker.EnqueueCancelIntent(ctx, "b-3", "pi_3", nil); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	task, ok := worker.tryRedis(ctx)
	if !ok {
		t.Fatalf("expected task in redis queue")
	}
	worker.processTask(ctx, &task)

	status, _, _ := loadTaskStatus(t, db, task.ID)
	if status != models.TaskStatusFailed {
		t.Fatalf("expected status=failed, got %s", status)
	}

	dead, err := s.List(worker.deadLetterKey)
	if err != nil || len(dead) != 1 {
		t.Fatalf("expected one dead letter, got %v (%v)", dead, err)
	}
	var decoded models.CompensationTask
	if err := json.Unmarshal([]byte(dead[0]), &decoded); err != nil {
		t.Fatalf("decode dead letter: %v", err)
	}
	if decoded.BookingID != "b-3" || decoded.LastError == nil {
		t.Fatalf("unexpected dead letter %+v", decoded)
	}
}

func TestEnqueueWithoutStorage(t *testing.T) {
	store := &brokenStore{}
	provider := &fakeCanceller{}
	worker := NewCompensationWorker(store, provider, nil, RetryPolicy{}, nil)

	ctx := context.Background()
	if err := worker.EnqueueCancelIntent(ctx, "b-4", "pi_4", nil); err != nil {
		t.Fatalf("enqueue must fall back to the queue: %v", err)
	}

	task, ok := worker.tryLocalQueue()
	if !ok {
		t.Fatalf("expected task in local queue")
	}
	if task.ID != 0 {
		t.Fatalf("expected queue-only task, got id %d", task.ID)
	}

	worker.processTask(ctx, &task)
	if got := provider.canceled(); len(got) != 1 || got[0] != "pi_4" {
		t.Fatalf("expected pi_4 canceled, got %v", got)
	}
	if store.updates != 0 {
		t.Fatalf("queue-only task must not touch storage, got %d updates", store.updates)
	}
}

func TestQueueOnlyTaskRetryIsRequeued(t *testing.T) {
	store := &brokenStore{}
	provider := &fakeCanceller{err: errors.New("provider down")}
	worker := NewCompensationWorker(store, provider, nil, RetryPolicy{MaxRetries: 3, InitialDelay: time.Hour}, nil)

	ctx := context.Background()
	if err := worker.EnqueueCancelIntent(ctx, "b-5", "pi_5", nil); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	task, _ := worker.tryLocalQueue()
	worker.processTask(ctx, &task)

	requeued, ok := worker.tryLocalQueue()
	if !ok {
		t.Fatalf("expected task to be requeued")
	}
	if requeued.RetryCount != 1 || requeued.NextRetryAt == nil || requeued.Status != models.TaskStatusRetry {
		t.Fatalf("unexpected requeued task %+v", requeued)
	}
}

func TestWorkerStartDrainsQueue(t *testing.T) {
	db := newTestDB(t)
	provider := &fakeCanceller{}
	worker := NewCompensationWorker(db, provider, nil, RetryPolicy{}, nil)
	worker.SetPollInterval(10 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := worker.EnqueueCancelIntent(ctx, "b-6", "pi_6", nil); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	done := make(chan struct{})
	go func() {
		worker.Start(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for len(provider.canceled()) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("worker never processed the task")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done
}

func TestEnqueueValidation(t *testing.T) {
	worker := NewCompensationWorker(&brokenStore{}, &fakeCanceller{}, nil, RetryPolicy{}, nil)
	if err := worker.EnqueueCancelIntent(context.Background(), "b-1", "", nil); err == nil {
		t.Fatalf("expected error for missing intent id")
	}
}

func TestHandleTaskUnknownType(t *testing.T) {
	worker := NewCompensationWorker(&brokenStore{}, &fakeCanceller{}, nil, RetryPolicy{}, nil)
	if err := worker.handleTask(context.Background(), "refund", cancelIntentPayload{IntentID: "pi"}); err == nil {
		t.Fatalf("expected error for unknown task type")
	}
	if err := worker.handleTask(context.Background(), TaskCancelIntent, cancelIntentPayload{}); err == nil {
		t.Fatalf("expected error for missing intent id")
	}
}

func TestDecodePayload(t *testing.T) {
	t.Run("ValidPayload", func(t *testing.T) {
		decoded, err := decodePayload(`{"intent_id":"pi_1","cause":"boom"}`)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if decoded.IntentID != "pi_1" || decoded.Cause != "boom" {
			t.Fatalf("unexpected decoded payload: %+v", decoded)
		}
	})

	t.Run("InvalidPayload", func(t *testing.T) {
		if _, err := decodePayload(`invalid json`); err == nil {
			t.Fatalf("expected error for invalid json")
		}
	})
}

func TestRetryPolicyNextDelay(t *testing.T) {
	policy := RetryPolicy{InitialDelay: time.Second, BackoffFactor: 2, MaxDelay: 5 * time.Second}
	d1 := policy.NextDelay(1)
	d2 := policy.NextDelay(2)
	d3 := policy.NextDelay(5)

	if d1 != time.Second {
		t.Fatalf("attempt1 expected 1s, got %s", d1)
	}
	if d2 != 2*time.Second {
		t.Fatalf("attempt2 expected 2s, got %s", d2)
	}
	if d3 != 5*time.Second {
		t.Fatalf("attempt5 expected capped 5s, got %s", d3)
	}
}

func TestCompletionSweeper(t *testing.T) {
	c := &fakeCompleter{n: 2}
	logger := zerolog.New(io.Discard)
	s := NewCompletionSweeper(c, 10*time.Millisecond, &logger)

	if got := s.RunOnce(context.Background()); got != 2 {
		t.Fatalf("expected 2 completions, got %d", got)
	}

	c.err = errors.New("db down")
	if got := s.RunOnce(context.Background()); got != 2 {
		t.Fatalf("expected partial count 2, got %d", got)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	s.Start(ctx)
	if c.callCount() < 3 {
		t.Fatalf("expected sweeper to run on start and tick, got %d calls", c.callCount())
	}

	if NewCompletionSweeper(c, 0, nil).interval != time.Hour {
		t.Fatalf("expected hourly default interval")
	}
}

// Helpers

type fakeCanceller struct {
	mu    sync.Mutex
	err   error
	calls []string
}

func (f *fakeCanceller) CancelIntent(ctx context.Context, intentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, intentID)
	return nil
}

func (f *fakeCanceller) canceled() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type brokenStore struct {
	updates int
}

func (b *brokenStore) CreateCompensationTask(ctx context.Context, task *models.CompensationTask) error {
	return errors.New("database is locked")
}

func (b *brokenStore) GetPendingCompensationTasks(ctx context.Context, limit int) ([]models.CompensationTask, error) {
	return nil, errors.New("database is locked")
}

func (b *brokenStore) UpdateCompensationTaskStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error {
	b.updates++
	return errors.New("database is locked")
}

type fakeCompleter struct {
	mu    sync.Mutex
	n     int
	err   error
	calls int
}

func (f *fakeCompleter) CompleteElapsed(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.n, f.err
}

func (f *fakeCompleter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "worker.db")
	logger := zerolog.New(io.Discard)
	db, err := database.NewDB(path, &logger)
	if err != nil {
		t.Fatalf("new db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func loadTaskStatus(t *testing.T, db *database.DB, id int64) (status string, retryCount int, nextRetry sql.NullTime) {
	t.Helper()
	row := db.QueryRowContext(context.Background(), `SELECT status, retry_count, next_retry_at FROM compensation_tasks WHERE id = ?`, id)
	if err := row.Scan(&status, &retryCount, &nextRetry); err != nil {
		t.Fatalf("scan task: %v", err)
	}
	return status, retryCount, nextRetry
}

func TestRetryPolicyDefaults(t *testing.T) {
	p := RetryPolicy{}.withDefaults()
	if p.MaxRetries != 5 || p.InitialDelay != 2*time.Second || p.MaxDelay != time.Minute || p.BackoffFactor != 2 {
		t.Fatalf("unexpected defaults: %+v", p)
	}
	if p.Exhausted(4) {
		t.Fatalf("attempt 4 of 5 should not be exhausted")
	}
	if !p.Exhausted(5) {
		t.Fatalf("attempt 5 of 5 should be exhausted")
	}

	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	if got := p.NextAttemptAt(now, 2); !got.Equal(now.Add(4 * time.Second)) {
		t.Fatalf("unexpected next attempt: %s", got)
	}
	if got := p.NextDelay(30); got != time.Minute {
		t.Fatalf("expected delay capped at 1m, got %s", got)
	}
}
