package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gearshare/internal/metrics"
	"gearshare/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const TaskCancelIntent = "cancel_intent"

// TaskStore persists compensation tasks.
type TaskStore interface {
	CreateCompensationTask(ctx context.Context, task *models.CompensationTask) error
	GetPendingCompensationTasks(ctx context.Context, limit int) ([]models.CompensationTask, error)
	UpdateCompensationTaskStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error
}

// IntentCanceller voids a payment intent at the provider.
type IntentCanceller interface {
	CancelIntent(ctx context.Context, intentID string) error
}

// cancelIntentPayload is persisted in CompensationTask.Payload as JSON.
type cancelIntentPayload struct {
	IntentID string `json:"intent_id"`
	Cause    string `json:"cause,omitempty"`
}

// CompensationWorker voids provider intents that were created without a local
// payment row. Tasks are persisted when storage allows and always scheduled
// through redis or the in-memory queue.
type CompensationWorker struct {
	store         TaskStore
	provider      IntentCanceller
	redis         *redis.Client
	retryPolicy   RetryPolicy
	queue         chan models.CompensationTask
	redisQueueKey string
	deadLetterKey string
	pollInterval  time.Duration
	callTimeout   time.Duration
	batchSize     int
	logger        *zerolog.Logger
}

// NewCompensationWorker fills zero retry fields with defaults.
func NewCompensationWorker(store TaskStore, provider IntentCanceller, redisClient *redis.Client, retry RetryPolicy, logger *zerolog.Logger) *CompensationWorker {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	return &CompensationWorker{
		store:         store,
		provider:      provider,
		redis:         redisClient,
		retryPolicy:   retry.withDefaults(),
		queue:         make(chan models.CompensationTask, 128),
		redisQueueKey: "gearshare:compensation:queue",
		deadLetterKey: "gearshare:compensation:deadletter",
		pollInterval:  2 * time.Second,
		callTimeout:   10 * time.Second,
		batchSize:     20,
		logger:        logger,
	}
}

// SetPollInterval overrides how long the loop idles when every queue is empty.
func (w *CompensationWorker) SetPollInterval(d time.Duration) {
	if d > 0 {
		w.pollInterval = d
	}
}

// EnqueueCancelIntent schedules the voiding of intentID. The task survives a
// storage outage as long as redis or the in-memory queue accepts it.
func (w *CompensationWorker) EnqueueCancelIntent(ctx context.Context, bookingID, intentID string, cause error) error {
	if intentID == "" {
		return errors.New("intent id is required")
	}

	payload := cancelIntentPayload{IntentID: intentID}
	if cause != nil {
		payload.Cause = cause.Error()
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	task := models.CompensationTask{
		TaskType:  TaskCancelIntent,
		BookingID: bookingID,
		Payload:   string(payloadBytes),
		Status:    models.TaskStatusPending,
		CreatedAt: time.Now().UTC(),
	}

	if err := w.store.CreateCompensationTask(ctx, &task); err != nil {
		w.logger.Warn().Err(err).Str("intent_id", intentID).Msg("compensation task not persisted, queue only")
		task.ID = 0
	}

	return w.schedule(ctx, task)
}

func (w *CompensationWorker) schedule(ctx context.Context, task models.CompensationTask) error {
	if w.redis != nil {
		if err := w.pushRedis(ctx, w.redisQueueKey, task); err != nil {
			w.logger.Warn().Err(err).Msg("redis push failed, fallback to memory queue")
		} else {
			return nil
		}
	}

	select {
	case w.queue <- task:
		return nil
	default:
	}

	if task.ID != 0 {
		w.logger.Warn().Int64("task_id", task.ID).Msg("in-memory queue full, task left to polling")
		return nil
	}
	return errors.New("compensation task could not be scheduled")
}

// Start launches main loop; stops when ctx is done.
func (w *CompensationWorker) Start(ctx context.Context) {
	w.logger.Info().Msg("compensation worker started")
	defer w.logger.Info().Msg("compensation worker stopped")

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if t, ok := w.tryLocalQueue(); ok {
			w.processTask(ctx, &t)
			continue
		}

		if t, ok := w.tryRedis(ctx); ok {
			w.processTask(ctx, &t)
			continue
		}

		tasks, err := w.store.GetPendingCompensationTasks(ctx, w.batchSize)
		if err != nil {
			w.logger.Error().Err(err).Msg("fetch pending compensation tasks")
			w.idle(ctx)
			continue
		}
		if len(tasks) == 0 {
			w.idle(ctx)
			continue
		}

		for i := range tasks {
			w.processTask(ctx, &tasks[i])
		}
	}
}

func (w *CompensationWorker) idle(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(w.pollInterval):
	}
}

func (w *CompensationWorker) tryLocalQueue() (models.CompensationTask, bool) {
	select {
	case t := <-w.queue:
		return t, true
	default:
		return models.CompensationTask{}, false
	}
}

func (w *CompensationWorker) tryRedis(ctx context.Context) (models.CompensationTask, bool) {
	if w.redis == nil {
		return models.CompensationTask{}, false
	}
	res, err := w.redis.BRPop(ctx, time.Second, w.redisQueueKey).Result()
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, redis.Nil) {
			return models.CompensationTask{}, false
		}
		w.logger.Error().Err(err).Msg("redis BRPOP error")
		return models.CompensationTask{}, false
	}
	if len(res) != 2 {
		return models.CompensationTask{}, false
	}
	var task models.CompensationTask
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		w.logger.Error().Err(err).Msg("decode redis compensation task")
		return models.CompensationTask{}, false
	}
	return task, true
}

func (w *CompensationWorker) processTask(ctx context.Context, task *models.CompensationTask) {
	// Queue-only tasks carry their own schedule.
	if task.ID == 0 && task.NextRetryAt != nil && time.Now().UTC().Before(*task.NextRetryAt) {
		if err := w.schedule(ctx, *task); err != nil {
			w.logger.Error().Err(err).Str("booking_id", task.BookingID).Msg("requeue compensation task")
		}
		w.idle(ctx)
		return
	}

	payload, err := decodePayload(task.Payload)
	if err != nil {
		w.failTask(ctx, task, fmt.Errorf("decode payload: %w", err))
		return
	}

	if err := w.handleTask(ctx, task.TaskType, payload); err != nil {
		w.retryOrFail(ctx, task, err)
		return
	}

	metrics.IncCompensation(models.TaskStatusCompleted)
	w.logger.Info().Str("booking_id", task.BookingID).Str("intent_id", payload.IntentID).Msg("orphaned payment intent canceled")
	if task.ID == 0 {
		return
	}
	if err := w.store.UpdateCompensationTaskStatus(ctx, task.ID, models.TaskStatusCompleted, "", nil); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("mark compensation task completed")
	}
}

func (w *CompensationWorker) handleTask(ctx context.Context, taskType string, payload cancelIntentPayload) error {
	switch taskType {
	case TaskCancelIntent:
		if payload.IntentID == "" {
			return errors.New("intent id missing")
		}
		callCtx, cancel := context.WithTimeout(ctx, w.callTimeout)
		defer cancel()
		return w.provider.CancelIntent(callCtx, payload.IntentID)
	default:
		return fmt.Errorf("unknown task type: %s", taskType)
	}
}

func (w *CompensationWorker) retryOrFail(ctx context.Context, task *models.CompensationTask, cause error) {
	attempt := task.RetryCount + 1
	if w.retryPolicy.Exhausted(attempt) {
		w.failTask(ctx, task, cause)
		return
	}

	metrics.IncCompensation(models.TaskStatusRetry)
	nextTime := w.retryPolicy.NextAttemptAt(time.Now(), attempt)
	w.logger.Warn().Err(cause).Str("booking_id", task.BookingID).Int("attempt", attempt).Time("next_retry_at", nextTime).Msg("compensation task will be retried")

	if task.ID == 0 {
		task.RetryCount = attempt
		task.Status = models.TaskStatusRetry
		msg := cause.Error()
		task.LastError = &msg
		task.NextRetryAt = &nextTime
		if err := w.schedule(ctx, *task); err != nil {
			w.logger.Error().Err(err).Str("booking_id", task.BookingID).Msg("requeue compensation task")
		}
		return
	}
	if err := w.store.UpdateCompensationTaskStatus(ctx, task.ID, models.TaskStatusRetry, cause.Error(), &nextTime); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("mark compensation task retry")
	}
}

func (w *CompensationWorker) failTask(ctx context.Context, task *models.CompensationTask, cause error) {
	metrics.IncCompensation(models.TaskStatusFailed)
	w.logger.Error().Err(cause).Str("booking_id", task.BookingID).Int64("task_id", task.ID).Msg("compensation task failed")

	if task.ID != 0 {
		if err := w.store.UpdateCompensationTaskStatus(ctx, task.ID, models.TaskStatusFailed, cause.Error(), nil); err != nil {
			w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("mark compensation task failed")
		}
	}
	task.Status = models.TaskStatusFailed
	msg := cause.Error()
	task.LastError = &msg
	w.pushDeadLetter(ctx, task)
}

func decodePayload(raw string) (cancelIntentPayload, error) {
	var payload cancelIntentPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return payload, err
	}
	return payload, nil
}

func (w *CompensationWorker) pushRedis(ctx context.Context, key string, task models.CompensationTask) error {
	if w.redis == nil {
		return errors.New("redis client is nil")
	}
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return w.redis.LPush(ctx, key, data).Err()
}

func (w *CompensationWorker) pushDeadLetter(ctx context.Context, task *models.CompensationTask) {
	if w.redis == nil {
		return
	}
	if err := w.pushRedis(ctx, w.deadLetterKey, *task); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("deadletter push failed")
	}
}
