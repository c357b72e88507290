package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"leihsy/internal/database"
	"leihsy/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	TaskUpsert       = "upsert"
	TaskDelete       = "delete"
	TaskUpdateStatus = "update_status"
)

// syncTaskPayload is persisted in SyncTask.Payload as JSON.
type syncTaskPayload struct {
	BookingID int64           `json:"booking_id"`
	Booking   *models.Booking `json:"booking,omitempty"`
	Status    string          `json:"status,omitempty"`
}

// MirrorClient applies booking changes to the reporting mirror.
type MirrorClient interface {
	UpsertBooking(*models.Booking) error
	DeleteBookingRow(int64) error
	UpdateBookingStatus(int64, string) error
}

// SyncWorker drains the sync_queue into the reporting mirror. The sqlite
// row is the durable record; redis is a hot path so tasks usually run
// without waiting for the poll interval, and an in-memory channel covers
// the no-redis deployment.
type SyncWorker struct {
	db            *database.DB
	mirror        MirrorClient
	redis         *redis.Client
	retryPolicy   RetryPolicy
	queue         chan models.SyncTask
	redisQueueKey string
	deadLetterKey string
	pollInterval  time.Duration
	batchSize     int
	logger        *zerolog.Logger
}

func NewSyncWorker(db *database.DB, mirror MirrorClient, redisClient *redis.Client, retry RetryPolicy, logger *zerolog.Logger) *SyncWorker {
	if retry.MaxRetries == 0 {
		retry.MaxRetries = 5
	}
	if retry.InitialDelay == 0 {
		retry.InitialDelay = 2 * time.Second
	}
	if retry.MaxDelay == 0 {
		retry.MaxDelay = 1 * time.Minute
	}
	if retry.BackoffFactor == 0 {
		retry.BackoffFactor = 2
	}

	return &SyncWorker{
		db:            db,
		mirror:        mirror,
		redis:         redisClient,
		retryPolicy:   retry,
		queue:         make(chan models.SyncTask, 128),
		redisQueueKey: "leihsy:sync:queue",
		deadLetterKey: "leihsy:sync:deadletter",
		pollInterval:  2 * time.Second,
		batchSize:     20,
		logger:        logger,
	}
}

// EnqueueTask persists the task and schedules it via redis or the
// in-memory queue. Satisfies domain.SyncWorker.
func (w *SyncWorker) EnqueueTask(ctx context.Context, taskType string, booking *models.Booking, status string) error {
	if taskType == "" {
		return errors.New("task type is required")
	}
	if booking == nil || booking.ID == 0 {
		return errors.New("booking id is required")
	}

	payload := syncTaskPayload{
		BookingID: booking.ID,
		Booking:   booking,
		Status:    status,
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	syncTask := models.SyncTask{
		TaskType:  taskType,
		BookingID: booking.ID,
		Payload:   string(payloadBytes),
		Status:    "pending",
		CreatedAt: time.Now(),
	}

	if err := w.db.CreateSyncTask(ctx, &syncTask); err != nil {
		return fmt.Errorf("persist sync task: %w", err)
	}

	if w.redis != nil {
		if err := w.pushRedis(ctx, syncTask); err != nil {
			w.logger.Warn().Err(err).Msg("sync worker: redis push failed, fallback to memory queue")
		} else {
			return nil
		}
	}

	select {
	case w.queue <- syncTask:
	default:
		w.logger.Warn().Int64("task_id", syncTask.ID).Msg("sync worker: memory queue full, task left to polling")
	}

	return nil
}

// Start launches the main loop; stops when ctx is done.
func (w *SyncWorker) Start(ctx context.Context) {
	w.logger.Info().Msg("sync worker started")
	defer w.logger.Info().Msg("sync worker stopped")

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

		tasks, err := w.db.GetPendingSyncTasks(ctx, w.batchSize)
		if err != nil {
			w.logger.Error().Err(err).Msg("sync worker: fetch pending")
			time.Sleep(w.pollInterval)
			continue
		}
		if len(tasks) == 0 {
			time.Sleep(w.pollInterval)
			continue
		}

		for i := range tasks {
			w.processTask(ctx, &tasks[i])
		}
	}
}

func (w *SyncWorker) tryLocalQueue() (models.SyncTask, bool) {
	select {
	case t := <-w.queue:
		return t, true
	default:
		return models.SyncTask{}, false
	}
}

func (w *SyncWorker) tryRedis(ctx context.Context) (models.SyncTask, bool) {
	if w.redis == nil {
		return models.SyncTask{}, false
	}
	res, err := w.redis.BRPop(ctx, time.Second, w.redisQueueKey).Result()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, redis.Nil) {
			return models.SyncTask{}, false
		}
		w.logger.Error().Err(err).Msg("sync worker: redis BRPOP error")
		return models.SyncTask{}, false
	}
	if len(res) != 2 {
		return models.SyncTask{}, false
	}
	var task models.SyncTask
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		w.logger.Error().Err(err).Msg("sync worker: decode redis task")
		return models.SyncTask{}, false
	}
	return task, true
}

func (w *SyncWorker) processTask(ctx context.Context, task *models.SyncTask) {
	payload, err := w.decodePayload(task.Payload)
	if err != nil {
		w.failTask(ctx, task, fmt.Errorf("decode payload: %w", err))
		return
	}

	if err := w.handleTask(payload, task.TaskType); err != nil {
		w.retryOrFail(ctx, task, err)
		return
	}

	if err := w.db.UpdateSyncTaskStatus(ctx, task.ID, "completed", "", nil); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("sync worker: mark completed")
	}
}

func (w *SyncWorker) handleTask(payload syncTaskPayload, taskType string) error {
	switch taskType {
	case TaskUpsert:
		if payload.Booking == nil {
			return errors.New("booking payload missing")
		}
		return w.mirror.UpsertBooking(payload.Booking)
	case TaskDelete:
		if payload.BookingID == 0 {
			return errors.New("booking id missing")
		}
		return w.mirror.DeleteBookingRow(payload.BookingID)
	case TaskUpdateStatus:
		if payload.BookingID == 0 || payload.Status == "" {
			return errors.New("booking id or status missing")
		}
		return w.mirror.UpdateBookingStatus(payload.BookingID, payload.Status)
	default:
		return fmt.Errorf("unknown task type: %s", taskType)
	}
}

func (w *SyncWorker) retryOrFail(ctx context.Context, task *models.SyncTask, cause error) {
	attempt := task.RetryCount + 1
	if attempt >= w.retryPolicy.MaxRetries {
		if err := w.db.UpdateSyncTaskStatus(ctx, task.ID, "failed", cause.Error(), nil); err != nil {
			w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("sync worker: mark failed")
		}
		w.pushDeadLetter(ctx, task)
		return
	}

	nextTime := time.Now().Add(w.retryPolicy.NextDelay(attempt))
	if err := w.db.UpdateSyncTaskStatus(ctx, task.ID, "retry", cause.Error(), &nextTime); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("sync worker: mark retry")
	}
}

func (w *SyncWorker) failTask(ctx context.Context, task *models.SyncTask, cause error) {
	if err := w.db.UpdateSyncTaskStatus(ctx, task.ID, "failed", cause.Error(), nil); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("sync worker: mark failed")
	}
	w.pushDeadLetter(ctx, task)
}

func (w *SyncWorker) decodePayload(raw string) (syncTaskPayload, error) {
	var payload syncTaskPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return payload, err
	}
	return payload, nil
}

func (w *SyncWorker) pushRedis(ctx context.Context, task models.SyncTask) error {
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return w.redis.LPush(ctx, w.redisQueueKey, data).Err()
}

func (w *SyncWorker) pushDeadLetter(ctx context.Context, task *models.SyncTask) {
	if w.redis == nil {
		return
	}
	data, err := json.Marshal(task)
	if err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("sync worker: encode deadletter")
		return
	}
	if err := w.redis.LPush(ctx, w.deadLetterKey, data).Err(); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("sync worker: deadletter push")
	}
}
