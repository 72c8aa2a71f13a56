// Package queue реализует очередь повторов журнала операций.
// Операции, не дошедшие до бэкенда, хранятся durable с метаданными
// экспоненциального backoff; после исчерпания retry budget операция
// перемещается в dead-letter store и больше не повторяется автоматически.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/iudanet/fieldsync/internal/client/storage"
	"github.com/iudanet/fieldsync/internal/models"
)

// Config задает расписание повторов.
// Дефолты дают ряд задержек 1s, 2s, 4s, 8s, 16s, 32s, 60s (cap).
// Бюджет в 10 попыток — определение "перманентно провалилось" для
// single-user системы с малым трафиком, а не для high-throughput брокера.
type Config struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	MaxAttempts  int
}

// DefaultConfig возвращает расписание по умолчанию
func DefaultConfig() Config {
	return Config{
		InitialDelay: time.Second,
		MaxDelay:     60 * time.Second,
		MaxAttempts:  10,
	}
}

// Delay возвращает backoff задержку для заданного номера попытки:
// min(InitialDelay * 2^attempts, MaxDelay)
func (c Config) Delay(attempts int) time.Duration {
	d := c.InitialDelay
	for i := 0; i < attempts; i++ {
		d *= 2
		if d >= c.MaxDelay {
			return c.MaxDelay
		}
	}
	if d > c.MaxDelay {
		return c.MaxDelay
	}
	return d
}

// Queue управляет очередью повторов поверх durable storage
type Queue struct {
	now    func() time.Time
	store  storage.QueueStorage
	logger *slog.Logger
	cfg    Config
}

// New creates a new retry queue
func New(cfg Config, store storage.QueueStorage, logger *slog.Logger) *Queue {
	return &Queue{
		cfg:    cfg,
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// EnqueueFailure регистрирует неудачную отправку операции.
// Счетчик попыток продолжается с существующей записи той же операции;
// после MaxAttempts неудач операция перемещается в dead-letter store
// (терминально, видимо оператору) вместо повторной постановки.
func (q *Queue) EnqueueFailure(ctx context.Context, op *models.Operation, errMsg string) error {
	now := q.now()

	attempts := 0
	addedAt := now

	existing, err := q.store.GetRetryItem(ctx, op.Sequence)
	switch {
	case err == nil:
		attempts = existing.Attempts + 1
		addedAt = existing.AddedAt
	case errors.Is(err, storage.ErrQueueItemNotFound):
		// Первый провал этой операции
	default:
		return fmt.Errorf("failed to look up retry item: %w", err)
	}

	if attempts+1 >= q.cfg.MaxAttempts {
		return q.moveToDeadLetter(ctx, op, errMsg, attempts+1, addedAt)
	}

	delay := q.cfg.Delay(attempts)
	item := &models.RetryQueueItem{
		Operation:   *op.Clone(),
		Attempts:    attempts,
		Error:       errMsg,
		AddedAt:     addedAt,
		LastAttempt: now,
		NextRetry:   now.Add(delay),
	}

	if err := q.store.PutRetryItem(ctx, item); err != nil {
		return fmt.Errorf("failed to enqueue retry item: %w", err)
	}

	q.logger.Warn("operation queued for retry",
		"sequence", op.Sequence,
		"type", op.Type,
		"attempts", attempts,
		"next_retry_in", delay,
		"error", errMsg)

	return nil
}

// moveToDeadLetter перемещает операцию в dead-letter store
func (q *Queue) moveToDeadLetter(ctx context.Context, op *models.Operation, errMsg string, attempts int, addedAt time.Time) error {
	item := &models.DeadLetterItem{
		Operation: *op.Clone(),
		Attempts:  attempts,
		Error:     errMsg,
		AddedAt:   addedAt,
		FailedAt:  q.now(),
	}

	if err := q.store.PutDeadLetter(ctx, item); err != nil {
		return fmt.Errorf("failed to store dead letter: %w", err)
	}
	if err := q.store.DeleteRetryItem(ctx, op.Sequence); err != nil {
		return fmt.Errorf("failed to remove exhausted retry item: %w", err)
	}

	q.logger.Error("operation permanently failed, moved to dead letter store",
		"sequence", op.Sequence,
		"type", op.Type,
		"attempts", attempts,
		"error", errMsg)

	return nil
}

// ReadyForRetry возвращает операции, чье время повтора наступило,
// упорядоченные по возрастанию sequence (oldest-first), чтобы сохранить
// causal порядок применения на принимающей стороне.
func (q *Queue) ReadyForRetry(ctx context.Context) ([]*models.RetryQueueItem, error) {
	items, err := q.store.ListRetryItems(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list retry items: %w", err)
	}

	now := q.now()
	ready := make([]*models.RetryQueueItem, 0, len(items))
	for _, item := range items {
		if !item.NextRetry.After(now) {
			ready = append(ready, item)
		}
	}

	return ready, nil
}

// RemoveOnSuccess удаляет запись очереди после успешной отправки
func (q *Queue) RemoveOnSuccess(ctx context.Context, sequence int64) error {
	if err := q.store.DeleteRetryItem(ctx, sequence); err != nil {
		return fmt.Errorf("failed to remove retry item: %w", err)
	}
	return nil
}

// Stats возвращает статистику очереди для панели состояния
func (q *Queue) Stats(ctx context.Context) (*models.QueueStats, error) {
	items, err := q.store.ListRetryItems(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list retry items: %w", err)
	}

	now := q.now()
	stats := &models.QueueStats{Total: len(items)}

	for _, item := range items {
		if item.NextRetry.After(now) {
			stats.Waiting++
		} else {
			stats.Ready++
		}
		if stats.OldestRetry == nil || item.NextRetry.Before(*stats.OldestRetry) {
			retry := item.NextRetry
			stats.OldestRetry = &retry
		}
	}

	return stats, nil
}

// Clear сбрасывает все записи очереди повторов.
// Операторский escape hatch; dead-letter записи не затрагиваются.
func (q *Queue) Clear(ctx context.Context) error {
	if err := q.store.ClearRetryItems(ctx); err != nil {
		return fmt.Errorf("failed to clear retry queue: %w", err)
	}
	q.logger.Warn("retry queue cleared")
	return nil
}

// DeadLetters возвращает перманентно провалившиеся операции
// для ручной инспекции оператором
func (q *Queue) DeadLetters(ctx context.Context) ([]*models.DeadLetterItem, error) {
	items, err := q.store.ListDeadLetters(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", err)
	}
	return items, nil
}
