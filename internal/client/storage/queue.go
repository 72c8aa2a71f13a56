package storage

import (
	"context"

	"github.com/iudanet/fieldsync/internal/models"
)

//go:generate moq -out queue_mock.go . QueueStorage

// QueueStorage defines interface for the retry queue and dead-letter store.
// Записи очереди ключуются по sequence операции: одна операция — одна
// запись, порядок ключей совпадает с causal порядком применения.
type QueueStorage interface {
	// PutRetryItem stores or replaces a retry queue item
	PutRetryItem(ctx context.Context, item *models.RetryQueueItem) error

	// GetRetryItem retrieves a retry item by operation sequence.
	// Returns ErrQueueItemNotFound when the sequence is not queued.
	GetRetryItem(ctx context.Context, sequence int64) (*models.RetryQueueItem, error)

	// DeleteRetryItem removes a retry item by operation sequence
	DeleteRetryItem(ctx context.Context, sequence int64) error

	// ListRetryItems returns all queued items ordered by ascending sequence
	ListRetryItems(ctx context.Context) ([]*models.RetryQueueItem, error)

	// ClearRetryItems discards all queued retries.
	// Dead-letter записи не затрагиваются.
	ClearRetryItems(ctx context.Context) error

	// PutDeadLetter stores a permanently failed operation
	PutDeadLetter(ctx context.Context, item *models.DeadLetterItem) error

	// ListDeadLetters returns all dead-letter items ordered by ascending sequence
	ListDeadLetters(ctx context.Context) ([]*models.DeadLetterItem, error)
}
