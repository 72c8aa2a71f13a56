package boltdb

import (
	"context"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/iudanet/fieldsync/internal/client/storage"
	"github.com/iudanet/fieldsync/internal/models"
)

// PutRetryItem stores or replaces a retry queue item
func (s *Storage) PutRetryItem(ctx context.Context, item *models.RetryQueueItem) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal retry item: %w", err)
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketRetry)
		if bucket == nil {
			return fmt.Errorf("retry bucket not found")
		}
		return bucket.Put(sequenceKey(item.Operation.Sequence), data)
	})
	if err != nil {
		return fmt.Errorf("failed to save retry item: %w", err)
	}

	return nil
}

// GetRetryItem retrieves a retry item by operation sequence
func (s *Storage) GetRetryItem(ctx context.Context, sequence int64) (*models.RetryQueueItem, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	var item *models.RetryQueueItem

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketRetry)
		if bucket == nil {
			return storage.ErrQueueItemNotFound
		}

		data := bucket.Get(sequenceKey(sequence))
		if data == nil {
			return storage.ErrQueueItemNotFound
		}

		item = &models.RetryQueueItem{}
		if err := json.Unmarshal(data, item); err != nil {
			return fmt.Errorf("failed to unmarshal retry item: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return item, nil
}

// DeleteRetryItem removes a retry item by operation sequence
func (s *Storage) DeleteRetryItem(ctx context.Context, sequence int64) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketRetry)
		if bucket == nil {
			return nil
		}
		return bucket.Delete(sequenceKey(sequence))
	})
	if err != nil {
		return fmt.Errorf("failed to delete retry item: %w", err)
	}

	return nil
}

// ListRetryItems returns all queued items ordered by ascending sequence.
// Порядок гарантирован лексикографической сортировкой ключей bucket.
func (s *Storage) ListRetryItems(ctx context.Context) ([]*models.RetryQueueItem, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	var items []*models.RetryQueueItem

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketRetry)
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			item := &models.RetryQueueItem{}
			if err := json.Unmarshal(v, item); err != nil {
				return fmt.Errorf("failed to unmarshal retry item %s: %w", k, err)
			}
			items = append(items, item)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list retry items: %w", err)
	}

	return items, nil
}

// ClearRetryItems discards all queued retries
func (s *Storage) ClearRetryItems(ctx context.Context) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(bucketRetry); err != nil {
			return fmt.Errorf("failed to drop retry bucket: %w", err)
		}
		if _, err := tx.CreateBucket(bucketRetry); err != nil {
			return fmt.Errorf("failed to recreate retry bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to clear retry items: %w", err)
	}

	return nil
}

// PutDeadLetter stores a permanently failed operation
func (s *Storage) PutDeadLetter(ctx context.Context, item *models.DeadLetterItem) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter: %w", err)
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketDead)
		if bucket == nil {
			return fmt.Errorf("dead letter bucket not found")
		}
		return bucket.Put(sequenceKey(item.Operation.Sequence), data)
	})
	if err != nil {
		return fmt.Errorf("failed to save dead letter: %w", err)
	}

	return nil
}

// ListDeadLetters returns all dead-letter items ordered by ascending sequence
func (s *Storage) ListDeadLetters(ctx context.Context) ([]*models.DeadLetterItem, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	var items []*models.DeadLetterItem

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketDead)
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			item := &models.DeadLetterItem{}
			if err := json.Unmarshal(v, item); err != nil {
				return fmt.Errorf("failed to unmarshal dead letter %s: %w", k, err)
			}
			items = append(items, item)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", err)
	}

	return items, nil
}
