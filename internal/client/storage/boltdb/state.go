package boltdb

import (
	"context"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/iudanet/fieldsync/internal/client/storage"
	"github.com/iudanet/fieldsync/internal/models"
)

const keySnapshot = "snapshot"

// SaveState durably persists the canonical snapshot
func (s *Storage) SaveState(ctx context.Context, state *models.AppState) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketState)
		if bucket == nil {
			return fmt.Errorf("state bucket not found")
		}
		return bucket.Put([]byte(keySnapshot), data)
	})
	if err != nil {
		return fmt.Errorf("failed to save state: %w", err)
	}

	return nil
}

// LoadState reads the persisted snapshot
func (s *Storage) LoadState(ctx context.Context) (*models.AppState, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	var state *models.AppState

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketState)
		if bucket == nil {
			return storage.ErrStateNotFound
		}

		data := bucket.Get([]byte(keySnapshot))
		if data == nil {
			return storage.ErrStateNotFound
		}

		state = &models.AppState{}
		if err := json.Unmarshal(data, state); err != nil {
			return fmt.Errorf("failed to unmarshal state: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return state, nil
}

// ArchiveState stores a snapshot under a separate archive key
func (s *Storage) ArchiveState(ctx context.Context, key string, state *models.AppState) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal archived state: %w", err)
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketArchive)
		if bucket == nil {
			return fmt.Errorf("archive bucket not found")
		}
		return bucket.Put([]byte(key), data)
	})
	if err != nil {
		return fmt.Errorf("failed to archive state: %w", err)
	}

	return nil
}

// ListArchiveKeys returns keys of all archived snapshots
func (s *Storage) ListArchiveKeys(ctx context.Context) ([]string, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	var keys []string

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketArchive)
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list archives: %w", err)
	}

	return keys, nil
}
