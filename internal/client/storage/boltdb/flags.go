package boltdb

import (
	"context"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/iudanet/fieldsync/internal/client/storage"
	"github.com/iudanet/fieldsync/internal/models"
)

// PutFlag stores or replaces a flag record by name
func (s *Storage) PutFlag(ctx context.Context, name string, record *models.FlagRecord) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal flag record: %w", err)
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketFlags)
		if bucket == nil {
			return fmt.Errorf("flags bucket not found")
		}
		return bucket.Put([]byte(name), data)
	})
	if err != nil {
		return fmt.Errorf("failed to save flag %s: %w", name, err)
	}

	return nil
}

// DeleteFlag removes a flag record by name
func (s *Storage) DeleteFlag(ctx context.Context, name string) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketFlags)
		if bucket == nil {
			return nil
		}
		return bucket.Delete([]byte(name))
	})
	if err != nil {
		return fmt.Errorf("failed to delete flag %s: %w", name, err)
	}

	return nil
}

// ListFlags returns all stored flag records keyed by name
func (s *Storage) ListFlags(ctx context.Context) (map[string]*models.FlagRecord, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	flags := make(map[string]*models.FlagRecord)

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketFlags)
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			record := &models.FlagRecord{}
			if err := json.Unmarshal(v, record); err != nil {
				return fmt.Errorf("failed to unmarshal flag %s: %w", k, err)
			}
			flags[string(k)] = record
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list flags: %w", err)
	}

	return flags, nil
}
