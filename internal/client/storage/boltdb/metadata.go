package boltdb

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/iudanet/fieldsync/internal/client/storage"
)

const (
	keySyncCursor = "sync_cursor"
	keyDeviceID   = "device_id"
	keySequence   = "sequence"
	keyRemoteSeqs = "remote_sequences"
)

// SaveSyncCursor saves the server cursor of the last successful pull
func (s *Storage) SaveSyncCursor(ctx context.Context, cursor int64) error {
	return s.putInt64(keySyncCursor, cursor)
}

// GetSyncCursor retrieves the cursor of the last successful pull.
// Returns 0 if no sync has been performed yet.
func (s *Storage) GetSyncCursor(ctx context.Context) (int64, error) {
	return s.getInt64(keySyncCursor)
}

// SaveSequence persists the per-device operation sequence counter
func (s *Storage) SaveSequence(ctx context.Context, sequence int64) error {
	return s.putInt64(keySequence, sequence)
}

// GetSequence retrieves the last issued sequence number.
// Returns 0 when no operations have been issued yet.
func (s *Storage) GetSequence(ctx context.Context) (int64, error) {
	return s.getInt64(keySequence)
}

// SaveRemoteSequences persists the last applied sequence of each
// remote device, keyed by device id
func (s *Storage) SaveRemoteSequences(ctx context.Context, seqs map[string]int64) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	data, err := json.Marshal(seqs)
	if err != nil {
		return fmt.Errorf("failed to marshal remote sequences: %w", err)
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketMetadata)
		if bucket == nil {
			return fmt.Errorf("metadata bucket not found")
		}
		return bucket.Put([]byte(keyRemoteSeqs), data)
	})
	if err != nil {
		return fmt.Errorf("failed to save remote sequences: %w", err)
	}

	return nil
}

// GetRemoteSequences retrieves the last applied sequence per remote
// device. Returns an empty map when nothing has been merged yet.
func (s *Storage) GetRemoteSequences(ctx context.Context) (map[string]int64, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	seqs := make(map[string]int64)

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketMetadata)
		if bucket == nil {
			return fmt.Errorf("metadata bucket not found")
		}

		data := bucket.Get([]byte(keyRemoteSeqs))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &seqs)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get remote sequences: %w", err)
	}

	return seqs, nil
}

// SaveDeviceID persists the stable installation identifier
func (s *Storage) SaveDeviceID(ctx context.Context, deviceID string) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketMetadata)
		if bucket == nil {
			return fmt.Errorf("metadata bucket not found")
		}
		return bucket.Put([]byte(keyDeviceID), []byte(deviceID))
	})
	if err != nil {
		return fmt.Errorf("failed to save device id: %w", err)
	}

	return nil
}

// GetDeviceID retrieves the installation identifier.
// Returns ErrMetadataNotFound on first run.
func (s *Storage) GetDeviceID(ctx context.Context) (string, error) {
	if s.db == nil {
		return "", storage.ErrStorageClosed
	}

	var deviceID string

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketMetadata)
		if bucket == nil {
			return storage.ErrMetadataNotFound
		}

		data := bucket.Get([]byte(keyDeviceID))
		if data == nil {
			return storage.ErrMetadataNotFound
		}

		deviceID = string(data)
		return nil
	})
	if err != nil {
		return "", err
	}

	return deviceID, nil
}

// putInt64 сохраняет int64 значение в metadata bucket
func (s *Storage) putInt64(key string, value int64) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketMetadata)
		if bucket == nil {
			return fmt.Errorf("metadata bucket not found")
		}

		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, uint64(value))

		return bucket.Put([]byte(key), buf)
	})
	if err != nil {
		return fmt.Errorf("failed to save %s: %w", key, err)
	}

	return nil
}

// getInt64 читает int64 значение из metadata bucket, 0 если нет
func (s *Storage) getInt64(key string) (int64, error) {
	if s.db == nil {
		return 0, storage.ErrStorageClosed
	}

	var value int64

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketMetadata)
		if bucket == nil {
			return fmt.Errorf("metadata bucket not found")
		}

		data := bucket.Get([]byte(key))
		if data == nil {
			value = 0
			return nil
		}

		value = int64(binary.BigEndian.Uint64(data))
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to get %s: %w", key, err)
	}

	return value, nil
}
