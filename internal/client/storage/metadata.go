package storage

import "context"

//go:generate moq -out metadata_mock.go . MetadataStorage

// MetadataStorage defines interface for storing client sync metadata
type MetadataStorage interface {
	// SaveSyncCursor saves the server cursor of the last successful pull
	SaveSyncCursor(ctx context.Context, cursor int64) error

	// GetSyncCursor retrieves the cursor of the last successful pull.
	// Returns 0 if no sync has been performed yet.
	GetSyncCursor(ctx context.Context) (int64, error)

	// SaveDeviceID persists the stable installation identifier
	SaveDeviceID(ctx context.Context, deviceID string) error

	// GetDeviceID retrieves the installation identifier.
	// Returns ErrMetadataNotFound on first run.
	GetDeviceID(ctx context.Context) (string, error)

	// SaveSequence persists the per-device operation sequence counter
	SaveSequence(ctx context.Context, sequence int64) error

	// GetSequence retrieves the last issued sequence number.
	// Returns 0 when no operations have been issued yet.
	GetSequence(ctx context.Context) (int64, error)

	// SaveRemoteSequences persists the last applied sequence of each
	// remote device, keyed by device id
	SaveRemoteSequences(ctx context.Context, seqs map[string]int64) error

	// GetRemoteSequences retrieves the last applied sequence per remote
	// device. Returns an empty map when nothing has been merged yet.
	GetRemoteSequences(ctx context.Context) (map[string]int64, error)
}
