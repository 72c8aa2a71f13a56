package storage

import "errors"

// Common client storage errors
var (
	// ErrStateNotFound indicates that no persisted snapshot exists
	ErrStateNotFound = errors.New("persisted state not found")

	// ErrQueueItemNotFound indicates that retry queue item was not found
	ErrQueueItemNotFound = errors.New("retry queue item not found")

	// ErrFlagNotFound indicates that protection flag record was not found
	ErrFlagNotFound = errors.New("protection flag not found")

	// ErrMetadataNotFound indicates that metadata key was not found
	ErrMetadataNotFound = errors.New("metadata not found")

	// ErrSessionNotFound indicates that no auth session is stored
	ErrSessionNotFound = errors.New("auth session not found")

	// ErrStorageClosed indicates that storage is closed
	ErrStorageClosed = errors.New("storage is closed")
)
