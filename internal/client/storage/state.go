package storage

import (
	"context"

	"github.com/iudanet/fieldsync/internal/models"
)

//go:generate moq -out state_mock.go . StateStorage

// StateStorage defines interface for the persisted AppState snapshot
type StateStorage interface {
	// SaveState durably persists the canonical snapshot
	SaveState(ctx context.Context, state *models.AppState) error

	// LoadState reads the persisted snapshot.
	// Returns ErrStateNotFound when no snapshot has been saved yet.
	LoadState(ctx context.Context) (*models.AppState, error)

	// ArchiveState stores a snapshot under a separate archive key.
	// Используется для аварийного бэкапа при обнаружении чужих данных
	// (cross-user contamination) перед сбросом состояния.
	ArchiveState(ctx context.Context, key string, state *models.AppState) error

	// ListArchiveKeys returns keys of all archived snapshots
	ListArchiveKeys(ctx context.Context) ([]string, error)
}
