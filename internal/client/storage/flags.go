package storage

import (
	"context"

	"github.com/iudanet/fieldsync/internal/models"
)

//go:generate moq -out flags_mock.go . FlagStorage

// FlagStorage defines interface for durable protection flag records.
// Запись write-behind: in-memory состояние guard-сервиса авторитетно,
// сюда флаги пишутся асинхронно best-effort.
type FlagStorage interface {
	// PutFlag stores or replaces a flag record by name
	PutFlag(ctx context.Context, name string, record *models.FlagRecord) error

	// DeleteFlag removes a flag record by name
	DeleteFlag(ctx context.Context, name string) error

	// ListFlags returns all stored flag records keyed by name
	ListFlags(ctx context.Context) (map[string]*models.FlagRecord, error)
}
