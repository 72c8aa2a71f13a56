package storage

import (
	"context"

	"github.com/iudanet/fieldsync/internal/models"
)

// StoredOperation — операция из журнала с присвоенным серверным курсором.
// Cursor монотонно растёт в пределах пользователя и служит позицией
// для инкрементального pull.
type StoredOperation struct {
	Operation models.Operation
	Cursor    int64
}

// OperationStorage defines interface for the append-only operation log
type OperationStorage interface {
	// SaveOperation appends an operation to the user's log.
	// Идемпотентность по ключу (user_id, device_id, sequence): повторная
	// запись той же операции не создаёт дубликат.
	// Returns false if the operation was already stored (duplicate delivery)
	SaveOperation(ctx context.Context, userID string, op *models.Operation) (bool, error)

	// ListOperationsSince retrieves operations with cursor > since,
	// ordered by cursor ascending
	// Returns empty slice if no operations found
	ListOperationsSince(ctx context.Context, userID string, since int64) ([]StoredOperation, error)

	// CurrentCursor returns the latest assigned cursor for a user
	// Returns 0 if the log is empty
	CurrentCursor(ctx context.Context, userID string) (int64, error)

	// DeviceSequence returns the highest stored sequence for a device
	// Returns 0 if the device has no operations
	DeviceSequence(ctx context.Context, userID, deviceID string) (int64, error)
}
