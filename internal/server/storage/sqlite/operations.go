package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/iudanet/fieldsync/internal/models"
	"github.com/iudanet/fieldsync/internal/server/storage"
)

// SaveOperation appends an operation to the user's log.
// Повторная доставка той же пары (device_id, sequence) распознаётся по
// UNIQUE-ограничению и не создаёт дубликат.
func (s *Storage) SaveOperation(ctx context.Context, userID string, op *models.Operation) (bool, error) {
	query := `
		INSERT INTO operations (user_id, op_id, device_id, sequence, type, payload, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		userID,
		op.ID,
		op.DeviceID,
		op.Sequence,
		string(op.Type),
		[]byte(op.Payload),
		op.Timestamp.UTC(),
	)

	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return false, nil
		}
		return false, fmt.Errorf("failed to insert operation: %w", err)
	}

	return true, nil
}

// ListOperationsSince retrieves operations with cursor > since, ordered by cursor
func (s *Storage) ListOperationsSince(
	ctx context.Context,
	userID string,
	since int64,
) ([]storage.StoredOperation, error) {
	query := `
		SELECT cursor, op_id, device_id, sequence, type, payload, timestamp
		FROM operations
		WHERE user_id = ? AND cursor > ?
		ORDER BY cursor ASC
	`

	rows, err := s.db.QueryContext(ctx, query, userID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query operations: %w", err)
	}
	defer rows.Close()

	ops := []storage.StoredOperation{}
	for rows.Next() {
		var (
			stored  storage.StoredOperation
			opType  string
			payload []byte
		)

		err := rows.Scan(
			&stored.Cursor,
			&stored.Operation.ID,
			&stored.Operation.DeviceID,
			&stored.Operation.Sequence,
			&opType,
			&payload,
			&stored.Operation.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan operation: %w", err)
		}

		stored.Operation.Type = models.OperationType(opType)
		stored.Operation.Payload = payload
		ops = append(ops, stored)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate operations: %w", err)
	}

	return ops, nil
}

// CurrentCursor returns the latest assigned cursor for a user
func (s *Storage) CurrentCursor(ctx context.Context, userID string) (int64, error) {
	query := `SELECT MAX(cursor) FROM operations WHERE user_id = ?`

	var cursor sql.NullInt64
	if err := s.db.QueryRowContext(ctx, query, userID).Scan(&cursor); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get cursor: %w", err)
	}

	if !cursor.Valid {
		return 0, nil
	}

	return cursor.Int64, nil
}

// DeviceSequence returns the highest stored sequence for a device
func (s *Storage) DeviceSequence(ctx context.Context, userID, deviceID string) (int64, error) {
	query := `SELECT MAX(sequence) FROM operations WHERE user_id = ? AND device_id = ?`

	var seq sql.NullInt64
	if err := s.db.QueryRowContext(ctx, query, userID, deviceID).Scan(&seq); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get device sequence: %w", err)
	}

	if !seq.Valid {
		return 0, nil
	}

	return seq.Int64, nil
}
