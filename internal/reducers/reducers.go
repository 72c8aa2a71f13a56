// Package reducers содержит чистые функции свертки операций в состояние.
// Каждый редьюсер принимает состояние и одну операцию (или ее payload)
// и возвращает новое состояние, никогда не мутируя вход.
package reducers

import (
	"errors"
	"fmt"
	"time"

	"github.com/iudanet/fieldsync/internal/models"
)

// Ошибки нарушения инвариантов состояния.
// Это recoverable ошибки: действие отклоняется, пользователю
// показывается warning, состояние не меняется.
var (
	// ErrDuplicateCompletion — повторный completion того же адреса
	// внутри окна допуска (случайный double-submit)
	ErrDuplicateCompletion = errors.New("duplicate completion within tolerance window")

	// ErrCompletionNotFound — completion с парой (index, listVersion) не найден
	ErrCompletionNotFound = errors.New("completion not found")

	// ErrCompletionExists — completion с таким ID уже есть
	ErrCompletionExists = errors.New("completion already exists")

	// ErrIndexActive — другой адрес уже активен
	ErrIndexActive = errors.New("another address is already active")

	// ErrIndexCompleted — адрес уже завершен в текущей версии списка
	ErrIndexCompleted = errors.New("address already completed for current list version")

	// ErrIndexOutOfRange — индекс вне границ текущего списка адресов
	ErrIndexOutOfRange = errors.New("address index out of range")

	// ErrArrangementNotFound — arrangement с заданным ID не найден
	ErrArrangementNotFound = errors.New("arrangement not found")

	// ErrArrangementExists — arrangement с таким ID уже есть
	ErrArrangementExists = errors.New("arrangement already exists")

	// ErrSessionOpen — открытая сессия для этой даты уже существует
	ErrSessionOpen = errors.New("session already open for this date")

	// ErrSessionNotFound — сессия для этой даты не найдена
	ErrSessionNotFound = errors.New("session not found")
)

// Config — эмпирически подобранные окна допуска.
// Значения по умолчанию сохраняются ради поведенческой совместимости.
type Config struct {
	// DuplicateWindow — окно, внутри которого повторный completion
	// одного адреса считается случайным double-submit
	DuplicateWindow time.Duration
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{
		DuplicateWindow: 30 * time.Second,
	}
}

// Apply сворачивает одну операцию журнала в состояние.
// Возвращает новое состояние; вход не мутируется.
func Apply(cfg Config, state *models.AppState, op *models.Operation) (*models.AppState, error) {
	payload, err := op.DecodePayload()
	if err != nil {
		return nil, fmt.Errorf("cannot apply operation %s: %w", op.ID, err)
	}

	switch p := payload.(type) {
	case *models.CompletionCreatePayload:
		return CreateCompletion(cfg, state, models.Completion{
			ID:               op.ID,
			Index:            p.Index,
			ListVersion:      p.ListVersion,
			Outcome:          p.Outcome,
			AmountPence:      p.AmountPence,
			ArrangementID:    p.ArrangementID,
			TimeSpentSeconds: p.TimeSpentSeconds,
			Timestamp:        p.Timestamp,
		})
	case *models.CompletionUpdatePayload:
		return UpdateOutcomeByIndexAndVersion(state, p.Index, p.Outcome, &p.AmountPence, p.ListVersion)
	case *models.CompletionDeletePayload:
		return DeleteCompletion(state, p.Index, p.ListVersion)
	case *models.AddressAddPayload:
		return AddAddress(state, p.Address), nil
	case *models.AddressBulkImportPayload:
		return BulkImportAddresses(state, p.Addresses, p.PreserveCompletions), nil
	case *models.ActiveIndexSetPayload:
		return SetActiveIndex(state, p.Index, p.StartTime, op.Timestamp)
	case *models.ArrangementCreatePayload:
		return CreateArrangement(state, p.Arrangement)
	case *models.ArrangementUpdatePayload:
		return UpdateArrangement(state, p.Arrangement)
	case *models.ArrangementDeletePayload:
		return DeleteArrangement(state, p.ID)
	case *models.SessionStartPayload:
		return StartSession(state, p.Date, p.Start)
	case *models.SessionEndPayload:
		return EndSession(state, p.Date, p.End)
	case *models.SessionUpdatePayload:
		return UpdateSession(state, p.Date, p.Start, p.End)
	case *models.SettingsUpdateBonusPayload:
		return UpdateBonusSettings(state, p.Bonus), nil
	case *models.SettingsUpdateReminderPayload:
		return UpdateReminderSettings(state, p.Reminder), nil
	default:
		return nil, fmt.Errorf("cannot apply operation %s: unexpected payload type %T", op.ID, payload)
	}
}
