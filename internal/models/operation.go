package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// OperationType определяет закрытый набор типов операций.
// Каждая операция — это одна намеренная мутация состояния,
// созданная на клиенте в момент действия пользователя.
type OperationType string

// Типы операций журнала
const (
	OpCompletionCreate OperationType = "COMPLETION_CREATE"
	OpCompletionUpdate OperationType = "COMPLETION_UPDATE"
	OpCompletionDelete OperationType = "COMPLETION_DELETE"

	OpAddressAdd        OperationType = "ADDRESS_ADD"
	OpAddressBulkImport OperationType = "ADDRESS_BULK_IMPORT"
	OpActiveIndexSet    OperationType = "ACTIVE_INDEX_SET"

	OpArrangementCreate OperationType = "ARRANGEMENT_CREATE"
	OpArrangementUpdate OperationType = "ARRANGEMENT_UPDATE"
	OpArrangementDelete OperationType = "ARRANGEMENT_DELETE"

	OpSessionStart  OperationType = "SESSION_START"
	OpSessionEnd    OperationType = "SESSION_END"
	OpSessionUpdate OperationType = "SESSION_UPDATE"

	OpSettingsUpdateBonus    OperationType = "SETTINGS_UPDATE_BONUS"
	OpSettingsUpdateReminder OperationType = "SETTINGS_UPDATE_REMINDER"
)

// Operation представляет одну запись журнала операций.
// Операция неизменяема после создания: она либо будет принята
// бэкендом (терминальный успех), либо после исчерпания retry budget
// попадет в dead-letter хранилище (терминальная ошибка).
type Operation struct {
	Timestamp time.Time       `json:"timestamp"` // wall clock производителя (ISO-8601)
	ID        string          `json:"id"`        // стабильный идентификатор (UUID)
	DeviceID  string          `json:"device_id"` // стабильный идентификатор установки
	Type      OperationType   `json:"type"`      // тег payload
	Payload   json.RawMessage `json:"payload"`   // типизированный payload (см. DecodePayload)
	Sequence  int64           `json:"sequence"`  // монотонный счетчик per-device, без пропусков
}

// CompletionCreatePayload — payload для COMPLETION_CREATE
type CompletionCreatePayload struct {
	Timestamp        time.Time `json:"timestamp"`
	Outcome          string    `json:"outcome"`
	ArrangementID    string    `json:"arrangement_id,omitempty"`
	AmountPence      int64     `json:"amount_pence"`
	Index            int       `json:"index"`
	ListVersion      int       `json:"list_version"`
	TimeSpentSeconds int       `json:"time_spent_seconds"`
}

// CompletionUpdatePayload — payload для COMPLETION_UPDATE.
// Идентичность completion — пара (Index, ListVersion), не Index сам по себе.
type CompletionUpdatePayload struct {
	Timestamp   time.Time `json:"timestamp"`
	Outcome     string    `json:"outcome"`
	AmountPence int64     `json:"amount_pence"`
	Index       int       `json:"index"`
	ListVersion int       `json:"list_version"`
}

// CompletionDeletePayload — payload для COMPLETION_DELETE
type CompletionDeletePayload struct {
	Index       int `json:"index"`
	ListVersion int `json:"list_version"`
}

// AddressAddPayload — payload для ADDRESS_ADD
type AddressAddPayload struct {
	Address Address `json:"address"`
}

// AddressBulkImportPayload — payload для ADDRESS_BULK_IMPORT.
// Импорт всегда инкрементирует версию списка; completions прежней
// версии сохраняются только если PreserveCompletions == true.
type AddressBulkImportPayload struct {
	Addresses           []Address `json:"addresses"`
	PreserveCompletions bool      `json:"preserve_completions"`
}

// ActiveIndexSetPayload — payload для ACTIVE_INDEX_SET.
// Index == nil означает сброс активного адреса (отмена таймера).
type ActiveIndexSetPayload struct {
	Index     *int       `json:"index"`
	StartTime *time.Time `json:"start_time,omitempty"`
}

// ArrangementCreatePayload — payload для ARRANGEMENT_CREATE
type ArrangementCreatePayload struct {
	Arrangement Arrangement `json:"arrangement"`
}

// ArrangementUpdatePayload — payload для ARRANGEMENT_UPDATE
type ArrangementUpdatePayload struct {
	Arrangement Arrangement `json:"arrangement"`
}

// ArrangementDeletePayload — payload для ARRANGEMENT_DELETE
type ArrangementDeletePayload struct {
	ID string `json:"id"`
}

// SessionStartPayload — payload для SESSION_START
type SessionStartPayload struct {
	Start time.Time `json:"start"`
	Date  string    `json:"date"` // календарная дата YYYY-MM-DD
}

// SessionEndPayload — payload для SESSION_END
type SessionEndPayload struct {
	End  time.Time `json:"end"`
	Date string    `json:"date"`
}

// SessionUpdatePayload — payload для SESSION_UPDATE
type SessionUpdatePayload struct {
	Start *time.Time `json:"start,omitempty"`
	End   *time.Time `json:"end,omitempty"`
	Date  string     `json:"date"`
}

// SettingsUpdateBonusPayload — payload для SETTINGS_UPDATE_BONUS
type SettingsUpdateBonusPayload struct {
	Bonus BonusSettings `json:"bonus"`
}

// SettingsUpdateReminderPayload — payload для SETTINGS_UPDATE_REMINDER
type SettingsUpdateReminderPayload struct {
	Reminder ReminderSettings `json:"reminder"`
}

// DecodePayload декодирует payload операции в типизированную структуру
// согласно тегу Type. Неизвестный тег — это ошибка границы
// (валидация должна отсеять такие операции до submission).
func (o *Operation) DecodePayload() (any, error) {
	decode := func(dst any) (any, error) {
		if err := json.Unmarshal(o.Payload, dst); err != nil {
			return nil, fmt.Errorf("failed to decode %s payload: %w", o.Type, err)
		}
		return dst, nil
	}

	switch o.Type {
	case OpCompletionCreate:
		return decode(&CompletionCreatePayload{})
	case OpCompletionUpdate:
		return decode(&CompletionUpdatePayload{})
	case OpCompletionDelete:
		return decode(&CompletionDeletePayload{})
	case OpAddressAdd:
		return decode(&AddressAddPayload{})
	case OpAddressBulkImport:
		return decode(&AddressBulkImportPayload{})
	case OpActiveIndexSet:
		return decode(&ActiveIndexSetPayload{})
	case OpArrangementCreate:
		return decode(&ArrangementCreatePayload{})
	case OpArrangementUpdate:
		return decode(&ArrangementUpdatePayload{})
	case OpArrangementDelete:
		return decode(&ArrangementDeletePayload{})
	case OpSessionStart:
		return decode(&SessionStartPayload{})
	case OpSessionEnd:
		return decode(&SessionEndPayload{})
	case OpSessionUpdate:
		return decode(&SessionUpdatePayload{})
	case OpSettingsUpdateBonus:
		return decode(&SettingsUpdateBonusPayload{})
	case OpSettingsUpdateReminder:
		return decode(&SettingsUpdateReminderPayload{})
	default:
		return nil, fmt.Errorf("unknown operation type: %q", o.Type)
	}
}

// EncodePayload сериализует типизированный payload в Operation.Payload
func EncodePayload(payload any) (json.RawMessage, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	return data, nil
}

// Clone создает глубокую копию операции
func (o *Operation) Clone() *Operation {
	payload := make(json.RawMessage, len(o.Payload))
	copy(payload, o.Payload)

	return &Operation{
		ID:        o.ID,
		Timestamp: o.Timestamp,
		DeviceID:  o.DeviceID,
		Sequence:  o.Sequence,
		Type:      o.Type,
		Payload:   payload,
	}
}
