package reducers

import (
	"fmt"
	"time"

	"github.com/iudanet/fieldsync/internal/models"
)

// AddAddress добавляет один адрес в конец текущего списка
func AddAddress(state *models.AppState, addr models.Address) *models.AppState {
	out := state.Clone()
	out.Addresses = append(out.Addresses, addr)
	return out
}

// BulkImportAddresses заменяет список адресов и всегда инкрементирует
// версию списка, чтобы completions прежнего списка не "протекли" в новый.
// Completions сохраняются только по явному запросу вызывающей стороны:
// они ссылаются на позиции в старом списке.
func BulkImportAddresses(state *models.AppState, addrs []models.Address, preserveCompletions bool) *models.AppState {
	out := state.Clone()

	out.Addresses = make([]models.Address, len(addrs))
	copy(out.Addresses, addrs)

	out.CurrentListVersion++

	if !preserveCompletions {
		out.Completions = []models.Completion{}
	}

	// Активный таймер привязан к позиции старого списка
	out.ActiveIndex = nil
	out.ActiveStartTime = nil

	return out
}

// SetActiveIndex устанавливает или сбрасывает активный адрес.
// index == nil сбрасывает таймер (компенсирующий переход при отмене).
// Установка обязана провалиться без изменения состояния, если другой
// адрес уже активен ("один открытый кейс за раз") или целевой индекс
// уже завершен в текущей версии списка ("нельзя случайно переоткрыть
// закрытый кейс").
func SetActiveIndex(state *models.AppState, index *int, startTime *time.Time, opTime time.Time) (*models.AppState, error) {
	out := state.Clone()

	if index == nil {
		out.ActiveIndex = nil
		out.ActiveStartTime = nil
		return out, nil
	}

	idx := *index
	if idx >= len(state.Addresses) {
		return nil, fmt.Errorf("%w: index %d, list has %d addresses", ErrIndexOutOfRange, idx, len(state.Addresses))
	}
	if state.ActiveIndex != nil && *state.ActiveIndex != idx {
		return nil, fmt.Errorf("%w: index %d is active", ErrIndexActive, *state.ActiveIndex)
	}
	if state.FindCompletion(idx, state.CurrentListVersion) >= 0 {
		return nil, fmt.Errorf("%w: index %d, list version %d", ErrIndexCompleted, idx, state.CurrentListVersion)
	}

	start := opTime
	if startTime != nil {
		start = *startTime
	}

	out.ActiveIndex = &idx
	out.ActiveStartTime = &start

	return out, nil
}
