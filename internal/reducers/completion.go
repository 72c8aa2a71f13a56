package reducers

import (
	"fmt"
	"time"

	"github.com/iudanet/fieldsync/internal/models"
)

// CreateCompletion добавляет completion в состояние.
// Повторный completion того же адреса в той же версии списка внутри
// DuplicateWindow отклоняется как случайный double-submit; за пределами
// окна повторное завершение легитимно (например, исправленный исход
// после повторного визита).
// Если завершается активный адрес - таймер сбрасывается.
func CreateCompletion(cfg Config, state *models.AppState, c models.Completion) (*models.AppState, error) {
	for i := range state.Completions {
		existing := &state.Completions[i]
		if existing.ID == c.ID {
			return nil, fmt.Errorf("%w: id %s", ErrCompletionExists, c.ID)
		}
		if existing.Index != c.Index || existing.ListVersion != c.ListVersion {
			continue
		}

		elapsed := c.Timestamp.Sub(existing.Timestamp)
		if elapsed < 0 {
			elapsed = -elapsed
		}
		if elapsed < cfg.DuplicateWindow {
			return nil, fmt.Errorf("%w: previous completion was %s ago", ErrDuplicateCompletion, elapsed.Round(time.Millisecond))
		}
	}

	out := state.Clone()
	out.Completions = append(out.Completions, c)

	// Завершение активного адреса закрывает его таймер
	if out.ActiveIndex != nil && *out.ActiveIndex == c.Index {
		out.ActiveIndex = nil
		out.ActiveStartTime = nil
	}

	return out, nil
}

// UpdateOutcomeByIndexAndVersion обновляет исход completion по паре
// (index, listVersion). Совпадение обязано быть по обоим полям:
// иначе completion из прежней версии списка был бы ошибочно изменен.
// amount == nil оставляет сумму без изменения.
func UpdateOutcomeByIndexAndVersion(state *models.AppState, index int, outcome string, amount *int64, listVersion int) (*models.AppState, error) {
	pos := state.FindCompletion(index, listVersion)
	if pos < 0 {
		return nil, fmt.Errorf("%w: index %d list version %d", ErrCompletionNotFound, index, listVersion)
	}

	out := state.Clone()
	out.Completions[pos].Outcome = outcome
	if amount != nil {
		out.Completions[pos].AmountPence = *amount
	}

	return out, nil
}

// DeleteCompletion удаляет completion по паре (index, listVersion)
func DeleteCompletion(state *models.AppState, index, listVersion int) (*models.AppState, error) {
	pos := state.FindCompletion(index, listVersion)
	if pos < 0 {
		return nil, fmt.Errorf("%w: index %d list version %d", ErrCompletionNotFound, index, listVersion)
	}

	out := state.Clone()
	out.Completions = append(out.Completions[:pos], out.Completions[pos+1:]...)

	return out, nil
}
