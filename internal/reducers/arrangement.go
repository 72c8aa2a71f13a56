package reducers

import (
	"fmt"

	"github.com/iudanet/fieldsync/internal/models"
)

// CreateArrangement добавляет новую договоренность
func CreateArrangement(state *models.AppState, a models.Arrangement) (*models.AppState, error) {
	if state.FindArrangement(a.ID) >= 0 {
		return nil, fmt.Errorf("%w: id %s", ErrArrangementExists, a.ID)
	}

	out := state.Clone()
	out.Arrangements = append(out.Arrangements, *a.Clone())

	return out, nil
}

// UpdateArrangement заменяет договоренность с тем же ID
func UpdateArrangement(state *models.AppState, a models.Arrangement) (*models.AppState, error) {
	pos := state.FindArrangement(a.ID)
	if pos < 0 {
		return nil, fmt.Errorf("%w: id %s", ErrArrangementNotFound, a.ID)
	}

	out := state.Clone()
	out.Arrangements[pos] = *a.Clone()

	return out, nil
}

// DeleteArrangement удаляет договоренность по ID
func DeleteArrangement(state *models.AppState, id string) (*models.AppState, error) {
	pos := state.FindArrangement(id)
	if pos < 0 {
		return nil, fmt.Errorf("%w: id %s", ErrArrangementNotFound, id)
	}

	out := state.Clone()
	out.Arrangements = append(out.Arrangements[:pos], out.Arrangements[pos+1:]...)

	return out, nil
}

// SplitInstalments делит остаток долга на n платежей.
// Инвариант: сумма платежей равна остатку с точностью до пенса.
// Каждый платеж — floor(remaining/n); остаток округления целиком
// добавляется к последнему платежу.
func SplitInstalments(remainingPence int64, n int) ([]int64, error) {
	if n <= 0 {
		return nil, fmt.Errorf("instalment count must be positive, got %d", n)
	}
	if remainingPence < 0 {
		return nil, fmt.Errorf("remaining amount cannot be negative, got %d", remainingPence)
	}

	base := remainingPence / int64(n)
	amounts := make([]int64, n)
	for i := range amounts {
		amounts[i] = base
	}
	amounts[n-1] += remainingPence - base*int64(n)

	return amounts, nil
}

// BuildInstalments строит план рассрочки по заданным датам платежей
// (YYYY-MM-DD). Суммы вычисляются через SplitInstalments.
func BuildInstalments(remainingPence int64, n int, dueDates []string) ([]models.Instalment, error) {
	if len(dueDates) != n {
		return nil, fmt.Errorf("expected %d due dates, got %d", n, len(dueDates))
	}

	amounts, err := SplitInstalments(remainingPence, n)
	if err != nil {
		return nil, err
	}

	instalments := make([]models.Instalment, n)
	for i := range instalments {
		instalments[i] = models.Instalment{
			DueDate:     dueDates[i],
			AmountPence: amounts[i],
		}
	}

	return instalments, nil
}
