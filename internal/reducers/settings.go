package reducers

import "github.com/iudanet/fieldsync/internal/models"

// UpdateBonusSettings заменяет настройки бонусов
func UpdateBonusSettings(state *models.AppState, bonus models.BonusSettings) *models.AppState {
	out := state.Clone()
	out.Settings.Bonus = bonus
	return out
}

// UpdateReminderSettings заменяет настройки напоминаний
func UpdateReminderSettings(state *models.AppState, reminder models.ReminderSettings) *models.AppState {
	out := state.Clone()
	out.Settings.Reminder = reminder
	return out
}
