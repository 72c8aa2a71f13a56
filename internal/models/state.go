package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// CurrentSchemaVersion — версия схемы персистентного снапшота.
// Увеличивается при несовместимых изменениях формы AppState.
const CurrentSchemaVersion = 2

// Известные исходы посещения адреса
const (
	OutcomePIF  = "PIF"  // paid in full
	OutcomeDA   = "DA"   // door answered, no payment
	OutcomeARR  = "ARR"  // payment arrangement agreed
	OutcomeDone = "Done" // generic completion
)

// Статусы arrangement
const (
	ArrangementScheduled = "Scheduled"
	ArrangementCompleted = "Completed"
	ArrangementDefaulted = "Defaulted"
)

// Address представляет один адрес рабочего списка.
// Идентичность адреса позиционная: индекс внутри одной версии списка.
type Address struct {
	Address string   `json:"address"`
	Lat     *float64 `json:"lat,omitempty"`
	Lng     *float64 `json:"lng,omitempty"`
}

// Completion представляет завершенное посещение адреса.
// Истинный ключ идентичности — пара (Index, ListVersion): индексы
// осмысленны только внутри одной версии импортированного списка.
type Completion struct {
	Timestamp        time.Time `json:"timestamp"`
	ID               string    `json:"id"`
	Outcome          string    `json:"outcome"`
	ArrangementID    string    `json:"arrangement_id,omitempty"`
	AmountPence      int64     `json:"amount_pence"`
	Index            int       `json:"index"`
	ListVersion      int       `json:"list_version"`
	TimeSpentSeconds int       `json:"time_spent_seconds"`
}

// Instalment представляет один платеж рассрочки
type Instalment struct {
	DueDate     string `json:"due_date"` // YYYY-MM-DD
	AmountPence int64  `json:"amount_pence"`
	Paid        bool   `json:"paid"`
}

// Arrangement представляет договоренность об оплате.
// Адресуется сгенерированным стабильным ID.
type Arrangement struct {
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
	ID            string       `json:"id"`
	CustomerName  string       `json:"customer_name"`
	Phone         string       `json:"phone,omitempty"`
	ScheduledDate string       `json:"scheduled_date"` // YYYY-MM-DD
	Notes         string       `json:"notes,omitempty"`
	Status        string       `json:"status"`
	Instalments   []Instalment `json:"instalments,omitempty"`
	AmountPence   int64        `json:"amount_pence"`
	AddressIndex  int          `json:"address_index"`
}

// Clone создает глубокую копию arrangement
func (a *Arrangement) Clone() *Arrangement {
	out := *a
	if a.Instalments != nil {
		out.Instalments = make([]Instalment, len(a.Instalments))
		copy(out.Instalments, a.Instalments)
	}
	return &out
}

// DaySession представляет рабочую сессию одного календарного дня.
// На каждую дату может быть не более одной открытой (End == nil) сессии.
type DaySession struct {
	Start           time.Time  `json:"start"`
	End             *time.Time `json:"end,omitempty"`
	Date            string     `json:"date"` // YYYY-MM-DD
	DurationSeconds int        `json:"duration_seconds"`
}

// BonusSettings — настройки расчета бонусов
type BonusSettings struct {
	Enabled                bool  `json:"enabled"`
	RatePerCompletionPence int64 `json:"rate_per_completion_pence"`
	DailyThreshold         int   `json:"daily_threshold"`
}

// ReminderSettings — настройки напоминаний о договоренностях
type ReminderSettings struct {
	Enabled    bool `json:"enabled"`
	DaysBefore int  `json:"days_before"`
}

// Settings — пользовательские настройки приложения
type Settings struct {
	Bonus    BonusSettings    `json:"bonus"`
	Reminder ReminderSettings `json:"reminder"`
}

// AppState — канонический персистентный снапшот состояния.
// Рендерится всегда applyOptimisticUpdates(base, overlay), никогда
// сырой base, пока overlay не пуст.
type AppState struct {
	ActiveStartTime    *time.Time    `json:"active_start_time,omitempty"`
	ActiveIndex        *int          `json:"active_index,omitempty"`
	OwnerUserID        string        `json:"_owner_user_id,omitempty"`
	OwnerChecksum      string        `json:"_owner_checksum,omitempty"`
	Addresses          []Address     `json:"addresses"`
	Completions        []Completion  `json:"completions"`
	Arrangements       []Arrangement `json:"arrangements"`
	DaySessions        []DaySession  `json:"day_sessions"`
	Settings           Settings      `json:"settings"`
	CurrentListVersion int           `json:"current_list_version"`
	SchemaVersion      int           `json:"_schema_version"`
}

// NewAppState возвращает пустое состояние текущей версии схемы
func NewAppState() *AppState {
	return &AppState{
		Addresses:          []Address{},
		Completions:        []Completion{},
		Arrangements:       []Arrangement{},
		DaySessions:        []DaySession{},
		CurrentListVersion: 0,
		SchemaVersion:      CurrentSchemaVersion,
	}
}

// Clone создает глубокую копию состояния.
// Редьюсеры и overlay никогда не мутируют вход — всегда работают с копией.
func (s *AppState) Clone() *AppState {
	out := *s

	out.Addresses = make([]Address, len(s.Addresses))
	copy(out.Addresses, s.Addresses)

	out.Completions = make([]Completion, len(s.Completions))
	copy(out.Completions, s.Completions)

	out.Arrangements = make([]Arrangement, len(s.Arrangements))
	for i := range s.Arrangements {
		out.Arrangements[i] = *s.Arrangements[i].Clone()
	}

	out.DaySessions = make([]DaySession, len(s.DaySessions))
	copy(out.DaySessions, s.DaySessions)

	if s.ActiveIndex != nil {
		idx := *s.ActiveIndex
		out.ActiveIndex = &idx
	}
	if s.ActiveStartTime != nil {
		ts := *s.ActiveStartTime
		out.ActiveStartTime = &ts
	}

	return &out
}

// FindCompletion ищет completion по паре (index, listVersion).
// Возвращает позицию в срезе или -1.
func (s *AppState) FindCompletion(index, listVersion int) int {
	for i := range s.Completions {
		if s.Completions[i].Index == index && s.Completions[i].ListVersion == listVersion {
			return i
		}
	}
	return -1
}

// FindArrangement ищет arrangement по ID. Возвращает позицию или -1.
func (s *AppState) FindArrangement(id string) int {
	for i := range s.Arrangements {
		if s.Arrangements[i].ID == id {
			return i
		}
	}
	return -1
}

// ParseAmount разбирает денежную сумму вида "100.00" в целые пенсы.
// Допускается 0, 1 или 2 знака после точки.
func ParseAmount(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("amount cannot be empty")
	}

	negative := false
	if strings.HasPrefix(s, "-") {
		negative = true
		s = s[1:]
	}

	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" || len(frac) > 2 {
		return 0, fmt.Errorf("invalid amount format: %q", s)
	}

	pounds, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount format: %q", s)
	}

	pence := int64(0)
	if frac != "" {
		pence, err = strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid amount format: %q", s)
		}
		if len(frac) == 1 {
			pence *= 10
		}
	}

	total := pounds*100 + pence
	if negative {
		total = -total
	}
	return total, nil
}

// FormatAmount форматирует пенсы обратно в строку "100.00"
func FormatAmount(pence int64) string {
	sign := ""
	if pence < 0 {
		sign = "-"
		pence = -pence
	}
	return fmt.Sprintf("%s%d.%02d", sign, pence/100, pence%100)
}
