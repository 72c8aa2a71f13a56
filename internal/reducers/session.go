package reducers

import (
	"fmt"
	"time"

	"github.com/iudanet/fieldsync/internal/models"
)

// findSession ищет сессию по дате. Возвращает позицию или -1.
func findSession(state *models.AppState, date string) int {
	for i := range state.DaySessions {
		if state.DaySessions[i].Date == date {
			return i
		}
	}
	return -1
}

// endOfDay возвращает 23:59:59 заданной календарной даты (UTC)
func endOfDay(date string) (time.Time, error) {
	day, err := time.Parse("2006-01-02", date)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid session date %q: %w", date, err)
	}
	return day.Add(23*time.Hour + 59*time.Minute + 59*time.Second), nil
}

// sessionDuration — floor((end-start)/1s) секунд, не меньше нуля
func sessionDuration(start, end time.Time) int {
	d := int(end.Sub(start) / time.Second)
	if d < 0 {
		return 0
	}
	return d
}

// StartSession открывает рабочую сессию даты date.
// Забытая открытая сессия предыдущей даты автоматически закрывается
// концом своего дня до открытия новой. Открытая сессия той же даты —
// ошибка; закрытая сессия той же даты переоткрывается (возврат к работе
// в течение дня).
func StartSession(state *models.AppState, date string, start time.Time) (*models.AppState, error) {
	out := state.Clone()

	// Автозакрытие зависших сессий прошлых дат
	for i := range out.DaySessions {
		s := &out.DaySessions[i]
		if s.End != nil || s.Date == date {
			continue
		}
		eod, err := endOfDay(s.Date)
		if err != nil {
			return nil, err
		}
		s.End = &eod
		s.DurationSeconds = sessionDuration(s.Start, eod)
	}

	pos := findSession(out, date)
	if pos < 0 {
		out.DaySessions = append(out.DaySessions, models.DaySession{
			Date:  date,
			Start: start,
		})
		return out, nil
	}

	if out.DaySessions[pos].End == nil {
		return nil, fmt.Errorf("%w: %s", ErrSessionOpen, date)
	}

	// Возобновление дня: сессия переоткрывается, начало сохраняется
	out.DaySessions[pos].End = nil
	out.DaySessions[pos].DurationSeconds = 0

	return out, nil
}

// EndSession закрывает открытую сессию даты date
func EndSession(state *models.AppState, date string, end time.Time) (*models.AppState, error) {
	pos := findSession(state, date)
	if pos < 0 || state.DaySessions[pos].End != nil {
		return nil, fmt.Errorf("%w: no open session for %s", ErrSessionNotFound, date)
	}

	out := state.Clone()
	s := &out.DaySessions[pos]
	s.End = &end
	s.DurationSeconds = sessionDuration(s.Start, end)

	return out, nil
}

// UpdateSession корректирует границы сессии даты date.
// nil-поля остаются без изменения; длительность пересчитывается.
func UpdateSession(state *models.AppState, date string, start, end *time.Time) (*models.AppState, error) {
	pos := findSession(state, date)
	if pos < 0 {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, date)
	}

	out := state.Clone()
	s := &out.DaySessions[pos]

	if start != nil {
		s.Start = *start
	}
	if end != nil {
		s.End = end
	}
	if s.End != nil {
		s.DurationSeconds = sessionDuration(s.Start, *s.End)
	}

	return out, nil
}
