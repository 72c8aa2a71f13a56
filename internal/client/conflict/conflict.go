// Package conflict обнаруживает расхождения между входящим
// (подтвержденным облаком) состоянием и текущим локальным.
// Полевого слияния нет: конфликт фиксируется записью с политикой
// разрешения по умолчанию и отдается наверх для явного разрешения.
package conflict

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/iudanet/fieldsync/internal/client/guard"
	"github.com/iudanet/fieldsync/internal/models"
)

// ErrConflictNotFound возвращается при разрешении неизвестного конфликта
var ErrConflictNotFound = errors.New("conflict not found")

// FlagChecker отвечает на вопрос "активна ли защита сущности".
// Активная защита означает, что входящее изменение нельзя применять
// прямо сейчас: локальная запись еще в полете.
type FlagChecker interface {
	IsActive(flag guard.Flag) bool
}

// Config задает допуски сопоставления
type Config struct {
	// MatchTolerance — окно, в пределах которого два completion
	// с одинаковым index+outcome считаются одной и той же записью
	MatchTolerance time.Duration
}

// DefaultConfig возвращает допуски по умолчанию
func DefaultConfig() Config {
	return Config{MatchTolerance: 5 * time.Second}
}

// Detector хранит открытые конфликты и применяет политику по умолчанию
type Detector struct {
	flags     FlagChecker
	logger    *slog.Logger
	conflicts map[string]*models.Conflict
	cfg       Config
	mu        sync.Mutex
}

// NewDetector creates a new sync conflict detector
func NewDetector(cfg Config, flags FlagChecker, logger *slog.Logger) *Detector {
	return &Detector{
		cfg:       cfg,
		flags:     flags,
		logger:    logger,
		conflicts: make(map[string]*models.Conflict),
	}
}

// DetectCompletions сверяет входящие completions с локальными.
// Сопоставление по паре (index, listVersion); одинаковый outcome в
// пределах допуска по времени — та же запись, не конфликт.
// Политика по умолчанию — prefer_incoming (облако авторитетно после
// истечения защитных окон), но при активной защите completion или
// активного адреса входящая запись целиком придерживается (held back)
// до снятия флага.
func (d *Detector) DetectCompletions(incoming, existing []models.Completion) (conflicts []*models.Conflict, held []models.Completion) {
	for _, inc := range incoming {
		i := findCompletion(existing, inc.Index, inc.ListVersion)
		if i < 0 {
			continue
		}
		ex := existing[i]
		if d.sameCompletion(inc, ex) {
			continue
		}

		if d.flags.IsActive(guard.FlagCompletionSync) || d.flags.IsActive(guard.FlagActiveAddress) {
			d.logger.Info("incoming completion held back by protection flag",
				"index", inc.Index, "list_version", inc.ListVersion)
			held = append(held, inc)
			continue
		}

		c := &models.Conflict{
			ID:         fmt.Sprintf("completion-%d-%d", inc.Index, inc.ListVersion),
			Type:       models.ConflictCompletion,
			Incoming:   inc,
			Existing:   ex,
			Resolution: models.PreferIncoming,
		}
		d.record(c)
		conflicts = append(conflicts, c)
	}
	return conflicts, held
}

// DetectArrangements сверяет входящие arrangements с локальными.
// Сопоставление по id; политика по умолчанию — last-writer-wins
// по updatedAt. При активной защите arrangement-синка входящая
// запись придерживается.
func (d *Detector) DetectArrangements(incoming, existing []models.Arrangement) (conflicts []*models.Conflict, held []models.Arrangement) {
	for i := range incoming {
		inc := incoming[i]
		j := findArrangement(existing, inc.ID)
		if j < 0 {
			continue
		}
		ex := existing[j]
		if sameArrangement(inc, ex) {
			continue
		}

		if d.flags.IsActive(guard.FlagArrangementSync) {
			d.logger.Info("incoming arrangement held back by protection flag", "id", inc.ID)
			held = append(held, inc)
			continue
		}

		resolution := models.PreferExisting
		if inc.UpdatedAt.After(ex.UpdatedAt) {
			resolution = models.PreferIncoming
		}

		c := &models.Conflict{
			ID:         "arrangement-" + inc.ID,
			Type:       models.ConflictArrangement,
			Incoming:   *inc.Clone(),
			Existing:   *ex.Clone(),
			Resolution: resolution,
		}
		d.record(c)
		conflicts = append(conflicts, c)
	}
	return conflicts, held
}

// Conflicts возвращает открытые конфликты
func (d *Detector) Conflicts() []*models.Conflict {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]*models.Conflict, 0, len(d.conflicts))
	for _, c := range d.conflicts {
		out = append(out, c)
	}
	return out
}

// Resolve закрывает конфликт выбранной стратегией и возвращает его
// запись, чтобы вызывающий применил выбранную сторону
func (d *Detector) Resolve(id string, resolution models.Resolution) (*models.Conflict, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	c, ok := d.conflicts[id]
	if !ok {
		return nil, ErrConflictNotFound
	}
	delete(d.conflicts, id)

	c.Resolution = resolution
	d.logger.Info("conflict resolved", "id", id, "resolution", resolution)
	return c, nil
}

func (d *Detector) record(c *models.Conflict) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.conflicts[c.ID] = c
	d.logger.Warn("sync conflict detected", "id", c.ID, "type", c.Type, "default_resolution", c.Resolution)
}

// sameCompletion — одна и та же запись: совпадает outcome и времена
// укладываются в допуск (разные устройства штампуют один визит
// с небольшим сдвигом часов)
func (d *Detector) sameCompletion(a, b models.Completion) bool {
	if a.Outcome != b.Outcome || a.AmountPence != b.AmountPence {
		return false
	}
	diff := a.Timestamp.Sub(b.Timestamp)
	if diff < 0 {
		diff = -diff
	}
	return diff <= d.cfg.MatchTolerance
}

func sameArrangement(a, b models.Arrangement) bool {
	return a.UpdatedAt.Equal(b.UpdatedAt) &&
		a.Status == b.Status &&
		a.AmountPence == b.AmountPence &&
		a.ScheduledDate == b.ScheduledDate &&
		a.CustomerName == b.CustomerName
}

func findCompletion(completions []models.Completion, index, listVersion int) int {
	for i := range completions {
		if completions[i].Index == index && completions[i].ListVersion == listVersion {
			return i
		}
	}
	return -1
}

func findArrangement(arrangements []models.Arrangement, id string) int {
	for i := range arrangements {
		if arrangements[i].ID == id {
			return i
		}
	}
	return -1
}
