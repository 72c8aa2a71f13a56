// Package state реализует контроллер персистентного состояния:
// загрузку снапшота с проверкой владельца, немедленную персистентность
// каждой мутации и миграцию схемы.
package state

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/iudanet/fieldsync/internal/client/storage"
	"github.com/iudanet/fieldsync/internal/crypto"
	"github.com/iudanet/fieldsync/internal/models"
)

// Status — фаза жизненного цикла контроллера
type Status string

const (
	StatusLoading   Status = "loading"
	StatusReady     Status = "ready"
	StatusCorrupted Status = "corrupted"
)

// ErrNotReady возвращается при мутации до успешной загрузки
var ErrNotReady = errors.New("state controller is not ready")

// Controller владеет каноническим снапшотом состояния.
// Каждая мутация персистится немедленно, без debounce: инструмент
// учета делает единицы записей на действие пользователя, и
// устойчивость к внезапному завершению важнее коалесцирования.
type Controller struct {
	now    func() time.Time
	base   *models.AppState
	store  storage.StateStorage
	logger *slog.Logger
	userID string
	status Status
	mu     sync.RWMutex
}

// NewController creates a new persisted-state controller
func NewController(store storage.StateStorage, logger *slog.Logger) *Controller {
	return &Controller{
		store:  store,
		logger: logger,
		status: StatusLoading,
		now:    time.Now,
	}
}

// Load читает снапшот и проверяет его принадлежность.
// Чужой владелец или битая контрольная сумма — contamination:
// конфликтный снапшот архивируется отдельно, состояние сбрасывается
// в пустое. Fail-safe, не fail-open: утечка данных между аккаунтами
// хуже потери локального кеша.
func (c *Controller) Load(ctx context.Context, expectedUserID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.userID = expectedUserID

	loaded, err := c.store.LoadState(ctx)
	switch {
	case errors.Is(err, storage.ErrStateNotFound):
		c.base = c.freshState()
		c.status = StatusReady
		c.logger.Info("no persisted state, starting fresh", "user_id", expectedUserID)
		return c.persistLocked(ctx)
	case err != nil:
		c.status = StatusCorrupted
		return fmt.Errorf("failed to load persisted state: %w", err)
	}

	if !validShape(loaded) {
		c.logger.Warn("persisted state has invalid shape, resetting to empty")
		c.base = c.freshState()
		c.status = StatusReady
		return c.persistLocked(ctx)
	}

	if contaminated(loaded, expectedUserID) {
		archiveKey := fmt.Sprintf("contamination/%s", c.now().UTC().Format(time.RFC3339))
		c.logger.Error("persisted state belongs to another user, archiving and resetting",
			"expected_user", expectedUserID,
			"found_user", loaded.OwnerUserID,
			"archive_key", archiveKey)

		if archiveErr := c.store.ArchiveState(ctx, archiveKey, loaded); archiveErr != nil {
			c.status = StatusCorrupted
			return fmt.Errorf("failed to archive contaminated state: %w", archiveErr)
		}

		c.base = c.freshState()
		c.status = StatusReady
		return c.persistLocked(ctx)
	}

	migrated := migrate(loaded, c.logger)

	// Анонимный снапшот присваивается первому вошедшему пользователю
	// навсегда: без штампа владельца следующий аккаунт на этом
	// устройстве унаследовал бы чужие данные
	if migrated.OwnerUserID == "" && expectedUserID != "" {
		adopted := migrated.Clone()
		adopted.OwnerUserID = expectedUserID
		adopted.OwnerChecksum = crypto.OwnerChecksum(expectedUserID,
			len(adopted.Addresses), len(adopted.Completions), adopted.CurrentListVersion)
		c.logger.Info("anonymous snapshot adopted", "user_id", expectedUserID)

		c.base = adopted
		c.status = StatusReady
		return c.persistLocked(ctx)
	}

	c.base = migrated
	c.status = StatusReady
	if migrated.SchemaVersion != loaded.SchemaVersion {
		return c.persistLocked(ctx)
	}
	return nil
}

// Mutate применяет мутацию к копии состояния и немедленно персистит
// результат. Ошибка fn откатывает мутацию целиком: base не меняется.
func (c *Controller) Mutate(ctx context.Context, fn func(*models.AppState) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status != StatusReady {
		return ErrNotReady
	}

	next := c.base.Clone()
	if err := fn(next); err != nil {
		return err
	}

	next.OwnerChecksum = crypto.OwnerChecksum(next.OwnerUserID,
		len(next.Addresses), len(next.Completions), next.CurrentListVersion)

	c.base = next
	return c.persistLocked(ctx)
}

// Base возвращает глубокую копию подтвержденного состояния
func (c *Controller) Base() *models.AppState {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.base == nil {
		return models.NewAppState()
	}
	return c.base.Clone()
}

// ContaminationArchives возвращает ключи аварийных снапшотов,
// отложенных при обнаружении чужих данных
func (c *Controller) ContaminationArchives(ctx context.Context) ([]string, error) {
	keys, err := c.store.ListArchiveKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list state archives: %w", err)
	}
	return keys, nil
}

// Status возвращает текущую фазу контроллера
func (c *Controller) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// persistLocked сохраняет base. Вызывается под мьютексом.
func (c *Controller) persistLocked(ctx context.Context) error {
	if err := c.store.SaveState(ctx, c.base); err != nil {
		return fmt.Errorf("failed to persist state: %w", err)
	}
	return nil
}

func (c *Controller) freshState() *models.AppState {
	state := models.NewAppState()
	state.OwnerUserID = c.userID
	state.OwnerChecksum = crypto.OwnerChecksum(c.userID, 0, 0, 0)
	return state
}

// contaminated — снапшот принадлежит другому пользователю или его
// контрольная сумма не сходится. Анонимный снапшот (до первого логина)
// принимается; Load штампует ему текущего владельца.
func contaminated(state *models.AppState, expectedUserID string) bool {
	if state.OwnerUserID == "" {
		return false
	}
	if state.OwnerUserID != expectedUserID {
		return true
	}
	return !crypto.VerifyOwnerChecksum(state.OwnerChecksum, state.OwnerUserID,
		len(state.Addresses), len(state.Completions), state.CurrentListVersion)
}

// validShape проверяет структурную корректность снапшота перед
// использованием. Битая форма — это warning и пустое состояние,
// никогда не падение.
func validShape(state *models.AppState) bool {
	if state == nil {
		return false
	}
	if state.Addresses == nil || state.Completions == nil ||
		state.Arrangements == nil || state.DaySessions == nil {
		return false
	}
	if state.CurrentListVersion < 0 || state.SchemaVersion < 0 {
		return false
	}
	if state.ActiveIndex != nil {
		if *state.ActiveIndex < 0 || *state.ActiveIndex >= len(state.Addresses) {
			return false
		}
	}
	return true
}

// migrate поднимает снапшот до текущей версии схемы
func migrate(state *models.AppState, logger *slog.Logger) *models.AppState {
	if state.SchemaVersion >= models.CurrentSchemaVersion {
		return state
	}

	out := state.Clone()

	// v1 -> v2: появились настройки бонусов и напоминаний
	if out.SchemaVersion < 2 {
		if out.Settings.Reminder.DaysBefore == 0 {
			out.Settings.Reminder.DaysBefore = 1
		}
	}

	logger.Info("migrated persisted state schema",
		"from", state.SchemaVersion, "to", models.CurrentSchemaVersion)
	out.SchemaVersion = models.CurrentSchemaVersion
	return out
}
