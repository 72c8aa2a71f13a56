// Package repo содержит тонкие per-entity фасады отправки операций.
// Каждый фасад оборачивает submit в правильную хореографию защитных
// флагов: флаг ставится ДО сетевого вызова и снимается после его
// завершения, успешного или нет. Исключение — флаг активного адреса:
// он переживает сетевой round-trip и снимается только бизнес-операцией,
// завершающей прозвон (completion или отмена).
package repo

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/iudanet/fieldsync/internal/client/guard"
	"github.com/iudanet/fieldsync/internal/models"
)

// Submitter — порт отправки операции в sync-слой.
// Ошибка отправки не проглатывается: фасад логирует и пробрасывает,
// чтобы вызывающий направил операцию в очередь повторов.
type Submitter interface {
	Submit(ctx context.Context, op *models.Operation) error
}

// Repositories объединяет фасады всех сущностей
type Repositories struct {
	Completions  *CompletionRepo
	Addresses    *AddressRepo
	Arrangements *ArrangementRepo
	Sessions     *SessionRepo
	Settings     *SettingsRepo
}

// New собирает полный набор фасадов поверх одного submitter
func New(submitter Submitter, guards *guard.Service, logger *slog.Logger) *Repositories {
	return &Repositories{
		Completions:  &CompletionRepo{submitter: submitter, guards: guards, logger: logger},
		Addresses:    &AddressRepo{submitter: submitter, guards: guards, logger: logger},
		Arrangements: &ArrangementRepo{submitter: submitter, guards: guards, logger: logger},
		Sessions:     &SessionRepo{submitter: submitter, guards: guards, logger: logger},
		Settings:     &SettingsRepo{submitter: submitter, guards: guards, logger: logger},
	}
}

// submitGuarded — общая хореография: флаг до вызова, снятие после
func submitGuarded(ctx context.Context, s Submitter, g *guard.Service, flag guard.Flag, logger *slog.Logger, op *models.Operation) error {
	if _, err := g.Set(ctx, flag); err != nil {
		return fmt.Errorf("failed to set protection flag: %w", err)
	}
	defer g.Clear(ctx, flag)

	if err := s.Submit(ctx, op); err != nil {
		logger.Error("operation submission failed", "type", op.Type, "sequence", op.Sequence, "error", err)
		return fmt.Errorf("submission failed: %w", err)
	}
	return nil
}

// CompletionRepo отправляет операции завершений
type CompletionRepo struct {
	submitter Submitter
	guards    *guard.Service
	logger    *slog.Logger
}

// SaveCompletion отправляет создание completion. Снимает флаг активного
// адреса после отправки: бизнес-операция прозвона завершена.
func (r *CompletionRepo) SaveCompletion(ctx context.Context, op *models.Operation) error {
	err := submitGuarded(ctx, r.submitter, r.guards, guard.FlagCompletionSync, r.logger, op)

	// Завершение закрывает активный прозвон независимо от исхода
	// отправки: локальный state уже переведен редьюсером
	r.guards.Clear(ctx, guard.FlagActiveAddress)

	return err
}

// UpdateCompletion отправляет изменение исхода
func (r *CompletionRepo) UpdateCompletion(ctx context.Context, op *models.Operation) error {
	return submitGuarded(ctx, r.submitter, r.guards, guard.FlagCompletionSync, r.logger, op)
}

// DeleteCompletion отправляет удаление completion
func (r *CompletionRepo) DeleteCompletion(ctx context.Context, op *models.Operation) error {
	return submitGuarded(ctx, r.submitter, r.guards, guard.FlagCompletionSync, r.logger, op)
}

// AddressRepo отправляет операции адресного списка
type AddressRepo struct {
	submitter Submitter
	guards    *guard.Service
	logger    *slog.Logger
}

// AddAddress отправляет добавление одного адреса
func (r *AddressRepo) AddAddress(ctx context.Context, op *models.Operation) error {
	if err := r.submitter.Submit(ctx, op); err != nil {
		r.logger.Error("operation submission failed", "type", op.Type, "sequence", op.Sequence, "error", err)
		return fmt.Errorf("submission failed: %w", err)
	}
	return nil
}

// BulkImport отправляет импорт списка под импортным флагом
func (r *AddressRepo) BulkImport(ctx context.Context, op *models.Operation) error {
	return submitGuarded(ctx, r.submitter, r.guards, guard.FlagImport, r.logger, op)
}

// StartAddress ставит бессрочный флаг активного адреса и отправляет
// ACTIVE_INDEX_SET. Флаг НЕ снимается при выходе: прозвон идет, пока
// его не закроет completion или отмена. Снять его по таймеру нельзя —
// это открыло бы гонку, в которой данные другого устройства
// перезаписывают кейс в работе.
func (r *AddressRepo) StartAddress(ctx context.Context, op *models.Operation) error {
	if _, err := r.guards.Set(ctx, guard.FlagActiveAddress); err != nil {
		return fmt.Errorf("failed to set protection flag: %w", err)
	}

	if err := r.submitter.Submit(ctx, op); err != nil {
		r.logger.Error("operation submission failed", "type", op.Type, "sequence", op.Sequence, "error", err)
		return fmt.Errorf("submission failed: %w", err)
	}
	return nil
}

// CancelAddress отправляет сброс активного индекса и снимает флаг.
// Компенсирующий переход: уже отправленные запросы не прерываются.
func (r *AddressRepo) CancelAddress(ctx context.Context, op *models.Operation) error {
	defer r.guards.Clear(ctx, guard.FlagActiveAddress)

	if err := r.submitter.Submit(ctx, op); err != nil {
		r.logger.Error("operation submission failed", "type", op.Type, "sequence", op.Sequence, "error", err)
		return fmt.Errorf("submission failed: %w", err)
	}
	return nil
}

// ArrangementRepo отправляет операции договоренностей
type ArrangementRepo struct {
	submitter Submitter
	guards    *guard.Service
	logger    *slog.Logger
}

func (r *ArrangementRepo) SaveArrangement(ctx context.Context, op *models.Operation) error {
	return submitGuarded(ctx, r.submitter, r.guards, guard.FlagArrangementSync, r.logger, op)
}

func (r *ArrangementRepo) UpdateArrangement(ctx context.Context, op *models.Operation) error {
	return submitGuarded(ctx, r.submitter, r.guards, guard.FlagArrangementSync, r.logger, op)
}

func (r *ArrangementRepo) DeleteArrangement(ctx context.Context, op *models.Operation) error {
	return submitGuarded(ctx, r.submitter, r.guards, guard.FlagArrangementSync, r.logger, op)
}

// SessionRepo отправляет операции рабочих сессий
type SessionRepo struct {
	submitter Submitter
	guards    *guard.Service
	logger    *slog.Logger
}

func (r *SessionRepo) SaveSession(ctx context.Context, op *models.Operation) error {
	if err := r.submitter.Submit(ctx, op); err != nil {
		r.logger.Error("operation submission failed", "type", op.Type, "sequence", op.Sequence, "error", err)
		return fmt.Errorf("submission failed: %w", err)
	}
	return nil
}

// SettingsRepo отправляет операции настроек
type SettingsRepo struct {
	submitter Submitter
	guards    *guard.Service
	logger    *slog.Logger
}

func (r *SettingsRepo) UpdateSettings(ctx context.Context, op *models.Operation) error {
	return submitGuarded(ctx, r.submitter, r.guards, guard.FlagSettingsSync, r.logger, op)
}
