// Package sync реализует движок синхронизации журнала операций:
// выпуск операций с per-device sequence, оптимистичное применение,
// отправку на сервер с маршрутизацией ошибок в очередь повторов
// и слияние операций других устройств с детекцией конфликтов.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iudanet/fieldsync/internal/client/conflict"
	"github.com/iudanet/fieldsync/internal/client/guard"
	"github.com/iudanet/fieldsync/internal/client/overlay"
	"github.com/iudanet/fieldsync/internal/client/queue"
	"github.com/iudanet/fieldsync/internal/client/repo"
	"github.com/iudanet/fieldsync/internal/client/state"
	"github.com/iudanet/fieldsync/internal/client/storage"
	"github.com/iudanet/fieldsync/internal/models"
	"github.com/iudanet/fieldsync/internal/reducers"
	"github.com/iudanet/fieldsync/internal/validation"
	"github.com/iudanet/fieldsync/pkg/api"
)

// ErrRejected — сервер отверг операцию как невалидную или конфликтную.
// Терминальная ошибка: повторная отправка той же операции бессмысленна.
var ErrRejected = errors.New("operation rejected by server")

// maxClockSkew — допустимое опережение часов производителя.
// Грубая защита от сломанных часов, не от малого skew: малый skew —
// задокументированная слабость LWW-порядка.
const maxClockSkew = 24 * time.Hour

// Client — транспортный порт движка
type Client interface {
	SubmitOperations(ctx context.Context, req api.OpsRequest) (*api.OpsResponse, error)
	FetchOperations(ctx context.Context, since int64) (*api.PullResponse, error)
}

// Engine связывает контроллер состояния, оверлей, очередь повторов,
// защитные флаги и детектор конфликтов в один конвейер
type Engine struct {
	now      func() time.Time
	client   Client
	states   *state.Controller
	overlay  *overlay.Service
	queue    *queue.Queue
	guards   *guard.Service
	detector *conflict.Detector
	meta     storage.MetadataStorage
	repos    *repo.Repositories
	logger   *slog.Logger

	// lastRemoteSeq — последний примененный sequence каждого чужого
	// устройства, для детекции пропусков
	lastRemoteSeq map[string]int64
	// held — входящие операции, придержанные активным защитным флагом
	held []models.Operation

	reducerCfg reducers.Config
	deviceID   string
	mu         sync.Mutex
}

// NewEngine creates a new sync engine
func NewEngine(
	client Client,
	states *state.Controller,
	ovl *overlay.Service,
	q *queue.Queue,
	guards *guard.Service,
	detector *conflict.Detector,
	meta storage.MetadataStorage,
	logger *slog.Logger,
) *Engine {
	e := &Engine{
		client:        client,
		states:        states,
		overlay:       ovl,
		queue:         q,
		guards:        guards,
		detector:      detector,
		meta:          meta,
		logger:        logger,
		reducerCfg:    reducers.DefaultConfig(),
		lastRemoteSeq: make(map[string]int64),
		now:           time.Now,
	}
	e.repos = repo.New(e, guards, logger)
	return e
}

// Init загружает или создает идентификатор установки
func (e *Engine) Init(ctx context.Context) error {
	deviceID, err := e.meta.GetDeviceID(ctx)
	switch {
	case errors.Is(err, storage.ErrMetadataNotFound):
		deviceID = uuid.New().String()
		if err := e.meta.SaveDeviceID(ctx, deviceID); err != nil {
			return fmt.Errorf("failed to save device id: %w", err)
		}
		e.logger.Info("assigned new device id", "device_id", deviceID)
	case err != nil:
		return fmt.Errorf("failed to load device id: %w", err)
	}

	e.deviceID = deviceID

	// Последние примененные sequence чужих устройств переживают
	// рестарт: иначе детекция пропусков каждый раз начинается вслепую
	remoteSeqs, err := e.meta.GetRemoteSequences(ctx)
	if err != nil {
		return fmt.Errorf("failed to load remote sequences: %w", err)
	}
	e.mu.Lock()
	for dev, seq := range remoteSeqs {
		e.lastRemoteSeq[dev] = seq
	}
	e.mu.Unlock()

	return nil
}

// DeviceID возвращает идентификатор установки
func (e *Engine) DeviceID() string {
	return e.deviceID
}

// NewOperation выпускает операцию журнала: стабильный ID, wall-clock
// метка, идентификатор устройства и следующий sequence. Sequence
// персистится до использования: пропуск в нумерации — сигнал потери
// данных, его нельзя создать самим движком.
func (e *Engine) NewOperation(ctx context.Context, opType models.OperationType, payload any) (*models.Operation, error) {
	raw, err := models.EncodePayload(payload)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	last, err := e.meta.GetSequence(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load sequence counter: %w", err)
	}
	next := last + 1
	if err := e.meta.SaveSequence(ctx, next); err != nil {
		return nil, fmt.Errorf("failed to persist sequence counter: %w", err)
	}

	return &models.Operation{
		ID:        uuid.New().String(),
		Timestamp: e.now().UTC(),
		DeviceID:  e.deviceID,
		Sequence:  next,
		Type:      opType,
		Payload:   raw,
	}, nil
}

// Execute проводит операцию через весь конвейер: валидация,
// оптимистичный оверлей, синхронная мутация base, отправка.
// Сетевой сбой не всплывает к вызвавшему действию: операция уходит
// в очередь повторов, а действие выглядит успешным.
func (e *Engine) Execute(ctx context.Context, op *models.Operation) error {
	if err := validation.ValidateOperation(op); err != nil {
		return fmt.Errorf("operation rejected: %w", err)
	}

	entity, updOp, data, hasOverlay := overlayEntry(op)
	if hasOverlay {
		e.overlay.Add(updOp, entity, data, op.ID)
	}

	if err := e.states.Mutate(ctx, func(s *models.AppState) error {
		next, err := reducers.Apply(e.reducerCfg, s, op)
		if err != nil {
			return err
		}
		*s = *next
		return nil
	}); err != nil {
		if hasOverlay {
			e.overlay.Revert(op.ID, err.Error())
		}
		return err
	}

	if err := e.dispatch(ctx, op); err != nil {
		if errors.Is(err, ErrRejected) {
			// Терминальный отказ: локальная валидация его пропустила,
			// но повторять бессмысленно
			if hasOverlay {
				e.overlay.Revert(op.ID, err.Error())
			}
			return err
		}

		if qErr := e.queue.EnqueueFailure(ctx, op, err.Error()); qErr != nil {
			e.logger.Error("failed to enqueue operation for retry", "sequence", op.Sequence, "error", qErr)
			return qErr
		}
		return nil
	}

	if hasOverlay {
		e.overlay.Confirm(op.ID, nil)
	}
	return nil
}

// dispatch направляет операцию через фасад ее сущности, чтобы
// сработала правильная хореография защитных флагов
func (e *Engine) dispatch(ctx context.Context, op *models.Operation) error {
	switch op.Type {
	case models.OpCompletionCreate:
		return e.repos.Completions.SaveCompletion(ctx, op)
	case models.OpCompletionUpdate:
		return e.repos.Completions.UpdateCompletion(ctx, op)
	case models.OpCompletionDelete:
		return e.repos.Completions.DeleteCompletion(ctx, op)
	case models.OpAddressAdd:
		return e.repos.Addresses.AddAddress(ctx, op)
	case models.OpAddressBulkImport:
		return e.repos.Addresses.BulkImport(ctx, op)
	case models.OpActiveIndexSet:
		return e.dispatchActiveIndex(ctx, op)
	case models.OpArrangementCreate:
		return e.repos.Arrangements.SaveArrangement(ctx, op)
	case models.OpArrangementUpdate:
		return e.repos.Arrangements.UpdateArrangement(ctx, op)
	case models.OpArrangementDelete:
		return e.repos.Arrangements.DeleteArrangement(ctx, op)
	case models.OpSessionStart, models.OpSessionEnd, models.OpSessionUpdate:
		return e.repos.Sessions.SaveSession(ctx, op)
	case models.OpSettingsUpdateBonus, models.OpSettingsUpdateReminder:
		return e.repos.Settings.UpdateSettings(ctx, op)
	default:
		return fmt.Errorf("no repository for operation type %q", op.Type)
	}
}

// dispatchActiveIndex различает старт прозвона и его отмену
func (e *Engine) dispatchActiveIndex(ctx context.Context, op *models.Operation) error {
	payload, err := op.DecodePayload()
	if err != nil {
		return err
	}
	p, ok := payload.(*models.ActiveIndexSetPayload)
	if !ok {
		return fmt.Errorf("unexpected payload type %T", payload)
	}

	if p.Index == nil {
		return e.repos.Addresses.CancelAddress(ctx, op)
	}
	return e.repos.Addresses.StartAddress(ctx, op)
}

// Submit отправляет одну операцию на сервер. Реализует repo.Submitter.
func (e *Engine) Submit(ctx context.Context, op *models.Operation) error {
	resp, err := e.client.SubmitOperations(ctx, api.OpsRequest{
		Operations: []api.Operation{toWire(op)},
	})
	if err != nil {
		return err
	}
	if len(resp.Results) != 1 {
		return fmt.Errorf("server returned %d results for 1 operation", len(resp.Results))
	}

	result := resp.Results[0]
	switch result.Status {
	case api.OpStatusOK:
	case api.OpStatusDuplicate:
		// Повтор уже принятой операции, исход тот же
		e.logger.Info("operation was already applied", "sequence", op.Sequence)
	case api.OpStatusInvalid, api.OpStatusConflict:
		return fmt.Errorf("%w: %s", ErrRejected, result.Message)
	default:
		return fmt.Errorf("unknown result status %q", result.Status)
	}

	if err := e.meta.SaveSyncCursor(ctx, resp.Cursor); err != nil {
		e.logger.Warn("failed to persist sync cursor", "error", err)
	}
	return nil
}

// DrainResult — итоги прохода по очереди повторов
type DrainResult struct {
	Retried int
	Failed  int
	Dropped int
}

// DrainRetries отправляет созревшие операции очереди, oldest-first
func (e *Engine) DrainRetries(ctx context.Context) (*DrainResult, error) {
	ready, err := e.queue.ReadyForRetry(ctx)
	if err != nil {
		return nil, err
	}

	result := &DrainResult{}
	for _, item := range ready {
		op := item.Operation
		err := e.Submit(ctx, &op)
		switch {
		case err == nil:
			if rmErr := e.queue.RemoveOnSuccess(ctx, op.Sequence); rmErr != nil {
				return result, rmErr
			}
			e.overlay.Confirm(op.ID, nil)
			result.Retried++
		case errors.Is(err, ErrRejected):
			// Терминальный отказ при повторе: убираем из очереди,
			// оверлейная запись откатывается
			e.logger.Error("queued operation rejected by server", "sequence", op.Sequence, "error", err)
			if rmErr := e.queue.RemoveOnSuccess(ctx, op.Sequence); rmErr != nil {
				return result, rmErr
			}
			e.overlay.Revert(op.ID, err.Error())
			result.Dropped++
		default:
			if qErr := e.queue.EnqueueFailure(ctx, &op, err.Error()); qErr != nil {
				return result, qErr
			}
			result.Failed++
		}
	}
	return result, nil
}

// MergeResult — итоги слияния операций других устройств
type MergeResult struct {
	Applied   int
	Skipped   int
	Held      int
	Rejected  int
	Gaps      int
	Conflicts int
}

// MergeRemote забирает операции других устройств с сохраненного
// курсора и сворачивает их в локальное состояние.
// Пропуск в sequence какого-либо устройства — сигнал потери данных:
// логируется как ошибка, никогда не игнорируется молча.
func (e *Engine) MergeRemote(ctx context.Context) (*MergeResult, error) {
	cursor, err := e.meta.GetSyncCursor(ctx)
	if err != nil {
		e.logger.Warn("failed to load sync cursor, using 0", "error", err)
		cursor = 0
	}

	resp, err := e.client.FetchOperations(ctx, cursor)
	if err != nil {
		return nil, fmt.Errorf("pull failed: %w", err)
	}

	e.mu.Lock()
	pending := e.held
	e.held = nil
	e.mu.Unlock()

	for _, wireOp := range resp.Operations {
		op := fromWire(wireOp)
		if op.DeviceID == e.deviceID {
			continue
		}
		pending = append(pending, op)
	}

	result := &MergeResult{}
	result.Gaps = e.detectGaps(pending)

	// Применяем в порядке wall-clock, как и оверлей
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].Timestamp.Before(pending[j].Timestamp)
	})

	for i := range pending {
		e.mergeOne(ctx, &pending[i], result)
	}

	if err := e.meta.SaveSyncCursor(ctx, resp.Cursor); err != nil {
		e.logger.Warn("failed to persist sync cursor", "error", err)
	}
	if err := e.meta.SaveRemoteSequences(ctx, e.remoteSequences()); err != nil {
		e.logger.Warn("failed to persist remote sequences", "error", err)
	}

	e.logger.Info("remote merge completed",
		"applied", result.Applied,
		"skipped", result.Skipped,
		"held", result.Held,
		"rejected", result.Rejected,
		"gaps", result.Gaps,
		"conflicts", result.Conflicts)

	return result, nil
}

// mergeOne сворачивает одну чужую операцию в состояние
func (e *Engine) mergeOne(ctx context.Context, op *models.Operation, result *MergeResult) {
	if op.Timestamp.After(e.now().Add(maxClockSkew)) {
		e.logger.Error("rejecting operation with timestamp too far in the future",
			"id", op.ID, "device_id", op.DeviceID, "timestamp", op.Timestamp)
		result.Rejected++
		return
	}

	if held, conflicts := e.checkConflicts(op); held {
		e.mu.Lock()
		e.held = append(e.held, *op.Clone())
		e.mu.Unlock()
		result.Held++
		return
	} else if conflicts > 0 {
		result.Conflicts += conflicts
	}

	if err := e.states.Mutate(ctx, func(s *models.AppState) error {
		next, err := reducers.Apply(e.reducerCfg, s, op)
		if err != nil {
			return err
		}
		*s = *next
		return nil
	}); err != nil {
		// Нарушение инварианта чужой операцией: состояние не тронуто
		e.logger.Warn("skipping remote operation", "id", op.ID, "error", err)
		result.Skipped++
		return
	}

	e.trackSequence(op)
	result.Applied++
}

// checkConflicts прогоняет материализованную сущность операции через
// детектор. held=true означает, что применение отложено защитным флагом.
func (e *Engine) checkConflicts(op *models.Operation) (held bool, conflicts int) {
	payload, err := op.DecodePayload()
	if err != nil {
		return false, 0
	}

	base := e.states.Base()

	switch p := payload.(type) {
	case *models.CompletionCreatePayload:
		incoming := models.Completion{
			ID:          op.ID,
			Index:       p.Index,
			ListVersion: p.ListVersion,
			Outcome:     p.Outcome,
			AmountPence: p.AmountPence,
			Timestamp:   p.Timestamp,
		}
		found, heldBack := e.detector.DetectCompletions([]models.Completion{incoming}, base.Completions)
		return len(heldBack) > 0, len(found)
	case *models.CompletionUpdatePayload:
		incoming := models.Completion{
			Index:       p.Index,
			ListVersion: p.ListVersion,
			Outcome:     p.Outcome,
			AmountPence: p.AmountPence,
			Timestamp:   p.Timestamp,
		}
		found, heldBack := e.detector.DetectCompletions([]models.Completion{incoming}, base.Completions)
		return len(heldBack) > 0, len(found)
	case *models.ArrangementCreatePayload:
		found, heldBack := e.detector.DetectArrangements([]models.Arrangement{p.Arrangement}, base.Arrangements)
		return len(heldBack) > 0, len(found)
	case *models.ArrangementUpdatePayload:
		found, heldBack := e.detector.DetectArrangements([]models.Arrangement{p.Arrangement}, base.Arrangements)
		return len(heldBack) > 0, len(found)
	default:
		return false, 0
	}
}

// detectGaps проверяет непрерывность sequence по каждому устройству
func (e *Engine) detectGaps(ops []models.Operation) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	byDevice := make(map[string][]int64)
	for i := range ops {
		byDevice[ops[i].DeviceID] = append(byDevice[ops[i].DeviceID], ops[i].Sequence)
	}

	gaps := 0
	for deviceID, seqs := range byDevice {
		sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })

		prev := e.lastRemoteSeq[deviceID]
		for _, seq := range seqs {
			if prev > 0 && seq > prev+1 {
				e.logger.Error("sequence gap detected, possible data loss",
					"device_id", deviceID, "expected", prev+1, "got", seq)
				gaps += int(seq - prev - 1)
			}
			if seq > prev {
				prev = seq
			}
		}
	}
	return gaps
}

// remoteSequences снимает копию счетчиков чужих устройств
func (e *Engine) remoteSequences() map[string]int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]int64, len(e.lastRemoteSeq))
	for dev, seq := range e.lastRemoteSeq {
		out[dev] = seq
	}
	return out
}

// trackSequence запоминает последний примененный sequence устройства
func (e *Engine) trackSequence(op *models.Operation) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if op.Sequence > e.lastRemoteSeq[op.DeviceID] {
		e.lastRemoteSeq[op.DeviceID] = op.Sequence
	}
}

// Rendered возвращает состояние для отображения: base плюс оверлей
func (e *Engine) Rendered() *models.AppState {
	return e.overlay.Apply(e.states.Base())
}

// BaseState возвращает подтвержденное состояние без оверлея
func (e *Engine) BaseState() *models.AppState {
	return e.states.Base()
}

// QueueStats возвращает статистику очереди для панели состояния
func (e *Engine) QueueStats(ctx context.Context) (*models.QueueStats, error) {
	return e.queue.Stats(ctx)
}

// DeadLetters возвращает перманентно провалившиеся операции
func (e *Engine) DeadLetters(ctx context.Context) ([]*models.DeadLetterItem, error) {
	return e.queue.DeadLetters(ctx)
}

// ClearQueue удаляет все ожидающие повторы. Dead letters сохраняются.
func (e *Engine) ClearQueue(ctx context.Context) error {
	return e.queue.Clear(ctx)
}

// Conflicts возвращает открытые конфликты
func (e *Engine) Conflicts() []*models.Conflict {
	return e.detector.Conflicts()
}

// ResolveConflict закрывает конфликт и применяет выбранную сторону
func (e *Engine) ResolveConflict(ctx context.Context, id string, resolution models.Resolution) error {
	c, err := e.detector.Resolve(id, resolution)
	if err != nil {
		return err
	}
	if resolution != models.PreferIncoming {
		return nil
	}

	return e.states.Mutate(ctx, func(s *models.AppState) error {
		switch c.Type {
		case models.ConflictCompletion:
			incoming, ok := c.Incoming.(models.Completion)
			if !ok {
				return fmt.Errorf("unexpected conflict payload type %T", c.Incoming)
			}
			if i := s.FindCompletion(incoming.Index, incoming.ListVersion); i >= 0 {
				s.Completions[i] = incoming
			} else {
				s.Completions = append(s.Completions, incoming)
			}
		case models.ConflictArrangement:
			incoming, ok := c.Incoming.(models.Arrangement)
			if !ok {
				return fmt.Errorf("unexpected conflict payload type %T", c.Incoming)
			}
			if i := s.FindArrangement(incoming.ID); i >= 0 {
				s.Arrangements[i] = *incoming.Clone()
			} else {
				s.Arrangements = append(s.Arrangements, *incoming.Clone())
			}
		}
		return nil
	})
}

// overlayEntry собирает оверлейную запись для операции.
// Не у всех операций она есть: добавление адресов, bulk import и
// настройки меняют base синхронно; оверлейная копия адреса давала бы
// дубль в Rendered и сдвигала бы позиционные индексы.
func overlayEntry(op *models.Operation) (models.UpdateEntity, models.UpdateOp, any, bool) {
	payload, err := op.DecodePayload()
	if err != nil {
		return "", "", nil, false
	}

	switch p := payload.(type) {
	case *models.CompletionCreatePayload:
		return models.EntityCompletion, models.UpdateCreate, &models.Completion{
			ID:               op.ID,
			Index:            p.Index,
			ListVersion:      p.ListVersion,
			Outcome:          p.Outcome,
			AmountPence:      p.AmountPence,
			ArrangementID:    p.ArrangementID,
			TimeSpentSeconds: p.TimeSpentSeconds,
			Timestamp:        p.Timestamp,
		}, true
	case *models.CompletionUpdatePayload:
		return models.EntityCompletion, models.UpdateUpdate, &models.Completion{
			ID:          op.ID,
			Index:       p.Index,
			ListVersion: p.ListVersion,
			Outcome:     p.Outcome,
			AmountPence: p.AmountPence,
			Timestamp:   p.Timestamp,
		}, true
	case *models.CompletionDeletePayload:
		return models.EntityCompletion, models.UpdateDelete, &models.Completion{
			Index:       p.Index,
			ListVersion: p.ListVersion,
		}, true
	case *models.ArrangementCreatePayload:
		return models.EntityArrangement, models.UpdateCreate, p.Arrangement.Clone(), true
	case *models.ArrangementUpdatePayload:
		return models.EntityArrangement, models.UpdateUpdate, p.Arrangement.Clone(), true
	case *models.ArrangementDeletePayload:
		return models.EntityArrangement, models.UpdateDelete, &models.Arrangement{ID: p.ID}, true
	case *models.SessionStartPayload:
		return models.EntitySession, models.UpdateCreate, &models.DaySession{
			Date:  p.Date,
			Start: p.Start,
		}, true
	default:
		return "", "", nil, false
	}
}

// toWire преобразует операцию в проводной формат
func toWire(op *models.Operation) api.Operation {
	return api.Operation{
		ID:        op.ID,
		Timestamp: op.Timestamp,
		DeviceID:  op.DeviceID,
		Sequence:  op.Sequence,
		Type:      string(op.Type),
		Payload:   op.Payload,
	}
}

// fromWire преобразует проводную операцию в модель
func fromWire(op api.Operation) models.Operation {
	return models.Operation{
		ID:        op.ID,
		Timestamp: op.Timestamp,
		DeviceID:  op.DeviceID,
		Sequence:  op.Sequence,
		Type:      models.OperationType(op.Type),
		Payload:   op.Payload,
	}
}
