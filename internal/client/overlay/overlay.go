// Package overlay реализует слой оптимистичных обновлений поверх
// подтвержденного base state. UI видит результат Apply: base плюс
// свернутые (folded) pending обновления. Подтвержденные записи
// задерживаются короткое время, чтобы следующий снапшот base успел
// включить серверный результат без визуального "мигания".
package overlay

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iudanet/fieldsync/internal/models"
)

// Config задает время жизни терминальных записей оверлея
type Config struct {
	// ConfirmTTL — задержка удаления после подтверждения сервером
	ConfirmTTL time.Duration
	// RevertTTL — задержка удаления после отката
	RevertTTL time.Duration
}

// DefaultConfig возвращает TTL по умолчанию
func DefaultConfig() Config {
	return Config{
		ConfirmTTL: 5 * time.Second,
		RevertTTL:  time.Second,
	}
}

// Service хранит активные оптимистичные обновления
type Service struct {
	now     func() time.Time
	updates map[string]*models.StateUpdate
	timers  map[string]*time.Timer
	logger  *slog.Logger
	cfg     Config
	mu      sync.Mutex
}

// NewService creates a new optimistic update overlay
func NewService(cfg Config, logger *slog.Logger) *Service {
	return &Service{
		cfg:     cfg,
		logger:  logger,
		updates: make(map[string]*models.StateUpdate),
		timers:  make(map[string]*time.Timer),
		now:     time.Now,
	}
}

// Add регистрирует оптимистичное обновление и возвращает его id.
// Пустой id генерируется; переданный id сохраняется как есть, чтобы
// вызывающий мог связать обновление с операцией журнала.
func (s *Service) Add(op models.UpdateOp, entity models.UpdateEntity, data any, id string) string {
	if id == "" {
		id = uuid.New().String()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.updates[id] = &models.StateUpdate{
		ID:        id,
		Entity:    entity,
		Op:        op,
		Status:    models.UpdateOptimistic,
		Data:      data,
		Timestamp: s.now(),
	}

	return id
}

// Confirm помечает обновление подтвержденным. Идемпотентен: повторный
// вызов и вызов для неизвестного id — no-op. Подтвержденные данные
// сервера, если переданы, замещают оптимистичные.
func (s *Service) Confirm(id string, confirmedData any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	upd, ok := s.updates[id]
	if !ok || upd.Status != models.UpdateOptimistic {
		return
	}

	upd.Status = models.UpdateConfirmed
	if confirmedData != nil {
		upd.Data = confirmedData
	}

	s.scheduleRemoval(id, s.cfg.ConfirmTTL)
}

// Revert помечает обновление откаченным; оно немедленно исчезает
// из результата Apply и удаляется после короткой задержки.
func (s *Service) Revert(id, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	upd, ok := s.updates[id]
	if !ok || upd.Status == models.UpdateReverted {
		return
	}

	upd.Status = models.UpdateReverted

	s.logger.Warn("optimistic update reverted", "id", id, "entity", upd.Entity, "reason", reason)

	s.scheduleRemoval(id, s.cfg.RevertTTL)
}

// scheduleRemoval планирует удаление записи. Вызывается под мьютексом.
func (s *Service) scheduleRemoval(id string, ttl time.Duration) {
	if t, ok := s.timers[id]; ok {
		t.Stop()
	}
	s.timers[id] = time.AfterFunc(ttl, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.updates, id)
		delete(s.timers, id)
	})
}

// Pending возвращает неподтвержденные обновления, старые первыми
func (s *Service) Pending() []*models.StateUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := make([]*models.StateUpdate, 0, len(s.updates))
	for _, upd := range s.updates {
		if upd.Status == models.UpdateOptimistic {
			pending = append(pending, upd)
		}
	}
	sortByTimestamp(pending)

	return pending
}

// Len возвращает число записей оверлея, включая терминальные
func (s *Service) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.updates)
}

// DisposeAll останавливает таймеры и сбрасывает оверлей
func (s *Service) DisposeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.timers {
		t.Stop()
	}
	s.updates = make(map[string]*models.StateUpdate)
	s.timers = make(map[string]*time.Timer)
}

// Apply сворачивает неоткаченные обновления поверх base и возвращает
// новый state. base не мутируется. Если хоть один шаг свертки
// некорректен (неожиданный тип данных), оверлей считается поврежденным
// и возвращается base без изменений: лучше честный подтвержденный
// state, чем частично примененный мусор.
func (s *Service) Apply(base *models.AppState) *models.AppState {
	s.mu.Lock()
	applicable := make([]*models.StateUpdate, 0, len(s.updates))
	for _, upd := range s.updates {
		if upd.Status != models.UpdateReverted {
			applicable = append(applicable, upd)
		}
	}
	s.mu.Unlock()

	if len(applicable) == 0 {
		return base
	}
	sortByTimestamp(applicable)

	result := base.Clone()
	for _, upd := range applicable {
		if !applyUpdate(result, upd) {
			s.logger.Error("overlay fold failed, discarding overlay for this render",
				"id", upd.ID, "entity", upd.Entity, "op", upd.Op)
			return base
		}
	}

	return result
}

func sortByTimestamp(updates []*models.StateUpdate) {
	sort.Slice(updates, func(i, j int) bool {
		return updates[i].Timestamp.Before(updates[j].Timestamp)
	})
}

// applyUpdate применяет один шаг свертки. false означает повреждение.
func applyUpdate(state *models.AppState, upd *models.StateUpdate) bool {
	switch upd.Entity {
	case models.EntityCompletion:
		return applyCompletion(state, upd)
	case models.EntityArrangement:
		return applyArrangement(state, upd)
	case models.EntitySession:
		return applySession(state, upd)
	default:
		return false
	}
}

func applyCompletion(state *models.AppState, upd *models.StateUpdate) bool {
	c, ok := upd.Data.(*models.Completion)
	if !ok || c == nil {
		return false
	}

	switch upd.Op {
	case models.UpdateCreate:
		if state.FindCompletion(c.Index, c.ListVersion) >= 0 {
			return true // уже в base, дубль не добавляем
		}
		state.Completions = append(state.Completions, *c)
	case models.UpdateUpdate:
		i := state.FindCompletion(c.Index, c.ListVersion)
		if i < 0 {
			return true
		}
		state.Completions[i] = *c
	case models.UpdateDelete:
		i := state.FindCompletion(c.Index, c.ListVersion)
		if i < 0 {
			return true
		}
		state.Completions = append(state.Completions[:i], state.Completions[i+1:]...)
	default:
		return false
	}
	return true
}

func applyArrangement(state *models.AppState, upd *models.StateUpdate) bool {
	a, ok := upd.Data.(*models.Arrangement)
	if !ok || a == nil {
		return false
	}

	switch upd.Op {
	case models.UpdateCreate:
		if state.FindArrangement(a.ID) >= 0 {
			return true
		}
		state.Arrangements = append(state.Arrangements, *a.Clone())
	case models.UpdateUpdate:
		i := state.FindArrangement(a.ID)
		if i < 0 {
			return true
		}
		state.Arrangements[i] = *a.Clone()
	case models.UpdateDelete:
		i := state.FindArrangement(a.ID)
		if i < 0 {
			return true
		}
		state.Arrangements = append(state.Arrangements[:i], state.Arrangements[i+1:]...)
	default:
		return false
	}
	return true
}

func applySession(state *models.AppState, upd *models.StateUpdate) bool {
	sess, ok := upd.Data.(*models.DaySession)
	if !ok || sess == nil {
		return false
	}

	switch upd.Op {
	case models.UpdateCreate, models.UpdateUpdate:
		for i := range state.DaySessions {
			if state.DaySessions[i].Date == sess.Date {
				// База уже знает эту дату: start применен синхронно,
				// а end мог закрыть сессию позже. Pending-запись не
				// должна переоткрывать закрытую сессию
				return true
			}
		}
		state.DaySessions = append(state.DaySessions, *sess)
		return true
	default:
		return false
	}
}
