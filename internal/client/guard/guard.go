// Package guard реализует хранилище protection flags — именованных
// временных guards, блокирующих применение облачного состояния, пока
// идет локальная критическая операция.
//
// Чтения синхронны и никогда не ходят в durable store: render-path
// вызывает их напрямую. In-memory карта авторитетна; durable запись
// write-behind best-effort — падение между "in-memory set" и flush
// теряет только флаг, не данные пользователя.
package guard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/iudanet/fieldsync/internal/client/storage"
	"github.com/iudanet/fieldsync/internal/models"
)

// Flag — имя одного protection flag
type Flag string

// Известные флаги
const (
	// FlagActiveAddress — адрес под активным таймером.
	// Намеренно без таймаута: снимается только из бизнес-операции,
	// завершающей таймер (completion или отмена). Снятие по таймеру
	// переоткрыло бы гонку, в которой данные другого устройства
	// перезаписывают кейс в работе.
	FlagActiveAddress Flag = "active_address"

	// FlagImport — идет импорт списка адресов
	FlagImport Flag = "import"

	// FlagRestore — идет восстановление из бэкапа
	FlagRestore Flag = "restore"

	// FlagArrangementSync — отправка arrangement в облако
	FlagArrangementSync Flag = "arrangement_sync"

	// FlagCompletionSync — отправка completion в облако
	FlagCompletionSync Flag = "completion_sync"

	// FlagSettingsSync — отправка настроек в облако
	FlagSettingsSync Flag = "settings_sync"
)

// ErrUnknownFlag возвращается для флага вне известного набора
var ErrUnknownFlag = errors.New("unknown protection flag")

// Config задает окна действия флагов. Нулевая длительность — флаг
// не истекает, пока не снят явно.
type Config struct {
	Timeouts map[Flag]time.Duration
}

// DefaultConfig возвращает окна по умолчанию.
// Короткие окна (6-60s) ограничены нормальной латентностью network
// submission; у active_address окно не ограничено, потому что его
// риск-окно — это время раздумий пользователя.
func DefaultConfig() Config {
	return Config{
		Timeouts: map[Flag]time.Duration{
			FlagActiveAddress:   0,
			FlagImport:          6 * time.Second,
			FlagRestore:         30 * time.Second,
			FlagArrangementSync: 20 * time.Second,
			FlagCompletionSync:  20 * time.Second,
			FlagSettingsSync:    10 * time.Second,
		},
	}
}

// Event — изменение флага, транслируемое соседним процессам
type Event struct {
	Record  *models.FlagRecord
	Flag    Flag
	Cleared bool
}

// Broadcaster — порт публикации изменений флагов между вкладками/процессами,
// разделяющими один durable store
type Broadcaster interface {
	Publish(ctx context.Context, ev Event) error
	Subscribe(handler func(Event)) (unsubscribe func())
}

// flagWrite — отложенная durable-запись флага. record == nil означает
// удаление.
type flagWrite struct {
	record *models.FlagRecord
	flag   Flag
}

// Service управляет protection flags одного процесса
type Service struct {
	now         func() time.Time
	flags       map[Flag]*models.FlagRecord
	store       storage.FlagStorage
	broadcaster Broadcaster
	logger      *slog.Logger
	unsubscribe func()
	writes      []flagWrite
	cfg         Config
	mu          sync.Mutex
	wmu         sync.Mutex
	writing     bool
}

// NewService creates a new protection flag service
func NewService(cfg Config, store storage.FlagStorage, broadcaster Broadcaster, logger *slog.Logger) *Service {
	return &Service{
		cfg:         cfg,
		flags:       make(map[Flag]*models.FlagRecord),
		store:       store,
		broadcaster: broadcaster,
		logger:      logger,
		now:         time.Now,
	}
}

// Init загружает сохранившиеся флаги из durable store (процесс мог
// упасть внутри protection window) и подписывается на изменения от
// соседних процессов.
func (s *Service) Init(ctx context.Context) error {
	persisted, err := s.store.ListFlags(ctx)
	if err != nil {
		return fmt.Errorf("failed to load persisted flags: %w", err)
	}

	now := s.now()

	s.mu.Lock()
	for name, record := range persisted {
		if record.Active(now) {
			s.flags[Flag(name)] = record
		}
	}
	s.mu.Unlock()

	if s.broadcaster != nil {
		s.unsubscribe = s.broadcaster.Subscribe(s.applyRemote)
	}

	return nil
}

// Set взводит флаг и возвращает его timestamp.
// Durable запись и broadcast выполняются асинхронно: read path
// вызывающей стороны не должен блокироваться на durability.
func (s *Service) Set(ctx context.Context, flag Flag) (time.Time, error) {
	timeout, ok := s.cfg.Timeouts[flag]
	if !ok {
		return time.Time{}, fmt.Errorf("%w: %s", ErrUnknownFlag, flag)
	}

	now := s.now()
	record := &models.FlagRecord{Timestamp: now}
	if timeout > 0 {
		expires := now.Add(timeout)
		record.ExpiresAt = &expires
	}

	s.mu.Lock()
	s.flags[flag] = record
	s.mu.Unlock()

	s.logger.Debug("protection flag set", "flag", flag, "timeout", timeout)
	s.persist(flag, record)

	return now, nil
}

// IsActive сообщает, активен ли флаг. Истекший флаг лениво удаляется
// как из памяти, так и (асинхронно) из durable store.
func (s *Service) IsActive(flag Flag) bool {
	return s.isActive(flag, nil)
}

// IsActiveWithin проверяет активность с переопределенным окном:
// флаг считается активным, только если с момента установки прошло
// меньше window, независимо от настроенного таймаута.
func (s *Service) IsActiveWithin(flag Flag, window time.Duration) bool {
	return s.isActive(flag, &window)
}

func (s *Service) isActive(flag Flag, override *time.Duration) bool {
	now := s.now()

	s.mu.Lock()
	record, ok := s.flags[flag]
	if !ok {
		s.mu.Unlock()
		return false
	}

	active := record.Active(now)
	if active && override != nil {
		active = now.Sub(record.Timestamp) < *override
	}

	if !active {
		// Ленивое истечение: запись убирается как side effect чтения
		delete(s.flags, flag)
		s.mu.Unlock()
		s.logger.Debug("protection flag expired", "flag", flag)
		s.unpersist(flag)
		return false
	}

	s.mu.Unlock()
	return true
}

// Remaining возвращает оставшееся время действия флага.
// Ноль — флаг неактивен; отрицательное значение — флаг без таймаута.
func (s *Service) Remaining(flag Flag) time.Duration {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.flags[flag]
	if !ok || !record.Active(now) {
		return 0
	}
	if record.ExpiresAt == nil {
		return -1
	}
	return record.ExpiresAt.Sub(now)
}

// Clear снимает флаг
func (s *Service) Clear(ctx context.Context, flag Flag) {
	s.mu.Lock()
	_, existed := s.flags[flag]
	delete(s.flags, flag)
	s.mu.Unlock()

	if existed {
		s.logger.Debug("protection flag cleared", "flag", flag)
	}
	s.unpersist(flag)
}

// WithProtection выполняет fn под защитой флага.
// Если флаг уже активен, fn не вызывается и возвращается ran=false.
// Флаг снимается в defer независимо от исхода fn — зависший флаг
// заблокировал бы облачные обновления навсегда.
func (s *Service) WithProtection(ctx context.Context, flag Flag, fn func(ctx context.Context) error) (ran bool, err error) {
	if s.IsActive(flag) {
		s.logger.Warn("protection flag already active, skipping", "flag", flag)
		return false, nil
	}

	if _, err := s.Set(ctx, flag); err != nil {
		return false, err
	}
	defer s.Clear(ctx, flag)

	return true, fn(ctx)
}

// DisposeAll снимает все флаги и отписывается от broadcast
func (s *Service) DisposeAll(ctx context.Context) {
	s.mu.Lock()
	names := make([]Flag, 0, len(s.flags))
	for name := range s.flags {
		names = append(names, name)
	}
	s.flags = make(map[Flag]*models.FlagRecord)
	s.mu.Unlock()

	for _, name := range names {
		s.unpersist(name)
	}

	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
}

// applyRemote применяет изменение флага, пришедшее от соседнего процесса
func (s *Service) applyRemote(ev Event) {
	s.mu.Lock()
	if ev.Cleared {
		delete(s.flags, ev.Flag)
	} else if ev.Record != nil {
		s.flags[ev.Flag] = ev.Record
	}
	s.mu.Unlock()

	s.logger.Debug("protection flag updated from sibling process", "flag", ev.Flag, "cleared", ev.Cleared)
}

// persist асинхронно пишет флаг в durable store и публикует broadcast.
// Ошибки записи не фатальны: in-memory флаг остается авторитетным
// для текущего процесса.
func (s *Service) persist(flag Flag, record *models.FlagRecord) {
	s.enqueueWrite(flagWrite{flag: flag, record: record})
}

// unpersist асинхронно удаляет флаг из durable store и публикует broadcast
func (s *Service) unpersist(flag Flag) {
	s.enqueueWrite(flagWrite{flag: flag})
}

// enqueueWrite ставит durable-запись в очередь. Очередь сливается
// одной горутиной в порядке постановки: Set→Clear не может
// перевернуться в Clear→Set и оставить снятый флаг в store.
func (s *Service) enqueueWrite(w flagWrite) {
	s.wmu.Lock()
	s.writes = append(s.writes, w)
	if s.writing {
		s.wmu.Unlock()
		return
	}
	s.writing = true
	s.wmu.Unlock()

	go s.drainWrites()
}

func (s *Service) drainWrites() {
	for {
		s.wmu.Lock()
		if len(s.writes) == 0 {
			s.writing = false
			s.wmu.Unlock()
			return
		}
		w := s.writes[0]
		s.writes = s.writes[1:]
		s.wmu.Unlock()

		s.flushWrite(w)
	}
}

func (s *Service) flushWrite(w flagWrite) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if w.record == nil {
		if err := s.store.DeleteFlag(ctx, string(w.flag)); err != nil {
			s.logger.Warn("failed to delete persisted flag", "flag", w.flag, "error", err)
		}
		if s.broadcaster != nil {
			if err := s.broadcaster.Publish(ctx, Event{Flag: w.flag, Cleared: true}); err != nil {
				s.logger.Warn("failed to broadcast flag clear", "flag", w.flag, "error", err)
			}
		}
		return
	}

	if err := s.store.PutFlag(ctx, string(w.flag), w.record); err != nil {
		s.logger.Warn("failed to persist protection flag", "flag", w.flag, "error", err)
	}
	if s.broadcaster != nil {
		if err := s.broadcaster.Publish(ctx, Event{Flag: w.flag, Record: w.record}); err != nil {
			s.logger.Warn("failed to broadcast flag set", "flag", w.flag, "error", err)
		}
	}
}
