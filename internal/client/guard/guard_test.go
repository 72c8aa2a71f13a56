package guard

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/fieldsync/internal/models"
)

// memFlagStore — in-memory реализация storage.FlagStorage для тестов
type memFlagStore struct {
	flags map[string]*models.FlagRecord
	mu    sync.Mutex
}

func newMemFlagStore() *memFlagStore {
	return &memFlagStore{flags: make(map[string]*models.FlagRecord)}
}

func (m *memFlagStore) PutFlag(ctx context.Context, name string, record *models.FlagRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flags[name] = record
	return nil
}

func (m *memFlagStore) DeleteFlag(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.flags, name)
	return nil
}

func (m *memFlagStore) ListFlags(ctx context.Context) (map[string]*models.FlagRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]*models.FlagRecord, len(m.flags))
	for k, v := range m.flags {
		out[k] = v
	}
	return out, nil
}

func (m *memFlagStore) contains(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.flags[name]
	return ok
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(t *testing.T) (*Service, *memFlagStore, *time.Time) {
	t.Helper()

	store := newMemFlagStore()
	svc := NewService(DefaultConfig(), store, NoopBroadcaster{}, testLogger())

	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	require.NoError(t, svc.Init(context.Background()))
	return svc, store, &now
}

func TestService_SetAndIsActive(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	ts, err := svc.Set(ctx, FlagImport)
	require.NoError(t, err)
	assert.False(t, ts.IsZero())
	assert.True(t, svc.IsActive(FlagImport))

	svc.Clear(ctx, FlagImport)
	assert.False(t, svc.IsActive(FlagImport))
}

func TestService_UnknownFlag(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Set(context.Background(), Flag("bogus"))
	assert.ErrorIs(t, err, ErrUnknownFlag)
}

func TestService_LazyExpiry(t *testing.T) {
	ctx := context.Background()
	svc, store, now := newTestService(t)

	_, err := svc.Set(ctx, FlagImport) // окно 6000ms
	require.NoError(t, err)

	// Durable запись write-behind
	require.Eventually(t, func() bool { return store.contains("import") }, time.Second, 5*time.Millisecond)

	*now = now.Add(5999 * time.Millisecond)
	assert.True(t, svc.IsActive(FlagImport))

	*now = now.Add(2 * time.Millisecond) // t=6001ms
	assert.False(t, svc.IsActive(FlagImport))

	// Ленивое истечение убирает запись и из durable store
	svc.mu.Lock()
	_, inMemory := svc.flags[FlagImport]
	svc.mu.Unlock()
	assert.False(t, inMemory)
	require.Eventually(t, func() bool { return !store.contains("import") }, time.Second, 5*time.Millisecond)
}

func TestService_ActiveAddressNeverExpires(t *testing.T) {
	ctx := context.Background()
	svc, _, now := newTestService(t)

	_, err := svc.Set(ctx, FlagActiveAddress)
	require.NoError(t, err)

	// Пользователь может держать кейс открытым сколь угодно долго
	*now = now.Add(48 * time.Hour)
	assert.True(t, svc.IsActive(FlagActiveAddress))
	assert.Equal(t, time.Duration(-1), svc.Remaining(FlagActiveAddress))

	svc.Clear(ctx, FlagActiveAddress)
	assert.False(t, svc.IsActive(FlagActiveAddress))
}

func TestService_Remaining(t *testing.T) {
	ctx := context.Background()
	svc, _, now := newTestService(t)

	assert.Equal(t, time.Duration(0), svc.Remaining(FlagImport))

	_, err := svc.Set(ctx, FlagImport)
	require.NoError(t, err)

	*now = now.Add(2 * time.Second)
	assert.Equal(t, 4*time.Second, svc.Remaining(FlagImport))
}

func TestService_IsActiveWithin(t *testing.T) {
	ctx := context.Background()
	svc, _, now := newTestService(t)

	_, err := svc.Set(ctx, FlagRestore) // окно 30s
	require.NoError(t, err)

	*now = now.Add(10 * time.Second)
	assert.True(t, svc.IsActive(FlagRestore))
	// Переопределенное окно уже прошло
	assert.False(t, svc.IsActiveWithin(FlagRestore, 5*time.Second))
	assert.True(t, svc.IsActiveWithin(FlagRestore, 15*time.Second))
}

func TestService_WithProtection(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	var observed bool
	ran, err := svc.WithProtection(ctx, FlagImport, func(ctx context.Context) error {
		observed = svc.IsActive(FlagImport)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
	assert.True(t, observed, "flag must be active inside the protected section")
	assert.False(t, svc.IsActive(FlagImport), "flag must be cleared after fn settles")
}

func TestService_WithProtection_SkipsWhenActive(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	_, err := svc.Set(ctx, FlagImport)
	require.NoError(t, err)

	ran, err := svc.WithProtection(ctx, FlagImport, func(ctx context.Context) error {
		t.Fatal("fn must not be invoked when flag already active")
		return nil
	})
	require.NoError(t, err)
	assert.False(t, ran)
}

func TestService_WithProtection_ClearsOnError(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	wantErr := errors.New("submission failed")
	ran, err := svc.WithProtection(ctx, FlagCompletionSync, func(ctx context.Context) error {
		return wantErr
	})
	assert.True(t, ran)
	assert.ErrorIs(t, err, wantErr)
	assert.False(t, svc.IsActive(FlagCompletionSync), "flag must be cleared even on error")
}

func TestService_InitLoadsPersistedFlags(t *testing.T) {
	ctx := context.Background()
	store := newMemFlagStore()
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	// Процесс упал внутри protection window: флаги остались в store
	live := now.Add(20 * time.Second)
	stale := now.Add(-time.Minute)
	require.NoError(t, store.PutFlag(ctx, "restore", &models.FlagRecord{Timestamp: now, ExpiresAt: &live}))
	require.NoError(t, store.PutFlag(ctx, "import", &models.FlagRecord{Timestamp: now.Add(-2 * time.Minute), ExpiresAt: &stale}))

	svc := NewService(DefaultConfig(), store, NoopBroadcaster{}, testLogger())
	svc.now = func() time.Time { return now }
	require.NoError(t, svc.Init(ctx))

	assert.True(t, svc.IsActive(FlagRestore), "live flag survives restart")
	assert.False(t, svc.IsActive(FlagImport), "expired flag is dropped at load")
}

func TestService_BroadcastBetweenSiblings(t *testing.T) {
	ctx := context.Background()
	bus := NewLocalBroadcaster()
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	// Две "вкладки" над одним durable store
	tabA := NewService(DefaultConfig(), newMemFlagStore(), bus, testLogger())
	tabA.now = func() time.Time { return now }
	require.NoError(t, tabA.Init(ctx))

	tabB := NewService(DefaultConfig(), newMemFlagStore(), bus, testLogger())
	tabB.now = func() time.Time { return now }
	require.NoError(t, tabB.Init(ctx))

	_, err := tabA.Set(ctx, FlagActiveAddress)
	require.NoError(t, err)

	// Publish асинхронный относительно Set
	require.Eventually(t, func() bool { return tabB.IsActive(FlagActiveAddress) }, time.Second, 5*time.Millisecond)

	tabA.Clear(ctx, FlagActiveAddress)
	require.Eventually(t, func() bool { return !tabB.IsActive(FlagActiveAddress) }, time.Second, 5*time.Millisecond)
}

// gatedFlagStore задерживает первый PutFlag до открытия gate
type gatedFlagStore struct {
	*memFlagStore
	gate <-chan struct{}
	once sync.Once
}

func (g *gatedFlagStore) PutFlag(ctx context.Context, name string, record *models.FlagRecord) error {
	g.once.Do(func() { <-g.gate })
	return g.memFlagStore.PutFlag(ctx, name, record)
}

func TestService_RapidSetClear_DurableOrderPreserved(t *testing.T) {
	ctx := context.Background()
	gate := make(chan struct{})
	store := newMemFlagStore()
	slow := &gatedFlagStore{memFlagStore: store, gate: gate}

	svc := NewService(DefaultConfig(), slow, NoopBroadcaster{}, testLogger())
	require.NoError(t, svc.Init(ctx))

	// Set и сразу Clear, пока durable запись Set еще висит.
	// Удаление не должно обогнать запись: после рестарта зависший
	// active_address (без expiry) заблокировал бы merge навсегда
	_, err := svc.Set(ctx, FlagActiveAddress)
	require.NoError(t, err)
	svc.Clear(ctx, FlagActiveAddress)

	close(gate)

	assert.Eventually(t, func() bool {
		return !store.contains(string(FlagActiveAddress))
	}, time.Second, 5*time.Millisecond)
}
