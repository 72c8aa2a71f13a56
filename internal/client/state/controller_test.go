package state

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/fieldsync/internal/client/storage"
	"github.com/iudanet/fieldsync/internal/crypto"
	"github.com/iudanet/fieldsync/internal/models"
)

// memStateStore — in-memory реализация StateStorage
type memStateStore struct {
	snapshot *models.AppState
	archives map[string]*models.AppState
	saveErr  error
}

func newMemStateStore() *memStateStore {
	return &memStateStore{archives: make(map[string]*models.AppState)}
}

func (m *memStateStore) SaveState(_ context.Context, state *models.AppState) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.snapshot = state.Clone()
	return nil
}

func (m *memStateStore) LoadState(_ context.Context) (*models.AppState, error) {
	if m.snapshot == nil {
		return nil, storage.ErrStateNotFound
	}
	return m.snapshot.Clone(), nil
}

func (m *memStateStore) ArchiveState(_ context.Context, key string, state *models.AppState) error {
	m.archives[key] = state.Clone()
	return nil
}

func (m *memStateStore) ListArchiveKeys(_ context.Context) ([]string, error) {
	keys := make([]string, 0, len(m.archives))
	for k := range m.archives {
		keys = append(keys, k)
	}
	return keys, nil
}

func newTestController(store storage.StateStorage) *Controller {
	c := NewController(store, slog.New(slog.NewTextHandler(io.Discard, nil)))
	c.now = func() time.Time {
		return time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	}
	return c
}

func ownedState(userID string) *models.AppState {
	state := models.NewAppState()
	state.Addresses = []models.Address{{Address: "1 High Street"}}
	state.CurrentListVersion = 1
	state.OwnerUserID = userID
	state.OwnerChecksum = crypto.OwnerChecksum(userID, 1, 0, 1)
	return state
}

func TestController_Load_FreshStart(t *testing.T) {
	store := newMemStateStore()
	c := newTestController(store)

	require.NoError(t, c.Load(context.Background(), "user-1"))

	assert.Equal(t, StatusReady, c.Status())
	base := c.Base()
	assert.Equal(t, "user-1", base.OwnerUserID)
	assert.Empty(t, base.Addresses)

	// Свежее состояние сразу персистится
	require.NotNil(t, store.snapshot)
	assert.Equal(t, "user-1", store.snapshot.OwnerUserID)
}

func TestController_Load_ExistingOwnState(t *testing.T) {
	store := newMemStateStore()
	store.snapshot = ownedState("user-1")
	c := newTestController(store)

	require.NoError(t, c.Load(context.Background(), "user-1"))

	assert.Equal(t, StatusReady, c.Status())
	base := c.Base()
	require.Len(t, base.Addresses, 1)
	assert.Equal(t, "1 High Street", base.Addresses[0].Address)
}

func TestController_Load_ContaminationArchivesAndResets(t *testing.T) {
	store := newMemStateStore()
	store.snapshot = ownedState("someone-else")
	c := newTestController(store)

	require.NoError(t, c.Load(context.Background(), "user-1"))

	assert.Equal(t, StatusReady, c.Status())

	// Чужие данные заархивированы, не слиты
	require.Len(t, store.archives, 1)
	archived, ok := store.archives["contamination/2026-08-29T10:00:00Z"]
	require.True(t, ok)
	assert.Equal(t, "someone-else", archived.OwnerUserID)

	// Состояние сброшено в пустое под текущим пользователем
	base := c.Base()
	assert.Equal(t, "user-1", base.OwnerUserID)
	assert.Empty(t, base.Addresses)

	keys, err := c.ContaminationArchives(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"contamination/2026-08-29T10:00:00Z"}, keys)
}

func TestController_Load_ChecksumMismatchIsContamination(t *testing.T) {
	store := newMemStateStore()
	tampered := ownedState("user-1")
	tampered.Addresses = append(tampered.Addresses, models.Address{Address: "999 Fake Street"})
	store.snapshot = tampered
	c := newTestController(store)

	require.NoError(t, c.Load(context.Background(), "user-1"))

	assert.Len(t, store.archives, 1)
	assert.Empty(t, c.Base().Addresses)
}

func TestController_Load_AnonymousSnapshotAccepted(t *testing.T) {
	store := newMemStateStore()
	anon := models.NewAppState()
	anon.Addresses = []models.Address{{Address: "1 High Street"}}
	store.snapshot = anon
	c := newTestController(store)

	require.NoError(t, c.Load(context.Background(), "user-1"))

	assert.Empty(t, store.archives)
	assert.Len(t, c.Base().Addresses, 1)
}

func TestController_Load_AnonymousSnapshotAdoptedByFirstUser(t *testing.T) {
	store := newMemStateStore()
	anon := models.NewAppState()
	anon.Addresses = []models.Address{{Address: "1 High Street"}}
	anon.CurrentListVersion = 1
	store.snapshot = anon

	c := newTestController(store)
	require.NoError(t, c.Load(context.Background(), "alice"))

	// Владелец проштампован и сохранен, не только в памяти
	base := c.Base()
	assert.Equal(t, "alice", base.OwnerUserID)
	require.NotNil(t, store.snapshot)
	assert.Equal(t, "alice", store.snapshot.OwnerUserID)
	assert.True(t, crypto.VerifyOwnerChecksum(store.snapshot.OwnerChecksum,
		"alice", 1, 0, 1))

	// Другой аккаунт на том же устройстве не наследует данные
	c2 := newTestController(store)
	require.NoError(t, c2.Load(context.Background(), "bob"))

	assert.Len(t, store.archives, 1)
	assert.Empty(t, c2.Base().Addresses)
	assert.Equal(t, "bob", c2.Base().OwnerUserID)
}

func TestController_Load_AnonymousStaysAnonymousWithoutUser(t *testing.T) {
	store := newMemStateStore()
	anon := models.NewAppState()
	anon.Addresses = []models.Address{{Address: "1 High Street"}}
	store.snapshot = anon

	c := newTestController(store)
	require.NoError(t, c.Load(context.Background(), ""))

	assert.Empty(t, c.Base().OwnerUserID)
	assert.Len(t, c.Base().Addresses, 1)
}

func TestController_Load_InvalidShapeResets(t *testing.T) {
	store := newMemStateStore()
	bad := models.NewAppState()
	bad.Completions = nil // битая форма
	store.snapshot = bad
	c := newTestController(store)

	require.NoError(t, c.Load(context.Background(), "user-1"))

	assert.Equal(t, StatusReady, c.Status())
	assert.NotNil(t, c.Base().Completions)
}

func TestController_Load_MigratesSchema(t *testing.T) {
	store := newMemStateStore()
	old := ownedState("user-1")
	old.SchemaVersion = 1
	store.snapshot = old
	c := newTestController(store)

	require.NoError(t, c.Load(context.Background(), "user-1"))

	base := c.Base()
	assert.Equal(t, models.CurrentSchemaVersion, base.SchemaVersion)
	assert.Equal(t, 1, base.Settings.Reminder.DaysBefore)

	// Мигрированный снапшот персистится
	assert.Equal(t, models.CurrentSchemaVersion, store.snapshot.SchemaVersion)
}

func TestController_Mutate_PersistsImmediately(t *testing.T) {
	store := newMemStateStore()
	c := newTestController(store)
	require.NoError(t, c.Load(context.Background(), "user-1"))

	err := c.Mutate(context.Background(), func(s *models.AppState) error {
		s.Addresses = append(s.Addresses, models.Address{Address: "1 High Street"})
		s.CurrentListVersion = 1
		return nil
	})
	require.NoError(t, err)

	require.Len(t, store.snapshot.Addresses, 1)
	// Контрольная сумма пересчитана
	assert.Equal(t, crypto.OwnerChecksum("user-1", 1, 0, 1), store.snapshot.OwnerChecksum)
}

func TestController_Mutate_ErrorRollsBack(t *testing.T) {
	store := newMemStateStore()
	c := newTestController(store)
	require.NoError(t, c.Load(context.Background(), "user-1"))

	boom := errors.New("reducer rejected")
	err := c.Mutate(context.Background(), func(s *models.AppState) error {
		s.Addresses = append(s.Addresses, models.Address{Address: "1 High Street"})
		return boom
	})
	assert.ErrorIs(t, err, boom)

	assert.Empty(t, c.Base().Addresses)
}

func TestController_Mutate_BeforeLoad(t *testing.T) {
	c := newTestController(newMemStateStore())

	err := c.Mutate(context.Background(), func(*models.AppState) error { return nil })
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestController_Base_ReturnsCopy(t *testing.T) {
	store := newMemStateStore()
	c := newTestController(store)
	require.NoError(t, c.Load(context.Background(), "user-1"))

	base := c.Base()
	base.Addresses = append(base.Addresses, models.Address{Address: "mutated"})

	assert.Empty(t, c.Base().Addresses)
}
