package overlay

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/fieldsync/internal/models"
)

func newTestService(t *testing.T) (*Service, *time.Time) {
	t.Helper()
	svc := NewService(Config{
		ConfirmTTL: 50 * time.Millisecond,
		RevertTTL:  10 * time.Millisecond,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }
	t.Cleanup(svc.DisposeAll)
	return svc, &now
}

func baseState() *models.AppState {
	state := models.NewAppState()
	state.Addresses = []models.Address{
		{Address: "1 High Street"},
		{Address: "2 High Street"},
	}
	state.CurrentListVersion = 1
	return state
}

func completion(index int) *models.Completion {
	return &models.Completion{
		ID:          "c-1",
		Index:       index,
		Outcome:     models.OutcomeDone,
		ListVersion: 1,
		Timestamp:   time.Date(2026, 8, 29, 11, 0, 0, 0, time.UTC),
	}
}

func TestService_Add_GeneratesAndHonorsID(t *testing.T) {
	svc, _ := newTestService(t)

	generated := svc.Add(models.UpdateCreate, models.EntityCompletion, completion(0), "")
	assert.NotEmpty(t, generated)

	explicit := svc.Add(models.UpdateCreate, models.EntityCompletion, completion(1), "op-42")
	assert.Equal(t, "op-42", explicit)

	pending := svc.Pending()
	require.Len(t, pending, 2)
}

func TestService_Apply_FoldsCompletions(t *testing.T) {
	svc, now := newTestService(t)
	base := baseState()

	svc.Add(models.UpdateCreate, models.EntityCompletion, completion(0), "a")
	*now = now.Add(time.Second)
	updated := completion(0)
	updated.Outcome = models.OutcomePIF
	updated.AmountPence = 5000
	svc.Add(models.UpdateUpdate, models.EntityCompletion, updated, "b")

	rendered := svc.Apply(base)
	require.Len(t, rendered.Completions, 1)
	assert.Equal(t, models.OutcomePIF, rendered.Completions[0].Outcome)
	assert.Equal(t, int64(5000), rendered.Completions[0].AmountPence)

	// base не тронут
	assert.Empty(t, base.Completions)
}

func TestService_Apply_EmptyOverlayReturnsBase(t *testing.T) {
	svc, _ := newTestService(t)
	base := baseState()

	assert.Same(t, base, svc.Apply(base))
}

func TestService_Apply_RevertedExcluded(t *testing.T) {
	svc, _ := newTestService(t)
	base := baseState()

	svc.Add(models.UpdateCreate, models.EntityCompletion, completion(0), "a")
	svc.Revert("a", "rejected by server")

	rendered := svc.Apply(base)
	assert.Empty(t, rendered.Completions)
}

func TestService_Apply_CorruptedFoldReturnsBase(t *testing.T) {
	svc, now := newTestService(t)
	base := baseState()

	svc.Add(models.UpdateCreate, models.EntityCompletion, completion(0), "good")
	*now = now.Add(time.Second)
	// Запись с неожиданным типом данных
	svc.Add(models.UpdateCreate, models.EntityCompletion, "not a completion", "bad")

	rendered := svc.Apply(base)
	assert.Same(t, base, rendered)
	assert.Empty(t, rendered.Completions)
}

func TestService_Confirm_Idempotent(t *testing.T) {
	svc, _ := newTestService(t)

	svc.Add(models.UpdateCreate, models.EntityCompletion, completion(0), "a")
	svc.Confirm("a", nil)
	svc.Confirm("a", nil)
	svc.Confirm("unknown", nil)

	// Подтвержденная запись пропадает из pending сразу
	assert.Empty(t, svc.Pending())

	// Но еще участвует в Apply до истечения TTL
	rendered := svc.Apply(baseState())
	assert.Len(t, rendered.Completions, 1)

	// После TTL запись удалена
	require.Eventually(t, func() bool {
		return svc.Len() == 0
	}, time.Second, 5*time.Millisecond)
}

func TestService_Confirm_ServerDataReplacesOptimistic(t *testing.T) {
	svc, _ := newTestService(t)

	svc.Add(models.UpdateCreate, models.EntityCompletion, completion(0), "a")

	serverCopy := completion(0)
	serverCopy.AmountPence = 2500
	svc.Confirm("a", serverCopy)

	rendered := svc.Apply(baseState())
	require.Len(t, rendered.Completions, 1)
	assert.Equal(t, int64(2500), rendered.Completions[0].AmountPence)
}

func TestService_Revert_RemovedAfterTTL(t *testing.T) {
	svc, _ := newTestService(t)

	svc.Add(models.UpdateCreate, models.EntityCompletion, completion(0), "a")
	svc.Revert("a", "validation failed")

	require.Eventually(t, func() bool {
		return svc.Len() == 0
	}, time.Second, 5*time.Millisecond)
}

func TestService_Apply_ArrangementLifecycle(t *testing.T) {
	svc, now := newTestService(t)
	base := baseState()

	arr := &models.Arrangement{
		ID:            "arr-1",
		AddressIndex:  1,
		CustomerName:  "J Smith",
		AmountPence:   10000,
		ScheduledDate: "2026-08-29",
		Status:        models.ArrangementScheduled,
		CreatedAt:     *now,
		UpdatedAt:     *now,
	}
	svc.Add(models.UpdateCreate, models.EntityArrangement, arr, "a")

	rendered := svc.Apply(base)
	require.Len(t, rendered.Arrangements, 1)

	*now = now.Add(time.Second)
	svc.Add(models.UpdateDelete, models.EntityArrangement, arr, "b")

	rendered = svc.Apply(base)
	assert.Empty(t, rendered.Arrangements)
}

func TestService_Apply_SessionNewDateAppends(t *testing.T) {
	svc, _ := newTestService(t)
	base := baseState()

	svc.Add(models.UpdateCreate, models.EntitySession, &models.DaySession{
		Date:  "2026-08-29",
		Start: time.Date(2026, 8, 29, 8, 0, 0, 0, time.UTC),
	}, "a")

	rendered := svc.Apply(base)
	require.Len(t, rendered.DaySessions, 1)
	assert.Equal(t, "2026-08-29", rendered.DaySessions[0].Date)
}

func TestService_Apply_SessionNeverReopensClosedDay(t *testing.T) {
	svc, _ := newTestService(t)
	base := baseState()

	// День уже закрыт в base, но start-запись всё еще pending
	// (операция ждет в очереди повторов)
	start := time.Date(2026, 8, 29, 8, 0, 0, 0, time.UTC)
	end := time.Date(2026, 8, 29, 16, 0, 0, 0, time.UTC)
	base.DaySessions = []models.DaySession{
		{Date: "2026-08-29", Start: start, End: &end, DurationSeconds: 28800},
	}

	svc.Add(models.UpdateCreate, models.EntitySession, &models.DaySession{
		Date:  "2026-08-29",
		Start: start,
	}, "a")

	rendered := svc.Apply(base)
	require.Len(t, rendered.DaySessions, 1)
	require.NotNil(t, rendered.DaySessions[0].End)
	assert.Equal(t, end, *rendered.DaySessions[0].End)
	assert.Equal(t, 28800, rendered.DaySessions[0].DurationSeconds)
}
