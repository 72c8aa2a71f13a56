package reducers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/fieldsync/internal/models"
)

func TestStartSession(t *testing.T) {
	start := time.Date(2026, 3, 14, 8, 30, 0, 0, time.UTC)

	out, err := StartSession(baseState(), "2026-03-14", start)
	require.NoError(t, err)
	require.Len(t, out.DaySessions, 1)
	assert.Equal(t, "2026-03-14", out.DaySessions[0].Date)
	assert.Nil(t, out.DaySessions[0].End)
}

func TestStartSession_AlreadyOpen(t *testing.T) {
	start := time.Date(2026, 3, 14, 8, 30, 0, 0, time.UTC)

	state, err := StartSession(baseState(), "2026-03-14", start)
	require.NoError(t, err)

	_, err = StartSession(state, "2026-03-14", start.Add(time.Hour))
	assert.ErrorIs(t, err, ErrSessionOpen)
}

func TestStartSession_AutoClosesPreviousDay(t *testing.T) {
	// Открытая сессия вчерашнего дня забыта
	state, err := StartSession(baseState(), "2026-03-13", time.Date(2026, 3, 13, 9, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	out, err := StartSession(state, "2026-03-14", time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, out.DaySessions, 2)

	stale := out.DaySessions[0]
	require.NotNil(t, stale.End, "stale session must be auto-closed")
	assert.Equal(t, time.Date(2026, 3, 13, 23, 59, 59, 0, time.UTC), *stale.End)
	assert.Equal(t, 53999, stale.DurationSeconds) // 09:00:00 -> 23:59:59

	assert.Nil(t, out.DaySessions[1].End)
}

func TestStartSession_ReopensClosedSameDay(t *testing.T) {
	start := time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC)

	state, err := StartSession(baseState(), "2026-03-14", start)
	require.NoError(t, err)
	state, err = EndSession(state, "2026-03-14", start.Add(2*time.Hour))
	require.NoError(t, err)

	out, err := StartSession(state, "2026-03-14", start.Add(3*time.Hour))
	require.NoError(t, err)
	require.Len(t, out.DaySessions, 1)
	assert.Nil(t, out.DaySessions[0].End)
	// Начало дня сохраняется при возобновлении
	assert.Equal(t, start, out.DaySessions[0].Start)
}

func TestEndSession(t *testing.T) {
	start := time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC)

	state, err := StartSession(baseState(), "2026-03-14", start)
	require.NoError(t, err)

	out, err := EndSession(state, "2026-03-14", start.Add(7*time.Hour+30*time.Minute+45*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 27045, out.DaySessions[0].DurationSeconds)

	_, err = EndSession(out, "2026-03-14", start.Add(8*time.Hour))
	assert.ErrorIs(t, err, ErrSessionNotFound, "already closed")

	_, err = EndSession(state, "2026-03-15", start)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestEndSession_NegativeDurationClamped(t *testing.T) {
	start := time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC)

	state, err := StartSession(baseState(), "2026-03-14", start)
	require.NoError(t, err)

	// Конец раньше начала (сдвиг часов) — длительность не отрицательная
	out, err := EndSession(state, "2026-03-14", start.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, out.DaySessions[0].DurationSeconds)
}

func TestUpdateSession(t *testing.T) {
	start := time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC)

	state, err := StartSession(baseState(), "2026-03-14", start)
	require.NoError(t, err)
	state, err = EndSession(state, "2026-03-14", start.Add(time.Hour))
	require.NoError(t, err)

	newStart := start.Add(-30 * time.Minute)
	out, err := UpdateSession(state, "2026-03-14", &newStart, nil)
	require.NoError(t, err)
	assert.Equal(t, newStart, out.DaySessions[0].Start)
	assert.Equal(t, 5400, out.DaySessions[0].DurationSeconds, "duration recomputed from new start")

	_, err = UpdateSession(state, "2026-01-01", &newStart, nil)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestApply_Dispatch(t *testing.T) {
	cfg := DefaultConfig()
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	raw, err := models.EncodePayload(models.CompletionCreatePayload{
		Index: 2, ListVersion: 1, Outcome: models.OutcomePIF, AmountPence: 5000, Timestamp: now,
	})
	require.NoError(t, err)

	op := &models.Operation{
		ID:        "op-1",
		DeviceID:  "device-a",
		Sequence:  1,
		Timestamp: now,
		Type:      models.OpCompletionCreate,
		Payload:   raw,
	}

	out, err := Apply(cfg, baseState(), op)
	require.NoError(t, err)
	require.Len(t, out.Completions, 1)
	assert.Equal(t, "op-1", out.Completions[0].ID, "completion id comes from the operation id")
	assert.Equal(t, int64(5000), out.Completions[0].AmountPence)
}
