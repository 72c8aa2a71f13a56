package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/fieldsync/internal/models"
	"github.com/iudanet/fieldsync/internal/server/storage"
	"github.com/iudanet/fieldsync/pkg/api"
)

// mockOperationStorage is an in-memory operation log for testing
type mockOperationStorage struct {
	ops        map[string][]storage.StoredOperation // userID -> log
	nextCursor int64
}

func newMockOperationStorage() *mockOperationStorage {
	return &mockOperationStorage{ops: make(map[string][]storage.StoredOperation)}
}

func (m *mockOperationStorage) SaveOperation(ctx context.Context, userID string, op *models.Operation) (bool, error) {
	for _, stored := range m.ops[userID] {
		if stored.Operation.DeviceID == op.DeviceID && stored.Operation.Sequence == op.Sequence {
			return false, nil
		}
	}
	m.nextCursor++
	m.ops[userID] = append(m.ops[userID], storage.StoredOperation{
		Operation: *op,
		Cursor:    m.nextCursor,
	})
	return true, nil
}

func (m *mockOperationStorage) ListOperationsSince(ctx context.Context, userID string, since int64) ([]storage.StoredOperation, error) {
	var result []storage.StoredOperation
	for _, stored := range m.ops[userID] {
		if stored.Cursor > since {
			result = append(result, stored)
		}
	}
	return result, nil
}

func (m *mockOperationStorage) CurrentCursor(ctx context.Context, userID string) (int64, error) {
	log := m.ops[userID]
	if len(log) == 0 {
		return 0, nil
	}
	return log[len(log)-1].Cursor, nil
}

func newTestOpsHandler() (*OpsHandler, *mockOperationStorage) {
	store := newMockOperationStorage()
	return NewOpsHandler(setupTestLogger(), store), store
}

func authedRequest(t *testing.T, method, path string, body any, userID string) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	ctx := context.WithValue(req.Context(), UserIDKey, userID)
	return req.WithContext(ctx)
}

func wireCompletionOp(deviceID string, seq int64) api.Operation {
	payload, _ := json.Marshal(models.CompletionCreatePayload{
		Timestamp:   time.Now().UTC(),
		Outcome:     models.OutcomeDone,
		Index:       3,
		ListVersion: 1,
	})
	return api.Operation{
		ID:        uuid.New().String(),
		DeviceID:  deviceID,
		Type:      string(models.OpCompletionCreate),
		Payload:   payload,
		Sequence:  seq,
		Timestamp: time.Now().UTC(),
	}
}

func TestOpsHandler_Push(t *testing.T) {
	handler, _ := newTestOpsHandler()

	req := authedRequest(t, http.MethodPost, "/api/v1/ops", api.OpsRequest{
		Operations: []api.Operation{
			wireCompletionOp("device-a", 1),
			wireCompletionOp("device-a", 2),
		},
	}, "user-1")
	w := httptest.NewRecorder()
	handler.HandleOps(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp api.OpsResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Len(t, resp.Results, 2)
	assert.Equal(t, api.OpStatusOK, resp.Results[0].Status)
	assert.Equal(t, api.OpStatusOK, resp.Results[1].Status)
	assert.Equal(t, int64(2), resp.Cursor)
}

func TestOpsHandler_Push_Duplicate(t *testing.T) {
	handler, _ := newTestOpsHandler()

	op := wireCompletionOp("device-a", 1)

	req := authedRequest(t, http.MethodPost, "/api/v1/ops", api.OpsRequest{
		Operations: []api.Operation{op},
	}, "user-1")
	w := httptest.NewRecorder()
	handler.HandleOps(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	// Повторная доставка того же батча — duplicate, не ошибка
	req = authedRequest(t, http.MethodPost, "/api/v1/ops", api.OpsRequest{
		Operations: []api.Operation{op},
	}, "user-1")
	w = httptest.NewRecorder()
	handler.HandleOps(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp api.OpsResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Len(t, resp.Results, 1)
	assert.Equal(t, api.OpStatusDuplicate, resp.Results[0].Status)
	assert.Equal(t, int64(1), resp.Cursor)
}

func TestOpsHandler_Push_InvalidOperation(t *testing.T) {
	handler, store := newTestOpsHandler()

	invalid := wireCompletionOp("device-a", 1)
	invalid.Type = "UNKNOWN_TYPE"
	valid := wireCompletionOp("device-a", 2)

	// Невалидная операция не роняет батч
	req := authedRequest(t, http.MethodPost, "/api/v1/ops", api.OpsRequest{
		Operations: []api.Operation{invalid, valid},
	}, "user-1")
	w := httptest.NewRecorder()
	handler.HandleOps(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp api.OpsResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Len(t, resp.Results, 2)
	assert.Equal(t, api.OpStatusInvalid, resp.Results[0].Status)
	assert.NotEmpty(t, resp.Results[0].Message)
	assert.Equal(t, api.OpStatusOK, resp.Results[1].Status)

	assert.Len(t, store.ops["user-1"], 1)
}

func TestOpsHandler_Pull(t *testing.T) {
	handler, _ := newTestOpsHandler()

	push := authedRequest(t, http.MethodPost, "/api/v1/ops", api.OpsRequest{
		Operations: []api.Operation{
			wireCompletionOp("device-a", 1),
			wireCompletionOp("device-b", 1),
			wireCompletionOp("device-a", 2),
		},
	}, "user-1")
	w := httptest.NewRecorder()
	handler.HandleOps(w, push)
	require.Equal(t, http.StatusOK, w.Code)

	req := authedRequest(t, http.MethodGet, "/api/v1/ops?since=1", nil, "user-1")
	w = httptest.NewRecorder()
	handler.HandleOps(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp api.PullResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Len(t, resp.Operations, 2)
	assert.Equal(t, int64(3), resp.Cursor)
}

func TestOpsHandler_Pull_InvalidSince(t *testing.T) {
	handler, _ := newTestOpsHandler()

	req := authedRequest(t, http.MethodGet, "/api/v1/ops?since=abc", nil, "user-1")
	w := httptest.NewRecorder()
	handler.HandleOps(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestOpsHandler_Unauthorized(t *testing.T) {
	handler, _ := newTestOpsHandler()

	// Запрос без user_id в контексте (middleware не отработал)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/ops", nil)
	w := httptest.NewRecorder()
	handler.HandleOps(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestOpsHandler_UserIsolation(t *testing.T) {
	handler, _ := newTestOpsHandler()

	push := authedRequest(t, http.MethodPost, "/api/v1/ops", api.OpsRequest{
		Operations: []api.Operation{wireCompletionOp("device-a", 1)},
	}, "user-1")
	w := httptest.NewRecorder()
	handler.HandleOps(w, push)
	require.Equal(t, http.StatusOK, w.Code)

	req := authedRequest(t, http.MethodGet, "/api/v1/ops", nil, "user-2")
	w = httptest.NewRecorder()
	handler.HandleOps(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp api.PullResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Empty(t, resp.Operations)
	assert.Zero(t, resp.Cursor)
}
