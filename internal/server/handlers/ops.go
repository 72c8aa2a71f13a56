package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/iudanet/fieldsync/internal/models"
	"github.com/iudanet/fieldsync/internal/server/storage"
	"github.com/iudanet/fieldsync/internal/validation"
	"github.com/iudanet/fieldsync/pkg/api"
)

// contextKey тип для ключей контекста
type contextKey string

const (
	// UserIDKey ключ для хранения user_id в контексте
	UserIDKey contextKey = "user_id"
	// UsernameKey ключ для хранения username в контексте
	UsernameKey contextKey = "username"
)

// GetUserID извлекает user_id из контекста запроса
func GetUserID(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(UserIDKey).(string)
	return userID, ok
}

// GetUsername извлекает username из контекста запроса
func GetUsername(ctx context.Context) (string, bool) {
	username, ok := ctx.Value(UsernameKey).(string)
	return username, ok
}

// OperationStorage определяет интерфейс журнала операций для handler
type OperationStorage interface {
	SaveOperation(ctx context.Context, userID string, op *models.Operation) (bool, error)
	ListOperationsSince(ctx context.Context, userID string, since int64) ([]storage.StoredOperation, error)
	CurrentCursor(ctx context.Context, userID string) (int64, error)
}

// OpsHandler handles operation log requests
type OpsHandler struct {
	logger  *slog.Logger
	storage OperationStorage
}

// NewOpsHandler creates a new operations handler
func NewOpsHandler(logger *slog.Logger, storage OperationStorage) *OpsHandler {
	return &OpsHandler{
		logger:  logger,
		storage: storage,
	}
}

// HandleOps обрабатывает GET и POST запросы журнала операций
func (h *OpsHandler) HandleOps(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// user_id установлен AuthMiddleware
	userID, ok := GetUserID(ctx)
	if !ok {
		h.logger.Error("User ID not found in context")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.handlePull(ctx, w, r, userID)
	case http.MethodPost:
		h.handlePush(ctx, w, r, userID)
	default:
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
	}
}

// handlePull обрабатывает GET /api/v1/ops?since=cursor
// Возвращает операции с курсором больше since
func (h *OpsHandler) handlePull(ctx context.Context, w http.ResponseWriter, r *http.Request, userID string) {
	sinceStr := r.URL.Query().Get("since")
	var since int64
	if sinceStr != "" {
		var err error
		since, err = strconv.ParseInt(sinceStr, 10, 64)
		if err != nil {
			h.logger.Warn("Invalid since parameter", "since", sinceStr, "error", err)
			http.Error(w, "Invalid since parameter", http.StatusBadRequest)
			return
		}
	}

	stored, err := h.storage.ListOperationsSince(ctx, userID, since)
	if err != nil {
		h.logger.Error("Failed to list operations", "error", err, "user_id", userID)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	ops := make([]api.Operation, 0, len(stored))
	cursor := since
	for _, s := range stored {
		ops = append(ops, toWireOperation(&s.Operation))
		if s.Cursor > cursor {
			cursor = s.Cursor
		}
	}

	response := api.PullResponse{
		Operations: ops,
		Cursor:     cursor,
	}

	h.sendJSON(w, response)

	h.logger.Info("pull completed",
		"user_id", userID,
		"since", since,
		"operations", len(ops))
}

// handlePush обрабатывает POST /api/v1/ops
// Принимает батч операций, отвечает статусом по каждой
func (h *OpsHandler) handlePush(ctx context.Context, w http.ResponseWriter, r *http.Request, userID string) {
	var req api.OpsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("Failed to decode ops request", "error", err)
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	results := make([]api.OpResult, 0, len(req.Operations))
	for _, wireOp := range req.Operations {
		op := fromWireOperation(&wireOp)
		result := api.OpResult{
			DeviceID: op.DeviceID,
			Sequence: op.Sequence,
		}

		// Невалидная операция отклоняется, батч продолжается
		if err := validation.ValidateOperation(op); err != nil {
			h.logger.Warn("operation rejected",
				"user_id", userID,
				"op_id", op.ID,
				"error", err)
			result.Status = api.OpStatusInvalid
			result.Message = err.Error()
			results = append(results, result)
			continue
		}

		applied, err := h.storage.SaveOperation(ctx, userID, op)
		if err != nil {
			h.logger.Error("Failed to save operation", "error", err, "op_id", op.ID)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		if applied {
			result.Status = api.OpStatusOK
		} else {
			// Повторная доставка: операция уже в журнале
			result.Status = api.OpStatusDuplicate
		}
		results = append(results, result)
	}

	cursor, err := h.storage.CurrentCursor(ctx, userID)
	if err != nil {
		h.logger.Error("Failed to get cursor", "error", err, "user_id", userID)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	response := api.OpsResponse{
		Results: results,
		Cursor:  cursor,
	}

	h.sendJSON(w, response)

	h.logger.Info("push completed",
		"user_id", userID,
		"received", len(req.Operations),
		"cursor", cursor)
}

func (h *OpsHandler) sendJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode response", "error", err)
	}
}

func toWireOperation(op *models.Operation) api.Operation {
	return api.Operation{
		Timestamp: op.Timestamp,
		ID:        op.ID,
		DeviceID:  op.DeviceID,
		Type:      string(op.Type),
		Payload:   op.Payload,
		Sequence:  op.Sequence,
	}
}

func fromWireOperation(op *api.Operation) *models.Operation {
	return &models.Operation{
		Timestamp: op.Timestamp,
		ID:        op.ID,
		DeviceID:  op.DeviceID,
		Type:      models.OperationType(op.Type),
		Payload:   op.Payload,
		Sequence:  op.Sequence,
	}
}
