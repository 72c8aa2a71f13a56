package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/fieldsync/pkg/api"
)

// TestNewClient проверяет создание нового клиента
func TestNewClient(t *testing.T) {
	baseURL := "http://localhost:8080"
	client := NewClient(baseURL)

	assert.NotNil(t, client)
	assert.Equal(t, baseURL, client.baseURL)
	assert.NotNil(t, client.httpClient)
	assert.Equal(t, 15*time.Second, client.httpClient.Timeout)
}

// TestClient_Register проверяет успешную регистрацию
func TestClient_Register(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/api/v1/auth/register", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req api.RegisterRequest
		err := json.NewDecoder(r.Body).Decode(&req)
		require.NoError(t, err)
		assert.Equal(t, "agent1", req.Username)
		assert.NotEmpty(t, req.Password)

		w.WriteHeader(http.StatusCreated)
		resp := api.RegisterResponse{
			UserID:  "user-123",
			Message: "Registration successful",
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewClient(server.URL)

	resp, err := client.Register(context.Background(), api.RegisterRequest{
		Username: "agent1",
		Password: "password123",
	})

	require.NoError(t, err)
	assert.Equal(t, "user-123", resp.UserID)
	assert.Equal(t, "Registration successful", resp.Message)
}

// TestClient_Register_Error проверяет обработку ошибок при регистрации
func TestClient_Register_Error(t *testing.T) {
	tests := []struct {
		responseBody   interface{}
		name           string
		expectedErrMsg string
		statusCode     int
	}{
		{
			name:       "User already exists",
			statusCode: http.StatusConflict,
			responseBody: api.ErrorResponse{
				Error: "user already exists",
			},
			expectedErrMsg: "server error (409): user already exists",
		},
		{
			name:       "Invalid request",
			statusCode: http.StatusBadRequest,
			responseBody: api.ErrorResponse{
				Error: "invalid username",
			},
			expectedErrMsg: "server error (400): invalid username",
		},
		{
			name:           "Internal server error",
			statusCode:     http.StatusInternalServerError,
			responseBody:   "Internal Server Error",
			expectedErrMsg: "request failed with status 500",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
				if errResp, ok := tt.responseBody.(api.ErrorResponse); ok {
					_ = json.NewEncoder(w).Encode(errResp)
				} else {
					_, _ = w.Write([]byte(tt.responseBody.(string)))
				}
			}))
			defer server.Close()

			client := NewClient(server.URL)
			_, err := client.Register(context.Background(), api.RegisterRequest{
				Username: "agent1",
				Password: "password123",
			})

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.expectedErrMsg)
		})
	}
}

// TestClient_Login проверяет аутентификацию
func TestClient_Login(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/api/v1/auth/login", r.URL.Path)

		_ = json.NewEncoder(w).Encode(api.TokenResponse{
			AccessToken:  "access-token",
			RefreshToken: "refresh-token",
			ExpiresIn:    900,
			UserID:       "user-123",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL)
	resp, err := client.Login(context.Background(), api.LoginRequest{
		Username: "agent1",
		Password: "password123",
	})

	require.NoError(t, err)
	assert.Equal(t, "access-token", resp.AccessToken)
	assert.Equal(t, "user-123", resp.UserID)
}

// TestClient_SubmitOperations проверяет отправку батча с авторизацией
func TestClient_SubmitOperations(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/api/v1/ops", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

		var req api.OpsRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Operations, 1)

		_ = json.NewEncoder(w).Encode(api.OpsResponse{
			Results: []api.OpResult{
				{DeviceID: req.Operations[0].DeviceID, Sequence: req.Operations[0].Sequence, Status: api.OpStatusOK},
			},
			Cursor: 42,
		})
	}))
	defer server.Close()

	client := NewClient(server.URL)
	client.SetToken("test-token")

	resp, err := client.SubmitOperations(context.Background(), api.OpsRequest{
		Operations: []api.Operation{
			{
				ID:        "op-1",
				DeviceID:  "device-a",
				Type:      "COMPLETION_CREATE",
				Sequence:  7,
				Timestamp: time.Now().UTC(),
				Payload:   json.RawMessage(`{"index":3}`),
			},
		},
	})

	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, api.OpStatusOK, resp.Results[0].Status)
	assert.Equal(t, int64(42), resp.Cursor)
}

// TestClient_SubmitOperations_RetriesTransportErrors проверяет, что
// транспортные сбои повторяются, а ответ сервера — нет
func TestClient_SubmitOperations_RetriesTransportErrors(t *testing.T) {
	var calls atomic.Int32

	// Сервер рвет коннект на первой попытке, отвечает на второй
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			hj, ok := w.(http.Hijacker)
			require.True(t, ok)
			conn, _, err := hj.Hijack()
			require.NoError(t, err)
			_ = conn.Close()
			return
		}
		_ = json.NewEncoder(w).Encode(api.OpsResponse{Cursor: 1})
	}))
	defer server.Close()

	client := NewClient(server.URL)
	resp, err := client.SubmitOperations(context.Background(), api.OpsRequest{})

	require.NoError(t, err)
	assert.Equal(t, int64(1), resp.Cursor)
	assert.Equal(t, int32(2), calls.Load())
}

// TestClient_SubmitOperations_ServerErrorNotRetried — ошибочный статус
// означает, что запрос дошел; решение о повторе принимает очередь
func TestClient_SubmitOperations_ServerErrorNotRetried(t *testing.T) {
	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(api.ErrorResponse{Error: "database unavailable"})
	}))
	defer server.Close()

	client := NewClient(server.URL)
	_, err := client.SubmitOperations(context.Background(), api.OpsRequest{})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "database unavailable")
	assert.Equal(t, int32(1), calls.Load())
}

// TestClient_FetchOperations проверяет pull с курсором
func TestClient_FetchOperations(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "GET", r.Method)
		assert.Equal(t, "/api/v1/ops", r.URL.Path)
		assert.Equal(t, "17", r.URL.Query().Get("since"))

		_ = json.NewEncoder(w).Encode(api.PullResponse{
			Operations: []api.Operation{
				{ID: "op-9", DeviceID: "device-b", Type: "SESSION_START", Sequence: 18},
			},
			Cursor: 18,
		})
	}))
	defer server.Close()

	client := NewClient(server.URL)
	resp, err := client.FetchOperations(context.Background(), 17)

	require.NoError(t, err)
	require.Len(t, resp.Operations, 1)
	assert.Equal(t, "device-b", resp.Operations[0].DeviceID)
	assert.Equal(t, int64(18), resp.Cursor)
}
