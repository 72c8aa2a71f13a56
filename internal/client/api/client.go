// Package api реализует HTTP клиент серверного коллаборатора.
// Транспортные ошибки отправки батча ретраятся на месте с коротким
// постоянным интервалом; это только первая подсказка — дальнейшие
// повторы идут через экспоненциальное расписание очереди.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/iudanet/fieldsync/pkg/api"
)

const (
	// requestTimeout ограничивает один запрос, чтобы зависший
	// коннект не держал защитный флаг бесконечно
	requestTimeout = 15 * time.Second

	// submitRetryInterval — короткая подсказка первого повтора
	submitRetryInterval = 1200 * time.Millisecond
	// submitRetryCount — дополнительные попытки на транспортных ошибках
	submitRetryCount = 2
)

// Client представляет HTTP клиент для взаимодействия с сервером
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

// NewClient создает новый API клиент
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: requestTimeout,
			// Настройка обработки редиректов
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				// Ограничиваем количество редиректов
				if len(via) >= 10 {
					return fmt.Errorf("stopped after 10 redirects")
				}
				// Копируем заголовки Authorization при редиректе
				if len(via) > 0 && via[0].Header.Get("Authorization") != "" {
					req.Header.Set("Authorization", via[0].Header.Get("Authorization"))
				}
				return nil
			},
		},
	}
}

// SetToken устанавливает access token для авторизованных запросов
func (c *Client) SetToken(token string) {
	c.token = token
}

// Register регистрирует нового пользователя
func (c *Client) Register(ctx context.Context, req api.RegisterRequest) (*api.RegisterResponse, error) {
	var resp api.RegisterResponse
	err := c.doRequest(ctx, http.MethodPost, "/api/v1/auth/register", req, &resp)
	if err != nil {
		return nil, fmt.Errorf("register request failed: %w", err)
	}
	return &resp, nil
}

// Login выполняет аутентификацию пользователя
func (c *Client) Login(ctx context.Context, req api.LoginRequest) (*api.TokenResponse, error) {
	var resp api.TokenResponse
	err := c.doRequest(ctx, http.MethodPost, "/api/v1/auth/login", req, &resp)
	if err != nil {
		return nil, fmt.Errorf("login request failed: %w", err)
	}
	return &resp, nil
}

// Refresh обновляет пару токенов по refresh token
func (c *Client) Refresh(ctx context.Context, req api.RefreshRequest) (*api.TokenResponse, error) {
	var resp api.TokenResponse
	err := c.doRequest(ctx, http.MethodPost, "/api/v1/auth/refresh", req, &resp)
	if err != nil {
		return nil, fmt.Errorf("refresh request failed: %w", err)
	}
	return &resp, nil
}

// SubmitOperations отправляет батч операций журнала.
// Повторяет только транспортные ошибки: ответ сервера, даже ошибочный,
// означает что запрос дошел, и решение о повторе принимает очередь.
func (c *Client) SubmitOperations(ctx context.Context, req api.OpsRequest) (*api.OpsResponse, error) {
	var resp api.OpsResponse

	backoff := retry.WithMaxRetries(submitRetryCount, retry.NewConstant(submitRetryInterval))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := c.doRequest(ctx, http.MethodPost, "/api/v1/ops", req, &resp)
		if err == nil {
			return nil
		}
		var terr *transportError
		if errors.As(err, &terr) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("submit operations failed: %w", err)
	}
	return &resp, nil
}

// FetchOperations забирает операции других устройств начиная с курсора
func (c *Client) FetchOperations(ctx context.Context, since int64) (*api.PullResponse, error) {
	var resp api.PullResponse
	path := fmt.Sprintf("/api/v1/ops?since=%d", since)
	err := c.doRequest(ctx, http.MethodGet, path, nil, &resp)
	if err != nil {
		return nil, fmt.Errorf("fetch operations failed: %w", err)
	}
	return &resp, nil
}

// transportError помечает ошибку, случившуюся до получения ответа
type transportError struct {
	err error
}

func (e *transportError) Error() string { return e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

// IsTransportError сообщает, дошел ли запрос до сервера.
// false означает, что сервер ответил и ошибка — его решение.
func IsTransportError(err error) bool {
	var terr *transportError
	return errors.As(err, &terr)
}

// doRequest выполняет HTTP запрос
func (c *Client) doRequest(ctx context.Context, method, path string, body, result any) error {
	url := c.baseURL + path

	var bodyReader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &transportError{err: fmt.Errorf("request failed: %w", err)}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	// Читаем тело ответа
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &transportError{err: fmt.Errorf("failed to read response body: %w", err)}
	}

	// Проверяем статус код
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp api.ErrorResponse
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error != "" {
			return fmt.Errorf("server error (%d): %s", resp.StatusCode, errResp.Error)
		}
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	// Декодируем успешный ответ
	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}
