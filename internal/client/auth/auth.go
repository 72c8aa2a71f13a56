// Package auth управляет авторизационной сессией устройства:
// регистрация, вход, прозрачное обновление токенов и выход.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	apiclient "github.com/iudanet/fieldsync/internal/client/api"
	"github.com/iudanet/fieldsync/internal/client/storage"
	"github.com/iudanet/fieldsync/internal/validation"
	"github.com/iudanet/fieldsync/pkg/api"
)

// ErrNotAuthenticated возвращается, когда на устройстве нет валидной сессии
var ErrNotAuthenticated = errors.New("not authenticated")

// refreshLeeway — запас до истечения access token, после которого
// токен обновляется заранее
const refreshLeeway = 30 * time.Second

// Client описывает используемую часть HTTP API сервера
type Client interface {
	Register(ctx context.Context, req api.RegisterRequest) (*api.RegisterResponse, error)
	Login(ctx context.Context, req api.LoginRequest) (*api.TokenResponse, error)
	Refresh(ctx context.Context, req api.RefreshRequest) (*api.TokenResponse, error)
}

// Service implements the device auth session lifecycle
type Service struct {
	now      func() time.Time
	client   Client
	sessions storage.SessionStorage
	logger   *slog.Logger
}

// New creates a new auth service
func New(client Client, sessions storage.SessionStorage, logger *slog.Logger) *Service {
	return &Service{
		now:      time.Now,
		client:   client,
		sessions: sessions,
		logger:   logger,
	}
}

// Register регистрирует нового пользователя на сервере.
// Сессию не создает: после регистрации нужен Login.
func (s *Service) Register(ctx context.Context, username, password string) (string, error) {
	if err := validation.ValidateUsername(username); err != nil {
		return "", err
	}
	if err := validation.ValidatePassword(password); err != nil {
		return "", err
	}

	resp, err := s.client.Register(ctx, api.RegisterRequest{
		Username: username,
		Password: password,
	})
	if err != nil {
		return "", fmt.Errorf("registration failed: %w", err)
	}

	s.logger.Info("user registered", "username", username, "user_id", resp.UserID)

	return resp.UserID, nil
}

// Login выполняет вход и сохраняет сессию на устройстве
func (s *Service) Login(ctx context.Context, username, password string) (*storage.Session, error) {
	if err := validation.ValidateUsername(username); err != nil {
		return nil, err
	}

	resp, err := s.client.Login(ctx, api.LoginRequest{
		Username: username,
		Password: password,
	})
	if err != nil {
		return nil, fmt.Errorf("login failed: %w", err)
	}

	session := &storage.Session{
		ExpiresAt:    s.now().Add(time.Duration(resp.ExpiresIn) * time.Second),
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		UserID:       resp.UserID,
		Username:     username,
	}

	if err := s.sessions.SaveAuthSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	s.logger.Info("user logged in", "username", username, "user_id", resp.UserID)

	return session, nil
}

// CurrentSession возвращает действующую сессию, обновляя токены
// через refresh token если access token истекает
func (s *Service) CurrentSession(ctx context.Context) (*storage.Session, error) {
	session, err := s.sessions.GetAuthSession(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrSessionNotFound) {
			return nil, ErrNotAuthenticated
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	if s.now().Before(session.ExpiresAt.Add(-refreshLeeway)) {
		return session, nil
	}

	return s.refresh(ctx, session)
}

// refresh обменивает refresh token на новую пару токенов
func (s *Service) refresh(ctx context.Context, session *storage.Session) (*storage.Session, error) {
	resp, err := s.client.Refresh(ctx, api.RefreshRequest{
		RefreshToken: session.RefreshToken,
	})
	if err != nil {
		// Оффлайн: сервер недоступен, сессия остается. Операции лягут
		// в очередь повторов, токены обновятся при следующем контакте.
		if apiclient.IsTransportError(err) {
			s.logger.Warn("token refresh skipped, server unreachable", "error", err)
			return session, nil
		}
		// Refresh token отозван или истек: сессия больше не действительна
		s.logger.Warn("token refresh rejected", "error", err)
		if delErr := s.sessions.DeleteAuthSession(ctx); delErr != nil {
			s.logger.Warn("failed to delete stale session", "error", delErr)
		}
		return nil, ErrNotAuthenticated
	}

	refreshed := &storage.Session{
		ExpiresAt:    s.now().Add(time.Duration(resp.ExpiresIn) * time.Second),
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		UserID:       resp.UserID,
		Username:     session.Username,
	}

	if err := s.sessions.SaveAuthSession(ctx, refreshed); err != nil {
		return nil, fmt.Errorf("failed to save refreshed session: %w", err)
	}

	s.logger.Debug("tokens refreshed", "user_id", refreshed.UserID)

	return refreshed, nil
}

// IsAuthenticated проверяет наличие сохраненной сессии
func (s *Service) IsAuthenticated(ctx context.Context) (bool, error) {
	_, err := s.sessions.GetAuthSession(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrSessionNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Logout удаляет сессию устройства
func (s *Service) Logout(ctx context.Context) error {
	if err := s.sessions.DeleteAuthSession(ctx); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	s.logger.Info("logged out")

	return nil
}
