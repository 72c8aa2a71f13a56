package auth

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apiclient "github.com/iudanet/fieldsync/internal/client/api"
	"github.com/iudanet/fieldsync/internal/client/storage"
	"github.com/iudanet/fieldsync/pkg/api"
)

type stubClient struct {
	registerResp *api.RegisterResponse
	loginResp    *api.TokenResponse
	refreshResp  *api.TokenResponse
	registerErr  error
	loginErr     error
	refreshErr   error
	refreshCalls int
}

func (c *stubClient) Register(ctx context.Context, req api.RegisterRequest) (*api.RegisterResponse, error) {
	if c.registerErr != nil {
		return nil, c.registerErr
	}
	return c.registerResp, nil
}

func (c *stubClient) Login(ctx context.Context, req api.LoginRequest) (*api.TokenResponse, error) {
	if c.loginErr != nil {
		return nil, c.loginErr
	}
	return c.loginResp, nil
}

func (c *stubClient) Refresh(ctx context.Context, req api.RefreshRequest) (*api.TokenResponse, error) {
	c.refreshCalls++
	if c.refreshErr != nil {
		return nil, c.refreshErr
	}
	return c.refreshResp, nil
}

type memSessionStore struct {
	session *storage.Session
}

func (m *memSessionStore) SaveAuthSession(ctx context.Context, session *storage.Session) error {
	copied := *session
	m.session = &copied
	return nil
}

func (m *memSessionStore) GetAuthSession(ctx context.Context) (*storage.Session, error) {
	if m.session == nil {
		return nil, storage.ErrSessionNotFound
	}
	copied := *m.session
	return &copied, nil
}

func (m *memSessionStore) DeleteAuthSession(ctx context.Context) error {
	m.session = nil
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestService(client *stubClient, store *memSessionStore) (*Service, *time.Time) {
	svc := New(client, store, testLogger())
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }
	return svc, &now
}

func TestService_Register(t *testing.T) {
	client := &stubClient{registerResp: &api.RegisterResponse{UserID: "user-1"}}
	svc, _ := newTestService(client, &memSessionStore{})

	userID, err := svc.Register(context.Background(), "collector1", "strong-password-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)
}

func TestService_Register_ValidatesLocally(t *testing.T) {
	client := &stubClient{registerErr: errors.New("should not be called")}
	svc, _ := newTestService(client, &memSessionStore{})

	_, err := svc.Register(context.Background(), "ab", "strong-password-1")
	assert.Error(t, err)

	_, err = svc.Register(context.Background(), "collector1", "short")
	assert.Error(t, err)
}

func TestService_Login_SavesSession(t *testing.T) {
	client := &stubClient{loginResp: &api.TokenResponse{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		ExpiresIn:    900,
		UserID:       "user-1",
	}}
	store := &memSessionStore{}
	svc, now := newTestService(client, store)

	session, err := svc.Login(context.Background(), "collector1", "strong-password-1")
	require.NoError(t, err)
	assert.Equal(t, "access-1", session.AccessToken)
	assert.Equal(t, "user-1", session.UserID)
	assert.Equal(t, now.Add(900*time.Second), session.ExpiresAt)

	require.NotNil(t, store.session)
	assert.Equal(t, "refresh-1", store.session.RefreshToken)
	assert.Equal(t, "collector1", store.session.Username)
}

func TestService_CurrentSession_NotAuthenticated(t *testing.T) {
	svc, _ := newTestService(&stubClient{}, &memSessionStore{})

	_, err := svc.CurrentSession(context.Background())
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestService_CurrentSession_ValidTokenNoRefresh(t *testing.T) {
	client := &stubClient{refreshErr: errors.New("should not be called")}
	store := &memSessionStore{}
	svc, now := newTestService(client, store)

	store.session = &storage.Session{
		ExpiresAt:    now.Add(10 * time.Minute),
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		UserID:       "user-1",
		Username:     "collector1",
	}

	session, err := svc.CurrentSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-1", session.AccessToken)
	assert.Zero(t, client.refreshCalls)
}

func TestService_CurrentSession_RefreshesExpiring(t *testing.T) {
	client := &stubClient{refreshResp: &api.TokenResponse{
		AccessToken:  "access-2",
		RefreshToken: "refresh-2",
		ExpiresIn:    900,
		UserID:       "user-1",
	}}
	store := &memSessionStore{}
	svc, now := newTestService(client, store)

	// Токен истекает внутри leeway окна
	store.session = &storage.Session{
		ExpiresAt:    now.Add(10 * time.Second),
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		UserID:       "user-1",
		Username:     "collector1",
	}

	session, err := svc.CurrentSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, client.refreshCalls)
	assert.Equal(t, "access-2", session.AccessToken)
	assert.Equal(t, "refresh-2", session.RefreshToken)
	assert.Equal(t, "collector1", session.Username)

	// Ротация сохранена
	assert.Equal(t, "refresh-2", store.session.RefreshToken)
}

func TestService_CurrentSession_OfflineKeepsSession(t *testing.T) {
	// Реальная транспортная ошибка от недоступного сервера
	unreachable := apiclient.NewClient("http://127.0.0.1:1")
	_, terr := unreachable.Refresh(context.Background(), api.RefreshRequest{RefreshToken: "x"})
	require.Error(t, terr)

	client := &stubClient{refreshErr: terr}
	store := &memSessionStore{}
	svc, now := newTestService(client, store)

	store.session = &storage.Session{
		ExpiresAt:    now.Add(-time.Minute),
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		Username:     "collector1",
	}

	// Оффлайн не разлогинивает: возвращается устаревшая сессия
	session, err := svc.CurrentSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-1", session.AccessToken)
	assert.NotNil(t, store.session)
}

func TestService_CurrentSession_RefreshRejected(t *testing.T) {
	client := &stubClient{refreshErr: errors.New("401 unauthorized")}
	store := &memSessionStore{}
	svc, now := newTestService(client, store)

	store.session = &storage.Session{
		ExpiresAt:    now.Add(-time.Minute),
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
	}

	_, err := svc.CurrentSession(context.Background())
	assert.ErrorIs(t, err, ErrNotAuthenticated)

	// Мертвая сессия удалена
	assert.Nil(t, store.session)
}

func TestService_Logout(t *testing.T) {
	store := &memSessionStore{session: &storage.Session{AccessToken: "access-1"}}
	svc, _ := newTestService(&stubClient{}, store)

	ok, err := svc.IsAuthenticated(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, svc.Logout(context.Background()))

	ok, err = svc.IsAuthenticated(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}
