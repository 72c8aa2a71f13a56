package storage

import (
	"context"
	"time"
)

// Session хранит авторизационные данные устройства между запусками
type Session struct {
	ExpiresAt    time.Time `json:"expires_at"` // срок действия access token
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	UserID       string    `json:"user_id"`
	Username     string    `json:"username"`
}

// SessionStorage defines interface for persisting the auth session
type SessionStorage interface {
	// SaveAuthSession persists the session, replacing any existing one
	SaveAuthSession(ctx context.Context, session *Session) error

	// GetAuthSession retrieves the stored session.
	// Returns ErrSessionNotFound when the device is logged out.
	GetAuthSession(ctx context.Context) (*Session, error)

	// DeleteAuthSession removes the stored session
	DeleteAuthSession(ctx context.Context) error
}
