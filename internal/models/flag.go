package models

import "time"

// FlagRecord — персистентная запись одного protection flag.
// Флаг активен, пока now < ExpiresAt; ExpiresAt == nil означает,
// что флаг не истекает и снимается только явно.
type FlagRecord struct {
	Timestamp time.Time  `json:"timestamp"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Active сообщает, активен ли флаг в момент now
func (r *FlagRecord) Active(now time.Time) bool {
	return r.ExpiresAt == nil || now.Before(*r.ExpiresAt)
}
