package models

import (
	"time"
)

// Session is the bearer credential for a fully authenticated principal.
// Only the SHA-256 hash of the opaque token is ever persisted.
type Session struct {
	ID        string
	AccountID string
	TokenHash string
	IssuedAt  time.Time
	ExpiresAt time.Time
	RevokedAt *time.Time
}

// IsActive reports whether the session is neither revoked nor expired
func (s *Session) IsActive(now time.Time) bool {
	return s.RevokedAt == nil && now.Before(s.ExpiresAt)
}

// UsedCode records an accepted (account, time step) pair so a captured code
// cannot be replayed within the verification tolerance window.
type UsedCode struct {
	AccountID string
	TimeStep  int64
	UsedAt    time.Time
}
