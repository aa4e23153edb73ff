package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// PendingTicket binds a successful password check to an in-progress 2FA step.
// The row is authoritative for expiry, consumption, and attempt counting; the
// client only ever holds a signed wrapper around the ticket id.
type PendingTicket struct {
	ID         string
	AccountID  string
	IssuedAt   time.Time
	ExpiresAt  time.Time
	ConsumedAt *time.Time // set exactly once, nil while the ticket is live
	Attempts   int        // failed code submissions against this ticket
}

// IsExpired reports whether the ticket has passed its TTL
func (t *PendingTicket) IsExpired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// IsConsumed reports whether the ticket has already been spent
func (t *PendingTicket) IsConsumed() bool {
	return t.ConsumedAt != nil
}

// TicketClaims is the JWT payload of the pending ticket handed to the client
type TicketClaims struct {
	Type      string `json:"type"`
	AccountID string `json:"account_id"`
	jwt.RegisteredClaims
}
