package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/velobill/authgate/internal/models"
)

const ticketTokenType = "pending_ticket"

// TicketTokenManager signs and validates the pending-ticket JWT handed to the
// client between the password step and the 2FA step. The token only carries
// the ticket id (jti); consumption, expiry, and attempt counting stay
// authoritative in the store.
type TicketTokenManager struct {
	secret string
}

// NewTicketTokenManager creates a new TicketTokenManager
func NewTicketTokenManager(secret string) *TicketTokenManager {
	return &TicketTokenManager{secret: secret}
}

// Generate creates a signed wrapper for a pending ticket
func (tm *TicketTokenManager) Generate(ticket *models.PendingTicket) (string, error) {
	claims := &models.TicketClaims{
		Type:      ticketTokenType,
		AccountID: ticket.AccountID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        ticket.ID,
			ExpiresAt: jwt.NewNumericDate(ticket.ExpiresAt),
			IssuedAt:  jwt.NewNumericDate(ticket.IssuedAt),
			NotBefore: jwt.NewNumericDate(ticket.IssuedAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	tokenString, err := token.SignedString([]byte(tm.secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign ticket token: %w", err)
	}

	return tokenString, nil
}

// Parse verifies a ticket token and returns its claims.
// An expired signature surfaces as models.ErrTicketExpired so the caller can
// report the same failure whether expiry is caught here or at the store row.
func (tm *TicketTokenManager) Parse(tokenString string) (*models.TicketClaims, error) {
	claims := &models.TicketClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(tm.secret), nil
	}, jwt.WithIssuedAt(), jwt.WithLeeway(5*time.Second))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, models.ErrTicketExpired
		}
		return nil, fmt.Errorf("failed to parse ticket token: %w", err)
	}

	if !token.Valid || claims.Type != ticketTokenType || claims.ID == "" {
		return nil, fmt.Errorf("invalid ticket token")
	}

	return claims, nil
}
