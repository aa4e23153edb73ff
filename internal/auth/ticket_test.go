package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/velobill/authgate/internal/models"
)

func newTestTicket(ttl time.Duration) *models.PendingTicket {
	now := time.Now()
	return &models.PendingTicket{
		ID:        "ticket-123",
		AccountID: "account-456",
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}
}

func TestTicketTokenManager_GenerateParse_RoundTrip(t *testing.T) {
	tm := NewTicketTokenManager("test-secret-key-for-tickets")
	ticket := newTestTicket(5 * time.Minute)

	token, err := tm.Generate(ticket)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := tm.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "ticket-123", claims.ID)
	assert.Equal(t, "account-456", claims.AccountID)
	assert.Equal(t, "pending_ticket", claims.Type)
}

func TestTicketTokenManager_Parse_Expired(t *testing.T) {
	tm := NewTicketTokenManager("test-secret-key-for-tickets")

	now := time.Now()
	ticket := &models.PendingTicket{
		ID:        "ticket-123",
		AccountID: "account-456",
		IssuedAt:  now.Add(-10 * time.Minute),
		ExpiresAt: now.Add(-5 * time.Minute),
	}

	token, err := tm.Generate(ticket)
	require.NoError(t, err)

	_, err = tm.Parse(token)
	assert.ErrorIs(t, err, models.ErrTicketExpired)
}

func TestTicketTokenManager_Parse_WrongSecret(t *testing.T) {
	tm := NewTicketTokenManager("test-secret-key-for-tickets")
	other := NewTicketTokenManager("a-completely-different-secret")

	token, err := tm.Generate(newTestTicket(5 * time.Minute))
	require.NoError(t, err)

	_, err = other.Parse(token)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, models.ErrTicketExpired)
}

func TestTicketTokenManager_Parse_Tampered(t *testing.T) {
	tm := NewTicketTokenManager("test-secret-key-for-tickets")

	token, err := tm.Generate(newTestTicket(5 * time.Minute))
	require.NoError(t, err)

	tampered := token[:len(token)-4] + "xxxx"
	_, err = tm.Parse(tampered)
	assert.Error(t, err)
}

func TestTicketTokenManager_Parse_Garbage(t *testing.T) {
	tm := NewTicketTokenManager("test-secret-key-for-tickets")

	for _, input := range []string{"", "not-a-jwt", "a.b.c"} {
		_, err := tm.Parse(input)
		assert.Error(t, err, input)
	}
}
