package services

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/velobill/authgate/internal/auth"
	"github.com/velobill/authgate/internal/models"
	pkglogger "github.com/velobill/authgate/pkg/logger"
)

func newSessionService(sessions *MockSessionRepository, accounts *MockAccountRepository) *SessionService {
	logger := slog.Default()
	return NewSessionService(sessions, accounts, logger, pkglogger.NewAuditLogger(logger), 24*time.Hour)
}

func TestSessionService_Issue_StoresOnlyHash(t *testing.T) {
	var storedHash string
	sessions := &MockSessionRepository{
		CreateFunc: func(ctx context.Context, accountID, tokenHash string, ttl time.Duration) (*models.Session, error) {
			storedHash = tokenHash
			assert.Equal(t, 24*time.Hour, ttl)
			now := time.Now()
			return &models.Session{
				ID:        "session-1",
				AccountID: accountID,
				TokenHash: tokenHash,
				IssuedAt:  now,
				ExpiresAt: now.Add(ttl),
			}, nil
		},
	}

	svc := newSessionService(sessions, &MockAccountRepository{})

	issued, err := svc.Issue(context.Background(), "account-1")
	require.NoError(t, err)
	assert.NotEmpty(t, issued.Token)
	assert.NotEqual(t, issued.Token, storedHash)
	assert.Equal(t, auth.HashSessionToken(issued.Token), storedHash)
}

func TestSessionService_Issue_TokensAreUnique(t *testing.T) {
	svc := newSessionService(&MockSessionRepository{}, &MockAccountRepository{})

	first, err := svc.Issue(context.Background(), "account-1")
	require.NoError(t, err)
	second, err := svc.Issue(context.Background(), "account-1")
	require.NoError(t, err)

	assert.NotEqual(t, first.Token, second.Token)
}

func TestSessionService_Resolve_ActiveSession(t *testing.T) {
	account := NewTestAccount("account-1", "rider@example.com", "CorrectHorse1!")
	now := time.Now()

	sessions := &MockSessionRepository{
		GetByTokenHashFunc: func(ctx context.Context, tokenHash string) (*models.Session, error) {
			assert.Equal(t, auth.HashSessionToken("bearer-token"), tokenHash)
			return &models.Session{
				ID:        "session-1",
				AccountID: "account-1",
				TokenHash: tokenHash,
				IssuedAt:  now,
				ExpiresAt: now.Add(time.Hour),
			}, nil
		},
	}
	accounts := &MockAccountRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*models.Account, error) {
			return account, nil
		},
	}

	svc := newSessionService(sessions, accounts)

	resolvedAccount, resolvedSession, err := svc.Resolve(context.Background(), "bearer-token")
	require.NoError(t, err)
	assert.Equal(t, "account-1", resolvedAccount.ID)
	assert.Equal(t, "session-1", resolvedSession.ID)
}

func TestSessionService_Resolve_UnknownToken(t *testing.T) {
	svc := newSessionService(&MockSessionRepository{}, &MockAccountRepository{})

	_, _, err := svc.Resolve(context.Background(), "never-issued")
	assert.ErrorIs(t, err, models.ErrSessionInvalid)
}

func TestSessionService_Resolve_EmptyToken(t *testing.T) {
	svc := newSessionService(&MockSessionRepository{}, &MockAccountRepository{})

	_, _, err := svc.Resolve(context.Background(), "")
	assert.ErrorIs(t, err, models.ErrSessionInvalid)
}

func TestSessionService_Resolve_ExpiredSession(t *testing.T) {
	now := time.Now()
	sessions := &MockSessionRepository{
		GetByTokenHashFunc: func(ctx context.Context, tokenHash string) (*models.Session, error) {
			return &models.Session{
				ID:        "session-1",
				AccountID: "account-1",
				IssuedAt:  now.Add(-25 * time.Hour),
				ExpiresAt: now.Add(-time.Hour),
			}, nil
		},
	}

	svc := newSessionService(sessions, &MockAccountRepository{})

	_, _, err := svc.Resolve(context.Background(), "expired-token")
	assert.ErrorIs(t, err, models.ErrSessionInvalid)
}

func TestSessionService_Resolve_RevokedSession(t *testing.T) {
	now := time.Now()
	revokedAt := now.Add(-time.Minute)
	sessions := &MockSessionRepository{
		GetByTokenHashFunc: func(ctx context.Context, tokenHash string) (*models.Session, error) {
			return &models.Session{
				ID:        "session-1",
				AccountID: "account-1",
				IssuedAt:  now.Add(-time.Hour),
				ExpiresAt: now.Add(23 * time.Hour),
				RevokedAt: &revokedAt,
			}, nil
		},
	}

	svc := newSessionService(sessions, &MockAccountRepository{})

	// A revoked session fails deterministically even though it has not expired
	_, _, err := svc.Resolve(context.Background(), "revoked-token")
	assert.ErrorIs(t, err, models.ErrSessionInvalid)
}

func TestSessionService_Revoke_Success(t *testing.T) {
	revoked := false
	sessions := &MockSessionRepository{
		RevokeFunc: func(ctx context.Context, tokenHash string) error {
			revoked = true
			assert.Equal(t, auth.HashSessionToken("bearer-token"), tokenHash)
			return nil
		},
	}

	svc := newSessionService(sessions, &MockAccountRepository{})

	err := svc.Revoke(context.Background(), "bearer-token")
	assert.NoError(t, err)
	assert.True(t, revoked)
}

func TestSessionService_Revoke_UnknownTokenIsNoop(t *testing.T) {
	sessions := &MockSessionRepository{
		RevokeFunc: func(ctx context.Context, tokenHash string) error {
			return models.ErrNotFound
		},
	}

	svc := newSessionService(sessions, &MockAccountRepository{})

	assert.NoError(t, svc.Revoke(context.Background(), "never-issued"))
}

func TestSessionService_Revoke_StoreUnavailable(t *testing.T) {
	sessions := &MockSessionRepository{
		RevokeFunc: func(ctx context.Context, tokenHash string) error {
			return models.ErrStoreUnavailable
		},
	}

	svc := newSessionService(sessions, &MockAccountRepository{})

	assert.ErrorIs(t, svc.Revoke(context.Background(), "bearer-token"), models.ErrStoreUnavailable)
}

func TestSessionService_RevokeAllForAccount(t *testing.T) {
	sessions := &MockSessionRepository{
		RevokeAllForAccountFunc: func(ctx context.Context, accountID string) (int64, error) {
			assert.Equal(t, "account-1", accountID)
			return 3, nil
		},
	}

	svc := newSessionService(sessions, &MockAccountRepository{})

	revoked, err := svc.RevokeAllForAccount(context.Background(), "account-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), revoked)
}
