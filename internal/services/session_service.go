package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/velobill/authgate/internal/auth"
	"github.com/velobill/authgate/internal/models"
	pkglogger "github.com/velobill/authgate/pkg/logger"
)

// SessionRepository defines the store operations on sessions
type SessionRepository interface {
	Create(ctx context.Context, accountID, tokenHash string, ttl time.Duration) (*models.Session, error)
	GetByTokenHash(ctx context.Context, tokenHash string) (*models.Session, error)
	Revoke(ctx context.Context, tokenHash string) error
	RevokeAllForAccount(ctx context.Context, accountID string) (int64, error)
}

// SessionService mints, resolves, and revokes bearer sessions
type SessionService struct {
	sessions SessionRepository
	accounts AccountRepository
	logger   *slog.Logger
	audit    *pkglogger.AuditLogger
	ttl      time.Duration
}

// NewSessionService creates a new SessionService
func NewSessionService(
	sessions SessionRepository,
	accounts AccountRepository,
	logger *slog.Logger,
	audit *pkglogger.AuditLogger,
	ttl time.Duration,
) *SessionService {
	return &SessionService{
		sessions: sessions,
		accounts: accounts,
		logger:   logger,
		audit:    audit,
		ttl:      ttl,
	}
}

// IssuedSession carries the one-time plaintext token back to the caller.
// The token exists nowhere else; only its hash is stored.
type IssuedSession struct {
	Token     string
	ExpiresAt time.Time
}

// Issue mints a session for a fully verified principal
func (s *SessionService) Issue(ctx context.Context, accountID string) (*IssuedSession, error) {
	token, err := auth.GenerateSessionToken()
	if err != nil {
		s.logger.Error("failed to generate session token", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	session, err := s.sessions.Create(ctx, accountID, auth.HashSessionToken(token), s.ttl)
	if err != nil {
		if errors.Is(err, models.ErrStoreUnavailable) {
			return nil, err
		}
		s.logger.Error("failed to persist session",
			slog.String("account_id", accountID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.audit.LogSessionEvent("session_issued", accountID, session.ID)

	return &IssuedSession{
		Token:     token,
		ExpiresAt: session.ExpiresAt,
	}, nil
}

// Resolve turns a bearer token back into its principal. It fails closed with
// ErrSessionInvalid for unknown, expired, and revoked tokens alike.
func (s *SessionService) Resolve(ctx context.Context, token string) (*models.Account, *models.Session, error) {
	if token == "" {
		return nil, nil, models.ErrSessionInvalid
	}

	session, err := s.sessions.GetByTokenHash(ctx, auth.HashSessionToken(token))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, nil, models.ErrSessionInvalid
		}
		if errors.Is(err, models.ErrStoreUnavailable) {
			return nil, nil, err
		}
		s.logger.Error("failed to look up session", slog.Any("error", err))
		return nil, nil, models.ErrInternalServer
	}

	if !session.IsActive(time.Now()) {
		return nil, nil, models.ErrSessionInvalid
	}

	account, err := s.accounts.GetByID(ctx, session.AccountID)
	if err != nil {
		if errors.Is(err, models.ErrStoreUnavailable) {
			return nil, nil, err
		}
		s.logger.Error("failed to load session account",
			slog.String("account_id", session.AccountID), slog.Any("error", err))
		return nil, nil, models.ErrSessionInvalid
	}

	return account, session, nil
}

// Revoke ends a session by its bearer token. Revoking a token that was never
// issued (or was already revoked) is a no-op: logout is idempotent and does
// not confirm token validity to the caller.
func (s *SessionService) Revoke(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}

	err := s.sessions.Revoke(ctx, auth.HashSessionToken(token))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil
		}
		if errors.Is(err, models.ErrStoreUnavailable) {
			return err
		}
		s.logger.Error("failed to revoke session", slog.Any("error", err))
		return models.ErrInternalServer
	}

	return nil
}

// RevokeAllForAccount ends every live session for an account
func (s *SessionService) RevokeAllForAccount(ctx context.Context, accountID string) (int64, error) {
	revoked, err := s.sessions.RevokeAllForAccount(ctx, accountID)
	if err != nil {
		if errors.Is(err, models.ErrStoreUnavailable) {
			return 0, err
		}
		s.logger.Error("failed to revoke account sessions",
			slog.String("account_id", accountID), slog.Any("error", err))
		return 0, models.ErrInternalServer
	}

	if revoked > 0 {
		s.audit.LogSessionEvent("sessions_revoked_all", accountID, "")
	}

	return revoked, nil
}
