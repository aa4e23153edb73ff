package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/velobill/authgate/internal/database"
	"github.com/velobill/authgate/internal/models"
)

type SessionRepository struct {
	db *database.DB
}

func NewSessionRepository(db *database.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

func scanSessionRow(scanner rowScanner) (*models.Session, error) {
	var session models.Session

	err := scanner.Scan(
		&session.ID, &session.AccountID, &session.TokenHash,
		&session.IssuedAt, &session.ExpiresAt, &session.RevokedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &session, nil
}

func (r *SessionRepository) Create(ctx context.Context, accountID, tokenHash string, ttl time.Duration) (*models.Session, error) {
	now := time.Now()
	session := &models.Session{
		ID:        uuid.New().String(),
		AccountID: accountID,
		TokenHash: tokenHash,
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}

	query := `
		INSERT INTO sessions (id, account_id, token_hash, issued_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	err := withRetry(ctx, func() error {
		_, execErr := r.db.Pool.Exec(ctx, query,
			session.ID, session.AccountID, session.TokenHash, session.IssuedAt, session.ExpiresAt)
		return database.MapPostgresError(execErr)
	})
	if err != nil {
		return nil, err
	}

	return session, nil
}

func (r *SessionRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*models.Session, error) {
	query := `
		SELECT id, account_id, token_hash, issued_at, expires_at, revoked_at
		FROM sessions WHERE token_hash = $1
	`

	var session *models.Session
	err := withRetry(ctx, func() error {
		var scanErr error
		session, scanErr = scanSessionRow(r.db.Pool.QueryRow(ctx, query, tokenHash))
		return scanErr
	})
	if err != nil {
		return nil, err
	}

	return session, nil
}

// Revoke marks a session revoked. Revocation is authoritative the moment the
// update commits; a Resolve racing this call either sees the old row (and the
// pre-revocation session) or the revoked one, never a partial state.
func (r *SessionRepository) Revoke(ctx context.Context, tokenHash string) error {
	query := `
		UPDATE sessions SET revoked_at = now()
		WHERE token_hash = $1 AND revoked_at IS NULL
	`

	return withRetry(ctx, func() error {
		result, err := r.db.Pool.Exec(ctx, query, tokenHash)
		if err != nil {
			return database.MapPostgresError(err)
		}
		if result.RowsAffected() == 0 {
			return models.ErrNotFound
		}
		return nil
	})
}

// RevokeAllForAccount revokes every live session for an account. Used on
// re-enrollment, where outstanding sessions must die before the secret moves.
func (r *SessionRepository) RevokeAllForAccount(ctx context.Context, accountID string) (int64, error) {
	query := `
		UPDATE sessions SET revoked_at = now()
		WHERE account_id = $1 AND revoked_at IS NULL
	`

	var revoked int64
	err := withRetry(ctx, func() error {
		result, execErr := r.db.Pool.Exec(ctx, query, accountID)
		if execErr != nil {
			return database.MapPostgresError(execErr)
		}
		revoked = result.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, err
	}

	return revoked, nil
}

// DeleteExpired removes sessions past their expiry (the expiry sweep)
func (r *SessionRepository) DeleteExpired(ctx context.Context) (int64, error) {
	query := `DELETE FROM sessions WHERE expires_at < now()`

	result, err := r.db.Pool.Exec(ctx, query)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}

	return result.RowsAffected(), nil
}
