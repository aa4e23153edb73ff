package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/velobill/authgate/internal/database"
	"github.com/velobill/authgate/internal/models"
)

type TicketRepository struct {
	db *database.DB
}

func NewTicketRepository(db *database.DB) *TicketRepository {
	return &TicketRepository{db: db}
}

func scanTicketRow(scanner rowScanner) (*models.PendingTicket, error) {
	var ticket models.PendingTicket

	err := scanner.Scan(
		&ticket.ID, &ticket.AccountID, &ticket.IssuedAt,
		&ticket.ExpiresAt, &ticket.ConsumedAt, &ticket.Attempts,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &ticket, nil
}

// Create persists a new pending ticket after invalidating any live ticket
// for the same account (one live ticket per account at a time). Both
// statements run in one transaction so a crash between them cannot leave the
// account with zero live tickets and no replacement issued.
func (r *TicketRepository) Create(ctx context.Context, accountID string, ttl time.Duration) (*models.PendingTicket, error) {
	now := time.Now()
	ticket := &models.PendingTicket{
		ID:        uuid.New().String(),
		AccountID: accountID,
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}

	err := withRetry(ctx, func() error {
		return r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
			invalidate := `
				UPDATE pending_tickets SET consumed_at = $2
				WHERE account_id = $1 AND consumed_at IS NULL
			`
			if _, err := tx.Exec(ctx, invalidate, accountID, now); err != nil {
				return database.MapPostgresError(err)
			}

			insert := `
				INSERT INTO pending_tickets (id, account_id, issued_at, expires_at, attempts)
				VALUES ($1, $2, $3, $4, 0)
			`
			if _, err := tx.Exec(ctx, insert, ticket.ID, ticket.AccountID, ticket.IssuedAt, ticket.ExpiresAt); err != nil {
				return database.MapPostgresError(err)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return ticket, nil
}

func (r *TicketRepository) GetByID(ctx context.Context, id string) (*models.PendingTicket, error) {
	query := `
		SELECT id, account_id, issued_at, expires_at, consumed_at, attempts
		FROM pending_tickets WHERE id = $1
	`

	var ticket *models.PendingTicket
	err := withRetry(ctx, func() error {
		var scanErr error
		ticket, scanErr = scanTicketRow(r.db.Pool.QueryRow(ctx, query, id))
		return scanErr
	})
	if err != nil {
		return nil, err
	}

	return ticket, nil
}

// Consume marks a ticket as spent, at most once. The conditional update is
// the whole race: of two concurrent consumers, exactly one sees a row
// affected; the loser gets ErrTicketConsumed (or ErrTicketExpired when the
// TTL lapsed first).
func (r *TicketRepository) Consume(ctx context.Context, id string) error {
	return withRetry(ctx, func() error {
		now := time.Now()
		query := `
			UPDATE pending_tickets SET consumed_at = $2
			WHERE id = $1 AND consumed_at IS NULL AND expires_at > $2
		`

		result, err := r.db.Pool.Exec(ctx, query, id, now)
		if err != nil {
			return database.MapPostgresError(err)
		}
		if result.RowsAffected() == 1 {
			return nil
		}

		// Distinguish why the conditional update matched nothing
		ticket, err := scanTicketRow(r.db.Pool.QueryRow(ctx,
			`SELECT id, account_id, issued_at, expires_at, consumed_at, attempts FROM pending_tickets WHERE id = $1`, id))
		if err != nil {
			return err
		}
		if ticket.IsConsumed() {
			return models.ErrTicketConsumed
		}
		return models.ErrTicketExpired
	})
}

// IncrementAttempts bumps the per-ticket failed-code counter and returns the
// new value. Live tickets only; a consumed ticket reports ErrTicketConsumed.
func (r *TicketRepository) IncrementAttempts(ctx context.Context, id string) (int, error) {
	query := `
		UPDATE pending_tickets SET attempts = attempts + 1
		WHERE id = $1 AND consumed_at IS NULL
		RETURNING attempts
	`

	var attempts int
	err := withRetry(ctx, func() error {
		scanErr := database.MapPostgresError(r.db.Pool.QueryRow(ctx, query, id).Scan(&attempts))
		if errors.Is(scanErr, models.ErrNotFound) {
			return models.ErrTicketConsumed
		}
		return scanErr
	})
	if err != nil {
		return 0, err
	}

	return attempts, nil
}

// DeleteExpired removes tickets past their TTL; consumed rows older than the
// cutoff go too, since they can never be consumed again
func (r *TicketRepository) DeleteExpired(ctx context.Context) (int64, error) {
	query := `DELETE FROM pending_tickets WHERE expires_at < now() OR consumed_at IS NOT NULL`

	result, err := r.db.Pool.Exec(ctx, query)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}

	return result.RowsAffected(), nil
}
