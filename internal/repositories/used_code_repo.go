package repositories

import (
	"context"
	"time"

	"github.com/velobill/authgate/internal/database"
	"github.com/velobill/authgate/internal/models"
)

type UsedCodeRepository struct {
	db *database.DB
}

func NewUsedCodeRepository(db *database.DB) *UsedCodeRepository {
	return &UsedCodeRepository{db: db}
}

// Record inserts an accepted (account, time step) pair. The primary key makes
// the insert the replay check itself: of two concurrent submissions of the
// same valid code, exactly one insert lands and the other observes
// ErrReplayedCode.
func (r *UsedCodeRepository) Record(ctx context.Context, accountID string, timeStep int64) error {
	query := `
		INSERT INTO used_totp_codes (account_id, time_step, used_at)
		VALUES ($1, $2, now())
		ON CONFLICT DO NOTHING
	`

	return withRetry(ctx, func() error {
		result, err := r.db.Pool.Exec(ctx, query, accountID, timeStep)
		if err != nil {
			return database.MapPostgresError(err)
		}
		if result.RowsAffected() == 0 {
			return models.ErrReplayedCode
		}
		return nil
	})
}

// DeleteOlderThan garbage-collects pairs older than the cutoff. Steps beyond
// the verification tolerance window can never match again, so keeping them
// buys nothing.
func (r *UsedCodeRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM used_totp_codes WHERE used_at < $1`

	result, err := r.db.Pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}

	return result.RowsAffected(), nil
}
