package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/velobill/authgate/internal/database"
	"github.com/velobill/authgate/internal/models"
)

type AccountRepository struct {
	db *database.DB
}

func NewAccountRepository(db *database.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// rowScanner interface for scanning account rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

const accountColumns = `id, email, password_hash, totp_secret_enc, totp_secret_nonce,
	enrollment_state, failed_attempts, locked_until, created_at, updated_at`

// scanAccountRow handles nullable fields and populates an Account model
func scanAccountRow(scanner rowScanner) (*models.Account, error) {
	var account models.Account
	var state string
	var lockedUntil *time.Time

	err := scanner.Scan(
		&account.ID, &account.Email, &account.PasswordHash,
		&account.TOTPSecretEncrypted, &account.TOTPSecretNonce,
		&state, &account.FailedAttempts, &lockedUntil,
		&account.CreatedAt, &account.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	account.EnrollmentState = models.EnrollmentState(state)
	account.LockedUntil = lockedUntil

	return &account, nil
}

func (r *AccountRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`

	var account *models.Account
	err := withRetry(ctx, func() error {
		var scanErr error
		account, scanErr = scanAccountRow(r.db.Pool.QueryRow(ctx, query, id))
		return scanErr
	})
	if err != nil {
		return nil, err
	}

	return account, nil
}

func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE email = LOWER($1)`

	var account *models.Account
	err := withRetry(ctx, func() error {
		var scanErr error
		account, scanErr = scanAccountRow(r.db.Pool.QueryRow(ctx, query, email))
		return scanErr
	})
	if err != nil {
		return nil, err
	}

	return account, nil
}

func (r *AccountRepository) Create(ctx context.Context, account *models.Account) (*models.Account, error) {
	account.ID = uuid.New().String()

	now := time.Now()
	account.CreatedAt = now
	account.UpdatedAt = now

	if account.EnrollmentState == "" {
		account.EnrollmentState = models.EnrollmentNone
	}

	query := `
		INSERT INTO accounts (id, email, password_hash, totp_secret_enc, totp_secret_nonce, enrollment_state, failed_attempts, created_at, updated_at)
		VALUES ($1, LOWER($2), $3, $4, $5, $6, $7, $8, $9)
		RETURNING ` + accountColumns

	created, err := scanAccountRow(r.db.Pool.QueryRow(ctx, query,
		account.ID, account.Email, account.PasswordHash,
		account.TOTPSecretEncrypted, account.TOTPSecretNonce,
		string(account.EnrollmentState), account.FailedAttempts,
		account.CreatedAt, account.UpdatedAt,
	))
	if err != nil {
		return nil, err
	}

	return created, nil
}

// RecordFailedAttempt atomically increments the failure counter and applies
// the lockout once the threshold is crossed. The counter and lock move in a
// single statement so concurrent failures cannot lose updates.
// Returns the new attempt count and the lockout expiry, if one is now active.
func (r *AccountRepository) RecordFailedAttempt(ctx context.Context, id string, maxAttempts int, lockedUntil time.Time) (int, *time.Time, error) {
	query := `
		UPDATE accounts
		SET failed_attempts = failed_attempts + 1,
		    locked_until = CASE WHEN failed_attempts + 1 >= $2 THEN $3 ELSE locked_until END,
		    updated_at = now()
		WHERE id = $1
		RETURNING failed_attempts, locked_until
	`

	var attempts int
	var lock *time.Time

	err := withRetry(ctx, func() error {
		return database.MapPostgresError(
			r.db.Pool.QueryRow(ctx, query, id, maxAttempts, lockedUntil).Scan(&attempts, &lock))
	})
	if err != nil {
		return 0, nil, err
	}

	return attempts, lock, nil
}

// ResetFailedAttempts clears the failure counter and any lockout after a
// successful verification
func (r *AccountRepository) ResetFailedAttempts(ctx context.Context, id string) error {
	query := `
		UPDATE accounts
		SET failed_attempts = 0, locked_until = NULL, updated_at = now()
		WHERE id = $1
	`

	return withRetry(ctx, func() error {
		result, err := r.db.Pool.Exec(ctx, query, id)
		if err != nil {
			return database.MapPostgresError(err)
		}
		if result.RowsAffected() == 0 {
			return models.ErrNotFound
		}
		return nil
	})
}

// SetPendingSecret stores a freshly provisioned secret and moves the account
// to the pending state. The guard on enrollment_state means an activated
// secret can never be overwritten by a racing provisioning call.
func (r *AccountRepository) SetPendingSecret(ctx context.Context, id string, secretEnc, secretNonce []byte) error {
	query := `
		UPDATE accounts
		SET totp_secret_enc = $2, totp_secret_nonce = $3, enrollment_state = $4, updated_at = now()
		WHERE id = $1 AND enrollment_state <> $5
	`

	return withRetry(ctx, func() error {
		result, err := r.db.Pool.Exec(ctx, query, id, secretEnc, secretNonce,
			string(models.EnrollmentPending), string(models.EnrollmentEnrolled))
		if err != nil {
			return database.MapPostgresError(err)
		}
		if result.RowsAffected() == 0 {
			return models.ErrConflict
		}
		return nil
	})
}

// ActivateEnrollment flips pending to enrolled, but only if the stored secret
// is still the one that was just verified. A concurrent re-provisioning loses
// deterministically: its secret is no longer current, so its activation is
// rejected with ErrConflict.
func (r *AccountRepository) ActivateEnrollment(ctx context.Context, id string, secretEnc []byte) error {
	query := `
		UPDATE accounts
		SET enrollment_state = $3, updated_at = now()
		WHERE id = $1 AND enrollment_state = $4 AND totp_secret_enc = $2
	`

	return withRetry(ctx, func() error {
		result, err := r.db.Pool.Exec(ctx, query, id, secretEnc,
			string(models.EnrollmentEnrolled), string(models.EnrollmentPending))
		if err != nil {
			return database.MapPostgresError(err)
		}
		if result.RowsAffected() == 0 {
			return models.ErrConflict
		}
		return nil
	})
}

// ResetEnrollment drops an enrolled account back to the pending state with a
// new unactivated secret. Callers must revoke outstanding sessions first.
func (r *AccountRepository) ResetEnrollment(ctx context.Context, id string, secretEnc, secretNonce []byte) error {
	query := `
		UPDATE accounts
		SET totp_secret_enc = $2, totp_secret_nonce = $3, enrollment_state = $4, updated_at = now()
		WHERE id = $1
	`

	return withRetry(ctx, func() error {
		result, err := r.db.Pool.Exec(ctx, query, id, secretEnc, secretNonce, string(models.EnrollmentPending))
		if err != nil {
			return database.MapPostgresError(err)
		}
		if result.RowsAffected() == 0 {
			return models.ErrNotFound
		}
		return nil
	})
}
