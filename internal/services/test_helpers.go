package services

import (
	"context"
	"time"

	"github.com/velobill/authgate/internal/models"
	"golang.org/x/crypto/bcrypt"
)

// MockAccountRepository implements AccountRepository for testing
type MockAccountRepository struct {
	GetByIDFunc             func(ctx context.Context, id string) (*models.Account, error)
	GetByEmailFunc          func(ctx context.Context, email string) (*models.Account, error)
	CreateFunc              func(ctx context.Context, account *models.Account) (*models.Account, error)
	RecordFailedAttemptFunc func(ctx context.Context, id string, maxAttempts int, lockedUntil time.Time) (int, *time.Time, error)
	ResetFailedAttemptsFunc func(ctx context.Context, id string) error
	SetPendingSecretFunc    func(ctx context.Context, id string, secretEnc, secretNonce []byte) error
	ActivateEnrollmentFunc  func(ctx context.Context, id string, secretEnc []byte) error
	ResetEnrollmentFunc     func(ctx context.Context, id string, secretEnc, secretNonce []byte) error
}

func (m *MockAccountRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockAccountRepository) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	if m.GetByEmailFunc != nil {
		return m.GetByEmailFunc(ctx, email)
	}
	return nil, models.ErrNotFound
}

func (m *MockAccountRepository) Create(ctx context.Context, account *models.Account) (*models.Account, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, account)
	}
	return nil, models.ErrInternalServer
}

func (m *MockAccountRepository) RecordFailedAttempt(ctx context.Context, id string, maxAttempts int, lockedUntil time.Time) (int, *time.Time, error) {
	if m.RecordFailedAttemptFunc != nil {
		return m.RecordFailedAttemptFunc(ctx, id, maxAttempts, lockedUntil)
	}
	return 1, nil, nil
}

func (m *MockAccountRepository) ResetFailedAttempts(ctx context.Context, id string) error {
	if m.ResetFailedAttemptsFunc != nil {
		return m.ResetFailedAttemptsFunc(ctx, id)
	}
	return nil
}

func (m *MockAccountRepository) SetPendingSecret(ctx context.Context, id string, secretEnc, secretNonce []byte) error {
	if m.SetPendingSecretFunc != nil {
		return m.SetPendingSecretFunc(ctx, id, secretEnc, secretNonce)
	}
	return nil
}

func (m *MockAccountRepository) ActivateEnrollment(ctx context.Context, id string, secretEnc []byte) error {
	if m.ActivateEnrollmentFunc != nil {
		return m.ActivateEnrollmentFunc(ctx, id, secretEnc)
	}
	return nil
}

func (m *MockAccountRepository) ResetEnrollment(ctx context.Context, id string, secretEnc, secretNonce []byte) error {
	if m.ResetEnrollmentFunc != nil {
		return m.ResetEnrollmentFunc(ctx, id, secretEnc, secretNonce)
	}
	return nil
}

// MockTicketRepository implements TicketRepository for testing
type MockTicketRepository struct {
	CreateFunc            func(ctx context.Context, accountID string, ttl time.Duration) (*models.PendingTicket, error)
	GetByIDFunc           func(ctx context.Context, id string) (*models.PendingTicket, error)
	ConsumeFunc           func(ctx context.Context, id string) error
	IncrementAttemptsFunc func(ctx context.Context, id string) (int, error)
}

func (m *MockTicketRepository) Create(ctx context.Context, accountID string, ttl time.Duration) (*models.PendingTicket, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, accountID, ttl)
	}
	now := time.Now()
	return &models.PendingTicket{
		ID:        "ticket-1",
		AccountID: accountID,
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}, nil
}

func (m *MockTicketRepository) GetByID(ctx context.Context, id string) (*models.PendingTicket, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockTicketRepository) Consume(ctx context.Context, id string) error {
	if m.ConsumeFunc != nil {
		return m.ConsumeFunc(ctx, id)
	}
	return nil
}

func (m *MockTicketRepository) IncrementAttempts(ctx context.Context, id string) (int, error) {
	if m.IncrementAttemptsFunc != nil {
		return m.IncrementAttemptsFunc(ctx, id)
	}
	return 1, nil
}

// MockSessionRepository implements SessionRepository for testing
type MockSessionRepository struct {
	CreateFunc              func(ctx context.Context, accountID, tokenHash string, ttl time.Duration) (*models.Session, error)
	GetByTokenHashFunc      func(ctx context.Context, tokenHash string) (*models.Session, error)
	RevokeFunc              func(ctx context.Context, tokenHash string) error
	RevokeAllForAccountFunc func(ctx context.Context, accountID string) (int64, error)
}

func (m *MockSessionRepository) Create(ctx context.Context, accountID, tokenHash string, ttl time.Duration) (*models.Session, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, accountID, tokenHash, ttl)
	}
	now := time.Now()
	return &models.Session{
		ID:        "session-1",
		AccountID: accountID,
		TokenHash: tokenHash,
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}, nil
}

func (m *MockSessionRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*models.Session, error) {
	if m.GetByTokenHashFunc != nil {
		return m.GetByTokenHashFunc(ctx, tokenHash)
	}
	return nil, models.ErrNotFound
}

func (m *MockSessionRepository) Revoke(ctx context.Context, tokenHash string) error {
	if m.RevokeFunc != nil {
		return m.RevokeFunc(ctx, tokenHash)
	}
	return nil
}

func (m *MockSessionRepository) RevokeAllForAccount(ctx context.Context, accountID string) (int64, error) {
	if m.RevokeAllForAccountFunc != nil {
		return m.RevokeAllForAccountFunc(ctx, accountID)
	}
	return 0, nil
}

// MockUsedCodeRecorder implements UsedCodeRecorder for testing
type MockUsedCodeRecorder struct {
	RecordFunc func(ctx context.Context, accountID string, timeStep int64) error
}

func (m *MockUsedCodeRecorder) Record(ctx context.Context, accountID string, timeStep int64) error {
	if m.RecordFunc != nil {
		return m.RecordFunc(ctx, accountID, timeStep)
	}
	return nil
}

// MockSessionIssuer implements SessionIssuer for testing
type MockSessionIssuer struct {
	IssueFunc func(ctx context.Context, accountID string) (*IssuedSession, error)
}

func (m *MockSessionIssuer) Issue(ctx context.Context, accountID string) (*IssuedSession, error) {
	if m.IssueFunc != nil {
		return m.IssueFunc(ctx, accountID)
	}
	return &IssuedSession{Token: "test-token", ExpiresAt: time.Now().Add(24 * time.Hour)}, nil
}

// MockAlertSender implements AlertSender for testing
type MockAlertSender struct {
	SendLockoutAlertFunc      func(ctx context.Context, email string, lockedUntil time.Time) error
	SendReenrollmentAlertFunc func(ctx context.Context, email string) error
}

func (m *MockAlertSender) SendLockoutAlert(ctx context.Context, email string, lockedUntil time.Time) error {
	if m.SendLockoutAlertFunc != nil {
		return m.SendLockoutAlertFunc(ctx, email, lockedUntil)
	}
	return nil
}

func (m *MockAlertSender) SendReenrollmentAlert(ctx context.Context, email string) error {
	if m.SendReenrollmentAlertFunc != nil {
		return m.SendReenrollmentAlertFunc(ctx, email)
	}
	return nil
}

// NewTestAccount builds an account with a bcrypt hash of the given password.
// Minimum cost keeps the test suite fast.
func NewTestAccount(id, email, password string) *models.Account {
	hash, _ := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	now := time.Now()
	return &models.Account{
		ID:              id,
		Email:           email,
		PasswordHash:    string(hash),
		EnrollmentState: models.EnrollmentNone,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}
