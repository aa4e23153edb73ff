package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/velobill/authgate/internal/auth"
	"github.com/velobill/authgate/internal/models"
	pkgauth "github.com/velobill/authgate/pkg/auth"
	pkglogger "github.com/velobill/authgate/pkg/logger"
)

// AccountRepository defines the store operations the services need on accounts
type AccountRepository interface {
	GetByID(ctx context.Context, id string) (*models.Account, error)
	GetByEmail(ctx context.Context, email string) (*models.Account, error)
	Create(ctx context.Context, account *models.Account) (*models.Account, error)
	RecordFailedAttempt(ctx context.Context, id string, maxAttempts int, lockedUntil time.Time) (int, *time.Time, error)
	ResetFailedAttempts(ctx context.Context, id string) error
	SetPendingSecret(ctx context.Context, id string, secretEnc, secretNonce []byte) error
	ActivateEnrollment(ctx context.Context, id string, secretEnc []byte) error
	ResetEnrollment(ctx context.Context, id string, secretEnc, secretNonce []byte) error
}

// TicketRepository defines the store operations on pending tickets
type TicketRepository interface {
	Create(ctx context.Context, accountID string, ttl time.Duration) (*models.PendingTicket, error)
	GetByID(ctx context.Context, id string) (*models.PendingTicket, error)
	Consume(ctx context.Context, id string) error
	IncrementAttempts(ctx context.Context, id string) (int, error)
}

// CredentialConfig holds the verifier's policy knobs
type CredentialConfig struct {
	MaxFailedAttempts int
	LockoutDuration   time.Duration
	TicketTTL         time.Duration
}

// CredentialService verifies email/password pairs and mints pending tickets
type CredentialService struct {
	accounts     AccountRepository
	tickets      TicketRepository
	ticketTokens *auth.TicketTokenManager
	timing       *auth.TimingDelay
	alerts       AlertSender
	logger       *slog.Logger
	audit        *pkglogger.AuditLogger
	config       CredentialConfig
}

// NewCredentialService creates a new CredentialService
func NewCredentialService(
	accounts AccountRepository,
	tickets TicketRepository,
	ticketTokens *auth.TicketTokenManager,
	timing *auth.TimingDelay,
	alerts AlertSender,
	logger *slog.Logger,
	audit *pkglogger.AuditLogger,
	config CredentialConfig,
) *CredentialService {
	return &CredentialService{
		accounts:     accounts,
		tickets:      tickets,
		ticketTokens: ticketTokens,
		timing:       timing,
		alerts:       alerts,
		logger:       logger,
		audit:        audit,
		config:       config,
	}
}

// LoginResult is the pending ticket handed back after a successful password check
type LoginResult struct {
	TicketToken string
	ExpiresAt   time.Time
}

// Login verifies the email/password pair. On success any previous live ticket
// for the account is invalidated and a fresh one is returned; the caller must
// still complete the 2FA step before a session exists.
//
// A locked account fails before the hash comparison: the lock is intentionally
// observable, and skipping the compare keeps its timing from revealing whether
// the submitted password was also correct.
func (s *CredentialService) Login(ctx context.Context, email, password, ipAddress string) (*LoginResult, error) {
	start := time.Now()

	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		s.timing.WaitFrom(start)
		return nil, models.ErrInvalidCredentials
	}

	account, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.logger.Info("login failed: unknown account")
			s.audit.LogAuthAttempt(pkglogger.AuditEvent{
				EventType:     "login_failed",
				IPAddress:     ipAddress,
				FailureReason: "invalid_credentials",
				Success:       false,
			})
			s.timing.WaitFrom(start)
			return nil, models.ErrInvalidCredentials
		}
		if errors.Is(err, models.ErrStoreUnavailable) {
			return nil, err
		}
		s.logger.Error("failed to get account by email", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if account.IsLocked(time.Now()) {
		s.audit.LogAuthAttempt(pkglogger.AuditEvent{
			EventType:     "login_failed",
			AccountID:     account.ID,
			IPAddress:     ipAddress,
			FailureReason: "account_locked",
			Success:       false,
		})
		return nil, models.ErrAccountLocked
	}

	if err := pkgauth.ComparePassword(account.PasswordHash, password); err != nil {
		return nil, s.recordFailure(ctx, account, ipAddress, start)
	}

	if account.FailedAttempts > 0 {
		if err := s.accounts.ResetFailedAttempts(ctx, account.ID); err != nil {
			s.logger.Error("failed to reset attempt counter",
				slog.String("account_id", account.ID), slog.Any("error", err))
			// Not fatal for the login itself
		}
	}

	ticket, err := s.tickets.Create(ctx, account.ID, s.config.TicketTTL)
	if err != nil {
		if errors.Is(err, models.ErrStoreUnavailable) {
			return nil, err
		}
		s.logger.Error("failed to create pending ticket",
			slog.String("account_id", account.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	ticketToken, err := s.ticketTokens.Generate(ticket)
	if err != nil {
		s.logger.Error("failed to sign ticket token",
			slog.String("account_id", account.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.logger.Info("credentials verified, awaiting second factor",
		slog.String("account_id", account.ID))
	s.audit.LogAuthAttempt(pkglogger.AuditEvent{
		EventType: "password_verified",
		AccountID: account.ID,
		IPAddress: ipAddress,
		Success:   true,
	})

	return &LoginResult{
		TicketToken: ticketToken,
		ExpiresAt:   ticket.ExpiresAt,
	}, nil
}

// recordFailure bumps the lockout counter for a wrong password and reports
// the resulting error
func (s *CredentialService) recordFailure(ctx context.Context, account *models.Account, ipAddress string, start time.Time) error {
	lockUntil := time.Now().Add(s.config.LockoutDuration)

	attempts, locked, err := s.accounts.RecordFailedAttempt(ctx, account.ID, s.config.MaxFailedAttempts, lockUntil)
	if err != nil {
		s.logger.Error("failed to record failed attempt",
			slog.String("account_id", account.ID), slog.Any("error", err))
	}

	s.audit.LogAuthAttempt(pkglogger.AuditEvent{
		EventType:     "login_failed",
		AccountID:     account.ID,
		IPAddress:     ipAddress,
		FailureReason: "invalid_credentials",
		Success:       false,
	})

	if locked != nil && attempts >= s.config.MaxFailedAttempts {
		s.logger.Warn("account locked after repeated failures",
			slog.String("account_id", account.ID),
			slog.Int("attempts", attempts))
		s.audit.LogAuthAttempt(pkglogger.AuditEvent{
			EventType:     "account_locked",
			AccountID:     account.ID,
			IPAddress:     ipAddress,
			FailureReason: "too_many_failures",
			Success:       false,
		})

		if err := s.alerts.SendLockoutAlert(ctx, account.Email, *locked); err != nil {
			s.logger.Error("failed to send lockout alert",
				slog.String("account_id", account.ID), slog.Any("error", err))
		}
	}

	s.timing.WaitFrom(start)
	return models.ErrInvalidCredentials
}
