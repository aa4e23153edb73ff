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

// UsedCodeRecorder records accepted (account, time step) pairs for replay rejection
type UsedCodeRecorder interface {
	Record(ctx context.Context, accountID string, timeStep int64) error
}

// SessionIssuer mints a session for a fully verified principal
type SessionIssuer interface {
	Issue(ctx context.Context, accountID string) (*IssuedSession, error)
}

// HandshakeConfig holds the orchestrator's policy knobs
type HandshakeConfig struct {
	MaxCodeAttempts int
}

// HandshakeService coordinates the login handshake: resolve the 2FA status
// behind a pending ticket, verify submitted codes, activate first-time
// enrollments, and mint the final session. It holds no state of its own —
// every decision is re-derived from the ticket and account rows, so any
// instance can serve any step of a handshake.
type HandshakeService struct {
	accounts     AccountRepository
	tickets      TicketRepository
	usedCodes    UsedCodeRecorder
	enrollment   *EnrollmentService
	sessions     SessionIssuer
	totp         *auth.TOTPManager
	ticketTokens *auth.TicketTokenManager
	logger       *slog.Logger
	audit        *pkglogger.AuditLogger
	config       HandshakeConfig
}

// NewHandshakeService creates a new HandshakeService
func NewHandshakeService(
	accounts AccountRepository,
	tickets TicketRepository,
	usedCodes UsedCodeRecorder,
	enrollment *EnrollmentService,
	sessions SessionIssuer,
	totp *auth.TOTPManager,
	ticketTokens *auth.TicketTokenManager,
	logger *slog.Logger,
	audit *pkglogger.AuditLogger,
	config HandshakeConfig,
) *HandshakeService {
	return &HandshakeService{
		accounts:     accounts,
		tickets:      tickets,
		usedCodes:    usedCodes,
		enrollment:   enrollment,
		sessions:     sessions,
		totp:         totp,
		ticketTokens: ticketTokens,
		logger:       logger,
		audit:        audit,
		config:       config,
	}
}

// VerifyResult is the session minted at the end of a successful handshake
type VerifyResult struct {
	SessionToken string
	ExpiresAt    time.Time
}

// Status resolves whether the ticket's account still needs to enroll an
// authenticator, provisioning one if so
func (s *HandshakeService) Status(ctx context.Context, ticketToken string) (*EnrollmentStatus, error) {
	_, account, err := s.resolveTicket(ctx, ticketToken)
	if err != nil {
		return nil, err
	}

	return s.enrollment.ResolveStatus(ctx, account)
}

// VerifyCode checks a submitted 6-digit code against the ticket's account.
// On success the ticket is consumed exactly once, a first-time enrollment is
// activated, and a session is minted. Failed codes leave the ticket live for
// resubmission until the per-ticket attempt cap, which invalidates it and
// forces a fresh login.
func (s *HandshakeService) VerifyCode(ctx context.Context, ticketToken, code string) (*VerifyResult, error) {
	ticket, account, err := s.resolveTicket(ctx, ticketToken)
	if err != nil {
		return nil, err
	}

	// Malformed input is rejected before it can consume an attempt slot
	if !auth.ValidCodeFormat(code) {
		return nil, models.ErrMalformedCode
	}

	attempts, err := s.tickets.IncrementAttempts(ctx, ticket.ID)
	if err != nil {
		return nil, s.storeErr(err, "failed to count verification attempt", account.ID)
	}
	if attempts > s.config.MaxCodeAttempts {
		// Burn the ticket; the principal has to start over at the password step
		if err := s.tickets.Consume(ctx, ticket.ID); err != nil &&
			!errors.Is(err, models.ErrTicketConsumed) && !errors.Is(err, models.ErrTicketExpired) {
			s.logger.Error("failed to invalidate exhausted ticket",
				slog.String("ticket_id", ticket.ID), slog.Any("error", err))
		}
		s.audit.LogAuthAttempt(pkglogger.AuditEvent{
			EventType:     "code_verification_failed",
			AccountID:     account.ID,
			FailureReason: "too_many_attempts",
			Success:       false,
		})
		return nil, models.ErrTooManyAttempts
	}

	if account.EnrollmentState == models.EnrollmentNone || len(account.TOTPSecretEncrypted) == 0 {
		// No secret was ever provisioned for this handshake; the client
		// skipped the status step
		return nil, models.ErrInvalidCode
	}

	secret, err := s.totp.DecryptSecret(account.TOTPSecretEncrypted, account.TOTPSecretNonce)
	if err != nil {
		s.logger.Error("failed to decrypt TOTP secret",
			slog.String("account_id", account.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	step, err := s.totp.VerifyCode(string(secret), code, time.Now())
	if err != nil {
		s.audit.LogAuthAttempt(pkglogger.AuditEvent{
			EventType:     "code_verification_failed",
			AccountID:     account.ID,
			FailureReason: "invalid_code",
			Success:       false,
		})
		return nil, err
	}

	// Recording the matched step doubles as the replay check; the insert is
	// atomic per (account, step)
	if err := s.usedCodes.Record(ctx, account.ID, step); err != nil {
		if errors.Is(err, models.ErrReplayedCode) {
			s.audit.LogAuthAttempt(pkglogger.AuditEvent{
				EventType:     "code_verification_failed",
				AccountID:     account.ID,
				FailureReason: "replayed_code",
				Success:       false,
			})
			return nil, err
		}
		return nil, s.storeErr(err, "failed to record used code", account.ID)
	}

	// First successful verification of a pending secret activates it
	if account.EnrollmentState == models.EnrollmentPending {
		if err := s.accounts.ActivateEnrollment(ctx, account.ID, account.TOTPSecretEncrypted); err != nil {
			if errors.Is(err, models.ErrConflict) {
				// The stored secret changed underneath us; this code proved
				// possession of a stale secret, so fail closed
				return nil, models.ErrInvalidCode
			}
			return nil, s.storeErr(err, "failed to activate enrollment", account.ID)
		}
		s.audit.LogEnrollmentEvent("enrollment_activated", account.ID)
	}

	// At-most-once: of two racing verifications only one consume succeeds
	if err := s.tickets.Consume(ctx, ticket.ID); err != nil {
		return nil, err
	}

	session, err := s.sessions.Issue(ctx, account.ID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("handshake complete", slog.String("account_id", account.ID))
	s.audit.LogAuthAttempt(pkglogger.AuditEvent{
		EventType: "handshake_complete",
		AccountID: account.ID,
		Success:   true,
	})

	return &VerifyResult{
		SessionToken: session.Token,
		ExpiresAt:    session.ExpiresAt,
	}, nil
}

// resolveTicket validates the signed ticket token, loads the authoritative
// row, and enforces expiry and single consumption on every transition
func (s *HandshakeService) resolveTicket(ctx context.Context, ticketToken string) (*models.PendingTicket, *models.Account, error) {
	claims, err := s.ticketTokens.Parse(ticketToken)
	if err != nil {
		if errors.Is(err, models.ErrTicketExpired) {
			return nil, nil, err
		}
		s.logger.Info("ticket token rejected", slog.Any("error", err))
		return nil, nil, models.ErrTicketConsumed
	}

	ticket, err := s.tickets.GetByID(ctx, claims.ID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, nil, models.ErrTicketConsumed
		}
		return nil, nil, s.storeErr(err, "failed to load pending ticket", claims.AccountID)
	}

	if ticket.IsConsumed() {
		return nil, nil, models.ErrTicketConsumed
	}
	if ticket.IsExpired(time.Now()) {
		return nil, nil, models.ErrTicketExpired
	}

	account, err := s.accounts.GetByID(ctx, ticket.AccountID)
	if err != nil {
		return nil, nil, s.storeErr(err, "failed to load ticket account", ticket.AccountID)
	}

	return ticket, account, nil
}

func (s *HandshakeService) storeErr(err error, msg, accountID string) error {
	if errors.Is(err, models.ErrStoreUnavailable) {
		return err
	}
	s.logger.Error(msg, slog.String("account_id", accountID), slog.Any("error", err))
	return models.ErrInternalServer
}
