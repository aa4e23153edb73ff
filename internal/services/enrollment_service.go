package services

import (
	"context"
	"errors"
	"log/slog"

	"github.com/velobill/authgate/internal/auth"
	"github.com/velobill/authgate/internal/models"
	pkglogger "github.com/velobill/authgate/pkg/logger"
)

// SessionRevoker is the slice of the session layer enrollment needs: killing
// every outstanding session before an enrolled secret may be replaced
type SessionRevoker interface {
	RevokeAllForAccount(ctx context.Context, accountID string) (int64, error)
}

// EnrollmentService provisions TOTP secrets and reports enrollment status.
// The pending-to-enrolled transition never happens here; only the handshake
// orchestrator activates a secret, and only after a verified code.
type EnrollmentService struct {
	accounts AccountRepository
	sessions SessionRevoker
	totp     *auth.TOTPManager
	alerts   AlertSender
	logger   *slog.Logger
	audit    *pkglogger.AuditLogger
}

// NewEnrollmentService creates a new EnrollmentService
func NewEnrollmentService(
	accounts AccountRepository,
	sessions SessionRevoker,
	totp *auth.TOTPManager,
	alerts AlertSender,
	logger *slog.Logger,
	audit *pkglogger.AuditLogger,
) *EnrollmentService {
	return &EnrollmentService{
		accounts: accounts,
		sessions: sessions,
		totp:     totp,
		alerts:   alerts,
		logger:   logger,
		audit:    audit,
	}
}

// EnrollmentStatus is the answer to "does this account still need to set up
// an authenticator". The provisioning fields are present only when it does.
type EnrollmentStatus struct {
	Enrolled        bool
	ProvisioningURI string
	QRCodeDataURL   string
}

// ResolveStatus reports whether the account is enrolled. A not-yet-enrolled
// account gets a fresh secret each time: re-provisioning is idempotent and
// simply overwrites the unactivated one, so an abandoned setup can always be
// retried on the next login.
func (s *EnrollmentService) ResolveStatus(ctx context.Context, account *models.Account) (*EnrollmentStatus, error) {
	if account.IsEnrolled() {
		return &EnrollmentStatus{Enrolled: true}, nil
	}

	enrollment, err := s.totp.GenerateEnrollment(account.Email)
	if err != nil {
		s.logger.Error("failed to generate enrollment",
			slog.String("account_id", account.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if err := s.accounts.SetPendingSecret(ctx, account.ID, enrollment.SecretEncrypted, enrollment.SecretNonce); err != nil {
		if errors.Is(err, models.ErrConflict) {
			// Raced an activation: the account enrolled between our read and
			// this write, so report the state that won
			return &EnrollmentStatus{Enrolled: true}, nil
		}
		if errors.Is(err, models.ErrStoreUnavailable) {
			return nil, err
		}
		s.logger.Error("failed to persist pending secret",
			slog.String("account_id", account.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.audit.LogEnrollmentEvent("enrollment_provisioned", account.ID)

	return &EnrollmentStatus{
		Enrolled:        false,
		ProvisioningURI: enrollment.ProvisioningURI,
		QRCodeDataURL:   enrollment.QRCodeDataURL,
	}, nil
}

// Reenroll resets an account's authenticator: every outstanding session is
// revoked first, then the enrolled secret is replaced with a fresh pending
// one. The account goes back through the enrollment sub-flow on next login.
func (s *EnrollmentService) Reenroll(ctx context.Context, accountID string) (*EnrollmentStatus, error) {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, models.ErrStoreUnavailable) {
			return nil, err
		}
		return nil, models.ErrInternalServer
	}

	// Sessions die before the secret moves, never after
	revoked, err := s.sessions.RevokeAllForAccount(ctx, accountID)
	if err != nil {
		if errors.Is(err, models.ErrStoreUnavailable) {
			return nil, err
		}
		s.logger.Error("failed to revoke sessions for re-enrollment",
			slog.String("account_id", accountID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	enrollment, err := s.totp.GenerateEnrollment(account.Email)
	if err != nil {
		s.logger.Error("failed to generate re-enrollment",
			slog.String("account_id", accountID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if err := s.accounts.ResetEnrollment(ctx, accountID, enrollment.SecretEncrypted, enrollment.SecretNonce); err != nil {
		if errors.Is(err, models.ErrStoreUnavailable) {
			return nil, err
		}
		s.logger.Error("failed to reset enrollment",
			slog.String("account_id", accountID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.logger.Info("account re-enrollment started",
		slog.String("account_id", accountID),
		slog.Int64("sessions_revoked", revoked))
	s.audit.LogEnrollmentEvent("reenrollment_started", accountID)

	if err := s.alerts.SendReenrollmentAlert(ctx, account.Email); err != nil {
		s.logger.Error("failed to send re-enrollment alert",
			slog.String("account_id", accountID), slog.Any("error", err))
	}

	return &EnrollmentStatus{
		Enrolled:        false,
		ProvisioningURI: enrollment.ProvisioningURI,
		QRCodeDataURL:   enrollment.QRCodeDataURL,
	}, nil
}
