package services

import (
	"context"
	"crypto/rand"
	"log/slog"
	"testing"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/velobill/authgate/internal/auth"
	"github.com/velobill/authgate/internal/models"
	pkglogger "github.com/velobill/authgate/pkg/logger"
)

type handshakeFixture struct {
	svc          *HandshakeService
	totp         *auth.TOTPManager
	ticketTokens *auth.TicketTokenManager
	accounts     *MockAccountRepository
	tickets      *MockTicketRepository
	usedCodes    *MockUsedCodeRecorder
	issuer       *MockSessionIssuer
}

func newHandshakeFixture(t *testing.T) *handshakeFixture {
	t.Helper()

	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)

	totpManager, err := auth.NewTOTPManager(key, "VeloBill")
	require.NoError(t, err)

	logger := slog.Default()
	audit := pkglogger.NewAuditLogger(logger)

	f := &handshakeFixture{
		totp:         totpManager,
		ticketTokens: auth.NewTicketTokenManager("test-ticket-secret"),
		accounts:     &MockAccountRepository{},
		tickets:      &MockTicketRepository{},
		usedCodes:    &MockUsedCodeRecorder{},
		issuer:       &MockSessionIssuer{},
	}

	enrollment := NewEnrollmentService(f.accounts, &MockSessionRepository{}, totpManager, &MockAlertSender{}, logger, audit)

	f.svc = NewHandshakeService(
		f.accounts, f.tickets, f.usedCodes, enrollment, f.issuer,
		totpManager, f.ticketTokens, logger, audit,
		HandshakeConfig{MaxCodeAttempts: 5},
	)
	return f
}

// enrolledAccount builds an account holding an encrypted secret and returns
// the plaintext secret alongside it so tests can derive valid codes
func (f *handshakeFixture) enrolledAccount(t *testing.T, state models.EnrollmentState) (*models.Account, string) {
	t.Helper()

	enrollment, err := f.totp.GenerateEnrollment("rider@example.com")
	require.NoError(t, err)

	secret, err := f.totp.DecryptSecret(enrollment.SecretEncrypted, enrollment.SecretNonce)
	require.NoError(t, err)

	account := NewTestAccount("account-1", "rider@example.com", "CorrectHorse1!")
	account.EnrollmentState = state
	account.TOTPSecretEncrypted = enrollment.SecretEncrypted
	account.TOTPSecretNonce = enrollment.SecretNonce
	return account, string(secret)
}

func (f *handshakeFixture) liveTicket(t *testing.T) (*models.PendingTicket, string) {
	t.Helper()

	now := time.Now()
	ticket := &models.PendingTicket{
		ID:        "ticket-1",
		AccountID: "account-1",
		IssuedAt:  now,
		ExpiresAt: now.Add(5 * time.Minute),
	}

	token, err := f.ticketTokens.Generate(ticket)
	require.NoError(t, err)
	return ticket, token
}

func currentCode(t *testing.T, secret string) string {
	t.Helper()

	code, err := totp.GenerateCodeCustom(secret, time.Now(), totp.ValidateOpts{
		Period:    auth.TOTPPeriod,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	require.NoError(t, err)
	return code
}

func (f *handshakeFixture) wire(account *models.Account, ticket *models.PendingTicket) {
	f.tickets.GetByIDFunc = func(ctx context.Context, id string) (*models.PendingTicket, error) {
		if id == ticket.ID {
			return ticket, nil
		}
		return nil, models.ErrNotFound
	}
	f.accounts.GetByIDFunc = func(ctx context.Context, id string) (*models.Account, error) {
		if id == account.ID {
			return account, nil
		}
		return nil, models.ErrNotFound
	}
}

// ============================================================================
// Status Tests
// ============================================================================

func TestHandshakeService_Status_EnrolledAccount(t *testing.T) {
	f := newHandshakeFixture(t)
	account, _ := f.enrolledAccount(t, models.EnrollmentEnrolled)
	ticket, token := f.liveTicket(t)
	f.wire(account, ticket)

	status, err := f.svc.Status(context.Background(), token)
	require.NoError(t, err)
	assert.True(t, status.Enrolled)
	assert.Empty(t, status.ProvisioningURI)
	assert.Empty(t, status.QRCodeDataURL)
}

func TestHandshakeService_Status_UnenrolledProvisions(t *testing.T) {
	f := newHandshakeFixture(t)
	account := NewTestAccount("account-1", "rider@example.com", "CorrectHorse1!")
	ticket, token := f.liveTicket(t)
	f.wire(account, ticket)

	var storedSecret []byte
	f.accounts.SetPendingSecretFunc = func(ctx context.Context, id string, secretEnc, secretNonce []byte) error {
		assert.Equal(t, "account-1", id)
		storedSecret = secretEnc
		return nil
	}

	status, err := f.svc.Status(context.Background(), token)
	require.NoError(t, err)
	assert.False(t, status.Enrolled)
	assert.Contains(t, status.ProvisioningURI, "otpauth://totp/")
	assert.Contains(t, status.QRCodeDataURL, "data:image/png;base64,")
	assert.NotEmpty(t, storedSecret)
}

func TestHandshakeService_Status_RepeatCallsProvisionFreshSecrets(t *testing.T) {
	f := newHandshakeFixture(t)
	account := NewTestAccount("account-1", "rider@example.com", "CorrectHorse1!")
	ticket, token := f.liveTicket(t)
	f.wire(account, ticket)

	first, err := f.svc.Status(context.Background(), token)
	require.NoError(t, err)
	second, err := f.svc.Status(context.Background(), token)
	require.NoError(t, err)

	// Abandoned setups can always be retried; the latest secret wins
	assert.NotEqual(t, first.ProvisioningURI, second.ProvisioningURI)
}

func TestHandshakeService_Status_ExpiredTicket(t *testing.T) {
	f := newHandshakeFixture(t)
	account, _ := f.enrolledAccount(t, models.EnrollmentEnrolled)

	now := time.Now()
	ticket := &models.PendingTicket{
		ID:        "ticket-1",
		AccountID: "account-1",
		IssuedAt:  now.Add(-10 * time.Minute),
		ExpiresAt: now.Add(-5 * time.Minute),
	}
	token, err := f.ticketTokens.Generate(ticket)
	require.NoError(t, err)
	f.wire(account, ticket)

	_, err = f.svc.Status(context.Background(), token)
	assert.ErrorIs(t, err, models.ErrTicketExpired)
}

// ============================================================================
// VerifyCode Tests
// ============================================================================

func TestHandshakeService_VerifyCode_Success(t *testing.T) {
	f := newHandshakeFixture(t)
	account, secret := f.enrolledAccount(t, models.EnrollmentEnrolled)
	ticket, token := f.liveTicket(t)
	f.wire(account, ticket)

	consumed := false
	f.tickets.ConsumeFunc = func(ctx context.Context, id string) error {
		consumed = true
		assert.Equal(t, "ticket-1", id)
		return nil
	}

	var recordedStep int64
	f.usedCodes.RecordFunc = func(ctx context.Context, accountID string, timeStep int64) error {
		recordedStep = timeStep
		return nil
	}

	result, err := f.svc.VerifyCode(context.Background(), token, currentCode(t, secret))
	require.NoError(t, err)
	assert.NotEmpty(t, result.SessionToken)
	assert.True(t, consumed)
	assert.NotZero(t, recordedStep)
}

func TestHandshakeService_VerifyCode_ActivatesPendingEnrollment(t *testing.T) {
	f := newHandshakeFixture(t)
	account, secret := f.enrolledAccount(t, models.EnrollmentPending)
	ticket, token := f.liveTicket(t)
	f.wire(account, ticket)

	activated := false
	f.accounts.ActivateEnrollmentFunc = func(ctx context.Context, id string, secretEnc []byte) error {
		activated = true
		assert.Equal(t, "account-1", id)
		assert.Equal(t, account.TOTPSecretEncrypted, secretEnc)
		return nil
	}

	_, err := f.svc.VerifyCode(context.Background(), token, currentCode(t, secret))
	require.NoError(t, err)
	assert.True(t, activated)
}

func TestHandshakeService_VerifyCode_EnrolledSkipsActivation(t *testing.T) {
	f := newHandshakeFixture(t)
	account, secret := f.enrolledAccount(t, models.EnrollmentEnrolled)
	ticket, token := f.liveTicket(t)
	f.wire(account, ticket)

	f.accounts.ActivateEnrollmentFunc = func(ctx context.Context, id string, secretEnc []byte) error {
		t.Fatal("already enrolled account must not be re-activated")
		return nil
	}

	_, err := f.svc.VerifyCode(context.Background(), token, currentCode(t, secret))
	assert.NoError(t, err)
}

func TestHandshakeService_VerifyCode_MalformedDoesNotSpendAttempt(t *testing.T) {
	f := newHandshakeFixture(t)
	account, _ := f.enrolledAccount(t, models.EnrollmentEnrolled)
	ticket, token := f.liveTicket(t)
	f.wire(account, ticket)

	f.tickets.IncrementAttemptsFunc = func(ctx context.Context, id string) (int, error) {
		t.Fatal("malformed input must not count as an attempt")
		return 0, nil
	}

	_, err := f.svc.VerifyCode(context.Background(), token, "12ab56")
	assert.ErrorIs(t, err, models.ErrMalformedCode)
}

func TestHandshakeService_VerifyCode_WrongCodeLeavesTicketLive(t *testing.T) {
	f := newHandshakeFixture(t)
	account, secret := f.enrolledAccount(t, models.EnrollmentEnrolled)
	ticket, token := f.liveTicket(t)
	f.wire(account, ticket)

	f.tickets.ConsumeFunc = func(ctx context.Context, id string) error {
		t.Fatal("failed verification must not consume the ticket")
		return nil
	}

	wrong := "000000"
	if currentCode(t, secret) == wrong {
		wrong = "000001"
	}

	_, err := f.svc.VerifyCode(context.Background(), token, wrong)
	assert.ErrorIs(t, err, models.ErrInvalidCode)
}

func TestHandshakeService_VerifyCode_ReplayRejected(t *testing.T) {
	f := newHandshakeFixture(t)
	account, secret := f.enrolledAccount(t, models.EnrollmentEnrolled)
	ticket, token := f.liveTicket(t)
	f.wire(account, ticket)

	f.usedCodes.RecordFunc = func(ctx context.Context, accountID string, timeStep int64) error {
		return models.ErrReplayedCode
	}
	f.tickets.ConsumeFunc = func(ctx context.Context, id string) error {
		t.Fatal("replayed code must not consume the ticket")
		return nil
	}

	_, err := f.svc.VerifyCode(context.Background(), token, currentCode(t, secret))
	assert.ErrorIs(t, err, models.ErrReplayedCode)
}

func TestHandshakeService_VerifyCode_AttemptCapBurnsTicket(t *testing.T) {
	f := newHandshakeFixture(t)
	account, secret := f.enrolledAccount(t, models.EnrollmentEnrolled)
	ticket, token := f.liveTicket(t)
	f.wire(account, ticket)

	f.tickets.IncrementAttemptsFunc = func(ctx context.Context, id string) (int, error) {
		return 6, nil
	}

	burned := false
	f.tickets.ConsumeFunc = func(ctx context.Context, id string) error {
		burned = true
		return nil
	}

	// Even a correct code is rejected once the cap is hit
	_, err := f.svc.VerifyCode(context.Background(), token, currentCode(t, secret))
	assert.ErrorIs(t, err, models.ErrTooManyAttempts)
	assert.True(t, burned)
}

func TestHandshakeService_VerifyCode_ConsumedTicket(t *testing.T) {
	f := newHandshakeFixture(t)
	account, secret := f.enrolledAccount(t, models.EnrollmentEnrolled)
	ticket, token := f.liveTicket(t)
	consumedAt := time.Now()
	ticket.ConsumedAt = &consumedAt
	f.wire(account, ticket)

	_, err := f.svc.VerifyCode(context.Background(), token, currentCode(t, secret))
	assert.ErrorIs(t, err, models.ErrTicketConsumed)
}

func TestHandshakeService_VerifyCode_UnknownTicketToken(t *testing.T) {
	f := newHandshakeFixture(t)

	_, err := f.svc.VerifyCode(context.Background(), "not-a-real-token", "123456")
	assert.ErrorIs(t, err, models.ErrTicketConsumed)
}

func TestHandshakeService_VerifyCode_NoProvisionedSecret(t *testing.T) {
	f := newHandshakeFixture(t)
	account := NewTestAccount("account-1", "rider@example.com", "CorrectHorse1!")
	ticket, token := f.liveTicket(t)
	f.wire(account, ticket)

	_, err := f.svc.VerifyCode(context.Background(), token, "123456")
	assert.ErrorIs(t, err, models.ErrInvalidCode)
}

func TestHandshakeService_VerifyCode_ConsumeRaceFailsWithoutSession(t *testing.T) {
	f := newHandshakeFixture(t)
	account, secret := f.enrolledAccount(t, models.EnrollmentEnrolled)
	ticket, token := f.liveTicket(t)
	f.wire(account, ticket)

	f.tickets.ConsumeFunc = func(ctx context.Context, id string) error {
		return models.ErrTicketConsumed
	}
	f.issuer.IssueFunc = func(ctx context.Context, accountID string) (*IssuedSession, error) {
		t.Fatal("lost consume race must not mint a session")
		return nil, nil
	}

	_, err := f.svc.VerifyCode(context.Background(), token, currentCode(t, secret))
	assert.ErrorIs(t, err, models.ErrTicketConsumed)
}

func TestHandshakeService_VerifyCode_StaleSecretActivationFailsClosed(t *testing.T) {
	f := newHandshakeFixture(t)
	account, secret := f.enrolledAccount(t, models.EnrollmentPending)
	ticket, token := f.liveTicket(t)
	f.wire(account, ticket)

	f.accounts.ActivateEnrollmentFunc = func(ctx context.Context, id string, secretEnc []byte) error {
		return models.ErrConflict
	}

	_, err := f.svc.VerifyCode(context.Background(), token, currentCode(t, secret))
	assert.ErrorIs(t, err, models.ErrInvalidCode)
}
