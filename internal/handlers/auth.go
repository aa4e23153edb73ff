package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/velobill/authgate/internal/auth"
	"github.com/velobill/authgate/internal/models"
	"github.com/velobill/authgate/internal/services"
	pkghttp "github.com/velobill/authgate/pkg/http"
)

// CredentialServiceInterface defines the password-verification step
type CredentialServiceInterface interface {
	Login(ctx context.Context, email, password, ipAddress string) (*services.LoginResult, error)
}

// HandshakeServiceInterface defines the 2FA steps of the handshake
type HandshakeServiceInterface interface {
	Status(ctx context.Context, ticketToken string) (*services.EnrollmentStatus, error)
	VerifyCode(ctx context.Context, ticketToken, code string) (*services.VerifyResult, error)
}

// SessionServiceInterface defines the session operations exposed over HTTP
type SessionServiceInterface interface {
	Revoke(ctx context.Context, token string) error
}

// EnrollmentServiceInterface defines authenticator reset for signed-in principals
type EnrollmentServiceInterface interface {
	Reenroll(ctx context.Context, accountID string) (*services.EnrollmentStatus, error)
}

// AuthHandler handles the session-establishment HTTP surface
type AuthHandler struct {
	credentials CredentialServiceInterface
	handshake   HandshakeServiceInterface
	sessions    SessionServiceInterface
	enrollment  EnrollmentServiceInterface
	ipConfig    *pkghttp.IPConfig
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(
	credentials CredentialServiceInterface,
	handshake HandshakeServiceInterface,
	sessions SessionServiceInterface,
	enrollment EnrollmentServiceInterface,
	ipConfig *pkghttp.IPConfig,
) *AuthHandler {
	return &AuthHandler{
		credentials: credentials,
		handshake:   handshake,
		sessions:    sessions,
		enrollment:  enrollment,
		ipConfig:    ipConfig,
	}
}

// Request/response DTOs

// LoginRequest represents the request body for login
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse carries the pending ticket for the 2FA step
type LoginResponse struct {
	PendingTicket string    `json:"pending_ticket"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// StatusResponse reports enrollment status for a pending ticket
type StatusResponse struct {
	Enrolled        bool   `json:"enrolled"`
	ProvisioningURI string `json:"provisioning_uri,omitempty"`
	QRCode          string `json:"qr_code,omitempty"`
}

// VerifyRequest represents the request body for code verification
type VerifyRequest struct {
	Ticket string `json:"ticket" validate:"required"`
	Code   string `json:"code" validate:"required"`
}

// VerifyResponse carries the minted session
type VerifyResponse struct {
	SessionToken string    `json:"session_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// LogoutRequest represents the request body for logout
type LogoutRequest struct {
	SessionToken string `json:"session_token" validate:"required"`
}

// SessionResponse describes the principal behind a bearer token
type SessionResponse struct {
	AccountID string    `json:"account_id"`
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Login handles POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	ipAddress := pkghttp.ExtractClientIP(r, h.ipConfig)

	result, err := h.credentials.Login(r.Context(), req.Email, req.Password, ipAddress)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrInvalidCredentials):
			pkghttp.WriteError(w, http.StatusUnauthorized, "invalid_credentials", "Authentication failed")
		case errors.Is(err, models.ErrAccountLocked):
			// Distinct from a wrong password on purpose: the caller can tell
			// the user to wait instead of retrying
			pkghttp.WriteError(w, http.StatusUnauthorized, "account_locked",
				"Account temporarily locked. Please try again later.")
		case errors.Is(err, models.ErrStoreUnavailable):
			pkghttp.WriteServiceUnavailable(w, "Service temporarily unavailable")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	writeJSON(w, http.StatusOK, LoginResponse{
		PendingTicket: result.TicketToken,
		ExpiresAt:     result.ExpiresAt,
	})
}

// Status handles GET /auth/2fa/status?ticket=…
func (h *AuthHandler) Status(w http.ResponseWriter, r *http.Request) {
	ticket := r.URL.Query().Get("ticket")
	if ticket == "" {
		pkghttp.WriteBadRequest(w, "Missing ticket parameter")
		return
	}

	status, err := h.handshake.Status(r.Context(), ticket)
	if err != nil {
		h.writeTicketError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, StatusResponse{
		Enrolled:        status.Enrolled,
		ProvisioningURI: status.ProvisioningURI,
		QRCode:          status.QRCodeDataURL,
	})
}

// Verify handles POST /auth/2fa/verify
func (h *AuthHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	// Only the ticket is validated up front; code shape problems go through
	// the service so they surface as the same generic verification failure
	if req.Ticket == "" {
		pkghttp.WriteBadRequest(w, "Missing ticket")
		return
	}

	result, err := h.handshake.VerifyCode(r.Context(), req.Ticket, req.Code)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrMalformedCode),
			errors.Is(err, models.ErrInvalidCode),
			errors.Is(err, models.ErrReplayedCode):
			// One message for all three; distinguishing them would hand an
			// attacker an oracle
			pkghttp.WriteError(w, http.StatusUnauthorized, "verification_failed", "Verification failed")
		case errors.Is(err, models.ErrTooManyAttempts):
			pkghttp.WriteError(w, http.StatusTooManyRequests, "too_many_attempts",
				"Too many verification attempts. Please sign in again.")
		default:
			h.writeTicketError(w, err)
		}
		return
	}

	writeJSON(w, http.StatusOK, VerifyResponse{
		SessionToken: result.SessionToken,
		ExpiresAt:    result.ExpiresAt,
	})
}

// Logout handles POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var req LogoutRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.sessions.Revoke(r.Context(), req.SessionToken); err != nil {
		if errors.Is(err, models.ErrStoreUnavailable) {
			pkghttp.WriteServiceUnavailable(w, "Service temporarily unavailable")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Session handles GET /auth/session for authenticated principals
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	writeJSON(w, http.StatusOK, SessionResponse{
		AccountID: principal.Account.ID,
		Email:     principal.Account.Email,
		ExpiresAt: principal.Session.ExpiresAt,
	})
}

// Reenroll handles POST /auth/2fa/reenroll for authenticated principals.
// All sessions for the account are revoked, including the one making this
// request; the response is the last thing the old session sees.
func (h *AuthHandler) Reenroll(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	status, err := h.enrollment.Reenroll(r.Context(), principal.Account.ID)
	if err != nil {
		if errors.Is(err, models.ErrStoreUnavailable) {
			pkghttp.WriteServiceUnavailable(w, "Service temporarily unavailable")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, StatusResponse{
		Enrolled:        false,
		ProvisioningURI: status.ProvisioningURI,
		QRCode:          status.QRCodeDataURL,
	})
}

// writeTicketError maps ticket failures onto responses. Expiry and prior
// consumption are actionable (restart login), so they keep distinct codes.
func (h *AuthHandler) writeTicketError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrTicketExpired):
		pkghttp.WriteError(w, http.StatusUnauthorized, "ticket_expired",
			"Sign-in window expired. Please sign in again.")
	case errors.Is(err, models.ErrTicketConsumed):
		pkghttp.WriteError(w, http.StatusConflict, "ticket_already_consumed",
			"This sign-in attempt is no longer valid. Please sign in again.")
	case errors.Is(err, models.ErrStoreUnavailable):
		pkghttp.WriteServiceUnavailable(w, "Service temporarily unavailable")
	default:
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}

func writeJSON(w http.ResponseWriter, statusCode int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(body)
}
