package models

import "errors"

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Credential verification failures
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountLocked      = errors.New("account is temporarily locked")

	// Pending ticket failures
	ErrTicketExpired  = errors.New("pending ticket expired")
	ErrTicketConsumed = errors.New("pending ticket already consumed")

	// Code verification failures
	ErrMalformedCode   = errors.New("code is not six digits")
	ErrInvalidCode     = errors.New("invalid verification code")
	ErrReplayedCode    = errors.New("verification code already used")
	ErrTooManyAttempts = errors.New("too many verification attempts")

	// Session failures
	ErrSessionInvalid = errors.New("session is invalid or expired")

	// ErrStoreUnavailable signals a transient store failure; the caller may retry
	ErrStoreUnavailable = errors.New("credential store unavailable")
)
