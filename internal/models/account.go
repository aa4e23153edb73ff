package models

import (
	"time"
)

// EnrollmentState tracks how far an account has progressed through TOTP enrollment
type EnrollmentState string

const (
	EnrollmentNone     EnrollmentState = "none"     // never provisioned
	EnrollmentPending  EnrollmentState = "pending"  // secret provisioned, not yet verified
	EnrollmentEnrolled EnrollmentState = "enrolled" // activated by a successful verification
)

type Account struct {
	ID                  string
	Email               string // stored lowercase, unique
	PasswordHash        string
	TOTPSecretEncrypted []byte // AES-256-GCM encrypted TOTP secret, nil while state is "none"
	TOTPSecretNonce     []byte // GCM nonce (12 bytes)
	EnrollmentState     EnrollmentState
	FailedAttempts      int
	LockedUntil         *time.Time // lockout expiration, nil when not locked
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// IsLocked reports whether the account is under a lockout window at the given time
func (a *Account) IsLocked(now time.Time) bool {
	return a.LockedUntil != nil && now.Before(*a.LockedUntil)
}

// IsEnrolled reports whether the account has an activated TOTP secret
func (a *Account) IsEnrolled() bool {
	return a.EnrollmentState == EnrollmentEnrolled
}
