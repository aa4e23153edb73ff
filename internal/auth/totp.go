package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"io"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	qrcode "github.com/skip2/go-qrcode"
	"github.com/velobill/authgate/internal/models"
)

const (
	// TOTPPeriod is the time-step size in seconds (RFC 6238 default)
	TOTPPeriod = 30
	// TOTPSkew is the number of candidate steps checked on each side of now
	TOTPSkew = 1
	// ReplayRetention is how long accepted (account, step) pairs must be kept.
	// Anything older than the tolerance window can never match again.
	ReplayRetention = (2*TOTPSkew + 1) * TOTPPeriod * time.Second

	totpSecretSize = 32
)

// TOTPManager derives and verifies time-based one-time passwords and
// encrypts secrets for storage
type TOTPManager struct {
	encryptionKey []byte // 32-byte AES-256 key
	issuer        string // issuer label inside provisioning URIs
}

// NewTOTPManager creates a new TOTP manager.
// encryptionKey must be exactly 32 bytes for AES-256.
func NewTOTPManager(encryptionKey []byte, issuer string) (*TOTPManager, error) {
	if len(encryptionKey) != 32 {
		return nil, fmt.Errorf("encryption key must be exactly 32 bytes, got %d", len(encryptionKey))
	}

	return &TOTPManager{
		encryptionKey: encryptionKey,
		issuer:        issuer,
	}, nil
}

// Enrollment holds a freshly provisioned secret and its shareable forms
type Enrollment struct {
	SecretEncrypted []byte
	SecretNonce     []byte
	ProvisioningURI string // otpauth:// URI, rendered as a QR code by the caller
	QRCodeDataURL   string // PNG data URL of the same URI, for clients that embed it directly
}

// GenerateEnrollment provisions a new random secret labeled with the
// account's email and returns it encrypted alongside its provisioning forms
func (tm *TOTPManager) GenerateEnrollment(email string) (*Enrollment, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      tm.issuer,
		AccountName: email,
		SecretSize:  totpSecretSize,
		Period:      TOTPPeriod,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate TOTP key: %w", err)
	}

	encrypted, nonce, err := tm.EncryptSecret([]byte(key.Secret()))
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt secret: %w", err)
	}

	qr, err := qrcode.New(key.URL(), qrcode.Medium)
	if err != nil {
		return nil, fmt.Errorf("failed to create QR code: %w", err)
	}

	qrImage, err := qr.PNG(200)
	if err != nil {
		return nil, fmt.Errorf("failed to encode QR code: %w", err)
	}

	return &Enrollment{
		SecretEncrypted: encrypted,
		SecretNonce:     nonce,
		ProvisioningURI: key.URL(),
		QRCodeDataURL:   "data:image/png;base64," + base64.StdEncoding.EncodeToString(qrImage),
	}, nil
}

// EncryptSecret encrypts a TOTP secret using AES-256-GCM.
// Returns: (encryptedBytes, nonce, error)
func (tm *TOTPManager) EncryptSecret(secretBytes []byte) ([]byte, []byte, error) {
	block, err := aes.NewCipher(tm.encryptionKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, secretBytes, nil)

	return ciphertext, nonce, nil
}

// DecryptSecret decrypts an encrypted TOTP secret
func (tm *TOTPManager) DecryptSecret(encryptedBytes, nonce []byte) ([]byte, error) {
	block, err := aes.NewCipher(tm.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	plaintext, err := gcm.Open(nil, nonce, encryptedBytes, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt secret: %w", err)
	}

	return plaintext, nil
}

// ValidCodeFormat reports whether code is exactly six ASCII digits
func ValidCodeFormat(code string) bool {
	if len(code) != 6 {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}

// VerifyCode checks a submitted code against the secret for the current step
// and its skew neighbors. It returns the time-step counter that matched so
// the caller can record it for replay rejection; totp.Validate cannot report
// the step, so each candidate is derived and compared individually.
//
// Errors: models.ErrMalformedCode for non-6-digit input (checked before any
// derivation), models.ErrInvalidCode when no candidate step matches.
func (tm *TOTPManager) VerifyCode(secret, code string, now time.Time) (int64, error) {
	if !ValidCodeFormat(code) {
		return 0, models.ErrMalformedCode
	}

	opts := totp.ValidateOpts{
		Period:    TOTPPeriod,
		Skew:      0, // each candidate step is checked explicitly
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	}

	var matchedStep int64 = -1

	// Evaluate every candidate even after a match to keep timing uniform
	for _, offset := range []int{0, -1, 1} {
		candidate := now.Add(time.Duration(offset) * TOTPPeriod * time.Second)

		expected, err := totp.GenerateCodeCustom(secret, candidate, opts)
		if err != nil {
			return 0, fmt.Errorf("failed to derive code: %w", err)
		}

		if subtle.ConstantTimeCompare([]byte(expected), []byte(code)) == 1 && matchedStep < 0 {
			matchedStep = candidate.Unix() / TOTPPeriod
		}
	}

	if matchedStep < 0 {
		return 0, models.ErrInvalidCode
	}

	return matchedStep, nil
}
