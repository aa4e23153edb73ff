package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

const sessionTokenLength = 32 // 256 bits of entropy

// GenerateSessionToken returns an opaque bearer token from a cryptographically
// secure random source. The token is never derived from account data.
func GenerateSessionToken() (string, error) {
	bytes := make([]byte, sessionTokenLength)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate session token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(bytes), nil
}

// HashSessionToken returns the hex SHA-256 digest of a token. Only the digest
// is persisted, so a leaked sessions table cannot be replayed.
func HashSessionToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
