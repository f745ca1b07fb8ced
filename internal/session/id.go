package session

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// idSize gives session IDs 256 bits of entropy.
const idSize = 32

// GenerateID generates a cryptographically secure session ID.
func GenerateID() (string, error) {
	id, err := GenerateToken(idSize)
	if err != nil {
		return "", fmt.Errorf("session: failed to generate id: %w", err)
	}
	return id, nil
}

// GenerateToken returns size random bytes, base64url encoded without padding.
// It also backs OAuth state and PKCE verifiers.
func GenerateToken(size int) (string, error) {
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
