package auth

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"github.com/offsoc/copr/internal/session"
)

const exchangeTokenSize = 32

// newPendingExchange creates the state and PKCE verifier for one federated
// exchange and returns the S256 challenge for the verifier.
func newPendingExchange(next string) (*PendingExchange, string, error) {
	state, err := session.GenerateToken(exchangeTokenSize)
	if err != nil {
		return nil, "", fmt.Errorf("auth: generate state: %w", err)
	}
	verifier, err := session.GenerateToken(exchangeTokenSize)
	if err != nil {
		return nil, "", fmt.Errorf("auth: generate pkce verifier: %w", err)
	}
	return &PendingExchange{State: state, CodeVerifier: verifier, Next: next}, CodeChallenge(verifier), nil
}

// CodeChallenge derives the S256 PKCE challenge of verifier.
func CodeChallenge(verifier string) string {
	hash := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(hash[:])
}
