package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// ChallengeMethodS256 is the only code challenge method the client emits,
// as specified in RFC 7636.
const ChallengeMethodS256 = "S256"

// PKCECodes holds a code verifier and its derived challenge.
type PKCECodes struct {
	CodeVerifier  string
	CodeChallenge string
}

// GeneratePKCECodes generates a new pair of PKCE codes. It creates a
// cryptographically random code verifier of the given entropy in bytes and
// derives the corresponding SHA256 code challenge.
func GeneratePKCECodes(verifierBytes int) (*PKCECodes, error) {
	if verifierBytes < 32 {
		verifierBytes = 32
	}
	verifier, err := randomToken(verifierBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to generate code verifier: %w", err)
	}
	return &PKCECodes{
		CodeVerifier:  verifier,
		CodeChallenge: GenerateCodeChallenge(verifier),
	}, nil
}

// GenerateCodeChallenge derives the S256 code challenge from a code verifier:
// the SHA256 hash of the verifier, base64url encoded without padding.
func GenerateCodeChallenge(codeVerifier string) string {
	hash := sha256.Sum256([]byte(codeVerifier))
	return base64.RawURLEncoding.EncodeToString(hash[:])
}

// GenerateStateToken generates the random anti-forgery state parameter for an
// OAuth2 flow.
func GenerateStateToken(stateBytes int) (string, error) {
	if stateBytes < 16 {
		stateBytes = 16
	}
	state, err := randomToken(stateBytes)
	if err != nil {
		return "", fmt.Errorf("failed to generate state token: %w", err)
	}
	return state, nil
}

// randomToken returns n bytes of cryptographic randomness, base64url encoded
// without padding.
func randomToken(n int) (string, error) {
	bytes := make([]byte, n)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(bytes), nil
}
