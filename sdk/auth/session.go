package auth

import (
	"encoding/json"
	"time"
)

// Session is the credential bundle issued by the identity backend. The client
// passes it through without interpreting its contents beyond the token fields
// needed for refresh and sign-out.
type Session struct {
	// AccessToken is the bearer token for authenticated backend requests.
	AccessToken string `json:"access_token"`
	// RefreshToken is used to obtain a new access token when the current one expires.
	RefreshToken string `json:"refresh_token,omitempty"`
	// TokenType indicates the type of token, typically "bearer".
	TokenType string `json:"token_type,omitempty"`
	// ExpiresAt is the access token expiry.
	ExpiresAt time.Time `json:"expires_at,omitempty"`
	// User is the backend's user identity payload, kept opaque.
	User json.RawMessage `json:"user,omitempty"`
}

// Expired reports whether the session's access token is past its expiry.
func (s *Session) Expired() bool {
	if s == nil {
		return true
	}
	if s.ExpiresAt.IsZero() {
		return false
	}
	return time.Now().After(s.ExpiresAt)
}
