package auth

import "context"

// SignInOptions carries the parameters for initiating a third-party OAuth
// sign-in at the identity backend.
type SignInOptions struct {
	// Provider is the OAuth provider name, e.g. "google".
	Provider string
	// RedirectTo is where the provider sends the user after consent.
	RedirectTo string
	// Scopes is the space-separated scope list requested from the provider.
	Scopes string
	// QueryParams are extra authorization parameters, e.g. access_type=offline.
	QueryParams map[string]string
}

// Backend is the identity backend consumed by the client façade. Every method
// may fail with a *BackendError carrying the HTTP status and backend message;
// the façade classifies those before they reach callers.
type Backend interface {
	// SignInWithOAuth returns the provider authorization URL for the given
	// options. The URL carries no PKCE parameters; the façade injects them.
	SignInWithOAuth(ctx context.Context, opts SignInOptions) (string, error)
	// ExchangeCodeForSession submits an authorization code, and the PKCE
	// verifier when one was recovered, to the token endpoint.
	ExchangeCodeForSession(ctx context.Context, code, codeVerifier string) (*Session, error)
	// RefreshSession exchanges the held refresh token for a new session.
	RefreshSession(ctx context.Context) (*Session, error)
	// SignOut revokes the held session at the backend and drops it locally.
	SignOut(ctx context.Context) error
	// GetSession returns the held session; nil is a valid outcome.
	GetSession(ctx context.Context) (*Session, error)
	// Health probes backend reachability with a minimal request.
	Health(ctx context.Context) error
}

// BackendError is a failure reported by the identity backend, preserving the
// HTTP status for classification.
type BackendError struct {
	// Status is the HTTP status code of the response.
	Status int
	// Message is the backend-provided error description.
	Message string
}

// Error implements the error interface.
func (e *BackendError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// StatusCode reports the HTTP-like status for classifier decision making.
func (e *BackendError) StatusCode() int {
	if e == nil {
		return 0
	}
	return e.Status
}
