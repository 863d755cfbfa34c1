// Package auth implements a resilient client for a managed identity backend:
// third-party OAuth2 sign-in with PKCE, code exchange, session refresh, and a
// single classified retry policy shared by every operation.
package auth

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Phase is the authentication attempt lifecycle state.
type Phase string

const (
	// PhaseIdle means no sign-in attempt is in flight.
	PhaseIdle Phase = "idle"
	// PhaseAwaitingProviderRedirect means an authorization URL was issued.
	PhaseAwaitingProviderRedirect Phase = "awaiting_provider_redirect"
	// PhaseAwaitingCallback means the user is at the provider's consent screen.
	PhaseAwaitingCallback Phase = "awaiting_callback"
	// PhaseExchangingCode means the callback code is being exchanged.
	PhaseExchangingCode Phase = "exchanging_code"
	// PhaseAuthenticated means a session is held.
	PhaseAuthenticated Phase = "authenticated"
)

// SignInData is the outcome of a successful sign-in initiation.
type SignInData struct {
	// URL is the provider authorization URL with PKCE parameters embedded.
	URL string `json:"url"`
	// State is the anti-forgery token bound to this attempt.
	State string `json:"state"`
}

// HealthStatus is the outcome of a backend connectivity probe.
type HealthStatus struct {
	Status  string        `json:"status"`
	Latency time.Duration `json:"latency"`
}

// ClientOptions configures the authentication client façade.
type ClientOptions struct {
	// Provider is the OAuth provider name. Default "google".
	Provider string
	// Scopes is the space-separated scope list. Default "openid email profile".
	Scopes string
	// RedirectURL is where the provider sends the user after consent.
	RedirectURL string
	// Retry is the shared retry policy; zero fields take defaults.
	Retry RetryConfig
	// InstanceID tags diagnostics; defaults to a fresh identifier.
	InstanceID string
}

// Client is the authentication façade. Every operation runs through the
// shared retry engine, classifies failures, and returns a uniform result
// envelope; raw backend errors never reach callers.
type Client struct {
	backend    Backend
	states     *StateManager
	retry      RetryConfig
	provider   string
	scopes     string
	redirect   string
	instanceID string

	mu    sync.Mutex
	phase Phase
}

// NewClient wires a client façade from its collaborators.
func NewClient(backend Backend, states *StateManager, opts ClientOptions) *Client {
	if opts.Provider == "" {
		opts.Provider = "google"
	}
	if opts.Scopes == "" {
		opts.Scopes = "openid email profile"
	}
	if opts.InstanceID == "" {
		opts.InstanceID = "cropauth-client"
	}
	return &Client{
		backend:    backend,
		states:     states,
		retry:      opts.Retry.normalize(),
		provider:   opts.Provider,
		scopes:     opts.Scopes,
		redirect:   opts.RedirectURL,
		instanceID: opts.InstanceID,
		phase:      PhaseIdle,
	}
}

// Phase returns the current lifecycle state of the sign-in flow.
func (c *Client) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

func (c *Client) setPhase(phase Phase) {
	c.mu.Lock()
	c.phase = phase
	c.mu.Unlock()
}

// BeginSignIn mints a fresh PKCE exchange state, requests the provider
// authorization URL from the backend, and injects the code_challenge,
// code_challenge_method, and state query parameters the backend's native URL
// generation omits.
func (c *Client) BeginSignIn(ctx context.Context, redirectTo string) Result[SignInData] {
	result := ExecuteWithRetry(ctx, "Begin Sign In", c.retry, c.instanceID, func(ctx context.Context) (SignInData, error) {
		record, err := c.states.GenerateAndStoreState(ctx, redirectTo)
		if err != nil {
			return SignInData{}, err
		}

		redirect := c.redirect
		if redirectTo != "" {
			redirect = redirectTo
		}
		rawURL, err := c.backend.SignInWithOAuth(ctx, SignInOptions{
			Provider:   c.provider,
			RedirectTo: redirect,
			Scopes:     c.scopes,
			QueryParams: map[string]string{
				"access_type": "offline",
				"prompt":      "consent",
			},
		})
		if err != nil {
			c.states.CleanupState(ctx, record.State)
			return SignInData{}, err
		}
		if rawURL == "" {
			c.states.CleanupState(ctx, record.State)
			return SignInData{}, newLogicError("No OAuth URL returned", "Backend responded without an authorization URL. Check the backend URL and provider configuration.", c.instanceID)
		}

		authURL, err := injectPKCEParams(rawURL, record)
		if err != nil {
			c.states.CleanupState(ctx, record.State)
			return SignInData{}, err
		}
		return SignInData{URL: authURL, State: record.State}, nil
	})

	if result.Success {
		c.setPhase(PhaseAwaitingProviderRedirect)
	} else {
		c.setPhase(PhaseIdle)
	}
	return result
}

// injectPKCEParams augments the backend-issued authorization URL with the
// PKCE query parameters bound to the exchange state.
func injectPKCEParams(rawURL string, record *ExchangeState) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("backend returned an unparseable OAuth URL: %w", err)
	}
	query := parsed.Query()
	query.Set("code_challenge", record.CodeChallenge)
	query.Set("code_challenge_method", record.ChallengeMethod)
	query.Set("state", record.State)
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

// AwaitCallback records that the user has been handed to the provider. It is
// purely a lifecycle transition for observers; no work happens here.
func (c *Client) AwaitCallback() {
	c.setPhase(PhaseAwaitingCallback)
}

// ExchangeCodeForSession submits the authorization code to the backend. When
// a state token is supplied, the matching PKCE record is retrieved and
// consumed; a missing or expired record downgrades to a non-PKCE exchange
// with a warning rather than failing the sign-in.
func (c *Client) ExchangeCodeForSession(ctx context.Context, code, state string) Result[*Session] {
	c.setPhase(PhaseExchangingCode)

	// The PKCE record is consumed once, before the retry loop, so a retried
	// attempt still presents the same verifier.
	codeVerifier := ""
	if state != "" {
		record, err := c.states.RetrieveState(ctx, state)
		if err != nil {
			log.WithFields(log.Fields{"state": state}).Warnf("PKCE state lookup failed, proceeding without verifier: %v", err)
		} else if record == nil {
			log.WithFields(log.Fields{"state": state}).Warn("PKCE state missing or expired, proceeding without verifier")
		} else {
			codeVerifier = record.CodeVerifier
			c.states.CleanupState(ctx, state)
		}
	}

	result := ExecuteWithRetry(ctx, "Exchange Code for Session", c.retry, c.instanceID, func(ctx context.Context) (*Session, error) {
		session, err := c.backend.ExchangeCodeForSession(ctx, code, codeVerifier)
		if err != nil {
			return nil, err
		}
		if session == nil {
			return nil, newLogicError("No session returned from code exchange", "Token endpoint answered 2xx without a session payload.", c.instanceID)
		}
		return session, nil
	})

	if result.Success {
		c.setPhase(PhaseAuthenticated)
	} else {
		c.setPhase(PhaseIdle)
	}
	return result
}

// RefreshSession obtains a fresh session from the backend's refresh path.
func (c *Client) RefreshSession(ctx context.Context) Result[*Session] {
	result := ExecuteWithRetry(ctx, "Session Refresh", c.retry, c.instanceID, func(ctx context.Context) (*Session, error) {
		session, err := c.backend.RefreshSession(ctx)
		if err != nil {
			return nil, err
		}
		if session == nil {
			return nil, newLogicError("No session returned after refresh", "Refresh endpoint answered 2xx without a session payload.", c.instanceID)
		}
		return session, nil
	})

	if result.Success {
		c.setPhase(PhaseAuthenticated)
	} else if result.Err != nil && !result.Err.Retryable {
		// Unrecoverable refresh failure drops the flow back to idle.
		c.setPhase(PhaseIdle)
	}
	return result
}

// GetCurrentSession fetches the session currently held by the backend client.
// A nil session is a valid, successful outcome.
func (c *Client) GetCurrentSession(ctx context.Context) Result[*Session] {
	return ExecuteWithRetry(ctx, "Get Current Session", c.retry, c.instanceID, func(ctx context.Context) (*Session, error) {
		return c.backend.GetSession(ctx)
	})
}

// SignOut revokes the session and returns the flow to idle.
func (c *Client) SignOut(ctx context.Context) Result[struct{}] {
	result := ExecuteWithRetry(ctx, "Sign Out", c.retry, c.instanceID, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.backend.SignOut(ctx)
	})
	if result.Success {
		c.setPhase(PhaseIdle)
	}
	return result
}

// HealthCheck probes backend reachability with a single attempt; connectivity
// probes are never retried. A failure means the backend is unreachable, not
// that credentials are wrong.
func (c *Client) HealthCheck(ctx context.Context) Result[HealthStatus] {
	start := time.Now()
	err := c.backend.Health(ctx)
	latency := time.Since(start)

	if err != nil {
		classified := Classify(err, c.instanceID)
		log.WithFields(log.Fields{
			"op":      "Health Check",
			"kind":    classified.Kind,
			"latency": latency,
		}).Warnf("health check failed: %v", classified.Message)
		return failure[HealthStatus](classified, latency, 1, c.instanceID)
	}

	log.WithFields(log.Fields{"op": "Health Check", "latency": latency}).Debug("backend healthy")
	return success(HealthStatus{Status: "healthy", Latency: latency}, latency, 1, c.instanceID)
}
