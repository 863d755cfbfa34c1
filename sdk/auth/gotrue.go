package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// GotrueClient talks to a GoTrue-compatible identity backend over its auth
// REST API. It holds the current session in memory under a mutex; callers
// that need persistence across processes save and restore it explicitly.
type GotrueClient struct {
	baseURL    string
	anonKey    string
	httpClient *http.Client

	mu      sync.Mutex
	current *Session
}

// GotrueOptions configures a GotrueClient.
type GotrueOptions struct {
	// URL is the backend base URL, e.g. https://project.example.co.
	URL string
	// AnonKey is the publishable API key sent with every request.
	AnonKey string
	// Timeout bounds individual HTTP requests. Default 30 seconds.
	Timeout time.Duration
	// HTTPClient overrides the default client when set; Timeout is ignored then.
	HTTPClient *http.Client
}

// NewGotrueClient creates a backend client for the given project.
func NewGotrueClient(opts GotrueOptions) *GotrueClient {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &GotrueClient{
		baseURL:    strings.TrimRight(opts.URL, "/"),
		anonKey:    opts.AnonKey,
		httpClient: httpClient,
	}
}

// SignInWithOAuth builds the provider authorization URL. GoTrue serves the
// authorize endpoint as a redirect, so the URL is constructed locally from
// the sign-in options, mirroring what the backend SDKs do.
func (c *GotrueClient) SignInWithOAuth(_ context.Context, opts SignInOptions) (string, error) {
	if c.baseURL == "" {
		return "", nil
	}
	params := url.Values{}
	params.Set("provider", opts.Provider)
	if opts.RedirectTo != "" {
		params.Set("redirect_to", opts.RedirectTo)
	}
	if opts.Scopes != "" {
		params.Set("scopes", opts.Scopes)
	}
	for key, value := range opts.QueryParams {
		params.Set(key, value)
	}
	return fmt.Sprintf("%s/auth/v1/authorize?%s", c.baseURL, params.Encode()), nil
}

// ExchangeCodeForSession exchanges an authorization code for a session at the
// token endpoint. The PKCE verifier is included when recovered; without it the
// exchange degrades to a standard code submission.
func (c *GotrueClient) ExchangeCodeForSession(ctx context.Context, code, codeVerifier string) (*Session, error) {
	body, _ := sjson.Set("", "auth_code", code)
	if codeVerifier != "" {
		body, _ = sjson.Set(body, "code_verifier", codeVerifier)
	}
	payload, err := c.post(ctx, "/auth/v1/token?grant_type=pkce", body, "")
	if err != nil {
		return nil, err
	}
	session := parseSession(payload)
	if session != nil {
		c.setSession(session)
	}
	return session, nil
}

// RefreshSession exchanges the held refresh token for a new session.
func (c *GotrueClient) RefreshSession(ctx context.Context) (*Session, error) {
	current := c.snapshot()
	if current == nil || current.RefreshToken == "" {
		return nil, &BackendError{Status: 400, Message: "invalid_grant: no refresh token held"}
	}
	body, _ := sjson.Set("", "refresh_token", current.RefreshToken)
	payload, err := c.post(ctx, "/auth/v1/token?grant_type=refresh_token", body, "")
	if err != nil {
		return nil, err
	}
	session := parseSession(payload)
	if session != nil {
		c.setSession(session)
	}
	return session, nil
}

// SignOut revokes the session at the backend and drops it locally. The local
// session is cleared even when the revocation request fails.
func (c *GotrueClient) SignOut(ctx context.Context) error {
	current := c.snapshot()
	c.setSession(nil)
	if current == nil {
		return nil
	}
	_, err := c.post(ctx, "/auth/v1/logout", "", current.AccessToken)
	return err
}

// GetSession returns the held session without a network round trip. A nil
// session is a valid outcome.
func (c *GotrueClient) GetSession(context.Context) (*Session, error) {
	return c.snapshot(), nil
}

// Health probes the auth health endpoint.
func (c *GotrueClient) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/v1/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create health request: %w", err)
	}
	req.Header.Set("apikey", c.anonKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return backendErrorFrom(resp.StatusCode, body)
	}
	return nil
}

// SetSession replaces the held session, e.g. one restored from disk.
func (c *GotrueClient) SetSession(session *Session) {
	c.setSession(session)
}

func (c *GotrueClient) setSession(session *Session) {
	c.mu.Lock()
	c.current = session
	c.mu.Unlock()
}

func (c *GotrueClient) snapshot() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// post sends a JSON request to the auth API and returns the response body.
// Non-2xx responses become a *BackendError.
func (c *GotrueClient) post(ctx context.Context, path, body, bearer string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("apikey", c.anonKey)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backend request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read backend response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, backendErrorFrom(resp.StatusCode, payload)
	}
	return payload, nil
}

// backendErrorFrom extracts the most descriptive message GoTrue responses
// carry: error_description, msg, or error, falling back to the raw body.
func backendErrorFrom(status int, body []byte) *BackendError {
	message := ""
	for _, field := range []string{"error_description", "msg", "message", "error"} {
		if value := gjson.GetBytes(body, field); value.Exists() {
			message = value.String()
			break
		}
	}
	if message == "" {
		message = strings.TrimSpace(string(body))
	}
	if message == "" {
		message = fmt.Sprintf("backend returned status %d", status)
	}
	return &BackendError{Status: status, Message: message}
}

// parseSession maps a token endpoint response onto a Session. A response
// without an access token yields nil.
func parseSession(payload []byte) *Session {
	root := gjson.ParseBytes(payload)
	accessToken := root.Get("access_token").String()
	if accessToken == "" {
		return nil
	}
	session := &Session{
		AccessToken:  accessToken,
		RefreshToken: root.Get("refresh_token").String(),
		TokenType:    root.Get("token_type").String(),
	}
	if expiresAt := root.Get("expires_at").Int(); expiresAt > 0 {
		session.ExpiresAt = time.Unix(expiresAt, 0)
	} else if expiresIn := root.Get("expires_in").Int(); expiresIn > 0 {
		session.ExpiresAt = time.Now().Add(time.Duration(expiresIn) * time.Second)
	}
	if user := root.Get("user"); user.Exists() {
		session.User = json.RawMessage(user.Raw)
	}
	return session
}
