package auth

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/tidwall/gjson"
)

func newTestGotrue(t *testing.T, handler http.HandlerFunc) *GotrueClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewGotrueClient(GotrueOptions{
		URL:     server.URL,
		AnonKey: "anon-key",
	})
}

func TestSignInWithOAuthBuildsAuthorizeURL(t *testing.T) {
	t.Parallel()
	client := NewGotrueClient(GotrueOptions{URL: "https://project.example.co/", AnonKey: "k"})

	raw, err := client.SignInWithOAuth(context.Background(), SignInOptions{
		Provider:   "google",
		RedirectTo: "http://localhost:9125/auth/callback",
		Scopes:     "openid email profile",
		QueryParams: map[string]string{
			"code_challenge":        "abc123",
			"code_challenge_method": "S256",
			"state":                 "state-token",
		},
	})
	if err != nil {
		t.Fatalf("SignInWithOAuth() error = %v", err)
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("url.Parse(%q) error = %v", raw, err)
	}
	if parsed.Path != "/auth/v1/authorize" {
		t.Errorf("path = %q, want /auth/v1/authorize", parsed.Path)
	}
	query := parsed.Query()
	for key, want := range map[string]string{
		"provider":              "google",
		"redirect_to":           "http://localhost:9125/auth/callback",
		"scopes":                "openid email profile",
		"code_challenge":        "abc123",
		"code_challenge_method": "S256",
		"state":                 "state-token",
	} {
		if got := query.Get(key); got != want {
			t.Errorf("query[%s] = %q, want %q", key, got, want)
		}
	}
}

func TestSignInWithOAuthWithoutBaseURL(t *testing.T) {
	t.Parallel()
	client := NewGotrueClient(GotrueOptions{})
	got, err := client.SignInWithOAuth(context.Background(), SignInOptions{Provider: "google"})
	if err != nil {
		t.Fatalf("SignInWithOAuth() error = %v", err)
	}
	if got != "" {
		t.Errorf("SignInWithOAuth() = %q, want empty URL", got)
	}
}

func TestExchangeCodeForSessionParsesResponse(t *testing.T) {
	t.Parallel()
	var gotBody []byte
	var gotPath string
	client := newTestGotrue(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path + "?" + r.URL.RawQuery
		gotBody, _ = io.ReadAll(r.Body)
		if r.Header.Get("apikey") != "anon-key" {
			t.Errorf("apikey header = %q", r.Header.Get("apikey"))
		}
		_, _ = w.Write([]byte(`{
			"access_token": "at-1",
			"refresh_token": "rt-1",
			"token_type": "bearer",
			"expires_in": 3600,
			"user": {"id": "u-1", "email": "farmer@example.com"}
		}`))
	})

	session, err := client.ExchangeCodeForSession(context.Background(), "auth-code-1", "verifier-1")
	if err != nil {
		t.Fatalf("ExchangeCodeForSession() error = %v", err)
	}
	if gotPath != "/auth/v1/token?grant_type=pkce" {
		t.Errorf("request path = %q", gotPath)
	}
	if got := gjson.GetBytes(gotBody, "auth_code").String(); got != "auth-code-1" {
		t.Errorf("auth_code = %q", got)
	}
	if got := gjson.GetBytes(gotBody, "code_verifier").String(); got != "verifier-1" {
		t.Errorf("code_verifier = %q", got)
	}
	if session.AccessToken != "at-1" || session.RefreshToken != "rt-1" {
		t.Errorf("session tokens = %q/%q", session.AccessToken, session.RefreshToken)
	}
	if session.Expired() {
		t.Error("fresh session reports expired")
	}
	if got := gjson.GetBytes(session.User, "email").String(); got != "farmer@example.com" {
		t.Errorf("user email = %q", got)
	}

	held, _ := client.GetSession(context.Background())
	if held == nil || held.AccessToken != "at-1" {
		t.Error("exchanged session was not retained")
	}
}

func TestExchangeCodeForSessionOmitsEmptyVerifier(t *testing.T) {
	t.Parallel()
	var gotBody []byte
	client := newTestGotrue(t, func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		_, _ = w.Write([]byte(`{"access_token": "at", "refresh_token": "rt"}`))
	})

	if _, err := client.ExchangeCodeForSession(context.Background(), "code", ""); err != nil {
		t.Fatalf("ExchangeCodeForSession() error = %v", err)
	}
	if gjson.GetBytes(gotBody, "code_verifier").Exists() {
		t.Errorf("request carried code_verifier: %s", gotBody)
	}
}

func TestExchangeCodeForSessionBackendError(t *testing.T) {
	t.Parallel()
	client := newTestGotrue(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error": "invalid_request", "error_description": "Invalid API key"}`))
	})

	_, err := client.ExchangeCodeForSession(context.Background(), "code", "verifier")
	var backendErr *BackendError
	if !errors.As(err, &backendErr) {
		t.Fatalf("error type = %T, want *BackendError", err)
	}
	if backendErr.Status != http.StatusUnauthorized {
		t.Errorf("Status = %d, want 401", backendErr.Status)
	}
	if backendErr.Message != "Invalid API key" {
		t.Errorf("Message = %q, want error_description field", backendErr.Message)
	}
}

func TestRefreshSessionWithoutTokenHeld(t *testing.T) {
	t.Parallel()
	client := NewGotrueClient(GotrueOptions{URL: "http://localhost:1"})

	_, err := client.RefreshSession(context.Background())
	var backendErr *BackendError
	if !errors.As(err, &backendErr) {
		t.Fatalf("error type = %T, want *BackendError", err)
	}
	if !strings.Contains(backendErr.Message, "invalid_grant") {
		t.Errorf("Message = %q, want invalid_grant marker", backendErr.Message)
	}
}

func TestRefreshSessionRotatesTokens(t *testing.T) {
	t.Parallel()
	var gotBody []byte
	client := newTestGotrue(t, func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		if got := r.URL.Query().Get("grant_type"); got != "refresh_token" {
			t.Errorf("grant_type = %q", got)
		}
		_, _ = w.Write([]byte(`{"access_token": "at-2", "refresh_token": "rt-2", "expires_in": 3600}`))
	})
	client.SetSession(&Session{AccessToken: "at-1", RefreshToken: "rt-1"})

	session, err := client.RefreshSession(context.Background())
	if err != nil {
		t.Fatalf("RefreshSession() error = %v", err)
	}
	if got := gjson.GetBytes(gotBody, "refresh_token").String(); got != "rt-1" {
		t.Errorf("sent refresh_token = %q, want rt-1", got)
	}
	if session.AccessToken != "at-2" || session.RefreshToken != "rt-2" {
		t.Errorf("rotated tokens = %q/%q", session.AccessToken, session.RefreshToken)
	}
}

func TestSignOutClearsSessionEvenOnBackendFailure(t *testing.T) {
	t.Parallel()
	client := newTestGotrue(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	client.SetSession(&Session{AccessToken: "at-1", RefreshToken: "rt-1"})

	if err := client.SignOut(context.Background()); err == nil {
		t.Fatal("SignOut() did not surface the backend failure")
	}
	held, _ := client.GetSession(context.Background())
	if held != nil {
		t.Error("session survived SignOut failure")
	}
}

func TestSignOutWithoutSessionIsNoop(t *testing.T) {
	t.Parallel()
	client := NewGotrueClient(GotrueOptions{URL: "http://localhost:1"})
	if err := client.SignOut(context.Background()); err != nil {
		t.Errorf("SignOut() error = %v", err)
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()

	t.Run("healthy", func(t *testing.T) {
		t.Parallel()
		client := newTestGotrue(t, func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/auth/v1/health" {
				t.Errorf("path = %q", r.URL.Path)
			}
			_, _ = w.Write([]byte(`{"name": "GoTrue"}`))
		})
		if err := client.Health(context.Background()); err != nil {
			t.Errorf("Health() error = %v", err)
		}
	})

	t.Run("unhealthy", func(t *testing.T) {
		t.Parallel()
		client := newTestGotrue(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"msg": "database down"}`))
		})
		err := client.Health(context.Background())
		var backendErr *BackendError
		if !errors.As(err, &backendErr) {
			t.Fatalf("error type = %T, want *BackendError", err)
		}
		if backendErr.Message != "database down" {
			t.Errorf("Message = %q", backendErr.Message)
		}
	})
}

func TestParseSessionExpiresAtWins(t *testing.T) {
	t.Parallel()
	at := time.Now().Add(time.Hour).Unix()
	session := parseSession([]byte(`{"access_token": "at", "expires_at": ` + strconv.FormatInt(at, 10) + `, "expires_in": 1}`))
	if session == nil {
		t.Fatal("parseSession() = nil")
	}
	if session.ExpiresAt.Unix() != at {
		t.Errorf("ExpiresAt = %v, want unix %d", session.ExpiresAt, at)
	}
}
