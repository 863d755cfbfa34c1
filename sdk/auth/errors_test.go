package auth

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestClassifyTable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		err            error
		wantKind       ErrorKind
		wantCode       string
		wantRetryable  bool
		wantRetryAfter time.Duration
	}{
		{
			"401 invalid api key",
			&BackendError{Status: 401, Message: "Invalid API key"},
			KindInvalidCredential, "AUTH_001", false, 0,
		},
		{
			"unauthorized message without status",
			errors.New("request was unauthorized"),
			KindInvalidCredential, "AUTH_001", false, 0,
		},
		{
			"fetch failure",
			errors.New("Failed to fetch"),
			KindNetwork, "AUTH_002", true, 2 * time.Second,
		},
		{
			"dns failure",
			errors.New("dial tcp: lookup project.example.co: no such host"),
			KindNetwork, "AUTH_002", true, 2 * time.Second,
		},
		{
			"provider failure",
			errors.New("oauth provider error: access_denied"),
			KindOAuthProvider, "AUTH_003", true, 1 * time.Second,
		},
		{
			"expired grant",
			&BackendError{Status: 400, Message: "invalid_grant: token expired"},
			KindSessionExpired, "AUTH_004", false, 0,
		},
		{
			"rate limited by status",
			&BackendError{Status: 429, Message: "slow down"},
			KindRateLimited, "AUTH_005", true, 5 * time.Second,
		},
		{
			"rate limited by message",
			errors.New("rate limit exceeded for project"),
			KindRateLimited, "AUTH_005", true, 5 * time.Second,
		},
		{
			"unmatched error",
			errors.New("something odd happened"),
			KindUnknown, "AUTH_999", true, 1 * time.Second,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Classify(tt.err, "inst-1")
			if got.Kind != tt.wantKind {
				t.Errorf("Kind = %s, want %s", got.Kind, tt.wantKind)
			}
			if got.Code != tt.wantCode {
				t.Errorf("Code = %s, want %s", got.Code, tt.wantCode)
			}
			if got.Retryable != tt.wantRetryable {
				t.Errorf("Retryable = %v, want %v", got.Retryable, tt.wantRetryable)
			}
			if got.RetryAfter != tt.wantRetryAfter {
				t.Errorf("RetryAfter = %v, want %v", got.RetryAfter, tt.wantRetryAfter)
			}
			if got.InstanceID != "inst-1" {
				t.Errorf("InstanceID = %q, want inst-1", got.InstanceID)
			}
			if got.Message != tt.err.Error() {
				t.Errorf("Message = %q, want raw %q", got.Message, tt.err.Error())
			}
		})
	}
}

func TestClassifyUserMessageNeverLeaksRawError(t *testing.T) {
	t.Parallel()

	raw := "Invalid API key sk-secret-12345 rejected by backend-internal-host:8443"
	got := Classify(&BackendError{Status: 401, Message: raw}, "inst-1")
	if strings.Contains(got.UserMessage, "sk-secret-12345") || strings.Contains(got.UserMessage, "backend-internal-host") {
		t.Errorf("UserMessage leaks backend detail: %q", got.UserMessage)
	}
	if !strings.Contains(got.DeveloperMessage, raw) {
		t.Errorf("DeveloperMessage should carry the raw message, got %q", got.DeveloperMessage)
	}
}

func TestClassifyNil(t *testing.T) {
	t.Parallel()
	if got := Classify(nil, "inst-1"); got != nil {
		t.Errorf("Classify(nil) = %v, want nil", got)
	}
}

func TestClassifyPassesThroughClassifiedErrors(t *testing.T) {
	t.Parallel()

	original := newConfigurationError("no store accepted the write", "dev detail", "inst-1")
	got := Classify(fmt.Errorf("wrapped: %w", original), "inst-2")
	if got != original {
		t.Error("Classify should return an already classified error unchanged")
	}
	if got.Kind != KindConfiguration || got.Code != "AUTH_006" || got.Retryable {
		t.Errorf("configuration error mangled: %+v", got)
	}
}

func TestKindCodeMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		kind ErrorKind
		code string
	}{
		{KindInvalidCredential, "AUTH_001"},
		{KindNetwork, "AUTH_002"},
		{KindOAuthProvider, "AUTH_003"},
		{KindSessionExpired, "AUTH_004"},
		{KindRateLimited, "AUTH_005"},
		{KindConfiguration, "AUTH_006"},
		{KindUnknown, "AUTH_999"},
	}
	for _, tt := range tests {
		if got := tt.kind.Code(); got != tt.code {
			t.Errorf("%s.Code() = %s, want %s", tt.kind, got, tt.code)
		}
	}
}

func TestErrorInterface(t *testing.T) {
	t.Parallel()

	err := Classify(errors.New("boom"), "inst-1")
	if got := err.Error(); got != "AUTH_999: boom" {
		t.Errorf("Error() = %q", got)
	}
}
