package auth

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"
)

// ErrorKind identifies the category of an authentication failure.
type ErrorKind string

const (
	// KindInvalidCredential marks unauthorized responses and bad API keys.
	KindInvalidCredential ErrorKind = "INVALID_CREDENTIAL"
	// KindNetwork marks transport-level failures such as DNS errors and timeouts.
	KindNetwork ErrorKind = "NETWORK"
	// KindOAuthProvider marks provider-side failures such as denied consent.
	KindOAuthProvider ErrorKind = "OAUTH_PROVIDER"
	// KindSessionExpired marks expired sessions and invalid grants.
	KindSessionExpired ErrorKind = "SESSION_EXPIRED"
	// KindRateLimited marks HTTP 429 and explicit rate-limit responses.
	KindRateLimited ErrorKind = "RATE_LIMITED"
	// KindConfiguration marks local setup faults, e.g. no usable state store.
	KindConfiguration ErrorKind = "CONFIGURATION_ERROR"
	// KindUnknown is the fallback for anything the rules above do not match.
	KindUnknown ErrorKind = "UNKNOWN"
)

// Code returns the stable short identifier for the kind.
func (k ErrorKind) Code() string {
	switch k {
	case KindInvalidCredential:
		return "AUTH_001"
	case KindNetwork:
		return "AUTH_002"
	case KindOAuthProvider:
		return "AUTH_003"
	case KindSessionExpired:
		return "AUTH_004"
	case KindRateLimited:
		return "AUTH_005"
	case KindConfiguration:
		return "AUTH_006"
	default:
		return "AUTH_999"
	}
}

// Error describes an authentication failure in a classified, backend agnostic
// format. UserMessage is safe to display; Message and DeveloperMessage carry
// raw detail for diagnostics only and must never reach end-user UI.
type Error struct {
	// Kind is the classified category.
	Kind ErrorKind `json:"kind"`
	// Message is the raw underlying error message.
	Message string `json:"message"`
	// UserMessage is safe for end-user display and contains no backend detail.
	UserMessage string `json:"user_message"`
	// DeveloperMessage is a diagnostic description with a remediation hint.
	DeveloperMessage string `json:"developer_message"`
	// Code is a short machine readable identifier, derived from Kind.
	Code string `json:"code"`
	// Timestamp records when the classification happened.
	Timestamp time.Time `json:"timestamp"`
	// InstanceID tags the client instance that produced the error.
	InstanceID string `json:"instance_id"`
	// Retryable indicates whether a retry might fix the issue automatically.
	Retryable bool `json:"retryable"`
	// RetryAfter is an optional suggested delay before the next attempt.
	RetryAfter time.Duration `json:"retry_after,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Code == "" {
		return e.Message
	}
	return e.Code + ": " + e.Message
}

// statusCoder is implemented by errors that carry an HTTP-like status code.
type statusCoder interface {
	StatusCode() int
}

// Classify maps an arbitrary failure from the identity backend into a
// classified Error. Rules are checked in order; the first match wins. A nil
// input returns nil. An already classified error passes through unchanged.
func Classify(err error, instanceID string) *Error {
	if err == nil {
		return nil
	}
	var classified *Error
	if errors.As(err, &classified) {
		return classified
	}

	status := 0
	var sc statusCoder
	if errors.As(err, &sc) {
		status = sc.StatusCode()
	}
	msg := err.Error()
	lower := strings.ToLower(msg)
	now := time.Now()

	base := Error{
		Message:    msg,
		Timestamp:  now,
		InstanceID: instanceID,
	}

	switch {
	case status == 401 || strings.Contains(lower, "invalid api key") || strings.Contains(lower, "unauthorized"):
		base.Kind = KindInvalidCredential
		base.UserMessage = "Authentication service is temporarily unavailable. Please try again in a few moments."
		base.DeveloperMessage = "Backend rejected the API key. Check the anon key configuration: " + msg
		base.Retryable = false
	case isNetworkError(err, lower):
		base.Kind = KindNetwork
		base.UserMessage = "Connection failed. Please check your internet connection and try again."
		base.DeveloperMessage = "Network request failed. Check connectivity and backend status: " + msg
		base.Retryable = true
		base.RetryAfter = 2000 * time.Millisecond
	case strings.Contains(lower, "oauth") || strings.Contains(lower, "provider") || strings.Contains(lower, "access_denied") || strings.Contains(lower, "consent"):
		base.Kind = KindOAuthProvider
		base.UserMessage = "Sign-in failed. Please try again or contact support if the problem persists."
		base.DeveloperMessage = "OAuth flow failed. Check provider configuration and redirect URLs: " + msg
		base.Retryable = true
		base.RetryAfter = 1000 * time.Millisecond
	case strings.Contains(lower, "expired") || strings.Contains(lower, "invalid_grant"):
		base.Kind = KindSessionExpired
		base.UserMessage = "Your session has expired. Please sign in again."
		base.DeveloperMessage = "Session token expired or invalid. A fresh sign-in is required: " + msg
		base.Retryable = false
	case status == 429 || strings.Contains(lower, "rate limit") || strings.Contains(lower, "too many requests"):
		base.Kind = KindRateLimited
		base.UserMessage = "Too many requests. Please wait a moment and try again."
		base.DeveloperMessage = "Rate limit exceeded. Throttle authentication requests: " + msg
		base.Retryable = true
		base.RetryAfter = 5000 * time.Millisecond
	default:
		base.Kind = KindUnknown
		base.UserMessage = "An unexpected error occurred. Please try again."
		base.DeveloperMessage = "Unclassified error: " + msg
		base.Retryable = true
		base.RetryAfter = 1000 * time.Millisecond
	}

	base.Code = base.Kind.Code()
	return &base
}

// isNetworkError matches transport-level failures: net errors, timeouts,
// context deadlines, and fetch/connectivity phrasing in backend messages.
func isNetworkError(err error, lower string) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	for _, marker := range []string{"fetch", "network", "connection refused", "connection reset", "no such host", "timeout", "broken pipe", "eof"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// newLogicError builds a classified error for deterministic faults such as a
// backend responding without a URL or session. Retrying cannot fix these, so
// they are marked non-retryable even though their kind is Unknown.
func newLogicError(message, developerMessage, instanceID string) *Error {
	return &Error{
		Kind:             KindUnknown,
		Message:          message,
		UserMessage:      "An unexpected error occurred. Please try again.",
		DeveloperMessage: developerMessage,
		Code:             KindUnknown.Code(),
		Timestamp:        time.Now(),
		InstanceID:       instanceID,
		Retryable:        false,
	}
}

// newConfigurationError builds a classified configuration fault directly,
// bypassing rule matching. Configuration faults are never retryable.
func newConfigurationError(message, developerMessage, instanceID string) *Error {
	return &Error{
		Kind:             KindConfiguration,
		Message:          message,
		UserMessage:      "Authentication setup failed. Please try again.",
		DeveloperMessage: developerMessage,
		Code:             KindConfiguration.Code(),
		Timestamp:        time.Now(),
		InstanceID:       instanceID,
		Retryable:        false,
	}
}
