package spotify

import (
	"errors"
	"fmt"
	"net/http"
)

// FailureKind classifies why a credential operation failed.
type FailureKind string

const (
	KindInvalidURL          FailureKind = "invalidURL"
	KindNoData              FailureKind = "noData"
	KindInvalidResponse     FailureKind = "invalidResponse"
	KindServerError         FailureKind = "serverError"
	KindNetworkError        FailureKind = "networkError"
	KindDecodingError       FailureKind = "decodingError"
	KindMissingToken        FailureKind = "missingToken"
	KindMissingRefreshToken FailureKind = "missingRefreshToken"
)

// AuthFailure is the single error type returned by token exchange, token refresh
// and the refresh coordinator. errors.Is matches on Kind (and on StatusCode when the
// target sets one); errors.Unwrap exposes the underlying cause.
type AuthFailure struct {
	Kind FailureKind
	// StatusCode is set for KindServerError.
	StatusCode int
	// Body holds the (truncated) response body of a rejected request.
	Body  string
	Cause error
}

func (e *AuthFailure) Error() string {
	switch e.Kind {
	case KindInvalidURL:
		return withCause("invalid token endpoint URL", e.Cause)
	case KindNoData:
		return "token endpoint returned no data"
	case KindInvalidResponse:
		return withCause("token endpoint returned an invalid response", e.Cause)
	case KindServerError:
		msg := fmt.Sprintf("token endpoint returned status %d", e.StatusCode)
		if oauthErr, ok := errors.AsType[*OAuthError](e.Cause); ok {
			return msg + ": " + oauthErr.Error()
		}
		if e.Body != "" {
			return msg + ": " + e.Body
		}
		return msg
	case KindNetworkError:
		return withCause("network error", e.Cause)
	case KindDecodingError:
		return withCause("failed to decode token response", e.Cause)
	case KindMissingToken:
		return "no access token available; sign in first"
	case KindMissingRefreshToken:
		return "access token expired and no refresh token is stored"
	default:
		return withCause(string(e.Kind), e.Cause)
	}
}

func (e *AuthFailure) Unwrap() error { return e.Cause }

// Is reports whether target is an *AuthFailure of the same kind.
func (e *AuthFailure) Is(target error) bool {
	t, ok := target.(*AuthFailure)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.StatusCode == 0 || t.StatusCode == e.StatusCode)
}

func withCause(msg string, cause error) string {
	if cause == nil {
		return msg
	}
	return msg + ": " + cause.Error()
}

// Sentinels for errors.Is checks.
var (
	ErrInvalidURL          = &AuthFailure{Kind: KindInvalidURL}
	ErrNoData              = &AuthFailure{Kind: KindNoData}
	ErrInvalidResponse     = &AuthFailure{Kind: KindInvalidResponse}
	ErrServerError         = &AuthFailure{Kind: KindServerError}
	ErrNetwork             = &AuthFailure{Kind: KindNetworkError}
	ErrDecoding            = &AuthFailure{Kind: KindDecodingError}
	ErrMissingToken        = &AuthFailure{Kind: KindMissingToken}
	ErrMissingRefreshToken = &AuthFailure{Kind: KindMissingRefreshToken}
)

// ServerError returns a sentinel matching serverError with the given status.
func ServerError(status int) *AuthFailure {
	return &AuthFailure{Kind: KindServerError, StatusCode: status}
}

// KindOf returns the failure kind carried by err, or "" when err is not an AuthFailure.
func KindOf(err error) FailureKind {
	if failure, ok := errors.AsType[*AuthFailure](err); ok {
		return failure.Kind
	}
	return ""
}

// OAuthError is the error document returned by the authorization server
// ({"error": ..., "error_description": ...}) or carried on a redirect.
type OAuthError struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
	StatusCode  int    `json:"-"`
}

func (e *OAuthError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("OAuth error %s: %s", e.Code, e.Description)
	}
	return fmt.Sprintf("OAuth error: %s", e.Code)
}

// NewOAuthError creates a new OAuth error with the specified code, description, and status code.
func NewOAuthError(code, description string, statusCode int) *OAuthError {
	return &OAuthError{Code: code, Description: description, StatusCode: statusCode}
}

// AuthenticationError describes a failure of the interactive sign-in flow.
type AuthenticationError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    int    `json:"code"`
	Cause   error  `json:"-"`
}

func (e *AuthenticationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *AuthenticationError) Unwrap() error { return e.Cause }

var (
	// ErrInvalidState is returned when the callback state does not match the one sent.
	ErrInvalidState = &AuthenticationError{
		Type:    "invalid_state",
		Message: "OAuth state parameter is invalid",
		Code:    http.StatusBadRequest,
	}

	// ErrInvalidRedirect is returned when a pasted URL does not point at the redirect URI.
	ErrInvalidRedirect = &AuthenticationError{
		Type:    "invalid_redirect",
		Message: "URL is not a redirect to the configured redirect URI",
		Code:    http.StatusBadRequest,
	}

	ErrCodeExchangeFailed = &AuthenticationError{
		Type:    "code_exchange_failed",
		Message: "Failed to exchange authorization code for tokens",
		Code:    http.StatusBadRequest,
	}

	ErrServerStartFailed = &AuthenticationError{
		Type:    "server_start_failed",
		Message: "Failed to start OAuth callback server",
		Code:    http.StatusInternalServerError,
	}

	ErrPortInUse = &AuthenticationError{
		Type:    "port_in_use",
		Message: "OAuth callback port is already in use",
		Code:    13, // process exit code
	}

	ErrCallbackTimeout = &AuthenticationError{
		Type:    "callback_timeout",
		Message: "Timeout waiting for OAuth callback",
		Code:    http.StatusRequestTimeout,
	}
)

// NewAuthenticationError copies baseErr and attaches cause.
func NewAuthenticationError(baseErr *AuthenticationError, cause error) *AuthenticationError {
	return &AuthenticationError{
		Type:    baseErr.Type,
		Message: baseErr.Message,
		Code:    baseErr.Code,
		Cause:   cause,
	}
}

// GetUserFriendlyMessage turns any error from this package into a sentence fit for an alert.
func GetUserFriendlyMessage(err error) string {
	if authErr, ok := errors.AsType[*AuthenticationError](err); ok {
		switch authErr.Type {
		case "invalid_state", "invalid_redirect":
			return "The sign-in response did not match this request. Please try again."
		case "port_in_use":
			return "The OAuth callback port is already in use. Close the application using it or pick another port."
		case "callback_timeout":
			return "Sign-in timed out. Please try again."
		case "code_exchange_failed":
			if authErr.Cause != nil {
				return GetUserFriendlyMessage(authErr.Cause)
			}
			return "Could not complete sign-in. Please try again."
		default:
			return "Authentication failed. Please try again."
		}
	}
	if failure, ok := errors.AsType[*AuthFailure](err); ok {
		switch failure.Kind {
		case KindMissingToken:
			return "You are not signed in. Please sign in to continue."
		case KindMissingRefreshToken:
			return "Your session has expired. Please sign in again."
		case KindNetworkError:
			return "Could not reach Spotify. Check your connection and try again."
		case KindServerError:
			if oauthErr, okOAuth := errors.AsType[*OAuthError](failure.Cause); okOAuth && oauthErr.Code == "invalid_grant" {
				return "Spotify rejected the stored credentials. Please sign in again."
			}
			return fmt.Sprintf("Spotify returned an error (HTTP %d). Please try again later.", failure.StatusCode)
		case KindDecodingError, KindNoData, KindInvalidResponse:
			return "Spotify returned an unexpected response. Please try again later."
		case KindInvalidURL:
			return "The token endpoint URL is misconfigured."
		}
	}
	if oauthErr, ok := errors.AsType[*OAuthError](err); ok {
		switch oauthErr.Code {
		case "access_denied":
			return "Sign-in was cancelled or denied."
		case "invalid_request":
			return "Invalid sign-in request. Please try again."
		case "server_error":
			return "Spotify had a server error. Please try again later."
		default:
			if oauthErr.Description != "" {
				return fmt.Sprintf("Authentication failed: %s", oauthErr.Description)
			}
			return fmt.Sprintf("Authentication failed: %s", oauthErr.Code)
		}
	}
	return "An unexpected error occurred. Please try again."
}
