package providers

import (
	"context"
	"errors"
	"fmt"
)

// Common errors returned by backend clients.
var (
	// ErrEmptyAPIKey indicates a required API key was not configured.
	ErrEmptyAPIKey = errors.New("API key cannot be empty")
	// ErrEmptyResponse indicates the backend returned an empty body.
	ErrEmptyResponse = errors.New("empty response from API")
	// ErrNoResponseChoice indicates the backend returned no choices.
	ErrNoResponseChoice = errors.New("no response choices returned")
)

// ErrorType classifies a backend failure for standardized handling,
// such as deciding retryability.
type ErrorType int

const (
	// ErrorTypeUnknown is an undetermined failure category.
	ErrorTypeUnknown ErrorType = iota
	// ErrorTypeAuthentication covers invalid or missing credentials.
	ErrorTypeAuthentication
	// ErrorTypeRateLimit covers provider-side throttling.
	ErrorTypeRateLimit
	// ErrorTypeBadRequest covers malformed requests and parameters.
	ErrorTypeBadRequest
	// ErrorTypeNotFound covers missing models or endpoints.
	ErrorTypeNotFound
	// ErrorTypeServerError covers backend-side failures.
	ErrorTypeServerError
	// ErrorTypeNetwork covers client-side transport problems.
	ErrorTypeNetwork
	// ErrorTypeTimeout covers requests cut off by a deadline.
	ErrorTypeTimeout
)

// ProviderError normalizes backend-specific failures into one shape
// with a classified type and the original error preserved for
// inspection.
type ProviderError struct {
	// Type classifies the failure.
	Type ErrorType
	// Provider names the backend that produced the failure.
	Provider string
	// StatusCode holds the HTTP status, when applicable.
	StatusCode int
	// Message is the user-facing description.
	Message string
	// WrappedError is the original underlying error.
	WrappedError error
}

// Error satisfies the error interface.
func (e *ProviderError) Error() string {
	base := fmt.Sprintf("%s error", e.Provider)
	if e.StatusCode > 0 {
		base += fmt.Sprintf(" (HTTP %d)", e.StatusCode)
	}
	if s := e.typeString(); s != "" {
		base += fmt.Sprintf(" [%s]", s)
	}
	if e.Message != "" {
		base += ": " + e.Message
	}
	if e.WrappedError != nil {
		base += fmt.Sprintf(": %v", e.WrappedError)
	}
	return base
}

// Unwrap exposes the underlying error to errors.Is and errors.As.
func (e *ProviderError) Unwrap() error { return e.WrappedError }

// IsRetryable reports whether a request failing with this error is
// worth retrying. Transient categories qualify; auth and bad-request
// failures do not.
func (e *ProviderError) IsRetryable() bool {
	switch e.Type {
	case ErrorTypeRateLimit, ErrorTypeServerError, ErrorTypeNetwork, ErrorTypeTimeout:
		return true
	default:
		return false
	}
}

func (e *ProviderError) typeString() string {
	switch e.Type {
	case ErrorTypeAuthentication:
		return "authentication"
	case ErrorTypeRateLimit:
		return "rate_limit"
	case ErrorTypeBadRequest:
		return "bad_request"
	case ErrorTypeNotFound:
		return "not_found"
	case ErrorTypeServerError:
		return "server_error"
	case ErrorTypeNetwork:
		return "network"
	case ErrorTypeTimeout:
		return "timeout"
	default:
		return ""
	}
}

// IsRetryable reports whether err is worth retrying. Unclassified
// errors default to retryable; the classifier marks the ones that are
// definitively not.
func IsRetryable(err error) bool {
	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return provErr.IsRetryable()
	}
	return true
}

// NewProviderError builds a classified ProviderError.
func NewProviderError(provider string, errType ErrorType, statusCode int, message string, wrapped error) *ProviderError {
	return &ProviderError{
		Type:         errType,
		Provider:     provider,
		StatusCode:   statusCode,
		Message:      message,
		WrappedError: wrapped,
	}
}

// ErrorClassifier turns backend-specific failures into ProviderError
// instances using the HTTP status or context state.
type ErrorClassifier struct {
	// Provider names the backend this classifier works for.
	Provider string
}

// ClassifyHTTPError maps an HTTP status code to a ProviderError.
func (ec *ErrorClassifier) ClassifyHTTPError(statusCode int, message string, err error) *ProviderError {
	var errType ErrorType
	switch {
	case statusCode == 401 || statusCode == 403:
		errType = ErrorTypeAuthentication
		message = fmt.Sprintf("%s authentication failed", ec.Provider)
	case statusCode == 429:
		errType = ErrorTypeRateLimit
		message = fmt.Sprintf("%s rate limit exceeded", ec.Provider)
	case statusCode == 404:
		errType = ErrorTypeNotFound
	case statusCode >= 500:
		errType = ErrorTypeServerError
	case statusCode >= 400:
		errType = ErrorTypeBadRequest
	default:
		errType = ErrorTypeUnknown
	}
	return NewProviderError(ec.Provider, errType, statusCode, message, err)
}

// ClassifyContextError maps context cancellation and deadline errors.
func (ec *ErrorClassifier) ClassifyContextError(err error) *ProviderError {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return NewProviderError(ec.Provider, ErrorTypeTimeout, 0, "request timed out", err)
	case errors.Is(err, context.Canceled):
		return NewProviderError(ec.Provider, ErrorTypeNetwork, 0, "request canceled", err)
	default:
		return NewProviderError(ec.Provider, ErrorTypeUnknown, 0, "", err)
	}
}
