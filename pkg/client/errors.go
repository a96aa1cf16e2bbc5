package client

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies a failed page fetch.
type ErrorKind string

const (
	// KindRateLimited represents an upstream HTTP 429 (or a local cooldown).
	KindRateLimited ErrorKind = "rate_limited"

	// KindAPI represents any other non-2xx upstream response.
	KindAPI ErrorKind = "api"

	// KindNetwork represents transport failures (refused, reset, timeout).
	KindNetwork ErrorKind = "network"

	// KindMalformed represents a 2xx response without the expected results.
	KindMalformed ErrorKind = "malformed"
)

// User-facing messages.
const (
	rateLimitMessage     = "API rate limit exceeded. Please try again later."
	rateLimitAdvisory    = "Rate limit exceeded. Please wait a moment before trying again."
	genericErrorMessage  = "An error occurred while fetching data"
	malformedBodyMessage = "Invalid response format from API"
)

// FetchError is the only error type that leaves the page fetcher.
type FetchError struct {
	Kind       ErrorKind
	StatusCode int
	Code       string
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("indicator %s error (status %d): %s: %v",
			e.Kind, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("indicator %s error (status %d): %s",
		e.Kind, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the retry policy may schedule another attempt.
// Malformed responses follow the count-based policy like any API error.
func (e *FetchError) Retryable() bool {
	return e.Kind != KindRateLimited
}

// UserMessage returns the text shown to the user for this error.
func (e *FetchError) UserMessage() string {
	switch e.Kind {
	case KindRateLimited:
		return rateLimitAdvisory
	case KindAPI, KindMalformed:
		if e.Message != "" {
			return e.Message
		}
		return genericErrorMessage
	default:
		return genericErrorMessage
	}
}

// NewRateLimitedError returns the error for an upstream 429.
func NewRateLimitedError() *FetchError {
	return &FetchError{
		Kind:       KindRateLimited,
		StatusCode: http.StatusTooManyRequests,
		Message:    rateLimitMessage,
	}
}

// NewAPIError returns the error for a non-2xx, non-429 response.
// An empty message falls back to the generic one.
func NewAPIError(status int, code, message string) *FetchError {
	if message == "" {
		message = genericErrorMessage
	}
	return &FetchError{
		Kind:       KindAPI,
		StatusCode: status,
		Code:       code,
		Message:    message,
	}
}

// NewNetworkError wraps a transport failure. The message is taken from the cause.
func NewNetworkError(cause error) *FetchError {
	msg := genericErrorMessage
	if cause != nil {
		msg = cause.Error()
	}
	return &FetchError{
		Kind:    KindNetwork,
		Message: msg,
		Err:     cause,
	}
}

// NewMalformedError returns the error for a 2xx body without results.
func NewMalformedError(cause error) *FetchError {
	return &FetchError{
		Kind:    KindMalformed,
		Message: malformedBodyMessage,
		Err:     cause,
	}
}

// Classify turns any error into a *FetchError. Errors that are not already
// classified are treated as network failures. Classify(nil) returns nil.
func Classify(err error) *FetchError {
	if err == nil {
		return nil
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe
	}
	return NewNetworkError(err)
}
