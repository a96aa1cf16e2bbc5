package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestFetchError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *FetchError
		expected string
	}{
		{
			name: "error with wrapped error",
			err: &FetchError{
				Kind:    KindNetwork,
				Message: "dial tcp: connection refused",
				Err:     errors.New("connection refused"),
			},
			expected: "indicator network error (status 0): dial tcp: connection refused: connection refused",
		},
		{
			name:     "api error",
			err:      NewAPIError(404, "NOT_FOUND", "Ticker not found"),
			expected: "indicator api error (status 404): Ticker not found",
		},
		{
			name:     "rate limit error",
			err:      NewRateLimitedError(),
			expected: "indicator rate_limited error (status 429): API rate limit exceeded. Please try again later.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestFetchError_Unwrap(t *testing.T) {
	err := NewNetworkError(context.DeadlineExceeded)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Error("errors.Is should find the wrapped cause")
	}

	wrapped := fmt.Errorf("fetch page: %w", NewRateLimitedError())
	var fe *FetchError
	if !errors.As(wrapped, &fe) {
		t.Fatal("errors.As should find *FetchError")
	}
	if fe.Kind != KindRateLimited {
		t.Errorf("Kind = %q, want %q", fe.Kind, KindRateLimited)
	}
}

func TestFetchError_Retryable(t *testing.T) {
	tests := []struct {
		name     string
		err      *FetchError
		expected bool
	}{
		{name: "rate limited never retries", err: NewRateLimitedError(), expected: false},
		{name: "api error retries", err: NewAPIError(500, "", "boom"), expected: true},
		{name: "network error retries", err: NewNetworkError(errors.New("reset")), expected: true},
		{name: "malformed follows count policy", err: NewMalformedError(nil), expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Retryable(); got != tt.expected {
				t.Errorf("Retryable() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestFetchError_UserMessage(t *testing.T) {
	tests := []struct {
		name     string
		err      *FetchError
		expected string
	}{
		{
			name:     "rate limit advisory",
			err:      NewRateLimitedError(),
			expected: "Rate limit exceeded. Please wait a moment before trying again.",
		},
		{
			name:     "api message verbatim",
			err:      NewAPIError(http.StatusForbidden, "NOT_AUTHORIZED", "You are not entitled to this data."),
			expected: "You are not entitled to this data.",
		},
		{
			name:     "api without message",
			err:      NewAPIError(http.StatusBadGateway, "", ""),
			expected: "An error occurred while fetching data",
		},
		{
			name:     "malformed",
			err:      NewMalformedError(nil),
			expected: "Invalid response format from API",
		},
		{
			name:     "network is generic",
			err:      NewNetworkError(errors.New("dial tcp 127.0.0.1:1: connect: connection refused")),
			expected: "An error occurred while fetching data",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.UserMessage(); got != tt.expected {
				t.Errorf("UserMessage() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestNewNetworkError_MessageFromCause(t *testing.T) {
	err := NewNetworkError(errors.New("connection refused"))
	if err.Message != "connection refused" {
		t.Errorf("Message = %q, want %q", err.Message, "connection refused")
	}
}

func TestClassify(t *testing.T) {
	if Classify(nil) != nil {
		t.Error("Classify(nil) should be nil")
	}

	original := NewAPIError(500, "", "boom")
	if got := Classify(fmt.Errorf("wrap: %w", original)); got != original {
		t.Errorf("Classify() = %v, want the wrapped *FetchError", got)
	}

	if got := Classify(errors.New("something odd")); got.Kind != KindNetwork {
		t.Errorf("Classify(unknown).Kind = %q, want %q", got.Kind, KindNetwork)
	}
}
