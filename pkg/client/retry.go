package client

import (
	"fmt"
	"time"
)

// RetryConfig holds the configuration for the retry policy.
type RetryConfig struct {
	// MaxRetries is the number of automatic retries after the first failure.
	// With 3, attempt indices 0, 1 and 2 are retried and the 4th failure is terminal.
	MaxRetries int `mapstructure:"max_retries"`

	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`

	// MaxBackoff caps the delay.
	MaxBackoff time.Duration `mapstructure:"max_backoff"`

	// BackoffMultiplier is the multiplier for exponential backoff.
	BackoffMultiplier float64 `mapstructure:"multiplier"`
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        3,
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// ShouldRetry reports whether the failure at attemptIndex (0 for the first
// failure) should be retried. Rate limiting is never retried automatically.
func (c RetryConfig) ShouldRetry(err error, attemptIndex int) bool {
	fe := Classify(err)
	if fe == nil || !fe.Retryable() {
		return false
	}
	return attemptIndex >= 0 && attemptIndex < c.MaxRetries
}

// DelayFor returns the backoff before retry attemptIndex:
// min(InitialBackoff * BackoffMultiplier^attemptIndex, MaxBackoff). No jitter.
func (c RetryConfig) DelayFor(attemptIndex int) time.Duration {
	if attemptIndex < 0 {
		attemptIndex = 0
	}
	multiplier := c.BackoffMultiplier
	if multiplier < 1 {
		multiplier = 1
	}

	delay := float64(c.InitialBackoff)
	for i := 0; i < attemptIndex; i++ {
		delay *= multiplier
		if c.MaxBackoff > 0 && delay >= float64(c.MaxBackoff) {
			return c.MaxBackoff
		}
	}

	if c.MaxBackoff > 0 && delay > float64(c.MaxBackoff) {
		return c.MaxBackoff
	}
	return time.Duration(delay)
}

// Validate checks the retry configuration.
func (c RetryConfig) Validate() error {
	switch {
	case c.MaxRetries < 0:
		return fmt.Errorf("max_retries must be >= 0 (got %d)", c.MaxRetries)
	case c.InitialBackoff <= 0:
		return fmt.Errorf("initial_backoff must be > 0 (got %s)", c.InitialBackoff)
	case c.MaxBackoff < c.InitialBackoff:
		return fmt.Errorf("max_backoff must be >= initial_backoff (got %s < %s)", c.MaxBackoff, c.InitialBackoff)
	case c.BackoffMultiplier < 1:
		return fmt.Errorf("multiplier must be >= 1 (got %g)", c.BackoffMultiplier)
	}
	return nil
}
