package errors

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
)

// RetryConfig holds configuration for retry logic
type RetryConfig struct {
	MaxRetries     uint64
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	RetryableError func(error) bool
	// OnRetry is called before each new attempt; nil disables notification.
	OnRetry func(attempt uint64, err error)
}

// DefaultRetryConfig returns a default retry configuration
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:   2,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		RetryableError: func(err error) bool {
			if IsRecoverable(err) {
				return true
			}

			switch GetErrorCode(err) {
			case ErrCodeConnectionTimeout,
				ErrCodeNetworkUnavailable,
				ErrCodeTimeout,
				ErrCodeServiceUnavailable:
				return true
			default:
				return false
			}
		},
	}
}

// RetryableFunc represents a function that can be retried
type RetryableFunc func(ctx context.Context) error

// Retry executes fn with a bounded Fibonacci backoff. Only errors accepted by
// config.RetryableError are retried; anything else is returned immediately.
func Retry(ctx context.Context, config *RetryConfig, fn RetryableFunc) error {
	if config == nil {
		config = DefaultRetryConfig()
	}

	initial := config.InitialDelay
	if initial <= 0 {
		initial = time.Second
	}
	b := retry.NewFibonacci(initial)
	if config.MaxDelay > 0 {
		b = retry.WithCappedDuration(config.MaxDelay, b)
	}
	b = retry.WithMaxRetries(config.MaxRetries, b)

	var attempt uint64
	var lastErr error
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		if attempt > 0 && config.OnRetry != nil {
			config.OnRetry(attempt, lastErr)
		}
		attempt++

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if config.RetryableError != nil && config.RetryableError(err) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err == nil {
		return nil
	}

	if attempt > config.MaxRetries && config.MaxRetries > 0 && lastErr != nil &&
		config.RetryableError != nil && config.RetryableError(lastErr) {
		return Wrap(lastErr, ErrCodeMaxRetriesExceeded,
			fmt.Sprintf("Operation failed after %d attempts", attempt)).
			WithContext("attempts", attempt)
	}
	return err
}
