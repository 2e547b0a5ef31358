package errors

import (
	"context"
	"fmt"
	"math"
	"time"
)

// RetryConfig controls how RetryWithBackoff repeats an operation
type RetryConfig struct {
	// MaxRetries is the number of attempts after the first one
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	// RetryableErrors decides whether err is worth another attempt. nil
	// retries everything.
	RetryableErrors func(error) bool
	// OnRetry is called before sleeping ahead of attempt number attempt+1
	OnRetry func(attempt int, backoff time.Duration, err error)
}

// DefaultRetryConfig returns the configuration used for busy database
// writes. Downloads are never retried internally.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      4,
		InitialBackoff:  25 * time.Millisecond,
		MaxBackoff:      500 * time.Millisecond,
		Multiplier:      2.0,
		RetryableErrors: IsRetryable,
	}
}

// RetryWithBackoff runs fn until it succeeds, returns an error that is not
// retryable, or runs out of attempts. The returned error wraps the last
// failure so its AppError type survives.
func RetryWithBackoff(ctx context.Context, config RetryConfig, fn func() error) error {
	var lastErr error

	for attempt := 0; ; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if config.RetryableErrors != nil && !config.RetryableErrors(lastErr) {
			return lastErr
		}
		if attempt >= config.MaxRetries {
			break
		}

		backoff := calculateBackoff(attempt, config.InitialBackoff, config.MaxBackoff, config.Multiplier)
		if config.OnRetry != nil {
			config.OnRetry(attempt, backoff, lastErr)
		}
		if err := sleep(ctx, backoff); err != nil {
			return NewCancelledError("retry cancelled", err)
		}
	}

	return fmt.Errorf("gave up after %d attempts: %w", config.MaxRetries+1, lastErr)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// calculateBackoff returns initial * multiplier^attempt, capped at max
func calculateBackoff(attempt int, initial, max time.Duration, multiplier float64) time.Duration {
	backoff := float64(initial) * math.Pow(multiplier, float64(attempt))
	if backoff > float64(max) {
		return max
	}
	return time.Duration(backoff)
}
