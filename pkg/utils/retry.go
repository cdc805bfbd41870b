// Package utils holds small helpers shared by the sources.
package utils

import (
	"context"
	"fmt"
	"time"
)

// RetryConfig describes an exponential backoff. Retryable decides whether an
// error is worth another attempt; nil retries everything.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	Retryable     func(error) bool
}

// DefaultRetryConfig waits 0.5s then 1s between three attempts.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  500 * time.Millisecond,
		MaxDelay:      10 * time.Second,
		BackoffFactor: 2,
	}
}

func (c RetryConfig) retryable(err error) bool {
	return c.Retryable == nil || c.Retryable(err)
}

// Retry calls fn until it succeeds or the config gives up.
func Retry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	_, err := RetryWithResult(ctx, cfg, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// RetryWithResult calls fn until it succeeds, returns a non-retryable error,
// runs out of attempts, or ctx ends during a backoff pause. The returned
// error wraps the last one from fn.
func RetryWithResult[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	var zero T
	attempts := max(cfg.MaxAttempts, 1)

	for attempt := 0; ; attempt++ {
		result, err := fn()
		switch {
		case err == nil:
			return result, nil
		case !cfg.retryable(err):
			return zero, err
		case attempt+1 >= attempts:
			if attempts == 1 {
				return zero, err
			}
			return zero, fmt.Errorf("giving up after %d attempts: %w", attempts, err)
		}

		pause := time.NewTimer(CalculateBackoff(attempt, cfg.InitialDelay, cfg.MaxDelay, cfg.BackoffFactor))
		select {
		case <-ctx.Done():
			pause.Stop()
			return zero, ctx.Err()
		case <-pause.C:
		}
	}
}

// CalculateBackoff returns initialDelay*factor^attempt, capped at maxDelay
// when maxDelay is positive. Factors below 1 are treated as 1.
func CalculateBackoff(attempt int, initialDelay, maxDelay time.Duration, factor float64) time.Duration {
	factor = max(factor, 1)
	delay := float64(initialDelay)
	for i := 0; i < attempt; i++ {
		delay *= factor
		if maxDelay > 0 && delay >= float64(maxDelay) {
			return maxDelay
		}
	}
	if maxDelay > 0 && delay > float64(maxDelay) {
		return maxDelay
	}
	return time.Duration(delay)
}
