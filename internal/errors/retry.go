package errors

import (
	"context"
	stderrors "errors"
	"math"
	"math/rand"
	"time"

	"github.com/larkmcp/corekit/internal/logging"
)

// RetryConfig configures exponential-backoff-with-jitter retry, grounded
// on the teacher's internal/errors/retry.go calculateBackoff formula.
type RetryConfig struct {
	MaxAttempts  int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	JitterFactor float64
}

// DefaultRetryConfig mirrors the task queue's default backoff schedule.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		BaseDelay:    1 * time.Second,
		MaxDelay:     30 * time.Second,
		JitterFactor: 0.25,
	}
}

// RetryableFunc is a unit of work that can be retried.
type RetryableFunc func(ctx context.Context) error

// Retry runs fn, retrying on retryable CoreErrors with exponential
// backoff, until MaxAttempts is exhausted, the context is cancelled, or
// fn returns a non-retryable error.
func Retry(ctx context.Context, cfg RetryConfig, fn RetryableFunc) error {
	return RetryWithLog(ctx, cfg, fn, logging.Nop())
}

// RetryWithLog is Retry with an explicit component logger.
func RetryWithLog(ctx context.Context, cfg RetryConfig, fn RetryableFunc, logger logging.Logger) error {
	logger = logging.OrNop(logger)

	var lastErr error
	for attempt := 0; attempt <= cfg.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return New("context_cancelled", CategoryTimeout, "context cancelled during retry", ctx.Err())
		default:
		}

		err := fn(ctx)
		if err == nil {
			if attempt > 0 {
				logger.Info("retry succeeded after %d attempts", attempt+1)
			}
			return nil
		}

		lastErr = err
		if !isRetryable(err) {
			return err
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		delay := calculateBackoff(attempt, cfg)
		logger.Debug("retrying after backoff, attempt %d, delay %s", attempt+1, delay)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return New("context_cancelled", CategoryTimeout, "context cancelled during backoff", ctx.Err())
		}
	}

	return New("retries_exhausted", CategoryInternal, "maximum retry attempts exhausted", lastErr)
}

// RetryWithResult is the generic, result-returning form of Retry.
func RetryWithResult[T any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return zero, New("context_cancelled", CategoryTimeout, "context cancelled during retry", ctx.Err())
		default:
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}

		lastErr = err
		if !isRetryable(err) {
			return zero, err
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		select {
		case <-time.After(calculateBackoff(attempt, cfg)):
		case <-ctx.Done():
			return zero, New("context_cancelled", CategoryTimeout, "context cancelled during backoff", ctx.Err())
		}
	}

	return zero, New("retries_exhausted", CategoryInternal, "maximum retry attempts exhausted", lastErr)
}

func isRetryable(err error) bool {
	var ce *CoreError
	if stderrors.As(err, &ce) {
		return ce.Retryable()
	}
	return true
}

// Backoff exposes calculateBackoff for callers outside this package
// that need the same base*2^attempt-with-jitter schedule, notably the
// task queue's retry policy.
func Backoff(attempt int, cfg RetryConfig) time.Duration {
	return calculateBackoff(attempt, cfg)
}

// calculateBackoff implements base*2^attempt, capped at MaxDelay, with
// +/-JitterFactor randomization, matching the task queue's retry policy.
func calculateBackoff(attempt int, cfg RetryConfig) time.Duration {
	multiplier := math.Pow(2, float64(attempt))
	delay := time.Duration(float64(cfg.BaseDelay) * multiplier)
	if delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}

	if cfg.JitterFactor > 0 {
		jitter := float64(delay) * cfg.JitterFactor
		delay += time.Duration((rand.Float64()*2 - 1) * jitter)
		if delay < 0 {
			delay = cfg.BaseDelay
		}
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	return delay
}
