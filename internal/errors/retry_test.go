package errors

import (
	"context"
	"testing"
	"time"
)

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	cfg := RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond, JitterFactor: 0}

	err := Retry(context.Background(), cfg, func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return ThrottledError("default")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestRetryStopsOnNonRetryableError(t *testing.T) {
	attempts := 0
	cfg := DefaultRetryConfig()

	err := Retry(context.Background(), cfg, func(ctx context.Context) error {
		attempts++
		return ValidationError(map[string]string{"x": "bad"})
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	if attempts != 1 {
		t.Fatalf("expected exactly 1 attempt for a non-retryable error, got %d", attempts)
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	attempts := 0
	cfg := RetryConfig{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, JitterFactor: 0}

	err := Retry(context.Background(), cfg, func(ctx context.Context) error {
		attempts++
		return ThrottledError("default")
	})
	if err == nil {
		t.Fatalf("expected error after exhausting retries")
	}
	if attempts != cfg.MaxAttempts+1 {
		t.Fatalf("expected %d attempts, got %d", cfg.MaxAttempts+1, attempts)
	}
}

func TestRetryRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Retry(ctx, DefaultRetryConfig(), func(ctx context.Context) error {
		t.Fatalf("fn should not run against a cancelled context")
		return nil
	})
	if err == nil {
		t.Fatalf("expected error from cancelled context")
	}
}

func TestCalculateBackoffCapsAtMaxDelay(t *testing.T) {
	cfg := RetryConfig{BaseDelay: time.Second, MaxDelay: 3 * time.Second, JitterFactor: 0}
	delay := calculateBackoff(5, cfg)
	if delay != cfg.MaxDelay {
		t.Fatalf("expected delay capped at %s, got %s", cfg.MaxDelay, delay)
	}
}
