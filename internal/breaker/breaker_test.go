package breaker

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBreakerOpensOnConsecutiveFailures(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FailureThreshold = 3
	cfg.VolumeThreshold = 1000 // keep rate-based trip out of play
	b := New("im.message.create", cfg)

	for i := 0; i < 3; i++ {
		if err := b.Allow(); err != nil {
			t.Fatalf("unexpected refusal before trip: %v", err)
		}
		b.Mark(errors.New("boom"), time.Millisecond)
	}

	if b.State() != StateOpen {
		t.Fatalf("expected breaker to be open after %d failures, got %s", cfg.FailureThreshold, b.State())
	}
	if err := b.Allow(); err == nil {
		t.Fatalf("expected admission to be refused while open")
	}
}

func TestBreakerTripsOnErrorRateAboveVolumeThreshold(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FailureThreshold = 1000
	cfg.VolumeThreshold = 10
	cfg.ErrorRateThreshold = 0.5
	b := New("drive.file.list", cfg)

	for i := 0; i < 10; i++ {
		_ = b.Allow()
		if i < 6 {
			b.Mark(errors.New("boom"), time.Millisecond)
		} else {
			b.Mark(nil, time.Millisecond)
		}
	}

	if b.State() != StateOpen {
		t.Fatalf("expected breaker open on 60%% error rate over volume threshold, got %s", b.State())
	}
}

func TestBreakerTripsOnSlowCallRate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FailureThreshold = 1000
	cfg.VolumeThreshold = 4
	cfg.SlowCallDuration = 10 * time.Millisecond
	cfg.SlowCallRateThreshold = 0.5
	b := New("calendar.event.list", cfg)

	for i := 0; i < 4; i++ {
		_ = b.Allow()
		b.Mark(nil, 50*time.Millisecond)
	}

	if b.State() != StateOpen {
		t.Fatalf("expected breaker open on slow-call rate, got %s", b.State())
	}
}

func TestBreakerHalfOpenAllowsSingleProbe(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FailureThreshold = 1
	cfg.Timeout = 10 * time.Millisecond
	b := New("im.message.create", cfg)

	_ = b.Allow()
	b.Mark(errors.New("boom"), time.Millisecond)
	if b.State() != StateOpen {
		t.Fatalf("expected open after single failure with threshold 1")
	}

	time.Sleep(15 * time.Millisecond)

	if err := b.Allow(); err != nil {
		t.Fatalf("expected first post-timeout probe admitted: %v", err)
	}
	if b.State() != StateHalfOpen {
		t.Fatalf("expected half_open after timeout elapses, got %s", b.State())
	}
	if err := b.Allow(); err == nil {
		t.Fatalf("expected concurrent half-open probe to be refused")
	}
}

func TestBreakerHalfOpenClosesAfterSuccessThreshold(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FailureThreshold = 1
	cfg.SuccessThreshold = 2
	cfg.Timeout = time.Millisecond
	b := New("im.message.create", cfg)

	_ = b.Allow()
	b.Mark(errors.New("boom"), time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	_ = b.Allow()
	b.Mark(nil, time.Millisecond)
	if b.State() != StateHalfOpen {
		t.Fatalf("expected still half_open after 1/2 successes, got %s", b.State())
	}

	_ = b.Allow()
	b.Mark(nil, time.Millisecond)
	if b.State() != StateClosed {
		t.Fatalf("expected closed after success threshold met, got %s", b.State())
	}
}

func TestBreakerHalfOpenReopensOnFailure(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FailureThreshold = 1
	cfg.Timeout = time.Millisecond
	b := New("im.message.create", cfg)

	_ = b.Allow()
	b.Mark(errors.New("boom"), time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	_ = b.Allow()
	b.Mark(errors.New("boom again"), time.Millisecond)
	if b.State() != StateOpen {
		t.Fatalf("expected reopen on half-open failure, got %s", b.State())
	}
}

func TestBreakerForceOpenAndReset(t *testing.T) {
	b := New("im.message.create", DefaultConfig())
	b.ForceOpen()
	if b.State() != StateOpen {
		t.Fatalf("expected forced open")
	}
	if err := b.Allow(); err == nil {
		t.Fatalf("expected forced open to refuse admission")
	}

	b.Reset()
	if b.State() != StateClosed {
		t.Fatalf("expected reset to close the breaker")
	}
	if err := b.Allow(); err != nil {
		t.Fatalf("expected admission after reset: %v", err)
	}
}

func TestBreakerExecuteRecordsOutcome(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FailureThreshold = 1
	b := New("im.message.create", cfg)

	err := b.Execute(context.Background(), func(ctx context.Context) error {
		return errors.New("boom")
	})
	if err == nil {
		t.Fatalf("expected Execute to propagate fn's error")
	}
	if b.State() != StateOpen {
		t.Fatalf("expected breaker open after Execute's failure, got %s", b.State())
	}
}
