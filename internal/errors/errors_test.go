package errors

import (
	"errors"
	"testing"
)

func TestRetryableByCategory(t *testing.T) {
	cases := []struct {
		err  *CoreError
		want bool
	}{
		{ThrottledError("write"), true},
		{TimeoutError("im.message.create"), true},
		{UpstreamError(503, nil), true},
		{UpstreamError(404, nil), false},
		{New("bad_input", CategoryValidation, "", nil), false},
		{NotFoundError("unknown_tool", "no such tool"), false},
		{New("denied", CategoryPermission, "", nil), false},
	}
	for _, tc := range cases {
		if got := tc.err.Retryable(); got != tc.want {
			t.Fatalf("category %s: Retryable() = %v, want %v", tc.err.Category, got, tc.want)
		}
	}
}

func TestToEnvelopeShape(t *testing.T) {
	err := ValidationError(map[string]string{"chatId": "required"})
	env := err.ToEnvelope()

	if !env.IsError {
		t.Fatalf("expected IsError true")
	}
	if env.Category != CategoryValidation {
		t.Fatalf("expected Validation category, got %s", env.Category)
	}
	if env.Retryable {
		t.Fatalf("validation errors must not be retryable")
	}
	if env.Details["chatId"] != "required" {
		t.Fatalf("expected detail to survive, got %+v", env.Details)
	}
}

func TestInternalPassesThroughCoreError(t *testing.T) {
	original := ThrottledError("default")
	wrapped := Internal(original)
	if wrapped != original {
		t.Fatalf("expected Internal to return the same *CoreError unchanged")
	}
}

func TestInternalWrapsForeignError(t *testing.T) {
	foreign := errors.New("boom")
	wrapped := Internal(foreign)
	if wrapped.Category != CategoryInternal {
		t.Fatalf("expected Internal category, got %s", wrapped.Category)
	}
	if wrapped.Details["original"] != "boom" {
		t.Fatalf("expected original message preserved, got %+v", wrapped.Details)
	}
	if !errors.Is(wrapped, wrapped) {
		t.Fatalf("expected errors.Is to hold for identity")
	}
}

func TestIsCategory(t *testing.T) {
	err := CircuitOpenError("im.message.create", 0)
	if !IsCategory(err, CategoryCircuitOpen) {
		t.Fatalf("expected CircuitOpen category match")
	}
	if IsCategory(errors.New("plain"), CategoryCircuitOpen) {
		t.Fatalf("expected no match for a non-CoreError")
	}
}

func TestUnwrapExposesCause(t *testing.T) {
	cause := errors.New("dial tcp: timeout")
	wrapped := New("network_error", CategoryNetwork, "network failure", cause)
	if !errors.Is(wrapped, cause) {
		t.Fatalf("expected errors.Is to unwrap to the cause")
	}
}
