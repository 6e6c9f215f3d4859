package adminapi

import (
	"context"
	"testing"

	"github.com/larkmcp/corekit/internal/breaker"
	"github.com/larkmcp/corekit/internal/config"
	"github.com/larkmcp/corekit/internal/upstream"
)

func testManager() *breaker.Manager {
	return breaker.NewManager(config.CircuitBreakerConfig{Default: config.BreakerConfig{
		FailureThreshold: 1, SuccessThreshold: 1, TimeoutMs: 1000, VolumeThreshold: 1,
		ErrorRateThreshold: 0.5, SlowCallDurationMs: 5000, SlowCallRateThreshold: 0.5,
	}}, nil)
}

func TestInvokeForceOpenThenListReflectsState(t *testing.T) {
	mgr := testManager()
	inv := NewInvoker(mgr)

	_, err := inv.Invoke(context.Background(), upstream.Binding{ToolName: ToolForceOpen}, upstream.Credentials{}, map[string]any{"name": "message.create"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	content, err := inv.Invoke(context.Background(), upstream.Binding{ToolName: ToolListBreakers}, upstream.Credentials{}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	snapshots, ok := content[0].JSON.([]breaker.Snapshot)
	if !ok {
		t.Fatalf("unexpected content JSON type: %T", content[0].JSON)
	}
	if len(snapshots) != 1 || snapshots[0].State != breaker.StateOpen {
		t.Fatalf("expected one OPEN breaker, got %+v", snapshots)
	}
}

func TestInvokeForceClosedResetsState(t *testing.T) {
	mgr := testManager()
	inv := NewInvoker(mgr)
	mgr.Get("message.create").ForceOpen()

	_, err := inv.Invoke(context.Background(), upstream.Binding{ToolName: ToolForceClosed}, upstream.Credentials{}, map[string]any{"name": "message.create"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mgr.Get("message.create").State() != breaker.StateClosed {
		t.Fatalf("expected breaker to be CLOSED")
	}
}

func TestInvokeForceOpenMissingNameErrors(t *testing.T) {
	mgr := testManager()
	inv := NewInvoker(mgr)
	_, err := inv.Invoke(context.Background(), upstream.Binding{ToolName: ToolForceOpen}, upstream.Credentials{}, nil)
	if err == nil {
		t.Fatalf("expected an error for a missing name argument")
	}
}

func TestInvokeResetAllClearsEveryBreaker(t *testing.T) {
	mgr := testManager()
	inv := NewInvoker(mgr)
	mgr.Get("message.create").ForceOpen()
	mgr.Get("message.delete").ForceOpen()

	if _, err := inv.Invoke(context.Background(), upstream.Binding{ToolName: ToolResetAll}, upstream.Credentials{}, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, name := range []string{"message.create", "message.delete"} {
		if mgr.Get(name).State() != breaker.StateClosed {
			t.Fatalf("expected %q to be CLOSED after resetAll", name)
		}
	}
}

func TestIsAdminToolRecognizesNamespace(t *testing.T) {
	if !IsAdminTool(ToolListBreakers) {
		t.Fatalf("expected %q to be recognized as an admin tool", ToolListBreakers)
	}
	if IsAdminTool("message.create") {
		t.Fatalf("expected message.create to not be an admin tool")
	}
}
