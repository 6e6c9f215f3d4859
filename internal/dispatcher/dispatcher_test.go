package dispatcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/larkmcp/corekit/internal/breaker"
	"github.com/larkmcp/corekit/internal/cache"
	"github.com/larkmcp/corekit/internal/config"
	corekiterrors "github.com/larkmcp/corekit/internal/errors"
	"github.com/larkmcp/corekit/internal/ratelimit"
	"github.com/larkmcp/corekit/internal/tool"
	"github.com/larkmcp/corekit/internal/upstream"
)

type stubCredentials struct{}

func (stubCredentials) TenantToken(ctx context.Context) (string, error) { return "tenant-tok", nil }
func (stubCredentials) UserToken(ctx context.Context) (string, bool, error) {
	return "", false, nil
}

func newTestRegistry(t *testing.T, descriptors []tool.Descriptor) *tool.ActiveSet {
	t.Helper()
	reg, err := tool.New(descriptors, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	names := make([]string, 0, len(descriptors))
	for _, d := range descriptors {
		names = append(names, d.Name)
	}
	set, err := reg.Resolve(tool.FilterSpec{Include: names})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return set
}

func newTestDispatcher(t *testing.T, descriptors []tool.Descriptor, invoker upstream.Invoker) *Dispatcher {
	t.Helper()
	active := newTestRegistry(t, descriptors)
	breakers := breaker.NewManager(config.CircuitBreakerConfig{Default: config.BreakerConfig{
		FailureThreshold: 3, SuccessThreshold: 2, TimeoutMs: 1000, VolumeThreshold: 10,
		ErrorRateThreshold: 0.5, SlowCallDurationMs: 5000, SlowCallRateThreshold: 0.5,
	}}, nil)
	limiter := ratelimit.New(config.RateLimitingConfig{
		Enabled: true,
		Tiers: map[string]config.TierConfig{
			"default": {Capacity: 10, RefillTokens: 10, IntervalMs: 1000},
			"read":    {Capacity: 10, RefillTokens: 10, IntervalMs: 1000},
		},
	})
	cacheMgr := cache.New(config.CacheConfig{MaxEntries: 100, DefaultTTLMs: 60_000})
	return New(active, breakers, limiter, cacheMgr, invoker, stubCredentials{})
}

func TestCallUnknownToolFailsNotFound(t *testing.T) {
	d := newTestDispatcher(t, []tool.Descriptor{{Name: "known", Classify: tool.ClassifyWrite}}, nil)
	_, err := d.Call(context.Background(), "unknown", nil, CallOptions{})
	if err == nil || err.Category != corekiterrors.CategoryNotFound {
		t.Fatalf("expected NotFound error, got %v", err)
	}
}

func TestCallMissingRequiredFieldFailsValidation(t *testing.T) {
	desc := tool.Descriptor{
		Name:        "user.get",
		Classify:    tool.ClassifyRead,
		Category:    "UserInfo",
		InputSchema: map[string]any{"required": []string{"user_id"}},
	}
	invoked := false
	d := newTestDispatcher(t, []tool.Descriptor{desc}, upstream.InvokerFunc(func(ctx context.Context, b upstream.Binding, c upstream.Credentials, args map[string]any) ([]upstream.Content, error) {
		invoked = true
		return nil, nil
	}))
	_, err := d.Call(context.Background(), "user.get", map[string]any{}, CallOptions{})
	if err == nil || err.Category != corekiterrors.CategoryValidation {
		t.Fatalf("expected Validation error, got %v", err)
	}
	if invoked {
		t.Fatalf("expected upstream to never be contacted on validation failure")
	}
}

func TestCallSuccessReturnsResult(t *testing.T) {
	desc := tool.Descriptor{Name: "message.create", Classify: tool.ClassifyWrite, RateTier: "default"}
	d := newTestDispatcher(t, []tool.Descriptor{desc}, upstream.InvokerFunc(func(ctx context.Context, b upstream.Binding, c upstream.Credentials, args map[string]any) ([]upstream.Content, error) {
		return []upstream.Content{{Kind: upstream.ContentText, Text: "ok"}}, nil
	}))
	res, err := d.Call(context.Background(), "message.create", map[string]any{"text": "hi"}, CallOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Content) != 1 || res.Content[0].Text != "ok" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestCallCachesReadClassifiedToolsOnSecondCall(t *testing.T) {
	calls := 0
	desc := tool.Descriptor{Name: "user.get", Classify: tool.ClassifyRead, Category: "UserInfo", RateTier: "read"}
	d := newTestDispatcher(t, []tool.Descriptor{desc}, upstream.InvokerFunc(func(ctx context.Context, b upstream.Binding, c upstream.Credentials, args map[string]any) ([]upstream.Content, error) {
		calls++
		return []upstream.Content{{Kind: upstream.ContentJSON, JSON: map[string]any{"name": "A"}}}, nil
	}))

	args := map[string]any{"user_id": "u1"}
	if _, err := d.Call(context.Background(), "user.get", args, CallOptions{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := d.Call(context.Background(), "user.get", args, CallOptions{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected exactly one upstream invocation, got %d", calls)
	}
}

func TestCallNoCacheOptionBypassesCache(t *testing.T) {
	calls := 0
	desc := tool.Descriptor{Name: "user.get", Classify: tool.ClassifyRead, Category: "UserInfo", RateTier: "read"}
	d := newTestDispatcher(t, []tool.Descriptor{desc}, upstream.InvokerFunc(func(ctx context.Context, b upstream.Binding, c upstream.Credentials, args map[string]any) ([]upstream.Content, error) {
		calls++
		return []upstream.Content{{Kind: upstream.ContentText, Text: "v"}}, nil
	}))

	args := map[string]any{"user_id": "u1"}
	if _, err := d.Call(context.Background(), "user.get", args, CallOptions{NoCache: true}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := d.Call(context.Background(), "user.get", args, CallOptions{NoCache: true}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected noCache to force two upstream invocations, got %d", calls)
	}
}

func TestCallOpenBreakerFailsCircuitOpenWithoutContactingUpstream(t *testing.T) {
	invoked := false
	desc := tool.Descriptor{Name: "flaky", Classify: tool.ClassifyWrite}
	d := newTestDispatcher(t, []tool.Descriptor{desc}, upstream.InvokerFunc(func(ctx context.Context, b upstream.Binding, c upstream.Credentials, args map[string]any) ([]upstream.Content, error) {
		invoked = true
		return nil, errors.New("boom")
	}))

	for i := 0; i < 3; i++ {
		_, _ = d.Call(context.Background(), "flaky", nil, CallOptions{})
	}
	invoked = false

	_, err := d.Call(context.Background(), "flaky", nil, CallOptions{})
	if err == nil || err.Category != corekiterrors.CategoryCircuitOpen {
		t.Fatalf("expected CircuitOpen error after repeated failures, got %v", err)
	}
	if invoked {
		t.Fatalf("expected upstream never contacted while breaker is open")
	}
}

func TestCallTimeoutReturnsTimeoutError(t *testing.T) {
	desc := tool.Descriptor{Name: "slow", Classify: tool.ClassifyWrite}
	d := newTestDispatcher(t, []tool.Descriptor{desc}, upstream.InvokerFunc(func(ctx context.Context, b upstream.Binding, c upstream.Credentials, args map[string]any) ([]upstream.Content, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}))

	_, err := d.Call(context.Background(), "slow", nil, CallOptions{Timeout: 10 * time.Millisecond})
	if err == nil || err.Category != corekiterrors.CategoryTimeout {
		t.Fatalf("expected Timeout error, got %v", err)
	}
}

func TestListReturnsNoBindingLeakage(t *testing.T) {
	desc := tool.Descriptor{Name: "a", Description: "does a thing", Classify: tool.ClassifyWrite}
	d := newTestDispatcher(t, []tool.Descriptor{desc}, nil)
	listed := d.List()
	if len(listed) != 1 || listed[0].Name != "a" || listed[0].Description != "does a thing" {
		t.Fatalf("unexpected listing: %+v", listed)
	}
}
