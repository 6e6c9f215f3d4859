package scheduler

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/larkmcp/corekit/internal/agent"
	"github.com/larkmcp/corekit/internal/balancer"
	"github.com/larkmcp/corekit/internal/breaker"
	"github.com/larkmcp/corekit/internal/cache"
	"github.com/larkmcp/corekit/internal/config"
	"github.com/larkmcp/corekit/internal/dispatcher"
	"github.com/larkmcp/corekit/internal/ratelimit"
	"github.com/larkmcp/corekit/internal/task"
	"github.com/larkmcp/corekit/internal/tool"
	"github.com/larkmcp/corekit/internal/upstream"
)

type stubCredentials struct{}

func (stubCredentials) TenantToken(ctx context.Context) (string, error) { return "tok", nil }
func (stubCredentials) UserToken(ctx context.Context) (string, bool, error) {
	return "", false, nil
}

func newTestDispatcher(t *testing.T, invoker upstream.Invoker) *dispatcher.Dispatcher {
	t.Helper()
	reg, err := tool.New([]tool.Descriptor{
		{Name: "message.create", Classify: tool.ClassifyWrite, Auth: tool.AuthEither},
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	active, err := reg.Resolve(tool.FilterSpec{Include: []string{"*"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	breakers := breaker.NewManager(config.CircuitBreakerConfig{Default: config.BreakerConfig{
		FailureThreshold: 3, SuccessThreshold: 2, TimeoutMs: 1000, VolumeThreshold: 10,
		ErrorRateThreshold: 0.5, SlowCallDurationMs: 5000, SlowCallRateThreshold: 0.5,
	}}, nil)
	limiter := ratelimit.New(config.RateLimitingConfig{
		Enabled: true,
		Tiers: map[string]config.TierConfig{
			"default": {Capacity: 100, RefillTokens: 100, IntervalMs: 1000},
		},
	})
	cacheMgr := cache.New(config.CacheConfig{MaxEntries: 100, DefaultTTLMs: 60_000})
	return dispatcher.New(active, breakers, limiter, cacheMgr, invoker, stubCredentials{})
}

func newTestScheduler(t *testing.T, invoker upstream.Invoker) (*Scheduler, *task.Queue, *agent.Registry) {
	t.Helper()
	queue := task.NewQueue()
	registry := agent.NewRegistry()
	lb := balancer.New()
	disp := newTestDispatcher(t, invoker)
	sched := New(queue, registry, lb, disp, time.Hour) // no ticking; tests call RunOnce directly
	t.Cleanup(func() {
		sched.Close()
		registry.Close()
		queue.Close()
	})
	return sched, queue, registry
}

func TestRunOnceAssignsAgentAndCompletesCategoryOnlyTask(t *testing.T) {
	sched, queue, registry := newTestScheduler(t, nil)
	if err := registry.Register("agent-1", []string{"messaging"}, 5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	taskID, err := queue.Enqueue("", task.PriorityMedium, nil, 0, map[string]any{
		"instruction": "send a message",
		"category":    "messaging",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sched.RunOnce()

	got, ok := queue.Get(taskID)
	if !ok {
		t.Fatalf("expected task to exist")
	}
	if got.Status != task.StatusCompleted {
		t.Fatalf("expected task to complete, got %s", got.Status)
	}
	rec, ok := registry.Get("agent-1")
	if !ok {
		t.Fatalf("expected agent to exist")
	}
	if rec.CurrentTasks != 0 {
		t.Fatalf("expected load to be released after completion, got %d", rec.CurrentTasks)
	}
	if rec.SuccessCount != 1 {
		t.Fatalf("expected one recorded success, got %d", rec.SuccessCount)
	}
}

func TestRunOnceReEntersDispatcherForBoundToolTask(t *testing.T) {
	called := false
	invoker := upstream.InvokerFunc(func(ctx context.Context, b upstream.Binding, c upstream.Credentials, args map[string]any) ([]upstream.Content, error) {
		called = true
		return []upstream.Content{{Kind: upstream.ContentText, Text: "sent"}}, nil
	})
	sched, queue, registry := newTestScheduler(t, invoker)
	if err := registry.Register("agent-1", nil, 5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	taskID, err := queue.Enqueue("", task.PriorityMedium, nil, 0, map[string]any{
		"tool":      "message.create",
		"arguments": map[string]any{"text": "hi"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sched.RunOnce()

	if !called {
		t.Fatalf("expected the dispatcher's invoker to be called")
	}
	got, _ := queue.Get(taskID)
	if got.Status != task.StatusCompleted {
		t.Fatalf("expected task to complete, got %s", got.Status)
	}
}

func TestRunOnceFailsTaskWhenDispatcherCallErrors(t *testing.T) {
	invoker := upstream.InvokerFunc(func(ctx context.Context, b upstream.Binding, c upstream.Credentials, args map[string]any) ([]upstream.Content, error) {
		return nil, fmt.Errorf("upstream exploded")
	})
	sched, queue, registry := newTestScheduler(t, invoker)
	if err := registry.Register("agent-1", nil, 5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	taskID, err := queue.Enqueue("", task.PriorityMedium, nil, 0, map[string]any{
		"tool": "message.create",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sched.RunOnce()

	got, _ := queue.Get(taskID)
	if got.Status != task.StatusFailed {
		t.Fatalf("expected task to fail, got %s", got.Status)
	}
	rec, _ := registry.Get("agent-1")
	if rec.FailureCount != 1 {
		t.Fatalf("expected one recorded failure, got %d", rec.FailureCount)
	}
}

func TestRunOnceFailsTaskWhenNoAgentAvailable(t *testing.T) {
	sched, queue, _ := newTestScheduler(t, nil)

	taskID, err := queue.Enqueue("", task.PriorityMedium, nil, 0, map[string]any{
		"category": "messaging",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sched.RunOnce()

	got, _ := queue.Get(taskID)
	if got.Status != task.StatusFailed {
		t.Fatalf("expected task to fail with no agents registered, got %s", got.Status)
	}
}
