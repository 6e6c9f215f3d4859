// Package scheduler drives the Task Queue, Load Balancer, and Agent
// Registry together: it dequeues ready tasks, selects an agent via the
// balancer's strategy, re-enters the Dispatcher for tasks that name a
// concrete tool call, and reports the outcome back to the queue and
// the registry. Grounded on spec.md §2's data flow ("the Coordinator
// Agent may synthesize multi-step workflows which re-enter the
// Dispatcher per step via the Task Queue and Load Balancer") and on
// the teacher's ticked-goroutine component shape used throughout
// internal/agent and internal/task.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/larkmcp/corekit/internal/agent"
	"github.com/larkmcp/corekit/internal/async"
	"github.com/larkmcp/corekit/internal/balancer"
	"github.com/larkmcp/corekit/internal/dispatcher"
	"github.com/larkmcp/corekit/internal/logging"
	"github.com/larkmcp/corekit/internal/task"
)

// DefaultInterval is how often the scheduler drains the ready queue
// when ticking on its own, independent of any caller invoking RunOnce.
const DefaultInterval = 100 * time.Millisecond

// Scheduler is the missing link between the three data structures:
// without it, Enqueue leaves tasks queued forever. One Scheduler is
// built per Core holder, over the same Queue the Coordinator submits
// to.
type Scheduler struct {
	queue      *task.Queue
	agents     *agent.Registry
	balancer   *balancer.Balancer
	dispatcher *dispatcher.Dispatcher
	strategy   balancer.Strategy
	maxLoad    float64
	logger     logging.Logger
	cancel     context.CancelFunc
}

// Option customizes a Scheduler at construction.
type Option func(*Scheduler)

// WithStrategy overrides the default adaptive selection strategy.
func WithStrategy(s balancer.Strategy) Option {
	return func(sch *Scheduler) { sch.strategy = s }
}

// WithMaxLoad overrides the load ceiling used when no capability match
// is found and the scheduler falls back to any available agent.
func WithMaxLoad(maxLoad float64) Option {
	return func(sch *Scheduler) { sch.maxLoad = maxLoad }
}

// WithLogger overrides the default component logger.
func WithLogger(logger logging.Logger) Option {
	return func(sch *Scheduler) { sch.logger = logging.OrNop(logger) }
}

// New builds a Scheduler and starts its dispatch loop, ticking at
// interval.
func New(queue *task.Queue, agents *agent.Registry, lb *balancer.Balancer, disp *dispatcher.Dispatcher, interval time.Duration, opts ...Option) *Scheduler {
	s := &Scheduler{
		queue:      queue,
		agents:     agents,
		balancer:   lb,
		dispatcher: disp,
		strategy:   balancer.StrategyAdaptive,
		maxLoad:    1.0,
		logger:     logging.NewComponentLogger("scheduler"),
	}
	for _, opt := range opts {
		opt(s)
	}

	if interval <= 0 {
		interval = DefaultInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	async.Every(ctx, interval, panicAdapter{s.logger}, "scheduler-dispatch", s.RunOnce)

	return s
}

type panicAdapter struct{ logging.Logger }

func (p panicAdapter) Error(format string, args ...any) { p.Logger.Error(format, args...) }

// Close stops the dispatch loop.
func (s *Scheduler) Close() {
	if s.cancel != nil {
		s.cancel()
	}
}

// RunOnce drains every task currently ready in the queue. It is the
// loop's tick body and is also exported so tests (and a caller that
// wants synchronous draining, e.g. right after Coordinator.Submit) can
// invoke it deterministically without waiting on the ticker.
func (s *Scheduler) RunOnce() {
	for {
		t, ok := s.queue.Dequeue()
		if !ok {
			return
		}
		s.dispatchOne(t)
	}
}

func (s *Scheduler) dispatchOne(t task.Task) {
	payload, _ := t.Payload.(map[string]any)
	category, _ := payload["category"].(string)

	var eligible []agent.Record
	if category != "" {
		eligible = s.agents.FindByCapability([]string{category}, false)
	}
	if len(eligible) == 0 {
		eligible = s.agents.FindAvailable(s.maxLoad)
	}
	if len(eligible) == 0 {
		s.logger.Warn("no available agent for task %q, failing", t.ID)
		s.failTask(t.ID, fmt.Errorf("scheduler: no available agent for task %q", t.ID))
		return
	}

	agentID, ok := s.balancer.Select(s.strategy, balancer.TaskRequirements{Capabilities: []string{category}}, eligible)
	if !ok {
		s.failTask(t.ID, fmt.Errorf("scheduler: balancer selected no agent for task %q", t.ID))
		return
	}

	s.agents.AdjustLoad(agentID, 1)
	start := time.Now()
	execErr := s.execute(payload)
	duration := time.Since(start)
	s.agents.AdjustLoad(agentID, -1)
	s.agents.RecordOutcome(agentID, execErr == nil, duration)

	if execErr != nil {
		s.logger.Warn("task %q failed on agent %q: %v", t.ID, agentID, execErr)
		s.failTask(t.ID, execErr)
		return
	}
	if err := s.queue.Acknowledge(t.ID); err != nil {
		s.logger.Error("failed to acknowledge task %q: %v", t.ID, err)
	}
}

// execute re-enters the Dispatcher when the task's payload names a
// concrete tool call. Tasks submitted by the Coordinator's free-form
// decomposition (spec.md §4.10) carry only a capability category, not
// a resolved tool binding — resolving free text to a concrete Lark API
// call is outside the core's scope (spec.md §1), so those tasks
// complete on agent assignment alone. Tasks submitted through
// Coordinator.SubmitWorkflow carry an explicit tool name and
// arguments and do re-enter the Dispatcher here.
func (s *Scheduler) execute(payload map[string]any) error {
	toolName, _ := payload["tool"].(string)
	if toolName == "" {
		return nil
	}
	args, _ := payload["arguments"].(map[string]any)
	_, callErr := s.dispatcher.Call(context.Background(), toolName, args, dispatcher.CallOptions{})
	if callErr != nil {
		return callErr
	}
	return nil
}

func (s *Scheduler) failTask(id string, cause error) {
	if err := s.queue.Fail(id, cause); err != nil {
		s.logger.Error("failed to record failure for task %q: %v", id, err)
	}
}
