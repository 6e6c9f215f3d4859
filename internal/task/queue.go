package task

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/larkmcp/corekit/internal/async"
	corekiterrors "github.com/larkmcp/corekit/internal/errors"
	"github.com/larkmcp/corekit/internal/logging"
)

type delayedEntry struct {
	task    *Task
	readyAt time.Time
}

// Queue is the priority task queue described in spec.md §4.7.
type Queue struct {
	mu sync.Mutex

	ready      readyHeap
	byID       map[string]*Task
	pending    map[string]map[string]bool // taskID -> unmet dependency ids
	dependents map[string][]string        // depID -> dependent task ids
	delayed    []*delayedEntry

	retryConfig corekiterrors.RetryConfig
	listeners   []Listener
	logger      logging.Logger
	cancel      context.CancelFunc
}

// Option customizes a Queue at construction.
type Option func(*Queue)

// WithLogger overrides the default component logger.
func WithLogger(logger logging.Logger) Option {
	return func(q *Queue) { q.logger = logging.OrNop(logger) }
}

// WithRetryConfig overrides the default exponential backoff schedule.
func WithRetryConfig(cfg corekiterrors.RetryConfig) Option {
	return func(q *Queue) { q.retryConfig = cfg }
}

// WithListener registers an event subscriber.
func WithListener(l Listener) Option {
	return func(q *Queue) { q.listeners = append(q.listeners, l) }
}

// NewQueue builds an empty Queue and starts its delayed-retry promotion
// tick.
func NewQueue(opts ...Option) *Queue {
	q := &Queue{
		byID:        make(map[string]*Task),
		pending:     make(map[string]map[string]bool),
		dependents:  make(map[string][]string),
		retryConfig: corekiterrors.DefaultRetryConfig(),
		logger:      logging.NewComponentLogger("task-queue"),
	}
	for _, opt := range opts {
		opt(q)
	}

	ctx, cancel := context.WithCancel(context.Background())
	q.cancel = cancel
	async.Every(ctx, 250*time.Millisecond, panicAdapter{q.logger}, "task-retry-promotion", q.promoteDue)

	return q
}

type panicAdapter struct{ logging.Logger }

func (p panicAdapter) Error(format string, args ...any) { p.Logger.Error(format, args...) }

// Close stops the background delayed-retry promotion tick.
func (q *Queue) Close() {
	if q.cancel != nil {
		q.cancel()
	}
}

func (q *Queue) emit(kind EventKind, t *Task) {
	if len(q.listeners) == 0 {
		return
	}
	evt := Event{Kind: kind, TaskID: t.ID, Task: t.Clone(), At: time.Now()}
	for _, l := range q.listeners {
		l(evt)
	}
}

// Enqueue submits a new task. If id is empty, one is generated. Tasks
// with unmet dependencies enter the pending pool instead of the ready
// heap.
func (q *Queue) Enqueue(id string, priority Priority, dependencies []string, maxRetries int, payload any) (string, error) {
	if id == "" {
		id = uuid.NewString()
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.byID[id]; exists {
		return "", fmt.Errorf("task: id %q already exists", id)
	}

	t := &Task{
		ID:           id,
		Priority:     priority,
		Dependencies: append([]string{}, dependencies...),
		MaxRetries:   maxRetries,
		QueuedAt:     time.Now(),
	}
	q.byID[id] = t

	unmet := map[string]bool{}
	for _, dep := range t.Dependencies {
		depTask, ok := q.byID[dep]
		if !ok || depTask.Status != StatusCompleted {
			unmet[dep] = true
			q.dependents[dep] = append(q.dependents[dep], id)
		}
	}

	if len(unmet) > 0 {
		t.Status = StatusPending
		q.pending[id] = unmet
	} else {
		t.Status = StatusQueued
		heap.Push(&q.ready, t)
	}

	q.emit(EventEnqueued, t)
	return id, nil
}

// Dequeue pops the highest-priority ready task, or (Task{}, false) if
// the queue is empty. Dependency readiness is guaranteed by
// construction: the ready heap never holds a task with unmet
// dependencies.
func (q *Queue) Dequeue() (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.ready.Len() == 0 {
		return Task{}, false
	}
	t := heap.Pop(&q.ready).(*Task)
	t.Status = StatusRunning
	q.emit(EventStarted, t)
	return t.Clone(), true
}

// Acknowledge marks a task completed and promotes any dependents whose
// last unmet dependency was this one.
func (q *Queue) Acknowledge(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.byID[id]
	if !ok {
		return fmt.Errorf("task: unknown task %q", id)
	}
	t.Status = StatusCompleted
	q.emit(EventCompleted, t)
	q.promoteDependentsLocked(id)
	return nil
}

// Fail records a terminal or retryable failure. If attempts remain
// under MaxRetries, the task is retried with exponential backoff;
// otherwise it fails terminally and its dependents cascade.
func (q *Queue) Fail(id string, cause error) error {
	q.mu.Lock()
	t, ok := q.byID[id]
	if !ok {
		q.mu.Unlock()
		return fmt.Errorf("task: unknown task %q", id)
	}
	t.Attempts++
	if cause != nil {
		t.LastError = cause.Error()
	}

	if t.Attempts <= t.MaxRetries {
		delay := corekiterrors.Backoff(t.Attempts-1, q.retryConfig)
		t.Status = StatusQueued
		t.QueuedAt = time.Now().Add(delay)
		q.delayed = append(q.delayed, &delayedEntry{task: t, readyAt: t.QueuedAt})
		q.emit(EventRetried, t)
		q.mu.Unlock()
		return nil
	}

	t.Status = StatusFailed
	t.FailureReason = ReasonExecutionFailed
	q.emit(EventFailed, t)
	q.cascadeFailureLocked(id, ReasonDependencyCancelled)
	q.mu.Unlock()
	return nil
}

// Retry force-reinserts a queued task with an explicit delay,
// independent of the automatic retry-on-failure path.
func (q *Queue) Retry(id string, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.byID[id]
	if !ok {
		return fmt.Errorf("task: unknown task %q", id)
	}
	t.Attempts++
	t.Status = StatusQueued
	t.QueuedAt = time.Now().Add(delay)
	q.delayed = append(q.delayed, &delayedEntry{task: t, readyAt: t.QueuedAt})
	q.emit(EventRetried, t)
	return nil
}

// UpdatePriority changes a still-queued task's priority and re-heapifies.
func (q *Queue) UpdatePriority(id string, newPriority Priority) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.byID[id]
	if !ok {
		return fmt.Errorf("task: unknown task %q", id)
	}
	if t.Status != StatusQueued || t.heapIndex < 0 {
		return fmt.Errorf("task: %q is not in the ready queue", id)
	}
	t.Priority = newPriority
	heap.Fix(&q.ready, t.heapIndex)
	return nil
}

// Cancel marks a task cancelled and cascades DependencyCancelled
// failure to every dependent, per spec.md §4.7.
func (q *Queue) Cancel(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.byID[id]
	if !ok {
		return fmt.Errorf("task: unknown task %q", id)
	}
	if t.Status == StatusQueued && t.heapIndex >= 0 {
		heap.Remove(&q.ready, t.heapIndex)
	}
	delete(q.pending, id)
	t.Status = StatusCancelled
	q.emit(EventCancelled, t)
	q.cascadeFailureLocked(id, ReasonDependencyCancelled)
	return nil
}

// cascadeFailureLocked transitions every (transitive) dependent of id
// still pending or queued to failed with reason, per the cascade rule.
func (q *Queue) cascadeFailureLocked(id string, reason FailureReason) {
	queue := append([]string{}, q.dependents[id]...)
	delete(q.dependents, id)

	for len(queue) > 0 {
		depID := queue[0]
		queue = queue[1:]

		dt, ok := q.byID[depID]
		if !ok || dt.Status == StatusCompleted || dt.Status == StatusFailed || dt.Status == StatusCancelled {
			continue
		}
		if dt.Status == StatusQueued && dt.heapIndex >= 0 {
			heap.Remove(&q.ready, dt.heapIndex)
		}
		delete(q.pending, depID)
		dt.Status = StatusFailed
		dt.FailureReason = reason
		q.emit(EventFailed, dt)

		queue = append(queue, q.dependents[depID]...)
		delete(q.dependents, depID)
	}
}

// promoteDependentsLocked clears id from every dependent's unmet set
// and moves any dependent whose set is now empty into the ready heap.
func (q *Queue) promoteDependentsLocked(id string) {
	for _, depID := range q.dependents[id] {
		unmet, ok := q.pending[depID]
		if !ok {
			continue
		}
		delete(unmet, id)
		if len(unmet) == 0 {
			delete(q.pending, depID)
			dt := q.byID[depID]
			dt.Status = StatusQueued
			heap.Push(&q.ready, dt)
		}
	}
	delete(q.dependents, id)
}

// promoteDue moves delayed retries whose readyAt has elapsed into the
// ready heap.
func (q *Queue) promoteDue() {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	remaining := q.delayed[:0]
	for _, d := range q.delayed {
		if now.Before(d.readyAt) {
			remaining = append(remaining, d)
			continue
		}
		if d.task.Status == StatusQueued && d.task.heapIndex < 0 {
			heap.Push(&q.ready, d.task)
		}
	}
	q.delayed = remaining
}

// Get returns a snapshot of one task's state.
func (q *Queue) Get(id string) (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.byID[id]
	if !ok {
		return Task{}, false
	}
	return t.Clone(), true
}

// Len returns the number of immediately ready tasks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.ready.Len()
}
