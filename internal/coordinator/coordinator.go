// Package coordinator decomposes a free-form instruction into an
// ordered set of tasks by keyword/category classification, emits them
// to the task queue, and compiles a status object from the queue's
// lifecycle events. Grounded on the teacher's AgentCoordinator
// (internal/app/agent/coordinator/coordinator.go): a session-lifecycle
// owner that delegates execution to other components and tracks
// outcomes rather than running work itself, here delegating to
// internal/task instead of an LLM react loop.
package coordinator

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/larkmcp/corekit/internal/logging"
	"github.com/larkmcp/corekit/internal/task"
)

// Category classifies a decomposed instruction fragment by keyword.
type Category string

const (
	CategoryMessage  Category = "messaging"
	CategoryCalendar Category = "calendar"
	CategoryFile     Category = "file"
	CategorySearch   Category = "search"
	CategoryGeneral  Category = "general"
)

var categoryKeywords = map[Category][]string{
	CategoryMessage:  {"send", "message", "reply", "notify", "chat"},
	CategoryCalendar: {"schedule", "calendar", "meeting", "event", "invite"},
	CategoryFile:     {"file", "upload", "download", "attachment", "document"},
	CategorySearch:   {"search", "find", "lookup", "query"},
}

// classify returns the first matching category for fragment by keyword
// containment, falling back to CategoryGeneral.
func classify(fragment string) Category {
	lower := strings.ToLower(fragment)
	for _, cat := range []Category{CategoryMessage, CategoryCalendar, CategoryFile, CategorySearch} {
		for _, kw := range categoryKeywords[cat] {
			if strings.Contains(lower, kw) {
				return cat
			}
		}
	}
	return CategoryGeneral
}

// decompose splits a free-form instruction into ordered fragments.
// Sentences and semicolon-joined clauses each become one task;
// a single-clause instruction becomes one task.
func decompose(instruction string) []string {
	instruction = strings.TrimSpace(instruction)
	if instruction == "" {
		return nil
	}
	fields := strings.FieldsFunc(instruction, func(r rune) bool {
		return r == '.' || r == ';' || r == '\n'
	})
	fragments := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f != "" {
			fragments = append(fragments, f)
		}
	}
	if len(fragments) == 0 {
		return []string{instruction}
	}
	return fragments
}

// Status is the compiled view of one correlation id's decomposed run.
type Status struct {
	CorrelationID string
	TaskIDs       []string
	Statuses      map[string]task.Status
	Done          bool
}

// Coordinator owns no execution of its own: it decomposes instructions
// into tasks, submits them to the queue, and tracks their lifecycle
// via the queue's event listener mechanism. It is an agent like any
// other; nothing else depends on its internals.
type Coordinator struct {
	mu      sync.Mutex
	queue   *task.Queue
	runs    map[string]*Status // correlationID -> status
	taskRun map[string]string  // taskID -> correlationID
	logger  logging.Logger
}

// Option customizes a Coordinator at construction.
type Option func(*Coordinator)

// WithLogger overrides the default component logger.
func WithLogger(logger logging.Logger) Option {
	return func(c *Coordinator) { c.logger = logging.OrNop(logger) }
}

// New builds a Coordinator over an existing task queue, registering
// itself as a listener for task lifecycle events.
func New(queue *task.Queue, opts ...Option) *Coordinator {
	c := &Coordinator{
		queue:   queue,
		runs:    make(map[string]*Status),
		taskRun: make(map[string]string),
		logger:  logging.NewComponentLogger("coordinator"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Listener returns the task.Listener this Coordinator must be
// registered with via task.WithListener at queue construction time.
func (c *Coordinator) Listener() task.Listener {
	return c.onEvent
}

func (c *Coordinator) onEvent(evt task.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	correlationID, ok := c.taskRun[evt.TaskID]
	if !ok {
		return
	}
	status, ok := c.runs[correlationID]
	if !ok {
		return
	}
	status.Statuses[evt.TaskID] = evt.Task.Status
	status.Done = allTerminal(status)
}

func allTerminal(s *Status) bool {
	for _, st := range s.Statuses {
		switch st {
		case task.StatusCompleted, task.StatusFailed, task.StatusCancelled:
			continue
		default:
			return false
		}
	}
	return true
}

// Submit decomposes instruction into an ordered task set, enqueues
// each fragment at Medium priority with no dependencies between
// fragments (they execute independently), and returns a correlation
// id for polling via Status.
func (c *Coordinator) Submit(ctx context.Context, instruction string) (string, error) {
	fragments := decompose(instruction)
	correlationID := uuid.NewString()

	status := &Status{
		CorrelationID: correlationID,
		Statuses:      make(map[string]task.Status),
	}

	c.mu.Lock()
	c.runs[correlationID] = status
	c.mu.Unlock()

	for _, fragment := range fragments {
		cat := classify(fragment)
		taskID, err := c.queue.Enqueue("", task.PriorityMedium, nil, 0, map[string]any{
			"instruction": fragment,
			"category":    string(cat),
		})
		if err != nil {
			return "", err
		}

		c.mu.Lock()
		status.TaskIDs = append(status.TaskIDs, taskID)
		status.Statuses[taskID] = task.StatusQueued
		c.taskRun[taskID] = correlationID
		c.mu.Unlock()
	}

	c.logger.Info("submitted %d task(s) for correlation %s", len(fragments), correlationID)
	return correlationID, nil
}

// Step is one call in a multi-step workflow submitted via
// SubmitWorkflow: a concrete tool name and arguments, plus the indices
// of earlier steps in the same workflow it depends on.
type Step struct {
	ToolName  string
	Arguments map[string]any
	DependsOn []int
}

// SubmitWorkflow enqueues an ordered set of concrete tool calls as
// dependent tasks, each re-entering the Dispatcher through the
// scheduler once its dependencies complete, per spec.md §2's data
// flow: the Coordinator may synthesize multi-step workflows which
// re-enter the Dispatcher per step via the Task Queue and Load
// Balancer. Unlike Submit, which decomposes free-form text into
// capability-classified tasks with no resolved tool binding,
// SubmitWorkflow's steps name the tool directly.
func (c *Coordinator) SubmitWorkflow(ctx context.Context, steps []Step) (string, error) {
	for i, step := range steps {
		for _, idx := range step.DependsOn {
			if idx < 0 || idx >= i {
				return "", fmt.Errorf("coordinator: step %d depends on an undeclared earlier step %d", i, idx)
			}
		}
	}

	correlationID := uuid.NewString()
	status := &Status{
		CorrelationID: correlationID,
		Statuses:      make(map[string]task.Status),
	}

	c.mu.Lock()
	c.runs[correlationID] = status
	c.mu.Unlock()

	ids := make([]string, len(steps))
	for i, step := range steps {
		deps := make([]string, 0, len(step.DependsOn))
		for _, idx := range step.DependsOn {
			deps = append(deps, ids[idx])
		}

		taskID, err := c.queue.Enqueue("", task.PriorityMedium, deps, 0, map[string]any{
			"tool":      step.ToolName,
			"arguments": step.Arguments,
		})
		if err != nil {
			return "", err
		}
		ids[i] = taskID

		c.mu.Lock()
		status.TaskIDs = append(status.TaskIDs, taskID)
		status.Statuses[taskID] = task.StatusQueued
		c.taskRun[taskID] = correlationID
		c.mu.Unlock()
	}

	c.logger.Info("submitted %d-step workflow for correlation %s", len(steps), correlationID)
	return correlationID, nil
}

// Status returns a snapshot of a submitted run's compiled status.
func (c *Coordinator) Status(correlationID string) (Status, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.runs[correlationID]
	if !ok {
		return Status{}, false
	}
	clone := Status{
		CorrelationID: s.CorrelationID,
		TaskIDs:       append([]string{}, s.TaskIDs...),
		Statuses:      make(map[string]task.Status, len(s.Statuses)),
		Done:          s.Done,
	}
	for k, v := range s.Statuses {
		clone.Statuses[k] = v
	}
	return clone, true
}
