// Package agent implements the Agent Registry: an in-memory map of
// agent id to record, with capability and availability queries and an
// offline-marking heartbeat sweep. Grounded on the teacher's
// internal/infra/mcp/registry.go Registry shape (mutex-guarded map,
// functional options, async.Go-driven background monitor).
package agent

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/larkmcp/corekit/internal/async"
	"github.com/larkmcp/corekit/internal/logging"
)

// Status is an agent's availability state.
type Status string

const (
	StatusOnline  Status = "online"
	StatusBusy    Status = "busy"
	StatusOffline Status = "offline"
)

// Record is one agent's registered state.
type Record struct {
	ID                 string
	Capabilities       []string
	MaxConcurrentTasks int
	CurrentTasks       int
	Status             Status
	LastHeartbeat      time.Time
	RegisteredAt       time.Time

	SuccessCount  int64
	FailureCount  int64
	TotalDuration time.Duration
}

func (r Record) capabilitySet() map[string]bool {
	set := make(map[string]bool, len(r.Capabilities))
	for _, c := range r.Capabilities {
		set[c] = true
	}
	return set
}

// Load is the agent's current utilization, in [0, 1] for a
// well-formed MaxConcurrentTasks.
func (r Record) Load() float64 {
	if r.MaxConcurrentTasks <= 0 {
		return 1
	}
	return float64(r.CurrentTasks) / float64(r.MaxConcurrentTasks)
}

// SuccessRate is the fraction of completed tasks that succeeded,
// defaulting to a neutral 1.0 when nothing has completed yet.
func (r Record) SuccessRate() float64 {
	total := r.SuccessCount + r.FailureCount
	if total == 0 {
		return 1
	}
	return float64(r.SuccessCount) / float64(total)
}

// AverageDuration is the mean duration across completed tasks.
func (r Record) AverageDuration() time.Duration {
	total := r.SuccessCount + r.FailureCount
	if total == 0 {
		return 0
	}
	return r.TotalDuration / time.Duration(total)
}

// Registry is the in-memory agent directory, per spec.md §4.6.
type Registry struct {
	mu               sync.RWMutex
	agents           map[string]*Record
	heartbeatTimeout time.Duration
	logger           logging.Logger
	cancel           context.CancelFunc
}

// Option customizes a Registry at construction.
type Option func(*Registry)

// WithLogger overrides the default component logger.
func WithLogger(logger logging.Logger) Option {
	return func(r *Registry) { r.logger = logging.OrNop(logger) }
}

// WithHeartbeatTimeout overrides the default 90s offline threshold.
func WithHeartbeatTimeout(d time.Duration) Option {
	return func(r *Registry) { r.heartbeatTimeout = d }
}

// NewRegistry builds a Registry and starts its offline-marking sweep,
// ticking once per heartbeat timeout window.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		agents:           make(map[string]*Record),
		heartbeatTimeout: 90 * time.Second,
		logger:           logging.NewComponentLogger("agent-registry"),
	}
	for _, opt := range opts {
		opt(r)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	async.Every(ctx, r.heartbeatTimeout, panicAdapter{r.logger}, "agent-heartbeat-sweep", r.sweepOffline)

	return r
}

type panicAdapter struct{ logging.Logger }

func (p panicAdapter) Error(format string, args ...any) { p.Logger.Error(format, args...) }

// Close stops the background offline sweep.
func (r *Registry) Close() {
	if r.cancel != nil {
		r.cancel()
	}
}

// Register adds or replaces an agent record.
func (r *Registry) Register(id string, capabilities []string, maxConcurrentTasks int) error {
	if id == "" {
		return fmt.Errorf("agent: id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	r.agents[id] = &Record{
		ID:                 id,
		Capabilities:       append([]string{}, capabilities...),
		MaxConcurrentTasks: maxConcurrentTasks,
		Status:             StatusOnline,
		LastHeartbeat:      now,
		RegisteredAt:       now,
	}
	r.logger.Info("registered agent %q with capabilities %v", id, capabilities)
	return nil
}

// Unregister removes an agent entirely.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.agents, id)
	r.logger.Info("unregistered agent %q", id)
}

// Heartbeat refreshes an agent's last-seen timestamp and brings it
// back online if it had been marked offline.
func (r *Registry) Heartbeat(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.agents[id]
	if !ok {
		return fmt.Errorf("agent: unknown agent %q", id)
	}
	rec.LastHeartbeat = time.Now()
	if rec.Status == StatusOffline {
		rec.Status = StatusOnline
		r.logger.Info("agent %q back online", id)
	}
	return nil
}

// RecordOutcome updates an agent's completion statistics, consulted by
// the adaptive load-balancer strategy.
func (r *Registry) RecordOutcome(id string, success bool, duration time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.agents[id]
	if !ok {
		return
	}
	if success {
		rec.SuccessCount++
	} else {
		rec.FailureCount++
	}
	rec.TotalDuration += duration
}

// AdjustLoad changes an agent's CurrentTasks count by delta, clamped
// to zero, used when a task is assigned or released.
func (r *Registry) AdjustLoad(id string, delta int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.agents[id]
	if !ok {
		return
	}
	rec.CurrentTasks += delta
	if rec.CurrentTasks < 0 {
		rec.CurrentTasks = 0
	}
	if rec.CurrentTasks >= rec.MaxConcurrentTasks && rec.MaxConcurrentTasks > 0 {
		rec.Status = StatusBusy
	} else if rec.Status == StatusBusy {
		rec.Status = StatusOnline
	}
}

// Get returns a snapshot of one agent's record.
func (r *Registry) Get(id string) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.agents[id]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// FindByCapability returns agents covering capNames. requireAll means
// an agent must have every named capability; otherwise any overlap
// qualifies.
func (r *Registry) FindByCapability(capNames []string, requireAll bool) []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Record
	for _, rec := range r.agents {
		if rec.Status == StatusOffline {
			continue
		}
		set := rec.capabilitySet()
		if requireAll {
			if hasAll(set, capNames) {
				out = append(out, *rec)
			}
			continue
		}
		if hasAny(set, capNames) {
			out = append(out, *rec)
		}
	}
	sortByID(out)
	return out
}

// FindAvailable returns online/busy agents whose current load is at
// or below maxLoad, excluding offline agents.
func (r *Registry) FindAvailable(maxLoad float64) []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Record
	for _, rec := range r.agents {
		if rec.Status == StatusOffline {
			continue
		}
		if rec.Load() <= maxLoad {
			out = append(out, *rec)
		}
	}
	sortByID(out)
	return out
}

// ListStats returns every known agent's record, sorted by id.
func (r *Registry) ListStats() []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Record, 0, len(r.agents))
	for _, rec := range r.agents {
		out = append(out, *rec)
	}
	sortByID(out)
	return out
}

func (r *Registry) sweepOffline() {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	marked := 0
	for _, rec := range r.agents {
		if rec.Status != StatusOffline && now.Sub(rec.LastHeartbeat) > r.heartbeatTimeout {
			rec.Status = StatusOffline
			marked++
		}
	}
	if marked > 0 {
		r.logger.Warn("marked %d agents offline on heartbeat sweep", marked)
	}
}

func hasAll(set map[string]bool, required []string) bool {
	for _, c := range required {
		if !set[c] {
			return false
		}
	}
	return true
}

func hasAny(set map[string]bool, required []string) bool {
	if len(required) == 0 {
		return true
	}
	for _, c := range required {
		if set[c] {
			return true
		}
	}
	return false
}

func sortByID(records []Record) {
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
}
