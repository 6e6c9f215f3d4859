// Package balancer implements the load balancer's agent-selection
// strategies: round-robin, least-loaded, capability-weighted, and
// adaptive scoring, per spec.md §4.8. Grounded in idiom on the
// teacher's mutex-guarded, functional-option component shape.
package balancer

import (
	"sort"
	"sync"

	"github.com/larkmcp/corekit/internal/agent"
)

// Strategy names a selection algorithm.
type Strategy string

const (
	StrategyRoundRobin         Strategy = "round-robin"
	StrategyLeastLoaded        Strategy = "least-loaded"
	StrategyCapabilityWeighted Strategy = "capability-weighted"
	StrategyAdaptive           Strategy = "adaptive"
)

// Weights parameterizes the adaptive scoring function:
// w1*(1-load) + w2*successRate + w3*(1/avgDuration) - w4*recentFailures.
// recentFailures is the agent's lifetime FailureCount; failures are not
// limited to a recent time window.
type Weights struct {
	Load            float64
	SuccessRate     float64
	InverseDuration float64
	RecentFailures  float64
}

// DefaultWeights gives load and success rate the dominant influence.
func DefaultWeights() Weights {
	return Weights{Load: 0.4, SuccessRate: 0.3, InverseDuration: 0.2, RecentFailures: 0.1}
}

// Balancer selects an agent for a ready task among those eligible.
type Balancer struct {
	mu            sync.Mutex
	roundRobinPos int
	weights       Weights
}

// Option customizes a Balancer at construction.
type Option func(*Balancer)

// WithWeights overrides the adaptive scoring weights.
func WithWeights(w Weights) Option {
	return func(b *Balancer) { b.weights = w }
}

// New builds a Balancer.
func New(opts ...Option) *Balancer {
	b := &Balancer{weights: DefaultWeights()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// TaskRequirements describes what a ready task needs from an agent.
type TaskRequirements struct {
	Capabilities []string
}

// Select picks one eligible agent's id using strategy. Ties are always
// broken by the lexicographically smallest agent id. Returns ok=false
// if eligible is empty.
func (b *Balancer) Select(strategy Strategy, req TaskRequirements, eligible []agent.Record) (string, bool) {
	if len(eligible) == 0 {
		return "", false
	}

	sorted := append([]agent.Record{}, eligible...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	switch strategy {
	case StrategyLeastLoaded:
		return b.selectLeastLoaded(sorted), true
	case StrategyCapabilityWeighted:
		return b.selectCapabilityWeighted(sorted, req), true
	case StrategyAdaptive:
		return b.selectAdaptive(sorted), true
	default:
		return b.selectRoundRobin(sorted), true
	}
}

func (b *Balancer) selectRoundRobin(sorted []agent.Record) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	idx := b.roundRobinPos % len(sorted)
	b.roundRobinPos++
	return sorted[idx].ID
}

func (b *Balancer) selectLeastLoaded(sorted []agent.Record) string {
	best := sorted[0]
	for _, rec := range sorted[1:] {
		if rec.Load() < best.Load() {
			best = rec
		}
	}
	return best.ID
}

func (b *Balancer) selectCapabilityWeighted(sorted []agent.Record, req TaskRequirements) string {
	required := make(map[string]bool, len(req.Capabilities))
	for _, c := range req.Capabilities {
		required[c] = true
	}

	best := sorted[0]
	bestOverlap := -1
	for _, rec := range sorted {
		overlap := 0
		for _, c := range rec.Capabilities {
			if required[c] {
				overlap++
			}
		}
		if overlap > bestOverlap {
			bestOverlap = overlap
			best = rec
		}
	}
	return best.ID
}

func (b *Balancer) selectAdaptive(sorted []agent.Record) string {
	b.mu.Lock()
	w := b.weights
	b.mu.Unlock()

	best := sorted[0]
	bestScore := adaptiveScore(best, w)
	for _, rec := range sorted[1:] {
		score := adaptiveScore(rec, w)
		if score > bestScore {
			bestScore = score
			best = rec
		}
	}
	return best.ID
}

func adaptiveScore(rec agent.Record, w Weights) float64 {
	inverseDuration := 0.0
	if avg := rec.AverageDuration(); avg > 0 {
		inverseDuration = 1.0 / avg.Seconds()
	}
	recentFailures := float64(rec.FailureCount)

	return w.Load*(1-rec.Load()) +
		w.SuccessRate*rec.SuccessRate() +
		w.InverseDuration*inverseDuration -
		w.RecentFailures*recentFailures
}
