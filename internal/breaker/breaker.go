// Package breaker implements the per-tool circuit breaker: an
// independent CLOSED/OPEN/HALF_OPEN state machine guarding calls into
// upstream tools. Grounded on the teacher's
// internal/errors/circuit_breaker.go CircuitBreaker/CircuitBreakerManager
// pair, expanded from its consecutive-failure counter to a rolling
// count-of-last-N window with volume-threshold and slow-call-rate
// detection.
package breaker

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	corekiterrors "github.com/larkmcp/corekit/internal/errors"
	"github.com/larkmcp/corekit/internal/logging"
)

// State is one of the three circuit breaker states.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// Config parameterizes one breaker's trigger thresholds, per spec.md §4.4.
type Config struct {
	FailureThreshold      int
	SuccessThreshold      int
	Timeout               time.Duration
	VolumeThreshold       int
	ErrorRateThreshold    float64
	SlowCallDuration      time.Duration
	SlowCallRateThreshold float64

	// WindowSize bounds the rolling count-of-last-N outcomes tracked for
	// error-rate and slow-call-rate computation. Zero defaults to 50,
	// resolving the rolling-window ambiguity as count-of-last-N rather
	// than time-based (see DESIGN.md).
	WindowSize int
}

// DefaultConfig mirrors the teacher's DefaultCircuitBreakerConfig,
// extended with the spec's volume/rate thresholds.
func DefaultConfig() Config {
	return Config{
		FailureThreshold:      5,
		SuccessThreshold:      2,
		Timeout:               30 * time.Second,
		VolumeThreshold:       10,
		ErrorRateThreshold:    0.5,
		SlowCallDuration:      5 * time.Second,
		SlowCallRateThreshold: 0.5,
		WindowSize:            50,
	}
}

type outcome struct {
	failed bool
	slow   bool
}

// Breaker is one tool's circuit breaker state machine.
type Breaker struct {
	name   string
	logger logging.Logger
	onTrip func(name string, from, to State)

	mu sync.Mutex

	cfg   Config
	state State

	window       []outcome
	windowHead   int
	windowFilled int

	consecutiveSuccesses int
	halfOpenInFlight     bool

	openedAt        time.Time
	lastStateChange time.Time

	forced     bool
	forcedOpen bool

	metrics *metrics
}

// Option customizes a Breaker at construction.
type Option func(*Breaker)

// WithLogger overrides the default component logger.
func WithLogger(logger logging.Logger) Option {
	return func(b *Breaker) { b.logger = logging.OrNop(logger) }
}

// WithStateChangeCallback registers a hook fired (in a goroutine, like
// the teacher's OnStateChange) on every transition.
func WithStateChangeCallback(fn func(name string, from, to State)) Option {
	return func(b *Breaker) { b.onTrip = fn }
}

// WithMetrics registers the breaker's gauges/counters into reg.
func WithMetrics(reg prometheus.Registerer, toolName string) Option {
	return func(b *Breaker) { b.metrics = newMetrics(reg, toolName) }
}

// New constructs a breaker for a single tool.
func New(name string, cfg Config, opts ...Option) *Breaker {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = 50
	}
	b := &Breaker{
		name:            name,
		cfg:             cfg,
		logger:          logging.NewComponentLogger("breaker"),
		state:           StateClosed,
		window:          make([]outcome, cfg.WindowSize),
		lastStateChange: time.Now(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name returns the tool name this breaker guards.
func (b *Breaker) Name() string { return b.name }

// Allow reports whether a call may proceed, per spec.md §4.4's
// admission rules. It performs the OPEN -> HALF_OPEN transition as a
// side effect when the timeout has elapsed.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.allowLocked()
}

func (b *Breaker) allowLocked() error {
	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if b.forcedOpen {
			return corekiterrors.CircuitOpenError(b.name, 0)
		}
		if time.Since(b.openedAt) >= b.cfg.Timeout {
			b.transitionLocked(StateHalfOpen)
			b.halfOpenInFlight = true
			return nil
		}
		retryAfter := b.cfg.Timeout - time.Since(b.openedAt)
		return corekiterrors.CircuitOpenError(b.name, retryAfter)
	case StateHalfOpen:
		if b.halfOpenInFlight {
			return corekiterrors.CircuitOpenError(b.name, 0)
		}
		b.halfOpenInFlight = true
		return nil
	default:
		return nil
	}
}

// Execute wraps fn with Allow/Mark, mirroring the teacher's
// CircuitBreaker.Execute convenience method.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.Allow(); err != nil {
		return err
	}
	start := time.Now()
	err := fn(ctx)
	b.Mark(err, time.Since(start))
	return err
}

// Mark records the outcome of an admitted call. A call counts as slow
// when elapsed is at least SlowCallDuration; Mark makes that comparison
// itself.
func (b *Breaker) Mark(err error, elapsed time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	failed := err != nil
	slow := elapsed >= b.cfg.SlowCallDuration
	b.recordLocked(failed, slow)

	if b.metrics != nil {
		b.metrics.observe(failed, slow, elapsed)
	}

	if b.forced {
		return
	}

	switch b.state {
	case StateHalfOpen:
		b.halfOpenInFlight = false
		if failed || slow {
			b.consecutiveSuccesses = 0
			b.transitionLocked(StateOpen)
			b.openedAt = time.Now()
			return
		}
		b.consecutiveSuccesses++
		if b.consecutiveSuccesses >= b.cfg.SuccessThreshold {
			b.transitionLocked(StateClosed)
			b.resetWindowLocked()
		}
	case StateClosed:
		if b.shouldTripLocked() {
			b.transitionLocked(StateOpen)
			b.openedAt = time.Now()
		}
	case StateOpen:
	}
}

func (b *Breaker) recordLocked(failed, slow bool) {
	idx := b.windowHead % len(b.window)
	b.window[idx] = outcome{failed: failed, slow: slow}
	b.windowHead++
	if b.windowFilled < len(b.window) {
		b.windowFilled++
	}
}

func (b *Breaker) resetWindowLocked() {
	b.window = make([]outcome, len(b.window))
	b.windowHead = 0
	b.windowFilled = 0
	b.consecutiveSuccesses = 0
}

// shouldTripLocked implements the CLOSED -> OPEN trigger of spec.md §4.4:
// rolling failures over the window reach FailureThreshold, or the
// window has reached VolumeThreshold and either the error rate or the
// slow-call rate clears its threshold.
func (b *Breaker) shouldTripLocked() bool {
	failures, slows := 0, 0
	for i := 0; i < b.windowFilled; i++ {
		o := b.window[i]
		if o.failed {
			failures++
		}
		if o.slow {
			slows++
		}
	}

	if failures >= b.cfg.FailureThreshold {
		return true
	}
	if b.windowFilled < b.cfg.VolumeThreshold {
		return false
	}
	errorRate := float64(failures) / float64(b.windowFilled)
	slowRate := float64(slows) / float64(b.windowFilled)
	return errorRate >= b.cfg.ErrorRateThreshold || slowRate >= b.cfg.SlowCallRateThreshold
}

func (b *Breaker) transitionLocked(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.lastStateChange = time.Now()
	if to == StateClosed {
		b.consecutiveSuccesses = 0
		b.halfOpenInFlight = false
	}
	if b.metrics != nil {
		b.metrics.setState(to)
	}
	b.logger.Info("breaker %q transitioned %s -> %s", b.name, from, to)
	if b.onTrip != nil {
		go b.onTrip(b.name, from, to)
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// ForceOpen is an operator override that holds the breaker OPEN
// regardless of observed outcomes, until ForceClosed or Reset.
func (b *Breaker) ForceOpen() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.forced = true
	b.forcedOpen = true
	b.transitionLocked(StateOpen)
	b.openedAt = time.Now().Add(24 * time.Hour)
}

// ForceClosed is an operator override that holds the breaker CLOSED.
func (b *Breaker) ForceClosed() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.forced = true
	b.forcedOpen = false
	b.transitionLocked(StateClosed)
	b.resetWindowLocked()
}

// Reset clears any forced override and returns the breaker to a fresh
// CLOSED state, matching the teacher's Reset.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.forced = false
	b.forcedOpen = false
	b.transitionLocked(StateClosed)
	b.resetWindowLocked()
}

// Snapshot reports the breaker's current observable state, for
// enumeration/inspection endpoints.
type Snapshot struct {
	Name            string
	State           State
	Failures        int
	Calls           int
	LastStateChange time.Time
	Forced          bool
}

// Snapshot returns a point-in-time view of the breaker.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	failures := 0
	for i := 0; i < b.windowFilled; i++ {
		if b.window[i].failed {
			failures++
		}
	}
	return Snapshot{
		Name:            b.name,
		State:           b.state,
		Failures:        failures,
		Calls:           b.windowFilled,
		LastStateChange: b.lastStateChange,
		Forced:          b.forced,
	}
}
