package breaker

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/larkmcp/corekit/internal/config"
	"github.com/larkmcp/corekit/internal/logging"
)

// Manager lazily creates and caches a Breaker per tool name, grounded
// on the teacher's CircuitBreakerManager double-checked-locking Get.
type Manager struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker

	defaultConfig Config
	perTool       map[string]Config
	registry      prometheus.Registerer
	logger        logging.Logger
}

// NewManager builds a Manager from the resolved circuit breaker
// configuration, per spec.md §6.2.
func NewManager(cfg config.CircuitBreakerConfig, registry prometheus.Registerer) *Manager {
	perTool := make(map[string]Config, len(cfg.PerTool))
	for name, bc := range cfg.PerTool {
		perTool[name] = fromConfig(bc)
	}
	return &Manager{
		breakers:      make(map[string]*Breaker),
		defaultConfig: fromConfig(cfg.Default),
		perTool:       perTool,
		registry:      registry,
		logger:        logging.NewComponentLogger("breaker-manager"),
	}
}

func fromConfig(bc config.BreakerConfig) Config {
	c := DefaultConfig()
	if bc.FailureThreshold > 0 {
		c.FailureThreshold = bc.FailureThreshold
	}
	if bc.SuccessThreshold > 0 {
		c.SuccessThreshold = bc.SuccessThreshold
	}
	if bc.TimeoutMs > 0 {
		c.Timeout = time.Duration(bc.TimeoutMs) * time.Millisecond
	}
	if bc.VolumeThreshold > 0 {
		c.VolumeThreshold = bc.VolumeThreshold
	}
	if bc.ErrorRateThreshold > 0 {
		c.ErrorRateThreshold = bc.ErrorRateThreshold
	}
	if bc.SlowCallDurationMs > 0 {
		c.SlowCallDuration = time.Duration(bc.SlowCallDurationMs) * time.Millisecond
	}
	if bc.SlowCallRateThreshold > 0 {
		c.SlowCallRateThreshold = bc.SlowCallRateThreshold
	}
	return c
}

// Get returns the breaker for name, creating it on first use with the
// per-tool override (if configured) or the default config.
func (m *Manager) Get(name string) *Breaker {
	m.mu.RLock()
	if b, ok := m.breakers[name]; ok {
		m.mu.RUnlock()
		return b
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.breakers[name]; ok {
		return b
	}

	cfg := m.defaultConfig
	if override, ok := m.perTool[name]; ok {
		cfg = override
	}

	opts := []Option{}
	if m.registry != nil {
		opts = append(opts, WithMetrics(m.registry, name))
	}
	b := New(name, cfg, opts...)
	m.breakers[name] = b
	m.logger.Debug("created circuit breaker for %q", name)
	return b
}

// Snapshots enumerates all breakers created so far, for operator
// inspection endpoints (admin.breakers.list).
func (m *Manager) Snapshots() []Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Snapshot, 0, len(m.breakers))
	for _, b := range m.breakers {
		out = append(out, b.Snapshot())
	}
	return out
}

// ResetAll resets every known breaker to CLOSED.
func (m *Manager) ResetAll() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, b := range m.breakers {
		b.Reset()
	}
	m.logger.Info("reset all circuit breakers")
}
