// Package cache implements the tiered cache manager: a single
// capacity-bounded LRU spanning all categories, backed by
// hashicorp/golang-lru/v2, with per-category TTLs, at-most-one-loader
// getOrFetch semantics via golang.org/x/sync/singleflight, and a
// checksummed token-cache specialization. Grounded in structural
// pattern on the teacher's internal/infra/mcp/registry.go
// double-checked-locking registries, adapted to an LRU+TTL model the
// pack otherwise leaves to library code.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"

	"github.com/larkmcp/corekit/internal/async"
	"github.com/larkmcp/corekit/internal/config"
	"github.com/larkmcp/corekit/internal/logging"
)

// Token cache categories carry checksums and are invalidated on
// mismatch instead of being treated as stale-by-TTL alone.
const (
	CategoryAppTokens  = "AppTokens"
	CategoryUserTokens = "UserTokens"
)

type entry struct {
	value        any
	expiresAt    time.Time
	checksum     string
	lastAccessed time.Time
	accessCount  int64
}

func (e *entry) expired(now time.Time) bool { return now.After(e.expiresAt) }

// Manager is the tiered cache. All categories share one bounded LRU;
// TTLs are looked up per category.
type Manager struct {
	mu          sync.Mutex
	lru         *lru.Cache[string, *entry]
	defaultTTL  time.Duration
	categoryTTL map[string]time.Duration

	group singleflight.Group

	logger  logging.Logger
	metrics *metrics

	cancel context.CancelFunc
}

// Option customizes a Manager at construction.
type Option func(*Manager)

// WithLogger overrides the default component logger.
func WithLogger(logger logging.Logger) Option {
	return func(m *Manager) { m.logger = logging.OrNop(logger) }
}

// WithMetrics registers Prometheus instrumentation against reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(m *Manager) { m.metrics = newMetrics(reg) }
}

// New builds a cache Manager from the resolved cache configuration and
// starts its 5-minute expiry sweep, per spec.md §4.5.
func New(cfg config.CacheConfig, opts ...Option) *Manager {
	backing, err := lru.New[string, *entry](maxEntries(cfg.MaxEntries))
	if err != nil {
		// lru.New only errors on a non-positive size; fall back to a
		// sane default rather than propagating a constructor error
		// through every caller.
		backing, _ = lru.New[string, *entry](1024)
	}

	categoryTTL := make(map[string]time.Duration, len(cfg.PerCategoryTTLMs))
	for category, ms := range cfg.PerCategoryTTLMs {
		categoryTTL[category] = time.Duration(ms) * time.Millisecond
	}

	m := &Manager{
		lru:         backing,
		defaultTTL:  time.Duration(cfg.DefaultTTLMs) * time.Millisecond,
		categoryTTL: categoryTTL,
		logger:      logging.NewComponentLogger("cache"),
	}
	for _, opt := range opts {
		opt(m)
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	async.Every(ctx, 5*time.Minute, loggerAdapter{m.logger}, "cache-sweep", m.sweepExpired)

	return m
}

func maxEntries(n int) int {
	if n <= 0 {
		return 10_000
	}
	return n
}

type loggerAdapter struct{ logging.Logger }

func (l loggerAdapter) Error(format string, args ...any) { l.Logger.Error(format, args...) }

// Close stops the background expiry sweep.
func (m *Manager) Close() {
	if m.cancel != nil {
		m.cancel()
	}
}

func cacheKey(category, key string) string { return category + ":" + key }

// Get returns the cached value, or (nil, false) on a miss (absent,
// expired, or checksum mismatch for token categories).
func (m *Manager) Get(category, key string) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getLocked(category, key)
}

func (m *Manager) getLocked(category, key string) (any, bool) {
	e, ok := m.lru.Get(cacheKey(category, key))
	if !ok {
		m.recordMiss(category)
		return nil, false
	}
	now := time.Now()
	if e.expired(now) {
		m.lru.Remove(cacheKey(category, key))
		m.recordMiss(category)
		return nil, false
	}
	if isTokenCategory(category) && !m.verifyChecksumLocked(category, key, e) {
		m.lru.Remove(cacheKey(category, key))
		m.recordMiss(category)
		return nil, false
	}
	e.lastAccessed = now
	e.accessCount++
	m.recordHit(category)
	return e.value, true
}

func isTokenCategory(category string) bool {
	return category == CategoryAppTokens || category == CategoryUserTokens
}

// verifyChecksumLocked recomputes the entry's checksum from its value
// and compares against what was stored at Set time.
func (m *Manager) verifyChecksumLocked(category, key string, e *entry) bool {
	return checksumOf(e.value) == e.checksum
}

func checksumOf(value any) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%v", value)))
	return hex.EncodeToString(sum[:])
}

// Set stores value under (category, key) with ttl, or the category's
// default TTL if ttl is nil.
func (m *Manager) Set(category, key string, value any, ttl *time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setLocked(category, key, value, ttl)
}

func (m *Manager) setLocked(category, key string, value any, ttl *time.Duration) {
	effectiveTTL := m.ttlFor(category, ttl)
	e := &entry{
		value:        value,
		expiresAt:    time.Now().Add(effectiveTTL),
		lastAccessed: time.Now(),
	}
	if isTokenCategory(category) {
		e.checksum = checksumOf(value)
	}
	m.lru.Add(cacheKey(category, key), e)
}

func (m *Manager) ttlFor(category string, ttl *time.Duration) time.Duration {
	if ttl != nil {
		return *ttl
	}
	if d, ok := m.categoryTTL[category]; ok {
		return d
	}
	return m.defaultTTL
}

// Loader fetches the value for (category, key) on a cache miss.
type Loader func(ctx context.Context) (any, error)

// GetOrFetch implements at-most-one-loader semantics: concurrent
// callers for the same (category, key) share a single in-flight
// loader invocation. A failed load is reported to all waiters and
// never cached.
func (m *Manager) GetOrFetch(ctx context.Context, category, key string, ttl *time.Duration, loader Loader) (any, error) {
	if value, ok := m.Get(category, key); ok {
		return value, nil
	}

	sfKey := cacheKey(category, key)
	value, err, _ := m.group.Do(sfKey, func() (any, error) {
		if value, ok := m.Get(category, key); ok {
			return value, nil
		}
		loaded, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		m.Set(category, key, loaded, ttl)
		return loaded, nil
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

// InvalidateCategory drops every entry whose key carries the given
// category prefix.
func (m *Manager) InvalidateCategory(category string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := category + ":"
	removed := 0
	for _, k := range m.lru.Keys() {
		if strings.HasPrefix(k, prefix) {
			m.lru.Remove(k)
			removed++
		}
	}
	return removed
}

// InvalidatePattern drops every entry whose "category:key" matches the
// compiled regular expression.
func (m *Manager) InvalidatePattern(pattern *regexp.Regexp) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for _, k := range m.lru.Keys() {
		if pattern.MatchString(k) {
			m.lru.Remove(k)
			removed++
		}
	}
	return removed
}

// Clear empties the cache.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lru.Purge()
}

// sweepExpired opportunistically removes expired entries, independent
// of the on-access removal in getLocked; run every 5 minutes.
func (m *Manager) sweepExpired() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	removed := 0
	for _, k := range m.lru.Keys() {
		e, ok := m.lru.Peek(k)
		if ok && e.expired(now) {
			m.lru.Remove(k)
			removed++
		}
	}
	if removed > 0 {
		m.logger.Debug("cache sweep removed %d expired entries", removed)
	}
}

func (m *Manager) recordHit(category string) {
	if m.metrics != nil {
		m.metrics.hits.WithLabelValues(category).Inc()
	}
}

func (m *Manager) recordMiss(category string) {
	if m.metrics != nil {
		m.metrics.misses.WithLabelValues(category).Inc()
	}
}

// Len returns the total number of cached entries across all categories.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lru.Len()
}
