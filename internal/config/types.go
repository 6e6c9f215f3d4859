// Package config loads and layers the core's runtime configuration:
// compiled-in defaults, an optional YAML file, environment variables,
// and explicit overrides, in that precedence order. Grounded on the
// teacher's internal/config/load.go layered-loader shape and its
// ValueSource provenance tracking.
package config

import "time"

// ValueSource describes where a configuration value originated.
type ValueSource string

const (
	SourceDefault  ValueSource = "default"
	SourceFile     ValueSource = "file"
	SourceEnv      ValueSource = "environment"
	SourceOverride ValueSource = "override"
)

// Default tier capacities, per spec.md §6.2 "illustrative" table.
const (
	DefaultTierCapacity    = 100
	DefaultTierRefill      = 50
	DefaultTierIntervalMs  = 60_000
	DefaultReadCapacity    = 200
	DefaultReadRefill      = 100
	DefaultWriteCapacity   = 20
	DefaultWriteRefill     = 10
	DefaultAdminCapacity   = 5
	DefaultAdminRefill     = 2
	DefaultCacheMaxEntries = 10_000
)

// Default per-category cache TTLs, per spec.md §6.2.
var DefaultCategoryTTL = map[string]time.Duration{
	"UserInfo":     30 * time.Minute,
	"ChatInfo":     15 * time.Minute,
	"Departments":  60 * time.Minute,
	"AppTokens":    110 * time.Minute,
	"UserTokens":   110 * time.Minute,
	"BaseMetadata": 20 * time.Minute,
	"APIResponse":  5 * time.Minute,
	"CalendarData": 2 * time.Minute,
}

// TierConfig is one token-bucket tier's configuration.
type TierConfig struct {
	Capacity     int   `yaml:"capacity" json:"capacity"`
	RefillTokens int   `yaml:"refill_tokens" json:"refill_tokens"`
	IntervalMs   int64 `yaml:"interval_ms" json:"interval_ms"`
}

// RateLimitingConfig configures the rate limiter's tiers.
type RateLimitingConfig struct {
	Enabled bool                  `yaml:"enabled" json:"enabled"`
	Tiers   map[string]TierConfig `yaml:"tiers" json:"tiers"`
}

// CacheConfig configures the cache manager.
type CacheConfig struct {
	MaxEntries       int              `yaml:"max_entries" json:"max_entries"`
	DefaultTTLMs     int64            `yaml:"default_ttl_ms" json:"default_ttl_ms"`
	PerCategoryTTLMs map[string]int64 `yaml:"per_category_ttl_ms" json:"per_category_ttl_ms"`
}

// BreakerConfig configures one circuit breaker (the default, or a
// per-tool override).
type BreakerConfig struct {
	FailureThreshold      int     `yaml:"failure_threshold" json:"failure_threshold"`
	SuccessThreshold      int     `yaml:"success_threshold" json:"success_threshold"`
	TimeoutMs             int64   `yaml:"timeout_ms" json:"timeout_ms"`
	VolumeThreshold       int     `yaml:"volume_threshold" json:"volume_threshold"`
	ErrorRateThreshold    float64 `yaml:"error_rate_threshold" json:"error_rate_threshold"`
	SlowCallDurationMs    int64   `yaml:"slow_call_duration_ms" json:"slow_call_duration_ms"`
	SlowCallRateThreshold float64 `yaml:"slow_call_rate_threshold" json:"slow_call_rate_threshold"`
}

// CircuitBreakerConfig configures the default breaker plus per-tool
// overrides, per spec.md §6.2.
type CircuitBreakerConfig struct {
	Default BreakerConfig            `yaml:"default" json:"default"`
	PerTool map[string]BreakerConfig `yaml:"per_tool" json:"per_tool"`
}

// ToolsFilterConfig is the ordered selector list plus exclusions for
// the Tool Registry's active-set filter, per spec.md §4.1.
type ToolsFilterConfig struct {
	Include []string `yaml:"include" json:"include"`
	Exclude []string `yaml:"exclude" json:"exclude"`
}

// RuntimeConfig is the fully-resolved configuration consumed by the
// Core holder.
type RuntimeConfig struct {
	AppID           string `yaml:"app_id" json:"app_id"`
	AppSecret       string `yaml:"app_secret" json:"app_secret"`
	UserAccessToken string `yaml:"user_access_token" json:"user_access_token"`
	Domain          string `yaml:"domain" json:"domain"`

	Tools ToolsFilterConfig `yaml:"tools" json:"tools"`

	RateLimiting   RateLimitingConfig   `yaml:"rate_limiting" json:"rate_limiting"`
	Cache          CacheConfig          `yaml:"cache" json:"cache"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker" json:"circuit_breaker"`

	TokenMode string `yaml:"token_mode" json:"token_mode"` // auto|tenant|user

	LogLevel  string `yaml:"log_level" json:"log_level"`
	LogFormat string `yaml:"log_format" json:"log_format"`
}

// Metadata records, per field name, which layer contributed the
// effective value. Field names match the yaml tags above.
type Metadata struct {
	sources  map[string]ValueSource
	loadedAt time.Time
}

// Source returns the provenance of a field, or SourceDefault if unknown.
func (m Metadata) Source(field string) ValueSource {
	if m.sources == nil {
		return SourceDefault
	}
	if src, ok := m.sources[field]; ok {
		return src
	}
	return SourceDefault
}

// LoadedAt returns when this configuration snapshot was built.
func (m Metadata) LoadedAt() time.Time { return m.loadedAt }
