package config

func defaultRuntimeConfig() RuntimeConfig {
	perCategory := make(map[string]int64, len(DefaultCategoryTTL))
	for category, ttl := range DefaultCategoryTTL {
		perCategory[category] = ttl.Milliseconds()
	}

	return RuntimeConfig{
		Domain:    "https://open.feishu.cn",
		TokenMode: "auto",
		LogLevel:  "info",
		LogFormat: "text",
		Tools: ToolsFilterConfig{
			Include: []string{"*"},
		},
		RateLimiting: RateLimitingConfig{
			Enabled: true,
			Tiers: map[string]TierConfig{
				"default": {Capacity: DefaultTierCapacity, RefillTokens: DefaultTierRefill, IntervalMs: DefaultTierIntervalMs},
				"read":    {Capacity: DefaultReadCapacity, RefillTokens: DefaultReadRefill, IntervalMs: DefaultTierIntervalMs},
				"write":   {Capacity: DefaultWriteCapacity, RefillTokens: DefaultWriteRefill, IntervalMs: DefaultTierIntervalMs},
				"admin":   {Capacity: DefaultAdminCapacity, RefillTokens: DefaultAdminRefill, IntervalMs: DefaultTierIntervalMs},
			},
		},
		Cache: CacheConfig{
			MaxEntries:       DefaultCacheMaxEntries,
			DefaultTTLMs:     DefaultCategoryTTL["APIResponse"].Milliseconds(),
			PerCategoryTTLMs: perCategory,
		},
		CircuitBreaker: CircuitBreakerConfig{
			Default: BreakerConfig{
				FailureThreshold:      5,
				SuccessThreshold:      2,
				TimeoutMs:             30_000,
				VolumeThreshold:       10,
				ErrorRateThreshold:    0.5,
				SlowCallDurationMs:    5_000,
				SlowCallRateThreshold: 0.5,
			},
			PerTool: map[string]BreakerConfig{},
		},
	}
}
