package cache

import "github.com/prometheus/client_golang/prometheus"

type metrics struct {
	hits   *prometheus.CounterVec
	misses *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	if reg == nil {
		return nil
	}
	m := &metrics{
		hits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "larkmcp",
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "cache hits per category",
		}, []string{"category"}),
		misses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "larkmcp",
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "cache misses per category",
		}, []string{"category"}),
	}
	reg.MustRegister(m.hits, m.misses)
	return m
}
