package ratelimit

import "github.com/prometheus/client_golang/prometheus"

type metrics struct {
	requests  *prometheus.CounterVec
	throttled *prometheus.CounterVec
	waitSecs  *prometheus.HistogramVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	if reg == nil {
		return nil
	}
	m := &metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "larkmcp",
			Subsystem: "ratelimit",
			Name:      "requests_total",
			Help:      "admission attempts per tier",
		}, []string{"tier"}),
		throttled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "larkmcp",
			Subsystem: "ratelimit",
			Name:      "throttled_total",
			Help:      "admission attempts refused per tier",
		}, []string{"tier"}),
		waitSecs: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "larkmcp",
			Subsystem: "ratelimit",
			Name:      "wait_seconds",
			Help:      "time spent suspended waiting for tokens",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tier"}),
	}
	reg.MustRegister(m.requests, m.throttled, m.waitSecs)
	return m
}

func (m *metrics) observe(tier string, r Result) {
	m.requests.WithLabelValues(tier).Inc()
	if !r.Granted {
		m.throttled.WithLabelValues(tier).Inc()
	}
	if r.Waited > 0 {
		m.waitSecs.WithLabelValues(tier).Observe(r.Waited.Seconds())
	}
}
