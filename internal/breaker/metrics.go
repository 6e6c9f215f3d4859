package breaker

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// metrics holds the per-breaker Prometheus collectors, registered
// against whatever registry the owning Core was built with.
type metrics struct {
	state        prometheus.Gauge
	callsTotal   *prometheus.CounterVec
	callDuration prometheus.Histogram
}

func newMetrics(reg prometheus.Registerer, toolName string) *metrics {
	if reg == nil {
		return nil
	}
	m := &metrics{
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "larkmcp",
			Subsystem:   "breaker",
			Name:        "state",
			Help:        "circuit breaker state: 0=closed 1=open 2=half_open",
			ConstLabels: prometheus.Labels{"tool": toolName},
		}),
		callsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "larkmcp",
			Subsystem:   "breaker",
			Name:        "calls_total",
			Help:        "calls observed by the breaker, labeled by outcome",
			ConstLabels: prometheus.Labels{"tool": toolName},
		}, []string{"outcome"}),
		callDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "larkmcp",
			Subsystem:   "breaker",
			Name:        "call_duration_seconds",
			Help:        "duration of calls observed by the breaker",
			ConstLabels: prometheus.Labels{"tool": toolName},
			Buckets:     prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(m.state, m.callsTotal, m.callDuration)
	return m
}

func (m *metrics) setState(s State) {
	m.state.Set(float64(s))
}

func (m *metrics) observe(failed, slow bool, elapsed time.Duration) {
	outcome := "success"
	if failed {
		outcome = "failure"
	} else if slow {
		outcome = "slow"
	}
	m.callsTotal.WithLabelValues(outcome).Inc()
	m.callDuration.Observe(elapsed.Seconds())
}
