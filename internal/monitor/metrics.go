package monitor

import "github.com/prometheus/client_golang/prometheus"

type metrics struct {
	samples      *prometheus.CounterVec
	aggregateAvg *prometheus.GaugeVec
	aggregateP95 *prometheus.GaugeVec
	alertsActive prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *metrics {
	if reg == nil {
		return nil
	}
	m := &metrics{
		samples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "monitor_samples_total",
			Help: "Samples recorded per metric.",
		}, []string{"metric"}),
		aggregateAvg: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "monitor_aggregate_avg",
			Help: "Most recently recomputed average per metric.",
		}, []string{"metric"}),
		aggregateP95: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "monitor_aggregate_p95",
			Help: "Most recently recomputed p95 per metric.",
		}, []string{"metric"}),
		alertsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "monitor_alerts_active",
			Help: "Currently firing alerts.",
		}),
	}
	reg.MustRegister(m.samples, m.aggregateAvg, m.aggregateP95, m.alertsActive)
	return m
}

func (m *metrics) observe(metric string, agg Aggregate) {
	if m == nil {
		return
	}
	m.samples.WithLabelValues(metric).Inc()
	m.aggregateAvg.WithLabelValues(metric).Set(agg.Avg)
	m.aggregateP95.WithLabelValues(metric).Set(agg.P95)
}

func (m *metrics) setActiveAlerts(n int) {
	if m == nil {
		return
	}
	m.alertsActive.Set(float64(n))
}
