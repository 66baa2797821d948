package lifecycle

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exports per-job run and item counters. A nil *Metrics records nothing.
type Metrics struct {
	runs     *prometheus.CounterVec
	items    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lifecycle_job_runs_total",
				Help: "Total number of lifecycle job runs",
			},
			[]string{"job", "outcome"},
		),
		items: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lifecycle_job_items_total",
				Help: "Total number of items processed by lifecycle jobs",
			},
			[]string{"job", "result"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lifecycle_job_duration_seconds",
				Help:    "Duration of lifecycle job runs in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
			},
			[]string{"job"},
		),
	}
	reg.MustRegister(m.runs, m.items, m.duration)
	return m
}

func (m *Metrics) observe(job Job, res Result, err error, elapsed time.Duration) {
	if m == nil {
		return
	}

	outcome := "ok"
	switch {
	case err != nil:
		outcome = "error"
	case res.Skipped:
		outcome = "skipped"
	}
	m.runs.WithLabelValues(string(job), outcome).Inc()
	m.duration.WithLabelValues(string(job)).Observe(elapsed.Seconds())

	m.items.WithLabelValues(string(job), "succeeded").Add(float64(res.Succeeded))
	m.items.WithLabelValues(string(job), "failed").Add(float64(res.Failed))
	m.items.WithLabelValues(string(job), "skipped").Add(float64(res.NoContact))
}
