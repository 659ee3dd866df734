// Package metrics wires Prometheus counters/gauges for the broker,
// grounded on the teacher's infrastructure/metrics.Metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds every collector the broker exposes.
type Metrics struct {
	ReviewsCreatedTotal      *prometheus.CounterVec
	VerdictsSubmittedTotal   *prometheus.CounterVec
	ReviewsActiveGauge       prometheus.Gauge
	ReviewersActiveGauge     prometheus.Gauge
	ReviewersSpawnedTotal    prometheus.Counter
	ReviewersTerminatedTotal *prometheus.CounterVec
	ReaperPassDuration       *prometheus.HistogramVec
	ReaperPassErrorsTotal    *prometheus.CounterVec
}

// New registers and returns a Metrics set against the default registerer.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry lets tests use a private registry instead of the global
// default, avoiding duplicate-registration panics across test runs.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ReviewsCreatedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "broker_reviews_created_total",
			Help: "Total reviews created, by priority.",
		}, []string{"priority"}),
		VerdictsSubmittedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "broker_verdicts_submitted_total",
			Help: "Total verdicts submitted, by verdict kind.",
		}, []string{"verdict"}),
		ReviewsActiveGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "broker_reviews_pending",
			Help: "Reviews currently in pending status.",
		}),
		ReviewersActiveGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "broker_reviewers_active",
			Help: "Reviewer workers currently active.",
		}),
		ReviewersSpawnedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "broker_reviewers_spawned_total",
			Help: "Total reviewer workers spawned.",
		}),
		ReviewersTerminatedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "broker_reviewers_terminated_total",
			Help: "Total reviewer workers terminated, by reason.",
		}, []string{"reason"}),
		ReaperPassDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "broker_reaper_pass_duration_seconds",
			Help:    "Duration of each reaper pass, by reaper name.",
			Buckets: prometheus.DefBuckets,
		}, []string{"reaper"}),
		ReaperPassErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "broker_reaper_pass_errors_total",
			Help: "Reaper passes that returned an error, by reaper name.",
		}, []string{"reaper"}),
	}

	for _, c := range []prometheus.Collector{
		m.ReviewsCreatedTotal, m.VerdictsSubmittedTotal, m.ReviewsActiveGauge, m.ReviewersActiveGauge,
		m.ReviewersSpawnedTotal, m.ReviewersTerminatedTotal, m.ReaperPassDuration, m.ReaperPassErrorsTotal,
	} {
		reg.MustRegister(c)
	}
	return m
}
