package workflow

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics instruments alert workflow runs. A nil *Metrics records nothing.
type Metrics struct {
	runs          *prometheus.CounterVec
	alertsChecked prometheus.Counter
	alertsCreated prometheus.Counter
	duplicates    prometheus.Counter
	failures      prometheus.Counter
	duration      prometheus.Histogram
}

// NewMetrics registers workflow metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "streamwatcher_workflow_runs_total",
			Help: "Alert workflow runs by outcome",
		}, []string{"outcome"}),
		alertsChecked: factory.NewCounter(prometheus.CounterOpts{
			Name: "streamwatcher_workflow_alerts_checked_total",
			Help: "Candidate alerts produced by the risk classifier",
		}),
		alertsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "streamwatcher_workflow_alerts_created_total",
			Help: "Alerts newly persisted",
		}),
		duplicates: factory.NewCounter(prometheus.CounterOpts{
			Name: "streamwatcher_workflow_alerts_duplicate_total",
			Help: "Candidates skipped because an open alert already exists",
		}),
		failures: factory.NewCounter(prometheus.CounterOpts{
			Name: "streamwatcher_workflow_alerts_failed_total",
			Help: "Candidates the alert sink failed to persist",
		}),
		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "streamwatcher_workflow_run_duration_seconds",
			Help:    "Alert workflow run latency",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) observe(res Result, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(outcome).Inc()
	m.alertsChecked.Add(float64(res.AlertsChecked))
	m.alertsCreated.Add(float64(res.AlertsCreated))
	m.duplicates.Add(float64(res.Duplicates))
	m.failures.Add(float64(res.Failed))
	m.duration.Observe(elapsed.Seconds())
}
