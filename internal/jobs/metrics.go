package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for background jobs.
type Metrics struct {
	runs       *prometheus.CounterVec
	failures   *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	skipped    *prometheus.CounterVec
	posted     *prometheus.CounterVec
	unbalanced prometheus.Gauge
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the job metrics against the provided registerer. When the
// registerer is nil the default Prometheus registerer is used.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

// Tracker provides lifecycle instrumentation helpers for a single job run.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track spawns a tracker for the given job name.
func (m *Metrics) Track(job string) *Tracker {
	if m == nil {
		return &Tracker{job: job, start: time.Now()}
	}
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End finalises the tracker, recording duration, success/failure counts and
// returning the provided error untouched.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.job == "" {
		return err
	}
	status := "success"
	if err != nil {
		status = "failure"
		t.metrics.failures.WithLabelValues(t.job).Inc()
	}
	t.metrics.runs.WithLabelValues(t.job, status).Inc()
	t.metrics.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	return err
}

// AddDepreciationRun records the posted and skipped asset counts of one period.
func (m *Metrics) AddDepreciationRun(period string, posted, skipped int) {
	if m == nil {
		return
	}
	if posted > 0 {
		m.posted.WithLabelValues(period).Add(float64(posted))
	}
	if skipped > 0 {
		m.skipped.WithLabelValues(period).Add(float64(skipped))
	}
}

// SetUnbalancedEntries reports the entries found by the last integrity scan.
func (m *Metrics) SetUnbalancedEntries(count int) {
	if m == nil {
		return
	}
	m.unbalanced.Set(float64(count))
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_jobs_total",
		Help: "Total job executions partitioned by job name and status.",
	}, []string{"job", "status"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_jobs_failures_total",
		Help: "Total failures observed for background jobs.",
	}, []string{"job"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_job_duration_seconds",
		Help:    "Duration in seconds of background job executions.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	posted := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_depreciation_posted_total",
		Help: "Assets depreciated by the monthly batch.",
	}, []string{"period"})
	skipped := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_depreciation_skipped_total",
		Help: "Assets the monthly depreciation batch could not post.",
	}, []string{"period"})
	unbalanced := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ledger_unbalanced_entries",
		Help: "Posted journal entries whose debits and credits differ.",
	})
	registerer.MustRegister(runs, failures, duration, posted, skipped, unbalanced)
	return &Metrics{runs: runs, failures: failures, duration: duration, posted: posted, skipped: skipped, unbalanced: unbalanced}
}
