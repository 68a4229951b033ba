package jobmetrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for background jobs.
type Metrics struct {
	runs     *prometheus.CounterVec
	failures *prometheus.CounterVec
	duration *prometheus.HistogramVec
	lowStock *prometheus.CounterVec
	drift    prometheus.Gauge
	notified *prometheus.CounterVec
	skipped  *prometheus.CounterVec
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

// AddLowStockAlert counts a delivered low stock alert for a material.
func (m *Metrics) AddLowStockAlert(materialID int64) {
	if m == nil {
		return
	}
	m.lowStock.WithLabelValues(strconv.FormatInt(materialID, 10)).Inc()
}

// SetLedgerDrift records how many records disagreed with the movement log on
// the last reconciliation.
func (m *Metrics) SetLedgerDrift(count int) {
	if m == nil {
		return
	}
	m.drift.Set(float64(count))
}

// AddLogisticsNotification counts notified dispatch tasks by urgency.
func (m *Metrics) AddLogisticsNotification(urgency string) {
	if m == nil {
		return
	}
	m.notified.WithLabelValues(urgency).Inc()
}

// AddSkipped counts runs skipped because another worker held the job lock.
func (m *Metrics) AddSkipped(job string) {
	if m == nil {
		return
	}
	m.skipped.WithLabelValues(job).Inc()
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reliefops_jobs_total",
		Help: "Total job executions partitioned by job name and status.",
	}, []string{"job", "status"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reliefops_jobs_failures_total",
		Help: "Total failures observed for background jobs.",
	}, []string{"job"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "reliefops_job_duration_seconds",
		Help:    "Duration in seconds of background job executions.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	lowStock := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reliefops_low_stock_alerts_total",
		Help: "Low stock alerts delivered, by material.",
	}, []string{"material"})
	drift := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "reliefops_ledger_drift_records",
		Help: "Inventory records whose balance disagreed with the movement log at the last reconciliation.",
	})
	notified := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reliefops_logistics_notifications_total",
		Help: "Dispatch tasks handed to logistics, by urgency level.",
	}, []string{"urgency"})
	skipped := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reliefops_jobs_skipped_total",
		Help: "Job runs skipped because another worker held the lock.",
	}, []string{"job"})
	registerer.MustRegister(runs, failures, duration, lowStock, drift, notified, skipped)
	return &Metrics{
		runs:     runs,
		failures: failures,
		duration: duration,
		lowStock: lowStock,
		drift:    drift,
		notified: notified,
		skipped:  skipped,
	}
}
