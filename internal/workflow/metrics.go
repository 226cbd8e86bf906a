package workflow

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes dispatcher counters. A nil *Metrics records nothing.
type Metrics struct {
	pending         prometheus.Gauge
	active          prometheus.Gauge
	finished        *prometheus.CounterVec
	duration        prometheus.Histogram
	reclaims        *prometheus.CounterVec
	persistFailures prometheus.Counter
}

// NewMetrics creates dispatcher metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "imaginer",
			Subsystem: "queue",
			Name:      "pending_jobs",
			Help:      "Jobs waiting to be dispatched",
		}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "imaginer",
			Subsystem: "queue",
			Name:      "active_jobs",
			Help:      "Jobs currently generating (0 or 1)",
		}),
		finished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "imaginer",
			Subsystem: "queue",
			Name:      "jobs_finished_total",
			Help:      "Finished jobs by terminal status",
		}, []string{"status"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "imaginer",
			Subsystem: "queue",
			Name:      "job_duration_seconds",
			Help:      "Wall time from dispatch to finalize",
			Buckets:   []float64{1, 2, 5, 10, 20, 30, 60, 120, 300},
		}),
		reclaims: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "imaginer",
			Subsystem: "worker",
			Name:      "reclaims_total",
			Help:      "Resource reclamation calls by reason and result",
		}, []string{"reason", "result"}),
		persistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "imaginer",
			Subsystem: "queue",
			Name:      "persist_failures_total",
			Help:      "Snapshot saves that failed",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.pending, m.active, m.finished, m.duration, m.reclaims, m.persistFailures)
	}
	return m
}

func (m *Metrics) setDepth(pending int, active bool) {
	if m == nil {
		return
	}
	m.pending.Set(float64(pending))
	if active {
		m.active.Set(1)
	} else {
		m.active.Set(0)
	}
}

func (m *Metrics) observeFinished(status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.finished.WithLabelValues(status).Inc()
	m.duration.Observe(elapsed.Seconds())
}

func (m *Metrics) observeReclaim(reason ReclaimReason, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.reclaims.WithLabelValues(string(reason), result).Inc()
}

func (m *Metrics) observePersistFailure() {
	if m == nil {
		return
	}
	m.persistFailures.Inc()
}
