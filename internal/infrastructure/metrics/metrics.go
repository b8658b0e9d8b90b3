// Package metrics provides Prometheus metrics for the range scheduler.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rangescan/internal/core/ranges"
	"rangescan/internal/domain/monitor"
	"rangescan/internal/domain/scheduler"
	"rangescan/internal/infrastructure/storage/postgres"
)

// Metrics holds all Prometheus metrics of the process.
type Metrics struct {
	registry *prometheus.Registry

	// Scheduler
	Allocations     *prometheus.CounterVec
	Lookups         *prometheus.CounterVec
	LookupDuration  *prometheus.HistogramVec
	RangesCompleted *prometheus.CounterVec
	Interrupts      prometheus.Counter
	CycleErrors     *prometheus.CounterVec

	// Monitor
	ExternalChanges *prometheus.CounterVec
}

// New registers the metrics on a fresh registry, together with the Go and
// process collectors.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "rangescan"
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Allocations: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "allocations_total",
				Help:      "Identifiers allocated",
			},
			[]string{"range_key"},
		),
		Lookups: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "lookups_total",
				Help:      "Lookups by result (found, not_found, failed, sink_failed)",
			},
			[]string{"range_key", "result"},
		),
		LookupDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "lookup_duration_seconds",
				Help:      "Time spent in one lookup including retries",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 11), // 50ms to ~50s
			},
			[]string{"result"},
		),
		RangesCompleted: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ranges_completed_total",
				Help:      "Ranges moved to completed",
			},
			[]string{"range_key"},
		),
		Interrupts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interrupts_total",
			Help:      "Range loops cut short by the interrupt signal",
		}),
		CycleErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cycle_errors_total",
				Help:      "Scheduler cycles that ended in an error, by error code",
			},
			[]string{"code"},
		),
		ExternalChanges: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "external_changes_total",
				Help:      "Range changes made outside the scheduler",
			},
			[]string{"kind"},
		),
	}
}

var (
	_ scheduler.Recorder = (*Metrics)(nil)
	_ monitor.Recorder   = (*Metrics)(nil)
)

// Allocated implements scheduler.Recorder.
func (m *Metrics) Allocated(key string) {
	m.Allocations.WithLabelValues(key).Inc()
}

// Resolved implements scheduler.Recorder.
func (m *Metrics) Resolved(key string, result ranges.AttemptResult, elapsed time.Duration) {
	m.Lookups.WithLabelValues(key, string(result)).Inc()
	m.LookupDuration.WithLabelValues(string(result)).Observe(elapsed.Seconds())
}

// Completed implements scheduler.Recorder.
func (m *Metrics) Completed(key string) {
	m.RangesCompleted.WithLabelValues(key).Inc()
}

// Interrupted implements scheduler.Recorder.
func (m *Metrics) Interrupted() {
	m.Interrupts.Inc()
}

// CycleFailed implements scheduler.Recorder.
func (m *Metrics) CycleFailed(code string) {
	m.CycleErrors.WithLabelValues(code).Inc()
}

// ChangeDetected implements monitor.Recorder.
func (m *Metrics) ChangeDetected(kind string) {
	m.ExternalChanges.WithLabelValues(kind).Inc()
}

// WatchPool exports connection pool statistics, sampled on scrape.
func (m *Metrics) WatchPool(namespace string, stats func() postgres.PoolStats) {
	if namespace == "" {
		namespace = "rangescan"
	}
	gauge := func(name, help string, value func(postgres.PoolStats) float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "db_pool",
			Name:      name,
			Help:      help,
		}, func() float64 { return value(stats()) })
	}
	m.registry.MustRegister(
		gauge("total_conns", "Open connections", func(s postgres.PoolStats) float64 { return float64(s.TotalConns) }),
		gauge("acquired_conns", "Connections in use", func(s postgres.PoolStats) float64 { return float64(s.AcquiredConns) }),
		gauge("idle_conns", "Idle connections", func(s postgres.PoolStats) float64 { return float64(s.IdleConns) }),
		gauge("max_conns", "Pool size limit", func(s postgres.PoolStats) float64 { return float64(s.MaxConns) }),
	)
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
