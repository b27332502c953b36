// Package metrics holds the Prometheus collectors of a sync run. A run is
// a short-lived job, so collectors are pushed to a Pushgateway at exit
// rather than scraped.
package metrics

import (
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/srahul3/lineage-sync/internal/model"
)

const namespace = "lineage_sync"

// Metrics is safe for concurrent use. A nil *Metrics discards observations.
type Metrics struct {
	registry *prometheus.Registry

	batchDuration *prometheus.HistogramVec
	rows          *prometheus.CounterVec
	batchFailures *prometheus.CounterVec
	runDuration   prometheus.Gauge
	lastSuccess   prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		batchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Time spent writing one batch to the graph store.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"phase", "outcome"}),
		rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_total",
			Help:      "Rows written by successful batches.",
		}, []string{"phase"}),
		batchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_failures_total",
			Help:      "Batches that failed to commit.",
		}, []string{"phase"}),
		runDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Total elapsed time of the last run.",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last run that reached done.",
		}),
	}
	m.registry.MustRegister(m.batchDuration, m.rows, m.batchFailures, m.runDuration, m.lastSuccess)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveBatch(phase model.Phase, rows int, d time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
		m.batchFailures.WithLabelValues(string(phase)).Inc()
	} else {
		m.rows.WithLabelValues(string(phase)).Add(float64(rows))
	}
	m.batchDuration.WithLabelValues(string(phase), outcome).Observe(d.Seconds())
}

func (m *Metrics) ObserveRun(d time.Duration, state model.State, now time.Time) {
	if m == nil {
		return
	}
	m.runDuration.Set(d.Seconds())
	if state == model.StateDone {
		m.lastSuccess.Set(float64(now.Unix()))
	}
}

// Push sends every collector to the Pushgateway at url under job.
func (m *Metrics) Push(url, job string) error {
	if m == nil || url == "" {
		return nil
	}
	if err := push.New(url, job).Gatherer(m.registry).Push(); err != nil {
		return errors.Wrap(err, "push metrics")
	}
	return nil
}
