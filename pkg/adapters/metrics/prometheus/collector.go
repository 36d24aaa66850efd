// Package prometheus implements the metrics collector on Prometheus.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/genoflow/genoflow/pkg/domain"
)

// Collector implements ports.MetricsCollector using Prometheus
type Collector struct {
	instancesStarted  *prometheus.CounterVec
	instancesFinished *prometheus.CounterVec
	instanceDuration  *prometheus.HistogramVec
	cacheHits         *prometheus.CounterVec
	cacheMisses       *prometheus.CounterVec
	joinsStarved      *prometheus.CounterVec
	starvedKeys       *prometheus.CounterVec
	ledgerCPU         prometheus.Gauge
	ledgerMemory      prometheus.Gauge
	runsCompleted     *prometheus.CounterVec
	runDuration       prometheus.Histogram
}

// NewCollector creates a new Prometheus metrics collector
func NewCollector() *Collector {
	return &Collector{
		instancesStarted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "genoflow_instances_started_total",
				Help: "Total number of task instances dispatched to a backend",
			},
			[]string{"node"},
		),
		instancesFinished: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "genoflow_instances_finished_total",
				Help: "Total number of task instances reaching a terminal state",
			},
			[]string{"node", "state"},
		),
		instanceDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "genoflow_instance_duration_seconds",
				Help:    "Task instance execution duration in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800, 3600},
			},
			[]string{"node"},
		),
		cacheHits: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "genoflow_cache_hits_total",
				Help: "Total number of instances satisfied from the result cache",
			},
			[]string{"node"},
		),
		cacheMisses: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "genoflow_cache_misses_total",
				Help: "Total number of cache probes that fell through to execution",
			},
			[]string{"node"},
		),
		joinsStarved: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "genoflow_joins_starved_total",
				Help: "Total number of joins that ended with incomplete key sets",
			},
			[]string{"node"},
		),
		starvedKeys: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "genoflow_join_starved_keys_total",
				Help: "Total number of keys left incomplete across all joins",
			},
			[]string{"node"},
		),
		ledgerCPU: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "genoflow_ledger_cpu_utilization",
				Help: "Fraction of ledger CPU capacity currently reserved",
			},
		),
		ledgerMemory: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "genoflow_ledger_memory_utilization",
				Help: "Fraction of ledger memory capacity currently reserved",
			},
		),
		runsCompleted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "genoflow_runs_completed_total",
				Help: "Total number of completed pipeline runs",
			},
			[]string{"status"},
		),
		runDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "genoflow_run_duration_seconds",
				Help:    "Pipeline run duration in seconds",
				Buckets: []float64{60, 300, 600, 1800, 3600, 7200, 14400, 28800},
			},
		),
	}
}

// RecordInstanceStarted counts an instance handed to the backend
func (c *Collector) RecordInstanceStarted(node string) {
	c.instancesStarted.WithLabelValues(node).Inc()
}

// RecordInstanceFinished counts a terminal instance and observes its duration
func (c *Collector) RecordInstanceFinished(node string, state domain.InstanceState, d time.Duration) {
	c.instancesFinished.WithLabelValues(node, string(state)).Inc()
	if d > 0 {
		c.instanceDuration.WithLabelValues(node).Observe(d.Seconds())
	}
}

// RecordCacheHit counts an instance satisfied from the cache
func (c *Collector) RecordCacheHit(node string) {
	c.cacheHits.WithLabelValues(node).Inc()
}

// RecordCacheMiss counts a cache probe that missed
func (c *Collector) RecordCacheMiss(node string) {
	c.cacheMisses.WithLabelValues(node).Inc()
}

// RecordJoinStarved counts a join closing with keys never completed
func (c *Collector) RecordJoinStarved(node string, keys int) {
	c.joinsStarved.WithLabelValues(node).Inc()
	c.starvedKeys.WithLabelValues(node).Add(float64(keys))
}

// SetLedgerUtilization publishes current ledger utilization fractions
func (c *Collector) SetLedgerUtilization(cpu, memory float64) {
	c.ledgerCPU.Set(cpu)
	c.ledgerMemory.Set(memory)
}

// RecordRunCompleted counts a finished run and observes its wall time
func (c *Collector) RecordRunCompleted(status domain.RunStatus, d time.Duration) {
	c.runsCompleted.WithLabelValues(string(status)).Inc()
	c.runDuration.Observe(d.Seconds())
}
