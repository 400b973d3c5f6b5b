// Package metrics provides in-memory request statistics and Prometheus export.
package metrics

import (
	"math"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// OperationMetrics holds aggregated metrics for a single API operation.
type OperationMetrics struct {
	Count     int64
	Errors    int64
	TotalTime time.Duration
	MinTime   time.Duration
	MaxTime   time.Duration
}

// OperationSnapshot provides computed stats from raw metrics.
type OperationSnapshot struct {
	Op          string
	Count       int64
	Errors      int64
	TotalTimeMs int64
	AvgTimeMs   float64
	MinTimeMs   int64
	MaxTimeMs   int64
}

// Snapshot represents the client statistics at a point in time.
type Snapshot struct {
	UptimeSeconds float64
	Operations    []OperationSnapshot // sorted by op name
}

// Collector aggregates request statistics in memory and mirrors them into a
// private Prometheus registry. All methods are thread-safe.
type Collector struct {
	mu        sync.RWMutex
	startTime time.Time
	ops       map[string]*OperationMetrics

	registry *prometheus.Registry
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	jobs     *prometheus.CounterVec
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Collector{
		startTime: time.Now(),
		ops:       make(map[string]*OperationMetrics),
		registry:  reg,
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mensa",
			Name:      "api_requests_total",
			Help:      "Total number of backend API requests",
		}, []string{"op", "outcome"}),
		latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mensa",
			Name:      "api_request_duration_seconds",
			Help:      "Duration of backend API requests in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		jobs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mensa",
			Name:      "jobs_finished_total",
			Help:      "Ingestion and training jobs reaching a terminal state",
		}, []string{"kind", "status"}),
	}
}

// getOrCreate returns existing metrics or creates new ones for an operation.
// Caller must hold write lock.
func (c *Collector) getOrCreate(op string) *OperationMetrics {
	m, ok := c.ops[op]
	if !ok {
		m = &OperationMetrics{MinTime: time.Duration(math.MaxInt64)}
		c.ops[op] = m
	}
	return m
}

// RecordTiming records timing for an operation.
func (c *Collector) RecordTiming(op string, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m := c.getOrCreate(op)
	m.Count++
	m.TotalTime += duration

	if duration < m.MinTime {
		m.MinTime = duration
	}
	if duration > m.MaxTime {
		m.MaxTime = duration
	}
}

// RecordRequest records one API request and its outcome.
func (c *Collector) RecordRequest(op string, duration time.Duration, err error) {
	c.RecordTiming(op, duration)

	outcome := "ok"
	if err != nil {
		outcome = "error"
		c.mu.Lock()
		c.ops[op].Errors++
		c.mu.Unlock()
	}

	c.requests.WithLabelValues(op, outcome).Inc()
	c.latency.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordJob counts a job reaching a terminal status.
func (c *Collector) RecordJob(kind, status string) {
	c.jobs.WithLabelValues(kind, status).Inc()
}

// snapshotOp creates a snapshot for an operation, returning nil if no data.
func snapshotOp(op string, m *OperationMetrics) *OperationSnapshot {
	if m == nil || m.Count == 0 {
		return nil
	}

	return &OperationSnapshot{
		Op:          op,
		Count:       m.Count,
		Errors:      m.Errors,
		TotalTimeMs: m.TotalTime.Milliseconds(),
		AvgTimeMs:   float64(m.TotalTime.Milliseconds()) / float64(m.Count),
		MinTimeMs:   m.MinTime.Milliseconds(),
		MaxTimeMs:   m.MaxTime.Milliseconds(),
	}
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := Snapshot{UptimeSeconds: time.Since(c.startTime).Seconds()}
	for op, m := range c.ops {
		if s := snapshotOp(op, m); s != nil {
			snap.Operations = append(snap.Operations, *s)
		}
	}
	slices.SortFunc(snap.Operations, func(a, b OperationSnapshot) int {
		if a.Op < b.Op {
			return -1
		}
		if a.Op > b.Op {
			return 1
		}
		return 0
	})
	return snap
}

// Handler exposes the collector's registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
