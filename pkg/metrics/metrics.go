package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Scheduler metrics
	PollCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ferryd_poll_cycles_total",
			Help: "Total number of scheduler poll cycles completed",
		},
	)

	PollCycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ferryd_poll_cycle_duration_seconds",
			Help:    "Time taken for a scheduler poll cycle in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	TasksDispatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ferryd_tasks_dispatched_total",
			Help: "Total number of tasks handed to a pool by kind",
		},
		[]string{"kind"},
	)

	// Task outcome metrics
	TasksCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ferryd_tasks_completed_total",
			Help: "Total number of tasks reaching a terminal status by kind and status",
		},
		[]string{"kind", "status"},
	)

	TaskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ferryd_task_duration_seconds",
			Help:    "Storage operation duration in seconds by kind",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 3600, 14400}, // 1s to 4h
		},
		[]string{"kind"},
	)

	// Pool metrics
	PoolsLive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ferryd_pools_live",
			Help: "Number of live per-link pools by kind",
		},
		[]string{"kind"},
	)

	PoolsRecycled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ferryd_pools_recycled_total",
			Help: "Total number of idle pools torn down",
		},
	)

	WorkersInFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ferryd_workers_in_flight",
			Help: "Number of storage operations currently executing by kind",
		},
		[]string{"kind"},
	)

	// Queue depth, sampled once per poll cycle
	TasksQueued = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ferryd_tasks_queued",
			Help: "Number of rows in queued status by kind",
		},
		[]string{"kind"},
	)

	// Gateway metrics
	PortBindRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ferryd_port_bind_retries_total",
			Help: "Total number of transparent transfer retries after a failed port bind",
		},
	)

	// Recovery metrics
	OrphansRecovered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ferryd_orphans_recovered_total",
			Help: "Total number of queued/active rows reset to new at start and stop",
		},
	)
)

func init() {
	prometheus.MustRegister(PollCyclesTotal)
	prometheus.MustRegister(PollCycleDuration)
	prometheus.MustRegister(TasksDispatched)
	prometheus.MustRegister(TasksCompleted)
	prometheus.MustRegister(TaskDuration)
	prometheus.MustRegister(PoolsLive)
	prometheus.MustRegister(PoolsRecycled)
	prometheus.MustRegister(WorkersInFlight)
	prometheus.MustRegister(TasksQueued)
	prometheus.MustRegister(PortBindRetries)
	prometheus.MustRegister(OrphansRecovered)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
