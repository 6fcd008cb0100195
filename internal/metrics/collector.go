package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dupmill/internal/progress"
)

// Collector collects and exposes duplication metrics.
type Collector struct {
	tasksTotal      *prometheus.CounterVec
	bytesTotal      prometheus.Counter
	queueDepth      prometheus.Gauge
	morselsPending  prometheus.Gauge
	inflightWorkers prometheus.Gauge
	duration        prometheus.Histogram
	progressTracker *progress.Tracker
}

// New creates a new metrics collector and registers it against the
// default Prometheus registry.
func New() *Collector {
	c := &Collector{
		tasksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dupmill_tasks_total",
				Help: "Total number of duplication tasks processed, by outcome",
			},
			[]string{"status"},
		),
		bytesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "dupmill_bytes_total",
				Help: "Total bytes copied by the copy protocol",
			},
		),
		queueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "dupmill_queue_depth",
				Help: "Advisory size of the task queue at last sample",
			},
		),
		morselsPending: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "dupmill_morsels_pending",
				Help: "Number of morsels held by the producer's in-memory queue",
			},
		),
		inflightWorkers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "dupmill_inflight_workers",
				Help: "Number of workers currently processing a task",
			},
		),
		duration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "dupmill_task_duration_seconds",
				Help:    "Time taken to process one duplication task",
				Buckets: prometheus.DefBuckets,
			},
		),
		progressTracker: progress.NewTracker(),
	}

	prometheus.MustRegister(c.tasksTotal)
	prometheus.MustRegister(c.bytesTotal)
	prometheus.MustRegister(c.queueDepth)
	prometheus.MustRegister(c.morselsPending)
	prometheus.MustRegister(c.inflightWorkers)
	prometheus.MustRegister(c.duration)

	return c
}

// IncSuccess records a successfully reconciled task and the bytes it
// copied (zero when no content was copied).
func (c *Collector) IncSuccess(bytes int64) {
	c.tasksTotal.WithLabelValues("success").Inc()
	c.bytesTotal.Add(float64(bytes))
	c.progressTracker.AddSuccess(bytes)
}

// IncFailed records a task that failed with a fatal, non-retryable outcome.
func (c *Collector) IncFailed() {
	c.tasksTotal.WithLabelValues("failed").Inc()
	c.progressTracker.AddFailed()
}

// SetQueueDepth records the queue's advisory size.
func (c *Collector) SetQueueDepth(depth int) {
	c.queueDepth.Set(float64(depth))
}

// SetMorselsPending records the producer's in-memory morsel queue length.
func (c *Collector) SetMorselsPending(count int) {
	c.morselsPending.Set(float64(count))
}

// SetInflightWorkers sets the number of inflight workers.
func (c *Collector) SetInflightWorkers(count int) {
	c.inflightWorkers.Set(float64(count))
}

// ObserveDuration observes task processing duration.
func (c *Collector) ObserveDuration(duration time.Duration) {
	c.duration.Observe(duration.Seconds())
}

// StartServer starts the metrics HTTP server.
func (c *Collector) StartServer(addr string) error {
	http.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(addr, nil)
}

// GetProgressTracker returns the progress tracker.
func (c *Collector) GetProgressTracker() *progress.Tracker {
	return c.progressTracker
}

// SetTotalTasks sets the total task count progress is measured against.
func (c *Collector) SetTotalTasks(total int64) {
	c.progressTracker.SetTotal(total, 0)
}
