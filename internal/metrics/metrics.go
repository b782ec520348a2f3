// Package metrics exposes pipeline counters to Prometheus.
//
// All Record methods are safe on a nil *Collector, so components can be
// built without metrics in tests and tools.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "materializer"

// Failure reasons for jobs that end up errored.
const (
	ReasonHandlerBug  = "handler_bug"
	ReasonExhausted   = "attempts_exhausted"
	ReasonLeaseExpiry = "lease_expired"
	ReasonBadPayload  = "bad_payload"
)

type Collector struct {
	registry *prometheus.Registry

	jobsEnqueued     *prometheus.CounterVec
	jobsCompleted    *prometheus.CounterVec
	jobsRetried      *prometheus.CounterVec
	jobsFailed       *prometheus.CounterVec
	jobDuration      *prometheus.HistogramVec
	jobsReaped       prometheus.Counter
	changesRouted    *prometheus.CounterVec
	materializations *prometheus.CounterVec
	missingResources *prometheus.GaugeVec
	taskRuns         *prometheus.CounterVec
	taskBatches      *prometheus.CounterVec
	queueDepth       *prometheus.GaugeVec
}

// New creates a collector on its own registry with the Go and process
// collectors included.
func New() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	c := &Collector{
		registry: reg,
		jobsEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_enqueued_total",
			Help:      "Jobs inserted into the queue, after deduplication.",
		}, []string{"topic"}),
		jobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_completed_total",
			Help:      "Jobs whose handler returned successfully.",
		}, []string{"topic"}),
		jobsRetried: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_retried_total",
			Help:      "Jobs put back in the queue after a transient failure.",
		}, []string{"topic"}),
		jobsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_failed_total",
			Help:      "Jobs moved to the errored state.",
		}, []string{"topic", "reason"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Handler run time per job.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"topic"}),
		jobsReaped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_reaped_total",
			Help:      "Claimed jobs recovered after their lease expired.",
		}),
		changesRouted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "changes_routed_total",
			Help:      "Upstream change events routed, by table.",
		}, []string{"table"}),
		materializations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "materializations_total",
			Help:      "Materialize attempts by outcome.",
		}, []string{"resource_type", "outcome"}),
		missingResources: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "missing_resources",
			Help:      "Upstream roots without a materialized resource at the last reconciliation.",
		}, []string{"resource_type"}),
		taskRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_runs_total",
			Help:      "Scheduled task runs by outcome.",
		}, []string{"task", "outcome"}),
		taskBatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_batches_total",
			Help:      "Batches processed by scheduled tasks.",
		}, []string{"task"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_jobs",
			Help:      "Jobs in the queue by topic and status.",
		}, []string{"topic", "status"}),
	}

	reg.MustRegister(
		c.jobsEnqueued,
		c.jobsCompleted,
		c.jobsRetried,
		c.jobsFailed,
		c.jobDuration,
		c.jobsReaped,
		c.changesRouted,
		c.materializations,
		c.missingResources,
		c.taskRuns,
		c.taskBatches,
		c.queueDepth,
	)
	return c
}

// Handler serves the collector's registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) RecordEnqueued(topic string, n int64) {
	if c == nil || n <= 0 {
		return
	}
	c.jobsEnqueued.WithLabelValues(topic).Add(float64(n))
}

func (c *Collector) RecordCompleted(topic string, d time.Duration) {
	if c == nil {
		return
	}
	c.jobsCompleted.WithLabelValues(topic).Inc()
	c.jobDuration.WithLabelValues(topic).Observe(d.Seconds())
}

func (c *Collector) RecordRetried(topic string, d time.Duration) {
	if c == nil {
		return
	}
	c.jobsRetried.WithLabelValues(topic).Inc()
	c.jobDuration.WithLabelValues(topic).Observe(d.Seconds())
}

func (c *Collector) RecordFailed(topic, reason string) {
	if c == nil {
		return
	}
	c.jobsFailed.WithLabelValues(topic, reason).Inc()
}

func (c *Collector) RecordReaped(n int) {
	if c == nil {
		return
	}
	c.jobsReaped.Add(float64(n))
}

func (c *Collector) RecordRouted(table string) {
	if c == nil {
		return
	}
	c.changesRouted.WithLabelValues(table).Inc()
}

func (c *Collector) RecordMaterialization(resourceType, outcome string) {
	if c == nil {
		return
	}
	c.materializations.WithLabelValues(resourceType, outcome).Inc()
}

func (c *Collector) SetMissing(resourceType string, n int64) {
	if c == nil {
		return
	}
	c.missingResources.WithLabelValues(resourceType).Set(float64(n))
}

func (c *Collector) RecordTaskRun(task string, err error) {
	if c == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	c.taskRuns.WithLabelValues(task, outcome).Inc()
}

func (c *Collector) RecordTaskBatch(task string) {
	if c == nil {
		return
	}
	c.taskBatches.WithLabelValues(task).Inc()
}

func (c *Collector) SetQueueDepth(topic, status string, n int64) {
	if c == nil {
		return
	}
	c.queueDepth.WithLabelValues(topic, status).Set(float64(n))
}
