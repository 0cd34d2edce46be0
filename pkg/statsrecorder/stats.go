// Package statsrecorder exposes Prometheus metrics for queue depth,
// job outcomes, and job timing (spec §4.1, §7), replacing the
// original's statsd counters/timers (zuul/scheduler.py: onBuildStarted/
// onBuildCompleted) one-for-one with Prometheus equivalents.
package statsrecorder

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/conveyor-ci/conveyor/pkg/model"
)

// Recorder owns a private Prometheus registry, rather than the global
// default one, so a test can construct as many as it likes without
// tripping "duplicate metrics collector registration" panics.
type Recorder struct {
	registry *prometheus.Registry

	queueLength   *prometheus.GaugeVec
	jobsTotal     *prometheus.CounterVec
	jobDuration   *prometheus.HistogramVec
	jobWaitTime   *prometheus.HistogramVec
	eventsTotal   *prometheus.CounterVec
}

// New builds a Recorder with all metrics registered.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		queueLength: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "conveyor_pipeline_queue_length",
			Help: "Number of items currently in a pipeline's shared queue",
		}, []string{"tenant", "pipeline", "queue"}),
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "conveyor_jobs_total",
			Help: "Total number of completed job builds by pipeline, job name and result",
		}, []string{"pipeline", "job", "result"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "conveyor_job_duration_seconds",
			Help:    "Job run time from start to completion",
			Buckets: prometheus.DefBuckets,
		}, []string{"pipeline", "job"}),
		jobWaitTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "conveyor_job_wait_seconds",
			Help:    "Time a job spent queued between being created and started",
			Buckets: prometheus.DefBuckets,
		}, []string{"pipeline", "job"}),
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "conveyor_trigger_events_total",
			Help: "Total number of trigger events processed by type",
		}, []string{"tenant", "event_type"}),
	}
	r.registry.MustRegister(r.queueLength, r.jobsTotal, r.jobDuration, r.jobWaitTime, r.eventsTotal)
	return r
}

// Handler returns the /metrics http.Handler for this recorder's
// registry.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// SetQueueLength records the current depth of one pipeline's named
// queue, replacing the previous value (a gauge, not a counter).
func (r *Recorder) SetQueueLength(tenant, pipeline, queue string, length int) {
	r.queueLength.WithLabelValues(tenant, pipeline, queue).Set(float64(length))
}

// ObserveEvent counts one trigger event of the given type for a tenant.
func (r *Recorder) ObserveEvent(tenant, eventType string) {
	r.eventsTotal.WithLabelValues(tenant, eventType).Inc()
}

// ObserveBuild records a completed build's outcome and timing, mirroring
// the original's per-job timing/incr pairs (launch->start wait time,
// start->end run time, and a result-labeled counter).
func (r *Recorder) ObserveBuild(pipeline string, b *model.Build) {
	r.jobsTotal.WithLabelValues(pipeline, b.Job.Name, string(b.Result)).Inc()
	if !b.LaunchTime.IsZero() && !b.StartTime.IsZero() {
		r.jobWaitTime.WithLabelValues(pipeline, b.Job.Name).Observe(b.StartTime.Sub(b.LaunchTime).Seconds())
	}
	if !b.StartTime.IsZero() && !b.EndTime.IsZero() {
		r.jobDuration.WithLabelValues(pipeline, b.Job.Name).Observe(b.EndTime.Sub(b.StartTime).Seconds())
	}
}

// Timer is a small convenience wrapper for hand-timing an operation
// whose duration doesn't come from model.Build timestamps.
type Timer struct{ start time.Time }

// NewTimer starts a timer.
func NewTimer() Timer { return Timer{start: time.Now()} }

// ObserveDuration records the elapsed time since NewTimer into histogram.
func (t Timer) ObserveDuration(histogram prometheus.Observer) {
	histogram.Observe(time.Since(t.start).Seconds())
}
