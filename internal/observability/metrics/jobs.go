// Package metrics exposes the Prometheus instruments for the job pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	obserrors "github.com/target/inkwell/internal/observability/errors"
)

// Result constants for metric tagging.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultNoop    = "noop"
)

// Transition names for job lifecycle metrics.
const (
	TransitionClaim   = "claim"
	TransitionProcess = "process"
)

// JobMetric captures details about a job lifecycle event for metric emission.
type JobMetric struct {
	JobType    string
	Transition string
	Result     string
	Duration   time.Duration
	Err        error
}

// Recorder owns the pipeline's Prometheus collectors. A nil *Recorder
// discards every observation.
type Recorder struct {
	jobTransitions  *prometheus.CounterVec
	jobDuration     *prometheus.HistogramVec
	dispatchQueued  *prometheus.CounterVec
	dispatchFailed  *prometheus.CounterVec
	dispatchSkipped *prometheus.CounterVec
	deliveries      *prometheus.CounterVec
	reaperJobs      *prometheus.CounterVec
	webhookEvents   *prometheus.CounterVec
}

// NewRecorder registers the collectors on reg. A nil reg uses the default registerer.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Recorder{
		jobTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "inkwell",
			Name:      "job_transitions_total",
			Help:      "Job lifecycle transitions by type, transition and result",
		}, []string{"job_type", "transition", "result", "error_class"}),
		jobDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "inkwell",
			Name:      "job_duration_seconds",
			Help:      "Time spent processing one job",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"job_type", "result"}),
		dispatchQueued: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "inkwell",
			Name:      "dispatch_jobs_queued_total",
			Help:      "Jobs enqueued by the dispatcher",
		}, []string{"job_type"}),
		dispatchFailed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "inkwell",
			Name:      "dispatch_candidate_failures_total",
			Help:      "Dispatch candidates skipped because of a lookup or insert failure",
		}, []string{"job_type"}),
		dispatchSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "inkwell",
			Name:      "dispatch_skipped_total",
			Help:      "Dispatch runs skipped because another run held the lock",
		}, []string{"job_type"}),
		deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "inkwell",
			Name:      "deliveries_total",
			Help:      "Send attempts by resulting delivery status",
		}, []string{"status"}),
		reaperJobs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "inkwell",
			Name:      "reaper_jobs_total",
			Help:      "Stale processing jobs recovered by the reaper",
		}, []string{"outcome"}),
		webhookEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "inkwell",
			Name:      "email_events_total",
			Help:      "Inbound email provider events",
		}, []string{"event", "result"}),
	}
}

// EmitJobLifecycle emits standardised job lifecycle metrics.
func (r *Recorder) EmitJobLifecycle(in JobMetric) {
	if r == nil {
		return
	}

	class := ""
	if in.Err != nil && in.Result == ResultError {
		class = obserrors.Classify(in.Err)
	}
	r.jobTransitions.WithLabelValues(in.JobType, in.Transition, in.Result, class).Inc()

	if in.Duration > 0 {
		r.jobDuration.WithLabelValues(in.JobType, in.Result).Observe(in.Duration.Seconds())
	}
}

// DispatchQueued counts jobs enqueued for jobType.
func (r *Recorder) DispatchQueued(jobType string, queued, failures int) {
	if r == nil {
		return
	}
	r.dispatchQueued.WithLabelValues(jobType).Add(float64(queued))
	r.dispatchFailed.WithLabelValues(jobType).Add(float64(failures))
}

// DispatchSkipped counts a dispatch run that lost the overlap lock.
func (r *Recorder) DispatchSkipped(jobType string) {
	if r == nil {
		return
	}
	r.dispatchSkipped.WithLabelValues(jobType).Inc()
}

// Delivery counts one send attempt ending in status.
func (r *Recorder) Delivery(status string) {
	if r == nil {
		return
	}
	r.deliveries.WithLabelValues(status).Inc()
}

// ReaperRecovered counts jobs requeued and failed by the reaper.
func (r *Recorder) ReaperRecovered(requeued, failed int64) {
	if r == nil {
		return
	}
	if requeued > 0 {
		r.reaperJobs.WithLabelValues("requeued").Add(float64(requeued))
	}
	if failed > 0 {
		r.reaperJobs.WithLabelValues("failed").Add(float64(failed))
	}
}

// EmailEvent counts one inbound provider event.
func (r *Recorder) EmailEvent(event, result string) {
	if r == nil {
		return
	}
	r.webhookEvents.WithLabelValues(event, result).Inc()
}
