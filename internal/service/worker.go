// Package service provides business logic services for the inkwell newsletter pipeline.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/target/inkwell/internal/core"
	"github.com/target/inkwell/internal/data"
	"github.com/target/inkwell/internal/domain/model"
	obserrors "github.com/target/inkwell/internal/observability/errors"
	"github.com/target/inkwell/internal/observability/metrics"
	"github.com/target/inkwell/internal/service/failurenotifier"
)

// ErrIssueNotFound is returned by a worker whose job references a missing issue.
var ErrIssueNotFound = errors.New("issue not found")

// Messages returned in WorkResult and stored as job errors.
const (
	msgAlreadyProcessed       = "job already processed"
	msgIssueNotFound          = "issue not found"
	msgValidationFailed       = "validation failed"
	msgUnableToLoadDeliveries = "unable to load deliveries"
	msgInvalidPayload         = "invalid newsletter payload"
	msgNoLongerProcessing     = "job no longer processing"
)

// WorkResult reports what one worker invocation did.
type WorkResult struct {
	Processed int    `json:"processed"`
	JobID     string `json:"jobId,omitempty"`
	IssueID   string `json:"issueId,omitempty"`
	Message   string `json:"message,omitempty"`
}

// WorkerDeps groups the dependencies shared by the job workers.
type WorkerDeps struct {
	Jobs            core.JobRepository       // Required: job repository
	TimeProvider    data.TimeProvider        // Optional: defaults to the system clock
	Metrics         *metrics.Recorder        // Optional: Prometheus recorder
	FailureNotifier *failurenotifier.Service // Optional: failure notification fan-out
	Logger          *slog.Logger             // Optional: structured logger
}

// jobRunner holds the claim and finish steps shared by the workers.
type jobRunner struct {
	jobs     core.JobRepository
	jobType  model.JobType
	clock    data.TimeProvider
	metrics  *metrics.Recorder
	notifier *failurenotifier.Service
	logger   *slog.Logger
}

func newJobRunner(jobType model.JobType, deps WorkerDeps, component string) (jobRunner, error) {
	if deps.Jobs == nil {
		return jobRunner{}, errors.New("JobRepository is required")
	}
	clock := deps.TimeProvider
	if clock == nil {
		clock = &data.RealTimeProvider{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return jobRunner{
		jobs:     deps.Jobs,
		jobType:  jobType,
		clock:    clock,
		metrics:  deps.Metrics,
		notifier: deps.FailureNotifier,
		logger:   logger.With("component", component),
	}, nil
}

// claim selects and claims a job. An empty jobID selects the oldest queued
// job of the runner's type. When nothing was claimed it returns a nil job
// and the no-op result to report.
func (r *jobRunner) claim(ctx context.Context, jobID string) (*model.Job, *WorkResult, error) {
	start := time.Now()
	job, noop, err := r.selectJob(ctx, jobID)
	if err != nil {
		r.emit(metrics.TransitionClaim, metrics.ResultError, start, err)
		return nil, nil, err
	}
	if noop != nil {
		r.emit(metrics.TransitionClaim, metrics.ResultNoop, start, nil)
		return nil, noop, nil
	}

	claimed, ok, err := r.jobs.Claim(ctx, job.ID)
	if err != nil {
		r.emit(metrics.TransitionClaim, metrics.ResultError, start, err)
		return nil, nil, fmt.Errorf("claim job %s: %w", job.ID, err)
	}
	if !ok {
		r.logger.InfoContext(ctx, "job claimed elsewhere", "job_id", job.ID, "job_type", r.jobType)
		r.emit(metrics.TransitionClaim, metrics.ResultNoop, start, nil)
		return nil, &WorkResult{JobID: job.ID, Message: msgAlreadyProcessed}, nil
	}

	r.emit(metrics.TransitionClaim, metrics.ResultSuccess, start, nil)
	r.logger.DebugContext(ctx, "job claimed",
		"job_id", claimed.ID,
		"job_type", claimed.Type,
		"issue_id", claimed.IssueID,
		"attempts", claimed.Attempts,
	)
	return claimed, nil, nil
}

func (r *jobRunner) selectJob(ctx context.Context, jobID string) (*model.Job, *WorkResult, error) {
	if jobID == "" {
		job, err := r.jobs.OldestQueued(ctx, r.jobType)
		if errors.Is(err, model.ErrNoJobsAvailable) {
			return nil, &WorkResult{}, nil
		}
		if err != nil {
			return nil, nil, fmt.Errorf("find queued %s job: %w", r.jobType, err)
		}
		return job, nil, nil
	}

	job, err := r.jobs.GetByID(ctx, jobID)
	if errors.Is(err, data.ErrJobNotFound) {
		return nil, &WorkResult{}, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("get job %s: %w", jobID, err)
	}
	// A job of another type is treated as absent.
	if job.Type != r.jobType {
		return nil, &WorkResult{}, nil
	}
	if job.Status != model.JobStatusQueued {
		return nil, &WorkResult{JobID: job.ID, Message: msgAlreadyProcessed}, nil
	}
	return job, nil, nil
}

// succeed marks the job succeeded.
func (r *jobRunner) succeed(ctx context.Context, job *model.Job, start time.Time) error {
	ok, err := r.jobs.Finish(ctx, model.FinishJobRequest{ID: job.ID, Status: model.JobStatusSucceeded})
	if err != nil {
		r.emit(metrics.TransitionProcess, metrics.ResultError, start, err)
		return fmt.Errorf("mark job %s succeeded: %w", job.ID, err)
	}
	if !ok {
		r.logger.WarnContext(ctx, "job left processing before completion", "job_id", job.ID)
	}
	r.emit(metrics.TransitionProcess, metrics.ResultSuccess, start, nil)
	return nil
}

// fail marks the job failed with reason and fans the failure out.
func (r *jobRunner) fail(ctx context.Context, job *model.Job, reason string, cause error, start time.Time) error {
	r.emit(metrics.TransitionProcess, metrics.ResultError, start, cause)

	ok, err := r.jobs.Finish(ctx, model.FinishJobRequest{
		ID:     job.ID,
		Status: model.JobStatusFailed,
		Error:  reason,
	})
	if err != nil {
		return fmt.Errorf("mark job %s failed: %w", job.ID, err)
	}
	if !ok {
		r.logger.WarnContext(ctx, "job left processing before failure was recorded", "job_id", job.ID)
		return nil
	}

	r.logger.WarnContext(ctx, "job failed",
		"job_id", job.ID,
		"job_type", job.Type,
		"issue_id", job.IssueID,
		"reason", reason,
		"error", cause,
	)

	if r.notifier.Enabled() {
		class := ""
		if cause != nil {
			class = obserrors.Classify(cause)
		}
		r.notifier.NotifyJob(ctx, job, reason, class)
	}
	return nil
}

func (r *jobRunner) emit(transition, result string, start time.Time, err error) {
	r.metrics.EmitJobLifecycle(metrics.JobMetric{
		JobType:    string(r.jobType),
		Transition: transition,
		Result:     result,
		Duration:   time.Since(start),
		Err:        err,
	})
}
