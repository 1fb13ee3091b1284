package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/target/inkwell/config"
	"github.com/target/inkwell/internal/core"
	"github.com/target/inkwell/internal/data"
	"github.com/target/inkwell/internal/domain/model"
	"github.com/target/inkwell/internal/observability/metrics"
)

// DispatchFailure records one candidate that could not be enqueued.
type DispatchFailure struct {
	IssueID string `json:"issueId"`
	Reason  string `json:"reason"`
}

// DispatchResult reports the outcome of one dispatch call.
type DispatchResult struct {
	Queued   int               `json:"queued"`
	Failures []DispatchFailure `json:"failures,omitempty"`
	// Skipped is set when another invocation held the dispatch lock.
	Skipped bool `json:"skipped,omitempty"`
}

// DispatcherOptions groups dependencies for Dispatcher.
type DispatcherOptions struct {
	Jobs         core.JobRepository      // Required: job repository
	Issues       core.IssueRepository    // Required: issue repository
	Deliveries   core.DeliveryRepository // Required: delivery repository
	TimeProvider data.TimeProvider       // Optional: defaults to the system clock
	Config       config.DispatchConfig   // Optional: zero values fall back to defaults
	Locker       core.Locker             // Optional: serializes overlapping dispatches
	Metrics      *metrics.Recorder       // Optional: Prometheus recorder
	Logger       *slog.Logger            // Optional: structured logger
}

// Dispatcher finds due issues and deliveries and enqueues generate and send jobs.
// It only inserts jobs. At most one active job per (issue, type) is kept by
// the existence check and the store's active-job constraint.
type Dispatcher struct {
	jobs       core.JobRepository
	issues     core.IssueRepository
	deliveries core.DeliveryRepository
	clock      data.TimeProvider
	cfg        config.DispatchConfig
	locker     core.Locker
	metrics    *metrics.Recorder
	logger     *slog.Logger
}

// DefaultDispatchBatchSize is used when no batch size is configured.
const DefaultDispatchBatchSize = 25

// NewDispatcher constructs a new Dispatcher.
func NewDispatcher(opts DispatcherOptions) (*Dispatcher, error) {
	if opts.Jobs == nil {
		return nil, errors.New("JobRepository is required")
	}
	if opts.Issues == nil {
		return nil, errors.New("IssueRepository is required")
	}
	if opts.Deliveries == nil {
		return nil, errors.New("DeliveryRepository is required")
	}

	clock := opts.TimeProvider
	if clock == nil {
		clock = &data.RealTimeProvider{}
	}
	cfg := opts.Config
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultDispatchBatchSize
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Dispatcher{
		jobs:       opts.Jobs,
		issues:     opts.Issues,
		deliveries: opts.Deliveries,
		clock:      clock,
		cfg:        cfg,
		locker:     opts.Locker,
		metrics:    opts.Metrics,
		logger:     logger.With("component", "dispatcher"),
	}, nil
}

// DispatchGeneration enqueues a generate job for each due issue without one.
// Only a failure to scan for candidates is returned as an error.
func (d *Dispatcher) DispatchGeneration(ctx context.Context) (DispatchResult, error) {
	return d.dispatch(ctx, model.JobTypeGenerate, func(ctx context.Context, now time.Time) ([]string, error) {
		issues, err := d.issues.ListDueForGeneration(ctx, now, d.cfg.BatchSize)
		if err != nil {
			return nil, fmt.Errorf("list issues due for generation: %w", err)
		}
		ids := make([]string, 0, len(issues))
		for _, issue := range issues {
			ids = append(ids, issue.ID)
		}
		return ids, nil
	})
}

// DispatchSend enqueues one send job per distinct issue with due deliveries.
// Issues keep the order of their earliest due delivery.
func (d *Dispatcher) DispatchSend(ctx context.Context) (DispatchResult, error) {
	return d.dispatch(ctx, model.JobTypeSend, func(ctx context.Context, now time.Time) ([]string, error) {
		deliveries, err := d.deliveries.ListDue(ctx, now, d.cfg.BatchSize)
		if err != nil {
			return nil, fmt.Errorf("list due deliveries: %w", err)
		}
		return groupByIssue(deliveries), nil
	})
}

type candidateScan func(ctx context.Context, now time.Time) ([]string, error)

func (d *Dispatcher) dispatch(ctx context.Context, jobType model.JobType, scan candidateScan) (DispatchResult, error) {
	release, acquired := d.acquire(ctx, jobType)
	if !acquired {
		d.metrics.DispatchSkipped(string(jobType))
		d.logger.InfoContext(ctx, "dispatch already running elsewhere", "job_type", jobType)
		return DispatchResult{Skipped: true}, nil
	}
	defer release()

	issueIDs, err := scan(ctx, d.clock.Now())
	if err != nil {
		return DispatchResult{}, err
	}

	var result DispatchResult
	for _, issueID := range issueIDs {
		queued, reason := d.enqueue(ctx, issueID, jobType)
		if reason != "" {
			result.Failures = append(result.Failures, DispatchFailure{IssueID: issueID, Reason: reason})
			continue
		}
		if queued {
			result.Queued++
		}
	}

	d.metrics.DispatchQueued(string(jobType), result.Queued, len(result.Failures))
	if result.Queued > 0 || len(result.Failures) > 0 {
		d.logger.InfoContext(ctx, "dispatch completed",
			"job_type", jobType,
			"candidates", len(issueIDs),
			"queued", result.Queued,
			"failures", len(result.Failures),
		)
	}
	return result, nil
}

// enqueue inserts a job unless one is already active. It returns a non-empty
// reason when the candidate failed.
func (d *Dispatcher) enqueue(ctx context.Context, issueID string, jobType model.JobType) (bool, string) {
	active, err := d.jobs.HasActive(ctx, issueID, jobType)
	if err != nil {
		d.logger.ErrorContext(ctx, "check active job failed", "issue_id", issueID, "job_type", jobType, "error", err)
		return false, err.Error()
	}
	if active {
		return false, ""
	}

	job, err := d.jobs.Create(ctx, &model.CreateJobRequest{IssueID: issueID, Type: jobType})
	if errors.Is(err, data.ErrActiveJobExists) {
		// Another dispatcher inserted it between the check and the insert.
		return false, ""
	}
	if err != nil {
		d.logger.ErrorContext(ctx, "enqueue job failed", "issue_id", issueID, "job_type", jobType, "error", err)
		return false, err.Error()
	}

	d.logger.DebugContext(ctx, "job queued", "job_id", job.ID, "issue_id", issueID, "job_type", jobType)
	return true, ""
}

// acquire takes the overlap lock for jobType. Lock errors fall back to
// dispatching unguarded.
func (d *Dispatcher) acquire(ctx context.Context, jobType model.JobType) (func(), bool) {
	noop := func() {}
	if d.locker == nil {
		return noop, true
	}

	lease, ok, err := d.locker.TryAcquire(ctx, d.cfg.LockPrefix+string(jobType), d.cfg.LockTTL)
	if err != nil {
		d.logger.WarnContext(ctx, "dispatch lock unavailable, continuing without it", "job_type", jobType, "error", err)
		return noop, true
	}
	if !ok {
		return noop, false
	}
	return func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			d.logger.WarnContext(ctx, "release dispatch lock", "job_type", jobType, "error", err)
		}
	}, true
}

func groupByIssue(deliveries []*model.Delivery) []string {
	seen := make(map[string]struct{}, len(deliveries))
	ids := make([]string, 0, len(deliveries))
	for _, d := range deliveries {
		if _, ok := seen[d.IssueID]; ok {
			continue
		}
		seen[d.IssueID] = struct{}{}
		ids = append(ids, d.IssueID)
	}
	return ids
}
