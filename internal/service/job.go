package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/target/inkwell/internal/core"
	"github.com/target/inkwell/internal/data"
	"github.com/target/inkwell/internal/domain/model"
	apperrors "github.com/target/inkwell/internal/errors"
)

// Default list limits for the read endpoints.
const (
	DefaultJobListLimit      = 50
	DefaultDeliveryListLimit = 100
	MaxListLimit             = 500
)

// JobServiceOptions groups dependencies for JobService.
type JobServiceOptions struct {
	Jobs       core.JobRepository      // Required: job repository
	Issues     core.IssueRepository    // Required: issue repository
	Deliveries core.DeliveryRepository // Required: delivery repository
	Logger     *slog.Logger            // Optional: structured logger
}

// JobService answers status queries about jobs and the deliveries they produce.
type JobService struct {
	jobs       core.JobRepository
	issues     core.IssueRepository
	deliveries core.DeliveryRepository
	logger     *slog.Logger
}

// NewJobService constructs a new JobService.
func NewJobService(opts JobServiceOptions) (*JobService, error) {
	if opts.Jobs == nil {
		return nil, errors.New("JobRepository is required")
	}
	if opts.Issues == nil {
		return nil, errors.New("IssueRepository is required")
	}
	if opts.Deliveries == nil {
		return nil, errors.New("DeliveryRepository is required")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "job_service")
	}

	return &JobService{
		jobs:       opts.Jobs,
		issues:     opts.Issues,
		deliveries: opts.Deliveries,
		logger:     logger,
	}, nil
}

// MustNewJobService constructs a new JobService and panics on error.
// Use this when you're certain the options are valid (e.g., in main.go).
func MustNewJobService(opts JobServiceOptions) *JobService {
	svc, err := NewJobService(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create JobService: %v", err))
	}
	return svc
}

// GetByID returns the job or a not found AppError.
func (s *JobService) GetByID(ctx context.Context, id string) (*model.Job, error) {
	job, err := s.jobs.GetByID(ctx, id)
	if errors.Is(err, data.ErrJobNotFound) {
		return nil, apperrors.NotFoundf("job %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ListByIssue returns the newest jobs of an issue first.
func (s *JobService) ListByIssue(ctx context.Context, issueID string, limit int) ([]*model.Job, error) {
	if err := s.requireIssue(ctx, issueID); err != nil {
		return nil, err
	}
	jobs, err := s.jobs.ListByIssue(ctx, issueID, clampLimit(limit, DefaultJobListLimit))
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

// ListDeliveries returns every delivery of an issue, oldest first.
func (s *JobService) ListDeliveries(ctx context.Context, issueID string, limit int) ([]*model.Delivery, error) {
	if err := s.requireIssue(ctx, issueID); err != nil {
		return nil, err
	}
	deliveries, err := s.deliveries.ListByIssue(ctx, issueID, clampLimit(limit, DefaultDeliveryListLimit))
	if err != nil {
		return nil, fmt.Errorf("list deliveries: %w", err)
	}
	return deliveries, nil
}

// Stats counts jobs by type and status.
func (s *JobService) Stats(ctx context.Context) (*core.JobStats, error) {
	stats, err := s.jobs.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	if s.logger != nil {
		s.logger.DebugContext(ctx, "job stats computed", "types", len(stats.Counts))
	}
	return stats, nil
}

func (s *JobService) requireIssue(ctx context.Context, issueID string) error {
	_, err := s.issues.GetByID(ctx, issueID)
	if errors.Is(err, data.ErrIssueNotFound) {
		return apperrors.NotFoundf("issue %s not found", issueID)
	}
	if err != nil {
		return fmt.Errorf("get issue: %w", err)
	}
	return nil
}

func clampLimit(limit, def int) int {
	switch {
	case limit <= 0:
		return def
	case limit > MaxListLimit:
		return MaxListLimit
	default:
		return limit
	}
}
