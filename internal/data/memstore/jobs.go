package memstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/target/inkwell/internal/core"
	"github.com/target/inkwell/internal/data"
	"github.com/target/inkwell/internal/domain/model"
)

// Jobs implements core.JobRepository and core.ReaperRepository.
type Jobs struct{ s *Store }

var (
	_ core.JobRepository    = (*Jobs)(nil)
	_ core.ReaperRepository = (*Jobs)(nil)
)

func (s *Store) hasActiveLocked(issueID string, jobType model.JobType) bool {
	for _, row := range s.jobs {
		if row.job.IssueID == issueID && row.job.Type == jobType && row.job.IsActive() {
			return true
		}
	}
	return false
}

func (s *Store) insertJobLocked(issueID string, jobType model.JobType) (*model.Job, error) {
	if _, ok := s.issues[issueID]; !ok {
		return nil, data.ErrIssueNotFound
	}
	if s.hasActiveLocked(issueID, jobType) {
		return nil, data.ErrActiveJobExists
	}
	now := s.now()
	row := &jobRow{
		job: model.Job{
			ID:        newID(),
			IssueID:   issueID,
			Type:      jobType,
			Status:    model.JobStatusQueued,
			CreatedAt: now,
			UpdatedAt: now,
		},
		seq: s.nextSeq(),
	}
	s.jobs[row.job.ID] = row
	return cloneJob(&row.job), nil
}

func cloneJob(j *model.Job) *model.Job {
	out := *j
	out.Error = clonePtr(j.Error)
	out.ClaimedAt = clonePtr(j.ClaimedAt)
	out.CompletedAt = clonePtr(j.CompletedAt)
	return &out
}

// Create inserts a queued job.
func (r *Jobs) Create(_ context.Context, req *model.CreateJobRequest) (*model.Job, error) {
	if req == nil {
		return nil, errors.New("create job request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.injected("jobs.Create"); err != nil {
		return nil, err
	}
	return r.s.insertJobLocked(trimmed(req.IssueID), req.Type)
}

// HasActive reports whether a queued or processing job exists for the pair.
func (r *Jobs) HasActive(_ context.Context, issueID string, jobType model.JobType) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.injected("jobs.HasActive"); err != nil {
		return false, err
	}
	return r.s.hasActiveLocked(issueID, jobType), nil
}

// GetByID returns data.ErrJobNotFound for unknown ids.
func (r *Jobs) GetByID(_ context.Context, id string) (*model.Job, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.injected("jobs.GetByID"); err != nil {
		return nil, err
	}
	row, ok := r.s.jobs[id]
	if !ok {
		return nil, data.ErrJobNotFound
	}
	return cloneJob(&row.job), nil
}

// OldestQueued returns the earliest queued job of jobType.
func (r *Jobs) OldestQueued(_ context.Context, jobType model.JobType) (*model.Job, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.injected("jobs.OldestQueued"); err != nil {
		return nil, err
	}
	var best *jobRow
	for _, row := range r.s.jobs {
		if row.job.Type != jobType || row.job.Status != model.JobStatusQueued {
			continue
		}
		if best == nil || row.job.CreatedAt.Before(best.job.CreatedAt) ||
			(row.job.CreatedAt.Equal(best.job.CreatedAt) && row.seq < best.seq) {
			best = row
		}
	}
	if best == nil {
		return nil, model.ErrNoJobsAvailable
	}
	return cloneJob(&best.job), nil
}

// Claim moves a queued job to processing.
func (r *Jobs) Claim(_ context.Context, id string) (*model.Job, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.injected("jobs.Claim"); err != nil {
		return nil, false, err
	}
	row, ok := r.s.jobs[id]
	if !ok || row.job.Status != model.JobStatusQueued {
		return nil, false, nil
	}
	now := r.s.now()
	row.job.Status = model.JobStatusProcessing
	row.job.Attempts++
	row.job.ClaimedAt = timePtr(now)
	row.job.UpdatedAt = now
	return cloneJob(&row.job), true, nil
}

func (s *Store) finishLocked(req model.FinishJobRequest) bool {
	row, ok := s.jobs[req.ID]
	if !ok || row.job.Status != model.JobStatusProcessing {
		return false
	}
	now := s.now()
	row.job.Status = req.Status
	row.job.Error = strPtr(req.Error)
	row.job.CompletedAt = timePtr(now)
	row.job.UpdatedAt = now
	return true
}

// Finish moves a processing job to a terminal status.
func (r *Jobs) Finish(_ context.Context, req model.FinishJobRequest) (bool, error) {
	if err := req.Validate(); err != nil {
		return false, fmt.Errorf("invalid request: %w", err)
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.injected("jobs.Finish"); err != nil {
		return false, err
	}
	return r.s.finishLocked(req), nil
}

// ListByIssue returns the newest jobs first.
func (r *Jobs) ListByIssue(_ context.Context, issueID string, limit int) ([]*model.Job, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.injected("jobs.ListByIssue"); err != nil {
		return nil, err
	}
	rows := make([]*jobRow, 0)
	for _, row := range r.s.jobs {
		if row.job.IssueID == issueID {
			rows = append(rows, row)
		}
	}
	sortBy(rows, func(a, b *jobRow) bool { return a.seq > b.seq })
	out := make([]*model.Job, 0, len(rows))
	for i, row := range rows {
		if i >= limitOr(limit, 50) {
			break
		}
		out = append(out, cloneJob(&row.job))
	}
	return out, nil
}

// Stats counts jobs by type and status.
func (r *Jobs) Stats(_ context.Context) (*core.JobStats, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stats := &core.JobStats{Counts: make(map[model.JobType]map[model.JobStatus]int)}
	for _, row := range r.s.jobs {
		if stats.Counts[row.job.Type] == nil {
			stats.Counts[row.job.Type] = make(map[model.JobStatus]int)
		}
		stats.Counts[row.job.Type][row.job.Status]++
	}
	return stats, nil
}

// RecoverStaleJobs requeues or fails processing jobs claimed before the cutoff.
func (r *Jobs) RecoverStaleJobs(_ context.Context, params core.RecoverStaleJobsParams) (core.RecoverStaleJobsResult, error) {
	var res core.RecoverStaleJobsResult
	if params.StaleAfter <= 0 || params.MaxAttempts <= 0 || params.BatchSize <= 0 {
		return res, errors.New("stale after, max attempts and batch size must be positive")
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.injected("jobs.RecoverStaleJobs"); err != nil {
		return res, err
	}

	now := r.s.now()
	cutoff := now.Add(-params.StaleAfter)
	stale := make([]*jobRow, 0)
	for _, row := range r.s.jobs {
		if row.job.Status == model.JobStatusProcessing && row.job.ClaimedAt != nil && row.job.ClaimedAt.Before(cutoff) {
			stale = append(stale, row)
		}
	}
	sortBy(stale, func(a, b *jobRow) bool { return a.job.ClaimedAt.Before(*b.job.ClaimedAt) })
	if len(stale) > params.BatchSize {
		stale = stale[:params.BatchSize]
	}
	for _, row := range stale {
		row.job.UpdatedAt = now
		if row.job.Attempts < params.MaxAttempts {
			row.job.Status = model.JobStatusQueued
			row.job.ClaimedAt = nil
			res.Requeued++
			continue
		}
		row.job.Status = model.JobStatusFailed
		row.job.Error = strPtr(model.LeaseExpiredError)
		row.job.CompletedAt = timePtr(now)
		res.Failed++
	}
	return res, nil
}
