package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/target/inkwell/internal/core"
	"github.com/target/inkwell/internal/domain/model"
	apperrors "github.com/target/inkwell/internal/errors"
)

// RepoConfig holds configuration options shared by the Postgres repositories.
type RepoConfig struct {
	Logger       *slog.Logger
	TimeProvider TimeProvider
}

func (c RepoConfig) clock() TimeProvider {
	if c.TimeProvider == nil {
		return &RealTimeProvider{}
	}
	return c.TimeProvider
}

// JobRepo provides database operations for job management.
type JobRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
}

var (
	_ core.JobRepository    = (*JobRepo)(nil)
	_ core.ReaperRepository = (*JobRepo)(nil)
)

// NewJobRepo creates a new JobRepo instance with the given database connection and configuration.
func NewJobRepo(db *sql.DB, cfg RepoConfig) *JobRepo {
	return &JobRepo{
		DB:           db,
		timeProvider: cfg.clock(),
		logger:       cfg.Logger,
	}
}

const jobColumns = `
  id,
  issue_id,
  type,
  status,
  attempts,
  error,
  claimed_at,
  created_at,
  updated_at,
  completed_at
`

const maxJobListLimit = 100

type jobRowData struct {
	errMsg                 sql.NullString
	claimedAt, completedAt sql.NullTime
}

func (d *jobRowData) scanInto(scanner rowScanner, job *model.Job) error {
	return scanner.Scan(
		&job.ID,
		&job.IssueID,
		&job.Type,
		&job.Status,
		&job.Attempts,
		&d.errMsg,
		&d.claimedAt,
		&job.CreatedAt,
		&job.UpdatedAt,
		&d.completedAt,
	)
}

func (d *jobRowData) apply(job *model.Job) {
	job.Error = cloneNullableString(d.errMsg)
	job.ClaimedAt = cloneNullableTime(d.claimedAt)
	job.CompletedAt = cloneNullableTime(d.completedAt)
	job.CreatedAt = job.CreatedAt.UTC()
	job.UpdatedAt = job.UpdatedAt.UTC()
}

func scanJob(scanner rowScanner) (*model.Job, error) {
	job := &model.Job{}
	var data jobRowData
	if err := data.scanInto(scanner, job); err != nil {
		return nil, err
	}
	data.apply(job)
	return job, nil
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const insertJobSQL = `
	INSERT INTO jobs (issue_id, type, status, attempts, created_at, updated_at)
	VALUES ($1, $2, 'queued', 0, $3, $3)
	RETURNING ` + jobColumns

// Create inserts a queued job. A hit on the active-job index returns ErrActiveJobExists.
func (r *JobRepo) Create(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error) {
	if req == nil {
		return nil, errors.New("create job request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	if !validID(req.IssueID) {
		return nil, ErrIssueNotFound
	}
	return insertJob(ctx, r.DB, req, r.timeProvider.Now().UTC())
}

func insertJob(ctx context.Context, q queryer, req *model.CreateJobRequest, now time.Time) (*model.Job, error) {
	job, err := scanJob(q.QueryRowContext(ctx, insertJobSQL, strings.TrimSpace(req.IssueID), req.Type, now))
	if err != nil {
		if apperrors.IsUniqueViolation(err, activeJobConstraint) {
			return nil, ErrActiveJobExists
		}
		if apperrors.IsConflict(apperrors.MapDBError(err)) {
			// Remaining conflicts are the issue foreign key.
			return nil, ErrIssueNotFound
		}
		return nil, fmt.Errorf("insert job: %w", err)
	}
	return job, nil
}

// HasActive reports whether a queued or processing job exists for the issue and type.
func (r *JobRepo) HasActive(ctx context.Context, issueID string, jobType model.JobType) (bool, error) {
	if !validID(issueID) {
		return false, nil
	}
	var exists bool
	err := r.DB.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM jobs
			WHERE issue_id = $1 AND type = $2 AND status IN ('queued', 'processing')
		)`, issueID, jobType).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check active job: %w", err)
	}
	return exists, nil
}

// GetByID retrieves a job by its ID.
func (r *JobRepo) GetByID(ctx context.Context, id string) (*model.Job, error) {
	if !validID(id) {
		return nil, ErrJobNotFound
	}
	job, err := scanJob(r.DB.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// OldestQueued returns the earliest-created queued job of the given type.
func (r *JobRepo) OldestQueued(ctx context.Context, jobType model.JobType) (*model.Job, error) {
	if !jobType.Valid() {
		return nil, fmt.Errorf("invalid job type: %s", jobType)
	}
	job, err := scanJob(r.DB.QueryRowContext(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE type = $1 AND status = 'queued'
		ORDER BY created_at ASC, id ASC
		LIMIT 1`, jobType))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrNoJobsAvailable
		}
		return nil, fmt.Errorf("select oldest queued job: %w", err)
	}
	return job, nil
}

// Claim moves a queued job to processing. A job that is no longer queued
// yields (nil, false, nil).
func (r *JobRepo) Claim(ctx context.Context, id string) (*model.Job, bool, error) {
	if !validID(id) {
		return nil, false, nil
	}
	now := r.timeProvider.Now().UTC()
	job, err := scanJob(r.DB.QueryRowContext(ctx, `
		UPDATE jobs
		SET status = 'processing',
		    attempts = attempts + 1,
		    claimed_at = $2,
		    updated_at = $2
		WHERE id = $1 AND status = 'queued'
		RETURNING `+jobColumns, id, now))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("claim job: %w", err)
	}
	return job, true, nil
}

const finishJobSQL = `
	UPDATE jobs
	SET status = $2,
	    error = $3,
	    completed_at = $4,
	    updated_at = $4
	WHERE id = $1 AND status = 'processing'
`

// Finish moves a processing job to a terminal status. It returns false when
// the job was not processing.
func (r *JobRepo) Finish(ctx context.Context, req model.FinishJobRequest) (bool, error) {
	if err := req.Validate(); err != nil {
		return false, fmt.Errorf("invalid request: %w", err)
	}
	if !validID(req.ID) {
		return false, nil
	}
	return finishJob(ctx, r.DB, req, r.timeProvider.Now().UTC())
}

func finishJob(ctx context.Context, q queryer, req model.FinishJobRequest, now time.Time) (bool, error) {
	res, err := q.ExecContext(ctx, finishJobSQL, req.ID, req.Status, nullString(req.Error), now)
	if err != nil {
		return false, fmt.Errorf("finish job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("finish job rows affected: %w", err)
	}
	return n > 0, nil
}

// ListByIssue returns the newest jobs for an issue first.
func (r *JobRepo) ListByIssue(ctx context.Context, issueID string, limit int) ([]*model.Job, error) {
	if !validID(issueID) {
		return []*model.Job{}, nil
	}
	rows, err := r.DB.QueryContext(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE issue_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, issueID, clampLimit(limit, 50, maxJobListLimit))
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]*model.Job, 0)
	for rows.Next() {
		job, scanErr := scanJob(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan job: %w", scanErr)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}

// Stats counts jobs grouped by type and status.
func (r *JobRepo) Stats(ctx context.Context) (*core.JobStats, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT type, status, count(*) FROM jobs GROUP BY type, status`)
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close()

	stats := &core.JobStats{Counts: make(map[model.JobType]map[model.JobStatus]int)}
	for rows.Next() {
		var (
			jt    model.JobType
			st    model.JobStatus
			count int
		)
		if scanErr := rows.Scan(&jt, &st, &count); scanErr != nil {
			return nil, fmt.Errorf("scan job stats: %w", scanErr)
		}
		if stats.Counts[jt] == nil {
			stats.Counts[jt] = make(map[model.JobStatus]int)
		}
		stats.Counts[jt][st] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job stats: %w", err)
	}
	return stats, nil
}
