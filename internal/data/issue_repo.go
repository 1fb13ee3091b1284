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
	"github.com/target/inkwell/internal/data/pgxutil"
	"github.com/target/inkwell/internal/domain/model"
)

// IssueRepo provides database operations for newsletter issues.
type IssueRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
}

var _ core.IssueRepository = (*IssueRepo)(nil)

// NewIssueRepo creates a new IssueRepo.
func NewIssueRepo(db *sql.DB, cfg RepoConfig) *IssueRepo {
	return &IssueRepo{DB: db, timeProvider: cfg.clock(), logger: cfg.Logger}
}

const issueColumns = `
  id,
  user_id,
  status,
  subject,
  preheader,
  content_json,
  content_html,
  model_used,
  scheduled_at,
  generated_at,
  created_at,
  updated_at
`

const maxIssueListLimit = 500

type issueRowData struct {
	subject, preheader, contentHTML, modelUsed sql.NullString
	contentJSON                                []byte
	scheduledAt, generatedAt                   sql.NullTime
}

func scanIssue(scanner rowScanner) (*model.Issue, error) {
	issue := &model.Issue{}
	var d issueRowData
	if err := scanner.Scan(
		&issue.ID,
		&issue.UserID,
		&issue.Status,
		&d.subject,
		&d.preheader,
		&d.contentJSON,
		&d.contentHTML,
		&d.modelUsed,
		&d.scheduledAt,
		&d.generatedAt,
		&issue.CreatedAt,
		&issue.UpdatedAt,
	); err != nil {
		return nil, err
	}
	issue.Subject = cloneNullableString(d.subject)
	issue.Preheader = cloneNullableString(d.preheader)
	issue.ContentJSON = cloneJSON(d.contentJSON)
	issue.ContentHTML = cloneNullableString(d.contentHTML)
	issue.ModelUsed = cloneNullableString(d.modelUsed)
	issue.ScheduledAt = cloneNullableTime(d.scheduledAt)
	issue.GeneratedAt = cloneNullableTime(d.generatedAt)
	issue.CreatedAt = issue.CreatedAt.UTC()
	issue.UpdatedAt = issue.UpdatedAt.UTC()
	return issue, nil
}

// ListDueForGeneration returns pending or scheduled issues due at or before now, earliest first.
func (r *IssueRepo) ListDueForGeneration(ctx context.Context, now time.Time, limit int) ([]*model.Issue, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT `+issueColumns+`
		FROM issues
		WHERE scheduled_at <= $1
		  AND status IN ('pending', 'scheduled')
		ORDER BY scheduled_at ASC, id ASC
		LIMIT $2`, now.UTC(), clampLimit(limit, 25, maxIssueListLimit))
	if err != nil {
		return nil, fmt.Errorf("list due issues: %w", err)
	}
	defer rows.Close()

	issues := make([]*model.Issue, 0)
	for rows.Next() {
		issue, scanErr := scanIssue(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan issue: %w", scanErr)
		}
		issues = append(issues, issue)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate issues: %w", err)
	}
	return issues, nil
}

// GetByID retrieves an issue by its ID.
func (r *IssueRepo) GetByID(ctx context.Context, id string) (*model.Issue, error) {
	if !validID(id) {
		return nil, ErrIssueNotFound
	}
	issue, err := scanIssue(r.DB.QueryRowContext(ctx, `SELECT `+issueColumns+` FROM issues WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrIssueNotFound
		}
		return nil, fmt.Errorf("get issue: %w", err)
	}
	return issue, nil
}

// MarkSent moves a generated issue to sent.
func (r *IssueRepo) MarkSent(ctx context.Context, id string) (bool, error) {
	if !validID(id) {
		return false, nil
	}
	res, err := r.DB.ExecContext(ctx, `
		UPDATE issues SET status = $2, updated_at = $3
		WHERE id = $1 AND status = $4`,
		id, model.IssueStatusSent, r.timeProvider.Now(), model.IssueStatusGenerated)
	if err != nil {
		return false, fmt.Errorf("mark issue sent: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark issue sent rows affected: %w", err)
	}
	return n == 1, nil
}

const insertIssueSQL = `
	INSERT INTO issues (user_id, status, scheduled_at, subject, preheader, content_json,
	                    content_html, model_used, generated_at, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
	RETURNING ` + issueColumns

// Create inserts an issue. Status defaults to pending.
func (r *IssueRepo) Create(ctx context.Context, req *model.CreateIssueRequest) (*model.Issue, error) {
	if req == nil {
		return nil, errors.New("create issue request is required")
	}
	return insertIssue(ctx, r.DB, req, r.timeProvider.Now().UTC())
}

func insertIssue(ctx context.Context, q queryer, req *model.CreateIssueRequest, now time.Time) (*model.Issue, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return nil, errors.New("user_id is required")
	}
	status := req.Status
	if status == "" {
		status = model.IssueStatusPending
	}
	if !status.Valid() {
		return nil, fmt.Errorf("invalid issue status: %q", status)
	}

	var scheduledAt, generatedAt sql.NullTime
	if !req.ScheduledAt.IsZero() {
		scheduledAt = sql.NullTime{Time: req.ScheduledAt.UTC(), Valid: true}
	}
	if status == model.IssueStatusGenerated {
		generatedAt = sql.NullTime{Time: now, Valid: true}
	}

	issue, err := scanIssue(q.QueryRowContext(ctx, insertIssueSQL,
		strings.TrimSpace(req.UserID),
		status,
		scheduledAt,
		nullString(req.Subject),
		nullString(req.Preheader),
		nullJSON(req.ContentJSON),
		nullString(req.ContentHTML),
		nullString(req.ModelUsed),
		generatedAt,
		now,
	))
	if err != nil {
		return nil, fmt.Errorf("insert issue: %w", err)
	}
	return issue, nil
}

const updateIssueContentSQL = `
	UPDATE issues
	SET subject = $2,
	    preheader = $3,
	    content_json = $4,
	    content_html = $5,
	    model_used = COALESCE($6, model_used),
	    generated_at = $7,
	    status = 'generated',
	    updated_at = $8
	WHERE id = $1
	RETURNING ` + issueColumns

func updateIssueContent(
	ctx context.Context,
	q queryer,
	update model.IssueContentUpdate,
	now time.Time,
) (*model.Issue, error) {
	generatedAt := update.GeneratedAt
	if generatedAt.IsZero() {
		generatedAt = now
	}
	issue, err := scanIssue(q.QueryRowContext(ctx, updateIssueContentSQL,
		update.IssueID,
		nullString(update.Subject),
		nullString(update.Preheader),
		nullJSON(update.ContentJSON),
		nullString(update.ContentHTML),
		nullStringPtr(update.ModelUsed),
		generatedAt.UTC(),
		now,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrIssueNotFound
		}
		return nil, fmt.Errorf("update issue content: %w", err)
	}
	return issue, nil
}

// SaveContent stores editor-supplied content and marks the issue generated.
func (r *IssueRepo) SaveContent(ctx context.Context, update model.IssueContentUpdate) (*model.Issue, error) {
	if !validID(update.IssueID) {
		return nil, ErrIssueNotFound
	}
	return updateIssueContent(ctx, r.DB, update, r.timeProvider.Now().UTC())
}

// CompleteGeneration writes generated content and marks the job succeeded in
// one transaction. Nothing is written when the job is no longer processing.
func (r *IssueRepo) CompleteGeneration(ctx context.Context, params core.CompleteGenerationParams) error {
	if !validID(params.Content.IssueID) {
		return ErrIssueNotFound
	}
	if !validID(params.JobID) {
		return ErrJobNotFound
	}
	now := r.timeProvider.Now().UTC()
	return pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Opts: &sql.TxOptions{Isolation: sql.LevelReadCommitted},
		Fn: func(tx *sql.Tx) error {
			if _, err := updateIssueContent(ctx, tx, params.Content, now); err != nil {
				return err
			}
			ok, err := finishJob(ctx, tx, model.FinishJobRequest{
				ID:     params.JobID,
				Status: model.JobStatusSucceeded,
			}, now)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("complete job %s: %w", params.JobID, ErrJobNotProcessing)
			}
			return nil
		},
	})
}

// CreateWithDelivery inserts a generated issue, its delivery and a queued send
// job in one transaction.
func (r *IssueRepo) CreateWithDelivery(
	ctx context.Context,
	params core.CreateWithDeliveryParams,
) (*core.CreatedIssue, error) {
	now := r.timeProvider.Now().UTC()
	var created core.CreatedIssue
	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Opts: &sql.TxOptions{Isolation: sql.LevelReadCommitted},
		Fn: func(tx *sql.Tx) error {
			issue, err := insertIssue(ctx, tx, &params.Issue, now)
			if err != nil {
				return err
			}
			deliveryReq := params.Delivery
			deliveryReq.IssueID = issue.ID
			delivery, err := insertDelivery(ctx, tx, &deliveryReq, now)
			if err != nil {
				return err
			}
			job, err := insertJob(ctx, tx, &model.CreateJobRequest{IssueID: issue.ID, Type: model.JobTypeSend}, now)
			if err != nil {
				return err
			}
			created = core.CreatedIssue{Issue: issue, Delivery: delivery, Job: job}
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	return &created, nil
}
