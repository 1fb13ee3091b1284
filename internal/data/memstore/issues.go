package memstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/target/inkwell/internal/core"
	"github.com/target/inkwell/internal/data"
	"github.com/target/inkwell/internal/domain/model"
)

// Issues implements core.IssueRepository.
type Issues struct{ s *Store }

var _ core.IssueRepository = (*Issues)(nil)

func cloneIssue(i *model.Issue) *model.Issue {
	out := *i
	out.Subject = clonePtr(i.Subject)
	out.Preheader = clonePtr(i.Preheader)
	out.ContentJSON = cloneRaw(i.ContentJSON)
	out.ContentHTML = clonePtr(i.ContentHTML)
	out.ModelUsed = clonePtr(i.ModelUsed)
	out.ScheduledAt = clonePtr(i.ScheduledAt)
	out.GeneratedAt = clonePtr(i.GeneratedAt)
	return &out
}

// ListDueForGeneration returns pending or scheduled issues due at or before now.
func (r *Issues) ListDueForGeneration(_ context.Context, now time.Time, limit int) ([]*model.Issue, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.injected("issues.ListDueForGeneration"); err != nil {
		return nil, err
	}
	rows := make([]*issueRow, 0)
	for _, row := range r.s.issues {
		st := row.issue.Status
		if (st == model.IssueStatusPending || st == model.IssueStatusScheduled) &&
			row.issue.ScheduledAt != nil && !row.issue.ScheduledAt.After(now) {
			rows = append(rows, row)
		}
	}
	sortBy(rows, func(a, b *issueRow) bool {
		if a.issue.ScheduledAt.Equal(*b.issue.ScheduledAt) {
			return a.seq < b.seq
		}
		return a.issue.ScheduledAt.Before(*b.issue.ScheduledAt)
	})
	out := make([]*model.Issue, 0, len(rows))
	for i, row := range rows {
		if i >= limitOr(limit, 25) {
			break
		}
		out = append(out, cloneIssue(&row.issue))
	}
	return out, nil
}

// GetByID returns data.ErrIssueNotFound for unknown ids.
func (r *Issues) GetByID(_ context.Context, id string) (*model.Issue, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.injected("issues.GetByID"); err != nil {
		return nil, err
	}
	row, ok := r.s.issues[id]
	if !ok {
		return nil, data.ErrIssueNotFound
	}
	return cloneIssue(&row.issue), nil
}

func (s *Store) insertIssueLocked(req *model.CreateIssueRequest) (*model.Issue, error) {
	if trimmed(req.UserID) == "" {
		return nil, errors.New("user_id is required")
	}
	status := req.Status
	if status == "" {
		status = model.IssueStatusPending
	}
	if !status.Valid() {
		return nil, fmt.Errorf("invalid issue status: %q", status)
	}
	now := s.now()
	issue := model.Issue{
		ID:          newID(),
		UserID:      trimmed(req.UserID),
		Status:      status,
		Subject:     strPtr(req.Subject),
		Preheader:   strPtr(req.Preheader),
		ContentJSON: cloneRaw(req.ContentJSON),
		ContentHTML: strPtr(req.ContentHTML),
		ModelUsed:   strPtr(req.ModelUsed),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if !req.ScheduledAt.IsZero() {
		issue.ScheduledAt = timePtr(req.ScheduledAt.UTC())
	}
	if status == model.IssueStatusGenerated {
		issue.GeneratedAt = timePtr(now)
	}
	s.issues[issue.ID] = &issueRow{issue: issue, seq: s.nextSeq()}
	return cloneIssue(&issue), nil
}

// Create inserts an issue.
func (r *Issues) Create(_ context.Context, req *model.CreateIssueRequest) (*model.Issue, error) {
	if req == nil {
		return nil, errors.New("create issue request is required")
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.injected("issues.Create"); err != nil {
		return nil, err
	}
	return r.s.insertIssueLocked(req)
}

func (s *Store) applyContentLocked(update model.IssueContentUpdate) (*model.Issue, error) {
	row, ok := s.issues[update.IssueID]
	if !ok {
		return nil, data.ErrIssueNotFound
	}
	now := s.now()
	generatedAt := update.GeneratedAt
	if generatedAt.IsZero() {
		generatedAt = now
	}
	row.issue.Subject = strPtr(update.Subject)
	row.issue.Preheader = strPtr(update.Preheader)
	row.issue.ContentJSON = cloneRaw(update.ContentJSON)
	row.issue.ContentHTML = strPtr(update.ContentHTML)
	if update.ModelUsed != nil {
		row.issue.ModelUsed = clonePtr(update.ModelUsed)
	}
	row.issue.GeneratedAt = timePtr(generatedAt.UTC())
	row.issue.Status = model.IssueStatusGenerated
	row.issue.UpdatedAt = now
	return cloneIssue(&row.issue), nil
}

// SaveContent stores content and marks the issue generated.
func (r *Issues) SaveContent(_ context.Context, update model.IssueContentUpdate) (*model.Issue, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.injected("issues.SaveContent"); err != nil {
		return nil, err
	}
	return r.s.applyContentLocked(update)
}

// MarkSent moves a generated issue to sent.
func (r *Issues) MarkSent(_ context.Context, id string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.injected("issues.MarkSent"); err != nil {
		return false, err
	}
	row, ok := r.s.issues[id]
	if !ok || row.issue.Status != model.IssueStatusGenerated {
		return false, nil
	}
	row.issue.Status = model.IssueStatusSent
	row.issue.UpdatedAt = r.s.now()
	return true, nil
}

// CompleteGeneration applies content and finishes the job atomically.
func (r *Issues) CompleteGeneration(_ context.Context, params core.CompleteGenerationParams) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.injected("issues.CompleteGeneration"); err != nil {
		return err
	}
	if _, ok := r.s.issues[params.Content.IssueID]; !ok {
		return data.ErrIssueNotFound
	}
	job, ok := r.s.jobs[params.JobID]
	if !ok || job.job.Status != model.JobStatusProcessing {
		return fmt.Errorf("complete job %s: %w", params.JobID, data.ErrJobNotProcessing)
	}
	if _, err := r.s.applyContentLocked(params.Content); err != nil {
		return err
	}
	r.s.finishLocked(model.FinishJobRequest{ID: params.JobID, Status: model.JobStatusSucceeded})
	return nil
}

// CreateWithDelivery inserts the issue, delivery and send job atomically.
func (r *Issues) CreateWithDelivery(_ context.Context, params core.CreateWithDeliveryParams) (*core.CreatedIssue, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.injected("issues.CreateWithDelivery"); err != nil {
		return nil, err
	}
	if trimmed(params.Delivery.ToEmail) == "" {
		return nil, errors.New("to_email is required")
	}
	issue, err := r.s.insertIssueLocked(&params.Issue)
	if err != nil {
		return nil, err
	}
	req := params.Delivery
	req.IssueID = issue.ID
	delivery := r.s.insertDeliveryLocked(&req)
	job, err := r.s.insertJobLocked(issue.ID, model.JobTypeSend)
	if err != nil {
		delete(r.s.deliveries, delivery.ID)
		delete(r.s.issues, issue.ID)
		return nil, err
	}
	return &core.CreatedIssue{Issue: issue, Delivery: delivery, Job: job}, nil
}
