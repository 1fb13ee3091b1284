package model

import (
	"encoding/json"
	"time"
)

// IssueStatus represents the lifecycle state of a newsletter issue.
type IssueStatus string

const (
	IssueStatusPending   IssueStatus = "pending"
	IssueStatusScheduled IssueStatus = "scheduled"
	IssueStatusGenerated IssueStatus = "generated"
	IssueStatusSent      IssueStatus = "sent"
	IssueStatusFailed    IssueStatus = "failed"
	IssueStatusCanceled  IssueStatus = "canceled"
)

// Valid returns true if the IssueStatus is known.
func (s IssueStatus) Valid() bool {
	switch s {
	case IssueStatusPending, IssueStatusScheduled, IssueStatusGenerated,
		IssueStatusSent, IssueStatusFailed, IssueStatusCanceled:
		return true
	default:
		return false
	}
}

// GenerationDueStatuses lists the issue statuses eligible for content generation.
func GenerationDueStatuses() []IssueStatus {
	return []IssueStatus{IssueStatusPending, IssueStatusScheduled}
}

// Issue is one scheduled or generated newsletter instance for a user.
type Issue struct {
	ID          string          `json:"id"                     db:"id"`
	UserID      string          `json:"user_id"                db:"user_id"`
	Status      IssueStatus     `json:"status"                 db:"status"`
	Subject     *string         `json:"subject,omitempty"      db:"subject"`
	Preheader   *string         `json:"preheader,omitempty"    db:"preheader"`
	ContentJSON json.RawMessage `json:"content_json,omitempty" db:"content_json"`
	ContentHTML *string         `json:"content_html,omitempty" db:"content_html"`
	ModelUsed   *string         `json:"model_used,omitempty"   db:"model_used"`
	ScheduledAt *time.Time      `json:"scheduled_at,omitempty" db:"scheduled_at"`
	GeneratedAt *time.Time      `json:"generated_at,omitempty" db:"generated_at"`
	CreatedAt   time.Time       `json:"created_at"             db:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"             db:"updated_at"`
}

// HasContent reports whether the issue carries stored content.
func (i *Issue) HasContent() bool {
	return i != nil && len(i.ContentJSON) > 0 && string(i.ContentJSON) != "null"
}

// CreateIssueRequest describes a new issue slot.
type CreateIssueRequest struct {
	UserID      string
	Status      IssueStatus
	ScheduledAt time.Time
	Subject     string
	Preheader   string
	ContentJSON json.RawMessage
	ContentHTML string
	ModelUsed   string
}

// IssueContentUpdate carries the fields written when an issue receives content.
type IssueContentUpdate struct {
	IssueID     string
	Subject     string
	Preheader   string
	ContentJSON json.RawMessage
	ContentHTML string
	ModelUsed   *string
	GeneratedAt time.Time
}
