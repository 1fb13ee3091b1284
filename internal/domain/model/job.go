// Package model defines the core data types shared across the inkwell dispatch pipeline.
package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// JobType represents the kind of work a job performs.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type JobType string

// JobStatus represents the lifecycle state of a job.
type JobStatus string

const (
	// JobTypeGenerate fills an issue with generated content.
	JobTypeGenerate JobType = "generate"
	// JobTypeSend sends an issue's scheduled deliveries.
	JobTypeSend JobType = "send"

	// JobStatusQueued indicates a job is waiting to be claimed.
	JobStatusQueued JobStatus = "queued"
	// JobStatusProcessing indicates a worker has claimed the job.
	JobStatusProcessing JobStatus = "processing"
	// JobStatusSucceeded indicates the job finished.
	JobStatusSucceeded JobStatus = "succeeded"
	// JobStatusFailed indicates the job ended with an error.
	JobStatusFailed JobStatus = "failed"
)

// ErrNoJobsAvailable is returned when no queued job can be claimed.
var ErrNoJobsAvailable = errors.New("no jobs available")

// LeaseExpiredError is stored on jobs failed by stale job recovery.
const LeaseExpiredError = "processing lease expired"

// UnmarshalText implements encoding.TextUnmarshaler for JobType to allow env and flag parsing.
func (t *JobType) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	jt := JobType(v)
	if jt.Valid() {
		*t = jt
		return nil
	}
	return fmt.Errorf("invalid JobType: %q", v)
}

// Valid returns true if the JobType is known.
func (t JobType) Valid() bool {
	return t == JobTypeGenerate || t == JobTypeSend
}

// Valid returns true if the JobStatus is known.
func (s JobStatus) Valid() bool {
	return s == JobStatusQueued || s == JobStatusProcessing || s == JobStatusSucceeded ||
		s == JobStatusFailed
}

// Terminal reports whether no further transitions are possible.
func (s JobStatus) Terminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed
}

// ActiveJobStatuses lists the non-terminal statuses. At most one job per
// (issue, type) may hold one of these at a time.
func ActiveJobStatuses() []JobStatus {
	return []JobStatus{JobStatusQueued, JobStatusProcessing}
}

// Job is a durable work ticket for one unit of asynchronous work on an issue.
type Job struct {
	ID          string     `json:"id"                     db:"id"`
	IssueID     string     `json:"issue_id"               db:"issue_id"`
	Type        JobType    `json:"type"                   db:"type"`
	Status      JobStatus  `json:"status"                 db:"status"`
	Attempts    int        `json:"attempts"               db:"attempts"`
	Error       *string    `json:"error,omitempty"        db:"error"`
	ClaimedAt   *time.Time `json:"claimed_at,omitempty"   db:"claimed_at"`
	CreatedAt   time.Time  `json:"created_at"             db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"             db:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// IsActive reports whether the job still occupies the (issue, type) slot.
func (j *Job) IsActive() bool {
	return j != nil && !j.Status.Terminal()
}

// CreateJobRequest describes a job to enqueue.
type CreateJobRequest struct {
	IssueID string  `json:"issue_id"`
	Type    JobType `json:"type"`
}

// Validate validates the CreateJobRequest fields.
func (r *CreateJobRequest) Validate() error {
	if strings.TrimSpace(r.IssueID) == "" {
		return errors.New("issue_id is required")
	}
	if !r.Type.Valid() {
		return fmt.Errorf("invalid job type: %q", r.Type)
	}
	return nil
}

// FinishJobRequest describes a terminal transition for a processing job.
type FinishJobRequest struct {
	ID     string
	Status JobStatus
	Error  string
}

// Validate validates the FinishJobRequest fields.
func (r *FinishJobRequest) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return errors.New("job id is required")
	}
	if !r.Status.Terminal() {
		return fmt.Errorf("job status %q is not terminal", r.Status)
	}
	return nil
}
