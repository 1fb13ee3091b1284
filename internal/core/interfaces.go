// Package core defines the ports between the inkwell service layer and its
// storage and collaborator adapters.
package core

import (
	"context"
	"time"

	"github.com/target/inkwell/internal/domain/model"
)

// This file contains repository interface definitions (ports in hexagonal architecture).
// Service implementations depend on these interfaces, not on concrete implementations.

// Clock supplies the current time. data.TimeProvider satisfies it.
type Clock interface {
	Now() time.Time
}

// JobRepository defines the interface for job data operations.
type JobRepository interface {
	// Create inserts a queued job. It returns data.ErrActiveJobExists when a
	// non-terminal job already holds the (issue, type) slot.
	Create(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error)
	// HasActive reports whether a queued or processing job exists for the pair.
	HasActive(ctx context.Context, issueID string, jobType model.JobType) (bool, error)
	GetByID(ctx context.Context, id string) (*model.Job, error)
	// OldestQueued returns the queued job of the given type with the earliest
	// created_at, or model.ErrNoJobsAvailable.
	OldestQueued(ctx context.Context, jobType model.JobType) (*model.Job, error)
	// Claim moves a queued job to processing, incrementing attempts and setting
	// claimed_at. It returns (nil, false, nil) when the job was no longer queued.
	Claim(ctx context.Context, id string) (*model.Job, bool, error)
	// Finish moves a processing job to a terminal status.
	Finish(ctx context.Context, req model.FinishJobRequest) (bool, error)
	ListByIssue(ctx context.Context, issueID string, limit int) ([]*model.Job, error)
	Stats(ctx context.Context) (*JobStats, error)
}

// JobStats summarizes job counts by type and status.
type JobStats struct {
	Counts map[model.JobType]map[model.JobStatus]int `json:"counts"`
}

// IssueRepository defines the interface for issue data operations.
type IssueRepository interface {
	// ListDueForGeneration returns pending or scheduled issues whose scheduled_at
	// is at or before now, earliest first.
	ListDueForGeneration(ctx context.Context, now time.Time, limit int) ([]*model.Issue, error)
	GetByID(ctx context.Context, id string) (*model.Issue, error)
	Create(ctx context.Context, req *model.CreateIssueRequest) (*model.Issue, error)
	// SaveContent writes content supplied by an editor and flips the issue to generated.
	SaveContent(ctx context.Context, update model.IssueContentUpdate) (*model.Issue, error)
	// CompleteGeneration stores generated content and marks the job succeeded
	// in one transaction.
	CompleteGeneration(ctx context.Context, params CompleteGenerationParams) error
	// MarkSent moves a generated issue to sent. It returns false when the issue
	// is missing or no longer generated.
	MarkSent(ctx context.Context, id string) (bool, error)
	// CreateWithDelivery inserts a generated issue, one delivery carrying a
	// payload snapshot and a queued send job in one transaction.
	CreateWithDelivery(ctx context.Context, params CreateWithDeliveryParams) (*CreatedIssue, error)
}

// CompleteGenerationParams groups the writes performed when generation succeeds.
type CompleteGenerationParams struct {
	JobID   string
	Content model.IssueContentUpdate
}

// CreateWithDeliveryParams groups the rows written for a user's first issue.
type CreateWithDeliveryParams struct {
	Issue    model.CreateIssueRequest
	Delivery model.CreateDeliveryRequest
}

// CreatedIssue reports the ids written by CreateWithDelivery.
type CreatedIssue struct {
	Issue    *model.Issue
	Delivery *model.Delivery
	Job      *model.Job
}

// DeliveryRepository defines the interface for delivery data operations.
type DeliveryRepository interface {
	// ListDue returns scheduled deliveries whose send_at is at or before now, earliest first.
	ListDue(ctx context.Context, now time.Time, limit int) ([]*model.Delivery, error)
	// ListScheduledByIssue returns up to limit scheduled deliveries for the issue.
	ListScheduledByIssue(ctx context.Context, issueID string, limit int) ([]*model.Delivery, error)
	ListByIssue(ctx context.Context, issueID string, limit int) ([]*model.Delivery, error)
	GetByID(ctx context.Context, id string) (*model.Delivery, error)
	Create(ctx context.Context, req *model.CreateDeliveryRequest) (*model.Delivery, error)
	// RecordOutcome stores the result of a send attempt.
	RecordOutcome(ctx context.Context, outcome model.DeliveryOutcome) error
	// ApplyStatus stores a provider-reported status. It returns false when the
	// delivery does not exist.
	ApplyStatus(ctx context.Context, update model.DeliveryStatusUpdate) (bool, error)
}

// PreferencesRepository reads per-user content preferences.
type PreferencesRepository interface {
	// GetByUserID returns data.ErrPreferencesNotFound when the user has none.
	GetByUserID(ctx context.Context, userID string) (*model.Preferences, error)
}

// EmailEventRepository records inbound provider events.
type EmailEventRepository interface {
	Insert(ctx context.Context, event *model.EmailEvent) (*model.EmailEvent, error)
	ListByDelivery(ctx context.Context, deliveryID string, limit int) ([]*model.EmailEvent, error)
}

// RecoverStaleJobsParams groups parameters for RecoverStaleJobs.
type RecoverStaleJobsParams struct {
	StaleAfter  time.Duration
	MaxAttempts int
	BatchSize   int
}

// RecoverStaleJobsResult counts the jobs touched by one RecoverStaleJobs batch.
type RecoverStaleJobsResult struct {
	Requeued int64
	Failed   int64
}

// Total returns the number of jobs touched.
func (r RecoverStaleJobsResult) Total() int64 { return r.Requeued + r.Failed }

// ReaperRepository defines the interface for stale job recovery.
type ReaperRepository interface {
	// RecoverStaleJobs requeues processing jobs whose claim is older than
	// StaleAfter and still below MaxAttempts, and fails the rest with
	// model.LeaseExpiredError. Processes up to BatchSize jobs per call.
	RecoverStaleJobs(ctx context.Context, params RecoverStaleJobsParams) (RecoverStaleJobsResult, error)
}

// GenerateRequest is the structured prompt passed to a content generator.
type GenerateRequest struct {
	SystemPrompt   string
	Prompt         string
	Temperature    float32
	MaxTokens      int32
	ResponseSchema any
}

// GenerateResponse carries the raw model output.
type GenerateResponse struct {
	Raw   string
	Model string
}

// ContentGenerator produces newsletter content from a prompt.
type ContentGenerator interface {
	Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, error)
}

// EmailMessage is one rendered email addressed to a single recipient.
type EmailMessage struct {
	From      string
	To        string
	ReplyTo   string
	Subject   string
	HTML      string
	Text      string
	Variables map[string]string
}

// SendReceipt confirms a message was accepted by the provider.
type SendReceipt struct {
	MessageID string
}

// EmailSender hands a message to the email provider.
type EmailSender interface {
	Send(ctx context.Context, msg EmailMessage) (SendReceipt, error)
}

// Lease is a held lock that must be released.
type Lease interface {
	Release(ctx context.Context) error
}

// Locker provides short-lived mutual exclusion across processes.
type Locker interface {
	// TryAcquire returns (nil, false, nil) when the key is held elsewhere.
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (Lease, bool, error)
}
