// Package failurenotifier fans job failure events out to the configured sinks.
package failurenotifier

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/target/inkwell/internal/domain/model"
	"github.com/target/inkwell/internal/observability/notify"
)

// SinkRegistration pairs a sink implementation with a human-readable name for logging.
type SinkRegistration struct {
	Name string
	Sink notify.Sink
}

// Options configures the failure notifier service.
type Options struct {
	Logger *slog.Logger
	Sinks  []SinkRegistration
	// Timeout bounds the whole fan-out. Zero means no extra deadline.
	Timeout time.Duration
}

// Service dispatches failure events to all registered sinks.
type Service struct {
	logger  *slog.Logger
	sinks   []SinkRegistration
	timeout time.Duration
}

// NewService constructs a failure notifier.
func NewService(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "failure_notifier")

	var sinks []SinkRegistration
	for _, entry := range opts.Sinks {
		if entry.Sink == nil {
			continue
		}
		name := entry.Name
		if name == "" {
			name = "sink"
		}
		sinks = append(sinks, SinkRegistration{Name: name, Sink: entry.Sink})
	}

	return &Service{logger: logger, sinks: sinks, timeout: opts.Timeout}
}

// NotifyJobFailure fans the payload out to all sinks and waits for them.
// Sink errors are logged and never returned.
func (s *Service) NotifyJobFailure(ctx context.Context, payload notify.JobFailurePayload) {
	if s == nil || len(s.sinks) == 0 {
		return
	}

	if payload.Severity == "" {
		payload.Severity = notify.SeverityCritical
	}
	if payload.OccurredAt.IsZero() {
		payload.OccurredAt = time.Now().UTC()
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	var wg sync.WaitGroup
	for _, entry := range s.sinks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := entry.Sink.SendJobFailure(ctx, payload); err != nil {
				s.logger.ErrorContext(ctx, "failure notifier delivery error",
					"sink", entry.Name,
					"job_id", payload.JobID,
					"job_type", payload.JobType,
					"issue_id", payload.IssueID,
					"error", err,
				)
			}
		}()
	}
	wg.Wait()
}

// NotifyJob builds a payload from a failed job and sends it.
func (s *Service) NotifyJob(ctx context.Context, job *model.Job, reason, errorClass string) {
	if s == nil || job == nil {
		return
	}
	s.NotifyJobFailure(ctx, notify.JobFailurePayload{
		JobID:      job.ID,
		JobType:    string(job.Type),
		IssueID:    job.IssueID,
		Attempts:   job.Attempts,
		Error:      reason,
		ErrorClass: errorClass,
	})
}

// Enabled reports whether the notifier has any active sinks.
func (s *Service) Enabled() bool {
	return s != nil && len(s.sinks) > 0
}
