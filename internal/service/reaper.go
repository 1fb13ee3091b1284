package service

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/target/inkwell/config"
	"github.com/target/inkwell/internal/core"
	"github.com/target/inkwell/internal/observability/metrics"
)

// ReaperServiceOptions groups dependencies for ReaperService.
type ReaperServiceOptions struct {
	Repo    core.ReaperRepository // Required: reaper repository
	Config  config.ReaperConfig   // Required: reaper configuration
	Logger  *slog.Logger          // Optional: structured logger
	Metrics *metrics.Recorder     // Optional: Prometheus recorder
}

// ReaperService recovers jobs whose processing claim went stale.
//
// Stale jobs below the attempt limit go back to the queue; the rest are
// failed with model.LeaseExpiredError. Jobs are never deleted.
type ReaperService struct {
	repo    core.ReaperRepository
	config  config.ReaperConfig
	logger  *slog.Logger
	metrics *metrics.Recorder
}

// NewReaperService constructs a new ReaperService.
func NewReaperService(opts ReaperServiceOptions) (*ReaperService, error) {
	if opts.Repo == nil {
		return nil, errors.New("ReaperRepository is required")
	}
	if opts.Config.Interval <= 0 {
		return nil, errors.New("reaper interval must be positive")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "reaper_service")
		logger.Debug("ReaperService initialized",
			"interval", opts.Config.Interval,
			"stale_after", opts.Config.StaleAfter,
			"max_attempts", opts.Config.MaxAttempts,
			"batch_size", opts.Config.BatchSize,
		)
	}

	return &ReaperService{
		repo:    opts.Repo,
		config:  opts.Config,
		logger:  logger,
		metrics: opts.Metrics,
	}, nil
}

// Run starts the reaper loop and runs until the context is cancelled.
// Returns nil on graceful shutdown (context.Canceled), error otherwise.
func (s *ReaperService) Run(ctx context.Context) error {
	if s.logger != nil {
		s.logger.InfoContext(ctx, "starting reaper service", "interval", s.config.Interval)
	}

	// Add jitter to prevent thundering herd if multiple instances start together
	s.waitWithJitter(ctx)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	if _, err := s.RunOnce(ctx); err != nil {
		s.logCleanupError(err, "initial recovery")
	}

	return s.runLoop(ctx, ticker)
}

// RunOnce recovers stale jobs in batches until none remain.
func (s *ReaperService) RunOnce(ctx context.Context) (core.RecoverStaleJobsResult, error) {
	start := time.Now()
	var total core.RecoverStaleJobsResult
	for {
		batch, err := s.repo.RecoverStaleJobs(ctx, core.RecoverStaleJobsParams{
			StaleAfter:  s.config.StaleAfter,
			MaxAttempts: s.config.MaxAttempts,
			BatchSize:   s.config.BatchSize,
		})
		total.Requeued += batch.Requeued
		total.Failed += batch.Failed
		if err != nil {
			s.metrics.ReaperRecovered(total.Requeued, total.Failed)
			return total, fmt.Errorf("recover stale jobs: %w", err)
		}
		if batch.Total() == 0 {
			break
		}
		// Check context between batches
		if ctx.Err() != nil {
			s.metrics.ReaperRecovered(total.Requeued, total.Failed)
			return total, ctx.Err()
		}
	}

	s.metrics.ReaperRecovered(total.Requeued, total.Failed)
	if total.Total() > 0 && s.logger != nil {
		s.logger.InfoContext(ctx, "recovered stale jobs",
			"requeued", total.Requeued,
			"failed", total.Failed,
			"stale_after", s.config.StaleAfter,
			"elapsed", time.Since(start),
		)
	}
	return total, nil
}

// waitWithJitter adds a random delay up to 10% of the interval to prevent thundering herd.
func (s *ReaperService) waitWithJitter(ctx context.Context) {
	maxJitter := int64(s.config.Interval / 10)
	if maxJitter <= 0 {
		return
	}

	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		if s.logger != nil {
			s.logger.WarnContext(ctx, "failed to generate jitter, skipping", "error", err)
		}
		return
	}

	// Use modulo on uint64 before converting to avoid overflow
	jitterNanos := binary.BigEndian.Uint64(buf[:]) % uint64(maxJitter)
	jitter := time.Duration(int64(jitterNanos)) // #nosec G115 - bounded by maxJitter which is int64

	timer := time.NewTimer(jitter)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// runLoop runs the recovery loop until context is cancelled.
func (s *ReaperService) runLoop(ctx context.Context, ticker *time.Ticker) error {
	for {
		select {
		case <-ctx.Done():
			if s.logger != nil {
				s.logger.InfoContext(ctx, "reaper service stopping", "reason", ctx.Err())
			}
			// Return nil on graceful shutdown to avoid treating it as a failure
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()

		case <-ticker.C:
			// Errors are logged and the loop keeps running.
			if _, err := s.RunOnce(ctx); err != nil {
				s.logCleanupError(err, "recovery")
			}
		}
	}
}

func (s *ReaperService) logCleanupError(err error, label string) {
	if err == nil || s.logger == nil {
		return
	}

	if isContextCancellation(err) {
		s.logger.Debug(label+" cancelled by context", "error", err)
		return
	}

	s.logger.Error(label+" failed", "error", err)
}

func isContextCancellation(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
