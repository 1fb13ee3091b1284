// Package trigger provides the in-process cron trigger that replaces an
// external scheduler calling the dispatch and worker endpoints.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/target/inkwell/config"
	"github.com/target/inkwell/internal/domain/model"
	obserrors "github.com/target/inkwell/internal/observability/errors"
	"github.com/target/inkwell/internal/service"
)

// Dispatcher enqueues jobs for due work.
type Dispatcher interface {
	DispatchGeneration(ctx context.Context) (service.DispatchResult, error)
	DispatchSend(ctx context.Context) (service.DispatchResult, error)
}

// Worker processes one queued job. An empty job id selects the oldest queued job.
type Worker interface {
	Process(ctx context.Context, jobID string) (service.WorkResult, error)
}

// RunnerOptions holds the dependencies for creating a Runner.
type RunnerOptions struct {
	// Required:
	Dispatcher Dispatcher
	Generation Worker
	Send       Worker

	// Optional:
	Config config.TriggerConfig
	Logger *slog.Logger
}

// Runner fires dispatch on a cron schedule and drains the matching worker
// after each firing.
type Runner struct {
	dispatcher Dispatcher
	workers    map[model.JobType]Worker
	cfg        config.TriggerConfig
	logger     *slog.Logger
}

// TickResult reports one dispatch-and-drain pass.
type TickResult struct {
	Dispatch  service.DispatchResult
	Processed int
}

// NewRunner creates a new trigger runner with the given options.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Dispatcher == nil {
		return nil, errors.New("Dispatcher is required")
	}
	if opts.Generation == nil || opts.Send == nil {
		return nil, errors.New("generation and send workers are required")
	}
	if opts.Config.GenerateSchedule == "" || opts.Config.SendSchedule == "" {
		return nil, errors.New("generate and send schedules are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		dispatcher: opts.Dispatcher,
		workers: map[model.JobType]Worker{
			model.JobTypeGenerate: opts.Generation,
			model.JobTypeSend:     opts.Send,
		},
		cfg:    opts.Config,
		logger: logger.With("component", "trigger"),
	}, nil
}

// Run registers both schedules and blocks until ctx is canceled. A firing
// that is still running when its schedule comes due again is skipped.
func (r *Runner) Run(ctx context.Context) error {
	cl := cronLogger{logger: r.logger}
	c := cron.New(
		cron.WithSeconds(),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	for _, jt := range []model.JobType{model.JobTypeGenerate, model.JobTypeSend} {
		schedule := r.schedule(jt)
		if _, err := c.AddFunc(schedule, func() { r.fire(ctx, jt) }); err != nil {
			return fmt.Errorf("add %s schedule %q: %w", jt, schedule, err)
		}
		r.logger.InfoContext(ctx, "trigger scheduled", "job_type", string(jt), "schedule", schedule)
	}

	if r.cfg.RunOnStart {
		if _, err := r.RunOnce(ctx); err != nil {
			r.logger.WarnContext(ctx, "startup trigger pass failed", "error", err)
		}
	}

	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	r.logger.InfoContext(ctx, "trigger runner stopped")

	if errors.Is(ctx.Err(), context.Canceled) {
		return nil
	}
	return ctx.Err()
}

// RunOnce runs the generate and send passes concurrently and returns their
// results keyed by job type.
func (r *Runner) RunOnce(ctx context.Context) (map[model.JobType]TickResult, error) {
	types := []model.JobType{model.JobTypeGenerate, model.JobTypeSend}
	results := make([]TickResult, len(types))

	g, gctx := errgroup.WithContext(ctx)
	for i, jt := range types {
		g.Go(func() error {
			res, err := r.Tick(gctx, jt)
			results[i] = res
			return err
		})
	}
	err := g.Wait()

	out := make(map[model.JobType]TickResult, len(types))
	for i, jt := range types {
		out[jt] = results[i]
	}
	return out, err
}

// Tick dispatches one job type and then drains its worker up to the
// configured limit. Drain stops when no job could be claimed or on a store error.
func (r *Runner) Tick(ctx context.Context, jobType model.JobType) (TickResult, error) {
	var (
		res TickResult
		err error
	)
	switch jobType {
	case model.JobTypeGenerate:
		res.Dispatch, err = r.dispatcher.DispatchGeneration(ctx)
	case model.JobTypeSend:
		res.Dispatch, err = r.dispatcher.DispatchSend(ctx)
	default:
		return res, fmt.Errorf("unknown job type %q", jobType)
	}
	if err != nil {
		return res, fmt.Errorf("dispatch %s: %w", jobType, err)
	}

	worker := r.workers[jobType]
	for range r.cfg.DrainLimit {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		wr, werr := worker.Process(ctx, "")
		if errors.Is(werr, service.ErrIssueNotFound) {
			res.Processed += wr.Processed
			continue
		}
		if werr != nil {
			return res, fmt.Errorf("drain %s: %w", jobType, werr)
		}
		// Only an empty claim leaves JobID unset; a claimed job that failed
		// reports Processed == 0 and the drain moves on.
		if wr.JobID == "" {
			break
		}
		res.Processed += wr.Processed
	}
	return res, nil
}

func (r *Runner) fire(ctx context.Context, jobType model.JobType) {
	start := time.Now()
	res, err := r.Tick(ctx, jobType)
	attrs := []any{
		"job_type", string(jobType),
		"queued", res.Dispatch.Queued,
		"skipped", res.Dispatch.Skipped,
		"processed", res.Processed,
		"duration", time.Since(start),
	}
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		attrs = append(attrs, "error", err, "error_class", obserrors.Classify(err))
		r.logger.ErrorContext(ctx, "trigger pass failed", attrs...)
		return
	}
	if res.Dispatch.Queued > 0 || res.Processed > 0 {
		r.logger.InfoContext(ctx, "trigger pass completed", attrs...)
	}
}

func (r *Runner) schedule(jobType model.JobType) string {
	if jobType == model.JobTypeGenerate {
		return r.cfg.GenerateSchedule
	}
	return r.cfg.SendSchedule
}

// cronLogger adapts slog to the cron.Logger interface.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
