package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/target/inkwell/internal/core"
	"github.com/target/inkwell/internal/data"
	"github.com/target/inkwell/internal/domain/model"
	"github.com/target/inkwell/internal/domain/newsletter"
	"github.com/target/inkwell/internal/observability/metrics"
)

// Generation defaults.
const (
	DefaultAITimeout   = 60 * time.Second
	DefaultTemperature = float32(0.7)
	DefaultMaxTokens   = int32(2000)
)

// GenerationConfig tunes content generation calls.
type GenerationConfig struct {
	Timeout     time.Duration
	Temperature float32
	MaxTokens   int32
	// Model is recorded as model_used when the generator does not report one.
	Model string
}

func (c GenerationConfig) withDefaults() GenerationConfig {
	if c.Timeout <= 0 {
		c.Timeout = DefaultAITimeout
	}
	if c.Temperature <= 0 {
		c.Temperature = DefaultTemperature
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	return c
}

// GenerationWorkerOptions groups dependencies for GenerationWorker.
type GenerationWorkerOptions struct {
	WorkerDeps
	Issues      core.IssueRepository       // Required: issue repository
	Preferences core.PreferencesRepository // Required: preferences repository
	Generator   core.ContentGenerator      // Required: language model collaborator
	Config      GenerationConfig           // Optional: zero values fall back to defaults
}

// GenerationWorker claims generate jobs and fills their issues with validated content.
type GenerationWorker struct {
	jobRunner
	contentCall
	issues core.IssueRepository
	prefs  core.PreferencesRepository
}

// contentCall runs one bounded generation request and validates the answer.
type contentCall struct {
	generator core.ContentGenerator
	cfg       GenerationConfig
}

// NewGenerationWorker constructs a new GenerationWorker.
func NewGenerationWorker(opts GenerationWorkerOptions) (*GenerationWorker, error) {
	runner, err := newJobRunner(model.JobTypeGenerate, opts.WorkerDeps, "generation_worker")
	if err != nil {
		return nil, err
	}
	if opts.Issues == nil {
		return nil, errors.New("IssueRepository is required")
	}
	if opts.Preferences == nil {
		return nil, errors.New("PreferencesRepository is required")
	}
	if opts.Generator == nil {
		return nil, errors.New("ContentGenerator is required")
	}
	return &GenerationWorker{
		jobRunner:   runner,
		contentCall: contentCall{generator: opts.Generator, cfg: opts.Config.withDefaults()},
		issues:      opts.Issues,
		prefs:       opts.Preferences,
	}, nil
}

// Process claims one generate job and runs it. An empty jobID takes the
// oldest queued job. Business failures are stored on the job and reported
// in the result; only store failures and missing issues return an error.
func (w *GenerationWorker) Process(ctx context.Context, jobID string) (WorkResult, error) {
	job, noop, err := w.claim(ctx, jobID)
	if err != nil {
		return WorkResult{}, err
	}
	if noop != nil {
		return *noop, nil
	}

	start := time.Now()
	result := WorkResult{JobID: job.ID, IssueID: job.IssueID}

	issue, err := w.issues.GetByID(ctx, job.IssueID)
	if errors.Is(err, data.ErrIssueNotFound) {
		result.Message = msgIssueNotFound
		if ferr := w.fail(ctx, job, msgIssueNotFound, err, start); ferr != nil {
			return result, errors.Join(ErrIssueNotFound, ferr)
		}
		return result, ErrIssueNotFound
	}
	if err != nil {
		return result, w.storeFailure(ctx, job, "load issue", err, start)
	}

	prefs := loadPreferences(ctx, w.prefs, w.logger, issue.UserID)
	prompt := newsletter.BuildPrompt(newsletter.InputFromPreferences(issue, prefs))

	content, modelUsed, reason, genErr := w.generate(ctx, prompt)
	if genErr != nil {
		result.Message = reason
		return result, w.fail(ctx, job, reason, genErr, start)
	}

	update, err := contentUpdate(issue.ID, content, modelUsed, w.clock.Now())
	if err != nil {
		result.Message = err.Error()
		return result, w.fail(ctx, job, err.Error(), err, start)
	}

	err = w.issues.CompleteGeneration(ctx, core.CompleteGenerationParams{JobID: job.ID, Content: update})
	if errors.Is(err, data.ErrJobNotProcessing) {
		// Stale recovery took the job back; the issue was left untouched.
		w.logger.WarnContext(ctx, "generated content discarded", "job_id", job.ID, "issue_id", issue.ID)
		result.Message = msgNoLongerProcessing
		return result, nil
	}
	if err != nil {
		return result, w.storeFailure(ctx, job, "save generated content", err, start)
	}

	w.emit(metrics.TransitionProcess, metrics.ResultSuccess, start, nil)
	w.logger.InfoContext(ctx, "issue generated",
		"job_id", job.ID,
		"issue_id", issue.ID,
		"model", modelUsed,
		"sections", len(content.Sections),
	)
	result.Processed = 1
	return result, nil
}

// generate calls the model and validates its answer. On failure it returns
// the reason to store on the job.
func (c contentCall) generate(ctx context.Context, prompt string) (*newsletter.Content, string, string, error) {
	gctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	resp, err := c.generator.Generate(gctx, core.GenerateRequest{
		SystemPrompt:   newsletter.SystemPrompt,
		Prompt:         prompt,
		Temperature:    c.cfg.Temperature,
		MaxTokens:      c.cfg.MaxTokens,
		ResponseSchema: newsletter.ResponseSchema(),
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, "", fmt.Sprintf("generation timed out after %s", c.cfg.Timeout), err
		}
		return nil, "", err.Error(), err
	}

	content, err := newsletter.Parse([]byte(resp.Raw))
	if err != nil {
		var verr *newsletter.ValidationError
		if errors.As(err, &verr) {
			return nil, "", msgValidationFailed, err
		}
		return nil, "", err.Error(), err
	}

	modelUsed := resp.Model
	if modelUsed == "" {
		modelUsed = c.cfg.Model
	}
	return content, modelUsed, "", nil
}

// loadPreferences returns nil when the user has none or the lookup fails.
func loadPreferences(
	ctx context.Context,
	repo core.PreferencesRepository,
	logger *slog.Logger,
	userID string,
) *model.Preferences {
	prefs, err := repo.GetByUserID(ctx, userID)
	if err != nil {
		if !errors.Is(err, data.ErrPreferencesNotFound) {
			logger.WarnContext(ctx, "load preferences failed, using defaults", "user_id", userID, "error", err)
		}
		return nil
	}
	return prefs
}

// storeFailure records a best-effort failure and returns the store error.
func (w *GenerationWorker) storeFailure(ctx context.Context, job *model.Job, op string, err error, start time.Time) error {
	wrapped := fmt.Errorf("%s: %w", op, err)
	if ferr := w.fail(ctx, job, "unable to "+op, wrapped, start); ferr != nil {
		return errors.Join(wrapped, ferr)
	}
	return wrapped
}

// contentUpdate renders content into the fields stored on an issue.
func contentUpdate(issueID string, c *newsletter.Content, modelUsed string, now time.Time) (model.IssueContentUpdate, error) {
	html, err := newsletter.RenderHTML(c)
	if err != nil {
		return model.IssueContentUpdate{}, err
	}
	raw, err := c.JSON()
	if err != nil {
		return model.IssueContentUpdate{}, err
	}
	return model.IssueContentUpdate{
		IssueID:     issueID,
		Subject:     c.Title,
		Preheader:   c.Preheader,
		ContentJSON: raw,
		ContentHTML: html,
		ModelUsed:   model.StringPtr(modelUsed),
		GeneratedAt: now,
	}, nil
}
