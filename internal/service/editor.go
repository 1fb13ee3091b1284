package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"

	"github.com/target/inkwell/internal/core"
	"github.com/target/inkwell/internal/data"
	"github.com/target/inkwell/internal/domain/model"
	"github.com/target/inkwell/internal/domain/newsletter"
	apperrors "github.com/target/inkwell/internal/errors"
)

// EditorServiceOptions groups dependencies for EditorService.
type EditorServiceOptions struct {
	Issues       core.IssueRepository       // Required: issue repository
	Preferences  core.PreferencesRepository // Required: preferences repository
	Generator    core.ContentGenerator      // Optional: required for Preview and CreateFirstIssue
	Config       GenerationConfig           // Optional: zero values fall back to defaults
	TimeProvider data.TimeProvider          // Optional: defaults to the system clock
	Logger       *slog.Logger               // Optional: structured logger
}

// EditorService saves edited issues, previews generated content and
// creates a user's first issue on demand.
type EditorService struct {
	issues core.IssueRepository
	prefs  core.PreferencesRepository
	call   contentCall
	clock  data.TimeProvider
	logger *slog.Logger
}

// NewEditorService constructs a new EditorService.
func NewEditorService(opts EditorServiceOptions) (*EditorService, error) {
	if opts.Issues == nil {
		return nil, errors.New("IssueRepository is required")
	}
	if opts.Preferences == nil {
		return nil, errors.New("PreferencesRepository is required")
	}
	clock := opts.TimeProvider
	if clock == nil {
		clock = &data.RealTimeProvider{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &EditorService{
		issues: opts.Issues,
		prefs:  opts.Preferences,
		call:   contentCall{generator: opts.Generator, cfg: opts.Config.withDefaults()},
		clock:  clock,
		logger: logger.With("component", "editor_service"),
	}, nil
}

// SaveIssueParams identifies an issue and the content its owner wants stored.
type SaveIssueParams struct {
	IssueID string
	UserID  string
	Content json.RawMessage
}

// SaveIssue validates edited content and stores it on the caller's issue.
// The issue becomes generated.
func (s *EditorService) SaveIssue(ctx context.Context, params SaveIssueParams) (*model.Issue, error) {
	if strings.TrimSpace(params.UserID) == "" {
		return nil, apperrors.ValidationField("userId", "is required")
	}

	content, err := newsletter.Parse(params.Content)
	if err != nil {
		return nil, contentValidationError(err)
	}

	issue, err := s.issues.GetByID(ctx, params.IssueID)
	if errors.Is(err, data.ErrIssueNotFound) {
		return nil, apperrors.NotFound("issue not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get issue: %w", err)
	}
	if issue.UserID != strings.TrimSpace(params.UserID) {
		return nil, apperrors.NotFound("issue not found")
	}

	update, err := contentUpdate(issue.ID, content, "", s.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("render issue: %w", err)
	}

	saved, err := s.issues.SaveContent(ctx, update)
	if errors.Is(err, data.ErrIssueNotFound) {
		return nil, apperrors.NotFound("issue not found")
	}
	if err != nil {
		return nil, fmt.Errorf("save issue: %w", err)
	}

	s.logger.InfoContext(ctx, "issue saved", "issue_id", saved.ID, "user_id", saved.UserID)
	return saved, nil
}

// PreviewParams names the user whose preferences seed the preview.
type PreviewParams struct {
	UserID    string
	Overrides newsletter.PreviewOverrides
}

// PreviewResult is generated content that was not persisted.
type PreviewResult struct {
	Content *newsletter.Content `json:"content"`
	HTML    string              `json:"html"`
	Model   string              `json:"model,omitempty"`
}

// Preview generates content from the user's preferences merged with the overrides.
func (s *EditorService) Preview(ctx context.Context, params PreviewParams) (*PreviewResult, error) {
	if s.call.generator == nil {
		return nil, apperrors.Internal("content generation is not configured")
	}
	if err := params.Overrides.Validate(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, err.Error())
	}

	var prefs *model.Preferences
	if params.UserID != "" {
		prefs = loadPreferences(ctx, s.prefs, s.logger, params.UserID)
	}
	prompt := newsletter.BuildPreviewPrompt(newsletter.InputFromPreferences(nil, prefs), params.Overrides)

	content, modelUsed, err := s.generate(ctx, prompt)
	if err != nil {
		return nil, err
	}
	html, err := newsletter.RenderHTML(content)
	if err != nil {
		return nil, fmt.Errorf("render preview: %w", err)
	}
	return &PreviewResult{Content: content, HTML: html, Model: modelUsed}, nil
}

// CreateFirstIssue generates an issue now for a user with stored topics and
// schedules its delivery to toEmail. The send job is queued with it.
func (s *EditorService) CreateFirstIssue(ctx context.Context, userID, toEmail string) (*core.CreatedIssue, error) {
	if s.call.generator == nil {
		return nil, apperrors.Internal("content generation is not configured")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, apperrors.ValidationField("userId", "is required")
	}
	addr, err := mail.ParseAddress(strings.TrimSpace(toEmail))
	if err != nil {
		return nil, apperrors.ValidationField("toEmail", "must be a valid email address")
	}

	prefs, err := s.prefs.GetByUserID(ctx, userID)
	if errors.Is(err, data.ErrPreferencesNotFound) {
		return nil, apperrors.ValidationField("preferences", "set newsletter preferences before generating the first issue")
	}
	if err != nil {
		return nil, fmt.Errorf("load preferences: %w", err)
	}
	in := newsletter.InputFromPreferences(nil, prefs)
	if len(in.Topics) == 0 {
		return nil, apperrors.ValidationField("topics", "add at least one topic to preferences")
	}

	content, modelUsed, err := s.generate(ctx, newsletter.BuildPrompt(in))
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	update, err := contentUpdate("", content, modelUsed, now)
	if err != nil {
		return nil, fmt.Errorf("render issue: %w", err)
	}

	created, err := s.issues.CreateWithDelivery(ctx, core.CreateWithDeliveryParams{
		Issue: model.CreateIssueRequest{
			UserID:      userID,
			Status:      model.IssueStatusGenerated,
			ScheduledAt: now,
			Subject:     update.Subject,
			Preheader:   update.Preheader,
			ContentJSON: update.ContentJSON,
			ContentHTML: update.ContentHTML,
			ModelUsed:   modelUsed,
		},
		Delivery: model.CreateDeliveryRequest{
			ToEmail: addr.Address,
			Payload: update.ContentJSON,
			SendAt:  now,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create first issue: %w", err)
	}

	s.logger.InfoContext(ctx, "first issue created",
		"user_id", userID,
		"issue_id", created.Issue.ID,
		"delivery_id", created.Delivery.ID,
		"job_id", created.Job.ID,
	)
	return created, nil
}

// generate maps generation failures to application errors.
func (s *EditorService) generate(ctx context.Context, prompt string) (*newsletter.Content, string, error) {
	content, modelUsed, reason, err := s.call.generate(ctx, prompt)
	if err == nil {
		return content, modelUsed, nil
	}
	s.logger.WarnContext(ctx, "content generation failed", "reason", reason, "error", err)

	var verr *newsletter.ValidationError
	switch {
	case errors.As(err, &verr):
		return nil, "", apperrors.Wrap(err, apperrors.ErrCodeValidation, "generated content failed validation")
	case errors.Is(err, context.DeadlineExceeded):
		return nil, "", apperrors.Wrap(err, apperrors.ErrCodeTimeout, reason)
	case errors.Is(err, context.Canceled):
		return nil, "", apperrors.Wrap(err, apperrors.ErrCodeCanceled, "generation canceled")
	default:
		return nil, "", apperrors.Wrap(err, apperrors.ErrCodeInternal, "generation failed")
	}
}

func contentValidationError(err error) error {
	var verr *newsletter.ValidationError
	if errors.As(err, &verr) {
		return apperrors.Wrap(err, apperrors.ErrCodeValidation, verr.Error())
	}
	return apperrors.Wrap(err, apperrors.ErrCodeValidation, "content must be a JSON newsletter document")
}
