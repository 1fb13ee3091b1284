package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/mail"
	"time"

	"golang.org/x/time/rate"

	"github.com/target/inkwell/internal/core"
	"github.com/target/inkwell/internal/data"
	"github.com/target/inkwell/internal/domain/model"
	"github.com/target/inkwell/internal/domain/newsletter"
)

// Send defaults.
const (
	DefaultSendBatchSize    = 20
	DefaultSendPaceInterval = 600 * time.Millisecond
	DefaultEmailTimeout     = 30 * time.Second
)

// Message variables attached to every send for provider event correlation.
const (
	VarIssueID    = "issue_id"
	VarDeliveryID = "delivery_id"
)

// SendConfig tunes the send loop and sender identity.
type SendConfig struct {
	BatchSize int
	// PaceInterval is the minimum gap between provider calls. Zero disables pacing.
	PaceInterval time.Duration
	Timeout      time.Duration
	FromName     string
	FromAddress  string
}

func (c SendConfig) withDefaults() SendConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultSendBatchSize
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultEmailTimeout
	}
	return c
}

// SendWorkerOptions groups dependencies for SendWorker.
type SendWorkerOptions struct {
	WorkerDeps
	Issues      core.IssueRepository       // Required: issue repository
	Deliveries  core.DeliveryRepository    // Required: delivery repository
	Preferences core.PreferencesRepository // Optional: sender name and reply-to overrides
	Sender      core.EmailSender           // Required: email provider collaborator
	Config      SendConfig                 // Optional: see SendConfig for zero values
}

// SendWorker claims send jobs and sends each scheduled delivery of the issue.
// Sends run one at a time; a shared limiter spaces provider calls by at least
// PaceInterval, also across concurrent Process calls.
type SendWorker struct {
	jobRunner
	issues     core.IssueRepository
	deliveries core.DeliveryRepository
	prefs      core.PreferencesRepository
	sender     core.EmailSender
	cfg        SendConfig
	limiter    *rate.Limiter
}

// NewSendWorker constructs a new SendWorker.
func NewSendWorker(opts SendWorkerOptions) (*SendWorker, error) {
	runner, err := newJobRunner(model.JobTypeSend, opts.WorkerDeps, "send_worker")
	if err != nil {
		return nil, err
	}
	if opts.Issues == nil {
		return nil, errors.New("IssueRepository is required")
	}
	if opts.Deliveries == nil {
		return nil, errors.New("DeliveryRepository is required")
	}
	if opts.Sender == nil {
		return nil, errors.New("EmailSender is required")
	}

	cfg := opts.Config.withDefaults()
	limit := rate.Inf
	if cfg.PaceInterval > 0 {
		limit = rate.Every(cfg.PaceInterval)
	}

	return &SendWorker{
		jobRunner:  runner,
		issues:     opts.Issues,
		deliveries: opts.Deliveries,
		prefs:      opts.Preferences,
		sender:     opts.Sender,
		cfg:        cfg,
		limiter:    rate.NewLimiter(limit, 1),
	}, nil
}

// Process claims one send job and sends its scheduled deliveries. An empty
// jobID takes the oldest queued job. The job succeeds once the loop ends,
// whatever happened to individual deliveries; Processed counts successful sends.
func (w *SendWorker) Process(ctx context.Context, jobID string) (WorkResult, error) {
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
	if err != nil {
		reason, retErr := msgIssueNotFound, ErrIssueNotFound
		if !errors.Is(err, data.ErrIssueNotFound) {
			reason, retErr = "unable to load issue", fmt.Errorf("load issue: %w", err)
		}
		result.Message = reason
		if ferr := w.fail(ctx, job, reason, err, start); ferr != nil {
			return result, errors.Join(retErr, ferr)
		}
		return result, retErr
	}

	pending, err := w.deliveries.ListScheduledByIssue(ctx, issue.ID, w.cfg.BatchSize)
	if err != nil {
		result.Message = msgUnableToLoadDeliveries
		loadErr := fmt.Errorf("load deliveries: %w", err)
		if ferr := w.fail(ctx, job, msgUnableToLoadDeliveries, err, start); ferr != nil {
			return result, errors.Join(loadErr, ferr)
		}
		return result, loadErr
	}

	if len(pending) > 0 {
		identity := w.senderIdentity(ctx, issue.UserID)
		result.Processed = w.sendAll(ctx, issue, pending, identity)
	}

	// Finish even when the caller went away mid-loop.
	if err := w.succeed(context.WithoutCancel(ctx), job, start); err != nil {
		return result, err
	}
	if result.Processed > 0 {
		w.markIssueSent(ctx, issue.ID)
	}

	w.logger.InfoContext(ctx, "send job completed",
		"job_id", job.ID,
		"issue_id", issue.ID,
		"pending", len(pending),
		"sent", result.Processed,
	)
	return result, nil
}

// markIssueSent is best effort; the deliveries already carry the outcome.
func (w *SendWorker) markIssueSent(ctx context.Context, issueID string) {
	if _, err := w.issues.MarkSent(context.WithoutCancel(ctx), issueID); err != nil {
		w.logger.WarnContext(ctx, "mark issue sent failed", "issue_id", issueID, "error", err)
	}
}

type senderIdentity struct {
	from    string
	replyTo string
}

func (w *SendWorker) senderIdentity(ctx context.Context, userID string) senderIdentity {
	name := w.cfg.FromName
	var replyTo string
	if w.prefs != nil {
		prefs, err := w.prefs.GetByUserID(ctx, userID)
		switch {
		case err == nil:
			if v := model.StringValue(prefs.SenderName); v != "" {
				name = v
			}
			replyTo = model.StringValue(prefs.ReplyTo)
		case !errors.Is(err, data.ErrPreferencesNotFound):
			w.logger.WarnContext(ctx, "load sender preferences failed", "user_id", userID, "error", err)
		}
	}
	return senderIdentity{from: formatAddress(name, w.cfg.FromAddress), replyTo: replyTo}
}

// sendAll sends deliveries in order and returns the number sent. Context
// cancellation stops the loop and leaves the rest scheduled.
func (w *SendWorker) sendAll(
	ctx context.Context,
	issue *model.Issue,
	pending []*model.Delivery,
	identity senderIdentity,
) int {
	sent := 0
	for _, d := range pending {
		if ctx.Err() != nil {
			w.logger.InfoContext(ctx, "send loop interrupted", "issue_id", issue.ID, "error", ctx.Err())
			break
		}

		source := issue.ContentJSON
		if d.HasPayload() {
			source = d.Payload
		}
		msg, err := buildMessage(issue.ID, d, source, identity)
		if err != nil {
			w.logger.WarnContext(ctx, "invalid newsletter payload", "delivery_id", d.ID, "error", err)
			w.recordOutcome(ctx, model.DeliveryOutcome{ID: d.ID, Status: model.DeliveryStatusFailed, Error: msgInvalidPayload})
			continue
		}

		if err := w.limiter.Wait(ctx); err != nil {
			w.logger.InfoContext(ctx, "send loop interrupted", "issue_id", issue.ID, "error", err)
			break
		}

		receipt, err := w.send(ctx, msg)
		if err != nil {
			w.logger.WarnContext(ctx, "delivery send failed", "delivery_id", d.ID, "error", err)
			w.recordOutcome(ctx, model.DeliveryOutcome{ID: d.ID, Status: model.DeliveryStatusFailed, Error: err.Error()})
			continue
		}

		sentAt := w.clock.Now()
		w.recordOutcome(ctx, model.DeliveryOutcome{
			ID:                d.ID,
			Status:            model.DeliveryStatusSent,
			SentAt:            &sentAt,
			ProviderMessageID: receipt.MessageID,
		})
		sent++
	}
	return sent
}

func (w *SendWorker) send(ctx context.Context, msg core.EmailMessage) (core.SendReceipt, error) {
	sctx, cancel := context.WithTimeout(ctx, w.cfg.Timeout)
	defer cancel()
	return w.sender.Send(sctx, msg)
}

// recordOutcome stores the result of one delivery. The provider call already
// happened, so the write is not tied to the caller's context.
func (w *SendWorker) recordOutcome(ctx context.Context, outcome model.DeliveryOutcome) {
	w.metrics.Delivery(string(outcome.Status))
	if err := w.deliveries.RecordOutcome(context.WithoutCancel(ctx), outcome); err != nil {
		w.logger.ErrorContext(ctx, "record delivery outcome failed",
			"delivery_id", outcome.ID,
			"status", outcome.Status,
			"error", err,
		)
	}
}

// buildMessage validates the stored document as is. Snapshots are sent exactly
// as frozen, so content that would need sanitizing is rejected.
func buildMessage(issueID string, d *model.Delivery, source json.RawMessage, identity senderIdentity) (core.EmailMessage, error) {
	content, err := newsletter.ParseStrict(source)
	if err != nil {
		return core.EmailMessage{}, err
	}
	html, err := newsletter.RenderHTML(content)
	if err != nil {
		return core.EmailMessage{}, err
	}
	return core.EmailMessage{
		From:    identity.from,
		To:      d.ToEmail,
		ReplyTo: identity.replyTo,
		Subject: content.Subject(),
		HTML:    html,
		Text:    newsletter.RenderText(content),
		Variables: map[string]string{
			VarIssueID:    issueID,
			VarDeliveryID: d.ID,
		},
	}, nil
}

func formatAddress(name, address string) string {
	if name == "" {
		return address
	}
	return (&mail.Address{Name: name, Address: address}).String()
}
