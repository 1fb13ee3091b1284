package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/target/inkwell/config"
	"github.com/target/inkwell/internal/adapters/genai"
	"github.com/target/inkwell/internal/adapters/mailgun"
	"github.com/target/inkwell/internal/adapters/redislock"
	"github.com/target/inkwell/internal/core"
)

var (
	// ErrGeneratorNotConfigured is returned by the placeholder generator used
	// when AI_API_KEY is unset. Generation jobs fail with this message.
	ErrGeneratorNotConfigured = errors.New("content generator not configured")
	// ErrSenderNotConfigured is returned by the placeholder sender used when
	// the Mailgun domain or key is unset.
	ErrSenderNotConfigured = errors.New("email sender not configured")
)

type unconfiguredGenerator struct{}

func (unconfiguredGenerator) Generate(context.Context, core.GenerateRequest) (core.GenerateResponse, error) {
	return core.GenerateResponse{}, ErrGeneratorNotConfigured
}

type unconfiguredSender struct{}

func (unconfiguredSender) Send(context.Context, core.EmailMessage) (core.SendReceipt, error) {
	return core.SendReceipt{}, ErrSenderNotConfigured
}

// NewContentGenerator builds the Gemini generator, or a placeholder that
// fails every call when no API key is configured.
//
//nolint:ireturn // the placeholder and the real adapter share only the port.
func NewContentGenerator(ctx context.Context, cfg config.AIConfig, logger *slog.Logger) (core.ContentGenerator, error) {
	if !cfg.Enabled() {
		logger.WarnContext(ctx, "AI_API_KEY not set; generation jobs will fail until it is configured")
		return unconfiguredGenerator{}, nil
	}
	gen, err := genai.New(ctx, genai.Options{
		APIKey: cfg.APIKey,
		Model:  cfg.Model,
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create content generator: %w", err)
	}
	return gen, nil
}

// NewEmailSender builds the Mailgun sender, or a placeholder that fails
// every call when Mailgun is not configured.
//
//nolint:ireturn // the placeholder and the real adapter share only the port.
func NewEmailSender(ctx context.Context, cfg config.EmailConfig, logger *slog.Logger) (core.EmailSender, error) {
	if !cfg.Enabled() {
		logger.WarnContext(ctx, "MAILGUN_DOMAIN or MAILGUN_API_KEY not set; deliveries will fail until configured")
		return unconfiguredSender{}, nil
	}
	sender, err := mailgun.New(mailgun.Options{
		Domain:  cfg.MailgunDomain,
		APIKey:  cfg.MailgunAPIKey,
		APIBase: cfg.MailgunAPIBase,
		Logger:  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create email sender: %w", err)
	}
	return sender, nil
}

// NewLocker returns the Redis dispatch lock, or nil when Redis is not connected.
//
//nolint:ireturn // nil means dispatch runs unlocked.
func NewLocker(client redis.UniversalClient) (core.Locker, error) {
	if client == nil {
		return nil, nil
	}
	locker, err := redislock.New(redislock.Options{Client: client})
	if err != nil {
		return nil, fmt.Errorf("create dispatch locker: %w", err)
	}
	return locker, nil
}
