// Package mailgun adapts the Mailgun messages API to core.EmailSender.
package mailgun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/mailgun/mailgun-go/v4"

	"github.com/target/inkwell/internal/core"
)

// Options configures a Sender.
type Options struct {
	// Required:
	Domain string
	APIKey string

	// Optional:
	APIBase    string // regional endpoint, e.g. https://api.eu.mailgun.net
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Sender hands messages to Mailgun.
type Sender struct {
	client *mailgun.MailgunImpl
	logger *slog.Logger
}

// New creates a Mailgun sender.
func New(opts Options) (*Sender, error) {
	if strings.TrimSpace(opts.Domain) == "" {
		return nil, errors.New("MAILGUN_DOMAIN is required")
	}
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("MAILGUN_API_KEY is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	client := mailgun.NewMailgun(opts.Domain, opts.APIKey)
	if opts.APIBase != "" {
		client.SetAPIBase(opts.APIBase)
	}
	if opts.HTTPClient != nil {
		client.SetClient(opts.HTTPClient)
	}

	return &Sender{client: client, logger: logger.With("component", "mailgun_sender")}, nil
}

// Send submits one message. Variables are attached as Mailgun custom
// variables and come back on every webhook event for the message.
func (s *Sender) Send(ctx context.Context, msg core.EmailMessage) (core.SendReceipt, error) {
	if msg.To == "" {
		return core.SendReceipt{}, errors.New("recipient is required")
	}

	m := s.client.NewMessage(msg.From, msg.Subject, msg.Text, msg.To)
	if msg.HTML != "" {
		m.SetHtml(msg.HTML)
	}
	if msg.ReplyTo != "" {
		m.SetReplyTo(msg.ReplyTo)
	}
	for k, v := range msg.Variables {
		if err := m.AddVariable(k, v); err != nil {
			return core.SendReceipt{}, fmt.Errorf("add variable %q: %w", k, err)
		}
	}

	_, id, err := s.client.Send(ctx, m)
	if err != nil {
		return core.SendReceipt{}, fmt.Errorf("mailgun send: %w", err)
	}

	id = strings.Trim(id, "<>")
	s.logger.DebugContext(ctx, "email accepted", "message_id", id)
	return core.SendReceipt{MessageID: id}, nil
}
