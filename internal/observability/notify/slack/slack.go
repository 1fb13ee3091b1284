// Package slack posts job failure notifications to a Slack incoming webhook.
package slack

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/target/inkwell/internal/observability/notify"
)

// Config captures the subset of Slack webhook behaviour we need.
type Config struct {
	WebhookURL string
	Channel    string
	Username   string
	Timeout    time.Duration
	RetryLimit int
	HTTPClient *http.Client
	// IssueURLPrefix turns issue ids into links, e.g. https://app.example.com/issues.
	IssueURLPrefix string
}

// Client delivers job failure notifications to a Slack webhook.
type Client struct {
	webhookURL     string
	channel        string
	username       string
	issueURLPrefix string
	http           *resty.Client
}

var _ notify.Sink = (*Client)(nil)

// NewClient builds a Slack webhook client. Callers should pass a validated config.
func NewClient(cfg Config) (*Client, error) {
	webhookURL := strings.TrimSpace(cfg.WebhookURL)
	if webhookURL == "" {
		return nil, errors.New("slack webhook url is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	retries := max(cfg.RetryLimit, 0)

	var rc *resty.Client
	if cfg.HTTPClient != nil {
		rc = resty.NewWithClient(cfg.HTTPClient)
	} else {
		rc = resty.New()
	}
	rc.SetTimeout(timeout).
		SetRetryCount(retries).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Content-Type", "application/json").
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			return err != nil || resp.StatusCode() == http.StatusTooManyRequests || resp.StatusCode() >= 500
		})

	return &Client{
		webhookURL:     webhookURL,
		channel:        strings.TrimSpace(cfg.Channel),
		username:       fallbackString(strings.TrimSpace(cfg.Username), "inkwell"),
		issueURLPrefix: strings.TrimSpace(cfg.IssueURLPrefix),
		http:           rc,
	}, nil
}

// SendJobFailure posts a formatted message to Slack.
func (c *Client) SendJobFailure(ctx context.Context, payload notify.JobFailurePayload) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(c.formatMessage(payload)).
		Post(c.webhookURL)
	if err != nil {
		return fmt.Errorf("slack request failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("slack webhook %s: %s", resp.Status(), strings.TrimSpace(resp.String()))
	}
	return nil
}

func (c *Client) formatMessage(payload notify.JobFailurePayload) map[string]any {
	timestamp := payload.OccurredAt
	if timestamp.IsZero() {
		timestamp = time.Now()
	}
	text := strings.Builder{}
	writeHeader(&text, payload)
	appendDetails(&text, payload, c.formatIssueValue(payload.IssueID))
	appendMetadata(&text, payload.Metadata)
	text.WriteString("• Timestamp: ")
	text.WriteString(timestamp.UTC().Format(time.RFC3339))

	msg := map[string]any{
		"text":     text.String(),
		"username": c.username,
	}
	if c.channel != "" {
		msg["channel"] = c.channel
	}
	return msg
}

func fallbackString(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func writeHeader(text *strings.Builder, payload notify.JobFailurePayload) {
	text.WriteString("*Newsletter job failed*")
	if payload.JobID != "" {
		text.WriteString(" `")
		text.WriteString(payload.JobID)
		text.WriteByte('`')
	}
	if payload.JobType != "" {
		text.WriteString(" (")
		text.WriteString(payload.JobType)
		text.WriteByte(')')
	}
	text.WriteByte('\n')
}

func appendDetails(text *strings.Builder, payload notify.JobFailurePayload, issueValue string) {
	attempts := ""
	if payload.Attempts > 0 {
		attempts = strconv.Itoa(payload.Attempts)
	}
	fields := []struct {
		label string
		value string
	}{
		{"Severity", fallbackString(payload.Severity, notify.SeverityCritical)},
		{"Issue", issueValue},
		{"Attempts", attempts},
		{"Error class", payload.ErrorClass},
		{"Error", escapeSlackText(payload.Error)},
	}
	for _, field := range fields {
		if strings.TrimSpace(field.value) == "" {
			continue
		}
		text.WriteString("• ")
		text.WriteString(field.label)
		text.WriteString(": ")
		text.WriteString(field.value)
		text.WriteByte('\n')
	}
}

func (c *Client) formatIssueValue(issueID string) string {
	raw := strings.TrimSpace(issueID)
	if raw == "" {
		return ""
	}
	id := escapeSlackText(raw)
	if link := c.buildIssueLink(raw); link != "" {
		return fmt.Sprintf("<%s|%s>", link, id)
	}
	return id
}

func (c *Client) buildIssueLink(issueID string) string {
	if c.issueURLPrefix == "" {
		return ""
	}
	u, err := url.Parse(c.issueURLPrefix)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	link, err := url.JoinPath(u.String(), issueID)
	if err != nil {
		return ""
	}
	return link
}

func escapeSlackText(value string) string {
	if value == "" {
		return ""
	}
	return strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
	).Replace(value)
}

func appendMetadata(text *strings.Builder, metadata map[string]string) {
	if len(metadata) == 0 {
		return
	}
	text.WriteString("• Metadata:\n")
	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		text.WriteString("    • ")
		text.WriteString(k)
		text.WriteString(": ")
		text.WriteString(escapeSlackText(metadata[k]))
		text.WriteByte('\n')
	}
}
