// Package testutil provides testing utilities and helpers for the inkwell job pipeline.
package testutil

import (
	"encoding/json"
	"time"

	"github.com/target/inkwell/internal/domain/model"
)

// SampleContentJSON is a newsletter document that passes validation.
const SampleContentJSON = `{
  "title": "This Week in AI",
  "preheader": "Three stories worth your time",
  "intro": "Hello there.",
  "sections": [
    {
      "title": "Models",
      "summary": "A new open model landed.",
      "linkSuggestions": ["https://example.com/models"]
    }
  ],
  "outro": "See you next week.",
  "cta": {"headline": "Read more", "buttonLabel": "Open", "buttonUrl": "https://example.com"}
}`

// SampleContent returns SampleContentJSON as raw JSON.
func SampleContent() json.RawMessage {
	return json.RawMessage(SampleContentJSON)
}

// IssueRequestBuilder provides a fluent interface for building CreateIssueRequest objects for testing.
type IssueRequestBuilder struct {
	req *model.CreateIssueRequest
}

// NewIssueRequest creates a new IssueRequestBuilder for a scheduled issue due at TestTime.
func NewIssueRequest() *IssueRequestBuilder {
	return &IssueRequestBuilder{
		req: &model.CreateIssueRequest{
			UserID:      "user-1",
			Status:      model.IssueStatusScheduled,
			ScheduledAt: TestTime(),
		},
	}
}

// WithUser sets the owning user.
func (b *IssueRequestBuilder) WithUser(userID string) *IssueRequestBuilder {
	b.req.UserID = userID
	return b
}

// WithStatus sets the issue status.
func (b *IssueRequestBuilder) WithStatus(status model.IssueStatus) *IssueRequestBuilder {
	b.req.Status = status
	return b
}

// WithScheduledAt sets the scheduled time.
func (b *IssueRequestBuilder) WithScheduledAt(at time.Time) *IssueRequestBuilder {
	b.req.ScheduledAt = at
	return b
}

// WithContent attaches stored content and subject.
func (b *IssueRequestBuilder) WithContent(raw json.RawMessage, subject string) *IssueRequestBuilder {
	b.req.ContentJSON = raw
	b.req.Subject = subject
	return b
}

// Build returns the built CreateIssueRequest.
func (b *IssueRequestBuilder) Build() *model.CreateIssueRequest {
	out := *b.req
	return &out
}

// DeliveryRequestBuilder provides a fluent interface for building CreateDeliveryRequest objects for testing.
type DeliveryRequestBuilder struct {
	req *model.CreateDeliveryRequest
}

// NewDeliveryRequest creates a builder for a delivery of issueID due at TestTime.
func NewDeliveryRequest(issueID string) *DeliveryRequestBuilder {
	return &DeliveryRequestBuilder{
		req: &model.CreateDeliveryRequest{
			IssueID: issueID,
			ToEmail: "reader@example.com",
			SendAt:  TestTime(),
		},
	}
}

// WithEmail sets the recipient.
func (b *DeliveryRequestBuilder) WithEmail(email string) *DeliveryRequestBuilder {
	b.req.ToEmail = email
	return b
}

// WithSendAt sets the send time.
func (b *DeliveryRequestBuilder) WithSendAt(at time.Time) *DeliveryRequestBuilder {
	b.req.SendAt = at
	return b
}

// WithPayload sets the frozen content snapshot.
func (b *DeliveryRequestBuilder) WithPayload(raw json.RawMessage) *DeliveryRequestBuilder {
	b.req.Payload = raw
	return b
}

// Build returns the built CreateDeliveryRequest.
func (b *DeliveryRequestBuilder) Build() *model.CreateDeliveryRequest {
	out := *b.req
	return &out
}

// PreferencesBuilder builds model.Preferences fixtures.
type PreferencesBuilder struct {
	prefs model.Preferences
}

// NewPreferences returns a builder with one topic and a weekly cadence.
func NewPreferences(userID string) *PreferencesBuilder {
	return &PreferencesBuilder{prefs: model.Preferences{
		UserID:      userID,
		Cadence:     7,
		Topics:      []string{"AI research"},
		MustInclude: []string{},
		Avoid:       []string{},
	}}
}

// WithTopics replaces the topics.
func (b *PreferencesBuilder) WithTopics(topics ...string) *PreferencesBuilder {
	b.prefs.Topics = topics
	return b
}

// WithTone sets the tone.
func (b *PreferencesBuilder) WithTone(tone string) *PreferencesBuilder {
	b.prefs.Tone = model.StringPtr(tone)
	return b
}

// WithSender sets the display name and reply-to address.
func (b *PreferencesBuilder) WithSender(name, replyTo string) *PreferencesBuilder {
	b.prefs.SenderName = model.StringPtr(name)
	b.prefs.ReplyTo = model.StringPtr(replyTo)
	return b
}

// Build returns a copy of the preferences.
func (b *PreferencesBuilder) Build() *model.Preferences {
	out := b.prefs
	return &out
}
