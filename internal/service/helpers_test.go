package service

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/target/inkwell/internal/data"
	"github.com/target/inkwell/internal/data/memstore"
	"github.com/target/inkwell/internal/domain/model"
)

var testNow = time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)

const testContent = `{
  "title": "Weekly AI",
  "preheader": "Five things worth reading",
  "intro": "Hello there",
  "sections": [
    {"title": "Models", "summary": "New releases", "linkSuggestions": ["not-a-url", "https://example.com/a"]},
    {"title": "Tools", "summary": "Shiny", "pullQuote": "Ship it"}
  ],
  "outro": "See you next week"
}`

// storedContent is testContent after sanitizing, as generation and the editor persist it.
const storedContent = `{
  "title": "Weekly AI",
  "preheader": "Five things worth reading",
  "intro": "Hello there",
  "sections": [
    {"title": "Models", "summary": "New releases", "linkSuggestions": ["https://example.com/a"]},
    {"title": "Tools", "summary": "Shiny", "pullQuote": "Ship it"}
  ],
  "outro": "See you next week"
}`

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	store *memstore.Store
	clock *data.FixedTimeProvider
}

func newFixture() *fixture {
	clock := data.NewFixedTimeProvider(testNow)
	return &fixture{store: memstore.New(clock), clock: clock}
}

func (f *fixture) issue(t *testing.T, req model.CreateIssueRequest) *model.Issue {
	t.Helper()
	if req.UserID == "" {
		req.UserID = "user-1"
	}
	issue, err := f.store.Issues().Create(context.Background(), &req)
	require.NoError(t, err)
	return issue
}

func (f *fixture) generatedIssue(t *testing.T) *model.Issue {
	t.Helper()
	return f.issue(t, model.CreateIssueRequest{
		Status:      model.IssueStatusGenerated,
		ScheduledAt: testNow.Add(-time.Hour),
		Subject:     "Weekly AI",
		ContentJSON: json.RawMessage(storedContent),
	})
}

func (f *fixture) delivery(t *testing.T, issueID, to string, sendAt time.Time) *model.Delivery {
	t.Helper()
	d, err := f.store.Deliveries().Create(context.Background(), &model.CreateDeliveryRequest{
		IssueID: issueID,
		ToEmail: to,
		SendAt:  sendAt,
	})
	require.NoError(t, err)
	return d
}

func (f *fixture) job(t *testing.T, issueID string, jobType model.JobType) *model.Job {
	t.Helper()
	job, err := f.store.Jobs().Create(context.Background(), &model.CreateJobRequest{IssueID: issueID, Type: jobType})
	require.NoError(t, err)
	return job
}

func (f *fixture) getJob(t *testing.T, id string) *model.Job {
	t.Helper()
	job, err := f.store.Jobs().GetByID(context.Background(), id)
	require.NoError(t, err)
	return job
}

func (f *fixture) getDelivery(t *testing.T, id string) *model.Delivery {
	t.Helper()
	d, err := f.store.Deliveries().GetByID(context.Background(), id)
	require.NoError(t, err)
	return d
}

func (f *fixture) getIssue(t *testing.T, id string) *model.Issue {
	t.Helper()
	issue, err := f.store.Issues().GetByID(context.Background(), id)
	require.NoError(t, err)
	return issue
}
