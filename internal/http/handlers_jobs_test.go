package httpx

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/inkwell/internal/data/memstore"
	"github.com/target/inkwell/internal/domain/model"
)

func TestDispatchGenerate_QueuesDueIssues(t *testing.T) {
	f := newHTTPFixture(t)
	f.pendingIssue(t, "user-1")
	f.pendingIssue(t, "user-2")

	rec := f.authed(t, http.MethodPost, "/dispatch/generate", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decodeBody(t, rec)
	assert.Equal(t, true, body["ok"])
	assert.InDelta(t, 2, body["queued"], 0)
	assert.NotContains(t, body, "failures")
	assert.NotContains(t, body, "skipped")

	// A second call finds active jobs and queues nothing.
	body = decodeBody(t, f.authed(t, http.MethodPost, "/dispatch/generate", nil))
	assert.InDelta(t, 0, body["queued"], 0)
}

func TestDispatchSend_ScanFailure(t *testing.T) {
	f := newHTTPFixture(t)
	f.store.SetError(memstore.Op("deliveries.ListDue"), errors.New("connection refused"))

	rec := f.authed(t, http.MethodPost, "/dispatch/send", nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "dispatch_failed", body["error"])
	assert.NotContains(t, body["message"], "connection refused")
}

func TestProcessGeneration_EmptyQueue(t *testing.T) {
	f := newHTTPFixture(t)

	rec := f.authed(t, http.MethodPost, "/jobs/generate", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decodeBody(t, rec)
	assert.Equal(t, true, body["ok"])
	assert.InDelta(t, 0, body["processed"], 0)
}

func TestProcessGeneration_NamedJob(t *testing.T) {
	f := newHTTPFixture(t)
	issue := f.pendingIssue(t, "user-1")
	job, err := f.store.Jobs().Create(context.Background(), &model.CreateJobRequest{IssueID: issue.ID, Type: model.JobTypeGenerate})
	require.NoError(t, err)

	rec := f.authed(t, http.MethodPost, "/jobs/generate", map[string]string{"jobId": job.ID})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decodeBody(t, rec)
	assert.InDelta(t, 1, body["processed"], 0)
	assert.Equal(t, job.ID, body["jobId"])

	stored, err := f.store.Issues().GetByID(context.Background(), issue.ID)
	require.NoError(t, err)
	assert.Equal(t, model.IssueStatusGenerated, stored.Status)
}

func TestProcessGeneration_InvalidJSON(t *testing.T) {
	f := newHTTPFixture(t)

	for _, raw := range []string{"{bad", `{"jobId":"x","extra":1}`} {
		rec := f.authed(t, http.MethodPost, "/jobs/generate", raw)
		require.Equal(t, http.StatusBadRequest, rec.Code, raw)
		assert.Equal(t, "invalid_json", decodeBody(t, rec)["error"])
	}
}

func TestProcessGeneration_StoreFailure(t *testing.T) {
	f := newHTTPFixture(t)
	issue := f.pendingIssue(t, "user-1")
	_, err := f.store.Jobs().Create(context.Background(), &model.CreateJobRequest{IssueID: issue.ID, Type: model.JobTypeGenerate})
	require.NoError(t, err)
	f.store.SetError(memstore.Op("issues.GetByID"), errors.New("connection reset"))

	rec := f.authed(t, http.MethodPost, "/jobs/generate", nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "processing_failed", decodeBody(t, rec)["error"])
}

func TestEndToEnd_GenerateSendAndTrack(t *testing.T) {
	f := newHTTPFixture(t)
	issue := f.pendingIssue(t, "user-1")

	require.Equal(t, http.StatusOK, f.authed(t, http.MethodPost, "/dispatch/generate", nil).Code)
	body := decodeBody(t, f.authed(t, http.MethodPost, "/jobs/generate", nil))
	require.InDelta(t, 1, body["processed"], 0)

	d := f.delivery(t, issue.ID, "reader@example.com")

	body = decodeBody(t, f.authed(t, http.MethodPost, "/dispatch/send", nil))
	require.InDelta(t, 1, body["queued"], 0)
	body = decodeBody(t, f.authed(t, http.MethodPost, "/jobs/send", map[string]string{}))
	require.InDelta(t, 1, body["processed"], 0)

	sent := f.sender.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "reader@example.com", sent[0].To)
	assert.Equal(t, d.ID, sent[0].Variables["delivery_id"])

	rec := f.postWebhook(t, signedPayload(t, f, "delivered", d.ID, issue.ID))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	stored, err := f.store.Deliveries().GetByID(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DeliveryStatusDelivered, stored.Status)
	require.NotNil(t, stored.DeliveredAt)
}

func TestJobQueries(t *testing.T) {
	f := newHTTPFixture(t)
	issue := f.generatedIssue(t, "user-1")
	f.delivery(t, issue.ID, "a@example.com")
	job, err := f.store.Jobs().Create(context.Background(), &model.CreateJobRequest{IssueID: issue.ID, Type: model.JobTypeSend})
	require.NoError(t, err)

	rec := f.authed(t, http.MethodGet, "/api/jobs/"+job.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "queued", body["status"])
	assert.Equal(t, issue.ID, body["issue_id"])

	rec = f.authed(t, http.MethodGet, "/api/jobs/missing", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decodeBody(t, rec)["error"])

	rec = f.authed(t, http.MethodGet, "/api/issues/"+issue.ID+"/jobs?limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), job.ID)

	rec = f.authed(t, http.MethodGet, "/api/issues/"+issue.ID+"/deliveries", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "a@example.com")

	rec = f.authed(t, http.MethodGet, "/api/issues/nope/deliveries", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.authed(t, http.MethodGet, "/api/jobs/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"send":{"queued":1}`)
}
