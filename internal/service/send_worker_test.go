package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/target/inkwell/internal/core"
	"github.com/target/inkwell/internal/data"
	"github.com/target/inkwell/internal/domain/model"
	"github.com/target/inkwell/internal/mocks"
)

// recordingSender accepts every message and remembers when it arrived.
type recordingSender struct {
	mu     sync.Mutex
	msgs   []core.EmailMessage
	times  []time.Time
	onSend func(n int)
}

func (s *recordingSender) Send(_ context.Context, msg core.EmailMessage) (core.SendReceipt, error) {
	s.mu.Lock()
	s.msgs = append(s.msgs, msg)
	s.times = append(s.times, time.Now())
	n := len(s.msgs)
	hook := s.onSend
	s.mu.Unlock()
	if hook != nil {
		hook(n)
	}
	return core.SendReceipt{MessageID: fmt.Sprintf("<msg-%d@mg.example.com>", n)}, nil
}

func (s *recordingSender) sent() []core.EmailMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.EmailMessage(nil), s.msgs...)
}

var testSendConfig = SendConfig{
	BatchSize:   20,
	Timeout:     time.Second,
	FromName:    "Inkwell",
	FromAddress: "newsletter@example.com",
}

func newTestSendWorker(t *testing.T, f *fixture, sender core.EmailSender, cfg SendConfig) *SendWorker {
	t.Helper()
	w, err := NewSendWorker(SendWorkerOptions{
		WorkerDeps: WorkerDeps{
			Jobs:         f.store.Jobs(),
			TimeProvider: f.clock,
			Logger:       discardLogger(),
		},
		Issues:      f.store.Issues(),
		Deliveries:  f.store.Deliveries(),
		Preferences: f.store.Preferences(),
		Sender:      sender,
		Config:      cfg,
	})
	require.NoError(t, err)
	return w
}

func TestNewSendWorker_RequiresSender(t *testing.T) {
	f := newFixture()
	_, err := NewSendWorker(SendWorkerOptions{
		WorkerDeps: WorkerDeps{Jobs: f.store.Jobs()},
		Issues:     f.store.Issues(),
		Deliveries: f.store.Deliveries(),
	})
	require.EqualError(t, err, "EmailSender is required")
}

func TestSendWorker_SendsScheduledDeliveries(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	issue := f.generatedIssue(t)
	first := f.delivery(t, issue.ID, "one@example.com", testNow.Add(-2*time.Minute))
	snapshot, err := f.store.Deliveries().Create(ctx, &model.CreateDeliveryRequest{
		IssueID: issue.ID,
		ToEmail: "two@example.com",
		SendAt:  testNow.Add(-time.Minute),
		Payload: json.RawMessage(`{"title": "Snapshot", "preheader": "p", "sections": [{"title": "s", "summary": "x"}]}`),
	})
	require.NoError(t, err)
	job := f.job(t, issue.ID, model.JobTypeSend)

	sender := &recordingSender{}
	w := newTestSendWorker(t, f, sender, testSendConfig)

	res, err := w.Process(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, WorkResult{Processed: 2, JobID: job.ID, IssueID: issue.ID}, res)

	msgs := sender.sent()
	require.Len(t, msgs, 2)
	assert.Equal(t, "one@example.com", msgs[0].To)
	assert.Equal(t, "Weekly AI", msgs[0].Subject)
	assert.Equal(t, `"Inkwell" <newsletter@example.com>`, msgs[0].From)
	assert.Empty(t, msgs[0].ReplyTo)
	assert.Contains(t, msgs[0].HTML, "Models")
	assert.Contains(t, msgs[0].Text, "Models")
	assert.Equal(t, map[string]string{VarIssueID: issue.ID, VarDeliveryID: first.ID}, msgs[0].Variables)
	assert.Equal(t, "Snapshot", msgs[1].Subject, "payload snapshot wins over issue content")

	for i, id := range []string{first.ID, snapshot.ID} {
		d := f.getDelivery(t, id)
		assert.Equal(t, model.DeliveryStatusSent, d.Status)
		require.NotNil(t, d.SentAt)
		assert.True(t, d.SentAt.Equal(testNow))
		assert.Equal(t, fmt.Sprintf("<msg-%d@mg.example.com>", i+1), model.StringValue(d.ProviderMessageID))
	}
	assert.Equal(t, model.JobStatusSucceeded, f.getJob(t, job.ID).Status)
	assert.Equal(t, model.IssueStatusSent, f.getIssue(t, issue.ID).Status)

	t.Run("sent deliveries are not sent again", func(t *testing.T) {
		f.job(t, issue.ID, model.JobTypeSend)
		res, err := w.Process(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, 0, res.Processed)
		assert.Len(t, sender.sent(), 2)
	})
}

func TestSendWorker_SenderPreferences(t *testing.T) {
	f := newFixture()
	f.store.Preferences().Put(&model.Preferences{
		UserID:     "user-1",
		SenderName: model.StringPtr("Ada's Digest"),
		ReplyTo:    model.StringPtr("ada@example.com"),
	})
	issue := f.generatedIssue(t)
	f.delivery(t, issue.ID, "reader@example.com", testNow)
	f.job(t, issue.ID, model.JobTypeSend)

	sender := &recordingSender{}
	w := newTestSendWorker(t, f, sender, testSendConfig)
	_, err := w.Process(context.Background(), "")
	require.NoError(t, err)

	msgs := sender.sent()
	require.Len(t, msgs, 1)
	assert.Equal(t, `"Ada's Digest" <newsletter@example.com>`, msgs[0].From)
	assert.Equal(t, "ada@example.com", msgs[0].ReplyTo)
}

func TestSendWorker_PartialFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	f := newFixture()
	issue := f.generatedIssue(t)
	bad := f.delivery(t, issue.ID, "bounce@example.com", testNow.Add(-time.Minute))
	good := f.delivery(t, issue.ID, "ok@example.com", testNow)
	job := f.job(t, issue.ID, model.JobTypeSend)

	sender := mocks.NewMockEmailSender(ctrl)
	gomock.InOrder(
		sender.EXPECT().Send(gomock.Any(), gomock.Any()).Return(core.SendReceipt{}, errors.New("mailgun: 400 invalid recipient")),
		sender.EXPECT().Send(gomock.Any(), gomock.Any()).Return(core.SendReceipt{MessageID: "m-2"}, nil),
	)

	w := newTestSendWorker(t, f, sender, testSendConfig)
	res, err := w.Process(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)

	failed := f.getDelivery(t, bad.ID)
	assert.Equal(t, model.DeliveryStatusFailed, failed.Status)
	assert.Equal(t, "mailgun: 400 invalid recipient", model.StringValue(failed.Error))
	assert.Nil(t, failed.SentAt)

	assert.Equal(t, model.DeliveryStatusSent, f.getDelivery(t, good.ID).Status)
	assert.Equal(t, model.JobStatusSucceeded, f.getJob(t, job.ID).Status)
}

func TestSendWorker_InvalidPayloadIsNotSent(t *testing.T) {
	ctrl := gomock.NewController(t)
	ctx := context.Background()
	f := newFixture()
	issue := f.generatedIssue(t)
	d, err := f.store.Deliveries().Create(ctx, &model.CreateDeliveryRequest{
		IssueID: issue.ID,
		ToEmail: "reader@example.com",
		SendAt:  testNow,
		Payload: json.RawMessage(`{"title": ""}`),
	})
	require.NoError(t, err)
	f.job(t, issue.ID, model.JobTypeSend)

	w := newTestSendWorker(t, f, mocks.NewMockEmailSender(ctrl), testSendConfig)
	res, err := w.Process(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 0, res.Processed)

	got := f.getDelivery(t, d.ID)
	assert.Equal(t, model.DeliveryStatusFailed, got.Status)
	assert.Equal(t, "invalid newsletter payload", model.StringValue(got.Error))
}

func TestSendWorker_SnapshotIsNotSanitizedBeforeSend(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	issue := f.generatedIssue(t)
	d, err := f.store.Deliveries().Create(ctx, &model.CreateDeliveryRequest{
		IssueID: issue.ID,
		ToEmail: "reader@example.com",
		SendAt:  testNow,
		Payload: json.RawMessage(`{"title": "Snapshot", "preheader": "p", "sections": [{"title": "s", "summary": "x", "linkSuggestions": ["not-a-url"]}]}`),
	})
	require.NoError(t, err)
	job := f.job(t, issue.ID, model.JobTypeSend)

	sender := &recordingSender{}
	w := newTestSendWorker(t, f, sender, testSendConfig)
	res, err := w.Process(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Processed)
	assert.Empty(t, sender.sent())

	got := f.getDelivery(t, d.ID)
	assert.Equal(t, model.DeliveryStatusFailed, got.Status)
	assert.Equal(t, "invalid newsletter payload", model.StringValue(got.Error))
	assert.Equal(t, model.JobStatusSucceeded, f.getJob(t, job.ID).Status)
	assert.Equal(t, model.IssueStatusGenerated, f.getIssue(t, issue.ID).Status, "nothing was sent")
}

func TestSendWorker_MarkIssueSentFailureIsLogged(t *testing.T) {
	f := newFixture()
	issue := f.generatedIssue(t)
	d := f.delivery(t, issue.ID, "one@example.com", testNow)
	job := f.job(t, issue.ID, model.JobTypeSend)
	f.store.SetError("issues.MarkSent", errors.New("write timeout"))

	w := newTestSendWorker(t, f, &recordingSender{}, testSendConfig)
	res, err := w.Process(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, model.DeliveryStatusSent, f.getDelivery(t, d.ID).Status)
	assert.Equal(t, model.IssueStatusGenerated, f.getIssue(t, issue.ID).Status)
}

func TestSendWorker_NoPendingDeliveries(t *testing.T) {
	f := newFixture()
	issue := f.generatedIssue(t)
	job := f.job(t, issue.ID, model.JobTypeSend)

	w := newTestSendWorker(t, f, &recordingSender{}, testSendConfig)
	res, err := w.Process(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Processed)
	assert.Equal(t, model.JobStatusSucceeded, f.getJob(t, job.ID).Status)
}

func TestSendWorker_LoadFailures(t *testing.T) {
	t.Run("deliveries", func(t *testing.T) {
		f := newFixture()
		issue := f.generatedIssue(t)
		job := f.job(t, issue.ID, model.JobTypeSend)
		boom := errors.New("connection reset")
		f.store.SetError("deliveries.ListScheduledByIssue", boom)

		w := newTestSendWorker(t, f, &recordingSender{}, testSendConfig)
		res, err := w.Process(context.Background(), job.ID)
		require.ErrorIs(t, err, boom)
		assert.Equal(t, "unable to load deliveries", res.Message)

		failed := f.getJob(t, job.ID)
		assert.Equal(t, model.JobStatusFailed, failed.Status)
		assert.Equal(t, "unable to load deliveries", model.StringValue(failed.Error))
	})

	t.Run("issue missing", func(t *testing.T) {
		f := newFixture()
		issue := f.generatedIssue(t)
		job := f.job(t, issue.ID, model.JobTypeSend)
		f.store.SetError("issues.GetByID", data.ErrIssueNotFound)

		w := newTestSendWorker(t, f, &recordingSender{}, testSendConfig)
		_, err := w.Process(context.Background(), job.ID)
		require.ErrorIs(t, err, ErrIssueNotFound)
		assert.Equal(t, "issue not found", model.StringValue(f.getJob(t, job.ID).Error))
	})
}

func TestSendWorker_PacesSends(t *testing.T) {
	f := newFixture()
	issue := f.generatedIssue(t)
	for i := range 3 {
		f.delivery(t, issue.ID, fmt.Sprintf("r%d@example.com", i), testNow)
	}
	f.job(t, issue.ID, model.JobTypeSend)

	cfg := testSendConfig
	cfg.PaceInterval = 50 * time.Millisecond
	sender := &recordingSender{}
	w := newTestSendWorker(t, f, sender, cfg)

	res, err := w.Process(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, 3, res.Processed)

	sender.mu.Lock()
	defer sender.mu.Unlock()
	for i := 1; i < len(sender.times); i++ {
		gap := sender.times[i].Sub(sender.times[i-1])
		assert.GreaterOrEqual(t, gap, 40*time.Millisecond, "send %d followed the previous one after %s", i, gap)
	}
}

func TestSendWorker_CancellationLeavesRestScheduled(t *testing.T) {
	f := newFixture()
	issue := f.generatedIssue(t)
	ids := make([]string, 0, 3)
	for i := range 3 {
		ids = append(ids, f.delivery(t, issue.ID, fmt.Sprintf("r%d@example.com", i), testNow.Add(time.Duration(i)*time.Second-time.Hour)).ID)
	}
	job := f.job(t, issue.ID, model.JobTypeSend)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sender := &recordingSender{onSend: func(n int) {
		if n == 1 {
			cancel()
		}
	}}
	w := newTestSendWorker(t, f, sender, testSendConfig)

	res, err := w.Process(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)

	assert.Equal(t, model.DeliveryStatusSent, f.getDelivery(t, ids[0]).Status)
	assert.Equal(t, model.DeliveryStatusScheduled, f.getDelivery(t, ids[1]).Status)
	assert.Equal(t, model.DeliveryStatusScheduled, f.getDelivery(t, ids[2]).Status)
	assert.Equal(t, model.JobStatusSucceeded, f.getJob(t, job.ID).Status)
}

func TestSendWorker_ConcurrentCallsSendOnce(t *testing.T) {
	f := newFixture()
	issue := f.generatedIssue(t)
	for i := range 4 {
		f.delivery(t, issue.ID, fmt.Sprintf("r%d@example.com", i), testNow)
	}
	job := f.job(t, issue.ID, model.JobTypeSend)

	sender := &recordingSender{}
	w := newTestSendWorker(t, f, sender, testSendConfig)

	var wg sync.WaitGroup
	results := make([]WorkResult, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := w.Process(context.Background(), job.ID)
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	total := 0
	for _, r := range results {
		total += r.Processed
	}
	assert.Equal(t, 4, total)
	assert.Len(t, sender.sent(), 4)
}
