package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/inkwell/internal/core"
	"github.com/target/inkwell/internal/data"
	"github.com/target/inkwell/internal/domain/model"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func TestJobs_ActiveSlotAndClaim(t *testing.T) {
	clock := data.NewFixedTimeProvider(t0)
	s := New(clock)
	ctx := context.Background()

	issue, err := s.Issues().Create(ctx, &model.CreateIssueRequest{UserID: "u", ScheduledAt: t0})
	require.NoError(t, err)

	job, err := s.Jobs().Create(ctx, &model.CreateJobRequest{IssueID: issue.ID, Type: model.JobTypeSend})
	require.NoError(t, err)

	_, err = s.Jobs().Create(ctx, &model.CreateJobRequest{IssueID: issue.ID, Type: model.JobTypeSend})
	require.ErrorIs(t, err, data.ErrActiveJobExists)

	_, err = s.Jobs().Create(ctx, &model.CreateJobRequest{IssueID: "missing", Type: model.JobTypeSend})
	require.ErrorIs(t, err, data.ErrIssueNotFound)

	claimed, ok, err := s.Jobs().Claim(ctx, job.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, claimed.Attempts)

	_, ok, err = s.Jobs().Claim(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	clock.AddTime(16 * time.Minute)
	res, err := s.Jobs().RecoverStaleJobs(ctx, core.RecoverStaleJobsParams{StaleAfter: 15 * time.Minute, MaxAttempts: 1, BatchSize: 5})
	require.NoError(t, err)
	assert.Equal(t, core.RecoverStaleJobsResult{Failed: 1}, res)

	got, err := s.Jobs().GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, got.Status)
	assert.Equal(t, model.LeaseExpiredError, model.StringValue(got.Error))
}

func TestStore_SetError(t *testing.T) {
	s := New(nil)
	boom := errors.New("boom")
	s.SetError("deliveries.ListDue", boom)

	_, err := s.Deliveries().ListDue(context.Background(), t0, 10)
	require.ErrorIs(t, err, boom)

	s.SetError("deliveries.ListDue", nil)
	out, err := s.Deliveries().ListDue(context.Background(), t0, 10)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestIssues_CreateWithDeliveryIsAtomic(t *testing.T) {
	s := New(data.NewFixedTimeProvider(t0))
	ctx := context.Background()

	_, err := s.Issues().CreateWithDelivery(ctx, core.CreateWithDeliveryParams{
		Issue: model.CreateIssueRequest{UserID: "u", Status: model.IssueStatusGenerated, ScheduledAt: t0},
	})
	require.Error(t, err)
	due, err := s.Issues().ListDueForGeneration(ctx, t0, 10)
	require.NoError(t, err)
	assert.Empty(t, due)
	assert.Empty(t, s.issues)
}

func TestLocker(t *testing.T) {
	clock := data.NewFixedTimeProvider(t0)
	l := NewLocker(clock)
	ctx := context.Background()

	lease, ok, err := l.TryAcquire(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, _ = l.TryAcquire(ctx, "k", time.Minute)
	assert.False(t, ok)

	clock.AddTime(2 * time.Minute)
	next, ok, _ := l.TryAcquire(ctx, "k", time.Minute)
	require.True(t, ok)

	// An expired lease must not release the new holder.
	require.NoError(t, lease.Release(ctx))
	_, ok, _ = l.TryAcquire(ctx, "k", time.Minute)
	assert.False(t, ok)
	require.NoError(t, next.Release(ctx))
}
