package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/inkwell/internal/domain/model"
	apperrors "github.com/target/inkwell/internal/errors"
)

func TestJobService_Queries(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	issue := f.generatedIssue(t)
	job := f.job(t, issue.ID, model.JobTypeSend)
	f.delivery(t, issue.ID, "a@example.com", testNow)
	f.delivery(t, issue.ID, "b@example.com", testNow.Add(time.Minute))

	svc := MustNewJobService(JobServiceOptions{
		Jobs:       f.store.Jobs(),
		Issues:     f.store.Issues(),
		Deliveries: f.store.Deliveries(),
		Logger:     discardLogger(),
	})

	got, err := svc.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)

	_, err = svc.GetByID(ctx, "missing")
	assert.True(t, apperrors.IsNotFound(err))

	jobs, err := svc.ListByIssue(ctx, issue.ID, 0)
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	deliveries, err := svc.ListDeliveries(ctx, issue.ID, 1000)
	require.NoError(t, err)
	require.Len(t, deliveries, 2)
	assert.Equal(t, "a@example.com", deliveries[0].ToEmail)

	_, err = svc.ListDeliveries(ctx, "missing", 10)
	assert.True(t, apperrors.IsNotFound(err))

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Counts[model.JobTypeSend][model.JobStatusQueued])
}

func TestNewJobService_RequiresRepositories(t *testing.T) {
	_, err := NewJobService(JobServiceOptions{})
	require.EqualError(t, err, "JobRepository is required")
	assert.Panics(t, func() { MustNewJobService(JobServiceOptions{}) })
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, 50, clampLimit(0, 50))
	assert.Equal(t, 7, clampLimit(7, 50))
	assert.Equal(t, MaxListLimit, clampLimit(MaxListLimit+1, 50))
}
