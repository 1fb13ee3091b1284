package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/target/inkwell/config"
	"github.com/target/inkwell/internal/data/memstore"
	"github.com/target/inkwell/internal/domain/model"
	"github.com/target/inkwell/internal/mocks"
	"github.com/target/inkwell/internal/observability/metrics"
)

var testDispatchConfig = config.DispatchConfig{
	BatchSize:  25,
	LockTTL:    30 * time.Second,
	LockPrefix: "inkwell:dispatch:",
}

func newTestDispatcher(t *testing.T, f *fixture, mutate func(*DispatcherOptions)) *Dispatcher {
	t.Helper()
	opts := DispatcherOptions{
		Jobs:         f.store.Jobs(),
		Issues:       f.store.Issues(),
		Deliveries:   f.store.Deliveries(),
		TimeProvider: f.clock,
		Config:       testDispatchConfig,
		Logger:       discardLogger(),
	}
	if mutate != nil {
		mutate(&opts)
	}
	d, err := NewDispatcher(opts)
	require.NoError(t, err)
	return d
}

func TestNewDispatcher_RequiresRepositories(t *testing.T) {
	f := newFixture()
	tests := []struct {
		name string
		opts DispatcherOptions
		want string
	}{
		{"jobs", DispatcherOptions{Issues: f.store.Issues(), Deliveries: f.store.Deliveries()}, "JobRepository is required"},
		{"issues", DispatcherOptions{Jobs: f.store.Jobs(), Deliveries: f.store.Deliveries()}, "IssueRepository is required"},
		{"deliveries", DispatcherOptions{Jobs: f.store.Jobs(), Issues: f.store.Issues()}, "DeliveryRepository is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewDispatcher(tt.opts)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestDispatchGeneration(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	older := f.issue(t, model.CreateIssueRequest{Status: model.IssueStatusScheduled, ScheduledAt: testNow.Add(-2 * time.Hour)})
	due := f.issue(t, model.CreateIssueRequest{Status: model.IssueStatusPending, ScheduledAt: testNow})
	future := f.issue(t, model.CreateIssueRequest{Status: model.IssueStatusPending, ScheduledAt: testNow.Add(time.Minute)})
	done := f.generatedIssue(t)

	d := newTestDispatcher(t, f, nil)

	res, err := d.DispatchGeneration(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Queued)
	assert.Empty(t, res.Failures)
	assert.False(t, res.Skipped)

	for _, issue := range []*model.Issue{older, due} {
		jobs, err := f.store.Jobs().ListByIssue(ctx, issue.ID, 10)
		require.NoError(t, err)
		require.Len(t, jobs, 1)
		assert.Equal(t, model.JobTypeGenerate, jobs[0].Type)
		assert.Equal(t, model.JobStatusQueued, jobs[0].Status)
	}
	for _, issue := range []*model.Issue{future, done} {
		jobs, err := f.store.Jobs().ListByIssue(ctx, issue.ID, 10)
		require.NoError(t, err)
		assert.Empty(t, jobs)
	}

	t.Run("second run queues nothing", func(t *testing.T) {
		res, err := d.DispatchGeneration(ctx)
		require.NoError(t, err)
		assert.Equal(t, DispatchResult{}, res)
	})

	t.Run("processing job still blocks a new one", func(t *testing.T) {
		jobs, err := f.store.Jobs().ListByIssue(ctx, older.ID, 10)
		require.NoError(t, err)
		_, ok, err := f.store.Jobs().Claim(ctx, jobs[0].ID)
		require.NoError(t, err)
		require.True(t, ok)

		res, err := d.DispatchGeneration(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, res.Queued)
	})
}

func TestDispatchGeneration_BatchTakesEarliestDue(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.clock.SetTime(testNow.Add(10 * time.Minute))
	later := f.issue(t, model.CreateIssueRequest{Status: model.IssueStatusPending, ScheduledAt: testNow.Add(5 * time.Minute)})
	earlier := f.issue(t, model.CreateIssueRequest{Status: model.IssueStatusPending, ScheduledAt: testNow})

	d := newTestDispatcher(t, f, func(o *DispatcherOptions) { o.Config.BatchSize = 1 })

	res, err := d.DispatchGeneration(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Queued)

	active, err := f.store.Jobs().HasActive(ctx, earlier.ID, model.JobTypeGenerate)
	require.NoError(t, err)
	assert.True(t, active)
	active, err = f.store.Jobs().HasActive(ctx, later.ID, model.JobTypeGenerate)
	require.NoError(t, err)
	assert.False(t, active)
}

func TestDispatchSend_OneJobPerIssue(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	a := f.generatedIssue(t)
	b := f.generatedIssue(t)
	f.delivery(t, a.ID, "one@example.com", testNow.Add(-time.Minute))
	f.delivery(t, a.ID, "two@example.com", testNow.Add(-time.Minute))
	f.delivery(t, b.ID, "three@example.com", testNow)
	f.delivery(t, b.ID, "later@example.com", testNow.Add(time.Hour))

	reg := prometheus.NewRegistry()
	d := newTestDispatcher(t, f, func(o *DispatcherOptions) { o.Metrics = metrics.NewRecorder(reg) })

	res, err := d.DispatchSend(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Queued)

	for _, issue := range []*model.Issue{a, b} {
		active, err := f.store.Jobs().HasActive(ctx, issue.ID, model.JobTypeSend)
		require.NoError(t, err)
		assert.True(t, active)
	}

	res, err = d.DispatchSend(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Queued)

	assert.Equal(t, 2.0, counterTotal(t, reg, "inkwell_dispatch_jobs_queued_total"))
}

func TestGroupByIssue_KeepsFirstSeenOrder(t *testing.T) {
	got := groupByIssue([]*model.Delivery{
		{IssueID: "b"}, {IssueID: "a"}, {IssueID: "b"}, {IssueID: "c"}, {IssueID: "a"},
	})
	assert.Equal(t, []string{"b", "a", "c"}, got)
}

func TestDispatch_ScanFailureIsReturned(t *testing.T) {
	f := newFixture()
	boom := errors.New("connection refused")
	f.store.SetError("issues.ListDueForGeneration", boom)
	f.store.SetError("deliveries.ListDue", boom)
	d := newTestDispatcher(t, f, nil)

	_, err := d.DispatchGeneration(context.Background())
	require.ErrorIs(t, err, boom)

	_, err = d.DispatchSend(context.Background())
	require.ErrorIs(t, err, boom)
}

func TestDispatch_CandidateFailuresAreCollected(t *testing.T) {
	f := newFixture()
	issue := f.issue(t, model.CreateIssueRequest{ScheduledAt: testNow.Add(-time.Minute)})
	f.store.SetError("jobs.HasActive", errors.New("lookup timeout"))
	d := newTestDispatcher(t, f, nil)

	res, err := d.DispatchGeneration(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Queued)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, DispatchFailure{IssueID: issue.ID, Reason: "lookup timeout"}, res.Failures[0])

	f.store.SetError("jobs.HasActive", nil)
	f.store.SetError("jobs.Create", errors.New("insert failed"))
	res, err = d.DispatchGeneration(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "insert failed", res.Failures[0].Reason)
}

// racingJobs reports no active job so the insert hits the active-job constraint.
type racingJobs struct {
	*memstore.Jobs
}

func (racingJobs) HasActive(context.Context, string, model.JobType) (bool, error) {
	return false, nil
}

func TestDispatch_ActiveJobConflictIsSkipped(t *testing.T) {
	f := newFixture()
	issue := f.issue(t, model.CreateIssueRequest{ScheduledAt: testNow.Add(-time.Minute)})
	f.job(t, issue.ID, model.JobTypeGenerate)

	d := newTestDispatcher(t, f, func(o *DispatcherOptions) { o.Jobs = racingJobs{f.store.Jobs()} })

	res, err := d.DispatchGeneration(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Queued)
	assert.Empty(t, res.Failures)
}

func TestDispatch_LockHeldSkips(t *testing.T) {
	f := newFixture()
	f.issue(t, model.CreateIssueRequest{ScheduledAt: testNow.Add(-time.Minute)})
	locker := memstore.NewLocker(f.clock)
	lease, ok, err := locker.TryAcquire(context.Background(), "inkwell:dispatch:generate", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	reg := prometheus.NewRegistry()
	d := newTestDispatcher(t, f, func(o *DispatcherOptions) {
		o.Locker = locker
		o.Metrics = metrics.NewRecorder(reg)
	})

	res, err := d.DispatchGeneration(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, 0, res.Queued)
	assert.Equal(t, 1.0, counterTotal(t, reg, "inkwell_dispatch_skipped_total"))

	// The send lock is independent.
	res, err = d.DispatchSend(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Skipped)

	require.NoError(t, lease.Release(context.Background()))
	res, err = d.DispatchGeneration(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Queued)

	// Released after the run.
	_, ok, err = locker.TryAcquire(context.Background(), "inkwell:dispatch:generate", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDispatch_LockErrorProceeds(t *testing.T) {
	ctrl := gomock.NewController(t)
	f := newFixture()
	f.issue(t, model.CreateIssueRequest{ScheduledAt: testNow.Add(-time.Minute)})

	locker := mocks.NewMockLocker(ctrl)
	locker.EXPECT().
		TryAcquire(gomock.Any(), "inkwell:dispatch:generate", 30*time.Second).
		Return(nil, false, errors.New("redis down"))

	d := newTestDispatcher(t, f, func(o *DispatcherOptions) { o.Locker = locker })
	res, err := d.DispatchGeneration(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Queued)
}

func TestDispatch_ReleasesLeaseAfterCanceledContext(t *testing.T) {
	ctrl := gomock.NewController(t)
	f := newFixture()

	lease := mocks.NewMockLease(ctrl)
	locker := mocks.NewMockLocker(ctrl)
	locker.EXPECT().TryAcquire(gomock.Any(), gomock.Any(), gomock.Any()).Return(lease, true, nil)
	lease.EXPECT().Release(gomock.Any()).DoAndReturn(func(ctx context.Context) error {
		assert.NoError(t, ctx.Err())
		return nil
	})

	d := newTestDispatcher(t, f, func(o *DispatcherOptions) { o.Locker = locker })
	ctx, cancel := context.WithCancel(context.Background())
	f.store.SetError("deliveries.ListDue", context.Canceled)
	cancel()

	_, err := d.DispatchSend(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func counterTotal(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		var total float64
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
		return total
	}
	t.Fatalf("metric %s not registered", name)
	return 0
}
