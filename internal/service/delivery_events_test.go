package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/inkwell/internal/domain/model"
)

func TestMapDeliveryStatus(t *testing.T) {
	tests := []struct {
		event    string
		severity string
		want     model.DeliveryStatus
		ok       bool
	}{
		{"delivered", "", model.DeliveryStatusDelivered, true},
		{"Delivered", "", model.DeliveryStatusDelivered, true},
		{"failed", "permanent", model.DeliveryStatusBounced, true},
		{"failed", "temporary", "", false},
		{"bounced", "", model.DeliveryStatusBounced, true},
		{"complained", "", model.DeliveryStatusComplained, true},
		{"opened", "", model.DeliveryStatusOpened, true},
		{"clicked", "", "", false},
		{"", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.event+"/"+tt.severity, func(t *testing.T) {
			got, ok := MapDeliveryStatus(tt.event, tt.severity)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func newTestDeliveryEventService(t *testing.T, f *fixture) *DeliveryEventService {
	t.Helper()
	svc, err := NewDeliveryEventService(DeliveryEventServiceOptions{
		Events:       f.store.Events(),
		Deliveries:   f.store.Deliveries(),
		TimeProvider: f.clock,
		Logger:       discardLogger(),
	})
	require.NoError(t, err)
	return svc
}

func TestDeliveryEventService_Record(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	issue := f.generatedIssue(t)
	d := f.delivery(t, issue.ID, "reader@example.com", testNow)
	svc := newTestDeliveryEventService(t, f)

	t.Run("delivered sets delivered_at", func(t *testing.T) {
		at := testNow.Add(3 * time.Minute)
		res, err := svc.Record(ctx, DeliveryEvent{
			Event:      "delivered",
			MessageID:  "<m-1@mg.example.com>",
			IssueID:    issue.ID,
			DeliveryID: d.ID,
			OccurredAt: at,
			Meta:       json.RawMessage(`{"event":"delivered"}`),
		})
		require.NoError(t, err)
		assert.Equal(t, EventOutcomeApplied, res.Outcome)
		assert.Equal(t, model.DeliveryStatusDelivered, res.Status)
		assert.NotEmpty(t, res.EventID)

		got := f.getDelivery(t, d.ID)
		assert.Equal(t, model.DeliveryStatusDelivered, got.Status)
		require.NotNil(t, got.DeliveredAt)
		assert.True(t, got.DeliveredAt.Equal(at))
	})

	t.Run("temporary failure is stored but ignored", func(t *testing.T) {
		res, err := svc.Record(ctx, DeliveryEvent{Event: "failed", Severity: "temporary", DeliveryID: d.ID})
		require.NoError(t, err)
		assert.Equal(t, EventOutcomeIgnored, res.Outcome)
		assert.Equal(t, model.DeliveryStatusDelivered, f.getDelivery(t, d.ID).Status)
	})

	t.Run("permanent failure bounces", func(t *testing.T) {
		res, err := svc.Record(ctx, DeliveryEvent{Event: "failed", Severity: "permanent", DeliveryID: d.ID})
		require.NoError(t, err)
		assert.Equal(t, model.DeliveryStatusBounced, res.Status)
		assert.Equal(t, model.DeliveryStatusBounced, f.getDelivery(t, d.ID).Status)
	})

	t.Run("unknown delivery is not an error", func(t *testing.T) {
		res, err := svc.Record(ctx, DeliveryEvent{Event: "opened", DeliveryID: "9b2b8a4e-0000-4000-8000-000000000000"})
		require.NoError(t, err)
		assert.Equal(t, EventOutcomeUnknownDelivery, res.Outcome)
	})

	t.Run("event without delivery id", func(t *testing.T) {
		res, err := svc.Record(ctx, DeliveryEvent{Event: "complained"})
		require.NoError(t, err)
		assert.Equal(t, EventOutcomeIgnored, res.Outcome)
	})

	events := f.store.Events().All()
	require.Len(t, events, 5)
	assert.Equal(t, "delivered", events[0].EventType)
	assert.Equal(t, d.ID, model.StringValue(events[0].DeliveryID))
	assert.Equal(t, "<m-1@mg.example.com>", model.StringValue(events[0].ProviderMessageID))
	assert.Nil(t, events[4].DeliveryID)
}

func TestDeliveryEventService_InsertFailure(t *testing.T) {
	f := newFixture()
	boom := errors.New("insert failed")
	f.store.SetError("events.Insert", boom)
	svc := newTestDeliveryEventService(t, f)

	_, err := svc.Record(context.Background(), DeliveryEvent{Event: "delivered", DeliveryID: "d"})
	require.ErrorIs(t, err, boom)
}

func TestDeliveryEventService_DeliveredWithoutTimestampUsesClock(t *testing.T) {
	f := newFixture()
	issue := f.generatedIssue(t)
	d := f.delivery(t, issue.ID, "reader@example.com", testNow)
	svc := newTestDeliveryEventService(t, f)

	f.clock.AddTime(time.Minute)
	_, err := svc.Record(context.Background(), DeliveryEvent{Event: "delivered", DeliveryID: d.ID})
	require.NoError(t, err)

	got := f.getDelivery(t, d.ID)
	require.NotNil(t, got.DeliveredAt)
	assert.True(t, got.DeliveredAt.Equal(testNow.Add(time.Minute)))
}
