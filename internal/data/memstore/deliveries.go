package memstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/target/inkwell/internal/core"
	"github.com/target/inkwell/internal/data"
	"github.com/target/inkwell/internal/domain/model"
)

// Deliveries implements core.DeliveryRepository.
type Deliveries struct{ s *Store }

var _ core.DeliveryRepository = (*Deliveries)(nil)

func cloneDelivery(d *model.Delivery) *model.Delivery {
	out := *d
	out.Payload = cloneRaw(d.Payload)
	out.SentAt = clonePtr(d.SentAt)
	out.DeliveredAt = clonePtr(d.DeliveredAt)
	out.ProviderMessageID = clonePtr(d.ProviderMessageID)
	out.Error = clonePtr(d.Error)
	return &out
}

func (s *Store) selectDeliveries(keep func(*model.Delivery) bool, less func(a, b *deliveryRow) bool, limit int) []*model.Delivery {
	rows := make([]*deliveryRow, 0)
	for _, row := range s.deliveries {
		if keep(&row.delivery) {
			rows = append(rows, row)
		}
	}
	sortBy(rows, less)
	out := make([]*model.Delivery, 0, len(rows))
	for i, row := range rows {
		if i >= limit {
			break
		}
		out = append(out, cloneDelivery(&row.delivery))
	}
	return out
}

func bySendAt(a, b *deliveryRow) bool {
	if a.delivery.SendAt.Equal(b.delivery.SendAt) {
		return a.seq < b.seq
	}
	return a.delivery.SendAt.Before(b.delivery.SendAt)
}

// ListDue returns scheduled deliveries due at or before now, earliest first.
func (r *Deliveries) ListDue(_ context.Context, now time.Time, limit int) ([]*model.Delivery, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.injected("deliveries.ListDue"); err != nil {
		return nil, err
	}
	return r.s.selectDeliveries(func(d *model.Delivery) bool {
		return d.Status == model.DeliveryStatusScheduled && !d.SendAt.After(now)
	}, bySendAt, limitOr(limit, 25)), nil
}

// ListScheduledByIssue returns scheduled deliveries of one issue.
func (r *Deliveries) ListScheduledByIssue(_ context.Context, issueID string, limit int) ([]*model.Delivery, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.injected("deliveries.ListScheduledByIssue"); err != nil {
		return nil, err
	}
	return r.s.selectDeliveries(func(d *model.Delivery) bool {
		return d.IssueID == issueID && d.Status == model.DeliveryStatusScheduled
	}, bySendAt, limitOr(limit, 20)), nil
}

// ListByIssue returns all deliveries of one issue, oldest first.
func (r *Deliveries) ListByIssue(_ context.Context, issueID string, limit int) ([]*model.Delivery, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.injected("deliveries.ListByIssue"); err != nil {
		return nil, err
	}
	return r.s.selectDeliveries(func(d *model.Delivery) bool {
		return d.IssueID == issueID
	}, func(a, b *deliveryRow) bool { return a.seq < b.seq }, limitOr(limit, 100)), nil
}

// GetByID returns data.ErrDeliveryNotFound for unknown ids.
func (r *Deliveries) GetByID(_ context.Context, id string) (*model.Delivery, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.injected("deliveries.GetByID"); err != nil {
		return nil, err
	}
	row, ok := r.s.deliveries[id]
	if !ok {
		return nil, data.ErrDeliveryNotFound
	}
	return cloneDelivery(&row.delivery), nil
}

func (s *Store) insertDeliveryLocked(req *model.CreateDeliveryRequest) *model.Delivery {
	now := s.now()
	sendAt := req.SendAt
	if sendAt.IsZero() {
		sendAt = now
	}
	d := model.Delivery{
		ID:        newID(),
		IssueID:   req.IssueID,
		ToEmail:   trimmed(req.ToEmail),
		Payload:   cloneRaw(req.Payload),
		Status:    model.DeliveryStatusScheduled,
		SendAt:    sendAt.UTC(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.deliveries[d.ID] = &deliveryRow{delivery: d, seq: s.nextSeq()}
	return cloneDelivery(&d)
}

// Create schedules a delivery.
func (r *Deliveries) Create(_ context.Context, req *model.CreateDeliveryRequest) (*model.Delivery, error) {
	if req == nil {
		return nil, errors.New("create delivery request is required")
	}
	if trimmed(req.ToEmail) == "" {
		return nil, errors.New("to_email is required")
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.injected("deliveries.Create"); err != nil {
		return nil, err
	}
	if _, ok := r.s.issues[req.IssueID]; !ok {
		return nil, data.ErrIssueNotFound
	}
	return r.s.insertDeliveryLocked(req), nil
}

// RecordOutcome stores a send attempt result.
func (r *Deliveries) RecordOutcome(_ context.Context, outcome model.DeliveryOutcome) error {
	if !outcome.Status.Valid() {
		return fmt.Errorf("invalid delivery status: %q", outcome.Status)
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.injected("deliveries.RecordOutcome"); err != nil {
		return err
	}
	row, ok := r.s.deliveries[outcome.ID]
	if !ok {
		return data.ErrDeliveryNotFound
	}
	row.delivery.Status = outcome.Status
	if outcome.SentAt != nil {
		row.delivery.SentAt = timePtr(outcome.SentAt.UTC())
	}
	if outcome.ProviderMessageID != "" {
		row.delivery.ProviderMessageID = strPtr(outcome.ProviderMessageID)
	}
	row.delivery.Error = strPtr(outcome.Error)
	row.delivery.UpdatedAt = r.s.now()
	return nil
}

// ApplyStatus stores a provider-reported status.
func (r *Deliveries) ApplyStatus(_ context.Context, update model.DeliveryStatusUpdate) (bool, error) {
	if !update.Status.Valid() {
		return false, fmt.Errorf("invalid delivery status: %q", update.Status)
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.injected("deliveries.ApplyStatus"); err != nil {
		return false, err
	}
	row, ok := r.s.deliveries[update.ID]
	if !ok {
		return false, nil
	}
	row.delivery.Status = update.Status
	if update.DeliveredAt != nil {
		row.delivery.DeliveredAt = timePtr(update.DeliveredAt.UTC())
	}
	row.delivery.UpdatedAt = r.s.now()
	return true, nil
}
