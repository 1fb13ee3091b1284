package memstore

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/target/inkwell/internal/core"
	"github.com/target/inkwell/internal/domain/model"
)

// Events implements core.EmailEventRepository.
type Events struct{ s *Store }

var _ core.EmailEventRepository = (*Events)(nil)

// Insert appends an event.
func (r *Events) Insert(_ context.Context, event *model.EmailEvent) (*model.EmailEvent, error) {
	if event == nil || trimmed(event.EventType) == "" {
		return nil, errors.New("event_type is required")
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.injected("events.Insert"); err != nil {
		return nil, err
	}
	ev := *event
	ev.ID = newID()
	ev.EventType = trimmed(event.EventType)
	ev.IssueID = clonePtr(event.IssueID)
	ev.DeliveryID = clonePtr(event.DeliveryID)
	ev.ProviderMessageID = clonePtr(event.ProviderMessageID)
	ev.Meta = cloneRaw(event.Meta)
	if ev.Meta == nil {
		ev.Meta = json.RawMessage(`{}`)
	}
	ev.CreatedAt = r.s.now()
	r.s.events = append(r.s.events, &ev)
	out := ev
	return &out, nil
}

// ListByDelivery returns events for a delivery in insertion order.
func (r *Events) ListByDelivery(_ context.Context, deliveryID string, limit int) ([]*model.EmailEvent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]*model.EmailEvent, 0)
	for _, ev := range r.s.events {
		if ev.DeliveryID != nil && *ev.DeliveryID == deliveryID {
			cp := *ev
			out = append(out, &cp)
			if len(out) >= limitOr(limit, 100) {
				break
			}
		}
	}
	return out, nil
}

// All returns every recorded event in insertion order.
func (r *Events) All() []*model.EmailEvent {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]*model.EmailEvent, 0, len(r.s.events))
	for _, ev := range r.s.events {
		cp := *ev
		out = append(out, &cp)
	}
	return out
}
