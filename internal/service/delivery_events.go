package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/target/inkwell/internal/core"
	"github.com/target/inkwell/internal/data"
	"github.com/target/inkwell/internal/domain/model"
	"github.com/target/inkwell/internal/observability/metrics"
)

// Provider event names understood by MapDeliveryStatus.
const (
	EventDelivered  = "delivered"
	EventFailed     = "failed"
	EventBounced    = "bounced"
	EventComplained = "complained"
	EventOpened     = "opened"

	SeverityPermanent = "permanent"
)

// Outcomes reported by DeliveryEventService.Record.
const (
	EventOutcomeApplied         = "applied"
	EventOutcomeIgnored         = "ignored"
	EventOutcomeUnknownDelivery = "unknown_delivery"
)

// DeliveryEvent is one inbound provider event.
type DeliveryEvent struct {
	Event      string
	Severity   string
	MessageID  string
	IssueID    string
	DeliveryID string
	OccurredAt time.Time
	// Meta is the raw provider payload stored with the event.
	Meta json.RawMessage
}

// RecordResult reports what Record did with an event.
type RecordResult struct {
	EventID string
	Outcome string
	Status  model.DeliveryStatus
}

// MapDeliveryStatus maps a provider event to the delivery status it implies.
// Temporary failures and unknown events map to nothing.
func MapDeliveryStatus(event, severity string) (model.DeliveryStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(event)) {
	case EventDelivered:
		return model.DeliveryStatusDelivered, true
	case EventFailed:
		if strings.EqualFold(severity, SeverityPermanent) {
			return model.DeliveryStatusBounced, true
		}
		return "", false
	case EventBounced:
		return model.DeliveryStatusBounced, true
	case EventComplained:
		return model.DeliveryStatusComplained, true
	case EventOpened:
		return model.DeliveryStatusOpened, true
	default:
		return "", false
	}
}

// DeliveryEventServiceOptions groups dependencies for DeliveryEventService.
type DeliveryEventServiceOptions struct {
	Events       core.EmailEventRepository // Required: event log
	Deliveries   core.DeliveryRepository   // Required: delivery repository
	TimeProvider data.TimeProvider         // Optional: defaults to the system clock
	Metrics      *metrics.Recorder         // Optional: Prometheus recorder
	Logger       *slog.Logger              // Optional: structured logger
}

// DeliveryEventService records provider events and applies the statuses they imply.
type DeliveryEventService struct {
	events     core.EmailEventRepository
	deliveries core.DeliveryRepository
	clock      data.TimeProvider
	metrics    *metrics.Recorder
	logger     *slog.Logger
}

// NewDeliveryEventService constructs a new DeliveryEventService.
func NewDeliveryEventService(opts DeliveryEventServiceOptions) (*DeliveryEventService, error) {
	if opts.Events == nil {
		return nil, errors.New("EmailEventRepository is required")
	}
	if opts.Deliveries == nil {
		return nil, errors.New("DeliveryRepository is required")
	}
	clock := opts.TimeProvider
	if clock == nil {
		clock = &data.RealTimeProvider{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &DeliveryEventService{
		events:     opts.Events,
		deliveries: opts.Deliveries,
		clock:      clock,
		metrics:    opts.Metrics,
		logger:     logger.With("component", "delivery_events"),
	}, nil
}

// Record stores the event and updates the referenced delivery when the event
// maps to a status. Unknown deliveries are logged, not returned as errors.
func (s *DeliveryEventService) Record(ctx context.Context, ev DeliveryEvent) (RecordResult, error) {
	eventType := strings.ToLower(strings.TrimSpace(ev.Event))
	if eventType == "" {
		eventType = "unknown"
	}

	stored, err := s.events.Insert(ctx, &model.EmailEvent{
		IssueID:           model.StringPtr(strings.TrimSpace(ev.IssueID)),
		DeliveryID:        model.StringPtr(strings.TrimSpace(ev.DeliveryID)),
		ProviderMessageID: model.StringPtr(strings.TrimSpace(ev.MessageID)),
		EventType:         eventType,
		Meta:              ev.Meta,
	})
	if err != nil {
		s.metrics.EmailEvent(eventType, metrics.ResultError)
		return RecordResult{}, fmt.Errorf("record email event: %w", err)
	}
	result := RecordResult{EventID: stored.ID, Outcome: EventOutcomeIgnored}

	status, ok := MapDeliveryStatus(eventType, ev.Severity)
	deliveryID := strings.TrimSpace(ev.DeliveryID)
	if !ok || deliveryID == "" {
		s.metrics.EmailEvent(eventType, result.Outcome)
		return result, nil
	}

	update := model.DeliveryStatusUpdate{ID: deliveryID, Status: status}
	if status == model.DeliveryStatusDelivered {
		at := ev.OccurredAt
		if at.IsZero() {
			at = s.clock.Now()
		}
		update.DeliveredAt = &at
	}

	found, err := s.deliveries.ApplyStatus(ctx, update)
	if err != nil {
		s.metrics.EmailEvent(eventType, metrics.ResultError)
		return result, fmt.Errorf("apply delivery status: %w", err)
	}
	if !found {
		s.logger.InfoContext(ctx, "event references unknown delivery",
			"delivery_id", deliveryID,
			"event", eventType,
			"message_id", ev.MessageID,
		)
		result.Outcome = EventOutcomeUnknownDelivery
		s.metrics.EmailEvent(eventType, result.Outcome)
		return result, nil
	}

	result.Outcome = EventOutcomeApplied
	result.Status = status
	s.metrics.EmailEvent(eventType, result.Outcome)
	s.logger.DebugContext(ctx, "delivery status applied", "delivery_id", deliveryID, "status", status)
	return result, nil
}
