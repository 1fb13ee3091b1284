package model

import (
	"encoding/json"
	"time"
)

// DeliveryStatus represents the lifecycle state of a per-recipient send.
type DeliveryStatus string

const (
	DeliveryStatusScheduled  DeliveryStatus = "scheduled"
	DeliveryStatusSent       DeliveryStatus = "sent"
	DeliveryStatusDelivered  DeliveryStatus = "delivered"
	DeliveryStatusBounced    DeliveryStatus = "bounced"
	DeliveryStatusComplained DeliveryStatus = "complained"
	DeliveryStatusOpened     DeliveryStatus = "opened"
	DeliveryStatusFailed     DeliveryStatus = "failed"
)

// Valid returns true if the DeliveryStatus is known.
func (s DeliveryStatus) Valid() bool {
	switch s {
	case DeliveryStatusScheduled, DeliveryStatusSent, DeliveryStatusDelivered,
		DeliveryStatusBounced, DeliveryStatusComplained, DeliveryStatusOpened,
		DeliveryStatusFailed:
		return true
	default:
		return false
	}
}

// Delivery is one recipient-scoped send record tied to an issue.
//
// Payload is a frozen snapshot of the content taken when the delivery was
// scheduled; later edits to the issue do not change it.
type Delivery struct {
	ID                string          `json:"id"                            db:"id"`
	IssueID           string          `json:"issue_id"                      db:"issue_id"`
	ToEmail           string          `json:"to_email"                      db:"to_email"`
	Payload           json.RawMessage `json:"payload,omitempty"             db:"payload"`
	Status            DeliveryStatus  `json:"status"                        db:"status"`
	SendAt            time.Time       `json:"send_at"                       db:"send_at"`
	SentAt            *time.Time      `json:"sent_at,omitempty"             db:"sent_at"`
	DeliveredAt       *time.Time      `json:"delivered_at,omitempty"        db:"delivered_at"`
	ProviderMessageID *string         `json:"provider_message_id,omitempty" db:"provider_message_id"`
	Error             *string         `json:"error,omitempty"               db:"error"`
	CreatedAt         time.Time       `json:"created_at"                    db:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"                    db:"updated_at"`
}

// HasPayload reports whether the delivery carries its own content snapshot.
func (d *Delivery) HasPayload() bool {
	return d != nil && len(d.Payload) > 0 && string(d.Payload) != "null"
}

// CreateDeliveryRequest describes a delivery to schedule.
type CreateDeliveryRequest struct {
	IssueID string
	ToEmail string
	Payload json.RawMessage
	SendAt  time.Time
}

// DeliveryOutcome records the result of one send attempt.
type DeliveryOutcome struct {
	ID                string
	Status            DeliveryStatus
	SentAt            *time.Time
	ProviderMessageID string
	Error             string
}

// DeliveryStatusUpdate records a status reported by the email provider.
type DeliveryStatusUpdate struct {
	ID          string
	Status      DeliveryStatus
	DeliveredAt *time.Time
}
