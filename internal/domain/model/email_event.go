package model

import (
	"encoding/json"
	"time"
)

// EmailEvent is one inbound event reported by the email provider.
type EmailEvent struct {
	ID                string          `json:"id"                            db:"id"`
	IssueID           *string         `json:"issue_id,omitempty"            db:"issue_id"`
	DeliveryID        *string         `json:"delivery_id,omitempty"         db:"delivery_id"`
	ProviderMessageID *string         `json:"provider_message_id,omitempty" db:"provider_message_id"`
	EventType         string          `json:"event_type"                    db:"event_type"`
	Meta              json.RawMessage `json:"meta"                          db:"meta"`
	CreatedAt         time.Time       `json:"created_at"                    db:"created_at"`
}
