package model

import (
	"strings"
	"time"
)

// ToneCustom selects the free-form tone stored in Preferences.ToneCustom.
const ToneCustom = "custom"

// Preferences are a user's content and sending preferences.
type Preferences struct {
	ID          string     `json:"id"                    db:"id"`
	UserID      string     `json:"user_id"               db:"user_id"`
	Cadence     int        `json:"cadence"               db:"cadence"`
	SendDay     *int       `json:"send_day,omitempty"    db:"send_day"`
	SendTime    *string    `json:"send_time,omitempty"   db:"send_time"`
	Timezone    *string    `json:"timezone,omitempty"    db:"timezone"`
	Topics      []string   `json:"topics"                db:"topics"`
	Tone        *string    `json:"tone,omitempty"        db:"tone"`
	ToneCustom  *string    `json:"tone_custom,omitempty" db:"tone_custom"`
	Length      *string    `json:"length,omitempty"      db:"length"`
	MustInclude []string   `json:"must_include"          db:"must_include"`
	Avoid       []string   `json:"avoid"                 db:"avoid"`
	CTA         *string    `json:"cta,omitempty"         db:"cta"`
	SenderName  *string    `json:"sender_name,omitempty" db:"sender_name"`
	ReplyTo     *string    `json:"reply_to,omitempty"    db:"reply_to"`
	CreatedAt   *time.Time `json:"created_at,omitempty"  db:"created_at"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"  db:"updated_at"`
}

// ResolvedTone returns the effective tone, expanding "custom" to the stored
// custom value. It returns "" when nothing usable is set.
func (p *Preferences) ResolvedTone() string {
	if p == nil || p.Tone == nil {
		return ""
	}
	tone := strings.TrimSpace(*p.Tone)
	if tone == ToneCustom {
		if p.ToneCustom == nil {
			return ""
		}
		return strings.TrimSpace(*p.ToneCustom)
	}
	return tone
}

// StringValue dereferences an optional string, trimming whitespace.
func StringValue(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
