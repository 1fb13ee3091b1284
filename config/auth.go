package config

import (
	"strings"
	"time"
)

// AuthConfig groups the shared credentials this service checks.
type AuthConfig struct {
	// TriggerSecret guards every operational endpoint. Callers present it as
	// "Authorization: Bearer <secret>" or "X-Cron-Signature: <secret>".
	TriggerSecret string `env:"TRIGGER_SECRET"`

	// WebhookSigningKey verifies Mailgun webhook signatures. Empty disables verification.
	WebhookSigningKey string `env:"EMAIL_WEBHOOK_SIGNING_KEY"`

	// WebhookTolerance is the maximum accepted age of a webhook timestamp.
	WebhookTolerance time.Duration `env:"EMAIL_WEBHOOK_TOLERANCE" envDefault:"5m"`
}

// Sanitize trims credentials and bounds the webhook tolerance.
func (a *AuthConfig) Sanitize() {
	a.TriggerSecret = strings.TrimSpace(a.TriggerSecret)
	a.WebhookSigningKey = strings.TrimSpace(a.WebhookSigningKey)
	if a.WebhookTolerance <= 0 {
		a.WebhookTolerance = 5 * time.Minute
	}
}

// WebhookVerificationEnabled reports whether webhook signatures are checked.
func (a *AuthConfig) WebhookVerificationEnabled() bool {
	return a.WebhookSigningKey != ""
}
