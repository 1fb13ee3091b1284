package mailgun

import "github.com/mailgun/mailgun-go/v4"

// NewWebhookVerifier returns a client used only to check webhook signatures
// against signingKey. It never calls the Mailgun API.
func NewWebhookVerifier(domain, signingKey string) *mailgun.MailgunImpl {
	mg := mailgun.NewMailgun(domain, "")
	mg.SetWebhookSigningKey(signingKey)
	return mg
}
