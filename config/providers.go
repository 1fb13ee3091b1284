package config

import (
	"fmt"
	"net/mail"
	"strings"
)

// AIConfig contains language model configuration.
type AIConfig struct {
	APIKey      string  `env:"AI_API_KEY"`
	Model       string  `env:"AI_MODEL"       envDefault:"gemini-2.5-flash"`
	Temperature float32 `env:"AI_TEMPERATURE" envDefault:"0.7"`
	MaxTokens   int32   `env:"AI_MAX_TOKENS"  envDefault:"2000"`
}

// Sanitize applies guardrails to AI configuration values.
func (a *AIConfig) Sanitize() {
	a.APIKey = strings.TrimSpace(a.APIKey)
	a.Model = strings.TrimSpace(a.Model)
	if a.Model == "" {
		a.Model = "gemini-2.5-flash"
	}
	if a.Temperature < 0 {
		a.Temperature = 0
	}
	if a.Temperature > 2 {
		a.Temperature = 2
	}
	if a.MaxTokens < 256 {
		a.MaxTokens = 256
	}
}

// Enabled reports whether a content generator can be built.
func (a *AIConfig) Enabled() bool {
	return a.APIKey != ""
}

// EmailConfig contains email provider configuration.
type EmailConfig struct {
	MailgunDomain string `env:"MAILGUN_DOMAIN"`
	MailgunAPIKey string `env:"MAILGUN_API_KEY"`
	// MailgunAPIBase selects the region, e.g. https://api.eu.mailgun.net. Empty uses the default.
	MailgunAPIBase string `env:"MAILGUN_API_BASE"`

	FromName    string `env:"EMAIL_FROM_NAME"    envDefault:"Inkwell"`
	FromAddress string `env:"EMAIL_FROM_ADDRESS" envDefault:"newsletter@example.com"`
}

// Sanitize trims provider settings.
func (e *EmailConfig) Sanitize() {
	e.MailgunDomain = strings.TrimSpace(e.MailgunDomain)
	e.MailgunAPIKey = strings.TrimSpace(e.MailgunAPIKey)
	e.MailgunAPIBase = strings.TrimRight(strings.TrimSpace(e.MailgunAPIBase), "/")
	e.FromName = strings.TrimSpace(e.FromName)
	e.FromAddress = strings.TrimSpace(e.FromAddress)
}

// Enabled reports whether an email sender can be built.
func (e *EmailConfig) Enabled() bool {
	return e.MailgunDomain != "" && e.MailgunAPIKey != ""
}

// Validate checks that the sender address parses.
func (e *EmailConfig) Validate() error {
	if _, err := mail.ParseAddress(e.FromAddress); err != nil {
		return fmt.Errorf("invalid EMAIL_FROM_ADDRESS %q: %w", e.FromAddress, err)
	}
	return nil
}
