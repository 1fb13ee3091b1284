// Package newsletter holds the newsletter content schema together with the
// helpers that sanitize, validate, render and prompt for it.
package newsletter

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// DefaultSubject is used when content reaches the mailer without a title.
const DefaultSubject = "Your AI Newsletter"

// Content is the structured body of one newsletter issue.
type Content struct {
	Title     string    `json:"title"`
	Preheader string    `json:"preheader"`
	Intro     string    `json:"intro,omitempty"`
	Sections  []Section `json:"sections"`
	Outro     string    `json:"outro,omitempty"`
	CTA       *CTA      `json:"cta,omitempty"`
}

// Section is one story block of a newsletter.
type Section struct {
	Title           string   `json:"title"`
	Summary         string   `json:"summary"`
	PullQuote       string   `json:"pullQuote,omitempty"`
	LinkSuggestions []string `json:"linkSuggestions,omitempty"`
}

// CTA is the optional call to action rendered after the sections.
type CTA struct {
	Headline    string  `json:"headline,omitempty"`
	ButtonLabel string  `json:"buttonLabel,omitempty"`
	ButtonURL   *string `json:"buttonUrl,omitempty"`
}

// ErrMalformed is returned when raw content is not a JSON document.
var ErrMalformed = errors.New("malformed newsletter content")

// Parse decodes raw JSON, strips invalid links and validates the result.
// Malformed JSON yields an error wrapping ErrMalformed; schema failures
// yield a *ValidationError.
func Parse(raw []byte) (*Content, error) {
	doc, err := decodeDocument(raw)
	if err != nil {
		return nil, err
	}
	return parseDocument(Sanitize(doc))
}

// ParseStrict validates raw JSON without sanitizing it first.
func ParseStrict(raw []byte) (*Content, error) {
	doc, err := decodeDocument(raw)
	if err != nil {
		return nil, err
	}
	return parseDocument(doc)
}

// JSON returns the canonical encoding stored in content_json and payload columns.
func (c *Content) JSON() (json.RawMessage, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode newsletter content: %w", err)
	}
	return b, nil
}

// Subject returns the subject line for an email carrying this content.
func (c *Content) Subject() string {
	if c == nil || strings.TrimSpace(c.Title) == "" {
		return DefaultSubject
	}
	return c.Title
}

func decodeDocument(raw []byte) (any, error) {
	trimmed := stripCodeFence(bytes.TrimSpace(raw))
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty document", ErrMalformed)
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data after document", ErrMalformed)
	}
	return doc, nil
}

func parseDocument(doc any) (*Content, error) {
	if err := validateDocument(doc); err != nil {
		return nil, err
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("re-encode newsletter content: %w", err)
	}
	var c Content
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, &ValidationError{Issues: []FieldIssue{{Field: "", Message: err.Error()}}}
	}
	return &c, nil
}

// stripCodeFence removes a surrounding ```json fence some models emit
// even when asked for bare JSON.
func stripCodeFence(b []byte) []byte {
	if !bytes.HasPrefix(b, []byte("```")) {
		return b
	}
	b = b[3:]
	if nl := bytes.IndexByte(b, '\n'); nl >= 0 {
		b = b[nl+1:]
	}
	b = bytes.TrimSpace(b)
	b = bytes.TrimSuffix(b, []byte("```"))
	return bytes.TrimSpace(b)
}
