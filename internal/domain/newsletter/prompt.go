package newsletter

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/target/inkwell/internal/domain/model"
)

const (
	// DefaultTone applies when preferences carry no tone.
	DefaultTone = "professional"
	// DefaultLength applies when preferences carry no length.
	DefaultLength = "medium"
)

// SystemPrompt instructs the model to answer with content matching SchemaJSON.
const SystemPrompt = `You are a newsletter editor. Write one newsletter issue and return it as minified JSON:
{"title": string, "preheader": string, "intro": string, "sections": [{"title": string, "summary": string, "pullQuote"?: string, "linkSuggestions"?: string[]}], "outro": string, "cta": {"headline": string, "buttonLabel": string, "buttonUrl": string | null}}
Keep the language factual and in the requested tone.
Only put sources you were given into linkSuggestions and never invent links.`

// PromptInput carries everything a generation prompt may mention.
// Every field is optional.
type PromptInput struct {
	Recipient         string
	ExistingSubject   string
	ExistingPreheader string
	Topics            []string
	Tone              string
	Length            string
	MustInclude       []string
	Avoid             []string
	CTA               string
	SenderName        string
}

// InputFromPreferences builds a PromptInput from stored preferences and the
// issue being generated. Either argument may be nil.
func InputFromPreferences(issue *model.Issue, prefs *model.Preferences) PromptInput {
	var in PromptInput
	if issue != nil {
		in.ExistingSubject = model.StringValue(issue.Subject)
		in.ExistingPreheader = model.StringValue(issue.Preheader)
	}
	if prefs != nil {
		in.Topics = nonEmpty(prefs.Topics)
		in.Tone = prefs.ResolvedTone()
		in.Length = model.StringValue(prefs.Length)
		in.MustInclude = nonEmpty(prefs.MustInclude)
		in.Avoid = nonEmpty(prefs.Avoid)
		in.CTA = model.StringValue(prefs.CTA)
		in.SenderName = model.StringValue(prefs.SenderName)
	}
	return in
}

// BuildPrompt renders the user prompt. Absent preferences fall back to
// DefaultTone and DefaultLength; empty lists are omitted.
func BuildPrompt(in PromptInput) string {
	var lines []string
	add := func(format string, args ...any) {
		lines = append(lines, fmt.Sprintf(format, args...))
	}

	if in.Recipient != "" {
		add("Write this issue for %s.", in.Recipient)
	}
	if in.ExistingSubject != "" {
		add("Existing subject: %s", in.ExistingSubject)
	}
	if in.ExistingPreheader != "" {
		add("Existing preheader: %s", in.ExistingPreheader)
	}
	if len(in.Topics) > 0 {
		numbered := make([]string, len(in.Topics))
		for i, t := range in.Topics {
			numbered[i] = fmt.Sprintf("%d. %s", i+1, t)
		}
		add("Topics:\n%s", strings.Join(numbered, "\n"))
	}
	if len(in.MustInclude) > 0 {
		add("Must include: %s", strings.Join(in.MustInclude, "; "))
	}
	if len(in.Avoid) > 0 {
		add("Avoid: %s", strings.Join(in.Avoid, "; "))
	}
	if in.CTA != "" {
		add("Preferred CTA: %s", in.CTA)
	}
	if in.SenderName != "" {
		add("Sender name: %s", in.SenderName)
	}
	add("Tone: %s", orDefault(in.Tone, DefaultTone))
	add("Length: %s", orDefault(in.Length, DefaultLength))

	return strings.Join(lines, "\n")
}

// PreviewOverrides are caller-supplied adjustments for an editor preview.
type PreviewOverrides struct {
	Prompt   string `json:"prompt,omitempty"`
	Tone     string `json:"tone,omitempty"`
	Audience string `json:"audience,omitempty"`
	Length   string `json:"length,omitempty"`
}

// Preview override limits.
const (
	MinPreviewPromptLen = 10
	MaxPreviewPromptLen = 1600
	MaxPreviewToneLen   = 50
	MaxAudienceLen      = 200
)

// Validate checks override bounds.
func (o PreviewOverrides) Validate() error {
	var issues []FieldIssue
	if o.Prompt != "" {
		n := utf8.RuneCountInString(o.Prompt)
		if n < MinPreviewPromptLen {
			issues = append(issues, FieldIssue{Field: "prompt", Message: "prompt is too short"})
		} else if n > MaxPreviewPromptLen {
			issues = append(issues, FieldIssue{Field: "prompt", Message: "prompt is too long"})
		}
	}
	if utf8.RuneCountInString(o.Tone) > MaxPreviewToneLen {
		issues = append(issues, FieldIssue{Field: "tone", Message: "tone is too long"})
	}
	if utf8.RuneCountInString(o.Audience) > MaxAudienceLen {
		issues = append(issues, FieldIssue{Field: "audience", Message: "audience is too long"})
	}
	switch o.Length {
	case "", "short", "medium", "long":
	default:
		issues = append(issues, FieldIssue{Field: "length", Message: "length must be short, medium or long"})
	}
	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}

// BuildPreviewPrompt renders a prompt from preferences with overrides applied.
func BuildPreviewPrompt(in PromptInput, o PreviewOverrides) string {
	if o.Tone != "" {
		in.Tone = o.Tone
	}
	if o.Length != "" {
		in.Length = o.Length
	}
	base := BuildPrompt(in)
	var extra []string
	if o.Prompt != "" {
		extra = append(extra, "Prompt: "+o.Prompt)
	}
	if o.Audience != "" {
		extra = append(extra, "Audience: "+o.Audience)
	}
	if len(extra) == 0 {
		return base
	}
	return strings.Join(extra, "\n") + "\n" + base
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func nonEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
