package newsletter

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
)

// SchemaJSON is the JSON Schema every stored or sent newsletter must satisfy.
// It is also handed to the language model as the response schema.
const SchemaJSON = `{
  "type": "object",
  "required": ["title", "preheader", "sections"],
  "properties": {
    "title": {"type": "string", "minLength": 1},
    "preheader": {"type": "string", "minLength": 1},
    "intro": {"type": "string"},
    "outro": {"type": "string"},
    "sections": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["title", "summary"],
        "properties": {
          "title": {"type": "string", "minLength": 1},
          "summary": {"type": "string", "minLength": 1},
          "pullQuote": {"type": "string"},
          "linkSuggestions": {"type": "array", "items": {"type": "string"}}
        }
      }
    },
    "cta": {
      "type": "object",
      "properties": {
        "headline": {"type": "string"},
        "buttonLabel": {"type": "string"},
        "buttonUrl": {"type": ["string", "null"]}
      }
    }
  }
}`

var resolvedSchema = sync.OnceValues(func() (*jsonschema.Resolved, error) {
	var s jsonschema.Schema
	if err := json.Unmarshal([]byte(SchemaJSON), &s); err != nil {
		return nil, fmt.Errorf("decode newsletter schema: %w", err)
	}
	return s.Resolve(nil)
})

// ResponseSchema returns the content schema as a generic JSON value.
func ResponseSchema() map[string]any {
	var m map[string]any
	_ = json.Unmarshal([]byte(SchemaJSON), &m)
	return m
}

// FieldIssue describes one schema violation.
type FieldIssue struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// ValidationError reports why content failed the newsletter schema.
type ValidationError struct {
	Issues []FieldIssue
}

func (e *ValidationError) Error() string {
	if len(e.Issues) == 0 {
		return "validation failed"
	}
	parts := make([]string, 0, len(e.Issues))
	for _, is := range e.Issues {
		if is.Field == "" {
			parts = append(parts, is.Message)
			continue
		}
		parts = append(parts, is.Field+": "+is.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Validate checks typed content against the newsletter schema.
func Validate(c *Content) error {
	if c == nil {
		return &ValidationError{Issues: []FieldIssue{{Message: "content is required"}}}
	}
	b, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode newsletter content: %w", err)
	}
	var doc any
	if err := json.Unmarshal(b, &doc); err != nil {
		return fmt.Errorf("decode newsletter content: %w", err)
	}
	return validateDocument(doc)
}

func validateDocument(doc any) error {
	rs, err := resolvedSchema()
	if err != nil {
		return err
	}
	if err := rs.Validate(doc); err != nil {
		return &ValidationError{Issues: []FieldIssue{{Message: err.Error()}}}
	}
	// The schema has already guaranteed the shapes asserted below.
	obj, _ := doc.(map[string]any)
	var issues []FieldIssue
	sections, _ := obj["sections"].([]any)
	for i, raw := range sections {
		section, _ := raw.(map[string]any)
		links, _ := section[linkSuggestionsKey].([]any)
		for j, l := range links {
			if s, _ := l.(string); !isAbsoluteURL(s) {
				issues = append(issues, FieldIssue{
					Field:   fmt.Sprintf("sections[%d].linkSuggestions[%d]", i, j),
					Message: "must be a valid URL",
				})
			}
		}
	}
	if cta, ok := obj["cta"].(map[string]any); ok {
		if s, isString := cta["buttonUrl"].(string); isString && !isAbsoluteURL(s) {
			issues = append(issues, FieldIssue{Field: "cta.buttonUrl", Message: "must be a valid URL"})
		}
	}
	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}

func isAbsoluteURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil || u.Scheme == "" {
		return false
	}
	return u.Host != "" || u.Opaque != ""
}
