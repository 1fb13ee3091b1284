package newsletter

import (
	"net/url"
	"strings"
)

const linkSuggestionsKey = "linkSuggestions"

// IsHTTPURL reports whether s is an absolute http or https URL with a host.
func IsHTTPURL(s string) bool {
	u, err := url.Parse(strings.TrimSpace(s))
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return u.Host != ""
}

// Sanitize strips link suggestions that are not valid http(s) URLs from a
// decoded JSON document. A section left without valid links, or whose
// linkSuggestions is not an array, loses the field entirely. Documents that
// are not objects, or carry no sections array, are returned unchanged.
// The input is not modified.
func Sanitize(doc any) any {
	obj, ok := doc.(map[string]any)
	if !ok {
		return doc
	}
	sections, ok := obj["sections"].([]any)
	if !ok {
		return doc
	}

	out := make(map[string]any, len(obj))
	for k, v := range obj {
		out[k] = v
	}
	cleaned := make([]any, len(sections))
	for i, raw := range sections {
		cleaned[i] = sanitizeSection(raw)
	}
	out["sections"] = cleaned
	return out
}

func sanitizeSection(raw any) any {
	section, ok := raw.(map[string]any)
	if !ok {
		return raw
	}
	out := make(map[string]any, len(section))
	for k, v := range section {
		out[k] = v
	}

	links, ok := section[linkSuggestionsKey].([]any)
	if !ok {
		delete(out, linkSuggestionsKey)
		return out
	}
	valid := make([]any, 0, len(links))
	for _, l := range links {
		if s, isString := l.(string); isString && IsHTTPURL(s) {
			valid = append(valid, s)
		}
	}
	if len(valid) == 0 {
		delete(out, linkSuggestionsKey)
	} else {
		out[linkSuggestionsKey] = valid
	}
	return out
}

// SanitizeContent applies the same link filtering to typed content in place.
func SanitizeContent(c *Content) {
	if c == nil {
		return
	}
	for i := range c.Sections {
		links := c.Sections[i].LinkSuggestions
		if len(links) == 0 {
			c.Sections[i].LinkSuggestions = nil
			continue
		}
		valid := links[:0:0]
		for _, l := range links {
			if IsHTTPURL(l) {
				valid = append(valid, l)
			}
		}
		if len(valid) == 0 {
			valid = nil
		}
		c.Sections[i].LinkSuggestions = valid
	}
}
