package httpx

import (
	"net/http"
	"strconv"
	"strings"
)

// parseIntQuery returns the integer value of a query param or a default.
// It is tolerant of missing/invalid values.
func parseIntQuery(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

// ParseLimit parses the limit query param. Zero or missing lets the service
// apply its default; values above maxLimit are clamped.
func ParseLimit(r *http.Request, maxLimit int) int {
	lim := parseIntQuery(r, "limit", 0)
	if lim < 0 {
		lim = 0
	}
	if maxLimit > 0 && lim > maxLimit {
		lim = maxLimit
	}
	return lim
}

// pathID returns a trimmed path value.
func pathID(r *http.Request, name string) string {
	return strings.TrimSpace(r.PathValue(name))
}
