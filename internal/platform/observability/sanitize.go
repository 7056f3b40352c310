package observability

import (
	"strings"
	"unicode"
)

const defaultStringLimit = 256

// Attribute limits for telemetry values.
const (
	routeLimit  = 180
	methodLimit = 10
	userIDLimit = 64
)

// sanitizeString strips control characters (keeping whitespace escapes) and
// caps the value at limit runes so hostile input cannot inflate or corrupt
// log and span attributes.
func sanitizeString(value string, limit int) string {
	if limit <= 0 {
		limit = defaultStringLimit
	}

	var b strings.Builder
	b.Grow(len(value))
	kept := 0
	for _, r := range value {
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			continue
		}
		if kept == limit {
			break
		}
		b.WriteRune(r)
		kept++
	}
	return b.String()
}

// SanitizeRoute normalises a route pattern for use as a telemetry attribute.
// An empty route maps to "/".
func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return sanitizeString(route, routeLimit)
}

// SanitizeMethod bounds an HTTP method value.
func SanitizeMethod(method string) string {
	return sanitizeString(method, methodLimit)
}

// SanitizeUserID bounds user identifiers recorded in logs and spans.
func SanitizeUserID(uid string) string {
	if uid == "" {
		return ""
	}
	return sanitizeString(uid, userIDLimit)
}
