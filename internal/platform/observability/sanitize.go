package observability

import (
	"strings"
	"unicode"
)

const (
	routeLimit  = 180
	methodLimit = 10
	idLimit     = 64
	// sessionPrefix is how much of a cart session id is kept in logs.
	sessionPrefix = 6
)

// cleanField drops control characters and keeps at most limit runes so request
// values cannot forge log lines.
func cleanField(value string, limit int) string {
	var b strings.Builder
	b.Grow(len(value))
	n := 0
	for _, r := range value {
		if unicode.IsControl(r) {
			continue
		}
		if n == limit {
			break
		}
		b.WriteRune(r)
		n++
	}
	return b.String()
}

// SanitizeRoute cleans a route or path for logs and span names.
func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return cleanField(route, routeLimit)
}

// SanitizeMethod cleans an HTTP method.
func SanitizeMethod(method string) string {
	return strings.ToUpper(cleanField(method, methodLimit))
}

// SanitizeUserID cleans an admin uid.
func SanitizeUserID(uid string) string {
	return cleanField(uid, idLimit)
}

// MaskSessionID keeps a short prefix of a cart session id. Session ids act as
// bearer tokens for a cart selection and are never logged whole.
func MaskSessionID(session string) string {
	session = cleanField(strings.TrimSpace(session), idLimit)
	if session == "" {
		return ""
	}
	runes := []rune(session)
	if len(runes) <= sessionPrefix {
		return "***"
	}
	return string(runes[:sessionPrefix]) + "***"
}
