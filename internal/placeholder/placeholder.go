// Package placeholder implements the deterministic, HMAC-derived textual
// surrogate that replaces a sensitive span: the canonical form
// «token:TYPE:HHHH». Generation and recognition are pure functions; callers
// own the scope salt and the token map that backs the lookup.
package placeholder

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"regexp"

	"redactgw/internal/redact"
)

// Recognize matches the fixed wire format exactly: «token:TYPE:HHHH» where
// TYPE is [A-Z_]+ and HHHH is 4 lowercase hex digits. Any change here breaks
// every token map already in flight.
var Recognize = regexp.MustCompile(`«token:[A-Z_]+:[0-9a-f]{4}»`)

// recognizeCapture is Recognize with capture groups, used internally to pull
// the type and hex suffix back out of a matched placeholder.
var recognizeCapture = regexp.MustCompile(`«token:([A-Z_]+):([0-9a-f]{4})»`)

// ScopeSalt derives per-conversation key material from the process-wide
// secret. Conversations are distinguished so identical raw values produce
// different placeholders across conversations; an empty conversationID
// falls back to the literal "default" scope.
func ScopeSalt(processSecret, conversationID string) []byte {
	if conversationID == "" {
		conversationID = "default"
	}
	mac := hmac.New(sha256.New, []byte(processSecret))
	mac.Write([]byte(conversationID))
	return mac.Sum(nil)
}

// categoryTag upper-cases a Category into the placeholder TYPE segment.
func categoryTag(c redact.Category) string {
	switch c {
	case redact.CategorySecret:
		return "SECRET"
	case redact.CategoryPII:
		return "PII"
	case redact.CategoryOpsSensitive:
		return "OPS_SENSITIVE"
	case redact.CategoryExportControl:
		return "EXPORT_CONTROL"
	default:
		return "UNKNOWN"
	}
}

// New mints the canonical placeholder for raw under category, scoped by
// scopeSalt. The 4-hex-digit suffix is a truncated HMAC-SHA256 prefix; it is
// a display identifier, not a collision-free lookup key — the token map
// stores the placeholder→raw mapping explicitly.
func New(category redact.Category, raw string, scopeSalt []byte) string {
	mac := hmac.New(sha256.New, scopeSalt)
	mac.Write([]byte(raw))
	sum := mac.Sum(nil)
	suffix := hex.EncodeToString(sum[:2]) // first 2 bytes -> 4 hex digits
	return "«token:" + categoryTag(category) + ":" + suffix + "»"
}

// Match is one recognized placeholder occurrence in a text.
type Match struct {
	Start, End int
	Text       string
}

// FindAll returns every recognized placeholder occurrence in text, in order.
func FindAll(text string) []Match {
	locs := Recognize.FindAllStringIndex(text, -1)
	matches := make([]Match, 0, len(locs))
	for _, loc := range locs {
		matches = append(matches, Match{Start: loc[0], End: loc[1], Text: text[loc[0]:loc[1]]})
	}
	return matches
}

// ParseType extracts the TYPE tag from a recognized placeholder (e.g. "PII"
// from "«token:PII:ab12»"). ok is false if text is not a well-formed
// placeholder.
func ParseType(text string) (tag string, ok bool) {
	groups := recognizeCapture.FindStringSubmatch(text)
	if groups == nil {
		return "", false
	}
	return groups[1], true
}
