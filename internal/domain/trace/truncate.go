package trace

import (
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
)

// DefaultMaxBodyBytes is the capture ceiling for a single payload.
const DefaultMaxBodyBytes = 64 << 10

// Truncate cuts s to at most max bytes and reports whether it did. The cut
// backs off to the previous rune boundary so stored text stays valid UTF-8.
// A non-positive max disables truncation.
func Truncate(s string, max int) (string, bool) {
	if max <= 0 || len(s) <= max {
		return s, false
	}

	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut], true
}

// DetectContentType sniffs a payload's MIME type. It runs on the captured
// prefix, so truncated bodies are still classified.
func DetectContentType(body string) string {
	if body == "" {
		return ""
	}
	return mimetype.Detect([]byte(body)).String()
}
