// Package errfmt provides shared bounding for diagnostic strings.
package errfmt

import (
	"unicode"
	"unicode/utf8"
)

// MaxLen caps error content to prevent unbounded propagation.
const MaxLen = 4096

// SnippetLen caps raw-line snippets embedded in decode errors.
const SnippetLen = 100

// MaxReasonLen caps raw stop_reason strings (short identifiers).
const MaxReasonLen = 64

// truncateUTF8 caps s at max bytes, backtracking to a valid UTF-8 boundary.
func truncateUTF8(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	end := limit
	for end > 0 && !utf8.RuneStart(s[end]) {
		end--
	}
	return s[:end]
}

// Truncate caps a string at MaxLen bytes with UTF-8-safe truncation.
func Truncate(s string) string {
	return truncateUTF8(s, MaxLen)
}

// Snippet caps a raw line at SnippetLen bytes with UTF-8-safe truncation.
func Snippet(s string) string {
	return truncateUTF8(s, SnippetLen)
}

// SanitizeReason validates and truncates a raw stop_reason string.
// Returns "" for strings containing control characters.
// Validate-then-truncate: control chars are rejected first, then
// rune-safe truncation ensures valid UTF-8 output.
func SanitizeReason(raw string) string {
	for _, r := range raw {
		if unicode.IsControl(r) {
			return ""
		}
	}
	return truncateUTF8(raw, MaxReasonLen)
}
