package util

import (
	"html"
	"strings"
)

// SanitizeInput escapes HTML/script-like characters. Used on free-text
// fields that reach persistence (manual-review notes, reason codes).
func SanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return html.EscapeString(s)
}

// TruncateString bounds free-text to n runes before logging or persisting.
func TruncateString(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
