package utils

import "unicode/utf8"

const ellipsis = "..."

// Truncate shortens s to at most maxBytes bytes, cutting on a rune boundary
// and marking the cut with an ellipsis.
func Truncate(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	cut := maxBytes - len(ellipsis)
	if cut <= 0 {
		return ellipsis[:max(maxBytes, 0)]
	}
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + ellipsis
}
