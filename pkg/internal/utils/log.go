package utils

import (
	"strings"
	"unicode"
)

// SanitizeForLog makes a client-supplied string (URI, header value) safe to
// log by escaping control characters that could forge log lines, and
// truncates long values.
func SanitizeForLog(s string) string {
	if s == "" {
		return ""
	}

	var result strings.Builder
	result.Grow(len(s))

	for _, r := range s {
		switch {
		case r == '\n':
			result.WriteString("\\n")
		case r == '\r':
			result.WriteString("\\r")
		case r == '\t':
			result.WriteString("\\t")
		case r == '\\':
			result.WriteString("\\\\")
		case unicode.IsControl(r):
			result.WriteString("?")
		case unicode.IsPrint(r):
			result.WriteRune(r)
		default:
			result.WriteString("?")
		}
	}

	const maxLength = 200
	if result.Len() > maxLength {
		return result.String()[:maxLength] + "...[truncated]"
	}

	return result.String()
}
