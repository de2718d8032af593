package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSanitizeForLog(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"plain", "/index.html", "/index.html"},
		{"newline", "/a\nfake log line", "/a\\nfake log line"},
		{"carriage return", "/a\r\nb", "/a\\r\\nb"},
		{"tab", "a\tb", "a\\tb"},
		{"backslash", `a\b`, `a\\b`},
		{"control char", "a\x01b", "a?b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, SanitizeForLog(tt.in))
		})
	}
}

func TestSanitizeForLogTruncates(t *testing.T) {
	long := strings.Repeat("a", 500)
	out := SanitizeForLog(long)
	require.True(t, strings.HasSuffix(out, "...[truncated]"))
	require.Less(t, len(out), 250)
}
