package protocol

import (
	"strconv"
	"strings"
)

// IsComplete reports whether buf holds an entire HTTP request. The predicate
// is monotone: once it returns true for a buffer it returns true for every
// extension of that buffer.
//
// A request is complete when the header terminator has arrived and, if the
// headers announce a Content-Length, that many body bytes follow, or, if they
// announce chunked encoding, the terminating zero chunk has arrived.
func IsComplete(buf []byte) bool {
	text := string(buf)

	headerEnd := strings.Index(text, doubleCRLF)
	if headerEnd < 0 {
		return false
	}
	headers := text[:headerEnd]
	bodyStart := headerEnd + len(doubleCRLF)

	if length, ok := announcedContentLength(headers); ok {
		return len(text)-bodyStart >= length
	}

	if headerFieldContains(headers, "transfer-encoding", "chunked") {
		return strings.Contains(text[bodyStart:], "0\r\n\r\n")
	}

	return true
}

// announcedContentLength scans the header section for a Content-Length field.
// An unparseable value counts as no announcement so the parser can reject the
// request with a definite status instead of the connection idling out.
func announcedContentLength(headers string) (int, bool) {
	value, ok := headerFieldValue(headers, "content-length")
	if !ok {
		return 0, false
	}
	length, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || length < 0 {
		return 0, false
	}
	return length, true
}

// headerFieldValue finds the first header line whose name matches,
// case-insensitively, and returns its raw value.
func headerFieldValue(headers, name string) (string, bool) {
	for _, line := range strings.Split(headers, "\r\n") {
		colon := strings.IndexByte(line, ':')
		if colon < 0 {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(line[:colon]), name) {
			return line[colon+1:], true
		}
	}
	return "", false
}

func headerFieldContains(headers, name, token string) bool {
	value, ok := headerFieldValue(headers, name)
	return ok && strings.Contains(strings.ToLower(value), token)
}
