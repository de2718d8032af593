package protocol

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// serverToken identifies the server in the Server response header.
const serverToken = "webserv/1.0"

// httpTimeFormat is the RFC 1123 layout with an explicit GMT zone, as
// required for the Date header.
const httpTimeFormat = "Mon, 02 Jan 2006 15:04:05 GMT"

// timeNow is indirected for tests that pin the Date header.
var timeNow = time.Now

// Response is an HTTP response under construction. Build serializes it to
// wire form; exactly one framing discipline (Content-Length or chunked) is
// emitted per response.
type Response struct {
	Status  int
	Reason  string
	Headers Headers
	Body    []byte
	Chunked bool
}

// NewResponse returns a response with the given status and its standard
// reason phrase.
func NewResponse(status int) *Response {
	return &Response{
		Status:  status,
		Reason:  ReasonPhrase(status),
		Headers: make(Headers),
	}
}

// SetHeader sets a response header, replacing any prior value.
func (r *Response) SetHeader(name, value string) *Response {
	r.Headers.Set(name, value)
	return r
}

// SetBody replaces the response body.
func (r *Response) SetBody(body []byte) *Response {
	r.Body = body
	return r
}

// bodyless reports whether the status code forbids a message body.
func (r *Response) bodyless() bool {
	return r.Status == StatusNoContent || r.Status == 304
}

// Build serializes the response: status line, headers, body. Date, Server,
// Connection, and the framing header are filled in unless already set.
func (r *Response) Build() []byte {
	if !r.Headers.Has("Date") {
		r.Headers.Set("Date", timeNow().UTC().Format(httpTimeFormat))
	}
	if !r.Headers.Has("Server") {
		r.Headers.Set("Server", serverToken)
	}
	if !r.Headers.Has("Connection") {
		r.Headers.Set("Connection", "close")
	}

	body := r.Body
	switch {
	case r.bodyless():
		body = nil
	case r.Chunked:
		r.Headers.Set("Transfer-Encoding", "chunked")
		body = encodeChunked(r.Body)
	default:
		r.Headers.Set("Content-Length", strconv.Itoa(len(r.Body)))
	}

	var b strings.Builder
	b.Grow(256 + len(body))
	fmt.Fprintf(&b, "HTTP/1.1 %d %s\r\n", r.Status, r.Reason)

	names := make([]string, 0, len(r.Headers))
	for name := range r.Headers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		b.WriteString(name)
		b.WriteString(": ")
		b.WriteString(r.Headers[name])
		b.WriteString(crlf)
	}
	b.WriteString(crlf)
	b.Write(body)
	return []byte(b.String())
}

// encodeChunked frames body as a single chunk followed by the terminating
// zero chunk.
func encodeChunked(body []byte) []byte {
	var b strings.Builder
	b.Grow(len(body) + 16)
	if len(body) > 0 {
		fmt.Fprintf(&b, "%x\r\n", len(body))
		b.Write(body)
		b.WriteString(crlf)
	}
	b.WriteString("0\r\n\r\n")
	return []byte(b.String())
}

// Simple builds a plain-text response with the given status and message.
func Simple(status int, message string) *Response {
	r := NewResponse(status)
	r.Headers.Set("Content-Type", "text/plain")
	r.Body = []byte(message)
	return r
}

// Error builds the default HTML error response for a status code. Vhost
// custom error pages are applied a layer up, where the configuration is in
// scope.
func Error(status int) *Response {
	r := NewResponse(status)
	r.Headers.Set("Content-Type", "text/html")
	r.Body = []byte(fmt.Sprintf(
		"<!DOCTYPE html>\n<html><head><title>Error %d</title></head>"+
			"<body><h1>%d %s</h1></body></html>",
		status, status, r.Reason))
	return r
}

// File builds a response carrying file content with the given MIME type.
// Non-HTML content is marked cacheable; HTML gets no-cache so directory
// listings and error pages stay fresh.
func File(status int, content []byte, contentType string) *Response {
	r := NewResponse(status)
	r.Headers.Set("Content-Type", contentType)
	if strings.HasPrefix(contentType, "text/html") {
		r.Headers.Set("Cache-Control", "no-cache")
	} else {
		r.Headers.Set("Cache-Control", "public, max-age=3600")
	}
	r.Body = content
	return r
}

// Redirect builds a 3xx response with a Location header and an empty body.
func Redirect(status int, location string) *Response {
	r := NewResponse(status)
	r.Headers.Set("Location", location)
	return r
}

// ChunkedFile is File with chunked transfer encoding, used for bodies above
// ChunkedThreshold.
func ChunkedFile(status int, content []byte, contentType string) *Response {
	r := File(status, content, contentType)
	r.Chunked = true
	return r
}
