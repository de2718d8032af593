package handler

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/dubu13/webserv/pkg/cgi"
	"github.com/dubu13/webserv/pkg/config"
	"github.com/dubu13/webserv/pkg/files"
	"github.com/dubu13/webserv/pkg/protocol"
	"github.com/dubu13/webserv/pkg/router"
)

func testDispatcher() *Dispatcher {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return New(log, files.NewService(log), files.NewCache(0), cgi.NewRunner(log, log))
}

func request(method protocol.Method, uri string, body []byte) *protocol.Request {
	return &protocol.Request{
		RequestLine: protocol.RequestLine{Method: method, URI: uri, Version: "HTTP/1.1"},
		Headers:     protocol.Headers{"Host": "x"},
		Body:        body,
	}
}

func serve(t *testing.T, server *config.ServerBlock, req *protocol.Request) *protocol.Response {
	t.Helper()
	return testDispatcher().Handle(context.Background(), router.New(server), req)
}

func newServer(root string, locations ...*config.LocationBlock) *config.ServerBlock {
	server := &config.ServerBlock{
		Root:      root,
		Locations: make(map[string]*config.LocationBlock),
	}
	for _, location := range locations {
		server.Locations[location.Path] = location
	}
	return server
}

func TestGetStaticFile(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "index.html"), []byte("hi"), 0o644))

	resp := serve(t, newServer(root), request(protocol.MethodGet, "/index.html", nil))
	require.Equal(t, protocol.StatusOK, resp.Status)
	require.Equal(t, "text/html", resp.Headers.Get("Content-Type"))
	require.Equal(t, []byte("hi"), resp.Body)

	out := string(resp.Build())
	require.Contains(t, out, "Content-Length: 2\r\n")
}

func TestGetStripsQuery(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("x"), 0o644))

	resp := serve(t, newServer(root), request(protocol.MethodGet, "/a.txt?version=2", nil))
	require.Equal(t, protocol.StatusOK, resp.Status)
}

func TestGetDecodesURI(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a b.txt"), []byte("x"), 0o644))

	resp := serve(t, newServer(root), request(protocol.MethodGet, "/a%20b.txt", nil))
	require.Equal(t, protocol.StatusOK, resp.Status)
}

func TestGetMissingFile(t *testing.T) {
	resp := serve(t, newServer(t.TempDir()), request(protocol.MethodGet, "/nope.html", nil))
	require.Equal(t, protocol.StatusNotFound, resp.Status)
	require.Contains(t, string(resp.Body), "404")
}

func TestGetDirectoryWithIndex(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "docs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "docs", "main.html"), []byte("docs"), 0o644))

	location := &config.LocationBlock{Path: "/docs", Index: "main.html"}
	resp := serve(t, newServer(root, location), request(protocol.MethodGet, "/docs", nil))
	require.Equal(t, protocol.StatusOK, resp.Status)
	require.Equal(t, []byte("docs"), resp.Body)
}

func TestGetDirectoryServerIndexFallback(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "index.html"), []byte("home"), 0o644))

	server := newServer(root)
	server.Index = "index.html"
	resp := serve(t, server, request(protocol.MethodGet, "/", nil))
	require.Equal(t, protocol.StatusOK, resp.Status)
	require.Equal(t, []byte("home"), resp.Body)
}

func TestGetDirectoryAutoindex(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "pub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "pub", "f.txt"), nil, 0o644))

	location := &config.LocationBlock{Path: "/pub", Autoindex: true}
	resp := serve(t, newServer(root, location), request(protocol.MethodGet, "/pub", nil))
	require.Equal(t, protocol.StatusOK, resp.Status)
	require.Equal(t, "text/html", resp.Headers.Get("Content-Type"))
	require.Contains(t, string(resp.Body), `<a href="../"`)
	require.Contains(t, string(resp.Body), "f.txt")
}

func TestGetDirectoryForbiddenWithoutIndexOrAutoindex(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "closed"), 0o755))

	location := &config.LocationBlock{Path: "/closed"}
	resp := serve(t, newServer(root, location), request(protocol.MethodGet, "/closed", nil))
	require.Equal(t, protocol.StatusForbidden, resp.Status)
}

func TestGetLargeFileUsesChunkedEncoding(t *testing.T) {
	root := t.TempDir()
	big := bytes.Repeat([]byte("a"), protocol.ChunkedThreshold+1)
	require.NoError(t, os.WriteFile(filepath.Join(root, "big.bin"), big, 0o644))

	resp := serve(t, newServer(root), request(protocol.MethodGet, "/big.bin", nil))
	require.Equal(t, protocol.StatusOK, resp.Status)
	require.True(t, resp.Chunked)

	out := resp.Build()
	require.Contains(t, string(out[:512]), "Transfer-Encoding: chunked\r\n")
	require.NotContains(t, string(out[:512]), "Content-Length")
}

func TestRedirectShortCircuit(t *testing.T) {
	location := &config.LocationBlock{Path: "/api", Redirection: "301 /v2"}
	resp := serve(t, newServer(t.TempDir(), location), request(protocol.MethodGet, "/api", nil))
	require.Equal(t, protocol.StatusMovedPermanently, resp.Status)
	require.Equal(t, "/v2", resp.Headers.Get("Location"))

	out := string(resp.Build())
	require.Contains(t, out, "Location: /v2\r\n")
	require.Contains(t, out, "Content-Length: 0\r\n")
}

func TestMethodNotAllowed(t *testing.T) {
	location := &config.LocationBlock{
		Path:           "/ro",
		AllowedMethods: map[string]struct{}{"GET": {}},
	}
	resp := serve(t, newServer(t.TempDir(), location), request(protocol.MethodPost, "/ro/x", []byte("b")))
	require.Equal(t, protocol.StatusMethodNotAllowed, resp.Status)
}

func TestPostUploadToRequestPath(t *testing.T) {
	root := t.TempDir()
	location := &config.LocationBlock{
		Path:           "/uploads",
		AllowedMethods: map[string]struct{}{"POST": {}},
		UploadEnable:   true,
	}
	server := newServer(root, location)

	resp := serve(t, server, request(protocol.MethodPost, "/uploads/a.txt", []byte("hello")))
	require.Equal(t, protocol.StatusCreated, resp.Status)

	content, err := os.ReadFile(filepath.Join(root, "uploads", "a.txt"))
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), content)

	// Overwriting reports 200 instead of 201.
	resp = serve(t, server, request(protocol.MethodPost, "/uploads/a.txt", []byte("again")))
	require.Equal(t, protocol.StatusOK, resp.Status)
}

func TestPostUploadDisabled(t *testing.T) {
	location := &config.LocationBlock{
		Path:           "/uploads",
		AllowedMethods: map[string]struct{}{"POST": {}},
	}
	resp := serve(t, newServer(t.TempDir(), location), request(protocol.MethodPost, "/uploads/a.txt", []byte("x")))
	require.Equal(t, protocol.StatusForbidden, resp.Status)
}

func TestPostUploadStoreNaming(t *testing.T) {
	store := t.TempDir()
	location := &config.LocationBlock{
		Path:           "/uploads",
		AllowedMethods: map[string]struct{}{"POST": {}},
		UploadEnable:   true,
		UploadStore:    store,
	}

	orig := timeNow
	timeNow = func() time.Time { return time.Unix(1700000000, 0) }
	t.Cleanup(func() { timeNow = orig })

	resp := serve(t, newServer(t.TempDir(), location), request(protocol.MethodPost, "/uploads/whatever", []byte("data")))
	require.Equal(t, protocol.StatusCreated, resp.Status)

	content, err := os.ReadFile(filepath.Join(store, "upload_1700000000.txt"))
	require.NoError(t, err)
	require.Equal(t, []byte("data"), content)
}

func TestDeleteFile(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "gone.txt"), []byte("x"), 0o644))

	location := &config.LocationBlock{
		Path:           "/gone.txt",
		AllowedMethods: map[string]struct{}{"DELETE": {}},
	}
	resp := serve(t, newServer(root, location), request(protocol.MethodDelete, "/gone.txt", nil))
	require.Equal(t, protocol.StatusNoContent, resp.Status)
	require.NoFileExists(t, filepath.Join(root, "gone.txt"))

	out := string(resp.Build())
	require.True(t, strings.HasPrefix(out, "HTTP/1.1 204 No Content\r\n"))
}

func TestDeleteProtectedPaths(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "index.html"), []byte("x"), 0o644))

	for _, uri := range []string{"/", "/index.html", "/errors/404.html", "/errors/anything"} {
		resp := serve(t, newServer(root), &protocol.Request{
			RequestLine: protocol.RequestLine{Method: protocol.MethodDelete, URI: uri, Version: "HTTP/1.1"},
			Headers:     protocol.Headers{"Host": "x"},
		})
		require.Equal(t, protocol.StatusForbidden, resp.Status, uri)
	}
}

func TestDeleteMissing(t *testing.T) {
	location := &config.LocationBlock{
		Path:           "/files",
		AllowedMethods: map[string]struct{}{"DELETE": {}},
	}
	resp := serve(t, newServer(t.TempDir(), location), request(protocol.MethodDelete, "/files/nope.txt", nil))
	require.Equal(t, protocol.StatusNotFound, resp.Status)
}

func TestBodyOverLimit(t *testing.T) {
	server := newServer(t.TempDir())
	server.MaxBodySize = 4
	location := &config.LocationBlock{
		Path:           "/uploads",
		AllowedMethods: map[string]struct{}{"POST": {}},
		UploadEnable:   true,
	}
	server.Locations[location.Path] = location

	resp := serve(t, server, request(protocol.MethodPost, "/uploads/a.txt", []byte("too big")))
	require.Equal(t, protocol.StatusPayloadTooLarge, resp.Status)
}

func TestUnsafeURIRejected(t *testing.T) {
	// The parser already rejects these; the handler re-checks after URL
	// decoding so encoded traversals die here.
	resp := serve(t, newServer(t.TempDir()), request(protocol.MethodGet, "/%2e%2e/etc/passwd", nil))
	require.Equal(t, protocol.StatusBadRequest, resp.Status)
}

func TestCustomErrorPage(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "errors"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "errors", "404.html"), []byte("<h1>custom</h1>"), 0o644))

	server := newServer(root)
	server.ErrorPages = map[int]string{404: "/errors/404.html"}

	resp := serve(t, server, request(protocol.MethodGet, "/missing", nil))
	require.Equal(t, protocol.StatusNotFound, resp.Status)
	require.Equal(t, []byte("<h1>custom</h1>"), resp.Body)
}

func TestCustomErrorPageFallback(t *testing.T) {
	server := newServer(t.TempDir())
	server.ErrorPages = map[int]string{404: "/errors/does-not-exist.html"}

	resp := serve(t, server, request(protocol.MethodGet, "/missing", nil))
	require.Equal(t, protocol.StatusNotFound, resp.Status)
	require.Contains(t, string(resp.Body), "Error 404")
}

func TestLocationCGIExecution(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "cgi"), 0o755))
	script := filepath.Join(root, "cgi", "hello.sh")
	require.NoError(t, os.WriteFile(script,
		[]byte("#!/bin/sh\nprintf 'Content-Type: text/plain\\n\\nran'\n"), 0o755))

	location := &config.LocationBlock{
		Path:         "/cgi",
		CGIExtension: ".sh",
		CGIPath:      "/bin/sh",
	}
	resp := serve(t, newServer(root, location), request(protocol.MethodGet, "/cgi/hello.sh", nil))
	require.Equal(t, protocol.StatusOK, resp.Status)
	require.Equal(t, []byte("ran"), resp.Body)
}
