package files

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestListDirectory(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "b.txt"), []byte("bb"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("a"), 0o644))

	html := testService().ListDirectory(root, "/dir")
	require.Contains(t, html, "Directory listing for /dir")
	require.Contains(t, html, `<a href="../"`)
	require.Contains(t, html, `<a href="sub/" class="dir">sub/</a>`)
	require.Contains(t, html, `<a href="a.txt" class="file">a.txt</a>`)

	// Directories sort before files, files alphabetically.
	require.Less(t, strings.Index(html, "sub/"), strings.Index(html, "a.txt"))
	require.Less(t, strings.Index(html, "a.txt"), strings.Index(html, "b.txt"))
}

func TestListDirectoryRootHasNoParentLink(t *testing.T) {
	html := testService().ListDirectory(t.TempDir(), "/")
	require.NotContains(t, html, `<a href="../"`)
}

func TestListDirectoryUnreadable(t *testing.T) {
	html := testService().ListDirectory(filepath.Join(t.TempDir(), "missing"), "/x")
	require.Contains(t, html, "Error reading directory")
}

func TestListDirectoryEscapesNames(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a<b>.txt"), nil, 0o644))
	html := testService().ListDirectory(root, "/x")
	require.Contains(t, html, "a&lt;b&gt;.txt")
	require.NotContains(t, html, "a<b>.txt")
}

func TestMIMEType(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/index.html", "text/html"},
		{"/a/b.CSS", "text/css"},
		{"/pic.jpeg", "image/jpeg"},
		{"/data.json", "application/json"},
		{"/archive.zip", "application/zip"},
		{"/noext", "application/octet-stream"},
		{"/weird.xyz", "application/octet-stream"},
		{"/trailing.", "application/octet-stream"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, MIMEType(tt.path), tt.path)
	}
}

func TestCacheBound(t *testing.T) {
	cache := NewCache(2)
	cache.Put("/a", []byte("a"), "text/plain")
	cache.Put("/b", []byte("b"), "text/plain")
	require.Equal(t, 2, cache.Len())

	// Insertion at capacity clears the cache first.
	cache.Put("/c", []byte("c"), "text/plain")
	require.Equal(t, 1, cache.Len())

	content, mimeType, ok := cache.Get("/c")
	require.True(t, ok)
	require.Equal(t, []byte("c"), content)
	require.Equal(t, "text/plain", mimeType)

	_, _, ok = cache.Get("/a")
	require.False(t, ok)
}

func TestCacheDefaultCapacity(t *testing.T) {
	cache := NewCache(0)
	for i := 0; i < DefaultCacheEntries; i++ {
		cache.Put(string(rune('a'+i%26))+string(rune('0'+i/26)), []byte("x"), "text/plain")
	}
	require.LessOrEqual(t, cache.Len(), DefaultCacheEntries)
}
