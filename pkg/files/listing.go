package files

import (
	"fmt"
	"html"
	"os"
	"sort"
	"strings"

	units "github.com/docker/go-units"
)

const listingStyle = "body{font-family:Arial,sans-serif;margin:20px}" +
	"h1{color:#333;border-bottom:1px solid #ccc}" +
	"ul{list-style-type:none;padding:0}li{margin:5px 0}" +
	"a{text-decoration:none;color:#0066cc}a:hover{text-decoration:underline}" +
	".dir{font-weight:bold}.file{color:#666}.size{color:#999;font-size:small}"

// ListDirectory renders an HTML listing of the directory at path, displayed
// under the request URI. Directories sort before files; each group sorts by
// name. Non-root listings link back to the parent.
func (s *Service) ListDirectory(path, uri string) string {
	title := html.EscapeString(uri)

	var b strings.Builder
	fmt.Fprintf(&b, "<html><head><title>Directory listing for %s</title>", title)
	fmt.Fprintf(&b, "<style>%s</style></head><body>", listingStyle)
	fmt.Fprintf(&b, "<h1>Directory listing for %s</h1><hr><ul>", title)

	if uri != "/" {
		b.WriteString(`<li><a href="../" class="dir">../</a></li>`)
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		b.WriteString("</ul><hr><em>Error reading directory</em></body></html>")
		return b.String()
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].IsDir() != entries[j].IsDir() {
			return entries[i].IsDir()
		}
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		name := entry.Name()
		display := html.EscapeString(name)
		if entry.IsDir() {
			fmt.Fprintf(&b, `<li><a href="%s/" class="dir">%s/</a></li>`, display, display)
			continue
		}
		size := ""
		if info, err := entry.Info(); err == nil {
			size = fmt.Sprintf(` <span class="size">%s</span>`, units.HumanSize(float64(info.Size())))
		}
		fmt.Fprintf(&b, `<li><a href="%s" class="file">%s</a>%s</li>`, display, display, size)
	}

	b.WriteString("</ul><hr><em>Generated by webserv</em></body></html>")
	return b.String()
}
