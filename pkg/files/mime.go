package files

import (
	"path/filepath"
	"strings"
)

// defaultMIMEType is served when the extension is unknown or absent.
const defaultMIMEType = "application/octet-stream"

var mimeTypes = map[string]string{
	".html": "text/html",
	".htm":  "text/html",
	".css":  "text/css",
	".js":   "text/javascript",
	".json": "application/json",
	".txt":  "text/plain",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".pdf":  "application/pdf",
	".ico":  "image/x-icon",
	".svg":  "image/svg+xml",
	".xml":  "application/xml",
	".zip":  "application/zip",
	".mp3":  "audio/mpeg",
	".mp4":  "video/mp4",
}

// MIMEType resolves a file path to its MIME type by extension,
// case-insensitively.
func MIMEType(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if mime, ok := mimeTypes[ext]; ok {
		return mime
	}
	return defaultMIMEType
}
