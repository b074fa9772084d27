package manifest

import (
	"path"
	"strings"
)

// FallbackMimeType is used for extensions missing from the table.
const FallbackMimeType = "application/octet-stream"

// mimeTypes maps lowercased extensions to MIME types. The host MIME database
// is never consulted.
//
//nolint:gochecknoglobals // Read-only lookup table.
var mimeTypes = map[string]string{
	".avif":  "image/avif",
	".css":   "text/css",
	".gif":   "image/gif",
	".htm":   "text/html",
	".html":  "text/html",
	".ico":   "image/x-icon",
	".jpeg":  "image/jpeg",
	".jpg":   "image/jpeg",
	".js":    "application/javascript",
	".json":  "application/json",
	".map":   "application/json",
	".mjs":   "application/javascript",
	".mp3":   "audio/mpeg",
	".mp4":   "video/mp4",
	".pdf":   "application/pdf",
	".png":   "image/png",
	".svg":   "image/svg+xml",
	".ttf":   "font/ttf",
	".txt":   "text/plain",
	".wasm":  "application/wasm",
	".webm":  "video/webm",
	".webp":  "image/webp",
	".woff":  "font/woff",
	".woff2": "font/woff2",
	".xml":   "application/xml",
}

// MimeType infers the MIME type of a slash-separated path from its extension.
func MimeType(relPath string) string {
	if mimeType, ok := mimeTypes[strings.ToLower(path.Ext(relPath))]; ok {
		return mimeType
	}

	return FallbackMimeType
}
