package constants

import (
	"mime"
	"strings"
)

// Media types accepted at the ingestion boundary.
const (
	MediaMarkdown = "text/markdown"
	MediaPlain    = "text/plain"
	MediaHTML     = "text/html"
	// MediaBlocks is the JSON stream of layout-hinted elements produced by
	// an upstream document parser.
	MediaBlocks = "application/vnd.infoburn.blocks+json"
)

var supportedMedia = map[string]struct{}{
	MediaMarkdown: {},
	MediaPlain:    {},
	MediaHTML:     {},
	MediaBlocks:   {},
}

var extMedia = map[string]string{
	"md":       MediaMarkdown,
	"markdown": MediaMarkdown,
	"txt":      MediaPlain,
	"html":     MediaHTML,
	"htm":      MediaHTML,
	"json":     MediaBlocks,
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// NormalizeMediaType strips parameters and lowercases a Content-Type value.
func NormalizeMediaType(mt string) string {
	mt = strings.TrimSpace(mt)
	if mt == "" {
		return ""
	}
	if parsed, _, err := mime.ParseMediaType(mt); err == nil {
		return parsed
	}
	return strings.ToLower(mt)
}

// IsSupportedMedia reports whether the normalizer can consume the media type.
func IsSupportedMedia(mt string) bool {
	_, ok := supportedMedia[NormalizeMediaType(mt)]
	return ok
}

// MediaTypeForExt maps a file extension to a supported media type, or "".
func MediaTypeForExt(ext string) string {
	return extMedia[NormalizeExt(ext)]
}
