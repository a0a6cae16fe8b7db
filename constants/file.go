package constants

import (
	"path/filepath"
	"strings"
)

// File formats the engines distinguish between.
const (
	PDF   = "PDF"
	IMAGE = "IMAGE"
	TXT   = "TXT"
)

// FileTypes holds the allowed input formats.
var FileTypes = []string{PDF, IMAGE, TXT}

var extToFormat = map[string]string{
	"pdf":  PDF,
	"jpg":  IMAGE,
	"jpeg": IMAGE,
	"png":  IMAGE,
	"tif":  IMAGE,
	"tiff": IMAGE,
	"heic": IMAGE,
	"txt":  TXT,
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// MapExtToFormat returns the engine format for a file extension,
// or "" if the extension is not supported.
func MapExtToFormat(ext string) string {
	return extToFormat[NormalizeExt(ext)]
}

// FormatForPath returns the engine format for a file path based on its
// extension, or "" if unsupported.
func FormatForPath(path string) string {
	return MapExtToFormat(filepath.Ext(path))
}
