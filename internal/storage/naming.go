package storage

import (
	"regexp"
	"strings"
)

var (
	reservedChars = regexp.MustCompile(`[<>:"/\\|?*]`)
	whitespace    = regexp.MustCompile(`\s+`)
	underscores   = regexp.MustCompile(`_{2,}`)
)

// SanitizeName replaces characters that are unsafe in file names with
// underscores, collapses whitespace and underscore runs, and truncates the
// result to 255 bytes.
func SanitizeName(name string) string {
	name = reservedChars.ReplaceAllString(name, "_")
	name = whitespace.ReplaceAllString(name, "_")
	name = underscores.ReplaceAllString(name, "_")
	return truncate(name, maxFileNameBytes)
}

// LayerFileName builds the stored name for a layer: the sanitized base
// name with a single .kml extension, within the length limit.
func LayerFileName(name string) string {
	base := TrimKMLExtension(name)
	base = SanitizeName(base)
	base = truncate(base, maxFileNameBytes-len(KMLExtension))
	if base == "" {
		base = "layer"
	}
	return base + KMLExtension
}

// TrimKMLExtension removes a trailing .kml in any letter case.
func TrimKMLExtension(name string) string {
	if n := len(name) - len(KMLExtension); n >= 0 && strings.EqualFold(name[n:], KMLExtension) {
		return name[:n]
	}
	return name
}

// DisplayName strips the .kml extension from a stored file name.
func DisplayName(fileName string) string {
	return TrimKMLExtension(fileName)
}

// DeletedName returns the soft-deleted form of fileName: the marker goes
// before the .kml extension, or at the end when there is none.
func DeletedName(fileName, marker string) string {
	if base := TrimKMLExtension(fileName); base != fileName {
		return base + marker + fileName[len(base):]
	}
	return fileName + marker
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !isRuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
