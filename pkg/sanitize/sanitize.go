package sanitize

import (
	"path"
	"regexp"
	"strings"
	"unicode"
)

var (
	controlChars   = regexp.MustCompile(`[\x00-\x1f\x7f]`)
	unsafeKeyChars = regexp.MustCompile(`[^a-zA-Z0-9._ -]`)
	searchSpaces   = regexp.MustCompile(`\s+`)
)

// SanitizeFilename sanitizes filename input
func SanitizeFilename(filename string) string {
	filename = strings.TrimSpace(filename)
	// Remove path traversal attempts
	filename = strings.ReplaceAll(filename, "\\", "/")
	filename = path.Base(filename)
	if filename == "." || filename == ".." || filename == "/" {
		return ""
	}
	filename = controlChars.ReplaceAllString(filename, "")
	return filename
}

// ObjectKeySegment makes a filename safe to embed in an object key
func ObjectKeySegment(filename string) string {
	name := SanitizeFilename(filename)
	name = unsafeKeyChars.ReplaceAllString(name, "_")
	name = strings.ReplaceAll(name, " ", "_")
	if name == "" {
		return "file"
	}
	return name
}

// StripControlCharacters removes control characters from string, keeping newlines
func StripControlCharacters(input string) string {
	var result strings.Builder
	result.Grow(len(input))
	for _, r := range input {
		if r == '\n' || r == '\t' || !unicode.IsControl(r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// NormalizeSearch lowercases and collapses whitespace in a search query
func NormalizeSearch(q string) string {
	return strings.ToLower(strings.TrimSpace(searchSpaces.ReplaceAllString(q, " ")))
}

// Truncate cuts s to at most n runes
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
