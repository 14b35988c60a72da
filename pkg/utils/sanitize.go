package utils

import (
	"regexp"
	"strings"
)

var invalidSegmentChars = regexp.MustCompile(`[<>:"\\|?*\x00-\x1F]`) // Characters not allowed inside a path segment
var consecutiveUnderscores = regexp.MustCompile(`_+`)
var whitespaceRun = regexp.MustCompile(`\s`)

const maxSegmentLength = 200

// SanitizeSegment cleans a single archive path segment so it can be used as
// a file or directory name on disk.
func SanitizeSegment(name string) string {
	sanitized := invalidSegmentChars.ReplaceAllString(name, "_")
	sanitized = consecutiveUnderscores.ReplaceAllString(sanitized, "_")
	sanitized = strings.Trim(sanitized, " ")

	if len(sanitized) > maxSegmentLength {
		sanitized = strings.Trim(sanitized[:maxSegmentLength], "_ ")
	}

	if sanitized == "" || sanitized == "." || sanitized == ".." {
		sanitized = "untitled"
	}
	return sanitized
}

// SanitizePath sanitizes every "/"-separated segment of an archive path.
// Empty segments are dropped so the result never escapes its root.
func SanitizePath(p string) string {
	parts := strings.Split(p, "/")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			continue
		}
		out = append(out, SanitizeSegment(part))
	}
	return strings.Join(out, "/")
}

// TitleToKey derives the entity key of a titled entity (category, info):
// lower case, every whitespace character replaced by "_".
func TitleToKey(title string) string {
	return whitespaceRun.ReplaceAllString(strings.ToLower(title), "_")
}
