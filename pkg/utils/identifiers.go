package utils

import "strings"

// Slugify makes a name safe for directory and Docker volume naming.
// Lowercases, converts spaces to dashes, and strips anything outside
// [a-z0-9-_]. An input that reduces to nothing becomes "project".
func Slugify(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = strings.ReplaceAll(s, " ", "-")

	var b strings.Builder
	for _, ch := range s {
		if (ch >= 'a' && ch <= 'z') || (ch >= '0' && ch <= '9') || ch == '-' || ch == '_' {
			b.WriteRune(ch)
		}
	}
	if b.Len() == 0 {
		return "project"
	}
	return b.String()
}

// Dedupe removes duplicates from a slice while preserving first-seen order.
func Dedupe(seq []string) []string {
	seen := make(map[string]bool, len(seq))
	ordered := make([]string, 0, len(seq))
	for _, item := range seq {
		if seen[item] {
			continue
		}
		seen[item] = true
		ordered = append(ordered, item)
	}
	return ordered
}

// SanitizeIdentifier makes an identifier safe for Docker volume names and
// filesystem paths. Volume names must match [a-zA-Z0-9][a-zA-Z0-9_.-]*.
func SanitizeIdentifier(id string) string {
	sanitized := strings.ReplaceAll(id, ":", "-")
	sanitized = strings.ReplaceAll(sanitized, " ", "-")
	sanitized = strings.ReplaceAll(sanitized, "/", "-")
	sanitized = strings.ReplaceAll(sanitized, "\\", "-")
	return sanitized
}
