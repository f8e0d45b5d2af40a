package langdetect

import "strings"

// NormalizeTag canonicalizes a declared language tag: lowercase, hyphen
// separators, empty on anything that is not plain ASCII letters. Upstream
// feeds declare languages as "en", "en_US", or "EN-us" interchangeably.
func NormalizeTag(raw string) string {
	trimmed := strings.ToLower(strings.TrimSpace(raw))
	if trimmed == "" {
		return ""
	}

	parts := strings.FieldsFunc(trimmed, func(r rune) bool {
		return r == '-' || r == '_'
	})
	if len(parts) == 0 {
		return ""
	}

	for _, part := range parts {
		for _, r := range part {
			if r < 'a' || r > 'z' {
				return ""
			}
		}
	}
	return strings.Join(parts, "-")
}
