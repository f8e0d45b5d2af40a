package store

import (
	"strings"
	"unicode"
)

const maxSlugLen = 80

// Slugify turns a headline into a URL-safe slug: lowercase, runs of
// non-alphanumerics collapsed to single hyphens, trimmed, capped. An empty
// or fully-symbolic headline falls back to "article".
func Slugify(headline string) string {
	var b strings.Builder
	b.Grow(len(headline))

	pendingHyphen := false
	for _, r := range strings.ToLower(headline) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingHyphen && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingHyphen = false
			b.WriteRune(r)
			continue
		}
		pendingHyphen = true
	}

	slug := b.String()
	if runes := []rune(slug); len(runes) > maxSlugLen {
		slug = strings.TrimRight(string(runes[:maxSlugLen]), "-")
	}
	if slug == "" {
		return "article"
	}
	return slug
}
