package store

import (
	"strings"
	"testing"
)

func TestSlugify(t *testing.T) {
	t.Parallel()

	if got := Slugify("Lazarus Targets Defense Sector With New Backdoor"); got != "lazarus-targets-defense-sector-with-new-backdoor" {
		t.Fatalf("unexpected slug: %q", got)
	}
	if got := Slugify("CVE-2026-11111: PoC released!"); got != "cve-2026-11111-poc-released" {
		t.Fatalf("unexpected slug: %q", got)
	}
	if got := Slugify("  ---  "); got != "article" {
		t.Fatalf("expected fallback slug, got %q", got)
	}
	if got := Slugify(""); got != "article" {
		t.Fatalf("expected fallback slug for empty headline, got %q", got)
	}
}

func TestSlugify_CapsLength(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("vulnerability ", 20)
	slug := Slugify(long)
	if len([]rune(slug)) > maxSlugLen {
		t.Fatalf("slug exceeds cap: %d runes", len([]rune(slug)))
	}
	if strings.HasSuffix(slug, "-") {
		t.Fatalf("slug has trailing hyphen: %q", slug)
	}
}
