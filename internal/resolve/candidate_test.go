package resolve

import (
	"bytes"
	"testing"

	"horse.fit/sentry/internal/store"
	payloadschema "horse.fit/sentry/schema"
)

func TestCandidateFromPayload(t *testing.T) {
	t.Parallel()

	published := "2026-08-01T10:30:00Z"
	language := "EN_us"
	payload := &payloadschema.Candidate{
		PayloadVersion: "1",
		Source:         "feed-a",
		SourceItemID:   "item-9",
		Headline:       "New ransomware campaign",
		PublishedAt:    &published,
		Language:       &language,
		Entities:       []payloadschema.Entity{{Name: "LockBit", Type: "threat_actor"}},
		CVEs:           []payloadschema.CVE{{ID: "CVE-2026-11111"}},
	}

	cand := CandidateFromPayload(payload, nil)
	if cand.Source != "feed-a" || cand.SourceItemID != "item-9" {
		t.Fatalf("unexpected identity: %s/%s", cand.Source, cand.SourceItemID)
	}
	if cand.Language != "en-us" {
		t.Fatalf("expected normalized language tag, got %q", cand.Language)
	}
	if cand.PublishedAt == nil || cand.PublishedAt.Hour() != 10 {
		t.Fatalf("expected parsed publish timestamp, got %v", cand.PublishedAt)
	}
	if len(cand.Entities) != 1 || cand.Entities[0].Name != "LockBit" {
		t.Fatalf("unexpected entities: %v", cand.Entities)
	}
	if len(cand.CVEs) != 1 || cand.CVEs[0].ID != "CVE-2026-11111" {
		t.Fatalf("unexpected cves: %v", cand.CVEs)
	}
}

func TestCandidateFromPayload_DetectsLanguageWhenUndeclared(t *testing.T) {
	t.Parallel()

	payload := &payloadschema.Candidate{
		Source:       "feed-a",
		SourceItemID: "item-10",
		Headline:     "Botnet dismantled",
	}

	cand := CandidateFromPayload(payload, func(string) string { return "en" })
	if cand.Language != "en" {
		t.Fatalf("expected detected language, got %q", cand.Language)
	}

	noText := CandidateFromPayload(&payloadschema.Candidate{Source: "a", SourceItemID: "b"}, func(string) string {
		t.Fatalf("detector must not run without text")
		return ""
	})
	if noText.Language != "" {
		t.Fatalf("expected empty language without text, got %q", noText.Language)
	}
}

func TestCandidateHash_StableAndContentSensitive(t *testing.T) {
	t.Parallel()

	cand := Candidate{Source: "feed-a", SourceItemID: "1", Headline: "alpha"}
	if !bytes.Equal(cand.Hash(), cand.Hash()) {
		t.Fatalf("expected deterministic hash")
	}

	other := cand
	other.Headline = "beta"
	if bytes.Equal(cand.Hash(), other.Hash()) {
		t.Fatalf("expected different hash for different headline")
	}

	// Field boundaries matter: "ab"+"c" and "a"+"bc" must not collide.
	left := Candidate{Source: "ab", SourceItemID: "c"}
	right := Candidate{Source: "a", SourceItemID: "bc"}
	if bytes.Equal(left.Hash(), right.Hash()) {
		t.Fatalf("expected field separation in hash input")
	}
}

func TestCandidateHasTextAndFacets(t *testing.T) {
	t.Parallel()

	if (Candidate{}).HasText() {
		t.Fatalf("expected empty candidate to have no text")
	}
	if !(Candidate{Report: "body"}).HasText() {
		t.Fatalf("expected report field to count as text")
	}

	if !(Candidate{}).Facets().Empty() {
		t.Fatalf("expected empty facets")
	}
	withEntity := Candidate{Entities: []store.Entity{{Name: " APT29 ", Type: "threat_actor"}}}
	if withEntity.Facets().Empty() {
		t.Fatalf("expected non-empty facets")
	}
	blankEntity := Candidate{Entities: []store.Entity{{Name: "   "}}}
	if !blankEntity.Facets().Empty() {
		t.Fatalf("expected blank entity names to be ignored")
	}
}
