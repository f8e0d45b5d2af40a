package payloadschema

import (
	"encoding/json"
	"strings"
	"testing"
)

func validPayload() string {
	return `{
		"payload_version": "v1",
		"source": "feed-a",
		"source_item_id": "item-1",
		"headline": "Critical flaw exploited in the wild",
		"summary": "Short summary",
		"report": "Longer report body",
		"source_url": "https://example.com/a/1",
		"published_at": "2026-08-01T10:30:00Z",
		"language": "en",
		"entities": [
			{"name": "LockBit", "type": "threat_actor"},
			{"name": "Cisco", "type": "vendor"}
		],
		"cves": [
			{"id": "CVE-2026-11111", "severity": "critical", "score": 9.8}
		]
	}`
}

func TestValidateCandidatePayload_Valid(t *testing.T) {
	t.Parallel()

	candidate, err := ValidateCandidatePayload(json.RawMessage(validPayload()))
	if err != nil {
		t.Fatalf("expected valid payload, got %v", err)
	}
	if candidate.Source != "feed-a" || candidate.SourceItemID != "item-1" {
		t.Fatalf("unexpected identity: %s/%s", candidate.Source, candidate.SourceItemID)
	}
	if len(candidate.Entities) != 2 || len(candidate.CVEs) != 1 {
		t.Fatalf("unexpected facets: %d entities, %d cves", len(candidate.Entities), len(candidate.CVEs))
	}
	if candidate.CVEs[0].Score == nil || *candidate.CVEs[0].Score != 9.8 {
		t.Fatalf("unexpected cve score: %v", candidate.CVEs[0].Score)
	}
}

func TestValidateCandidatePayload_TextOptional(t *testing.T) {
	t.Parallel()

	// Whether a text-less candidate is usable is decided by the resolution
	// pipeline, not the schema.
	payload := `{"payload_version": "v1", "source": "feed-a", "source_item_id": "item-2"}`
	if _, err := ValidateCandidatePayload(json.RawMessage(payload)); err != nil {
		t.Fatalf("expected schema to accept text-less payload, got %v", err)
	}
}

func TestValidateCandidatePayload_Rejections(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"empty payload":        ``,
		"malformed json":       `{"payload_version":`,
		"trailing content":     validPayload() + `{}`,
		"missing version":      `{"source": "feed-a", "source_item_id": "item-1"}`,
		"wrong version":        `{"payload_version": "v2", "source": "feed-a", "source_item_id": "item-1"}`,
		"blank source":         `{"payload_version": "v1", "source": "  ", "source_item_id": "item-1"}`,
		"blank item id":        `{"payload_version": "v1", "source": "feed-a", "source_item_id": ""}`,
		"bad cve id":           `{"payload_version": "v1", "source": "feed-a", "source_item_id": "item-1", "cves": [{"id": "CVE-BAD"}]}`,
		"bad entity type":      `{"payload_version": "v1", "source": "feed-a", "source_item_id": "item-1", "entities": [{"name": "x", "type": "country"}]}`,
		"bad published_at":     `{"payload_version": "v1", "source": "feed-a", "source_item_id": "item-1", "published_at": "yesterday"}`,
		"cve score above ten":  `{"payload_version": "v1", "source": "feed-a", "source_item_id": "item-1", "cves": [{"id": "CVE-2026-11111", "score": 11}]}`,
	}

	for name, payload := range cases {
		if _, err := ValidateCandidatePayload(json.RawMessage(payload)); err == nil {
			t.Fatalf("expected rejection for %s", name)
		}
	}
}

func TestValidateCandidatePayload_BadSourceURL(t *testing.T) {
	t.Parallel()

	payload := strings.Replace(validPayload(), "https://example.com/a/1", "not a url", 1)
	if _, err := ValidateCandidatePayload(json.RawMessage(payload)); err == nil {
		t.Fatalf("expected rejection for invalid source_url")
	}
}
