package resolve

import (
	"crypto/sha256"
	"strings"
	"time"

	"horse.fit/sentry/internal/index"
	"horse.fit/sentry/internal/langdetect"
	"horse.fit/sentry/internal/store"
	payloadschema "horse.fit/sentry/schema"
)

// Candidate is a validated incoming item, not yet part of the corpus.
type Candidate struct {
	Source       string
	SourceItemID string
	SourceURL    *string
	Headline     string
	Summary      string
	Report       string
	Language     string
	PublishedAt  *time.Time
	Entities     []store.Entity
	CVEs         []store.CVE
}

// CandidateFromPayload builds a Candidate from a validated extraction
// payload. When the payload does not declare a language, detectLanguage is
// consulted with the candidate's text; pass nil to skip detection.
func CandidateFromPayload(payload *payloadschema.Candidate, detectLanguage func(string) string) Candidate {
	cand := Candidate{
		Source:       payload.Source,
		SourceItemID: payload.SourceItemID,
		SourceURL:    payload.SourceURL,
		Headline:     payload.Headline,
		Summary:      payload.Summary,
		Report:       payload.Report,
	}

	if payload.PublishedAt != nil {
		if ts, err := time.Parse(time.RFC3339, *payload.PublishedAt); err == nil {
			utc := ts.UTC()
			cand.PublishedAt = &utc
		}
	}

	if payload.Language != nil {
		cand.Language = langdetect.NormalizeTag(*payload.Language)
	}
	if cand.Language == "" && detectLanguage != nil && cand.HasText() {
		cand.Language = detectLanguage(strings.TrimSpace(cand.Headline + " " + cand.Summary))
	}

	for _, entity := range payload.Entities {
		cand.Entities = append(cand.Entities, store.Entity{Name: entity.Name, Type: entity.Type})
	}
	for _, cve := range payload.CVEs {
		cand.CVEs = append(cand.CVEs, store.CVE{ID: cve.ID, Severity: cve.Severity, Score: cve.Score})
	}

	return cand
}

// HasText reports whether any of the comparable text fields is non-empty.
func (c Candidate) HasText() bool {
	return strings.TrimSpace(c.Headline) != "" ||
		strings.TrimSpace(c.Summary) != "" ||
		strings.TrimSpace(c.Report) != ""
}

// Facets returns the structured handles used by the shortlist stage.
func (c Candidate) Facets() index.Facets {
	facets := index.Facets{}
	for _, entity := range c.Entities {
		if name := strings.TrimSpace(entity.Name); name != "" {
			facets.EntityNames = append(facets.EntityNames, name)
		}
	}
	for _, cve := range c.CVEs {
		if id := strings.TrimSpace(cve.ID); id != "" {
			facets.CVEIDs = append(facets.CVEIDs, id)
		}
	}
	return facets
}

// Text returns the candidate fields fed to the similarity stage.
func (c Candidate) Text() index.TextQuery {
	return index.TextQuery{
		Headline: c.Headline,
		Summary:  c.Summary,
		Report:   c.Report,
	}
}

// Hash fingerprints the comparable content of the candidate for the
// resolution ledger. Rerunning the same candidate yields the same hash, so
// repeated passes over a feed are auditable.
func (c Candidate) Hash() []byte {
	h := sha256.New()
	for _, part := range []string{c.Source, c.SourceItemID, c.Headline, c.Summary, c.Report} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	sum := h.Sum(nil)
	return sum
}
