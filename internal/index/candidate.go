// Package index implements the two ranking passes of the resolution
// cascade: a coarse entity/CVE overlap shortlist and a weighted full-text
// similarity score over Postgres tsvector columns.
package index

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/sentry/internal/db"
)

// Facets are the structured handles extracted from a candidate.
type Facets struct {
	EntityNames []string
	CVEIDs      []string
}

// Empty reports whether the candidate carries no structured handles at all,
// in which case the shortlist stage is skipped entirely.
func (f Facets) Empty() bool {
	return len(f.EntityNames) == 0 && len(f.CVEIDs) == 0
}

// Entry is one corpus article surfaced by either ranking pass.
type Entry struct {
	ArticleID       int64
	Slug            string
	Headline        string
	Summary         string
	PublishedAt     *time.Time
	CoarseScore     float64
	MatchedEntities []string
	MatchedCVEs     []string
	Similarity      float64
}

// CandidateIndex shortlists corpus articles by shared entities and CVEs.
// CVE overlap weighs heavier than entity overlap: two stories naming the
// same CVE are far more likely to be the same story than two naming the
// same vendor.
type CandidateIndex struct {
	pool         *db.Pool
	cveWeight    float64
	entityWeight float64
	logger       zerolog.Logger
}

func NewCandidateIndex(pool *db.Pool, cveWeight, entityWeight float64, logger zerolog.Logger) *CandidateIndex {
	return &CandidateIndex{
		pool:         pool,
		cveWeight:    cveWeight,
		entityWeight: entityWeight,
		logger:       logger,
	}
}

// Shortlist returns articles published after since that share at least one
// entity or CVE with the candidate, ordered by overlap score descending.
// Empty facets produce an empty shortlist without touching the database.
func (x *CandidateIndex) Shortlist(ctx context.Context, facets Facets, since time.Time) ([]Entry, error) {
	if x == nil || x.pool == nil {
		return nil, fmt.Errorf("candidate index is not initialized")
	}
	if facets.Empty() {
		return nil, nil
	}

	byID := make(map[int64]*Entry)

	if len(facets.EntityNames) > 0 {
		names := lowerAll(facets.EntityNames)
		const q = `
SELECT ae.article_id, ae.name, a.slug, a.headline, a.summary, a.published_at
FROM intel.article_entities ae
JOIN intel.articles a ON a.article_id = ae.article_id
WHERE lower(ae.name) = ANY($1)
  AND COALESCE(a.published_at, a.created_at) >= $2
`
		if err := x.collectMatches(ctx, q, names, since, byID, false); err != nil {
			return nil, fmt.Errorf("entity shortlist: %w", err)
		}
	}

	if len(facets.CVEIDs) > 0 {
		ids := upperAll(facets.CVEIDs)
		const q = `
SELECT ac.article_id, ac.cve_id, a.slug, a.headline, a.summary, a.published_at
FROM intel.article_cves ac
JOIN intel.articles a ON a.article_id = ac.article_id
WHERE ac.cve_id = ANY($1)
  AND COALESCE(a.published_at, a.created_at) >= $2
`
		if err := x.collectMatches(ctx, q, ids, since, byID, true); err != nil {
			return nil, fmt.Errorf("cve shortlist: %w", err)
		}
	}

	entries := make([]Entry, 0, len(byID))
	for _, entry := range byID {
		entry.CoarseScore = x.cveWeight*float64(len(entry.MatchedCVEs)) + x.entityWeight*float64(len(entry.MatchedEntities))
		entries = append(entries, *entry)
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].CoarseScore != entries[j].CoarseScore {
			return entries[i].CoarseScore > entries[j].CoarseScore
		}
		ti, tj := publishedOrZero(entries[i]), publishedOrZero(entries[j])
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return entries[i].ArticleID < entries[j].ArticleID
	})

	x.logger.Debug().
		Int("entities", len(facets.EntityNames)).
		Int("cves", len(facets.CVEIDs)).
		Int("shortlisted", len(entries)).
		Msg("candidate shortlist built")

	return entries, nil
}

func (x *CandidateIndex) collectMatches(ctx context.Context, q string, terms []string, since time.Time, byID map[int64]*Entry, cve bool) error {
	rows, err := x.pool.Query(ctx, q, terms, since.UTC())
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			articleID   int64
			matched     string
			slug        string
			headline    string
			summary     string
			publishedAt *time.Time
		)
		if err := rows.Scan(&articleID, &matched, &slug, &headline, &summary, &publishedAt); err != nil {
			return fmt.Errorf("scan shortlist row: %w", err)
		}
		entry, ok := byID[articleID]
		if !ok {
			entry = &Entry{
				ArticleID:   articleID,
				Slug:        slug,
				Headline:    headline,
				Summary:     summary,
				PublishedAt: publishedAt,
			}
			byID[articleID] = entry
		}
		if cve {
			entry.MatchedCVEs = append(entry.MatchedCVEs, matched)
		} else {
			entry.MatchedEntities = append(entry.MatchedEntities, matched)
		}
	}
	return rows.Err()
}

func lowerAll(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]bool, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

func upperAll(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]bool, len(values))
	for _, v := range values {
		v = strings.ToUpper(strings.TrimSpace(v))
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

func publishedOrZero(e Entry) time.Time {
	if e.PublishedAt == nil {
		return time.Time{}
	}
	return *e.PublishedAt
}
