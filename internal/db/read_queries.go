package db

import (
	"context"
	"fmt"
	"time"
)

// ArticleListItem is used by the articles CLI command and the read API.
type ArticleListItem struct {
	ArticleID   int64      `json:"article_id"`
	ArticleUUID string     `json:"article_uuid"`
	Slug        string     `json:"slug"`
	Headline    string     `json:"headline"`
	Source      string     `json:"source"`
	SourceURL   *string    `json:"source_url,omitempty"`
	Language    string     `json:"language"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	UpdateCount int64      `json:"update_count"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// ArticleDetail adds facets and merge history to a listed article.
type ArticleDetail struct {
	Article  ArticleListItem     `json:"article"`
	Summary  string              `json:"summary"`
	Entities []ArticleFacet      `json:"entities"`
	CVEs     []ArticleCVEFacet   `json:"cves"`
	Updates  []ArticleUpdateItem `json:"updates"`
}

type ArticleFacet struct {
	Name       string `json:"name"`
	EntityType string `json:"entity_type"`
}

type ArticleCVEFacet struct {
	CVEID    string   `json:"cve_id"`
	Severity *string  `json:"severity,omitempty"`
	Score    *float64 `json:"score,omitempty"`
}

type ArticleUpdateItem struct {
	UpdateUUID string    `json:"update_uuid"`
	Source     string    `json:"source"`
	SourceURL  *string   `json:"source_url,omitempty"`
	Summary    string    `json:"summary"`
	CreatedAt  time.Time `json:"created_at"`
}

// ResolutionListItem is one ledger row for the resolutions CLI command and
// the read API.
type ResolutionListItem struct {
	EventUUID        string    `json:"event_uuid"`
	CandidateSource  string    `json:"candidate_source"`
	CandidateItemID  string    `json:"candidate_item_id"`
	Resolution       string    `json:"resolution"`
	SimilarityScore  *float64  `json:"similarity_score,omitempty"`
	CoarseScore      *float64  `json:"coarse_score,omitempty"`
	MatchedArticleID *int64    `json:"matched_article_id,omitempty"`
	ArticleID        *int64    `json:"article_id,omitempty"`
	SkipReasoning    *string   `json:"skip_reasoning,omitempty"`
	DecidedBy        string    `json:"decided_by"`
	JudgeError       *string   `json:"judge_error,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// SearchResult is an ad-hoc full-text hit for the search CLI command.
type SearchResult struct {
	ArticleID   int64      `json:"article_id"`
	Slug        string     `json:"slug"`
	Headline    string     `json:"headline"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	Rank        float64    `json:"rank"`
}

// ListArticles lists articles created within a UTC window, newest first.
func (p *Pool) ListArticles(ctx context.Context, from, to time.Time, limit int) ([]ArticleListItem, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be > 0")
	}
	if !from.UTC().Before(to.UTC()) {
		return nil, fmt.Errorf("from must be before to")
	}

	const q = `
SELECT
	a.article_id,
	a.article_uuid::text,
	a.slug,
	a.headline,
	a.source,
	a.source_url,
	a.language,
	a.published_at,
	(SELECT COUNT(*) FROM intel.article_updates u WHERE u.article_id = a.article_id) AS update_count,
	a.created_at,
	a.updated_at
FROM intel.articles a
WHERE a.created_at >= $1
  AND a.created_at < $2
ORDER BY a.created_at DESC, a.article_id DESC
LIMIT $3
`

	rows, err := p.Query(ctx, q, from.UTC(), to.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("query articles: %w", err)
	}
	defer rows.Close()

	items := make([]ArticleListItem, 0, limit)
	for rows.Next() {
		var row ArticleListItem
		if err := rows.Scan(
			&row.ArticleID,
			&row.ArticleUUID,
			&row.Slug,
			&row.Headline,
			&row.Source,
			&row.SourceURL,
			&row.Language,
			&row.PublishedAt,
			&row.UpdateCount,
			&row.CreatedAt,
			&row.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan article row: %w", err)
		}
		items = append(items, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate article rows: %w", err)
	}

	return items, nil
}

// GetArticleBySlug returns one article with its facets and merge history.
// Returns ErrNoRows when the slug is unknown.
func (p *Pool) GetArticleBySlug(ctx context.Context, slug string) (*ArticleDetail, error) {
	const q = `
SELECT
	a.article_id,
	a.article_uuid::text,
	a.slug,
	a.headline,
	a.summary,
	a.source,
	a.source_url,
	a.language,
	a.published_at,
	(SELECT COUNT(*) FROM intel.article_updates u WHERE u.article_id = a.article_id) AS update_count,
	a.created_at,
	a.updated_at
FROM intel.articles a
WHERE a.slug = $1
`

	var detail ArticleDetail
	err := p.QueryRow(ctx, q, slug).Scan(
		&detail.Article.ArticleID,
		&detail.Article.ArticleUUID,
		&detail.Article.Slug,
		&detail.Article.Headline,
		&detail.Summary,
		&detail.Article.Source,
		&detail.Article.SourceURL,
		&detail.Article.Language,
		&detail.Article.PublishedAt,
		&detail.Article.UpdateCount,
		&detail.Article.CreatedAt,
		&detail.Article.UpdatedAt,
	)
	if err != nil {
		if IsNoRows(err) {
			return nil, ErrNoRows
		}
		return nil, fmt.Errorf("query article by slug: %w", err)
	}

	entities, cves, err := p.articleFacets(ctx, detail.Article.ArticleID)
	if err != nil {
		return nil, err
	}
	detail.Entities = entities
	detail.CVEs = cves

	updates, err := p.articleUpdates(ctx, detail.Article.ArticleID)
	if err != nil {
		return nil, err
	}
	detail.Updates = updates

	return &detail, nil
}

func (p *Pool) articleFacets(ctx context.Context, articleID int64) ([]ArticleFacet, []ArticleCVEFacet, error) {
	const entityQ = `
SELECT ae.name, ae.entity_type
FROM intel.article_entities ae
WHERE ae.article_id = $1
ORDER BY ae.name
`
	rows, err := p.Query(ctx, entityQ, articleID)
	if err != nil {
		return nil, nil, fmt.Errorf("query article entities: %w", err)
	}
	defer rows.Close()

	entities := make([]ArticleFacet, 0, 8)
	for rows.Next() {
		var facet ArticleFacet
		if err := rows.Scan(&facet.Name, &facet.EntityType); err != nil {
			return nil, nil, fmt.Errorf("scan article entity: %w", err)
		}
		entities = append(entities, facet)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate article entities: %w", err)
	}

	const cveQ = `
SELECT ac.cve_id, ac.severity, ac.score
FROM intel.article_cves ac
WHERE ac.article_id = $1
ORDER BY ac.cve_id
`
	cveRows, err := p.Query(ctx, cveQ, articleID)
	if err != nil {
		return nil, nil, fmt.Errorf("query article cves: %w", err)
	}
	defer cveRows.Close()

	cves := make([]ArticleCVEFacet, 0, 4)
	for cveRows.Next() {
		var facet ArticleCVEFacet
		if err := cveRows.Scan(&facet.CVEID, &facet.Severity, &facet.Score); err != nil {
			return nil, nil, fmt.Errorf("scan article cve: %w", err)
		}
		cves = append(cves, facet)
	}
	if err := cveRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate article cves: %w", err)
	}

	return entities, cves, nil
}

func (p *Pool) articleUpdates(ctx context.Context, articleID int64) ([]ArticleUpdateItem, error) {
	const q = `
SELECT u.update_uuid::text, u.source, u.source_url, u.summary, u.created_at
FROM intel.article_updates u
WHERE u.article_id = $1
ORDER BY u.created_at DESC
`
	rows, err := p.Query(ctx, q, articleID)
	if err != nil {
		return nil, fmt.Errorf("query article updates: %w", err)
	}
	defer rows.Close()

	updates := make([]ArticleUpdateItem, 0, 4)
	for rows.Next() {
		var item ArticleUpdateItem
		if err := rows.Scan(&item.UpdateUUID, &item.Source, &item.SourceURL, &item.Summary, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan article update: %w", err)
		}
		updates = append(updates, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate article updates: %w", err)
	}

	return updates, nil
}

// ListResolutions lists ledger rows newest first, optionally filtered to one
// resolution value.
func (p *Pool) ListResolutions(ctx context.Context, resolution string, limit int) ([]ResolutionListItem, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be > 0")
	}

	const q = `
SELECT
	e.event_uuid::text,
	e.candidate_source,
	e.candidate_item_id,
	e.resolution::text,
	e.similarity_score,
	e.coarse_score,
	e.matched_article_id,
	e.article_id,
	e.skip_reasoning,
	e.decided_by,
	e.judge_error,
	e.created_at
FROM intel.resolution_events e
WHERE ($1 = '' OR e.resolution::text = $1)
ORDER BY e.created_at DESC, e.event_id DESC
LIMIT $2
`

	rows, err := p.Query(ctx, q, resolution, limit)
	if err != nil {
		return nil, fmt.Errorf("query resolution events: %w", err)
	}
	defer rows.Close()

	items := make([]ResolutionListItem, 0, limit)
	for rows.Next() {
		var row ResolutionListItem
		if err := rows.Scan(
			&row.EventUUID,
			&row.CandidateSource,
			&row.CandidateItemID,
			&row.Resolution,
			&row.SimilarityScore,
			&row.CoarseScore,
			&row.MatchedArticleID,
			&row.ArticleID,
			&row.SkipReasoning,
			&row.DecidedBy,
			&row.JudgeError,
			&row.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan resolution event: %w", err)
		}
		items = append(items, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate resolution events: %w", err)
	}

	return items, nil
}

// SearchArticles runs an ad-hoc websearch query over the headline index.
func (p *Pool) SearchArticles(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be > 0")
	}

	const q = `
SELECT
	a.article_id,
	a.slug,
	a.headline,
	a.published_at,
	ts_rank(a.headline_tsv, websearch_to_tsquery('english', $1), 32)::double precision AS rank
FROM intel.articles a
WHERE a.headline_tsv @@ websearch_to_tsquery('english', $1)
ORDER BY rank DESC, a.published_at DESC NULLS LAST
LIMIT $2
`

	rows, err := p.Query(ctx, q, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query article search: %w", err)
	}
	defer rows.Close()

	results := make([]SearchResult, 0, limit)
	for rows.Next() {
		var row SearchResult
		if err := rows.Scan(&row.ArticleID, &row.Slug, &row.Headline, &row.PublishedAt, &row.Rank); err != nil {
			return nil, fmt.Errorf("scan search result: %w", err)
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate search results: %w", err)
	}

	return results, nil
}
