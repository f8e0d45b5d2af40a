package index

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"horse.fit/sentry/internal/db"
)

// maxQueryTokens caps how much of a long report feeds into a tsquery. The
// leading tokens of security writeups carry the identifying material
// (actor, product, CVE); the tail is boilerplate.
const maxQueryTokens = 64

// TextQuery is the candidate text fed to the similarity pass.
type TextQuery struct {
	Headline string
	Summary  string
	Report   string
}

// Weights control how much each field contributes to the blended score.
type Weights struct {
	Headline float64
	Summary  float64
	Report   float64
}

func (w Weights) total() float64 {
	return w.Headline + w.Summary + w.Report
}

// SimilarityIndex scores candidate text against stored articles using the
// generated tsvector columns. Scores are normalized into [0,1) so they are
// comparable against fixed thresholds regardless of document length.
type SimilarityIndex struct {
	pool    *db.Pool
	weights Weights
}

func NewSimilarityIndex(pool *db.Pool, weights Weights) (*SimilarityIndex, error) {
	if weights.total() <= 0 {
		return nil, fmt.Errorf("similarity weights must sum to > 0")
	}
	return &SimilarityIndex{pool: pool, weights: weights}, nil
}

// Score ranks the given article ids by blended text similarity to the
// candidate, best first. Articles whose ids are absent from the corpus are
// silently dropped. An empty id set or an all-stopword candidate yields an
// empty result.
func (x *SimilarityIndex) Score(ctx context.Context, text TextQuery, ids []int64) ([]Entry, error) {
	if x == nil || x.pool == nil {
		return nil, fmt.Errorf("similarity index is not initialized")
	}
	if len(ids) == 0 {
		return nil, nil
	}

	headlineQ := orQuery(text.Headline)
	summaryQ := orQuery(text.Summary)
	reportQ := orQuery(text.Report)
	if headlineQ == "" && summaryQ == "" && reportQ == "" {
		return nil, nil
	}

	const q = `
SELECT
	a.article_id,
	a.slug,
	a.headline,
	a.summary,
	a.published_at,
	((
		$2::double precision * CASE WHEN $5 = '' THEN 0 ELSE ts_rank(a.headline_tsv, to_tsquery('english', $5), 32) END +
		$3::double precision * CASE WHEN $6 = '' THEN 0 ELSE ts_rank(a.summary_tsv, to_tsquery('english', $6), 32) END +
		$4::double precision * CASE WHEN $7 = '' THEN 0 ELSE ts_rank(a.report_tsv, to_tsquery('english', $7), 32) END
	) / ($2 + $3 + $4))::double precision AS similarity
FROM intel.articles a
WHERE a.article_id = ANY($1)
ORDER BY similarity DESC, a.published_at DESC NULLS LAST, a.article_id
`

	rows, err := x.pool.Query(ctx, q, ids, x.weights.Headline, x.weights.Summary, x.weights.Report, headlineQ, summaryQ, reportQ)
	if err != nil {
		return nil, fmt.Errorf("query similarity: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, len(ids))
	for rows.Next() {
		var entry Entry
		if err := rows.Scan(&entry.ArticleID, &entry.Slug, &entry.Headline, &entry.Summary, &entry.PublishedAt, &entry.Similarity); err != nil {
			return nil, fmt.Errorf("scan similarity row: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate similarity rows: %w", err)
	}

	return entries, nil
}

// orQuery lowers the text into an OR-joined tsquery so partial overlap
// still scores, instead of the all-terms-must-match semantics of
// plainto_tsquery. Tokens are deduplicated and capped.
func orQuery(text string) string {
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return ""
	}
	return strings.Join(tokens, " | ")
}

func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	seen := make(map[string]bool, len(fields))
	tokens := make([]string, 0, len(fields))
	for _, field := range fields {
		if len(field) < 2 || seen[field] {
			continue
		}
		seen[field] = true
		tokens = append(tokens, field)
		if len(tokens) == maxQueryTokens {
			break
		}
	}
	sort.Strings(tokens)
	return tokens
}
