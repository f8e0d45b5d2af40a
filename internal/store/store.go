// Package store owns all writes to the article corpus. Every mutation goes
// through CreateArticle or MergeIntoArticle inside a single transaction, so
// concurrent pipeline runs only contend on per-target row locks and the
// slug advisory lock.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/sentry/internal/db"
	"horse.fit/sentry/internal/globaltime"
)

// Resolution values persisted on articles and ledger rows.
const (
	ResolutionNew        = "new"
	ResolutionSkipFTS    = "skip_fts"
	ResolutionSkipLLM    = "skip_llm"
	ResolutionSkipUpdate = "skip_update"
)

// ErrArticleNotFound reports that a merge target disappeared between the
// similarity pass and the merge transaction.
var ErrArticleNotFound = errors.New("article not found")

type Store struct {
	pool   *db.Pool
	logger zerolog.Logger
}

type Entity struct {
	Name string
	Type string
}

type CVE struct {
	ID       string
	Severity *string
	Score    *float64
}

// NewArticle is the payload for a candidate that resolved new.
type NewArticle struct {
	Source       string
	SourceItemID string
	SourceURL    *string
	Headline     string
	Summary      string
	Report       string
	Language     string
	PublishedAt  *time.Time
	Entities     []Entity
	CVEs         []CVE
}

// UpdatePayload is the material appended to a merge target.
type UpdatePayload struct {
	Source       string
	SourceItemID string
	SourceURL    *string
	Summary      string
	Entities     []Entity
	CVEs         []CVE
}

// ResolutionRecord is the persisted verdict for one processed candidate.
// Records are append-only; the ledger is never updated in place.
type ResolutionRecord struct {
	CandidateSource  string
	CandidateItemID  string
	CandidateHash    []byte
	Resolution       string
	SimilarityScore  *float64
	CoarseScore      *float64
	MatchedArticleID *int64
	SkipReasoning    *string
	DecidedBy        string
	JudgeError       *string
}

type CreatedArticle struct {
	ArticleID int64
	Slug      string
}

func New(pool *db.Pool, logger zerolog.Logger) *Store {
	return &Store{
		pool:   pool,
		logger: logger,
	}
}

// RecentArticleIDs returns ids of articles published (or, lacking a publish
// date, created) after since, newest first, bounded by limit. This is the
// fallback corpus for the text stage when entity overlap finds nothing.
func (s *Store) RecentArticleIDs(ctx context.Context, since time.Time, limit int) ([]int64, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("store is not initialized")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be > 0")
	}

	const q = `
SELECT a.article_id
FROM intel.articles a
WHERE COALESCE(a.published_at, a.created_at) >= $1
ORDER BY COALESCE(a.published_at, a.created_at) DESC, a.article_id DESC
LIMIT $2
`

	rows, err := s.pool.Query(ctx, q, since.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("query recent article ids: %w", err)
	}
	defer rows.Close()

	ids := make([]int64, 0, limit)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan recent article id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recent article ids: %w", err)
	}

	return ids, nil
}

// CreateArticle commits the article row, its facets, and the resolution
// record atomically. The slug is derived from the headline once, here, and
// is never rewritten afterwards.
func (s *Store) CreateArticle(ctx context.Context, article NewArticle, record ResolutionRecord) (CreatedArticle, error) {
	if s == nil || s.pool == nil {
		return CreatedArticle{}, fmt.Errorf("store is not initialized")
	}
	if record.Resolution != ResolutionNew {
		return CreatedArticle{}, fmt.Errorf("create requires resolution=%s, got %s", ResolutionNew, record.Resolution)
	}
	if err := validateRecord(record); err != nil {
		return CreatedArticle{}, err
	}

	now := globaltime.UTC()

	tx, err := s.pool.BeginTx(ctx, db.TxOptions{})
	if err != nil {
		return CreatedArticle{}, fmt.Errorf("begin create tx: %w", err)
	}

	created, err := s.createArticleTx(ctx, tx, article, record, now)
	if err != nil {
		_ = tx.Rollback(ctx)
		return CreatedArticle{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		_ = tx.Rollback(ctx)
		return CreatedArticle{}, fmt.Errorf("commit create tx: %w", err)
	}

	s.logger.Info().
		Int64("article_id", created.ArticleID).
		Str("slug", created.Slug).
		Str("source", article.Source).
		Msg("article created")

	return created, nil
}

func (s *Store) createArticleTx(ctx context.Context, tx db.Tx, article NewArticle, record ResolutionRecord, now time.Time) (CreatedArticle, error) {
	baseSlug := Slugify(article.Headline)

	// Serialize slug derivation across concurrent creates of the same
	// headline. The lock is transaction-scoped and keyed on the base slug.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, baseSlug); err != nil {
		return CreatedArticle{}, fmt.Errorf("acquire slug lock %q: %w", baseSlug, err)
	}

	slug, err := uniqueSlugTx(ctx, tx, baseSlug)
	if err != nil {
		return CreatedArticle{}, err
	}

	language := strings.TrimSpace(article.Language)
	if language == "" {
		language = "und"
	}

	const insertArticle = `
INSERT INTO intel.articles (
	slug,
	source,
	source_item_id,
	source_url,
	headline,
	summary,
	report,
	language,
	published_at,
	resolution,
	similarity_score,
	matched_article_id,
	skip_reasoning,
	created_at,
	updated_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NULL, NULL, $12, $12)
RETURNING article_id
`

	var articleID int64
	err = tx.QueryRow(
		ctx,
		insertArticle,
		slug,
		article.Source,
		article.SourceItemID,
		article.SourceURL,
		article.Headline,
		article.Summary,
		article.Report,
		language,
		article.PublishedAt,
		record.Resolution,
		record.SimilarityScore,
		now,
	).Scan(&articleID)
	if err != nil {
		return CreatedArticle{}, fmt.Errorf("insert article slug=%q: %w", slug, err)
	}

	if err := insertFacetsTx(ctx, tx, articleID, article.Entities, article.CVEs, now); err != nil {
		return CreatedArticle{}, err
	}

	if err := insertResolutionEventTx(ctx, tx, record, &articleID, now); err != nil {
		return CreatedArticle{}, err
	}

	return CreatedArticle{ArticleID: articleID, Slug: slug}, nil
}

// MergeIntoArticle appends the update payload to the target article,
// bumps its modification timestamp, and persists the resolution record,
// all in one transaction under a row lock on the target. Returns
// ErrArticleNotFound when the target no longer exists.
func (s *Store) MergeIntoArticle(ctx context.Context, targetID int64, update UpdatePayload, record ResolutionRecord) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("store is not initialized")
	}
	if record.Resolution != ResolutionSkipUpdate {
		return fmt.Errorf("merge requires resolution=%s, got %s", ResolutionSkipUpdate, record.Resolution)
	}
	if record.MatchedArticleID == nil || *record.MatchedArticleID != targetID {
		return fmt.Errorf("merge record must reference target article %d", targetID)
	}
	if err := validateRecord(record); err != nil {
		return err
	}

	now := globaltime.UTC()

	tx, err := s.pool.BeginTx(ctx, db.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin merge tx: %w", err)
	}

	if err := s.mergeTx(ctx, tx, targetID, update, record, now); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("commit merge tx: %w", err)
	}

	s.logger.Info().
		Int64("article_id", targetID).
		Str("source", update.Source).
		Msg("article merged")

	return nil
}

func (s *Store) mergeTx(ctx context.Context, tx db.Tx, targetID int64, update UpdatePayload, record ResolutionRecord, now time.Time) error {
	var lockedID int64
	err := tx.QueryRow(ctx, `SELECT article_id FROM intel.articles WHERE article_id = $1 FOR UPDATE`, targetID).Scan(&lockedID)
	if err != nil {
		if db.IsNoRows(err) {
			return fmt.Errorf("merge target %d: %w", targetID, ErrArticleNotFound)
		}
		return fmt.Errorf("lock merge target %d: %w", targetID, err)
	}

	if err := insertFacetsTx(ctx, tx, targetID, update.Entities, update.CVEs, now); err != nil {
		return err
	}

	summary := strings.TrimSpace(update.Summary)
	if summary == "" {
		summary = "follow-up coverage merged"
	}

	const insertUpdate = `
INSERT INTO intel.article_updates (
	article_id,
	source,
	source_item_id,
	source_url,
	summary,
	created_at
)
VALUES ($1, $2, $3, $4, $5, $6)
`
	if _, err := tx.Exec(ctx, insertUpdate, targetID, update.Source, update.SourceItemID, update.SourceURL, summary, now); err != nil {
		return fmt.Errorf("insert article update article_id=%d: %w", targetID, err)
	}

	tag, err := tx.Exec(ctx, `UPDATE intel.articles SET updated_at = $1 WHERE article_id = $2`, now, targetID)
	if err != nil {
		return fmt.Errorf("touch merge target %d: %w", targetID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("touch merge target %d: %w", targetID, ErrArticleNotFound)
	}

	if err := insertResolutionEventTx(ctx, tx, record, nil, now); err != nil {
		return err
	}

	return nil
}

// RecordResolution persists a ledger row for a candidate that produced no
// corpus write (skip_fts and skip_llm verdicts).
func (s *Store) RecordResolution(ctx context.Context, record ResolutionRecord) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("store is not initialized")
	}
	if err := validateRecord(record); err != nil {
		return err
	}

	now := globaltime.UTC()

	tx, err := s.pool.BeginTx(ctx, db.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin record tx: %w", err)
	}
	if err := insertResolutionEventTx(ctx, tx, record, nil, now); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("commit record tx: %w", err)
	}
	return nil
}

func insertFacetsTx(ctx context.Context, tx db.Tx, articleID int64, entities []Entity, cves []CVE, now time.Time) error {
	const insertEntity = `
INSERT INTO intel.article_entities (article_id, name, entity_type, created_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (article_id, name) DO NOTHING
`
	for _, entity := range entities {
		name := strings.TrimSpace(entity.Name)
		if name == "" {
			continue
		}
		entityType := strings.TrimSpace(entity.Type)
		if entityType == "" {
			entityType = "other"
		}
		if _, err := tx.Exec(ctx, insertEntity, articleID, name, entityType, now); err != nil {
			return fmt.Errorf("insert entity %q article_id=%d: %w", name, articleID, err)
		}
	}

	const insertCVE = `
INSERT INTO intel.article_cves (article_id, cve_id, severity, score, created_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (article_id, cve_id) DO NOTHING
`
	for _, cve := range cves {
		id := strings.ToUpper(strings.TrimSpace(cve.ID))
		if id == "" {
			continue
		}
		if _, err := tx.Exec(ctx, insertCVE, articleID, id, cve.Severity, cve.Score, now); err != nil {
			return fmt.Errorf("insert cve %q article_id=%d: %w", id, articleID, err)
		}
	}

	return nil
}

func insertResolutionEventTx(ctx context.Context, tx db.Tx, record ResolutionRecord, articleID *int64, now time.Time) error {
	const q = `
INSERT INTO intel.resolution_events (
	candidate_source,
	candidate_item_id,
	candidate_hash,
	resolution,
	similarity_score,
	coarse_score,
	matched_article_id,
	article_id,
	skip_reasoning,
	decided_by,
	judge_error,
	created_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
`
	_, err := tx.Exec(
		ctx,
		q,
		record.CandidateSource,
		record.CandidateItemID,
		record.CandidateHash,
		record.Resolution,
		record.SimilarityScore,
		record.CoarseScore,
		record.MatchedArticleID,
		articleID,
		record.SkipReasoning,
		record.DecidedBy,
		record.JudgeError,
		now,
	)
	if err != nil {
		return fmt.Errorf("insert resolution event %s/%s: %w", record.CandidateSource, record.CandidateItemID, err)
	}
	return nil
}

// validateRecord enforces the ledger invariants before anything touches the
// database: new never names a match, every skip names one and says why.
func validateRecord(record ResolutionRecord) error {
	switch record.Resolution {
	case ResolutionNew, ResolutionSkipFTS, ResolutionSkipLLM, ResolutionSkipUpdate:
	default:
		return fmt.Errorf("unknown resolution %q", record.Resolution)
	}

	if strings.TrimSpace(record.CandidateSource) == "" || strings.TrimSpace(record.CandidateItemID) == "" {
		return fmt.Errorf("resolution record requires candidate source and item id")
	}
	if strings.TrimSpace(record.DecidedBy) == "" {
		return fmt.Errorf("resolution record requires decided_by")
	}

	if record.Resolution == ResolutionNew {
		if record.MatchedArticleID != nil {
			return fmt.Errorf("resolution=new must not reference a matched article")
		}
		return nil
	}

	if record.MatchedArticleID == nil {
		return fmt.Errorf("resolution=%s requires a matched article", record.Resolution)
	}
	if record.SkipReasoning == nil || strings.TrimSpace(*record.SkipReasoning) == "" {
		return fmt.Errorf("resolution=%s requires skip reasoning", record.Resolution)
	}
	if record.SimilarityScore == nil {
		return fmt.Errorf("resolution=%s requires a similarity score", record.Resolution)
	}
	return nil
}

func uniqueSlugTx(ctx context.Context, tx db.Tx, baseSlug string) (string, error) {
	slug := baseSlug
	for attempt := 2; ; attempt++ {
		var exists int
		err := tx.QueryRow(ctx, `SELECT 1 FROM intel.articles WHERE slug = $1`, slug).Scan(&exists)
		if err != nil {
			if db.IsNoRows(err) {
				return slug, nil
			}
			return "", fmt.Errorf("check slug %q: %w", slug, err)
		}
		if attempt > 50 {
			return "", fmt.Errorf("could not derive unique slug from %q", baseSlug)
		}
		slug = fmt.Sprintf("%s-%d", baseSlug, attempt)
	}
}
