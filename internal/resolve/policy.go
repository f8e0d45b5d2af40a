// Package resolve decides the fate of each candidate article: publish it as
// new, record it as a duplicate, or merge it into the article it updates.
// The cascade runs cheap structured overlap first, text similarity second,
// and only escalates the ambiguous band to the judge.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/sentry/internal/globaltime"
	"horse.fit/sentry/internal/index"
	"horse.fit/sentry/internal/store"
)

// Stage labels recorded in decided_by on the resolution ledger.
const (
	decidedByNoCandidates  = "no_candidates"
	decidedByFTS           = "fts"
	decidedByJudge         = "judge"
	decidedByJudgeFailOpen = "judge_fail_open"
	decidedByMergeFallback = "merge_fallback"
)

// Corpus is the slice of the store the policy writes through.
type Corpus interface {
	RecentArticleIDs(ctx context.Context, since time.Time, limit int) ([]int64, error)
	CreateArticle(ctx context.Context, article store.NewArticle, record store.ResolutionRecord) (store.CreatedArticle, error)
	MergeIntoArticle(ctx context.Context, targetID int64, update store.UpdatePayload, record store.ResolutionRecord) error
	RecordResolution(ctx context.Context, record store.ResolutionRecord) error
}

// Shortlister is the structured-overlap stage.
type Shortlister interface {
	Shortlist(ctx context.Context, facets index.Facets, since time.Time) ([]index.Entry, error)
}

// Scorer is the text-similarity stage.
type Scorer interface {
	Score(ctx context.Context, text index.TextQuery, ids []int64) ([]index.Entry, error)
}

// Options bound the cascade's corpus windows and decision thresholds.
type Options struct {
	Lookback     time.Duration // shortlist horizon
	RecentWindow time.Duration // fallback horizon when no facets overlap
	RecentLimit  int
	Thresholds   Thresholds
	TopK         int // matches shown to the judge
}

// Result reports what one resolution pass did. Created is set only for
// candidates that entered the corpus as a new article.
type Result struct {
	Record  store.ResolutionRecord
	Created *store.CreatedArticle
}

type Policy struct {
	corpus    Corpus
	shortlist Shortlister
	scorer    Scorer
	judge     Judge
	opts      Options
	logger    zerolog.Logger
}

func NewPolicy(corpus Corpus, shortlist Shortlister, scorer Scorer, judge Judge, opts Options, logger zerolog.Logger) (*Policy, error) {
	if corpus == nil || shortlist == nil || scorer == nil || judge == nil {
		return nil, fmt.Errorf("policy requires corpus, shortlist, scorer, and judge")
	}
	if opts.Thresholds.Low < 0 || opts.Thresholds.High <= opts.Thresholds.Low || opts.Thresholds.High > 1 {
		return nil, fmt.Errorf("thresholds must satisfy 0 <= low < high <= 1")
	}
	if opts.RecentLimit <= 0 {
		return nil, fmt.Errorf("recent limit must be > 0")
	}
	return &Policy{
		corpus:    corpus,
		shortlist: shortlist,
		scorer:    scorer,
		judge:     judge,
		opts:      opts,
		logger:    logger,
	}, nil
}

// Resolve runs the cascade for one candidate and persists exactly one
// resolution record. A merge whose target vanished mid-flight reruns the
// cascade once against the fresh corpus; a second miss falls back to
// creating the candidate as new rather than dropping it.
func (p *Policy) Resolve(ctx context.Context, cand Candidate) (Result, error) {
	if strings.TrimSpace(cand.Source) == "" || strings.TrimSpace(cand.SourceItemID) == "" {
		return Result{}, fmt.Errorf("candidate requires source and source item id")
	}
	if !cand.HasText() && cand.Facets().Empty() {
		return Result{}, fmt.Errorf("%s/%s: %w", cand.Source, cand.SourceItemID, ErrNoUsableInput)
	}

	for attempt := 0; ; attempt++ {
		eval, err := p.evaluate(ctx, cand)
		if err != nil {
			return Result{}, err
		}

		result, err := p.apply(ctx, cand, eval)
		if err == nil {
			p.logger.Info().
				Str("source", cand.Source).
				Str("source_item_id", cand.SourceItemID).
				Str("resolution", result.Record.Resolution).
				Str("decided_by", result.Record.DecidedBy).
				Msg("candidate resolved")
			return result, nil
		}
		if !errors.Is(err, store.ErrArticleNotFound) {
			return Result{}, err
		}

		if attempt == 0 {
			p.logger.Warn().
				Str("source", cand.Source).
				Str("source_item_id", cand.SourceItemID).
				Msg("merge target vanished, rerunning cascade")
			continue
		}

		// Target disappeared twice. Publishing the candidate loses a merge,
		// dropping it loses a story; publish.
		p.logger.Warn().
			Str("source", cand.Source).
			Str("source_item_id", cand.SourceItemID).
			Msg("merge target vanished again, publishing as new")
		return p.createNew(ctx, cand, decidedByMergeFallback, eval.topSimilarity(), nil)
	}
}

// evaluation carries everything the threshold and judge stages produced,
// so apply can build the resolution record without re-querying.
type evaluation struct {
	shortlisted map[int64]index.Entry
	scored      []index.Entry
	outcome     Outcome
	verdict     *JudgeVerdict
	judgeErr    error
}

func (e evaluation) topSimilarity() *float64 {
	if e.outcome.Top == nil {
		return nil
	}
	sim := e.outcome.Top.Similarity
	return &sim
}

func (e evaluation) coarseScoreOf(articleID int64) *float64 {
	entry, ok := e.shortlisted[articleID]
	if !ok {
		return nil
	}
	score := entry.CoarseScore
	return &score
}

func (e evaluation) similarityOf(articleID int64) *float64 {
	for _, entry := range e.scored {
		if entry.ArticleID == articleID {
			sim := entry.Similarity
			return &sim
		}
	}
	return nil
}

func (p *Policy) evaluate(ctx context.Context, cand Candidate) (evaluation, error) {
	now := globaltime.UTC()
	eval := evaluation{shortlisted: map[int64]index.Entry{}}

	facets := cand.Facets()
	if !facets.Empty() {
		entries, err := p.shortlist.Shortlist(ctx, facets, now.Add(-p.opts.Lookback))
		if err != nil {
			return evaluation{}, fmt.Errorf("shortlist candidates: %w", err)
		}
		for _, entry := range entries {
			eval.shortlisted[entry.ArticleID] = entry
		}
	}

	ids := make([]int64, 0, len(eval.shortlisted))
	for id := range eval.shortlisted {
		ids = append(ids, id)
	}
	if len(ids) == 0 && cand.HasText() {
		recent, err := p.corpus.RecentArticleIDs(ctx, now.Add(-p.opts.RecentWindow), p.opts.RecentLimit)
		if err != nil {
			return evaluation{}, fmt.Errorf("load recent corpus: %w", err)
		}
		ids = recent
	}

	if len(ids) == 0 {
		eval.outcome = Outcome{Kind: OutcomeNew}
		return eval, nil
	}

	scored, err := p.scorer.Score(ctx, cand.Text(), ids)
	if err != nil {
		return evaluation{}, fmt.Errorf("score candidates: %w", err)
	}
	eval.scored = scored
	eval.outcome = Decide(scored, p.opts.Thresholds, p.opts.TopK)

	if eval.outcome.Kind == OutcomeEscalate {
		verdict, err := p.judge.Review(ctx, p.judgeRequest(cand, eval.outcome.Escalated))
		if err != nil {
			eval.judgeErr = err
		} else {
			eval.verdict = verdict
		}
	}

	return eval, nil
}

func (p *Policy) judgeRequest(cand Candidate, escalated []index.Entry) JudgeRequest {
	matches := make([]JudgeMatch, 0, len(escalated))
	for _, entry := range escalated {
		matches = append(matches, JudgeMatch{
			ArticleID:  entry.ArticleID,
			Slug:       entry.Slug,
			Headline:   entry.Headline,
			Summary:    entry.Summary,
			Similarity: entry.Similarity,
		})
	}
	return JudgeRequest{
		Headline: cand.Headline,
		Summary:  cand.Summary,
		Report:   cand.Report,
		Matches:  matches,
	}
}

func (p *Policy) apply(ctx context.Context, cand Candidate, eval evaluation) (Result, error) {
	switch eval.outcome.Kind {
	case OutcomeNew:
		decidedBy := decidedByFTS
		if eval.outcome.Top == nil {
			decidedBy = decidedByNoCandidates
		}
		return p.createNew(ctx, cand, decidedBy, eval.topSimilarity(), nil)

	case OutcomeDuplicate:
		top := *eval.outcome.Top
		reasoning := fmt.Sprintf("text similarity %.3f at or above duplicate threshold %.2f against %q",
			top.Similarity, p.opts.Thresholds.High, top.Slug)
		record := p.baseRecord(cand, store.ResolutionSkipFTS, decidedByFTS)
		record.SimilarityScore = eval.topSimilarity()
		record.CoarseScore = eval.coarseScoreOf(top.ArticleID)
		record.MatchedArticleID = &top.ArticleID
		record.SkipReasoning = &reasoning
		if err := p.corpus.RecordResolution(ctx, record); err != nil {
			return Result{}, fmt.Errorf("record duplicate: %w", err)
		}
		return Result{Record: record}, nil

	case OutcomeEscalate:
		return p.applyJudged(ctx, cand, eval)
	}

	return Result{}, fmt.Errorf("unexpected outcome %q", eval.outcome.Kind)
}

func (p *Policy) applyJudged(ctx context.Context, cand Candidate, eval evaluation) (Result, error) {
	if eval.judgeErr != nil {
		// Fail open: a broken judge must not silently drop coverage.
		p.logger.Error().
			Err(eval.judgeErr).
			Str("source", cand.Source).
			Str("source_item_id", cand.SourceItemID).
			Msg("judge unavailable, failing open to new")
		judgeErr := eval.judgeErr.Error()
		return p.createNew(ctx, cand, decidedByJudgeFailOpen, eval.topSimilarity(), &judgeErr)
	}

	verdict := eval.verdict
	switch verdict.Kind {
	case VerdictDistinct:
		return p.createNew(ctx, cand, decidedByJudge, eval.topSimilarity(), nil)

	case VerdictDuplicate:
		reasoning := "judge: " + verdict.Rationale
		record := p.baseRecord(cand, store.ResolutionSkipLLM, decidedByJudge)
		record.SimilarityScore = eval.similarityOf(verdict.MatchedArticleID)
		record.CoarseScore = eval.coarseScoreOf(verdict.MatchedArticleID)
		record.MatchedArticleID = &verdict.MatchedArticleID
		record.SkipReasoning = &reasoning
		if err := p.corpus.RecordResolution(ctx, record); err != nil {
			return Result{}, fmt.Errorf("record judged duplicate: %w", err)
		}
		return Result{Record: record}, nil

	case VerdictUpdate:
		reasoning := "judge: " + verdict.Rationale
		record := p.baseRecord(cand, store.ResolutionSkipUpdate, decidedByJudge)
		record.SimilarityScore = eval.similarityOf(verdict.MatchedArticleID)
		record.CoarseScore = eval.coarseScoreOf(verdict.MatchedArticleID)
		record.MatchedArticleID = &verdict.MatchedArticleID
		record.SkipReasoning = &reasoning
		update := store.UpdatePayload{
			Source:       cand.Source,
			SourceItemID: cand.SourceItemID,
			SourceURL:    cand.SourceURL,
			Summary:      mergeSummary(cand),
			Entities:     cand.Entities,
			CVEs:         cand.CVEs,
		}
		if err := p.corpus.MergeIntoArticle(ctx, verdict.MatchedArticleID, update, record); err != nil {
			return Result{}, err
		}
		return Result{Record: record}, nil
	}

	return Result{}, fmt.Errorf("unexpected judge verdict %q", verdict.Kind)
}

func (p *Policy) createNew(ctx context.Context, cand Candidate, decidedBy string, similarity *float64, judgeErr *string) (Result, error) {
	record := p.baseRecord(cand, store.ResolutionNew, decidedBy)
	record.SimilarityScore = similarity
	record.JudgeError = judgeErr

	article := store.NewArticle{
		Source:       cand.Source,
		SourceItemID: cand.SourceItemID,
		SourceURL:    cand.SourceURL,
		Headline:     cand.Headline,
		Summary:      cand.Summary,
		Report:       cand.Report,
		Language:     cand.Language,
		PublishedAt:  cand.PublishedAt,
		Entities:     cand.Entities,
		CVEs:         cand.CVEs,
	}

	created, err := p.corpus.CreateArticle(ctx, article, record)
	if err != nil {
		return Result{}, fmt.Errorf("create article: %w", err)
	}
	return Result{Record: record, Created: &created}, nil
}

func (p *Policy) baseRecord(cand Candidate, resolution, decidedBy string) store.ResolutionRecord {
	return store.ResolutionRecord{
		CandidateSource: cand.Source,
		CandidateItemID: cand.SourceItemID,
		CandidateHash:   cand.Hash(),
		Resolution:      resolution,
		DecidedBy:       decidedBy,
	}
}

func mergeSummary(cand Candidate) string {
	if s := strings.TrimSpace(cand.Summary); s != "" {
		return s
	}
	return strings.TrimSpace(cand.Headline)
}
