package resolve

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/sentry/internal/index"
	"horse.fit/sentry/internal/store"
)

type fakeCorpus struct {
	recent []int64

	created        []store.NewArticle
	createdRecords []store.ResolutionRecord
	recorded       []store.ResolutionRecord
	mergedTargets  []int64
	mergeErrs      []error
	nextArticleID  int64
}

func (f *fakeCorpus) RecentArticleIDs(ctx context.Context, since time.Time, limit int) ([]int64, error) {
	return f.recent, nil
}

func (f *fakeCorpus) CreateArticle(ctx context.Context, article store.NewArticle, record store.ResolutionRecord) (store.CreatedArticle, error) {
	f.created = append(f.created, article)
	f.createdRecords = append(f.createdRecords, record)
	f.nextArticleID++
	return store.CreatedArticle{ArticleID: f.nextArticleID, Slug: store.Slugify(article.Headline)}, nil
}

func (f *fakeCorpus) MergeIntoArticle(ctx context.Context, targetID int64, update store.UpdatePayload, record store.ResolutionRecord) error {
	f.mergedTargets = append(f.mergedTargets, targetID)
	if len(f.mergeErrs) > 0 {
		err := f.mergeErrs[0]
		f.mergeErrs = f.mergeErrs[1:]
		return err
	}
	return nil
}

func (f *fakeCorpus) RecordResolution(ctx context.Context, record store.ResolutionRecord) error {
	f.recorded = append(f.recorded, record)
	return nil
}

type fakeShortlist struct {
	entries []index.Entry
	calls   int
}

func (f *fakeShortlist) Shortlist(ctx context.Context, facets index.Facets, since time.Time) ([]index.Entry, error) {
	f.calls++
	return f.entries, nil
}

type fakeScorer struct {
	entries []index.Entry
	calls   int
}

func (f *fakeScorer) Score(ctx context.Context, text index.TextQuery, ids []int64) ([]index.Entry, error) {
	f.calls++
	return f.entries, nil
}

type fakeJudge struct {
	verdict *JudgeVerdict
	err     error
	calls   int
}

func (f *fakeJudge) Review(ctx context.Context, req JudgeRequest) (*JudgeVerdict, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.verdict, nil
}

func testOptions() Options {
	return Options{
		Lookback:     30 * 24 * time.Hour,
		RecentWindow: 14 * 24 * time.Hour,
		RecentLimit:  200,
		Thresholds:   Thresholds{Low: 0.2, High: 0.6},
		TopK:         3,
	}
}

func newTestPolicy(t *testing.T, corpus *fakeCorpus, shortlist *fakeShortlist, scorer *fakeScorer, judge *fakeJudge) *Policy {
	t.Helper()
	policy, err := NewPolicy(corpus, shortlist, scorer, judge, testOptions(), zerolog.Nop())
	if err != nil {
		t.Fatalf("build policy: %v", err)
	}
	return policy
}

func textCandidate() Candidate {
	return Candidate{
		Source:       "feed-a",
		SourceItemID: "item-1",
		Headline:     "Ransomware crew hits hospital network",
		Summary:      "Incident summary",
	}
}

func TestResolve_RejectsEmptyCandidate(t *testing.T) {
	t.Parallel()

	corpus := &fakeCorpus{}
	policy := newTestPolicy(t, corpus, &fakeShortlist{}, &fakeScorer{}, &fakeJudge{})

	_, err := policy.Resolve(context.Background(), Candidate{Source: "feed-a", SourceItemID: "item-1"})
	if !errors.Is(err, ErrNoUsableInput) {
		t.Fatalf("expected ErrNoUsableInput, got %v", err)
	}

	_, err = policy.Resolve(context.Background(), Candidate{Headline: "x"})
	if err == nil {
		t.Fatalf("expected error for missing identity")
	}

	// Rejected candidates never enter the cascade, so nothing is persisted.
	if len(corpus.created) != 0 || len(corpus.recorded) != 0 || len(corpus.mergedTargets) != 0 {
		t.Fatalf("rejection must not touch the corpus: created=%d recorded=%d merged=%d",
			len(corpus.created), len(corpus.recorded), len(corpus.mergedTargets))
	}
}

func TestResolve_EmptyCorpusCreatesNew(t *testing.T) {
	t.Parallel()

	corpus := &fakeCorpus{}
	judge := &fakeJudge{}
	policy := newTestPolicy(t, corpus, &fakeShortlist{}, &fakeScorer{}, judge)

	result, err := policy.Resolve(context.Background(), textCandidate())
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if result.Record.Resolution != store.ResolutionNew {
		t.Fatalf("expected new, got %s", result.Record.Resolution)
	}
	if result.Record.DecidedBy != decidedByNoCandidates {
		t.Fatalf("expected no_candidates stage, got %s", result.Record.DecidedBy)
	}
	if result.Created == nil || result.Created.ArticleID != 1 {
		t.Fatalf("expected created article, got %+v", result.Created)
	}
	if judge.calls != 0 {
		t.Fatalf("judge must not run without scored candidates")
	}
	if result.Record.MatchedArticleID != nil {
		t.Fatalf("new resolution must not name a match")
	}
}

func TestResolve_HighSimilarityIsTextualDuplicate(t *testing.T) {
	t.Parallel()

	corpus := &fakeCorpus{recent: []int64{11}}
	scorer := &fakeScorer{entries: []index.Entry{{ArticleID: 11, Slug: "prior-story", Similarity: 0.83}}}
	judge := &fakeJudge{}
	policy := newTestPolicy(t, corpus, &fakeShortlist{}, scorer, judge)

	result, err := policy.Resolve(context.Background(), textCandidate())
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if result.Record.Resolution != store.ResolutionSkipFTS {
		t.Fatalf("expected skip_fts, got %s", result.Record.Resolution)
	}
	if result.Record.MatchedArticleID == nil || *result.Record.MatchedArticleID != 11 {
		t.Fatalf("expected matched article 11, got %v", result.Record.MatchedArticleID)
	}
	if result.Record.SkipReasoning == nil || *result.Record.SkipReasoning == "" {
		t.Fatalf("expected skip reasoning")
	}
	if len(corpus.created) != 0 {
		t.Fatalf("duplicate must not create an article")
	}
	if len(corpus.recorded) != 1 {
		t.Fatalf("expected one ledger row, got %d", len(corpus.recorded))
	}
	if judge.calls != 0 {
		t.Fatalf("judge must not run for clear duplicates")
	}
}

func TestResolve_LowSimilarityCreatesNewWithScore(t *testing.T) {
	t.Parallel()

	corpus := &fakeCorpus{recent: []int64{11}}
	scorer := &fakeScorer{entries: []index.Entry{{ArticleID: 11, Similarity: 0.07}}}
	policy := newTestPolicy(t, corpus, &fakeShortlist{}, scorer, &fakeJudge{})

	result, err := policy.Resolve(context.Background(), textCandidate())
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if result.Record.Resolution != store.ResolutionNew {
		t.Fatalf("expected new, got %s", result.Record.Resolution)
	}
	if result.Record.SimilarityScore == nil || *result.Record.SimilarityScore != 0.07 {
		t.Fatalf("expected best score recorded, got %v", result.Record.SimilarityScore)
	}
}

func TestResolve_JudgeDuplicate(t *testing.T) {
	t.Parallel()

	shortlist := &fakeShortlist{entries: []index.Entry{{ArticleID: 11, CoarseScore: 4}}}
	scorer := &fakeScorer{entries: []index.Entry{{ArticleID: 11, Slug: "prior-story", Similarity: 0.4}}}
	judge := &fakeJudge{verdict: &JudgeVerdict{Kind: VerdictDuplicate, MatchedArticleID: 11, Rationale: "same breach, same victim"}}
	corpus := &fakeCorpus{}
	policy := newTestPolicy(t, corpus, shortlist, scorer, judge)

	cand := textCandidate()
	cand.Entities = []store.Entity{{Name: "LockBit", Type: "threat_actor"}}

	result, err := policy.Resolve(context.Background(), cand)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if result.Record.Resolution != store.ResolutionSkipLLM {
		t.Fatalf("expected skip_llm, got %s", result.Record.Resolution)
	}
	if result.Record.DecidedBy != decidedByJudge {
		t.Fatalf("expected judge stage, got %s", result.Record.DecidedBy)
	}
	if result.Record.CoarseScore == nil || *result.Record.CoarseScore != 4 {
		t.Fatalf("expected coarse score carried from shortlist, got %v", result.Record.CoarseScore)
	}
	if result.Record.SkipReasoning == nil || *result.Record.SkipReasoning != "judge: same breach, same victim" {
		t.Fatalf("unexpected reasoning: %v", result.Record.SkipReasoning)
	}
}

func TestResolve_JudgeDistinctCreatesNew(t *testing.T) {
	t.Parallel()

	scorer := &fakeScorer{entries: []index.Entry{{ArticleID: 11, Slug: "apt29-targets-ministries", Similarity: 0.4}}}
	judge := &fakeJudge{verdict: &JudgeVerdict{Kind: VerdictDistinct, Rationale: "same actor, unrelated campaign"}}
	corpus := &fakeCorpus{recent: []int64{11}}
	policy := newTestPolicy(t, corpus, &fakeShortlist{}, scorer, judge)

	result, err := policy.Resolve(context.Background(), textCandidate())
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if judge.calls != 1 {
		t.Fatalf("expected one judge call, got %d", judge.calls)
	}
	if result.Record.Resolution != store.ResolutionNew {
		t.Fatalf("expected new on distinct verdict, got %s", result.Record.Resolution)
	}
	if result.Record.DecidedBy != decidedByJudge {
		t.Fatalf("expected judge stage, got %s", result.Record.DecidedBy)
	}
	if result.Record.MatchedArticleID != nil {
		t.Fatalf("distinct verdict must not name a match, got %v", result.Record.MatchedArticleID)
	}
	if result.Record.SimilarityScore == nil || *result.Record.SimilarityScore != 0.4 {
		t.Fatalf("expected best score recorded, got %v", result.Record.SimilarityScore)
	}
	if result.Created == nil {
		t.Fatalf("distinct verdict must publish the candidate")
	}
	if len(corpus.recorded) != 0 {
		t.Fatalf("ledger row must ride the create, got %d standalone rows", len(corpus.recorded))
	}
}

func TestResolve_JudgeUpdateMerges(t *testing.T) {
	t.Parallel()

	scorer := &fakeScorer{entries: []index.Entry{{ArticleID: 11, Similarity: 0.4}}}
	judge := &fakeJudge{verdict: &JudgeVerdict{Kind: VerdictUpdate, MatchedArticleID: 11, Rationale: "adds patch availability"}}
	corpus := &fakeCorpus{recent: []int64{11}}
	policy := newTestPolicy(t, corpus, &fakeShortlist{}, scorer, judge)

	result, err := policy.Resolve(context.Background(), textCandidate())
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if result.Record.Resolution != store.ResolutionSkipUpdate {
		t.Fatalf("expected skip_update, got %s", result.Record.Resolution)
	}
	if len(corpus.mergedTargets) != 1 || corpus.mergedTargets[0] != 11 {
		t.Fatalf("expected merge into article 11, got %v", corpus.mergedTargets)
	}
	if result.Created != nil {
		t.Fatalf("merge must not create an article")
	}
}

func TestResolve_JudgeFailureFailsOpen(t *testing.T) {
	t.Parallel()

	scorer := &fakeScorer{entries: []index.Entry{{ArticleID: 11, Similarity: 0.4}}}
	judge := &fakeJudge{err: fmt.Errorf("%w: connection refused", ErrJudgeUnavailable)}
	corpus := &fakeCorpus{recent: []int64{11}}
	policy := newTestPolicy(t, corpus, &fakeShortlist{}, scorer, judge)

	result, err := policy.Resolve(context.Background(), textCandidate())
	if err != nil {
		t.Fatalf("fail-open must not surface judge errors, got %v", err)
	}
	if result.Record.Resolution != store.ResolutionNew {
		t.Fatalf("expected fail-open new, got %s", result.Record.Resolution)
	}
	if result.Record.DecidedBy != decidedByJudgeFailOpen {
		t.Fatalf("expected judge_fail_open stage, got %s", result.Record.DecidedBy)
	}
	if result.Record.JudgeError == nil {
		t.Fatalf("expected judge error recorded on ledger row")
	}
	if result.Created == nil {
		t.Fatalf("fail-open must still publish the candidate")
	}
}

func TestResolve_MergeTargetVanishedRerunsOnce(t *testing.T) {
	t.Parallel()

	scorer := &fakeScorer{entries: []index.Entry{{ArticleID: 11, Similarity: 0.4}}}
	judge := &fakeJudge{verdict: &JudgeVerdict{Kind: VerdictUpdate, MatchedArticleID: 11, Rationale: "new developments"}}
	corpus := &fakeCorpus{
		recent:    []int64{11},
		mergeErrs: []error{fmt.Errorf("merge target 11: %w", store.ErrArticleNotFound), nil},
	}
	policy := newTestPolicy(t, corpus, &fakeShortlist{}, scorer, judge)

	result, err := policy.Resolve(context.Background(), textCandidate())
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if result.Record.Resolution != store.ResolutionSkipUpdate {
		t.Fatalf("expected merge to succeed on rerun, got %s", result.Record.Resolution)
	}
	if scorer.calls != 2 {
		t.Fatalf("expected cascade rerun, got %d scorer calls", scorer.calls)
	}
	if len(corpus.mergedTargets) != 2 {
		t.Fatalf("expected two merge attempts, got %d", len(corpus.mergedTargets))
	}
}

func TestResolve_MergeTargetVanishedTwiceFallsBackToNew(t *testing.T) {
	t.Parallel()

	scorer := &fakeScorer{entries: []index.Entry{{ArticleID: 11, Similarity: 0.4}}}
	judge := &fakeJudge{verdict: &JudgeVerdict{Kind: VerdictUpdate, MatchedArticleID: 11, Rationale: "new developments"}}
	corpus := &fakeCorpus{
		recent: []int64{11},
		mergeErrs: []error{
			store.ErrArticleNotFound,
			store.ErrArticleNotFound,
		},
	}
	policy := newTestPolicy(t, corpus, &fakeShortlist{}, scorer, judge)

	result, err := policy.Resolve(context.Background(), textCandidate())
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if result.Record.Resolution != store.ResolutionNew {
		t.Fatalf("expected fallback to new, got %s", result.Record.Resolution)
	}
	if result.Record.DecidedBy != decidedByMergeFallback {
		t.Fatalf("expected merge_fallback stage, got %s", result.Record.DecidedBy)
	}
	if result.Created == nil {
		t.Fatalf("fallback must publish the candidate")
	}
}
