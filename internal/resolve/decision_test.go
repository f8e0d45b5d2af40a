package resolve

import (
	"testing"

	"horse.fit/sentry/internal/index"
)

func scoredEntries(scores ...float64) []index.Entry {
	entries := make([]index.Entry, 0, len(scores))
	for i, score := range scores {
		entries = append(entries, index.Entry{ArticleID: int64(i + 1), Similarity: score})
	}
	return entries
}

func TestDecide_EmptyCorpusIsNew(t *testing.T) {
	t.Parallel()

	outcome := Decide(nil, Thresholds{Low: 0.2, High: 0.6}, 3)
	if outcome.Kind != OutcomeNew {
		t.Fatalf("expected new, got %s", outcome.Kind)
	}
	if outcome.Top != nil {
		t.Fatalf("expected no top entry for empty corpus")
	}
}

func TestDecide_Bands(t *testing.T) {
	t.Parallel()

	thresholds := Thresholds{Low: 0.2, High: 0.6}

	if outcome := Decide(scoredEntries(0.05), thresholds, 3); outcome.Kind != OutcomeNew {
		t.Fatalf("expected new below low threshold, got %s", outcome.Kind)
	}
	if outcome := Decide(scoredEntries(0.35), thresholds, 3); outcome.Kind != OutcomeEscalate {
		t.Fatalf("expected escalate in ambiguous band, got %s", outcome.Kind)
	}
	if outcome := Decide(scoredEntries(0.82), thresholds, 3); outcome.Kind != OutcomeDuplicate {
		t.Fatalf("expected duplicate above high threshold, got %s", outcome.Kind)
	}
}

func TestDecide_BoundariesAreInclusiveUpward(t *testing.T) {
	t.Parallel()

	thresholds := Thresholds{Low: 0.2, High: 0.6}

	// Exactly at Low the score is no longer "below", so it stays ambiguous.
	if outcome := Decide(scoredEntries(0.2), thresholds, 3); outcome.Kind != OutcomeEscalate {
		t.Fatalf("expected escalate at low boundary, got %s", outcome.Kind)
	}
	// Exactly at High counts as a duplicate.
	if outcome := Decide(scoredEntries(0.6), thresholds, 3); outcome.Kind != OutcomeDuplicate {
		t.Fatalf("expected duplicate at high boundary, got %s", outcome.Kind)
	}
}

func TestDecide_EscalatesTopK(t *testing.T) {
	t.Parallel()

	outcome := Decide(scoredEntries(0.5, 0.45, 0.4, 0.3), Thresholds{Low: 0.2, High: 0.6}, 2)
	if outcome.Kind != OutcomeEscalate {
		t.Fatalf("expected escalate, got %s", outcome.Kind)
	}
	if len(outcome.Escalated) != 2 {
		t.Fatalf("expected 2 escalated entries, got %d", len(outcome.Escalated))
	}
	if outcome.Escalated[0].ArticleID != 1 {
		t.Fatalf("expected best-first escalation order")
	}

	all := Decide(scoredEntries(0.5, 0.45), Thresholds{Low: 0.2, High: 0.6}, 10)
	if len(all.Escalated) != 2 {
		t.Fatalf("expected topK clamped to available entries, got %d", len(all.Escalated))
	}
}
