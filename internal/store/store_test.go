package store

import (
	"strings"
	"testing"
)

func validSkipRecord() ResolutionRecord {
	matched := int64(42)
	sim := 0.71
	reasoning := "text similarity above duplicate threshold"
	return ResolutionRecord{
		CandidateSource:  "feed-a",
		CandidateItemID:  "item-1",
		Resolution:       ResolutionSkipFTS,
		SimilarityScore:  &sim,
		MatchedArticleID: &matched,
		SkipReasoning:    &reasoning,
		DecidedBy:        "fts",
	}
}

func TestValidateRecord_SkipRequiresMatchAndReasoning(t *testing.T) {
	t.Parallel()

	record := validSkipRecord()
	if err := validateRecord(record); err != nil {
		t.Fatalf("expected valid skip record, got %v", err)
	}

	noMatch := validSkipRecord()
	noMatch.MatchedArticleID = nil
	if err := validateRecord(noMatch); err == nil {
		t.Fatalf("expected error for skip without matched article")
	}

	noReason := validSkipRecord()
	noReason.SkipReasoning = nil
	if err := validateRecord(noReason); err == nil {
		t.Fatalf("expected error for skip without reasoning")
	}

	blankReason := validSkipRecord()
	blank := "   "
	blankReason.SkipReasoning = &blank
	if err := validateRecord(blankReason); err == nil {
		t.Fatalf("expected error for skip with blank reasoning")
	}

	noScore := validSkipRecord()
	noScore.SimilarityScore = nil
	if err := validateRecord(noScore); err == nil {
		t.Fatalf("expected error for skip without similarity score")
	}
}

func TestValidateRecord_NewMustNotMatch(t *testing.T) {
	t.Parallel()

	record := ResolutionRecord{
		CandidateSource: "feed-a",
		CandidateItemID: "item-2",
		Resolution:      ResolutionNew,
		DecidedBy:       "no_candidates",
	}
	if err := validateRecord(record); err != nil {
		t.Fatalf("expected valid new record, got %v", err)
	}

	matched := int64(7)
	record.MatchedArticleID = &matched
	if err := validateRecord(record); err == nil {
		t.Fatalf("expected error for new record naming a match")
	}
}

func TestValidateRecord_RejectsUnknownResolution(t *testing.T) {
	t.Parallel()

	record := validSkipRecord()
	record.Resolution = "merged"
	err := validateRecord(record)
	if err == nil {
		t.Fatalf("expected error for unknown resolution")
	}
	if !strings.Contains(err.Error(), "merged") {
		t.Fatalf("expected error to name the bad value, got %v", err)
	}
}

func TestValidateRecord_RequiresIdentity(t *testing.T) {
	t.Parallel()

	record := validSkipRecord()
	record.CandidateSource = " "
	if err := validateRecord(record); err == nil {
		t.Fatalf("expected error for blank candidate source")
	}

	record = validSkipRecord()
	record.DecidedBy = ""
	if err := validateRecord(record); err == nil {
		t.Fatalf("expected error for blank decided_by")
	}
}
