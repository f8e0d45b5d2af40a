package resolve

import "horse.fit/sentry/internal/index"

// Thresholds split the similarity range into three bands. Below Low the
// candidate is clearly new, at or above High it is a textual duplicate,
// and the band in between is ambiguous and escalates to the judge.
type Thresholds struct {
	Low  float64
	High float64
}

type OutcomeKind string

const (
	OutcomeNew       OutcomeKind = "new"
	OutcomeDuplicate OutcomeKind = "duplicate"
	OutcomeEscalate  OutcomeKind = "escalate"
)

// Outcome is the verdict of the threshold stage. Top is the best-scoring
// entry when any were scored; Escalated holds the top-k entries handed to
// the judge on an ambiguous score.
type Outcome struct {
	Kind      OutcomeKind
	Top       *index.Entry
	Escalated []index.Entry
}

// Decide applies the threshold bands to a scored, best-first list. An empty
// list means the corpus offered nothing to compare against, which is new by
// definition.
func Decide(scored []index.Entry, t Thresholds, topK int) Outcome {
	if len(scored) == 0 {
		return Outcome{Kind: OutcomeNew}
	}

	top := scored[0]
	switch {
	case top.Similarity < t.Low:
		return Outcome{Kind: OutcomeNew, Top: &top}
	case top.Similarity >= t.High:
		return Outcome{Kind: OutcomeDuplicate, Top: &top}
	}

	if topK <= 0 || topK > len(scored) {
		topK = len(scored)
	}
	return Outcome{Kind: OutcomeEscalate, Top: &top, Escalated: scored[:topK]}
}
