package app

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/sentry/internal/config"
	"horse.fit/sentry/internal/db"
	"horse.fit/sentry/internal/index"
	"horse.fit/sentry/internal/resolve"
	"horse.fit/sentry/internal/store"
)

// buildPolicy assembles the resolution cascade from configuration. Both the
// resolve command and the API server go through here so they run identical
// pipelines.
func buildPolicy(cfg *config.Config, pool *db.Pool, logger zerolog.Logger) (*resolve.Policy, error) {
	articles := store.New(pool, logger)

	shortlist := index.NewCandidateIndex(pool, cfg.CVEOverlapWeight, cfg.EntityOverlapWeight, logger)

	scorer, err := index.NewSimilarityIndex(pool, index.Weights{
		Headline: cfg.HeadlineWeight,
		Summary:  cfg.SummaryWeight,
		Report:   cfg.ReportWeight,
	})
	if err != nil {
		return nil, fmt.Errorf("build similarity index: %w", err)
	}

	judge, err := resolve.NewHTTPJudge(
		cfg.JudgeEndpoint,
		cfg.JudgeModel,
		cfg.JudgeAPIKey,
		cfg.JudgeTimeout,
		cfg.JudgeAttempts,
		cfg.JudgeBackoff,
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("build judge: %w", err)
	}

	policy, err := resolve.NewPolicy(articles, shortlist, scorer, judge, resolve.Options{
		Lookback:     time.Duration(cfg.LookbackDays) * 24 * time.Hour,
		RecentWindow: time.Duration(cfg.RecentWindowDays) * 24 * time.Hour,
		RecentLimit:  cfg.RecentWindowLimit,
		Thresholds: resolve.Thresholds{
			Low:  cfg.SimilarityTLow,
			High: cfg.SimilarityTHigh,
		},
		TopK: cfg.JudgeTopK,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("build policy: %w", err)
	}

	return policy, nil
}
