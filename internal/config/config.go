package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"local"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	DBMinConns  int32  `envconfig:"SENTRY_DB_MIN_CONNS" default:"1"`
	DBMaxConns  int32  `envconfig:"SENTRY_DB_MAX_CONNS" default:"8"`

	// Resolution cascade. The thresholds partition the normalized
	// similarity score space: below TLow -> new, at/above THigh ->
	// skip_fts, between them -> judge escalation. Defaults are tuning
	// placeholders, not yet validated against a labeled corpus.
	LookbackDays        int     `envconfig:"SENTRY_LOOKBACK_DAYS" default:"30"`
	RecentWindowDays    int     `envconfig:"SENTRY_RECENT_WINDOW_DAYS" default:"14"`
	RecentWindowLimit   int     `envconfig:"SENTRY_RECENT_WINDOW_LIMIT" default:"200"`
	SimilarityTLow      float64 `envconfig:"SENTRY_SIMILARITY_T_LOW" default:"0.20"`
	SimilarityTHigh     float64 `envconfig:"SENTRY_SIMILARITY_T_HIGH" default:"0.60"`
	HeadlineWeight      float64 `envconfig:"SENTRY_HEADLINE_WEIGHT" default:"10"`
	SummaryWeight       float64 `envconfig:"SENTRY_SUMMARY_WEIGHT" default:"5"`
	ReportWeight        float64 `envconfig:"SENTRY_REPORT_WEIGHT" default:"1"`
	CVEOverlapWeight    float64 `envconfig:"SENTRY_CVE_OVERLAP_WEIGHT" default:"3"`
	EntityOverlapWeight float64 `envconfig:"SENTRY_ENTITY_OVERLAP_WEIGHT" default:"1"`

	// Judge escalation.
	JudgeTopK     int           `envconfig:"SENTRY_JUDGE_TOP_K" default:"3"`
	JudgeEndpoint string        `envconfig:"SENTRY_JUDGE_ENDPOINT" default:"http://127.0.0.1:8844/v1/chat/completions"`
	JudgeModel    string        `envconfig:"SENTRY_JUDGE_MODEL" default:"gpt-4o-mini"`
	JudgeAPIKey   string        `envconfig:"SENTRY_JUDGE_API_KEY" default:""`
	JudgeTimeout  time.Duration `envconfig:"SENTRY_JUDGE_TIMEOUT" default:"45s"`
	JudgeAttempts int           `envconfig:"SENTRY_JUDGE_ATTEMPTS" default:"2"`
	JudgeBackoff  time.Duration `envconfig:"SENTRY_JUDGE_BACKOFF" default:"2s"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.DBMinConns < 0 {
		return fmt.Errorf("SENTRY_DB_MIN_CONNS must be >= 0")
	}
	if c.DBMaxConns < 1 {
		return fmt.Errorf("SENTRY_DB_MAX_CONNS must be >= 1")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("SENTRY_DB_MIN_CONNS (%d) cannot exceed SENTRY_DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.LookbackDays < 1 {
		return fmt.Errorf("SENTRY_LOOKBACK_DAYS must be >= 1")
	}
	if c.RecentWindowDays < 1 {
		return fmt.Errorf("SENTRY_RECENT_WINDOW_DAYS must be >= 1")
	}
	if c.RecentWindowLimit < 1 {
		return fmt.Errorf("SENTRY_RECENT_WINDOW_LIMIT must be >= 1")
	}
	if c.SimilarityTLow < 0 || c.SimilarityTLow >= 1 {
		return fmt.Errorf("SENTRY_SIMILARITY_T_LOW must be in [0,1)")
	}
	if c.SimilarityTHigh <= c.SimilarityTLow || c.SimilarityTHigh > 1 {
		return fmt.Errorf("SENTRY_SIMILARITY_T_HIGH must be in (SENTRY_SIMILARITY_T_LOW, 1]")
	}
	if c.HeadlineWeight <= 0 {
		return fmt.Errorf("SENTRY_HEADLINE_WEIGHT must be > 0")
	}
	if c.SummaryWeight < 0 || c.ReportWeight < 0 {
		return fmt.Errorf("SENTRY_SUMMARY_WEIGHT and SENTRY_REPORT_WEIGHT must be >= 0")
	}
	if c.CVEOverlapWeight <= 0 || c.EntityOverlapWeight <= 0 {
		return fmt.Errorf("overlap weights must be > 0")
	}
	if c.JudgeTopK < 1 {
		return fmt.Errorf("SENTRY_JUDGE_TOP_K must be >= 1")
	}
	if strings.TrimSpace(c.JudgeEndpoint) == "" {
		return fmt.Errorf("SENTRY_JUDGE_ENDPOINT is required")
	}
	if c.JudgeTimeout < time.Second {
		return fmt.Errorf("SENTRY_JUDGE_TIMEOUT must be >= 1s")
	}
	if c.JudgeAttempts < 1 {
		return fmt.Errorf("SENTRY_JUDGE_ATTEMPTS must be >= 1")
	}
	if c.JudgeBackoff < 0 {
		return fmt.Errorf("SENTRY_JUDGE_BACKOFF must be >= 0")
	}
	return nil
}
