package db

import (
	"time"
)

// Article maps intel.articles. One row per published story; the resolution
// columns record how the seeding candidate was admitted. Rows are created
// only by resolution (never deleted by the engine) and mutated only by
// merges, which bump updated_at.
type Article struct {
	ArticleID        int64      `gorm:"column:article_id;primaryKey;autoIncrement"`
	ArticleUUID      string     `gorm:"column:article_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	Slug             string     `gorm:"column:slug;type:text;not null;unique"`
	Source           string     `gorm:"column:source;type:text;not null"`
	SourceItemID     string     `gorm:"column:source_item_id;type:text;not null"`
	SourceURL        *string    `gorm:"column:source_url;type:text"`
	Headline         string     `gorm:"column:headline;type:text;not null"`
	Summary          string     `gorm:"column:summary;type:text;not null;default:''"`
	Report           string     `gorm:"column:report;type:text;not null;default:''"`
	Language         string     `gorm:"column:language;type:text;not null;default:und"`
	PublishedAt      *time.Time `gorm:"column:published_at;type:timestamptz"`
	Resolution       string     `gorm:"column:resolution;type:intel.resolution;not null;default:new"`
	SimilarityScore  *float64   `gorm:"column:similarity_score;type:double precision"`
	MatchedArticleID *int64     `gorm:"column:matched_article_id;type:bigint"`
	SkipReasoning    *string    `gorm:"column:skip_reasoning;type:text"`
	CreatedAt        time.Time  `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt        time.Time  `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (Article) TableName() string { return "intel.articles" }

// ArticleEntity maps intel.article_entities.
type ArticleEntity struct {
	ArticleID  int64     `gorm:"column:article_id;type:bigint;primaryKey"`
	Name       string    `gorm:"column:name;type:text;primaryKey"`
	EntityType string    `gorm:"column:entity_type;type:text;not null;default:other"`
	CreatedAt  time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (ArticleEntity) TableName() string { return "intel.article_entities" }

// ArticleCVE maps intel.article_cves.
type ArticleCVE struct {
	ArticleID int64     `gorm:"column:article_id;type:bigint;primaryKey"`
	CVEID     string    `gorm:"column:cve_id;type:text;primaryKey"`
	Severity  *string   `gorm:"column:severity;type:text"`
	Score     *float64  `gorm:"column:score;type:double precision"`
	CreatedAt time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (ArticleCVE) TableName() string { return "intel.article_cves" }

// ArticleUpdate maps intel.article_updates. One row per merge applied to an
// article, so every skip_update verdict leaves an auditable trace on the
// target.
type ArticleUpdate struct {
	UpdateID     int64     `gorm:"column:update_id;primaryKey;autoIncrement"`
	UpdateUUID   string    `gorm:"column:update_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	ArticleID    int64     `gorm:"column:article_id;type:bigint;not null"`
	Source       string    `gorm:"column:source;type:text;not null"`
	SourceItemID string    `gorm:"column:source_item_id;type:text;not null"`
	SourceURL    *string   `gorm:"column:source_url;type:text"`
	Summary      string    `gorm:"column:summary;type:text;not null"`
	CreatedAt    time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (ArticleUpdate) TableName() string { return "intel.article_updates" }

// ResolutionEvent maps intel.resolution_events: the append-only ledger with
// exactly one row per processed candidate. Rows are never updated;
// corrections require a fresh candidate pass.
type ResolutionEvent struct {
	EventID          int64     `gorm:"column:event_id;primaryKey;autoIncrement"`
	EventUUID        string    `gorm:"column:event_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	CandidateSource  string    `gorm:"column:candidate_source;type:text;not null"`
	CandidateItemID  string    `gorm:"column:candidate_item_id;type:text;not null"`
	CandidateHash    []byte    `gorm:"column:candidate_hash;type:bytea;not null"`
	Resolution       string    `gorm:"column:resolution;type:intel.resolution;not null"`
	SimilarityScore  *float64  `gorm:"column:similarity_score;type:double precision"`
	CoarseScore      *float64  `gorm:"column:coarse_score;type:double precision"`
	MatchedArticleID *int64    `gorm:"column:matched_article_id;type:bigint"`
	ArticleID        *int64    `gorm:"column:article_id;type:bigint"`
	SkipReasoning    *string   `gorm:"column:skip_reasoning;type:text"`
	DecidedBy        string    `gorm:"column:decided_by;type:text;not null"`
	JudgeError       *string   `gorm:"column:judge_error;type:text"`
	CreatedAt        time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (ResolutionEvent) TableName() string { return "intel.resolution_events" }

func autoMigrateModels() []any {
	return []any{
		&Article{},
		&ArticleEntity{},
		&ArticleCVE{},
		&ArticleUpdate{},
		&ResolutionEvent{},
	}
}
