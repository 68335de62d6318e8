package domain

import "time"

// RawItem is an unprocessed entry pulled from a feed source. It lives only
// for the duration of an ingestion run and is never persisted.
type RawItem struct {
	Title       string
	URL         string
	Summary     string
	Body        string
	Source      string
	PublishedAt time.Time
	ImageURL    string
	Tags        []string
	// EngagementPrior is the source-configured prior in [0,1], used as a
	// tie-break when ranking and de-duplicating.
	EngagementPrior float64
}

// Article is a filtered, de-duplicated content record persisted under its
// URL as the natural key.
type Article struct {
	URL             string
	Title           string
	Summary         string
	Body            string
	Source          string
	PublishedAt     time.Time
	ImageURL        string
	Tags            []string
	EngagementScore float64
	// RelevanceScore is derived at ingestion time and kept only for sort
	// stability inside a run; it is not persisted.
	RelevanceScore float64
	IsDuplicate    bool
	IsProcessed    bool
	CreatedAt      time.Time
}
