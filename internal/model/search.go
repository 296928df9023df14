// Package model defines the data model for the contact discovery pipeline.
package model

import "time"

// SearchStage represents one phase of the discovery pipeline.
type SearchStage string

const (
	StageInitializing      SearchStage = "initializing"
	StageQueryGeneration   SearchStage = "query_generation"
	StageWebSearch         SearchStage = "web_search"
	StageContentScraping   SearchStage = "content_scraping"
	StageContactExtraction SearchStage = "contact_extraction"
	StageResultAggregation SearchStage = "result_aggregation"
	StageFinalization      SearchStage = "finalization"
	StageCompleted         SearchStage = "completed"
	StageFailed            SearchStage = "failed"
	StageCancelled         SearchStage = "cancelled"
)

// stageOrder fixes the pipeline sequence for progress and transition checks.
var stageOrder = map[SearchStage]int{
	StageInitializing:      0,
	StageQueryGeneration:   1,
	StageWebSearch:         2,
	StageContentScraping:   3,
	StageContactExtraction: 4,
	StageResultAggregation: 5,
	StageFinalization:      6,
	StageCompleted:         7,
	StageFailed:            7,
	StageCancelled:         7,
}

// Ordinal returns the stage's position in the pipeline sequence.
// Terminal stages share the final ordinal.
func (s SearchStage) Ordinal() int {
	return stageOrder[s]
}

// Terminal reports whether the stage is absorbing (no further transitions).
func (s SearchStage) Terminal() bool {
	return s == StageCompleted || s == StageFailed || s == StageCancelled
}

// SearchCriteria is the filter surface of a search configuration.
type SearchCriteria struct {
	Query      string     `json:"query"`
	Countries  []string   `json:"countries,omitempty"`
	Categories []string   `json:"categories,omitempty"`
	Beats      []string   `json:"beats,omitempty"`
	Languages  []string   `json:"languages,omitempty"`
	Domains    []string   `json:"domains,omitempty"`
	After      *time.Time `json:"after,omitempty"`
	Before     *time.Time `json:"before,omitempty"`
}

// Dimensions returns the number of non-empty criterion dimensions. Used by
// the query scorer's coverage sub-score.
func (c SearchCriteria) Dimensions() int {
	n := 0
	if c.Query != "" {
		n++
	}
	for _, dim := range [][]string{c.Countries, c.Categories, c.Beats, c.Languages, c.Domains} {
		if len(dim) > 0 {
			n++
		}
	}
	return n
}

// SearchOptions controls per-search behavior.
type SearchOptions struct {
	MaxResults          int           `json:"max_results"`
	ConfidenceThreshold float64       `json:"confidence_threshold"`
	EnableAIEnhancement bool          `json:"enable_ai_enhancement"`
	Timeout             time.Duration `json:"timeout"`
	Priority            int           `json:"priority"`
}

// SearchConfiguration is the immutable input to a search job.
type SearchConfiguration struct {
	Criteria SearchCriteria `json:"criteria"`
	Options  SearchOptions  `json:"options"`
}

// SearchProgress tracks completion within a job. Percentage and the
// per-stage values only ever increase within one job.
type SearchProgress struct {
	Percentage    float64                 `json:"percentage"`
	CurrentStage  SearchStage             `json:"current_stage"`
	StageProgress map[SearchStage]float64 `json:"stage_progress,omitempty"`
}

// SearchError records a non-fatal failure encountered during a job.
type SearchError struct {
	Stage      SearchStage `json:"stage"`
	Source     string      `json:"source,omitempty"`
	Message    string      `json:"message"`
	Retryable  bool        `json:"retryable"`
	OccurredAt time.Time   `json:"occurred_at"`
}

// SourceType identifies where a SearchResult came from.
type SourceType string

const (
	SourceSearchProvider SourceType = "search_provider"
	SourceScrapeProvider SourceType = "scrape_provider"
	SourceManual         SourceType = "manual"
)

// SearchResult is one fetched source with its extracted contacts.
// Append-only within a job; never mutated after creation.
type SearchResult struct {
	ID             string             `json:"id"`
	URL            string             `json:"url"`
	Title          string             `json:"title"`
	Domain         string             `json:"domain"`
	AuthorityScore float64            `json:"authority_score"`
	RelevanceScore float64            `json:"relevance_score"`
	Confidence     float64            `json:"confidence"`
	Content        string             `json:"content,omitempty"`
	Contacts       []ExtractedContact `json:"contacts,omitempty"`
	SourceType     SourceType         `json:"source_type"`
	Metadata       map[string]any     `json:"metadata,omitempty"`
	FetchedAt      time.Time          `json:"fetched_at"`
}

// SearchJob is the orchestrator-owned state of one discovery search.
type SearchJob struct {
	ID           string                  `json:"id"`
	UserID       string                  `json:"user_id,omitempty"`
	Config       SearchConfiguration     `json:"config"`
	Stage        SearchStage             `json:"stage"`
	Progress     SearchProgress          `json:"progress"`
	Results      []SearchResult          `json:"results,omitempty"`
	Errors       []SearchError           `json:"errors,omitempty"`
	Aggregated   *AggregatedSearchResult `json:"aggregated,omitempty"`
	CancelReason string                  `json:"cancel_reason,omitempty"`
	CreatedAt    time.Time               `json:"created_at"`
	UpdatedAt    time.Time               `json:"updated_at"`
	CompletedAt  *time.Time              `json:"completed_at,omitempty"`
}

// AggregatedSearchResult is the final rollup computed at finalization.
type AggregatedSearchResult struct {
	TotalResults      int           `json:"total_results"`
	UniqueContacts    int           `json:"unique_contacts"`
	DuplicateContacts int           `json:"duplicate_contacts"`
	AverageConfidence float64       `json:"average_confidence"`
	AverageQuality    float64       `json:"average_quality"`
	Metrics           SearchMetrics `json:"metrics"`
}

// SearchMetrics accumulates throughout the job so cancelled and failed
// searches still report partial numbers.
type SearchMetrics struct {
	Queries     QueryMetrics       `json:"queries"`
	Sources     SourceMetrics      `json:"sources"`
	Contacts    ContactMetrics     `json:"contacts"`
	Performance PerformanceMetrics `json:"performance"`
}

// QueryMetrics covers the query generation stage.
type QueryMetrics struct {
	Generated  int  `json:"generated"`
	Enhanced   int  `json:"enhanced"`
	Dispatched int  `json:"dispatched"`
	Failed     int  `json:"failed"`
	AIUsed     bool `json:"ai_used"`
}

// SourceMetrics covers web search and scraping.
type SourceMetrics struct {
	Found     int `json:"found"`
	Scraped   int `json:"scraped"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
	Throttled int `json:"throttled"`
}

// ContactMetrics covers extraction and deduplication.
type ContactMetrics struct {
	Extracted      int `json:"extracted"`
	BelowThreshold int `json:"below_threshold"`
	Unique         int `json:"unique"`
	Duplicates     int `json:"duplicates"`
	Groups         int `json:"groups"`
}

// PerformanceMetrics records per-stage wall time in milliseconds.
type PerformanceMetrics struct {
	StageDurations map[SearchStage]int64 `json:"stage_durations_ms,omitempty"`
	TotalDuration  int64                 `json:"total_duration_ms"`
}
