// Package store persists search jobs, their results, and the
// deduplicated contact roster.
package store

import (
	"context"
	"time"

	"github.com/sells-group/mediascout/internal/model"
)

// SearchFilter specifies criteria for listing searches.
type SearchFilter struct {
	Stage  model.SearchStage `json:"stage,omitempty"`
	UserID string            `json:"user_id,omitempty"`
	Limit  int               `json:"limit,omitempty"`
	Offset int               `json:"offset,omitempty"`
}

// Store defines the persistence interface for the discovery pipeline.
// The orchestrator writes status transitions as they happen so a crashed
// process leaves an inspectable trail.
type Store interface {
	// Searches
	CreateSearch(ctx context.Context, job *model.SearchJob) error
	UpdateSearchStage(ctx context.Context, searchID string, stage model.SearchStage) error
	UpdateSearchProgress(ctx context.Context, searchID string, progress model.SearchProgress) error
	AppendSearchError(ctx context.Context, searchID string, serr model.SearchError) error
	CompleteSearch(ctx context.Context, job *model.SearchJob) error
	GetSearch(ctx context.Context, searchID string) (*model.SearchJob, error)
	ListSearches(ctx context.Context, filter SearchFilter) ([]model.SearchJob, error)
	DeleteExpiredSearches(ctx context.Context, olderThan time.Duration) (int, error)

	// Stage outputs
	SaveResults(ctx context.Context, searchID string, results []model.SearchResult) error
	SaveContacts(ctx context.Context, searchID string, contacts []model.ExtractedContact) error
	SaveDuplicateGroups(ctx context.Context, searchID string, groups []model.DuplicateGroup) error
	GetContacts(ctx context.Context, searchID string) ([]model.ExtractedContact, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
