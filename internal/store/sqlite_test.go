package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/mediascout/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "mediascout.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestJob() *model.SearchJob {
	now := time.Now().UTC().Truncate(time.Second)
	return &model.SearchJob{
		ID:     uuid.New().String(),
		UserID: "u1",
		Config: model.SearchConfiguration{
			Criteria: model.SearchCriteria{Query: "climate journalists", Countries: []string{"DE"}},
			Options:  model.SearchOptions{MaxResults: 20, ConfidenceThreshold: 0.5},
		},
		Stage:     model.StageInitializing,
		Progress:  model.SearchProgress{CurrentStage: model.StageInitializing},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestSQLite_CreateAndGetSearch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	job := newTestJob()

	require.NoError(t, s.CreateSearch(ctx, job))

	got, err := s.GetSearch(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, model.StageInitializing, got.Stage)
	assert.Equal(t, "climate journalists", got.Config.Criteria.Query)
	assert.Equal(t, 0.5, got.Config.Options.ConfidenceThreshold)
	assert.Empty(t, got.Results)
}

func TestSQLite_GetSearchNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetSearch(context.Background(), "missing")
	assert.Error(t, err)
}

func TestSQLite_UpdateSearchStage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	job := newTestJob()
	require.NoError(t, s.CreateSearch(ctx, job))

	require.NoError(t, s.UpdateSearchStage(ctx, job.ID, model.StageWebSearch))
	// Writing the same stage again is a no-op, not an error.
	require.NoError(t, s.UpdateSearchStage(ctx, job.ID, model.StageWebSearch))

	got, err := s.GetSearch(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StageWebSearch, got.Stage)

	assert.Error(t, s.UpdateSearchStage(ctx, "missing", model.StageWebSearch))
}

func TestSQLite_UpdateSearchProgress(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	job := newTestJob()
	require.NoError(t, s.CreateSearch(ctx, job))

	progress := model.SearchProgress{
		Percentage:   42.5,
		CurrentStage: model.StageContentScraping,
		StageProgress: map[model.SearchStage]float64{
			model.StageQueryGeneration: 1.0,
			model.StageContentScraping: 0.4,
		},
	}
	require.NoError(t, s.UpdateSearchProgress(ctx, job.ID, progress))

	got, err := s.GetSearch(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 42.5, got.Progress.Percentage)
	assert.Equal(t, 0.4, got.Progress.StageProgress[model.StageContentScraping])
}

func TestSQLite_AppendSearchError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	job := newTestJob()
	require.NoError(t, s.CreateSearch(ctx, job))

	for _, msg := range []string{"fetch failed", "extraction failed"} {
		require.NoError(t, s.AppendSearchError(ctx, job.ID, model.SearchError{
			Stage:      model.StageContentScraping,
			Message:    msg,
			Retryable:  true,
			OccurredAt: time.Now().UTC(),
		}))
	}

	got, err := s.GetSearch(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, got.Errors, 2)
	assert.Equal(t, "fetch failed", got.Errors[0].Message)
	assert.Equal(t, "extraction failed", got.Errors[1].Message)
}

func TestSQLite_SaveResultsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	job := newTestJob()
	require.NoError(t, s.CreateSearch(ctx, job))

	now := time.Now().UTC().Truncate(time.Second)
	results := []model.SearchResult{
		{
			ID: "r1", URL: "https://a.test/staff", Domain: "a.test",
			SourceType: model.SourceScrapeProvider, FetchedAt: now,
			Contacts: []model.ExtractedContact{{ID: "c1", Name: "Jane Doe"}},
		},
		{
			ID: "r2", URL: "https://b.test/about", Domain: "b.test",
			SourceType: model.SourceSearchProvider, FetchedAt: now.Add(time.Second),
		},
	}
	require.NoError(t, s.SaveResults(ctx, job.ID, results))
	// Saving again replaces rather than duplicating.
	require.NoError(t, s.SaveResults(ctx, job.ID, results))

	got, err := s.GetSearch(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, got.Results, 2)
	assert.Equal(t, "r1", got.Results[0].ID)
	require.Len(t, got.Results[0].Contacts, 1)
	assert.Equal(t, "Jane Doe", got.Results[0].Contacts[0].Name)
}

func TestSQLite_SaveContactsAndGroups(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	job := newTestJob()
	require.NoError(t, s.CreateSearch(ctx, job))

	contacts := []model.ExtractedContact{
		{ID: "c1", ResultID: "r1", Name: "Jane Doe", ExtractedAt: time.Now().UTC()},
		{ID: "c2", ResultID: "r1", Name: "Max Weber", ExtractedAt: time.Now().UTC()},
	}
	require.NoError(t, s.SaveContacts(ctx, job.ID, contacts))
	require.NoError(t, s.SaveContacts(ctx, job.ID, contacts))

	groups := []model.DuplicateGroup{
		{ID: "g1", Type: model.DuplicateEmail, SimilarityScore: 1.0, ContactIDs: []string{"c1", "c2"}, SelectedContact: "c1"},
	}
	require.NoError(t, s.SaveDuplicateGroups(ctx, job.ID, groups))
	require.NoError(t, s.SaveDuplicateGroups(ctx, job.ID, groups))

	got, err := s.GetContacts(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Jane Doe", got[0].Name)
	assert.Equal(t, "Max Weber", got[1].Name)

	empty, err := s.GetContacts(ctx, "no-such-search")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestSQLite_CompleteSearch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	job := newTestJob()
	require.NoError(t, s.CreateSearch(ctx, job))

	done := time.Now().UTC().Truncate(time.Second)
	job.Stage = model.StageCompleted
	job.Progress.Percentage = 100
	job.CompletedAt = &done
	job.Aggregated = &model.AggregatedSearchResult{
		TotalResults:      2,
		UniqueContacts:    3,
		DuplicateContacts: 1,
		AverageConfidence: 0.8,
	}
	require.NoError(t, s.CompleteSearch(ctx, job))

	got, err := s.GetSearch(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StageCompleted, got.Stage)
	require.NotNil(t, got.Aggregated)
	assert.Equal(t, 3, got.Aggregated.UniqueContacts)
	require.NotNil(t, got.CompletedAt)
}

func TestSQLite_ListSearches(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := newTestJob()
	second := newTestJob()
	second.UserID = "u2"
	require.NoError(t, s.CreateSearch(ctx, first))
	require.NoError(t, s.CreateSearch(ctx, second))
	require.NoError(t, s.UpdateSearchStage(ctx, second.ID, model.StageCompleted))

	all, err := s.ListSearches(ctx, SearchFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	completed, err := s.ListSearches(ctx, SearchFilter{Stage: model.StageCompleted})
	require.NoError(t, err)
	require.Len(t, completed, 1)
	assert.Equal(t, second.ID, completed[0].ID)

	byUser, err := s.ListSearches(ctx, SearchFilter{UserID: "u2"})
	require.NoError(t, err)
	require.Len(t, byUser, 1)
	assert.Equal(t, second.ID, byUser[0].ID)
}

func TestSQLite_DeleteExpiredSearches(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := newTestJob()
	running := newTestJob()
	require.NoError(t, s.CreateSearch(ctx, old))
	require.NoError(t, s.CreateSearch(ctx, running))
	require.NoError(t, s.SaveContacts(ctx, old.ID, []model.ExtractedContact{
		{ID: "c1", Name: "Jane Doe", ExtractedAt: time.Now().UTC()},
	}))
	require.NoError(t, s.UpdateSearchStage(ctx, old.ID, model.StageCompleted))
	require.NoError(t, s.UpdateSearchStage(ctx, running.ID, model.StageWebSearch))

	// Backdate the completed search past the retention window.
	_, err := s.db.ExecContext(ctx,
		`UPDATE searches SET updated_at = ? WHERE id = ?`,
		time.Now().UTC().Add(-48*time.Hour), old.ID,
	)
	require.NoError(t, err)

	n, err := s.DeleteExpiredSearches(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.GetSearch(ctx, old.ID)
	assert.Error(t, err)

	// Active searches survive regardless of age.
	_, err = s.GetSearch(ctx, running.ID)
	assert.NoError(t, err)
}
