// Package orchestrator drives the discovery pipeline for search jobs:
// query generation, web search, scraping, extraction, deduplication, and
// final aggregation. Stages run in a fixed sequence; work inside a stage
// may fan out, but stage outputs are merged into stable order before the
// next stage reads them.
package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/mediascout/internal/dedupe"
	"github.com/sells-group/mediascout/internal/extract"
	"github.com/sells-group/mediascout/internal/model"
	"github.com/sells-group/mediascout/internal/resilience"
	"github.com/sells-group/mediascout/internal/scrape"
	"github.com/sells-group/mediascout/internal/store"
	"github.com/sells-group/mediascout/internal/throttle"
	"github.com/sells-group/mediascout/pkg/jina"
)

// ErrCancelled is the cancellation cause threaded through job contexts.
var ErrCancelled = errors.New("search cancelled")

// errTotalTimeout marks jobs that exceeded the overall search ceiling.
var errTotalTimeout = errors.New("total search timeout exceeded")

// QueryGenerator produces scored search queries for a configuration.
type QueryGenerator interface {
	Generate(ctx context.Context, cfg model.SearchConfiguration) ([]model.GeneratedQuery, error)
}

// Searcher dispatches one query to the web search provider.
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) (*jina.SearchResponse, error)
}

// PageScraper fetches one URL through the provider chain.
type PageScraper interface {
	Scrape(ctx context.Context, url string) (*scrape.Result, error)
}

// ContactExtractor pulls contact candidates out of a fetched page. A
// degraded output still counts as success; the error return means the
// page yielded nothing.
type ContactExtractor interface {
	Extract(ctx context.Context, page extract.PageContent, criteria model.SearchCriteria, confidenceThreshold float64) (extract.Output, error)
}

// Timeouts holds the per-stage deadlines plus the overall ceiling.
// Zero disables that deadline.
type Timeouts struct {
	QueryGeneration   time.Duration `json:"query_generation"`
	WebSearch         time.Duration `json:"web_search"`
	ContentScraping   time.Duration `json:"content_scraping"`
	ContactExtraction time.Duration `json:"contact_extraction"`
	TotalSearch       time.Duration `json:"total_search"`
}

// Config bounds the orchestrator's concurrency and deadlines.
type Config struct {
	MaxConcurrentSearches    int      `json:"max_concurrent_searches"`
	MaxConcurrentQueries     int      `json:"max_concurrent_queries"`
	MaxConcurrentScrapes     int      `json:"max_concurrent_scrapes"`
	MaxConcurrentExtractions int      `json:"max_concurrent_extractions"`
	ResultsPerQuery          int      `json:"results_per_query"`
	Timeouts                 Timeouts `json:"timeouts"`
}

// DefaultConfig returns production limits.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentSearches:    3,
		MaxConcurrentQueries:     5,
		MaxConcurrentScrapes:     4,
		MaxConcurrentExtractions: 4,
		ResultsPerQuery:          10,
		Timeouts: Timeouts{
			QueryGeneration:   30 * time.Second,
			WebSearch:         2 * time.Minute,
			ContentScraping:   5 * time.Minute,
			ContactExtraction: 3 * time.Minute,
			TotalSearch:       15 * time.Minute,
		},
	}
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrentSearches <= 0 {
		c.MaxConcurrentSearches = 3
	}
	if c.MaxConcurrentQueries <= 0 {
		c.MaxConcurrentQueries = 5
	}
	if c.MaxConcurrentScrapes <= 0 {
		c.MaxConcurrentScrapes = 4
	}
	if c.MaxConcurrentExtractions <= 0 {
		c.MaxConcurrentExtractions = 4
	}
	if c.ResultsPerQuery <= 0 {
		c.ResultsPerQuery = 10
	}
	return c
}

// Orchestrator owns SearchJobs and executes their stage pipelines.
type Orchestrator struct {
	cfg       Config
	store     store.Store
	queries   QueryGenerator
	searcher  Searcher
	scraper   PageScraper
	extractor ContactExtractor
	deduper   *dedupe.Deduplicator
	throttler *throttle.Throttler
	breakers  *resilience.ServiceBreakers

	mu   sync.Mutex
	jobs map[string]*jobHandle
	sem  chan struct{}
}

// jobHandle is the in-memory registration of one job. The mutex guards
// the job snapshot and the cancellation fields.
type jobHandle struct {
	mu     sync.Mutex
	job    *model.SearchJob
	cancel context.CancelCauseFunc
	reason string
	done   chan struct{}
}

// New creates an Orchestrator with all stage dependencies.
func New(
	cfg Config,
	st store.Store,
	queries QueryGenerator,
	searcher Searcher,
	scraper PageScraper,
	extractor ContactExtractor,
	deduper *dedupe.Deduplicator,
	throttler *throttle.Throttler,
) *Orchestrator {
	cfg = cfg.withDefaults()
	return &Orchestrator{
		cfg:       cfg,
		store:     st,
		queries:   queries,
		searcher:  searcher,
		scraper:   scraper,
		extractor: extractor,
		deduper:   deduper,
		throttler: throttler,
		breakers:  resilience.NewServiceBreakers(resilience.DefaultCircuitBreakerConfig()),
		jobs:      make(map[string]*jobHandle),
		sem:       make(chan struct{}, cfg.MaxConcurrentSearches),
	}
}

// Start registers a new search job and persists its initial record. The
// pipeline does not run until Run is called with the returned ID.
func (o *Orchestrator) Start(ctx context.Context, cfg model.SearchConfiguration, userID string) (string, error) {
	if strings.TrimSpace(cfg.Criteria.Query) == "" && cfg.Criteria.Dimensions() == 0 {
		return "", eris.New("orchestrator: empty search criteria")
	}

	now := time.Now().UTC()
	job := &model.SearchJob{
		ID:     uuid.New().String(),
		UserID: userID,
		Config: cfg,
		Stage:  model.StageInitializing,
		Progress: model.SearchProgress{
			CurrentStage:  model.StageInitializing,
			StageProgress: make(map[model.SearchStage]float64),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := o.store.CreateSearch(ctx, job); err != nil {
		return "", eris.Wrap(err, "orchestrator: create search")
	}

	o.mu.Lock()
	o.jobs[job.ID] = &jobHandle{job: job, done: make(chan struct{})}
	o.mu.Unlock()

	zap.L().Info("orchestrator: search registered",
		zap.String("search_id", job.ID),
		zap.String("query", cfg.Criteria.Query),
	)
	return job.ID, nil
}

// Run executes the pipeline for a registered search, blocking until the
// job reaches a terminal state. Concurrent Runs contend for the
// configured search slots.
func (o *Orchestrator) Run(ctx context.Context, searchID string) error {
	h := o.handle(searchID)
	if h == nil {
		return eris.Errorf("orchestrator: search not found: %s", searchID)
	}

	defer close(h.done)
	defer o.remove(searchID)

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	h.mu.Lock()
	if h.job.Stage.Terminal() {
		h.mu.Unlock()
		return nil
	}
	h.cancel = cancel
	h.mu.Unlock()

	if o.cfg.Timeouts.TotalSearch > 0 {
		var cancelTotal context.CancelFunc
		runCtx, cancelTotal = context.WithTimeoutCause(runCtx, o.cfg.Timeouts.TotalSearch, errTotalTimeout)
		defer cancelTotal()
	}

	// Acquire a search slot.
	select {
	case o.sem <- struct{}{}:
		defer func() { <-o.sem }()
	case <-runCtx.Done():
		return o.finish(h, nil, runCtx, context.Cause(runCtx))
	}

	st := newRunState()
	started := time.Now()
	err := o.pipeline(runCtx, h, st)
	st.metrics.Performance.TotalDuration = time.Since(started).Milliseconds()

	return o.finish(h, st, runCtx, err)
}

// Cancel moves a non-terminal job to cancelled, preserving everything
// collected so far. Safe to call before or during Run.
func (o *Orchestrator) Cancel(ctx context.Context, searchID, reason string) error {
	h := o.handle(searchID)
	if h == nil {
		job, err := o.store.GetSearch(ctx, searchID)
		if err != nil {
			return eris.Wrapf(err, "orchestrator: cancel %s", searchID)
		}
		if job.Stage.Terminal() {
			return eris.Errorf("orchestrator: search already %s: %s", job.Stage, searchID)
		}
		// Registered by a previous process; terminal-ize the record.
		return o.persistCancelled(ctx, job, reason)
	}

	h.mu.Lock()
	if h.job.Stage.Terminal() {
		stage := h.job.Stage
		h.mu.Unlock()
		return eris.Errorf("orchestrator: search already %s: %s", stage, searchID)
	}
	h.reason = reason
	cancelFn := h.cancel
	h.mu.Unlock()

	if cancelFn != nil {
		cancelFn(ErrCancelled)
		return nil
	}

	// Not yet running.
	h.mu.Lock()
	job := h.job
	h.mu.Unlock()
	if err := o.persistCancelled(ctx, job, reason); err != nil {
		return err
	}
	o.remove(searchID)
	return nil
}

// Status returns a snapshot of the job, falling back to the store for
// jobs no longer held in memory.
func (o *Orchestrator) Status(ctx context.Context, searchID string) (*model.SearchJob, error) {
	if h := o.handle(searchID); h != nil {
		h.mu.Lock()
		snapshot := *h.job
		h.mu.Unlock()
		return &snapshot, nil
	}
	job, err := o.store.GetSearch(ctx, searchID)
	if err != nil {
		return nil, eris.Wrapf(err, "orchestrator: status %s", searchID)
	}
	return job, nil
}

// Wait blocks until the job's Run returns or the context is cancelled.
// Jobs not held in memory are already terminal.
func (o *Orchestrator) Wait(ctx context.Context, searchID string) error {
	h := o.handle(searchID)
	if h == nil {
		return nil
	}
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return eris.Wrapf(ctx.Err(), "orchestrator: wait %s", searchID)
	}
}

func (o *Orchestrator) handle(searchID string) *jobHandle {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.jobs[searchID]
}

func (o *Orchestrator) remove(searchID string) {
	o.mu.Lock()
	delete(o.jobs, searchID)
	o.mu.Unlock()
}

// pipeline runs the non-terminal stages in their fixed order. A returned
// error means the stage produced nothing usable and the job must fail.
func (o *Orchestrator) pipeline(ctx context.Context, h *jobHandle, st *runState) error {
	steps := []struct {
		stage   model.SearchStage
		timeout time.Duration
		fn      func(context.Context, *jobHandle, *runState) error
	}{
		{model.StageQueryGeneration, o.cfg.Timeouts.QueryGeneration, o.stageQueryGeneration},
		{model.StageWebSearch, o.cfg.Timeouts.WebSearch, o.stageWebSearch},
		{model.StageContentScraping, o.cfg.Timeouts.ContentScraping, o.stageContentScraping},
		{model.StageContactExtraction, o.cfg.Timeouts.ContactExtraction, o.stageContactExtraction},
		{model.StageResultAggregation, 0, o.stageResultAggregation},
	}

	for _, step := range steps {
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}
		if err := o.runStage(ctx, h, st, step.stage, step.timeout, step.fn); err != nil {
			return err
		}
	}
	return nil
}

// runStage transitions the job, runs the stage under its deadline, and
// records wall time. A stage deadline gets one retry; the job context
// expiring does not.
func (o *Orchestrator) runStage(
	ctx context.Context,
	h *jobHandle,
	st *runState,
	stage model.SearchStage,
	timeout time.Duration,
	fn func(context.Context, *jobHandle, *runState) error,
) error {
	o.setStage(ctx, h, stage)

	attempt := func(ctx context.Context) error {
		stageCtx := ctx
		if timeout > 0 {
			var cancel context.CancelFunc
			stageCtx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		return fn(stageCtx, h, st)
	}

	start := time.Now()
	err := resilience.Do(ctx, resilience.RetryConfig{
		MaxAttempts:    2,
		InitialBackoff: time.Second,
		ShouldRetry: func(err error) bool {
			return errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil
		},
		OnRetry: resilience.RetryLogger("orchestrator", string(stage)),
	}, attempt)
	st.metrics.Performance.StageDurations[stage] = time.Since(start).Milliseconds()

	if err != nil {
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}
		return eris.Wrapf(err, "orchestrator: stage %s", stage)
	}
	o.setStageProgress(ctx, h, stage, 1.0)
	return nil
}

// finish drives the job to its terminal state and persists the final
// snapshot. Partial results survive cancellation and failure.
func (o *Orchestrator) finish(h *jobHandle, st *runState, runCtx context.Context, err error) error {
	if st == nil {
		st = newRunState()
	}

	h.mu.Lock()
	job := h.job
	reason := h.reason
	h.mu.Unlock()

	log := zap.L().With(zap.String("search_id", job.ID))
	now := time.Now().UTC()

	cause := err
	if runCtx.Err() != nil && cause == nil {
		cause = context.Cause(runCtx)
	}

	aggregated := o.aggregate(st)

	h.mu.Lock()
	job.Results = st.results
	job.Aggregated = aggregated
	job.UpdatedAt = now
	job.CompletedAt = &now

	switch {
	case cause == nil:
		o.setStageLocked(job, model.StageFinalization)
		job.Progress.StageProgress[model.StageFinalization] = 1.0
		job.Stage = model.StageCompleted
		job.Progress.CurrentStage = model.StageCompleted
		job.Progress.Percentage = 100
	case errors.Is(cause, ErrCancelled):
		job.Stage = model.StageCancelled
		job.Progress.CurrentStage = model.StageCancelled
		job.CancelReason = reason
	default:
		job.Stage = model.StageFailed
		job.Progress.CurrentStage = model.StageFailed
		job.Errors = append(job.Errors, model.SearchError{
			Stage:      model.StageFinalization,
			Message:    cause.Error(),
			OccurredAt: now,
		})
	}
	snapshot := *job
	h.mu.Unlock()

	// Persist with a fresh context: the job context may be dead.
	persistCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if perr := o.store.CompleteSearch(persistCtx, &snapshot); perr != nil {
		log.Warn("orchestrator: persist final state", zap.Error(perr))
	}
	// Results gathered before cancellation or failure are kept.
	if len(st.results) > 0 {
		if perr := o.store.SaveResults(persistCtx, snapshot.ID, st.results); perr != nil {
			log.Warn("orchestrator: persist partial results", zap.Error(perr))
		}
	}

	switch snapshot.Stage {
	case model.StageCompleted:
		log.Info("orchestrator: search completed",
			zap.Int("results", aggregated.TotalResults),
			zap.Int("unique_contacts", aggregated.UniqueContacts),
			zap.Int64("duration_ms", st.metrics.Performance.TotalDuration),
		)
		return nil
	case model.StageCancelled:
		log.Info("orchestrator: search cancelled",
			zap.String("reason", reason),
			zap.Int("partial_results", aggregated.TotalResults),
		)
		return nil
	default:
		log.Error("orchestrator: search failed", zap.Error(cause))
		return eris.Wrapf(cause, "orchestrator: search %s", snapshot.ID)
	}
}

// aggregate computes the final rollup from whatever the run produced.
func (o *Orchestrator) aggregate(st *runState) *model.AggregatedSearchResult {
	agg := &model.AggregatedSearchResult{
		TotalResults:      len(st.results),
		UniqueContacts:    len(st.contacts),
		DuplicateContacts: st.metrics.Contacts.Duplicates,
		Metrics:           st.metrics,
	}
	if len(st.contacts) > 0 {
		var confSum, qualSum float64
		for _, c := range st.contacts {
			confSum += c.Confidence
			qualSum += c.Quality
		}
		agg.AverageConfidence = confSum / float64(len(st.contacts))
		agg.AverageQuality = qualSum / float64(len(st.contacts))
	}
	return agg
}

func (o *Orchestrator) persistCancelled(ctx context.Context, job *model.SearchJob, reason string) error {
	now := time.Now().UTC()
	job.Stage = model.StageCancelled
	job.Progress.CurrentStage = model.StageCancelled
	job.CancelReason = reason
	job.UpdatedAt = now
	job.CompletedAt = &now
	if err := o.store.CompleteSearch(ctx, job); err != nil {
		return eris.Wrapf(err, "orchestrator: cancel %s", job.ID)
	}
	return nil
}
