package orchestrator

import (
	"context"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/mediascout/internal/extract"
	"github.com/sells-group/mediascout/internal/model"
	"github.com/sells-group/mediascout/internal/resilience"
	"github.com/sells-group/mediascout/internal/scrape"
	"github.com/sells-group/mediascout/internal/throttle"
	"github.com/sells-group/mediascout/pkg/jina"
)

// defaultMaxResults caps candidate pages when the search options leave
// MaxResults unset.
const defaultMaxResults = 20

// runState carries stage outputs through one pipeline run. Each stage
// writes its section after its fan-out has been merged, so later stages
// read stable data without locking.
type runState struct {
	queries    []model.GeneratedQuery
	candidates []pageCandidate
	results    []model.SearchResult
	contacts   []model.ExtractedContact
	groups     []model.DuplicateGroup
	metrics    model.SearchMetrics
}

func newRunState() *runState {
	return &runState{
		metrics: model.SearchMetrics{
			Performance: model.PerformanceMetrics{
				StageDurations: make(map[model.SearchStage]int64),
			},
		},
	}
}

// pageCandidate is one URL selected by web search for scraping.
type pageCandidate struct {
	url         string
	title       string
	description string
	relevance   float64
}

func (o *Orchestrator) stageQueryGeneration(ctx context.Context, h *jobHandle, st *runState) error {
	cfg := h.config()

	queries, err := o.queries.Generate(ctx, cfg)
	if err != nil {
		return eris.Wrap(err, "generate queries")
	}
	if len(queries) == 0 {
		return eris.New("no queries generated")
	}

	st.queries = queries
	st.metrics.Queries.Generated = len(queries)
	for _, q := range queries {
		if q.Enhanced {
			st.metrics.Queries.Enhanced++
			st.metrics.Queries.AIUsed = true
		}
	}
	return nil
}

func (o *Orchestrator) stageWebSearch(ctx context.Context, h *jobHandle, st *runState) error {
	cfg := h.config()

	retryCfg := resilience.ConfigFor("external_api")
	retryCfg.OnRetry = resilience.RetryLogger("jina", "search")

	hitsByQuery := make([][]jina.SearchHit, len(st.queries))
	errsByQuery := make([]error, len(st.queries))

	var done atomic.Int32
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.MaxConcurrentQueries)

	for i, q := range st.queries {
		g.Go(func() error {
			breaker := o.breakers.Get("jina_search")
			resp, err := resilience.DoVal(gCtx, retryCfg, func(ctx context.Context) (*jina.SearchResponse, error) {
				return resilience.ExecuteVal(ctx, breaker, func(ctx context.Context) (*jina.SearchResponse, error) {
					return o.searcher.Search(ctx, q.Text, o.cfg.ResultsPerQuery)
				})
			})
			if err != nil {
				errsByQuery[i] = err
			} else {
				hitsByQuery[i] = resp.Data
			}
			o.setStageProgress(ctx, h, model.StageWebSearch,
				float64(done.Add(1))/float64(len(st.queries)))
			return nil
		})
	}
	_ = g.Wait()

	st.metrics.Queries.Dispatched = len(st.queries)
	for i, qerr := range errsByQuery {
		if qerr == nil {
			continue
		}
		st.metrics.Queries.Failed++
		o.appendError(ctx, h, model.SearchError{
			Stage:      model.StageWebSearch,
			Source:     st.queries[i].Text,
			Message:    qerr.Error(),
			Retryable:  true,
			OccurredAt: time.Now().UTC(),
		})
	}

	// Merge hits in query order, keeping the best relevance per URL, then
	// sort so output order never depends on completion order.
	byURL := make(map[string]int)
	var cands []pageCandidate
	for qi, hits := range hitsByQuery {
		rel := st.queries[qi].Scores.Overall
		for _, hit := range hits {
			if hit.URL == "" {
				continue
			}
			if idx, ok := byURL[hit.URL]; ok {
				if rel > cands[idx].relevance {
					cands[idx].relevance = rel
				}
				continue
			}
			byURL[hit.URL] = len(cands)
			cands = append(cands, pageCandidate{
				url:         hit.URL,
				title:       hit.Title,
				description: hit.Description,
				relevance:   rel,
			})
		}
	}
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].relevance != cands[j].relevance {
			return cands[i].relevance > cands[j].relevance
		}
		return cands[i].url < cands[j].url
	})

	maxResults := cfg.Options.MaxResults
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}
	if len(cands) > maxResults {
		cands = cands[:maxResults]
	}

	st.candidates = cands
	st.metrics.Sources.Found = len(cands)

	if len(cands) == 0 {
		if st.metrics.Queries.Failed == len(st.queries) {
			return eris.New("all search queries failed")
		}
		return eris.New("no search results")
	}
	return nil
}

func (o *Orchestrator) stageContentScraping(ctx context.Context, h *jobHandle, st *runState) error {
	retryCfg := resilience.ConfigFor("network")
	retryCfg.OnRetry = resilience.RetryLogger("scrape", "fetch")

	pages := make([]*scrape.Result, len(st.candidates))
	errs := make([]error, len(st.candidates))
	throttled := make([]bool, len(st.candidates))

	var done atomic.Int32
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.MaxConcurrentScrapes)

	for i, cand := range st.candidates {
		g.Go(func() error {
			defer func() {
				o.setStageProgress(ctx, h, model.StageContentScraping,
					float64(done.Add(1))/float64(len(st.candidates)))
			}()

			// Domains in a block window are skipped outright rather than
			// held for the full block duration.
			if d := o.throttler.Check(cand.url, 0); !d.Allowed && d.RetryAfter > 0 {
				throttled[i] = true
				return nil
			}

			res, err := resilience.DoVal(gCtx, retryCfg, func(ctx context.Context) (*scrape.Result, error) {
				var out *scrape.Result
				execErr := o.throttler.Execute(ctx, cand.url, 0, func(ctx context.Context) error {
					r, scrapeErr := o.scraper.Scrape(ctx, cand.url)
					if scrapeErr != nil {
						return scrapeErr
					}
					out = r
					return nil
				})
				return out, execErr
			})
			if err != nil {
				errs[i] = err
			} else {
				pages[i] = res
			}
			return nil
		})
	}
	_ = g.Wait()

	now := time.Now().UTC()
	for i, cand := range st.candidates {
		switch {
		case throttled[i]:
			st.metrics.Sources.Throttled++
		case errs[i] != nil:
			if strings.Contains(errs[i].Error(), "excluded") {
				st.metrics.Sources.Skipped++
				continue
			}
			st.metrics.Sources.Failed++
			o.appendError(ctx, h, model.SearchError{
				Stage:      model.StageContentScraping,
				Source:     cand.url,
				Message:    errs[i].Error(),
				Retryable:  true,
				OccurredAt: now,
			})
		case pages[i] != nil:
			page := pages[i].Page
			title := page.Title
			if title == "" {
				title = cand.title
			}
			domain := throttle.Domain(cand.url)
			authority := authorityScore(domain)
			st.results = append(st.results, model.SearchResult{
				ID:             uuid.New().String(),
				URL:            cand.url,
				Title:          title,
				Domain:         domain,
				AuthorityScore: authority,
				RelevanceScore: cand.relevance,
				Confidence:     (authority + cand.relevance) / 2,
				Content:        page.Markdown,
				SourceType:     model.SourceScrapeProvider,
				Metadata:       map[string]any{"scrape_source": pages[i].Source},
				FetchedAt:      now,
			})
			st.metrics.Sources.Scraped++
		}
	}

	if len(st.results) == 0 {
		return eris.New("no pages scraped")
	}

	if err := o.store.SaveResults(ctx, h.id(), st.results); err != nil {
		zap.L().Warn("orchestrator: save results", zap.String("search_id", h.id()), zap.Error(err))
	}
	h.setResults(st.results)
	return nil
}

func (o *Orchestrator) stageContactExtraction(ctx context.Context, h *jobHandle, st *runState) error {
	cfg := h.config()
	retryCfg := resilience.ConfigFor("external_api")
	retryCfg.OnRetry = resilience.RetryLogger("extract", "contacts")

	total := len(st.results)
	var done atomic.Int32
	ops := make([]func(ctx context.Context) (extract.Output, error), total)
	for i := range st.results {
		r := st.results[i]
		ops[i] = func(opCtx context.Context) (extract.Output, error) {
			out, err := o.extractor.Extract(opCtx, extract.PageContent{
				ResultID: r.ID,
				URL:      r.URL,
				Title:    r.Title,
				Outlet:   r.Domain,
				Content:  r.Content,
			}, cfg.Criteria, cfg.Options.ConfidenceThreshold)
			if err != nil {
				return extract.Output{}, err
			}
			o.setStageProgress(ctx, h, model.StageContactExtraction,
				float64(done.Add(1))/float64(total))
			return out, nil
		}
	}
	outcomes := resilience.Batch(ctx, retryCfg, o.cfg.MaxConcurrentExtractions, ops)

	now := time.Now().UTC()
	for i, out := range outcomes {
		// A degraded page keeps its rule-based contacts; only a hard
		// failure leaves the result empty.
		pageErr := out.Err
		if pageErr == nil {
			pageErr = out.Value.Degraded
		}
		if pageErr != nil {
			o.appendError(ctx, h, model.SearchError{
				Stage:      model.StageContactExtraction,
				Source:     st.results[i].URL,
				Message:    pageErr.Error(),
				OccurredAt: now,
			})
		}
		st.results[i].Contacts = out.Value.Contacts
		st.metrics.Contacts.Extracted += len(out.Value.Contacts)
	}

	// Re-save so persisted payloads carry the extracted contacts.
	if err := o.store.SaveResults(ctx, h.id(), st.results); err != nil {
		zap.L().Warn("orchestrator: save results", zap.String("search_id", h.id()), zap.Error(err))
	}
	h.setResults(st.results)
	return nil
}

func (o *Orchestrator) stageResultAggregation(ctx context.Context, h *jobHandle, st *runState) error {
	var all []model.ExtractedContact
	for _, r := range st.results {
		all = append(all, r.Contacts...)
	}

	res := o.deduper.Dedupe(all)
	st.contacts = res.Unique
	st.groups = res.Groups
	st.metrics.Contacts.Unique = len(res.Unique)
	st.metrics.Contacts.Duplicates = res.DuplicateCount()
	st.metrics.Contacts.Groups = len(res.Groups)

	if len(res.Unique) > 0 {
		if err := o.store.SaveContacts(ctx, h.id(), res.Unique); err != nil {
			zap.L().Warn("orchestrator: save contacts", zap.String("search_id", h.id()), zap.Error(err))
		}
	}
	if len(res.Groups) > 0 {
		if err := o.store.SaveDuplicateGroups(ctx, h.id(), res.Groups); err != nil {
			zap.L().Warn("orchestrator: save duplicate groups", zap.String("search_id", h.id()), zap.Error(err))
		}
	}
	return nil
}

// authorityScore is a coarse domain heuristic. Institutional TLDs and
// apex domains rank above deep subdomains.
func authorityScore(domain string) float64 {
	score := 0.4
	switch {
	case strings.HasSuffix(domain, ".gov"), strings.HasSuffix(domain, ".edu"):
		score += 0.4
	case strings.HasSuffix(domain, ".org"):
		score += 0.2
	}
	if strings.Count(domain, ".") == 1 {
		score += 0.1
	}
	if score > 1 {
		score = 1
	}
	return score
}
