package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/mediascout/internal/dedupe"
	"github.com/sells-group/mediascout/internal/extract"
	"github.com/sells-group/mediascout/internal/orchestrator"
	"github.com/sells-group/mediascout/internal/query"
	"github.com/sells-group/mediascout/internal/scrape"
	"github.com/sells-group/mediascout/internal/store"
	"github.com/sells-group/mediascout/internal/throttle"
	anthropicpkg "github.com/sells-group/mediascout/pkg/anthropic"
	"github.com/sells-group/mediascout/pkg/firecrawl"
	"github.com/sells-group/mediascout/pkg/jina"
)

// appEnv holds the initialized store and orchestrator needed by the
// discover/serve commands.
type appEnv struct {
	Store        store.Store
	Orchestrator *orchestrator.Orchestrator
	Throttler    *throttle.Throttler
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initStore opens the configured database backend.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		if cfg.Store.DatabaseURL == "" {
			return nil, eris.New("store: database_url is required for the postgres driver")
		}
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	case "sqlite", "":
		return store.NewSQLite(cfg.Store.Path)
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Store.Driver)
	}
}

// initEnv sets up the store, API clients, and all pipeline stages, and
// builds the orchestrator. Callers should defer env.Close().
func initEnv(ctx context.Context) (*appEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	jinaClient := jina.NewClient(cfg.Jina.Key,
		jina.WithReadBaseURL(cfg.Jina.BaseURL),
		jina.WithSearchBaseURL(cfg.Jina.SearchBaseURL),
	)

	// Anthropic is optional. Without a key the generator skips query
	// enhancement and extraction falls back to rules only.
	var anthropicClient anthropicpkg.Client
	if cfg.Anthropic.Key != "" {
		anthropicClient = anthropicpkg.NewClient(cfg.Anthropic.Key)
	}

	var enhancer query.Enhancer
	if anthropicClient != nil && cfg.Query.EnableAIEnhancement {
		enhancer = query.NewAIEnhancer(anthropicClient, cfg.Anthropic.Model)
	}

	templates, err := loadTemplates()
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	generator := query.NewGenerator(templates, enhancer, query.Options{
		MaxQueries: cfg.Query.MaxQueries,
	})

	var ai *extract.AIBased
	if anthropicClient != nil {
		ai = extract.NewAIBased(anthropicClient, cfg.Anthropic.Model)
	}
	extractor := extract.New(ai, extract.Strategy(cfg.Extract.Strategy))

	chain := buildScrapeChain(jinaClient)
	deduper := dedupe.New(dedupe.Config{
		BioSimilarityThreshold: cfg.Dedupe.BioSimilarityThreshold,
	})
	throttler := throttle.New(cfg.Throttle.ToThrottle())

	orch := orchestrator.New(
		cfg.Orchestrator.ToOrchestrator(),
		st,
		generator,
		jinaClient,
		chain,
		extractor,
		deduper,
		throttler,
	)

	return &appEnv{Store: st, Orchestrator: orch, Throttler: throttler}, nil
}

func loadTemplates() ([]query.Template, error) {
	if cfg.Query.TemplatesPath != "" {
		return query.LoadTemplates(cfg.Query.TemplatesPath)
	}
	return query.DefaultTemplates()
}

// buildScrapeChain orders scrapers cheapest first. Firecrawl is a paid
// fallback and only joins the chain when a key is configured.
func buildScrapeChain(jinaClient jina.Client) *scrape.Chain {
	matcher := scrape.NewPathMatcher(cfg.Scrape.ExcludePaths)

	var scrapers []scrape.Scraper
	if cfg.Scrape.LocalFirst {
		scrapers = append(scrapers, scrape.NewLocalScraper())
	}
	scrapers = append(scrapers, scrape.NewJinaAdapter(jinaClient))
	if !cfg.Scrape.LocalFirst {
		scrapers = append(scrapers, scrape.NewLocalScraper())
	}
	if cfg.Firecrawl.Key != "" {
		fc := firecrawl.NewClient(cfg.Firecrawl.Key, firecrawl.WithBaseURL(cfg.Firecrawl.BaseURL))
		scrapers = append(scrapers, scrape.NewFirecrawlAdapter(fc))
	}

	return scrape.NewChain(matcher, scrapers...)
}
