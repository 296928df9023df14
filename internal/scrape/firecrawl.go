package scrape

import (
	"context"
	"time"

	"github.com/sells-group/mediascout/internal/resilience"
	"github.com/sells-group/mediascout/pkg/firecrawl"
)

// FirecrawlAdapter wraps a Firecrawl client as the paid last-resort
// scraper in the chain. A circuit breaker keeps a failing upstream from
// burning credits on every page.
type FirecrawlAdapter struct {
	client  firecrawl.Client
	breaker *resilience.CircuitBreaker
}

// NewFirecrawlAdapter creates a FirecrawlAdapter. Three consecutive
// failures open the circuit for a minute.
func NewFirecrawlAdapter(client firecrawl.Client) *FirecrawlAdapter {
	return &FirecrawlAdapter{
		client: client,
		breaker: resilience.NewCircuitBreaker("firecrawl", resilience.CircuitBreakerConfig{
			FailureThreshold: 3,
			ResetTimeout:     time.Minute,
			ShouldTrip:       func(error) bool { return true },
		}),
	}
}

// Name implements Scraper.
func (f *FirecrawlAdapter) Name() string { return "firecrawl" }

// Supports returns true unless the circuit breaker is open; Firecrawl
// can otherwise attempt any URL as a fallback.
func (f *FirecrawlAdapter) Supports(_ string) bool {
	return f.breaker.State() != resilience.CircuitOpen
}

// Scrape fetches a single URL via Firecrawl's scrape API.
func (f *FirecrawlAdapter) Scrape(ctx context.Context, targetURL string) (*Result, error) {
	resp, err := resilience.ExecuteVal(ctx, f.breaker, func(ctx context.Context) (*firecrawl.ScrapeResponse, error) {
		return f.client.Scrape(ctx, firecrawl.ScrapeRequest{
			URL:     targetURL,
			Formats: []string{"markdown"},
		})
	})
	if err != nil {
		return nil, err
	}
	return &Result{
		Page: Page{
			URL:        resp.Data.Metadata.SourceURL,
			Title:      resp.Data.Metadata.Title,
			Markdown:   resp.Data.Markdown,
			StatusCode: resp.Data.Metadata.StatusCode,
		},
		Source: "firecrawl",
	}, nil
}
