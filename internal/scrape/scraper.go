package scrape

import "context"

// Page is one fetched document, normalized to markdown.
type Page struct {
	URL        string
	Title      string
	Markdown   string
	StatusCode int
}

// Result holds a scraped page with the provider that produced it.
type Result struct {
	Page   Page
	Source string // e.g. "jina", "local_http", "firecrawl"
}

// Scraper fetches a single URL and returns its content.
type Scraper interface {
	Scrape(ctx context.Context, url string) (*Result, error)
	Name() string
	Supports(url string) bool
}
