package scrape

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
)

type fakeScraper struct {
	name     string
	supports bool
	result   *Result
	err      error
	calls    atomic.Int32
}

func (f *fakeScraper) Name() string           { return f.name }
func (f *fakeScraper) Supports(_ string) bool { return f.supports }
func (f *fakeScraper) Scrape(_ context.Context, _ string) (*Result, error) {
	f.calls.Add(1)
	return f.result, f.err
}

func page(url string) *Result {
	return &Result{Page: Page{URL: url, Markdown: "# content", StatusCode: 200}, Source: "fake"}
}

func TestChain_FirstSuccessWins(t *testing.T) {
	first := &fakeScraper{name: "first", supports: true, result: page("https://a.test/x")}
	second := &fakeScraper{name: "second", supports: true, result: page("https://a.test/x")}
	c := NewChain(NewPathMatcher(nil), first, second)

	result, err := c.Scrape(context.Background(), "https://a.test/x")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Source != "fake" || first.calls.Load() != 1 {
		t.Errorf("first scraper should serve the request")
	}
	if second.calls.Load() != 0 {
		t.Errorf("second scraper must not run after a success")
	}
}

func TestChain_FallsThroughOnFailure(t *testing.T) {
	failing := &fakeScraper{name: "failing", supports: true, err: errors.New("boom")}
	backup := &fakeScraper{name: "backup", supports: true, result: page("https://a.test/x")}
	c := NewChain(NewPathMatcher(nil), failing, backup)

	result, err := c.Scrape(context.Background(), "https://a.test/x")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result == nil || backup.calls.Load() != 1 {
		t.Error("backup scraper should have served the request")
	}
}

func TestChain_SkipsUnsupported(t *testing.T) {
	closed := &fakeScraper{name: "closed", supports: false, result: page("https://a.test/x")}
	open := &fakeScraper{name: "open", supports: true, result: page("https://a.test/x")}
	c := NewChain(NewPathMatcher(nil), closed, open)

	if _, err := c.Scrape(context.Background(), "https://a.test/x"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if closed.calls.Load() != 0 {
		t.Error("unsupported scraper must be skipped without a call")
	}
}

func TestChain_AllFail(t *testing.T) {
	a := &fakeScraper{name: "a", supports: true, err: errors.New("boom a")}
	b := &fakeScraper{name: "b", supports: true, err: errors.New("boom b")}
	c := NewChain(NewPathMatcher(nil), a, b)

	if _, err := c.Scrape(context.Background(), "https://a.test/x"); err == nil {
		t.Fatal("expected error when every scraper fails")
	}
}

func TestChain_ExcludedURL(t *testing.T) {
	s := &fakeScraper{name: "s", supports: true, result: page("https://a.test/tag/politics")}
	c := NewChain(NewPathMatcher(nil), s)

	if _, err := c.Scrape(context.Background(), "https://a.test/tag/politics"); err == nil {
		t.Fatal("excluded url must not be scraped")
	}
	if s.calls.Load() != 0 {
		t.Error("no scraper should run for an excluded url")
	}
}

func TestChain_ScrapeAllSkipsFailures(t *testing.T) {
	s := &fakeScraper{name: "flaky", supports: true, err: errors.New("boom")}
	ok := &fakeScraper{name: "ok", supports: true, result: page("https://a.test/ok")}
	c := NewChain(NewPathMatcher(nil), s, ok)

	pages := c.ScrapeAll(context.Background(), []string{
		"https://a.test/staff",
		"https://a.test/about",
		"https://a.test/tag/excluded",
	}, 2)

	// Two fetchable URLs succeed via the backup, the excluded one is skipped.
	if len(pages) != 2 {
		t.Errorf("expected 2 pages, got %d", len(pages))
	}
}
