package scrape

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	htmlmd "github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	readability "github.com/go-shiori/go-readability"
	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

const (
	localUserAgent = "Mozilla/5.0 (compatible; MediaScoutBot/1.0)"
	maxBodyBytes   = 1 << 20
)

// LocalScraper fetches HTML via net/http, detects blocks, extracts the
// readable article, and converts it to markdown. Free, no API calls, so
// it runs first in the chain. A per-host limiter keeps it polite even
// when the domain throttler upstream allows a burst.
type LocalScraper struct {
	client    *http.Client
	converter *htmlmd.Converter

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	hostRate rate.Limit
}

// NewLocalScraper creates a LocalScraper pacing each host to one request
// per second.
func NewLocalScraper() *LocalScraper {
	return &LocalScraper{
		client: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: 10 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		converter: htmlmd.NewConverter(
			htmlmd.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
			),
		),
		limiters: make(map[string]*rate.Limiter),
		hostRate: rate.Every(time.Second),
	}
}

func (l *LocalScraper) Name() string           { return "local_http" }
func (l *LocalScraper) Supports(_ string) bool { return true }

// Scrape fetches a URL, detects blocks, and reduces the page to readable
// markdown.
func (l *LocalScraper) Scrape(ctx context.Context, targetURL string) (*Result, error) {
	parsed, err := url.Parse(targetURL)
	if err != nil {
		return nil, eris.Wrap(err, "local_http: parse url")
	}
	if err := l.limiter(parsed.Host).Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "local_http: rate wait")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "local_http: create request")
	}
	req.Header.Set("User-Agent", localUserAgent)

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "local_http: fetch")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, eris.Wrap(err, "local_http: read body")
	}

	if blocked, blockType := DetectBlock(resp, body); blocked {
		return nil, eris.Errorf("local_http: blocked (%s)", blockType)
	}
	if resp.StatusCode >= 400 {
		return nil, eris.Errorf("local_http: status %d", resp.StatusCode)
	}
	if len(body) < 100 {
		return nil, eris.New("local_http: empty page")
	}

	title, markdown, err := l.toMarkdown(body, parsed)
	if err != nil {
		return nil, err
	}

	return &Result{
		Page: Page{
			URL:        targetURL,
			Title:      title,
			Markdown:   markdown,
			StatusCode: resp.StatusCode,
		},
		Source: "local_http",
	}, nil
}

// toMarkdown runs readability extraction and converts the article HTML to
// markdown. Pages readability cannot handle fall back to converting the
// raw body.
func (l *LocalScraper) toMarkdown(body []byte, pageURL *url.URL) (title, markdown string, err error) {
	html := string(body)
	if article, rerr := readability.FromReader(bytes.NewReader(body), pageURL); rerr == nil {
		title = article.Title
		if strings.TrimSpace(article.Content) != "" {
			html = article.Content
		}
	}

	markdown, err = l.converter.ConvertString(html, htmlmd.WithDomain(pageURL.String()))
	if err != nil {
		return "", "", eris.Wrap(err, "local_http: convert to markdown")
	}
	markdown = strings.TrimSpace(markdown)
	if markdown == "" {
		return "", "", eris.New("local_http: no readable content")
	}
	return title, markdown, nil
}

func (l *LocalScraper) limiter(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[host]
	if !ok {
		lim = rate.NewLimiter(l.hostRate, 1)
		l.limiters[host] = lim
	}
	return lim
}
