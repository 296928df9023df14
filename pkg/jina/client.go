// Package jina provides clients for the Jina AI Search and Reader APIs.
package jina

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
)

const (
	defaultReadBaseURL   = "https://r.jina.ai"
	defaultSearchBaseURL = "https://s.jina.ai"
)

// Client performs Jina Search and Reader operations.
type Client interface {
	Search(ctx context.Context, query string, maxResults int) (*SearchResponse, error)
	Read(ctx context.Context, targetURL string) (*ReadResponse, error)
}

// SearchResponse is the response from s.jina.ai.
type SearchResponse struct {
	Code int         `json:"code"`
	Data []SearchHit `json:"data"`
}

// SearchHit is one search result.
type SearchHit struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Content     string `json:"content"`
}

// ReadResponse is the response from r.jina.ai.
type ReadResponse struct {
	Code int      `json:"code"`
	Data ReadData `json:"data"`
}

// ReadData holds the scraped page.
type ReadData struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Option configures the client.
type Option func(*httpClient)

// WithReadBaseURL overrides the Reader base URL.
func WithReadBaseURL(u string) Option {
	return func(c *httpClient) { c.readBaseURL = u }
}

// WithSearchBaseURL overrides the Search base URL.
func WithSearchBaseURL(u string) Option {
	return func(c *httpClient) { c.searchBaseURL = u }
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.http = hc }
}

type httpClient struct {
	apiKey        string
	readBaseURL   string
	searchBaseURL string
	http          *http.Client
}

// NewClient creates a Jina client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:        apiKey,
		readBaseURL:   defaultReadBaseURL,
		searchBaseURL: defaultSearchBaseURL,
		http: &http.Client{
			Timeout: 45 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) Search(ctx context.Context, query string, maxResults int) (*SearchResponse, error) {
	endpoint := c.searchBaseURL + "/?q=" + url.QueryEscape(query)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, eris.Wrap(err, "jina: create search request")
	}
	c.setHeaders(req)

	var result SearchResponse
	if err := c.do(req, &result); err != nil {
		return nil, eris.Wrapf(err, "jina: search %q", query)
	}

	if maxResults > 0 && len(result.Data) > maxResults {
		result.Data = result.Data[:maxResults]
	}
	return &result, nil
}

func (c *httpClient) Read(ctx context.Context, targetURL string) (*ReadResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.readBaseURL+"/"+targetURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "jina: create read request")
	}
	c.setHeaders(req)

	var result ReadResponse
	if err := c.do(req, &result); err != nil {
		return nil, eris.Wrapf(err, "jina: read %s", targetURL)
	}
	return &result, nil
}

func (c *httpClient) setHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

func (c *httpClient) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "read response")
	}

	if resp.StatusCode != http.StatusOK {
		return eris.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return eris.Wrap(err, "unmarshal response")
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
