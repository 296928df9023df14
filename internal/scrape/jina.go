package scrape

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/mediascout/internal/resilience"
	"github.com/sells-group/mediascout/pkg/jina"
)

// JinaAdapter wraps the Jina Reader client as a Scraper. A circuit
// breaker skips the upstream after repeated failures so the chain falls
// through to the next provider immediately.
type JinaAdapter struct {
	client  jina.Client
	breaker *resilience.CircuitBreaker
}

// NewJinaAdapter creates a JinaAdapter. Three consecutive failures open
// the circuit for a minute.
func NewJinaAdapter(client jina.Client) *JinaAdapter {
	return &JinaAdapter{
		client: client,
		breaker: resilience.NewCircuitBreaker("jina_reader", resilience.CircuitBreakerConfig{
			FailureThreshold: 3,
			ResetTimeout:     time.Minute,
			// Unusable content counts as a failure here, not just
			// transport errors.
			ShouldTrip: func(error) bool { return true },
		}),
	}
}

func (j *JinaAdapter) Name() string { return "jina" }

// Supports returns true unless the circuit breaker is open.
func (j *JinaAdapter) Supports(_ string) bool {
	return j.breaker.State() != resilience.CircuitOpen
}

// Scrape fetches a URL via Jina Reader and validates the response.
func (j *JinaAdapter) Scrape(ctx context.Context, targetURL string) (*Result, error) {
	resp, err := resilience.ExecuteVal(ctx, j.breaker, func(ctx context.Context) (*jina.ReadResponse, error) {
		resp, err := j.client.Read(ctx, targetURL)
		if err != nil {
			return nil, err
		}
		if reason := unusableReason(resp); reason != "" {
			return nil, eris.Errorf("jina: %s", reason)
		}
		return resp, nil
	})
	if err != nil {
		return nil, err
	}

	return &Result{
		Page: Page{
			URL:        resp.Data.URL,
			Title:      resp.Data.Title,
			Markdown:   resp.Data.Content,
			StatusCode: resp.Code,
		},
		Source: "jina",
	}, nil
}

// challengeSignatures mark anti-bot interstitials that Jina passes
// through verbatim instead of the real page.
var challengeSignatures = []string{
	"checking your browser",
	"enable javascript",
	"please enable cookies",
	"access denied",
	"403 forbidden",
	"just a moment",
	"cloudflare",
	"attention required",
}

// unusableReason reports why a Jina response should be retried with a
// different scraper, or "" if the content is usable.
func unusableReason(resp *jina.ReadResponse) string {
	if resp == nil {
		return "nil response"
	}
	if resp.Code != 0 && resp.Code != 200 {
		return "non-200 reader code"
	}

	content := strings.TrimSpace(resp.Data.Content)
	if len(content) < 100 {
		return "empty page"
	}

	lower := strings.ToLower(content)
	for _, sig := range challengeSignatures {
		if strings.Contains(lower, sig) && len(content) < 1000 {
			return "challenge page"
		}
	}
	return ""
}
