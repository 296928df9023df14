// Package throttle enforces per-domain outbound request rates and applies
// circuit-breaking after repeated fetch failures. A single Throttler is
// shared by every search job in the process, so concurrent jobs hitting
// the same domain contend for one rate budget.
package throttle

import (
	"context"
	"math"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Config holds per-domain rate limits. Zero ceilings disable that window.
type Config struct {
	RequestsPerSecond int           `json:"requests_per_second"`
	RequestsPerMinute int           `json:"requests_per_minute"`
	RequestsPerHour   int           `json:"requests_per_hour"`
	MinDelay          time.Duration `json:"min_delay"`
	MaxDelay          time.Duration `json:"max_delay"`
	BackoffMultiplier float64       `json:"backoff_multiplier"`
	RespectCrawlDelay bool          `json:"respect_crawl_delay"`
}

// DefaultConfig returns conservative per-domain limits.
func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: 2,
		RequestsPerMinute: 30,
		RequestsPerHour:   500,
		MinDelay:          500 * time.Millisecond,
		MaxDelay:          30 * time.Second,
		BackoffMultiplier: 2.0,
		RespectCrawlDelay: true,
	}
}

func (c Config) withDefaults() Config {
	if c.MinDelay <= 0 {
		c.MinDelay = 500 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.BackoffMultiplier <= 0 {
		c.BackoffMultiplier = 2.0
	}
	return c
}

// Fixed deny delays per breached window.
const (
	secondWindowDelay = time.Second
	minuteWindowDelay = time.Minute
	hourWindowDelay   = time.Hour
)

// blockDuration is how long a domain stays blocked after repeated errors.
const blockDuration = 5 * time.Minute

// blockThreshold is the consecutive-error count that blocks a domain.
const blockThreshold = 5

// ErrorKind buckets a fetch failure for logging and state metadata. It
// does not change the backoff math.
type ErrorKind string

const (
	ErrorNetwork ErrorKind = "network"
	ErrorServer  ErrorKind = "server"
	ErrorBlocked ErrorKind = "blocked"
)

// ClassifyFetchError buckets an error by HTTP status, falling back to
// message heuristics for transport-level failures.
func ClassifyFetchError(err error, statusCode int) ErrorKind {
	switch {
	case statusCode >= 500:
		return ErrorServer
	case statusCode == 429 || statusCode == 403:
		return ErrorBlocked
	}
	if err != nil {
		msg := strings.ToLower(err.Error())
		if strings.Contains(msg, "403") || strings.Contains(msg, "429") || strings.Contains(msg, "forbidden") || strings.Contains(msg, "too many requests") {
			return ErrorBlocked
		}
		if strings.Contains(msg, "500") || strings.Contains(msg, "502") || strings.Contains(msg, "503") || strings.Contains(msg, "504") {
			return ErrorServer
		}
	}
	return ErrorNetwork
}

// Decision is the outcome of a throttle check.
type Decision struct {
	Allowed    bool
	Delay      time.Duration
	Reason     string
	RetryAfter time.Duration
}

// domainState is the mutable per-domain record. Counters never go negative
// and reset only via the lazy window pruning in Check.
type domainState struct {
	secondCount int
	secondStart time.Time
	minuteCount int
	minuteStart time.Time
	hourCount   int
	hourStart   time.Time

	lastRequest       time.Time
	nextAllowed       time.Time
	consecutiveErrors int
	lastErrorKind     ErrorKind
	blocked           bool
	blockUntil        time.Time
}

// Throttler tracks per-domain state. Safe for concurrent use.
type Throttler struct {
	cfg Config

	mu      sync.Mutex
	domains map[string]*domainState

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// New creates a Throttler with the given config.
func New(cfg Config) *Throttler {
	return &Throttler{
		cfg:     cfg.withDefaults(),
		domains: make(map[string]*domainState),
		nowFunc: time.Now,
	}
}

// Domain extracts the throttle key from a URL. Unparseable URLs throttle
// under their raw string so they still share one budget.
func Domain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return strings.ToLower(u.Host)
}

// Check decides whether a request to the URL's domain may proceed now.
// crawlDelay (from robots.txt, zero if unknown) raises the minimum
// inter-request delay when RespectCrawlDelay is set.
func (t *Throttler) Check(rawURL string, crawlDelay time.Duration) Decision {
	domain := Domain(rawURL)
	now := t.nowFunc()

	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.state(domain, now)

	if st.blocked {
		if now.Before(st.blockUntil) {
			return Decision{
				Allowed:    false,
				Reason:     "Domain temporarily blocked",
				RetryAfter: st.blockUntil.Sub(now),
			}
		}
		// Block window elapsed.
		st.blocked = false
		st.consecutiveErrors = 0
	}

	t.pruneWindows(st, now)

	// Post-error backoff set by RecordError; a success clears it.
	if st.consecutiveErrors > 0 && now.Before(st.nextAllowed) {
		return Decision{Allowed: false, Delay: st.nextAllowed.Sub(now), Reason: "Error backoff in effect"}
	}

	// Window ceilings, second and minute checked before hour.
	if t.cfg.RequestsPerSecond > 0 && st.secondCount >= t.cfg.RequestsPerSecond {
		return Decision{Allowed: false, Delay: secondWindowDelay, Reason: "Requests per second limit exceeded"}
	}
	if t.cfg.RequestsPerMinute > 0 && st.minuteCount >= t.cfg.RequestsPerMinute {
		return Decision{Allowed: false, Delay: minuteWindowDelay, Reason: "Requests per minute limit exceeded"}
	}
	if t.cfg.RequestsPerHour > 0 && st.hourCount >= t.cfg.RequestsPerHour {
		return Decision{Allowed: false, Delay: hourWindowDelay, Reason: "Requests per hour limit exceeded"}
	}

	minDelay := t.minInterRequestDelay(st, crawlDelay)
	if !st.lastRequest.IsZero() {
		elapsed := now.Sub(st.lastRequest)
		if elapsed < minDelay {
			return Decision{Allowed: false, Delay: minDelay - elapsed, Reason: "Minimum delay not elapsed"}
		}
	}

	return Decision{Allowed: true}
}

// RecordSuccess registers a completed request against the URL's domain.
func (t *Throttler) RecordSuccess(rawURL string) {
	domain := Domain(rawURL)
	now := t.nowFunc()

	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.state(domain, now)
	t.pruneWindows(st, now)

	st.lastRequest = now
	st.nextAllowed = now.Add(t.cfg.MinDelay)
	st.secondCount++
	st.minuteCount++
	st.hourCount++
	st.consecutiveErrors = 0
}

// RecordError registers a failed request. After blockThreshold consecutive
// errors the domain is blocked for blockDuration.
func (t *Throttler) RecordError(rawURL string, kind ErrorKind) {
	domain := Domain(rawURL)
	now := t.nowFunc()

	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.state(domain, now)
	st.consecutiveErrors++
	st.lastErrorKind = kind
	st.lastRequest = now

	backoff := t.errorBackoff(st.consecutiveErrors)
	st.nextAllowed = now.Add(backoff)

	if st.consecutiveErrors >= blockThreshold {
		st.blocked = true
		st.blockUntil = now.Add(blockDuration)
		zap.L().Warn("throttle: domain blocked",
			zap.String("domain", domain),
			zap.Int("consecutive_errors", st.consecutiveErrors),
			zap.String("error_kind", string(kind)),
			zap.Duration("block_for", blockDuration),
		)
	}
}

// Wait blocks until the URL's domain admits a request or the context is
// cancelled.
func (t *Throttler) Wait(ctx context.Context, rawURL string, crawlDelay time.Duration) error {
	for {
		d := t.Check(rawURL, crawlDelay)
		if d.Allowed {
			return nil
		}

		sleep := d.Delay
		if d.RetryAfter > 0 {
			sleep = d.RetryAfter
		}
		if sleep <= 0 {
			sleep = t.cfg.MinDelay
		}

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return eris.Wrapf(ctx.Err(), "throttle: wait for %s", Domain(rawURL))
		case <-timer.C:
		}
	}
}

// Execute waits for admission, runs fn, and routes the outcome into
// RecordSuccess or RecordError.
func (t *Throttler) Execute(ctx context.Context, rawURL string, crawlDelay time.Duration, fn func(ctx context.Context) error) error {
	if err := t.Wait(ctx, rawURL, crawlDelay); err != nil {
		return err
	}

	if err := fn(ctx); err != nil {
		t.RecordError(rawURL, ClassifyFetchError(err, 0))
		return err
	}
	t.RecordSuccess(rawURL)
	return nil
}

// Cleanup removes domain states untouched for over an hour that aren't
// currently blocked. Invoked by an external scheduler, never automatically.
// Returns the number of states removed.
func (t *Throttler) Cleanup() int {
	now := t.nowFunc()

	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for domain, st := range t.domains {
		if st.blocked && now.Before(st.blockUntil) {
			continue
		}
		if now.Sub(st.lastRequest) > time.Hour {
			delete(t.domains, domain)
			removed++
		}
	}
	return removed
}

// Snapshot reports per-domain counters for observability.
func (t *Throttler) Snapshot() map[string]DomainStatus {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]DomainStatus, len(t.domains))
	for domain, st := range t.domains {
		out[domain] = DomainStatus{
			SecondCount:       st.secondCount,
			MinuteCount:       st.minuteCount,
			HourCount:         st.hourCount,
			ConsecutiveErrors: st.consecutiveErrors,
			Blocked:           st.blocked,
			BlockUntil:        st.blockUntil,
			LastErrorKind:     st.lastErrorKind,
		}
	}
	return out
}

// DomainStatus is a read-only view of one domain's throttle state.
type DomainStatus struct {
	SecondCount       int       `json:"second_count"`
	MinuteCount       int       `json:"minute_count"`
	HourCount         int       `json:"hour_count"`
	ConsecutiveErrors int       `json:"consecutive_errors"`
	Blocked           bool      `json:"blocked"`
	BlockUntil        time.Time `json:"block_until,omitempty"`
	LastErrorKind     ErrorKind `json:"last_error_kind,omitempty"`
}

// state returns the domain's record, creating it lazily on first use.
// Caller holds t.mu.
func (t *Throttler) state(domain string, now time.Time) *domainState {
	st, ok := t.domains[domain]
	if !ok {
		st = &domainState{
			secondStart: now,
			minuteStart: now,
			hourStart:   now,
		}
		t.domains[domain] = st
	}
	return st
}

// pruneWindows resets each counter whose window has elapsed. Windows reset
// independently and only on demand. Caller holds t.mu.
func (t *Throttler) pruneWindows(st *domainState, now time.Time) {
	if now.Sub(st.secondStart) >= time.Second {
		st.secondCount = 0
		st.secondStart = now
	}
	if now.Sub(st.minuteStart) >= time.Minute {
		st.minuteCount = 0
		st.minuteStart = now
	}
	if now.Sub(st.hourStart) >= time.Hour {
		st.hourCount = 0
		st.hourStart = now
	}
}

// minInterRequestDelay computes the pacing delay for a domain: MinDelay,
// raised to the crawl delay when configured, scaled exponentially by
// consecutive errors and capped at MaxDelay.
func (t *Throttler) minInterRequestDelay(st *domainState, crawlDelay time.Duration) time.Duration {
	d := t.cfg.MinDelay
	if t.cfg.RespectCrawlDelay && crawlDelay > d {
		d = crawlDelay
	}
	if st.consecutiveErrors > 0 {
		scaled := float64(d) * math.Pow(t.cfg.BackoffMultiplier, float64(st.consecutiveErrors))
		if scaled > float64(t.cfg.MaxDelay) {
			scaled = float64(t.cfg.MaxDelay)
		}
		d = time.Duration(scaled)
	}
	return d
}

// errorBackoff is the post-error pacing delay: MinDelay scaled by
// BackoffMultiplier^(n-1), capped at MaxDelay.
func (t *Throttler) errorBackoff(consecutiveErrors int) time.Duration {
	d := float64(t.cfg.MinDelay) * math.Pow(t.cfg.BackoffMultiplier, float64(consecutiveErrors-1))
	if d > float64(t.cfg.MaxDelay) {
		d = float64(t.cfg.MaxDelay)
	}
	return time.Duration(d)
}
