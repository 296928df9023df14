// Package resilience provides retry, circuit breaker, and error
// classification for external service calls.
package resilience

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"
)

// Category buckets an error for retry and recovery decisions. The category
// is fixed at classification time and not overridden per call site.
type Category string

const (
	CategoryDatabaseConnection Category = "database_connection"
	CategoryDatabaseTimeout    Category = "database_timeout"
	CategoryNetwork            Category = "network"
	CategoryAuthentication     Category = "authentication"
	CategoryAuthorization      Category = "authorization"
	CategoryRateLimit          Category = "rate_limit"
	CategoryValidation         Category = "validation"
	CategoryApplication        Category = "application"
)

// Recovery names the strategy a caller should apply for a failed call.
type Recovery string

const (
	RecoveryRetryBackoff Recovery = "retry_with_backoff"
	RecoveryUserAction   Recovery = "user_action_required"
)

// Error is a classified error carrying retryability and recovery metadata.
// Callers inspect these fields instead of matching message substrings.
type Error struct {
	Err        error
	Category   Category
	StatusCode int
	Retryable  bool
	Recovery   Recovery
}

func (e *Error) Error() string {
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// categoryDefaults maps each category to its fixed retryability and
// recovery strategy.
var categoryDefaults = map[Category]struct {
	retryable bool
	recovery  Recovery
}{
	CategoryDatabaseConnection: {true, RecoveryRetryBackoff},
	CategoryDatabaseTimeout:    {true, RecoveryRetryBackoff},
	CategoryNetwork:            {true, RecoveryRetryBackoff},
	CategoryAuthentication:     {false, RecoveryUserAction},
	CategoryAuthorization:      {false, RecoveryUserAction},
	CategoryRateLimit:          {true, RecoveryRetryBackoff},
	CategoryValidation:         {false, RecoveryUserAction},
	CategoryApplication:        {true, RecoveryRetryBackoff},
}

// NewError wraps err under the given category with that category's fixed
// retryability and recovery strategy.
func NewError(err error, category Category, statusCode int) *Error {
	d := categoryDefaults[category]
	return &Error{
		Err:        err,
		Category:   category,
		StatusCode: statusCode,
		Retryable:  d.retryable,
		Recovery:   d.recovery,
	}
}

// Classify assigns a category to an arbitrary error. Already-classified
// errors keep their original category. Message heuristics are the fallback
// for errors from clients that don't attach a status code.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var re *Error
	if errors.As(err, &re) {
		return re
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return NewError(err, CategoryNetwork, 0)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewError(err, CategoryNetwork, 0)
	}
	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return NewError(err, CategoryNetwork, 0)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "unauthorized", "invalid api key", "401"):
		return NewError(err, CategoryAuthentication, 401)
	case containsAny(msg, "forbidden", "403"):
		return NewError(err, CategoryAuthorization, 403)
	case containsAny(msg, "rate limit", "too many requests", "429"):
		return NewError(err, CategoryRateLimit, 429)
	case containsAny(msg, "not found", "404", "bad request", "400", "unprocessable", "422"):
		return NewError(err, CategoryValidation, 404)
	case containsAny(msg, "connection pool exhausted", "too many connections"):
		return NewError(err, CategoryDatabaseConnection, 0)
	case containsAny(msg, "timeout", "timed out", "deadline exceeded", "econnrefused", "econnreset", "no such host", "connection refused", "overloaded", "500", "502", "503", "504"):
		return NewError(err, CategoryNetwork, 0)
	default:
		// Unknown errors default to the retryable application bucket.
		return NewError(err, CategoryApplication, 0)
	}
}

// IsRetryable reports whether an error should be retried. Explicit HTTP
// status codes win: 429 and 408 retry, any other 4xx never retries. An
// open circuit is never retried; the breaker controls when the service
// may be tried again.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrCircuitOpen) {
		return false
	}
	c := Classify(err)
	if c.StatusCode >= 400 && c.StatusCode < 500 && c.StatusCode != 429 && c.StatusCode != 408 {
		return false
	}
	return c.Retryable
}

// IsTransient reports whether the error is a low-level transient network
// failure, independent of classification. Kept for callers that want the
// narrower check.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	msg := strings.ToLower(err.Error())
	return containsAny(msg,
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
		"transport connection broken",
	)
}

// IsTransientHTTPStatus reports whether an HTTP status code indicates a
// server-side issue that is safe to retry.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
