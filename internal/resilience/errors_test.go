package resilience

import (
	"context"
	"errors"
	"testing"
)

func TestClassify_Categories(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		category Category
	}{
		{"rate limit", errors.New("429 too many requests"), CategoryRateLimit},
		{"auth", errors.New("401 unauthorized"), CategoryAuthentication},
		{"forbidden", errors.New("403 forbidden"), CategoryAuthorization},
		{"validation", errors.New("404 not found"), CategoryValidation},
		{"network refused", errors.New("dial tcp: connection refused"), CategoryNetwork},
		{"server error", errors.New("upstream returned 503"), CategoryNetwork},
		{"unknown", errors.New("something odd happened"), CategoryApplication},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Classify(tc.err)
			if got.Category != tc.category {
				t.Errorf("expected %s, got %s", tc.category, got.Category)
			}
		})
	}
}

func TestClassify_PreservesExplicitError(t *testing.T) {
	orig := NewError(errors.New("custom"), CategoryDatabaseTimeout, 0)
	got := Classify(orig)
	if got != orig {
		t.Error("expected already-classified error to pass through")
	}
	if !got.Retryable || got.Recovery != RecoveryRetryBackoff {
		t.Errorf("database_timeout should be retryable with backoff, got %+v", got)
	}
}

func TestClassify_DeadlineExceeded(t *testing.T) {
	got := Classify(context.DeadlineExceeded)
	if got.Category != CategoryNetwork {
		t.Errorf("expected network category for deadline, got %s", got.Category)
	}
	if !got.Retryable {
		t.Error("stage timeouts must be retryable")
	}
}

func TestIsRetryable(t *testing.T) {
	if IsRetryable(nil) {
		t.Error("nil error is not retryable")
	}
	if IsRetryable(errors.New("400 bad request")) {
		t.Error("4xx other than 429 must not retry")
	}
	if !IsRetryable(errors.New("rate limit exceeded")) {
		t.Error("429 must retry")
	}
	if !IsRetryable(errors.New("i/o timeout")) {
		t.Error("timeouts must retry")
	}
	if !IsRetryable(errors.New("completely unknown failure")) {
		t.Error("unknown errors default to retryable")
	}
	if IsRetryable(ErrCircuitOpen) {
		t.Error("an open circuit must not be retried")
	}
}

func TestRecoveryStrategy_FixedPerCategory(t *testing.T) {
	if NewError(errors.New("x"), CategoryValidation, 422).Recovery != RecoveryUserAction {
		t.Error("validation requires user action")
	}
	if NewError(errors.New("x"), CategoryRateLimit, 429).Recovery != RecoveryRetryBackoff {
		t.Error("rate limit recovers with backoff")
	}
}

func TestIsTransientHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		if !IsTransientHTTPStatus(code) {
			t.Errorf("status %d should be transient", code)
		}
	}
	for _, code := range []int{200, 301, 400, 401, 403, 404} {
		if IsTransientHTTPStatus(code) {
			t.Errorf("status %d should not be transient", code)
		}
	}
}
