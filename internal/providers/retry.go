package providers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

// HTTPError is a non-2xx response from a provider.
type HTTPError struct {
	Status     int
	Body       string
	RetryAfter time.Duration // zero when the header was absent
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

// Retryable reports whether the status is worth another attempt.
func (e *HTTPError) Retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// RetryConfig bounds RetryDo.
type RetryConfig struct {
	Attempts int           // total attempts, including the first
	MinDelay time.Duration // first backoff
	MaxDelay time.Duration // backoff cap
}

// DefaultRetryConfig retries twice with 500ms doubling backoff.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{Attempts: 3, MinDelay: 500 * time.Millisecond, MaxDelay: 10 * time.Second}
}

// RetryDo calls fn until it succeeds, returns a non-retryable error, the
// attempts run out or ctx is done. Only *HTTPError values with 429 or 5xx
// status are retried; a Retry-After hint replaces the computed backoff.
func RetryDo[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	var zero T
	attempts := max(cfg.Attempts, 1)
	delay := cfg.MinDelay

	var lastErr error
	for i := 0; i < attempts; i++ {
		v, err := fn()
		if err == nil {
			return v, nil
		}
		lastErr = err

		var he *HTTPError
		if !errors.As(err, &he) || !he.Retryable() || i == attempts-1 {
			break
		}

		wait := delay
		if he.RetryAfter > 0 {
			wait = he.RetryAfter
		}
		if cfg.MaxDelay > 0 && wait > cfg.MaxDelay {
			wait = cfg.MaxDelay
		}
		slog.Debug("provider: retrying", "status", he.Status, "attempt", i+1, "wait", wait)

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return zero, ctx.Err()
		case <-t.C:
		}
		delay *= 2
	}
	return zero, lastErr
}

// ParseRetryAfter parses a Retry-After header given in seconds or as an
// HTTP date. It returns zero when the value is empty or unparseable.
func ParseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
