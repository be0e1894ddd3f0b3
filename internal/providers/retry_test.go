package providers

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"
)

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"", 0},
		{"3", 3 * time.Second},
		{"-1", 0},
		{"soon", 0},
	}
	for _, tt := range tests {
		if got := ParseRetryAfter(tt.in); got != tt.want {
			t.Errorf("ParseRetryAfter(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}

	future := time.Now().Add(time.Minute).UTC().Format(http.TimeFormat)
	if got := ParseRetryAfter(future); got <= 0 || got > time.Minute {
		t.Errorf("ParseRetryAfter(date) = %v", got)
	}
}

// TestRetryDo_StopsOnPlainError verifies only HTTP errors are retried.
func TestRetryDo_StopsOnPlainError(t *testing.T) {
	calls := 0
	boom := errors.New("boom")
	_, err := RetryDo(context.Background(), RetryConfig{Attempts: 5, MinDelay: time.Millisecond}, func() (int, error) {
		calls++
		return 0, boom
	})
	if !errors.Is(err, boom) || calls != 1 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}
}

func TestRetryDo_SucceedsAfterRetry(t *testing.T) {
	calls := 0
	v, err := RetryDo(context.Background(), RetryConfig{Attempts: 3, MinDelay: time.Millisecond}, func() (string, error) {
		calls++
		if calls < 2 {
			return "", &HTTPError{Status: http.StatusTooManyRequests}
		}
		return "ok", nil
	})
	if err != nil || v != "ok" || calls != 2 {
		t.Fatalf("v=%q err=%v calls=%d", v, err, calls)
	}
}

// TestRetryDo_ContextCancelled verifies a cancelled context ends the backoff wait.
func TestRetryDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := RetryDo(ctx, RetryConfig{Attempts: 3, MinDelay: time.Hour}, func() (int, error) {
		return 0, &HTTPError{Status: http.StatusBadGateway}
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
