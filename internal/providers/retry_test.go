package providers

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"
)

func fastRetry() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
	}
}

func TestRetryDoSucceedsAfterTransientFailure(t *testing.T) {
	calls := 0
	got, err := RetryDo(context.Background(), fastRetry(), func() (string, error) {
		calls++
		if calls < 3 {
			return "", &HTTPError{StatusCode: http.StatusServiceUnavailable}
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if got != "ok" || calls != 3 {
		t.Errorf("got %q after %d calls", got, calls)
	}
}

func TestRetryDoStopsOnPermanentError(t *testing.T) {
	calls := 0
	_, err := RetryDo(context.Background(), fastRetry(), func() (string, error) {
		calls++
		return "", &HTTPError{StatusCode: http.StatusUnauthorized, Body: "bad key"}
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no retry on 401)", calls)
	}
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("err = %v", err)
	}
}

func TestRetryDoExhaustsAttempts(t *testing.T) {
	calls := 0
	_, err := RetryDo(context.Background(), fastRetry(), func() (int, error) {
		calls++
		return 0, &HTTPError{StatusCode: http.StatusTooManyRequests}
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryDoRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := RetryConfig{MaxAttempts: 5, BaseDelay: time.Minute, MaxDelay: time.Hour}
	calls := 0
	_, err := RetryDo(ctx, cfg, func() (int, error) {
		calls++
		return 0, &HTTPError{StatusCode: http.StatusInternalServerError}
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no backoff wait after cancel)", calls)
	}
}

func TestHTTPErrorRetryable(t *testing.T) {
	tests := []struct {
		status int
		want   bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusRequestTimeout, true},
		{http.StatusInternalServerError, true},
		{http.StatusBadGateway, true},
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
		{http.StatusNotFound, false},
	}
	for _, tt := range tests {
		e := &HTTPError{StatusCode: tt.status}
		if got := e.Retryable(); got != tt.want {
			t.Errorf("Retryable(%d) = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestParseRetryAfter(t *testing.T) {
	if got := parseRetryAfter("7"); got != 7*time.Second {
		t.Errorf("parseRetryAfter(7) = %v", got)
	}
	if got := parseRetryAfter(""); got != 0 {
		t.Errorf("parseRetryAfter(empty) = %v", got)
	}
	if got := parseRetryAfter("soon"); got != 0 {
		t.Errorf("parseRetryAfter(garbage) = %v", got)
	}
}
