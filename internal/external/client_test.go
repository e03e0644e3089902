package external

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"adoptnotify/internal/types"
)

func noopSleep(context.Context, time.Duration) error { return nil }

func newTestBase(policy RetryPolicy) *BaseClient {
	return NewBaseClient(
		&http.Client{Timeout: 5 * time.Second},
		"test-breaker",
		policy,
		"AdoptNotify-Test/1.0",
		WithSleepFunc(noopSleep),
	)
}

func TestDo_Success(t *testing.T) {
	var gotUA, gotReqID string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotReqID = r.Header.Get("X-Request-Id")
		w.Write([]byte(`ok`))
	}))
	defer server.Close()

	ctx := types.WithRequestID(context.Background(), "req-1")
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, nil)

	resp, err := newTestBase(DefaultRetryPolicy()).Do(req)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if string(body) != "ok" {
		t.Errorf("unexpected body %q", body)
	}
	if gotUA != "AdoptNotify-Test/1.0" {
		t.Errorf("expected user agent to be set, got %q", gotUA)
	}
	if gotReqID != "req-1" {
		t.Errorf("expected request id to be propagated, got %q", gotReqID)
	}
}

func TestDo_RetriesServerErrorsAndReplaysBody(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if string(body) != "payload" {
			t.Errorf("attempt %d: body not replayed, got %q", calls.Load()+1, body)
		}
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	req, _ := http.NewRequest(http.MethodPost, server.URL, strings.NewReader("payload"))
	resp, err := newTestBase(RetryPolicy{MaxRetries: 3, MinWait: time.Millisecond, MaxWait: time.Millisecond}).Do(req)
	if err != nil {
		t.Fatalf("expected success after retries, got: %v", err)
	}
	resp.Body.Close()

	if calls.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestDo_ExhaustedRetriesMapToUpstreamUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)
	_, err := newTestBase(RetryPolicy{MaxRetries: 1, MinWait: time.Millisecond, MaxWait: time.Millisecond}).Do(req)
	if !types.HasCode(err, types.ErrCodeUpstreamUnavailable) {
		t.Fatalf("expected upstream_unavailable, got: %v", err)
	}
}

func TestDo_RateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "1")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	var waits []time.Duration
	base := NewBaseClient(http.DefaultClient, "rl", RetryPolicy{MaxRetries: 2, MinWait: time.Millisecond, MaxWait: 5 * time.Second}, "",
		WithSleepFunc(func(_ context.Context, d time.Duration) error {
			waits = append(waits, d)
			return nil
		}))

	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)
	_, err := base.Do(req)
	if !types.HasCode(err, types.ErrCodeUpstreamRateLimited) {
		t.Fatalf("expected upstream_rate_limited, got: %v", err)
	}
	if len(waits) != 2 || waits[0] != time.Second {
		t.Errorf("expected two Retry-After waits of 1s, got %v", waits)
	}
}

func TestDo_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)
	resp, err := newTestBase(DefaultRetryPolicy()).Do(req)
	if err != nil {
		t.Fatalf("expected response, got error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest || calls.Load() != 1 {
		t.Errorf("expected single 400 attempt, got status %d after %d calls", resp.StatusCode, calls.Load())
	}
}

func TestDo_TransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	req, _ := http.NewRequest(http.MethodGet, url, nil)
	_, err := newTestBase(RetryPolicy{MaxRetries: 0}).Do(req)
	if !types.HasCode(err, types.ErrCodeUpstreamUnavailable) {
		t.Fatalf("expected upstream_unavailable for transport failure, got: %v", err)
	}
}

func TestDo_RateLimitOnlySkipsTransportRetry(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	var sleeps int
	base := NewBaseClient(&http.Client{Timeout: time.Second}, "rate-limit-only",
		RetryPolicy{MaxRetries: 3, MinWait: time.Millisecond, MaxWait: time.Millisecond, RateLimitOnly: true}, "",
		WithSleepFunc(func(context.Context, time.Duration) error {
			sleeps++
			return nil
		}))

	req, _ := http.NewRequest(http.MethodPost, url, strings.NewReader("payload"))
	_, err := base.Do(req)
	if !types.HasCode(err, types.ErrCodeUpstreamUnavailable) {
		t.Fatalf("expected upstream_unavailable, got: %v", err)
	}
	if sleeps != 0 {
		t.Errorf("expected no retry after a transport error, got %d backoffs", sleeps)
	}
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	base := NewBaseClient(http.DefaultClient, "cancel", RetryPolicy{MaxRetries: 3, MinWait: time.Second, MaxWait: time.Second}, "",
		WithSleepFunc(func(context.Context, time.Duration) error { return context.Canceled }))

	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)
	_, err := base.Do(req)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected wrapped context.Canceled, got: %v", err)
	}
}

func TestDo_BreakerOpens(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	base := newTestBase(RetryPolicy{MaxRetries: 0})
	for i := 0; i < 10; i++ {
		req, _ := http.NewRequest(http.MethodGet, server.URL, nil)
		base.Do(req)
	}
	if calls.Load() != 6 {
		t.Errorf("expected breaker to open after 6 failures, server saw %d calls", calls.Load())
	}
}
