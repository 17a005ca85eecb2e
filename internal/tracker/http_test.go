package tracker

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

func newTestRequester(t *testing.T) *Requester {
	t.Helper()
	log, _ := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	r := NewRequester(&Config{MaxElapsed: 200 * time.Millisecond, Timeout: time.Second}, log)
	r.InitialInterval = 5 * time.Millisecond
	return r
}

func TestRequesterGetJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "token abc" {
			t.Errorf("Authorization = %q, want %q", got, "token abc")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"name":"issuesync"}`))
	}))
	defer server.Close()

	r := newTestRequester(t)
	r.Authorize = func(req *http.Request) { req.Header.Set("Authorization", "token abc") }

	var out struct {
		Name string `json:"name"`
	}
	if _, err := r.GetJSON(context.Background(), server.URL, &out); err != nil {
		t.Fatalf("GetJSON() error = %v", err)
	}
	if out.Name != "issuesync" {
		t.Errorf("Name = %q, want %q", out.Name, "issuesync")
	}
}

func TestRequesterRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	r := newTestRequester(t)
	r.MaxElapsed = 5 * time.Second
	if _, _, err := r.Get(context.Background(), server.URL); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("calls = %d, want 3", got)
	}
}

func TestRequesterUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, _, err := newTestRequester(t).Get(context.Background(), server.URL)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Get() error = %v, want ErrUnavailable", err)
	}
	var ue *UnavailableError
	if !errors.As(err, &ue) || ue.URL != server.URL {
		t.Errorf("expected *UnavailableError for %s, got %v", server.URL, err)
	}
}

func TestRequesterPermanentErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"not found", http.StatusNotFound, ErrNotFound},
		{"unauthorized", http.StatusUnauthorized, ErrAuth},
		{"forbidden", http.StatusForbidden, ErrAuth},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			_, _, err := newTestRequester(t).Get(context.Background(), server.URL)
			if !errors.Is(err, tt.want) {
				t.Errorf("Get() error = %v, want %v", err, tt.want)
			}
			if calls.Load() != 1 {
				t.Errorf("calls = %d, want 1 (no retry)", calls.Load())
			}
		})
	}
}

func TestRequesterRateLimit(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(now.Add(30*time.Second).Unix(), 10))
			w.WriteHeader(http.StatusForbidden)
			return
		}
		_, _ = w.Write([]byte(`[]`))
	}))
	defer server.Close()

	r := newTestRequester(t)
	r.now = func() time.Time { return now }
	var slept []time.Duration
	r.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	if _, _, err := r.Get(context.Background(), server.URL); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(slept) != 1 || slept[0] != 40*time.Second {
		t.Errorf("slept = %v, want [40s]", slept)
	}
}

func TestRequesterRateLimitOnlyRetriedOnce(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "1")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	r := newTestRequester(t)
	r.sleep = func(context.Context, time.Duration) error { return nil }

	_, _, err := r.Get(context.Background(), server.URL)
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("Get() error = %v, want ErrUnavailable", err)
	}
}

func TestRequesterSleepsWhenWindowExhausted(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Remaining", "1")
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(now.Add(5*time.Second).Unix(), 10))
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	r := newTestRequester(t)
	r.now = func() time.Time { return now }
	var slept time.Duration
	r.sleep = func(_ context.Context, d time.Duration) error {
		slept += d
		return nil
	}
	if _, _, err := r.Get(context.Background(), server.URL); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if slept != 15*time.Second {
		t.Errorf("slept = %v, want 15s", slept)
	}
}

func TestRequesterHonorsCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := newTestRequester(t)
	r.MaxElapsed = time.Minute
	if _, _, err := r.Get(ctx, server.URL); !errors.Is(err, context.Canceled) {
		t.Errorf("Get() error = %v, want context.Canceled", err)
	}
}
